// Package email sends newsletter emails through a Postmark-compatible REST
// API. The client posts one JSON message per recipient and classifies
// failures so the delivery worker knows whether a retry can succeed.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-newsletter-backend/internal/config"
	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// AuthHeader carries the server token on every request.
const AuthHeader = "X-Postmark-Server-Token"

// errBodyLimit caps how much of an error response is kept for logging.
const errBodyLimit = 512

// SendError is returned when the API answered with a non-2xx status or could
// not be reached (StatusCode 0).
type SendError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SendError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("email: transport error: %v", e.Err)
	case e.Body != "":
		return fmt.Sprintf("email: api returned %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("email: api returned %d", e.StatusCode)
	}
}

func (e *SendError) Unwrap() error { return e.Err }

// Permanent reports whether retrying the same message is pointless. Client
// errors are permanent except request timeouts and rate limiting.
func (e *SendError) Permanent() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	return e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

type sendRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL   string
	sender    domain.SubscriberEmail
	authToken string
	http      *http.Client
}

// NewClient builds a client from cfg. The sender address must be valid.
func NewClient(cfg config.EmailConfig) (*Client, error) {
	sender, err := domain.ParseSubscriberEmail(cfg.Sender)
	if err != nil {
		return nil, fmt.Errorf("email sender: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		sender:    sender,
		authToken: cfg.AuthToken,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

// SendEmail posts one message. A nil error means the API accepted it.
func (c *Client) SendEmail(ctx context.Context, to domain.SubscriberEmail, subject, htmlBody, textBody string) error {
	tr := otel.Tracer("email/Client")
	ctx, span := tr.Start(ctx, "SendEmail",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("email.recipient_domain", to.Domain())),
	)
	defer span.End()

	payload, err := json.Marshal(sendRequest{
		From:     c.sender.String(),
		To:       to.String(),
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(AuthHeader, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &SendError{Err: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
	serr := &SendError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		Err:        errors.New(http.StatusText(resp.StatusCode)),
	}
	span.SetStatus(codes.Error, serr.Error())
	return serr
}
