// Package services – DeliveryWorker
//
// The worker drains the delivery_tasks queue. Each iteration claims one due
// task inside a transaction, sends the email, and either deletes the task
// (delivered, invalid recipient, permanent failure, retries exhausted) or
// stores it back with one more retry and a later execute_after. A crash or
// rollback before commit leaves the task untouched, so delivery is
// at-least-once.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// EmailSender delivers one email. Errors whose chain contains a value with a
// Permanent() bool method returning true are not retried.
type EmailSender interface {
	SendEmail(ctx context.Context, to domain.SubscriberEmail, subject, htmlBody, textBody string) error
}

// ExecutionOutcome is the result of one TryExecuteTask call.
type ExecutionOutcome int

const (
	OutcomeEmptyQueue ExecutionOutcome = iota
	OutcomeDelivered
	OutcomeRequeued
	OutcomeAbandoned
	OutcomeInvalidRecipient
)

func (o ExecutionOutcome) String() string {
	switch o {
	case OutcomeEmptyQueue:
		return "empty_queue"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRequeued:
		return "requeued"
	case OutcomeAbandoned:
		return "abandoned"
	case OutcomeInvalidRecipient:
		return "invalid_recipient"
	default:
		return "unknown"
	}
}

// DeliveryWorker sends queued newsletter emails.
type DeliveryWorker struct {
	db     *gorm.DB
	sender EmailSender

	maxRetries     int
	retryDelay     RetryDelayFunc
	pollInterval   time.Duration
	errorBackoff   time.Duration
	sendTimeout    time.Duration
	acquireTimeout time.Duration
	now            func() time.Time
	logger         zerolog.Logger
}

// WorkerOption configures a DeliveryWorker.
type WorkerOption func(*DeliveryWorker)

// WithMaxRetries sets how many times a transiently failing task is requeued
// before it is abandoned. Default is 3, i.e. at most 4 attempts.
func WithMaxRetries(n int) WorkerOption {
	return func(w *DeliveryWorker) {
		if n >= 0 {
			w.maxRetries = n
		}
	}
}

// WithRetryDelay sets the delay policy between attempts of the same task.
func WithRetryDelay(f RetryDelayFunc) WorkerOption {
	return func(w *DeliveryWorker) {
		if f != nil {
			w.retryDelay = f
		}
	}
}

// WithPollInterval sets the sleep after finding the queue empty. Default 10s.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *DeliveryWorker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithErrorBackoff sets the sleep after an infrastructure error. Default 1s.
func WithErrorBackoff(d time.Duration) WorkerOption {
	return func(w *DeliveryWorker) {
		if d > 0 {
			w.errorBackoff = d
		}
	}
}

// WithSendTimeout bounds a single email send. Default 10s.
func WithSendTimeout(d time.Duration) WorkerOption {
	return func(w *DeliveryWorker) {
		if d > 0 {
			w.sendTimeout = d
		}
	}
}

// WithAcquireTimeout bounds the wait for a pooled connection. Default 2s.
func WithAcquireTimeout(d time.Duration) WorkerOption {
	return func(w *DeliveryWorker) {
		if d > 0 {
			w.acquireTimeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *DeliveryWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithLogger sets the worker's logger. Default is the global zerolog logger.
func WithLogger(l zerolog.Logger) WorkerOption {
	return func(w *DeliveryWorker) { w.logger = l }
}

// NewDeliveryWorker returns a worker reading tasks from db and sending them
// through sender.
func NewDeliveryWorker(db *gorm.DB, sender EmailSender, opts ...WorkerOption) *DeliveryWorker {
	w := &DeliveryWorker{
		db:             db,
		sender:         sender,
		maxRetries:     3,
		retryDelay:     ExponentialRetryDelay(time.Second, time.Minute),
		pollInterval:   10 * time.Second,
		errorBackoff:   time.Second,
		sendTimeout:    10 * time.Second,
		acquireTimeout: 2 * time.Second,
		now:            time.Now,
		logger:         log.Logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().Str("component", "delivery_worker").Logger()
	return w
}

// Run executes tasks until ctx is done. It sleeps PollInterval when the
// queue is empty and ErrorBackoff after a failed iteration.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	w.logger.Info().Int("max_retries", w.maxRetries).Dur("poll_interval", w.pollInterval).Msg("delivery worker started")
	defer w.logger.Info().Msg("delivery worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		outcome, err := w.TryExecuteTask(ctx)

		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error().Err(err).Msg("delivery iteration failed")
			wait = w.errorBackoff
		case outcome == OutcomeEmptyQueue:
			wait = w.pollInterval
		default:
			continue
		}

		if !sleep(ctx, wait) {
			return nil
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// TryExecuteTask claims and processes at most one due task. The returned
// error is non-nil only for database failures; transport failures are
// reported through the outcome.
func (w *DeliveryWorker) TryExecuteTask(ctx context.Context) (ExecutionOutcome, error) {
	const op = "DeliveryWorker.TryExecuteTask"
	tr := otel.Tracer("services/DeliveryWorker")
	ctx, span := tr.Start(ctx, "TryExecuteTask")
	defer span.End()

	tx, err := repo.BeginTx(ctx, w.db, w.acquireTimeout)
	if err != nil {
		deliveryErrors.Inc()
		span.SetStatus(codes.Error, err.Error())
		return OutcomeEmptyQueue, newError(KindPersistence, op, err)
	}
	defer func() { _ = tx.Rollback() }()

	task, err := repo.ClaimDeliveryTask(ctx, tx.DB, w.now())
	if errors.Is(err, repo.ErrNotFound) {
		return OutcomeEmptyQueue, nil
	}
	if err != nil {
		deliveryErrors.Inc()
		span.SetStatus(codes.Error, err.Error())
		return OutcomeEmptyQueue, newError(KindPersistence, op, err)
	}
	span.SetAttributes(
		attribute.String("issue.id", task.IssueID),
		attribute.Int("delivery.n_retries", task.NRetries),
	)

	outcome, err := w.execute(ctx, tx.DB, *task)
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		deliveryErrors.Inc()
		span.SetStatus(codes.Error, err.Error())
		return OutcomeEmptyQueue, newError(KindPersistence, op, err)
	}

	span.SetAttributes(attribute.String("delivery.outcome", outcome.String()))
	deliveryOutcomes.WithLabelValues(outcome.String()).Inc()
	return outcome, nil
}

func (w *DeliveryWorker) execute(ctx context.Context, tx *gorm.DB, task domain.DeliveryTask) (ExecutionOutcome, error) {
	ev := func(e *zerolog.Event) *zerolog.Event {
		return e.Str("issue_id", task.IssueID).Int("n_retries", task.NRetries)
	}

	to, err := domain.ParseSubscriberEmail(task.RecipientEmail)
	if err != nil {
		ev(w.logger.Warn()).Str("recipient_domain", domain.SubscriberEmail(task.RecipientEmail).Domain()).
			Err(newError(KindPermanentDelivery, "parse recipient", err)).
			Msg("skipping a confirmed subscriber with an invalid email")
		return OutcomeInvalidRecipient, repo.DeleteDeliveryTask(ctx, tx, task.IssueID, task.RecipientEmail)
	}

	issue, err := repo.GetIssue(ctx, tx, task.IssueID)
	if err != nil {
		return OutcomeEmptyQueue, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	start := time.Now()
	sendErr := w.sender.SendEmail(sendCtx, to, issue.Title, issue.HTMLContent, issue.TextContent)
	deliverySendSeconds.Observe(time.Since(start).Seconds())
	cancel()

	if sendErr == nil {
		return OutcomeDelivered, repo.DeleteDeliveryTask(ctx, tx, task.IssueID, task.RecipientEmail)
	}

	if isPermanent(sendErr) {
		ev(w.logger.Error()).Str("recipient_domain", to.Domain()).
			Err(newError(KindPermanentDelivery, "send", sendErr)).
			Msg("email rejected permanently, dropping delivery")
		return OutcomeAbandoned, repo.DeleteDeliveryTask(ctx, tx, task.IssueID, task.RecipientEmail)
	}

	if task.NRetries >= w.maxRetries {
		ev(w.logger.Error()).Str("recipient_domain", to.Domain()).
			Err(newError(KindTransientDelivery, "send", sendErr)).
			Msg("retries exhausted, abandoning delivery")
		return OutcomeAbandoned, repo.DeleteDeliveryTask(ctx, tx, task.IssueID, task.RecipientEmail)
	}

	next := task.NextAttempt(w.now(), w.retryDelay(task.NRetries))
	ev(w.logger.Warn()).Str("recipient_domain", to.Domain()).Err(sendErr).
		Time("execute_after", next.ExecuteAfter).Msg("email send failed, requeued")
	return OutcomeRequeued, repo.UpdateDeliveryTask(ctx, tx, next)
}

func isPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}
