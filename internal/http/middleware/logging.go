// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides correlation IDs, the access log and panic recovery.
// The access log never records bodies; subscriber addresses and other
// identifiers are scrubbed from the query string and header values, and
// credential headers are masked entirely.
//
// Recommended order: RequestID, AccessLog, Recovery.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	maxQueryLogLength = 2048
)

var (
	uuidPattern  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+(@|%40)[a-z0-9.\-]+\.[a-z]{2,}`)
)

// RequestID reuses the caller's X-Request-ID or generates one, and echoes it
// on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// LogOptions configures AccessLog.
type LogOptions struct {
	// MaskHeaders are masked in addition to the credential headers and
	// Idempotency-Key.
	MaskHeaders []string
	// Logger is the base logger; the zero value uses the global logger.
	Logger *zerolog.Logger
}

// Scrub replaces identifiers and email addresses in s.
func Scrub(s string) string {
	if s == "" {
		return s
	}
	s = uuidPattern.ReplaceAllString(s, "[REDACTED:id]")
	return emailPattern.ReplaceAllString(s, "[REDACTED:email]")
}

// AccessLog attaches a request-scoped logger (see LoggerFrom) and writes one
// structured line per request: info for 2xx/3xx, warn for 4xx, error for
// 5xx or when handlers recorded gin errors.
func AccessLog(opts LogOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization":           {},
		"cookie":                  {},
		"set-cookie":              {},
		"x-postmark-server-token": {},
		"idempotency-key":         {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		base := log.Logger
		if opts.Logger != nil {
			base = *opts.Logger
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		rid, _ := c.Get(requestIDKey)
		rl := base.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &rl)

		headers := zerolog.Dict()
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers.Str(k, "[REDACTED]")
				continue
			}
			headers.Str(k, Scrub(strings.Join(vv, ", ")))
		}
		query := Scrub(truncate(c.Request.URL.RawQuery, maxQueryLogLength))

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0 || status >= http.StatusInternalServerError:
			ev = rl.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= http.StatusBadRequest:
			ev = rl.Warn()
		default:
			ev = rl.Info()
		}
		ev.Str("user_id", UserID(c)).
			Str("query", query).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Bool("replay", IsReplay(c)).
			Dur("latency", time.Since(start)).
			Dict("headers", headers).
			Msg("http_request")
	}
}

// Recovery turns a panic into a JSON 500 carrying the request id.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid, _ := c.Get(requestIDKey)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, asString(rid))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": asString(rid),
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the logger attached by AccessLog, or the global logger.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.Logger
	return &l
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
