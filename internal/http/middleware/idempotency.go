// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file extracts and validates the idempotency key of unsafe requests.
// The key may arrive as the idempotency_key form field (HTML forms) or in the
// Idempotency-Key header. A present but malformed key is rejected with 400
// before any handler runs. When a ReplayLookup is configured and the key
// already has a stored response, the request is marked as a replay so the
// rate limiter lets it through.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

const (
	// HeaderIdempotencyKey is the header form of the key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// FormIdempotencyKey is the form field form of the key; it wins over the header.
	FormIdempotencyKey = "idempotency_key"
)

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the validated key stashed by IdempotencyKey.
func GetIdempotencyKey(c *gin.Context) (domain.IdempotencyKey, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	k, ok := v.(domain.IdempotencyKey)
	return k, ok && k != ""
}

// IsReplay reports whether the key already has a stored response.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// ReplayLookup reports whether (userID, key) already has a completed
// response. Lookup errors are ignored; the request then runs through the
// normal path where the guard decides.
type ReplayLookup func(ctx context.Context, userID string, key domain.IdempotencyKey) (bool, error)

// IdempotencyKey validates the key of POST requests. Requests without a key
// pass through untouched; handlers that require one reject them.
func IdempotencyKey(lookup ReplayLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		raw := c.PostForm(FormIdempotencyKey)
		if raw == "" {
			raw = c.GetHeader(HeaderIdempotencyKey)
		}
		if raw == "" {
			c.Next()
			return
		}

		key, err := domain.ParseIdempotencyKey(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "invalid_idempotency_key",
				"message":    err.Error(),
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if uid := UserID(c); uid != "" {
				if done, _ := lookup(c.Request.Context(), uid, key); done {
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}
		c.Next()
	}
}
