// Package handlers provides the HTTP handlers of the admin API.
//
// Errors use the ErrorResponse envelope. The publish endpoint is the
// exception on success: it writes a stored domain.SavedResponse verbatim,
// so a replay is byte-identical to the first response.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"newsletter issue not found"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger; the message sent to the client stays generic.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// writeSaved writes resp exactly as stored: headers in order (repeated
// names kept), then status, then body.
func writeSaved(c *gin.Context, resp *domain.SavedResponse) {
	h := c.Writer.Header()
	for _, p := range resp.Headers {
		h.Del(p.Name)
	}
	for _, p := range resp.Headers {
		h.Add(p.Name, p.Value)
	}
	c.Writer.WriteHeader(resp.Status)
	_, _ = c.Writer.Write(resp.Body)
	c.Abort()
}
