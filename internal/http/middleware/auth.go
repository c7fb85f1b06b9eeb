package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderUserID carries the authenticated admin identity, set by the
	// upstream gateway.
	HeaderUserID = "X-User-ID"

	ctxKeyUserID = "userID"
)

// RequireUser aborts with 401 unless the request carries a user identity,
// either already in the context or in the X-User-ID header.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := UserID(c)
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "missing user identity",
			})
			return
		}
		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}

// UserID returns the caller identity, or "" when the request is anonymous.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c.Request == nil {
		return ""
	}
	return strings.TrimSpace(c.GetHeader(HeaderUserID))
}
