// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements a process-local token-bucket limiter with one bucket
// per caller (user id, else client IP). Idle buckets are swept periodically.
// Requests that IdempotencyKey marked as replays are not limited: serving a
// stored response costs one read and retries must not be throttled into
// duplicates.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc maps a request to its bucket.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP buckets authenticated callers by user id and everyone else by IP.
func KeyByUserOrIP(c *gin.Context) string {
	if uid := UserID(c); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.ClientIP()
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	limit rate.Limit
	burst int
	key   KeyFunc

	mu        sync.Mutex
	buckets   map[string]*bucket
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter allows rps requests per second with the given burst per key.
// A nil key uses KeyByUserOrIP.
func NewRateLimiter(rps float64, burst int, key KeyFunc) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if key == nil {
		key = KeyByUserOrIP
	}
	return &RateLimiter{
		limit:     rate.Limit(rps),
		burst:     burst,
		key:       key,
		buckets:   make(map[string]*bucket),
		idleTTL:   10 * time.Minute,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (rl *RateLimiter) limiterFor(k string) *rate.Limiter {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		for name, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idleTTL {
				delete(rl.buckets, name)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[k]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[k] = b
	}
	b.lastSeen = now
	return b.limiter
}

// IsRateBypass reports whether the request skips rate limiting.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// Handler returns the limiting middleware. Rejected requests get 429 with a
// Retry-After of at least one second.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || rl.limiterFor(rl.key(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}

func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.limit <= 0 || rl.limit == rate.Inf {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/float64(rl.limit))))
}
