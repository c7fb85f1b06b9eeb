// Package httpapi wires the gin transport to the newsletter services.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. AccessLog (redacted)
//  4. Recovery
//  5. Body size limit
//  6. Metrics
//  7. CORS and security headers
//
// The admin group then adds RequireUser, the idempotency key check and the
// rate limiter, in that order, so replays are recognized before limiting.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-newsletter-backend/docs"
	"github.com/tbourn/go-newsletter-backend/internal/config"
	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/handlers"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

// RegisterRoutes attaches middleware and endpoints to r.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(middleware.LogOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.MaxBodyBytes))
	r.Use(middleware.Metrics())
	r.Use(corsMiddleware(cfg.CORS))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
		NoStore:    false,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	publisher := &services.PublishService{
		Guard: &services.IdempotencyGuard{
			DB:             db,
			AcquireTimeout: cfg.DB.AcquireTimeout,
			LockTimeout:    cfg.DB.LockTimeout,
		},
		Outbox: &services.OutboxWriter{Directory: services.SubscriptionDirectory{}},
	}
	issues := &services.IssueService{DB: db}

	base := cfg.AdminBasePath
	if base == "" || base == "/" {
		base = ""
	}
	h := handlers.New(publisher, issues, base+"/newsletters")
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP)

	admin := r.Group(base)
	admin.Use(
		middleware.RequireUser(),
		middleware.IdempotencyKey(savedResponseLookup(db)),
		rl.Handler(),
	)
	{
		admin.POST("/newsletters", h.PublishNewsletter)

		compressed := admin.Group("", gzip.Gzip(gzip.DefaultCompression))
		compressed.GET("/newsletters", h.ListNewsletters)
		compressed.GET("/newsletters/:id", h.GetNewsletterStatus)
	}
}

// savedResponseLookup reports whether a completed response is stored for
// the key. A pending placeholder is not a replay.
func savedResponseLookup(db *gorm.DB) middleware.ReplayLookup {
	return func(ctx context.Context, userID string, key domain.IdempotencyKey) (bool, error) {
		if _, err := repo.GetSavedResponse(ctx, db, userID, key); err != nil {
			return false, err
		}
		return true, nil
	}
}

func readiness(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			_ = c.Error(err)
			handlers.Fail(c, http.StatusServiceUnavailable, "not_ready", "database unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// corsMiddleware allows any origin when none are configured; credentials are
// never allowed.
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{"X-Request-ID", "Location", handlers.HeaderIssueID},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.AllowedOrigins
	}
	return cors.New(cc)
}

// limitBody caps request bodies at maxBytes; reads past it fail and form
// binding then reports a bad request.
func limitBody(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
