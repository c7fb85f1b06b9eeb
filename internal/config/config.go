// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database access, the email transport, the delivery worker and
// observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-newsletter-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DatabaseConfig selects the SQL dialect and bounds how long callers wait on
// the pool and on row locks.
type DatabaseConfig struct {
	Driver         string        // sqlite|postgres
	Path           string        // SQLite file path
	URL            string        // Postgres DSN
	MaxOpenConns   int           // pool size
	AcquireTimeout time.Duration // max wait for a pooled connection
	LockTimeout    time.Duration // max wait on a conflicting idempotency row (postgres)
}

// EmailConfig configures the HTTP email transport.
type EmailConfig struct {
	BaseURL   string
	Sender    string
	AuthToken string
	Timeout   time.Duration
}

// WorkerConfig configures the delivery worker loop and its retry policy.
type WorkerConfig struct {
	Count          int
	RetryPolicy    string        // exponential|fixed
	PollInterval   time.Duration // sleep when the queue is empty
	ErrorBackoff   time.Duration // sleep after an infrastructure error
	MaxRetries     int           // requeues before a task is abandoned
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	AdminBasePath  string // base path for admin routes

	DB     DatabaseConfig
	Email  EmailConfig
	Worker WorkerConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 1<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		AdminBasePath:  normalizeBasePath(getenv("ADMIN_BASE_PATH", "/admin")),

		DB: DatabaseConfig{
			Driver:         strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:           getenv("DB_PATH", "newsletter.db"),
			URL:            getenv("DATABASE_URL", ""),
			MaxOpenConns:   getint("DB_MAX_OPEN_CONNS", 10),
			AcquireTimeout: getdur("DB_ACQUIRE_TIMEOUT", 2*time.Second),
			LockTimeout:    getdur("DB_LOCK_TIMEOUT", 5*time.Second),
		},
		Email: EmailConfig{
			BaseURL:   strings.TrimRight(getenv("EMAIL_BASE_URL", "http://localhost:8025"), "/"),
			Sender:    getenv("EMAIL_SENDER", "newsletter@example.com"),
			AuthToken: getenv("EMAIL_AUTH_TOKEN", ""),
			Timeout:   getdur("EMAIL_TIMEOUT", 10*time.Second),
		},
		Worker: WorkerConfig{
			Count:          getint("WORKER_COUNT", 1),
			PollInterval:   getdur("WORKER_POLL_INTERVAL", 10*time.Second),
			ErrorBackoff:   getdur("WORKER_ERROR_BACKOFF", 1*time.Second),
			MaxRetries:     getint("DELIVERY_MAX_RETRIES", 3),
			RetryPolicy:    strings.ToLower(getenv("DELIVERY_RETRY_POLICY", "exponential")),
			RetryBaseDelay: getdur("DELIVERY_RETRY_BASE_DELAY", 1*time.Second),
			RetryMaxDelay:  getdur("DELIVERY_RETRY_MAX_DELAY", time.Minute),
		},

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-newsletter-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	if c.DB.Driver == "postgresql" || c.DB.Driver == "pgx" {
		c.DB.Driver = "postgres"
	}
}

// Validate reports every invalid setting at once, joined.
func (c Config) Validate() error {
	var errs []error
	check := func(bad bool, msg string) {
		if bad {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}
	check(strings.TrimSpace(c.Port) == "", "PORT must not be empty")
	check(c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0")
	check(c.MaxBodyBytes <= 0, "MAX_BODY_BYTES must be > 0")
	check(c.RateRPS < 0, "RATE_RPS must be >= 0")
	check(c.RateBurst < 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0")
	check(c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	errs = append(errs, c.DB.validate(), c.Email.validate(), c.Worker.validate())
	return errors.Join(errs...)
}

func (d DatabaseConfig) validate() error {
	var errs []error
	switch d.Driver {
	case "sqlite":
		if strings.TrimSpace(d.Path) == "" {
			errs = append(errs, errors.New("DB_PATH must not be empty"))
		}
	case "postgres":
		if strings.TrimSpace(d.URL) == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set when DB_DRIVER=postgres"))
		}
	default:
		errs = append(errs, errors.New("DB_DRIVER must be one of: sqlite, postgres"))
	}
	if d.MaxOpenConns < 1 {
		errs = append(errs, errors.New("DB_MAX_OPEN_CONNS must be >= 1"))
	}
	if d.AcquireTimeout <= 0 || d.LockTimeout <= 0 {
		errs = append(errs, errors.New("DB_ACQUIRE_TIMEOUT and DB_LOCK_TIMEOUT must be > 0"))
	}
	return errors.Join(errs...)
}

func (e EmailConfig) validate() error {
	var errs []error
	if strings.TrimSpace(e.BaseURL) == "" {
		errs = append(errs, errors.New("EMAIL_BASE_URL must not be empty"))
	}
	if strings.TrimSpace(e.Sender) == "" {
		errs = append(errs, errors.New("EMAIL_SENDER must not be empty"))
	}
	if e.Timeout <= 0 {
		errs = append(errs, errors.New("EMAIL_TIMEOUT must be > 0"))
	}
	return errors.Join(errs...)
}

func (w WorkerConfig) validate() error {
	var errs []error
	if w.Count < 1 {
		errs = append(errs, errors.New("WORKER_COUNT must be >= 1"))
	}
	switch w.RetryPolicy {
	case "exponential", "fixed":
	default:
		errs = append(errs, errors.New("DELIVERY_RETRY_POLICY must be one of: exponential, fixed"))
	}
	if w.PollInterval <= 0 || w.ErrorBackoff <= 0 {
		errs = append(errs, errors.New("WORKER_POLL_INTERVAL and WORKER_ERROR_BACKOFF must be > 0"))
	}
	if w.MaxRetries < 0 {
		errs = append(errs, errors.New("DELIVERY_MAX_RETRIES must be >= 0"))
	}
	if w.RetryBaseDelay < 0 || w.RetryMaxDelay < w.RetryBaseDelay {
		errs = append(errs, errors.New("DELIVERY_RETRY_MAX_DELAY must be >= DELIVERY_RETRY_BASE_DELAY >= 0"))
	}
	return errors.Join(errs...)
}

// lookup returns a set, non-empty environment value.
func lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	return v, ok && v != ""
}

func getenv(k, def string) string {
	if v, ok := lookup(k); ok {
		return v
	}
	return def
}

// parsed reads k with parse, falling back to def when unset or malformed.
func parsed[T any](k string, def T, parse func(string) (T, error)) T {
	if v, ok := lookup(k); ok {
		if out, err := parse(v); err == nil {
			return out
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	return parsed(k, def, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
}

func getint(k string, def int) int { return parsed(k, def, strconv.Atoi) }

func getdur(k string, def time.Duration) time.Duration { return parsed(k, def, time.ParseDuration) }

func getbool(k string, def bool) bool {
	return parsed(k, def, func(v string) (bool, error) {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true, nil
		case "0", "false", "no", "n", "off":
			return false, nil
		}
		return false, errors.New("not a bool")
	})
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
