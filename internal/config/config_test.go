package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // normalizes to "release"

	t.Setenv("LOG_LEVEL", "warning") // normalizes to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("ADMIN_BASE_PATH", "backoffice/")

	t.Setenv("DB_DRIVER", "PostgreSQL")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/newsletter")
	t.Setenv("DB_MAX_OPEN_CONNS", "4")
	t.Setenv("DB_ACQUIRE_TIMEOUT", "500ms")
	t.Setenv("DB_LOCK_TIMEOUT", "3s")

	t.Setenv("EMAIL_BASE_URL", "https://api.mail.test/")
	t.Setenv("EMAIL_SENDER", "news@acme.test")
	t.Setenv("EMAIL_AUTH_TOKEN", "tok")
	t.Setenv("EMAIL_TIMEOUT", "7s")

	t.Setenv("WORKER_COUNT", "3")
	t.Setenv("WORKER_POLL_INTERVAL", "250ms")
	t.Setenv("WORKER_ERROR_BACKOFF", "2s")
	t.Setenv("DELIVERY_MAX_RETRIES", "5")
	t.Setenv("DELIVERY_RETRY_POLICY", "Fixed")
	t.Setenv("DELIVERY_RETRY_BASE_DELAY", "100ms")
	t.Setenv("DELIVERY_RETRY_MAX_DELAY", "10s")

	t.Setenv("RATE_RPS", "x")      // parse fallback -> 5.0
	t.Setenv("RATE_BURST", "nope") // parse fallback -> 10

	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.AdminBasePath != "/backoffice" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}

	wantDB := DatabaseConfig{
		Driver:         "postgres",
		Path:           "newsletter.db",
		URL:            "postgres://u:p@db:5432/newsletter",
		MaxOpenConns:   4,
		AcquireTimeout: 500 * time.Millisecond,
		LockTimeout:    3 * time.Second,
	}
	if cfg.DB != wantDB {
		t.Fatalf("db unexpected: %+v", cfg.DB)
	}

	if cfg.Email.BaseURL != "https://api.mail.test" || cfg.Email.Sender != "news@acme.test" ||
		cfg.Email.AuthToken != "tok" || cfg.Email.Timeout != 7*time.Second {
		t.Fatalf("email unexpected: %+v", cfg.Email)
	}

	wantWorker := WorkerConfig{
		Count:          3,
		PollInterval:   250 * time.Millisecond,
		ErrorBackoff:   2 * time.Second,
		MaxRetries:     5,
		RetryPolicy:    "fixed",
		RetryBaseDelay: 100 * time.Millisecond,
		RetryMaxDelay:  10 * time.Second,
	}
	if cfg.Worker != wantWorker {
		t.Fatalf("worker unexpected: %+v", cfg.Worker)
	}

	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.AdminBasePath != "/admin" {
		t.Fatalf("ADMIN_BASE_PATH default expected '/admin', got %q", cfg.AdminBasePath)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.AcquireTimeout != 2*time.Second {
		t.Fatalf("db defaults unexpected: %+v", cfg.DB)
	}
	if cfg.Worker.MaxRetries != 3 || cfg.Worker.PollInterval != 10*time.Second || cfg.Worker.Count != 1 || cfg.Worker.RetryPolicy != "exponential" {
		t.Fatalf("worker defaults unexpected: %+v", cfg.Worker)
	}
	if cfg.Email.Timeout != 10*time.Second {
		t.Fatalf("email timeout default unexpected: %v", cfg.Email.Timeout)
	}
}

// Each case triggers exactly one validation error.
func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"max body bytes", map[string]string{"MAX_BODY_BYTES": "-1"}, "MAX_BODY_BYTES"},
		{"empty DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_URL"},
		{"unknown driver", map[string]string{"DB_DRIVER": "oracle"}, "DB_DRIVER"},
		{"pool size", map[string]string{"DB_MAX_OPEN_CONNS": "0"}, "DB_MAX_OPEN_CONNS"},
		{"acquire timeout", map[string]string{"DB_ACQUIRE_TIMEOUT": "0s"}, "DB_ACQUIRE_TIMEOUT"},
		{"email sender", map[string]string{"EMAIL_SENDER": "  "}, "EMAIL_SENDER"},
		{"email timeout", map[string]string{"EMAIL_TIMEOUT": "-1s"}, "EMAIL_TIMEOUT"},
		{"worker count", map[string]string{"WORKER_COUNT": "-2"}, "WORKER_COUNT"},
		{"zero workers", map[string]string{"WORKER_COUNT": "0"}, "WORKER_COUNT must be >= 1"},
		{"retry policy", map[string]string{"DELIVERY_RETRY_POLICY": "linear"}, "DELIVERY_RETRY_POLICY"},
		{"poll interval", map[string]string{"WORKER_POLL_INTERVAL": "0s"}, "WORKER_POLL_INTERVAL"},
		{"max retries", map[string]string{"DELIVERY_MAX_RETRIES": "-1"}, "DELIVERY_MAX_RETRIES"},
		{"retry delays", map[string]string{"DELIVERY_RETRY_BASE_DELAY": "2m"}, "DELIVERY_RETRY_MAX_DELAY"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"otel sample ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %q validation error, got: %v", tc.want, err)
			}
		})
	}
}

func TestLoad_ReportsAllProblems(t *testing.T) {
	t.Setenv("RATE_BURST", "0")
	t.Setenv("EMAIL_SENDER", " ")
	t.Setenv("DB_MAX_OPEN_CONNS", "0")

	_, err := Load()
	for _, want := range []string{"RATE_BURST", "EMAIL_SENDER", "DB_MAX_OPEN_CONNS"} {
		if !containsErr(err, want) {
			t.Fatalf("missing %s in %v", want, err)
		}
	}
}

func TestEnvGetters(t *testing.T) {
	t.Setenv("T_STR", "val")
	t.Setenv("T_EMPTY", "")
	t.Setenv("T_FLOAT", "3.14")
	t.Setenv("T_INT", "42")
	t.Setenv("T_DUR", "150ms")
	t.Setenv("T_JUNK", "zzz")

	if getenv("T_STR", "d") != "val" || getenv("T_EMPTY", "d") != "d" || getenv("T_UNSET", "d") != "d" {
		t.Fatalf("getenv fallbacks wrong")
	}
	if getfloat("T_FLOAT", 0) != 3.14 || getfloat("T_JUNK", 1.5) != 1.5 {
		t.Fatalf("getfloat wrong")
	}
	if getint("T_INT", 0) != 42 || getint("T_JUNK", 7) != 7 || getint("T_FLOAT", 9) != 9 {
		t.Fatalf("getint wrong")
	}
	if getdur("T_DUR", time.Second) != 150*time.Millisecond || getdur("T_JUNK", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur wrong")
	}
}

func TestGetbool(t *testing.T) {
	cases := map[string]bool{
		"1": true, "TRUE": true, " yes ": true, "Y": true, "On": true,
		"0": false, "FALSE": false, " no ": false, "N": false, "Off": false,
	}
	for v, want := range cases {
		t.Setenv("T_BOOL", v)
		if got := getbool("T_BOOL", !want); got != want {
			t.Fatalf("getbool(%q) = %v; want %v", v, got, want)
		}
	}
	t.Setenv("T_BOOL", "maybe")
	if !getbool("T_BOOL", true) || getbool("T_BOOL", false) {
		t.Fatalf("unparseable bool must fall back to the default")
	}
}

func TestSplitCSVAndBasePath(t *testing.T) {
	if splitCSV("") != nil {
		t.Fatalf("splitCSV(\"\") should be nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV = %#v", got)
	}
	for in, want := range map[string]string{"": "/", "admin": "/admin", "/admin/": "/admin", "/": "/"} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}

// Keep ambient env from leaking into defaults.
func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "DB_DRIVER", "DATABASE_URL", "DB_PATH", "LOG_LEVEL"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
