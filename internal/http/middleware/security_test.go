package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecure(opt SecurityOptions, mutate func(*http.Request)) http.Header {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(opt))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	h := serveSecure(SecurityOptions{EnableHSTS: true}, nil)
	for k, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	} {
		if got := h.Get(k); got != want {
			t.Fatalf("%s = %q; want %q", k, got, want)
		}
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS must not be sent over plain HTTP")
	}
	if h.Get("Cache-Control") != "" {
		t.Fatal("Cache-Control only with NoStore")
	}
}

func TestSecurityHeaders_HSTSAndNoStore(t *testing.T) {
	h := serveSecure(SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour, NoStore: true}, func(r *http.Request) {
		r.TLS = &tls.ConnectionState{}
	})
	if got := h.Get("Strict-Transport-Security"); got != "max-age=3600; includeSubDomains" {
		t.Fatalf("HSTS = %q", got)
	}
	if h.Get("Cache-Control") != "no-store" {
		t.Fatal("expected no-store")
	}

	h = serveSecure(SecurityOptions{EnableHSTS: true}, func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "HTTPS")
	})
	if got := h.Get("Strict-Transport-Security"); got != "max-age=15552000; includeSubDomains" {
		t.Fatalf("proxied HSTS = %q", got)
	}
}
