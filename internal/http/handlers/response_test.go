package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

func TestFail_500LogsAndWritesEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/boom", func(c *gin.Context) { fail(c, http.StatusInternalServerError, ErrCodeInternal, "kaboom") })
	r.GET("/bad", func(c *gin.Context) { Fail(c, http.StatusBadRequest, ErrCodeBadRequest, "nope") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if w.Code != http.StatusInternalServerError || resp.RequestID != "rid-500" || resp.Code != ErrCodeInternal {
		t.Fatalf("unexpected response %d %+v", w.Code, resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("5xx should be logged, got %q", buf.String())
	}

	buf.Reset()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bad", nil))
	if w.Code != http.StatusBadRequest || buf.Len() != 0 {
		t.Fatalf("4xx: code=%d logged=%q", w.Code, buf.String())
	}
}

func TestWriteSaved_PreservesHeaderOrderAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/saved", func(c *gin.Context) {
		c.Header("Location", "/stale")
		writeSaved(c, &domain.SavedResponse{
			Status: http.StatusSeeOther,
			Headers: domain.HeaderPairs{
				{Name: "Location", Value: "/admin/newsletters"},
				{Name: "Set-Cookie", Value: "a=1"},
				{Name: "Set-Cookie", Value: "b=2"},
			},
			Body: []byte("done"),
		})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/saved", nil))
	if w.Code != http.StatusSeeOther || w.Body.String() != "done" {
		t.Fatalf("unexpected %d %q", w.Code, w.Body.String())
	}
	if got := w.Header().Values("Location"); len(got) != 1 || got[0] != "/admin/newsletters" {
		t.Fatalf("Location = %v", got)
	}
	if got := w.Header().Values("Set-Cookie"); len(got) != 2 || got[0] != "a=1" || got[1] != "b=2" {
		t.Fatalf("Set-Cookie = %v", got)
	}
}
