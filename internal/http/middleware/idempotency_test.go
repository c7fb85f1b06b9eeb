package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

type seen struct {
	key    domain.IdempotencyKey
	hasKey bool
	replay bool
	bypass bool
}

func idemRouter(lookup ReplayLookup, out *seen) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireUser(), IdempotencyKey(lookup))
	h := func(c *gin.Context) {
		out.key, out.hasKey = GetIdempotencyKey(c)
		out.replay = IsReplay(c)
		out.bypass = IsRateBypass(c)
		c.Status(http.StatusNoContent)
	}
	r.POST("/publish", h)
	r.GET("/publish", h)
	return r
}

func postForm(r http.Handler, form url.Values, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/publish", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(HeaderUserID, "admin")
	if header != "" {
		req.Header.Set(HeaderIdempotencyKey, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyKey_FromFormField(t *testing.T) {
	var s seen
	r := idemRouter(nil, &s)

	w := postForm(r, url.Values{FormIdempotencyKey: {"form-key"}}, "header-key")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if !s.hasKey || s.key != "form-key" {
		t.Fatalf("form field should win over header, got %q", s.key)
	}
	if s.replay || s.bypass {
		t.Fatalf("no lookup means no replay")
	}
}

func TestIdempotencyKey_FromHeader(t *testing.T) {
	var s seen
	r := idemRouter(nil, &s)

	postForm(r, url.Values{"title": {"x"}}, "abc-123")
	if !s.hasKey || s.key != "abc-123" {
		t.Fatalf("expected header key, got %q (%v)", s.key, s.hasKey)
	}
}

func TestIdempotencyKey_AbsentPassesThrough(t *testing.T) {
	var s seen
	called := false
	r := idemRouter(func(context.Context, string, domain.IdempotencyKey) (bool, error) {
		called = true
		return true, nil
	}, &s)

	w := postForm(r, url.Values{"title": {"x"}}, "")
	if w.Code != http.StatusNoContent || s.hasKey || called {
		t.Fatalf("absent key: code=%d hasKey=%v lookup=%v", w.Code, s.hasKey, called)
	}
}

func TestIdempotencyKey_InvalidIsRejected(t *testing.T) {
	cases := map[string]string{
		"too long":   strings.Repeat("k", domain.MaxIdempotencyKeyLen+1),
		"whitespace": "has space",
		"non-ascii":  "clé",
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			var s seen
			r := idemRouter(nil, &s)
			w := postForm(r, url.Values{FormIdempotencyKey: {key}}, "")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d; want 400", w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["code"] != "invalid_idempotency_key" {
				t.Fatalf("unexpected body %v", body)
			}
		})
	}
}

func TestIdempotencyKey_LookupMarksReplay(t *testing.T) {
	var s seen
	var gotUser string
	r := idemRouter(func(_ context.Context, uid string, k domain.IdempotencyKey) (bool, error) {
		gotUser = uid
		return k == "done", nil
	}, &s)

	postForm(r, url.Values{FormIdempotencyKey: {"fresh"}}, "")
	if s.replay || s.bypass {
		t.Fatalf("fresh key must not be a replay")
	}
	postForm(r, url.Values{FormIdempotencyKey: {"done"}}, "")
	if !s.replay || !s.bypass || gotUser != "admin" {
		t.Fatalf("expected replay for completed key: %+v user=%q", s, gotUser)
	}
}

func TestIdempotencyKey_IgnoresNonPost(t *testing.T) {
	var s seen
	r := idemRouter(nil, &s)
	req := httptest.NewRequest(http.MethodGet, "/publish", nil)
	req.Header.Set(HeaderUserID, "admin")
	req.Header.Set(HeaderIdempotencyKey, "bad key with spaces")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || s.hasKey {
		t.Fatalf("GET should bypass key handling: %d %v", w.Code, s.hasKey)
	}
}

func TestRequireUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireUser())
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status = %d; want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(HeaderUserID, "  alice ")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "alice" {
		t.Fatalf("identified: %d %q", w.Code, w.Body.String())
	}
}
