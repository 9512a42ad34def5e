package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func middlewareRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.POST("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestSecurityHeaders(t *testing.T) {
	r := middlewareRouter(SecurityHeaders())

	t.Run("sets baseline headers", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

		headers := map[string]string{
			"X-Content-Type-Options": "nosniff",
			"X-Frame-Options":        "DENY",
			"Referrer-Policy":        "strict-origin-when-cross-origin",
		}
		for name, want := range headers {
			if got := w.Header().Get(name); got != want {
				t.Errorf("%s = %q, want %q", name, got, want)
			}
		}
		if w.Header().Get("Strict-Transport-Security") != "" {
			t.Error("HSTS set on plain HTTP request")
		}
	})

	t.Run("sets HSTS behind TLS-terminating proxy", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		r.ServeHTTP(w, req)

		if w.Header().Get("Strict-Transport-Security") == "" {
			t.Error("expected HSTS header on forwarded HTTPS request")
		}
	})
}

func TestRateLimiter(t *testing.T) {
	r := middlewareRouter(RateLimiter(1, 2))

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}

	// Burst of 2 passes, the rest are throttled.
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("requests within burst rejected: %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests || codes[3] != http.StatusTooManyRequests {
		t.Errorf("requests over burst not throttled: %v", codes)
	}
}

func TestRequireJSONContentType(t *testing.T) {
	r := middlewareRouter(RequireJSONContentType())

	cases := []struct {
		name        string
		method      string
		contentType string
		want        int
	}{
		{"json post passes", http.MethodPost, "application/json", http.StatusOK},
		{"json with charset passes", http.MethodPost, "application/json; charset=utf-8", http.StatusOK},
		{"bodyless post passes", http.MethodPost, "", http.StatusOK},
		{"form post rejected", http.MethodPost, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"get ignores content type", http.MethodGet, "text/html", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(tc.method, "/ping", nil)
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("got status %d, want %d", w.Code, tc.want)
			}
		})
	}
}
