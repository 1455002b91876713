package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/solace-fi/coverage/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(mw gin.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(mw)
	router.GET("/v1/risk", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.OPTIONS("/v1/risk", func(c *gin.Context) {
		c.Status(http.StatusTeapot)
	})

	req := httptest.NewRequest(method, "/v1/risk", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware_LocksDownJSONResponses(t *testing.T) {
	w := serve(HeadersMiddleware(), http.MethodGet, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "same-site", w.Header().Get("Cross-Origin-Resource-Policy"))
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestCORSMiddleware_Origins(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"listed origin echoed", []string{"https://app.solace.fi"}, "https://app.solace.fi", "https://app.solace.fi"},
		{"wildcard echoes caller", []string{"*"}, "https://wallet.example", "https://wallet.example"},
		{"empty list allows all", nil, "https://wallet.example", "https://wallet.example"},
		{"unlisted origin refused", []string{"https://app.solace.fi"}, "https://evil.example", ""},
		{"no origin header", []string{"*"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(CORSMiddleware(tt.allowed), http.MethodGet, tt.origin)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.want != "" {
				assert.Equal(t, "Origin", w.Header().Get("Vary"))
			}
		})
	}
}

func TestCORSMiddleware_PreflightAllowsCallerHeaders(t *testing.T) {
	w := serve(CORSMiddleware([]string{"https://app.solace.fi"}), http.MethodOptions, "https://app.solace.fi")

	assert.Equal(t, http.StatusNoContent, w.Code, "preflight must not reach the route")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)
	allowed := w.Header().Get("Access-Control-Allow-Headers")
	for _, h := range []string{auth.HeaderAddress, auth.HeaderTimestamp, auth.HeaderSignature, "X-Request-ID"} {
		assert.Contains(t, allowed, h)
	}
	assert.Equal(t, "X-Request-ID", w.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORSMiddleware_PreflightFromUnlistedOrigin(t *testing.T) {
	w := serve(CORSMiddleware([]string{"https://app.solace.fi"}), http.MethodOptions, "https://evil.example")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Headers"))
}
