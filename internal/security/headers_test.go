package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func router(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/v1/config", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"basePrice": 100}) })
	r.PUT("/v1/config", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func do(r http.Handler, method, origin string, hdr ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/v1/config", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHeaders(t *testing.T) {
	w := do(router(Headers(false)), http.MethodGet, "")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	w = do(router(Headers(true)), http.MethodGet, "")
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=")
}

func TestCORS_AllowList(t *testing.T) {
	r := router(CORS([]string{"https://console.example"}))

	w := do(r, http.MethodGet, "https://console.example")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://console.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	w = do(r, http.MethodGet, "https://evil.example")
	assert.Equal(t, http.StatusOK, w.Code, "simple requests still reach the handler")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	r := router(CORS([]string{"https://console.example"}))

	w := do(r, http.MethodOptions, "https://console.example",
		"Access-Control-Request-Method", http.MethodPut,
		"Access-Control-Request-Headers", "X-Admin-Secret")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Admin-Secret")

	w = do(r, http.MethodOptions, "https://evil.example", "Access-Control-Request-Method", http.MethodPut)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCORS_AnyOriginOmitsCredentials(t *testing.T) {
	for _, origins := range [][]string{nil, {"*"}} {
		w := do(router(CORS(origins)), http.MethodGet, "https://anything.example")
		assert.Equal(t, "https://anything.example", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	}
}

func TestCORS_SameOriginUntouched(t *testing.T) {
	w := do(router(CORS(nil)), http.MethodGet, "")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Vary"))
}
