package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, rpm, burst int) (*Limiter, *clock) {
	t.Helper()
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst})
	t.Cleanup(l.Stop)
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l.now = c.now
	return l, c
}

func TestAllow_BurstThenRefill(t *testing.T) {
	l, clk := newTestLimiter(t, 60, 3)

	for i := range 3 {
		ok, _ := l.Allow("key:a")
		require.True(t, ok, "request %d within burst", i)
	}
	ok, wait := l.Allow("key:a")
	assert.False(t, ok)
	assert.InDelta(t, time.Second, wait, float64(10*time.Millisecond))

	clk.advance(time.Second)
	ok, _ = l.Allow("key:a")
	assert.True(t, ok, "one token back after a second at 60 rpm")
}

func TestAllow_RejectionDoesNotSpendTokens(t *testing.T) {
	l, clk := newTestLimiter(t, 60, 1)

	ok, _ := l.Allow("key:a")
	require.True(t, ok)
	for range 5 {
		ok, _ = l.Allow("key:a")
		assert.False(t, ok)
	}
	clk.advance(time.Second)
	ok, _ = l.Allow("key:a")
	assert.True(t, ok, "repeated rejections must not push the refill further out")
}

func TestAllow_SeparateBuckets(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 1)

	ok, _ := l.Allow("key:a")
	require.True(t, ok)
	ok, _ = l.Allow("key:a")
	assert.False(t, ok)
	ok, _ = l.Allow("ip:10.0.0.1")
	assert.True(t, ok)
}

func TestEvictIdle(t *testing.T) {
	l, clk := newTestLimiter(t, 60, 1)
	l.Allow("key:old")
	clk.advance(90 * time.Second)
	l.Allow("key:new")
	clk.advance(45 * time.Second)

	l.evictIdle()
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "key:old")
	assert.Contains(t, l.buckets, "key:new")
}

func TestStop_Idempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}

func TestMiddleware_RejectsWithRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(t, 30, 2)

	r := gin.New()
	r.Use(l.Middleware())
	r.POST("/v1/agents/:address/actions", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(header, value string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/agents/0xa11ce00000000000000000000000000000000001/actions", nil)
		req.Header.Set(header, value)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, call("Authorization", "Bearer ark_same").Code)
	assert.Equal(t, http.StatusOK, call("Authorization", "Bearer ark_same").Code)
	w := call("Authorization", "Bearer ark_same")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	// The same key sent as X-API-Key shares the bucket.
	assert.Equal(t, http.StatusTooManyRequests, call("X-API-Key", "ark_same").Code)
	assert.Equal(t, http.StatusOK, call("X-API-Key", "ark_other").Code)
}

func TestClientKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "192.0.2.7:4242"

	assert.Equal(t, "ip:192.0.2.7", ClientKey(c))

	c.Request.Header.Set("Authorization", "Bearer ark_secretvalue")
	key := ClientKey(c)
	assert.True(t, strings.HasPrefix(key, "key:"))
	assert.Len(t, key, len("key:")+16)
	assert.NotContains(t, key, "secret")
}
