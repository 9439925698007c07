// Package ratelimit throttles API callers with one token bucket per caller.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Config sizes the per-caller buckets.
type Config struct {
	RequestsPerMinute int
	BurstSize         int
	// CleanupInterval is how often idle buckets are swept.
	CleanupInterval time.Duration
	// IdleTTL is how long a bucket survives without requests. Defaults to
	// two minutes.
	IdleTTL time.Duration
}

// DefaultConfig allows one request per second with bursts of ten.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
		IdleTTL:           2 * time.Minute,
	}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter holds a bucket per caller key.
type Limiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	stop     chan struct{}
}

// New starts a limiter and its sweeper. Call Stop to end the sweeper.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	l := &Limiter{
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:   max(cfg.BurstSize, 1),
		ttl:     cfg.IdleTTL,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweep(cfg.CleanupInterval)
	return l
}

func (l *Limiter) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	cutoff := l.now().Add(-l.ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow spends one token from key's bucket. When the bucket is empty it
// returns false and how long until a token is available.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// Middleware rejects callers over their budget with 429 and Retry-After.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.Allow(ClientKey(c))
		if ok {
			c.Next()
			return
		}
		secs := int(math.Ceil(wait.Seconds()))
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate_limit_exceeded",
			"message":     "too many requests, retry later",
			"retry_after": secs,
		})
	}
}

// ClientKey names the bucket a request is charged to: a short digest of the
// API key when one is sent, the client IP otherwise.
func ClientKey(c *gin.Context) string {
	key := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if key == "" {
		key = c.GetHeader("X-API-Key")
	}
	if key == "" {
		return "ip:" + c.ClientIP()
	}
	sum := sha256.Sum256([]byte(key))
	return "key:" + hex.EncodeToString(sum[:8])
}
