package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentregistry/internal/idgen"
	"github.com/mbd888/agentregistry/internal/logging"
	"github.com/mbd888/agentregistry/internal/metrics"
	"github.com/mbd888/agentregistry/internal/ratelimit"
	"github.com/mbd888/agentregistry/internal/security"
	"github.com/mbd888/agentregistry/internal/validation"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 64
)

// useMiddleware installs the chain in order: panic recovery, headers and
// CORS, body cap, rate limit, metrics, then request scoping and access logs.
func (s *Server) useMiddleware() {
	s.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         max(s.cfg.RateLimitRPM/6, 5),
		CleanupInterval:   time.Minute,
	})

	s.router.Use(
		gin.CustomRecovery(s.recovered),
		security.Headers(s.cfg.IsProduction()),
		security.CORS(s.cfg.AllowedOrigins),
		validation.LimitBody(validation.MaxRequestSize),
		s.limiter.Middleware(),
		metrics.Middleware(),
		s.scopeRequest(),
		accessLog(),
	)
}

func (s *Server) recovered(c *gin.Context, v any) {
	logging.L(c.Request.Context()).Error("handler panicked", "panic", v, "path", c.Request.URL.Path)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "unexpected server error",
	})
}

// scopeRequest puts a request id and the server logger on the request
// context. An inbound X-Request-ID is kept when it is short enough.
func (s *Server) scopeRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = idgen.Hex(16)
		}
		ctx := logging.WithLogger(logging.WithRequestID(c.Request.Context(), id), s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"bytes", c.Writer.Size(),
			"latency_ms", time.Since(start).Milliseconds(),
		}

		log := logging.L(c.Request.Context())
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request", append(attrs, "client_ip", c.ClientIP())...)
		case status >= http.StatusBadRequest:
			log.Warn("request", attrs...)
		default:
			log.Info("request", attrs...)
		}
	}
}
