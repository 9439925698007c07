package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentregistry/internal/auth"
	"github.com/mbd888/agentregistry/internal/engine"
	"github.com/mbd888/agentregistry/internal/health"
	"github.com/mbd888/agentregistry/internal/metrics"
)

func (s *Server) mountRoutes() {
	r := s.router
	r.GET("/health", s.handleHealth)
	r.GET("/health/live", s.handleLive)
	r.GET("/health/ready", s.handleReady)
	r.GET("/metrics", metrics.Handler())
	r.GET("/ws", gin.WrapH(s.events))

	v1 := r.Group("/v1", auth.Middleware(s.authMgr))
	v1.GET("/info", s.handleInfo)
	v1.GET("/stream/stats", s.handleStreamStats)

	auth.NewHandler(s.authMgr).RegisterRoutes(v1)

	agents := engine.NewHandler(s.engine)
	agents.RegisterRoutes(v1)
	agents.RegisterProtectedRoutes(v1, s.authMgr)
	agents.RegisterAdminRoutes(v1)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": c.Request.Method + " " + c.Request.URL.Path + " is not a route",
		})
	})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Storage   string          `json:"storage"`
	Checks    []health.Result `json:"checks"`
	Timestamp time.Time       `json:"timestamp"`
}

// handleHealth answers 503 only when a critical probe fails; a degraded
// report still answers 200.
func (s *Server) handleHealth(c *gin.Context) {
	report := s.probes.Run(c.Request.Context())
	code := http.StatusOK
	if !report.Serving() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:    report.Status,
		Version:   Version,
		Storage:   s.storageKind(),
		Checks:    report.Checks,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	})
}

func (s *Server) handleLive(c *gin.Context) {
	flag(c, s.live.Load(), "alive", "unhealthy")
}

func (s *Server) handleReady(c *gin.Context) {
	flag(c, s.ready.Load(), "ready", "not_ready")
}

func flag(c *gin.Context, up bool, yes, no string) {
	if up {
		c.JSON(http.StatusOK, gin.H{"status": yes})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": no})
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "agentregistry",
		"description": "Agent registry with reputation-gated pricing",
		"version":     Version,
		"storage":     s.storageKind(),
		"treasury":    s.engine.TreasuryAddress().Hex(),
	})
}

func (s *Server) handleStreamStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.events.Stats())
}
