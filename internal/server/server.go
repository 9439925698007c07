// Package server assembles the registry's HTTP surface: storage, engine,
// auth, the event stream and the middleware chain.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentregistry/internal/auth"
	"github.com/mbd888/agentregistry/internal/config"
	"github.com/mbd888/agentregistry/internal/engine"
	"github.com/mbd888/agentregistry/internal/health"
	"github.com/mbd888/agentregistry/internal/logging"
	"github.com/mbd888/agentregistry/internal/ratelimit"
	"github.com/mbd888/agentregistry/internal/realtime"
	"github.com/mbd888/agentregistry/internal/state"
)

// Version is reported by /health and /v1/info.
const Version = "0.1.0"

// Server owns the router and everything behind it.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db      *sql.DB // nil with the in-memory store
	store   state.Store
	engine  *engine.Engine
	authMgr *auth.Manager
	events  *realtime.Hub
	limiter *ratelimit.Limiter
	probes  *health.Registry

	router     *gin.Engine
	httpSrv    *http.Server
	drainDelay time.Duration
	stopBg     context.CancelFunc

	live  atomic.Bool
	ready atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the logger built from the config.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithStore injects a store and skips database setup. Keys then live in
// memory.
func WithStore(store state.Store) Option {
	return func(s *Server) { s.store = store }
}

// New wires a server from cfg. With DATABASE_URL set it connects to Postgres
// (and migrates when AUTO_MIGRATE is on); otherwise state lives in memory.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		probes:     health.NewRegistry(),
		drainDelay: cfg.DrainDelay,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.openStorage(context.Background()); err != nil {
		return nil, err
	}

	s.events = realtime.NewHub(s.logger, realtime.WithAllowedOrigins(cfg.AllowedOrigins))
	engineOpts := []engine.Option{engine.WithPublisher(s.events)}
	if treasury, ok := cfg.Treasury(); ok {
		engineOpts = append(engineOpts, engine.WithTreasury(treasury))
	}
	s.engine = engine.New(s.store, engineOpts...)

	s.probes.Critical("store", s.store.Ping)
	s.probes.Optional("events", s.events.Ready)

	if cfg.AdminSecret == "" {
		s.logger.Warn("ADMIN_SECRET not set; admin routes accept any authenticated caller")
	}
	s.logger.Info("engine ready", "treasury", s.engine.TreasuryAddress().Hex())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.useMiddleware()
	s.mountRoutes()

	s.live.Store(true)
	return s, nil
}

// Router exposes the handler tree.
func (s *Server) Router() *gin.Engine { return s.router }

// Engine exposes the engine behind the routes.
func (s *Server) Engine() *engine.Engine { return s.engine }

func (s *Server) storageKind() string {
	if s.db != nil {
		return "postgres"
	}
	return "memory"
}

func (s *Server) closeStorage() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("closing store", "error", err)
		return
	}
	if s.db != nil {
		s.logger.Info("database pool closed")
	}
}

func wrapStorage(step string, err error) error {
	return fmt.Errorf("storage: %s: %w", step, err)
}
