package server

import (
	"context"
	"database/sql"
	"net/url"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/mbd888/agentregistry/internal/auth"
	"github.com/mbd888/agentregistry/internal/metrics"
	"github.com/mbd888/agentregistry/internal/state"
	"github.com/mbd888/agentregistry/migrations"
)

const connectTimeout = 10 * time.Second

func (s *Server) openStorage(ctx context.Context) error {
	switch {
	case s.store != nil:
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		return nil
	case s.cfg.DatabaseURL == "":
		s.store = state.NewMemoryStore()
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.logger.Info("storage: in memory, nothing persists across restarts")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return wrapStorage("open", err)
	}
	db.SetMaxOpenConns(s.cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(s.cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.DBConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return wrapStorage("connect", err)
	}

	if s.cfg.AutoMigrate {
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return wrapStorage("migrate", err)
		}
		s.logger.Info("storage: migrations applied")
	}

	if err := metrics.RegisterDB(db, "agentregistry"); err != nil {
		s.logger.Warn("storage: pool metrics unavailable", "error", err)
	}

	s.db = db
	s.store = state.NewPostgresStore(db, state.WithRetryLogger(s.logger))
	s.authMgr = auth.NewManager(auth.NewPostgresStore(db))
	s.logger.Info("storage: postgres", "dsn", redactDSN(s.cfg.DatabaseURL))
	return nil
}

// redactDSN replaces the password of a URL-form DSN.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "<unparseable dsn>"
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "redacted")
	}
	return u.String()
}
