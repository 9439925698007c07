package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbd888/agentregistry/internal/config"
)

// Run serves until ctx ends, SIGINT or SIGTERM arrives, or the listener
// fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	bg, stop := context.WithCancel(ctx)
	s.stopBg = stop
	go s.events.Run(bg)

	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String(), "env", s.cfg.Env)
		serveErr <- s.httpSrv.Serve(ln)
	}()
	s.ready.Store(true)

	sig, unwatch := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer unwatch()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			stop()
			return fmt.Errorf("serve: %w", err)
		}
	case <-sig.Done():
		if ctx.Err() != nil {
			s.logger.Info("shutting down", "cause", "context done")
		} else {
			s.logger.Info("shutting down", "cause", "signal")
		}
	}
	return s.Shutdown()
}

// Shutdown drops readiness, waits out the drain delay, then closes the
// listener, the background workers and storage in that order.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	if s.drainDelay > 0 {
		s.logger.Info("draining", "delay", s.drainDelay)
		time.Sleep(s.drainDelay)
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if s.stopBg != nil {
		s.stopBg()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.closeStorage()

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("shutdown", "error", err)
		return err
	}
	s.logger.Info("stopped")
	return nil
}

