// Command server runs the agent registry HTTP API.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbd888/agentregistry/internal/config"
	"github.com/mbd888/agentregistry/internal/logging"
	"github.com/mbd888/agentregistry/internal/server"
	"github.com/mbd888/agentregistry/internal/traces"
)

// Set by ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		logging.New("error", "text").Error("invalid configuration", "error", err)
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("agentregistry starting",
		"version", Version,
		"commit", Commit,
		"built", BuildTime,
		"env", cfg.Env,
		"postgres", cfg.UsesPostgres(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flush, err := traces.Init(ctx, traces.Settings{
		Endpoint:    cfg.OTLPEndpoint,
		Version:     Version,
		SampleRatio: cfg.TraceSampleRatio,
		Insecure:    !cfg.IsProduction(),
	}, logger)
	if err != nil {
		logger.Error("tracing setup", "error", err)
		return err
	}

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("server setup", "error", err)
		return errors.Join(err, flush(context.Background()))
	}

	err = srv.Run(ctx)
	if err != nil {
		logger.Error("server exited", "error", err)
	}
	if ferr := flush(context.Background()); ferr != nil {
		logger.Warn("trace flush", "error", ferr)
	}
	return err
}
