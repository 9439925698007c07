// Command mcp serves the registry's MCP tools over stdio. Stdout carries the
// protocol, so logs go to stderr.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/agentregistry/internal/logging"
	"github.com/mbd888/agentregistry/internal/mcpserver"
	"github.com/mbd888/agentregistry/internal/validation"
)

// Version is set by ldflags.
var Version = "dev"

type options struct {
	app      *kingpin.Application
	apiURL   *string
	apiKey   *string
	agent    *string
	logLevel *string
}

func newOptions() *options {
	app := kingpin.New("mcp", "Expose agent registry operations as MCP tools over stdio.")
	app.Version(Version)
	return &options{
		app: app,
		apiURL: app.Flag("api-url", "Registry base URL.").
			Envar("AGENTREGISTRY_API_URL").Default("http://localhost:8080").String(),
		apiKey: app.Flag("api-key", "API key (ark_...) of the acting identity.").
			Envar("AGENTREGISTRY_API_KEY").Required().String(),
		agent: app.Flag("agent", "Address the key was issued to.").
			Envar("AGENTREGISTRY_AGENT_ADDRESS").Required().String(),
		logLevel: app.Flag("log-level", "debug, info, warn or error.").
			Envar("LOG_LEVEL").Default("warn").String(),
	}
}

// config parses args into a server config, checking the agent address.
func (o *options) config(args []string) (mcpserver.Config, error) {
	if _, err := o.app.Parse(args); err != nil {
		return mcpserver.Config{}, err
	}
	agent, err := validation.Identity(*o.agent)
	if err != nil {
		return mcpserver.Config{}, fmt.Errorf("--agent: %w", err)
	}
	return mcpserver.Config{
		APIURL:       *o.apiURL,
		APIKey:       *o.apiKey,
		AgentAddress: agent.Hex(),
		Version:      Version,
	}, nil
}

func main() {
	_ = godotenv.Load()

	opts := newOptions()
	cfg, err := opts.config(os.Args[1:])
	if err != nil {
		opts.app.Fatalf("%v", err)
	}

	logger := logging.NewWithWriter(os.Stderr, *opts.logLevel, "text")
	logger.Info("serving MCP over stdio", "api_url", cfg.APIURL, "agent", cfg.AgentAddress)

	err = server.ServeStdio(mcpserver.NewMCPServer(cfg),
		server.WithErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError)))
	if err != nil {
		logger.Error("stdio transport", "error", err)
		os.Exit(1)
	}
}
