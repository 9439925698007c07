package mcpserver

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mbd888/agentregistry/internal/client"
)

// Config holds the configuration for connecting to the registry.
type Config struct {
	APIURL       string // Base URL, e.g. "http://localhost:8080"
	APIKey       string // API key, e.g. "ark_..."
	AgentAddress string // Identity the key belongs to, e.g. "0x..."
	Version      string // Reported to clients during initialize
}

const instructions = "Tools act as the configured agent identity. Unpaid actions build " +
	"reputation; paid actions need the minimum reputation and a ledger balance covering the quoted price."

// NewMCPServer returns a server exposing the registry tools. A panicking tool
// handler becomes a tool error instead of ending the session.
func NewMCPServer(cfg Config) *server.MCPServer {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer("agentregistry", version,
		server.WithToolCapabilities(false),
		server.WithInstructions(instructions),
		server.WithRecovery(),
	)
	c := client.New(client.Config{APIURL: cfg.APIURL, APIKey: cfg.APIKey})
	h := NewHandlers(c, common.HexToAddress(cfg.AgentAddress))

	s.AddTool(ToolGetAgent, h.HandleGetAgent)
	s.AddTool(ToolListAgents, h.HandleListAgents)
	s.AddTool(ToolGetPrice, h.HandleGetPrice)
	s.AddTool(ToolPerformAction, h.HandlePerformAction)
	s.AddTool(ToolPayForAction, h.HandlePayForAction)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolGetConfig, h.HandleGetConfig)
	s.AddTool(ToolGetLedger, h.HandleGetLedger)

	return s
}
