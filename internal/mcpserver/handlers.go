package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbd888/agentregistry/internal/client"
	"github.com/mbd888/agentregistry/internal/ledger"
	"github.com/mbd888/agentregistry/internal/payments"
	"github.com/mbd888/agentregistry/internal/pricing"
	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/settings"
	"github.com/mbd888/agentregistry/internal/validation"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *client.Client
	self   common.Address
}

// NewHandlers creates a new Handlers instance acting as self.
func NewHandlers(c *client.Client, self common.Address) *Handlers {
	return &Handlers{client: c, self: self}
}

// target resolves the optional agent_address argument, defaulting to self.
func (h *Handlers) target(req mcp.CallToolRequest) (common.Address, error) {
	addr := strings.TrimSpace(req.GetString("agent_address", ""))
	if addr == "" {
		return h.self, nil
	}
	owner, err := validation.Identity(addr)
	if err != nil {
		return common.Address{}, fmt.Errorf("agent_address: %w", err)
	}
	return owner, nil
}

// HandleGetAgent returns one agent.
func (h *Handlers) HandleGetAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := h.target(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	agent, err := h.client.GetAgent(ctx, owner)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get agent: %v", err)), nil
	}

	return mcp.NewToolResultText(formatAgent(agent)), nil
}

// HandleListAgents lists registered agents.
func (h *Handlers) HandleListAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	activeOnly := req.GetBool("active_only", false)
	limit := req.GetInt("limit", 20)

	agents, err := h.client.ListAgents(ctx, activeOnly, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list agents: %v", err)), nil
	}

	return mcp.NewToolResultText(formatAgentList(agents)), nil
}

// HandleGetPrice quotes the paid action.
func (h *Handlers) HandleGetPrice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := h.target(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	quote, err := h.client.GetPrice(ctx, owner)
	if err != nil {
		if client.IsCode(err, "low_reputation") {
			return mcp.NewToolResultError("Reputation is below the minimum; the agent cannot pay for actions until it earns more."), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get price: %v", err)), nil
	}

	return mcp.NewToolResultText(formatQuote(quote)), nil
}

// HandlePerformAction runs the free action.
func (h *Handlers) HandlePerformAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := h.client.PerformAction(ctx, h.self)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Action failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Action performed. Reputation is now %d.", agent.Reputation)), nil
}

// HandlePayForAction quotes first, enforces max_price, then pays.
func (h *Handlers) HandlePayForAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	maxPrice := req.GetFloat("max_price", -1)

	if maxPrice >= 0 {
		quote, err := h.client.GetPrice(ctx, h.self)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get price: %v", err)), nil
		}
		if float64(quote.Price) > maxPrice {
			return mcp.NewToolResultError(fmt.Sprintf(
				"Current price %d is above max_price %g. Nothing was charged.", quote.Price, maxPrice)), nil
		}
	}

	receipt, err := h.client.PerformActionWithPayment(ctx, h.self)
	if err != nil {
		if client.IsCode(err, "insufficient_balance") {
			return mcp.NewToolResultError("Insufficient balance. Nothing was charged."), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Paid action failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatReceipt(receipt)), nil
}

// HandleCheckBalance returns the caller's ledger account.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	acct, err := h.client.Balance(ctx, h.self)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	return mcp.NewToolResultText(formatAccount(acct)), nil
}

// HandleGetConfig returns the global config.
func (h *Handlers) HandleGetConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := h.client.GetConfig(ctx)
	if err != nil {
		if client.IsCode(err, "config_not_initialized") {
			return mcp.NewToolResultError("The registry has not been configured yet."), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get config: %v", err)), nil
	}

	return mcp.NewToolResultText(formatConfig(cfg)), nil
}

// HandleGetLedger lists recent ledger entries.
func (h *Handlers) HandleGetLedger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)
	cursor := req.GetString("cursor", "")

	page, err := h.client.Ledger(ctx, h.self, limit, cursor)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get ledger: %v", err)), nil
	}

	return mcp.NewToolResultText(formatLedger(page)), nil
}

// -----------------------------------------------------------------------------
// Formatting
// -----------------------------------------------------------------------------

func formatAgent(a *registry.Agent) string {
	var sb strings.Builder
	sb.WriteString("Agent:\n")
	fmt.Fprintf(&sb, "  Owner:      %s\n", a.Owner.Hex())
	fmt.Fprintf(&sb, "  Record:     %s\n", a.Address.Hex())
	fmt.Fprintf(&sb, "  Status:     %s\n", a.Status())
	fmt.Fprintf(&sb, "  Reputation: %d\n", a.Reputation)
	return sb.String()
}

func formatAgentList(agents []*registry.Agent) string {
	if len(agents) == 0 {
		return "No agents found."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d agent(s):\n\n", len(agents))
	for i, a := range agents {
		fmt.Fprintf(&sb, "%d. %s  %s  reputation %d\n", i+1, a.Owner.Hex(), a.Status(), a.Reputation)
	}
	return sb.String()
}

func formatQuote(q *pricing.Quote) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Price: %d\n", q.Price)
	if q.Discounted {
		fmt.Fprintf(&sb, "  Discounted from %d (reputation %d)\n", q.BasePrice, q.Reputation)
	} else {
		fmt.Fprintf(&sb, "  Base price (reputation %d)\n", q.Reputation)
	}
	return sb.String()
}

func formatReceipt(r *payments.Receipt) string {
	var sb strings.Builder
	sb.WriteString("Paid action complete.\n")
	fmt.Fprintf(&sb, "  Receipt:    %s\n", r.ID)
	fmt.Fprintf(&sb, "  Paid:       %d", r.Amount)
	if r.Discounted {
		sb.WriteString(" (discounted)")
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  Treasury:   %s\n", r.Treasury.Hex())
	fmt.Fprintf(&sb, "  Reputation: %d\n", r.Reputation)
	return sb.String()
}

func formatAccount(a *ledger.Account) string {
	var sb strings.Builder
	sb.WriteString("Balance:\n")
	fmt.Fprintf(&sb, "  Available: %d\n", a.Balance)
	fmt.Fprintf(&sb, "  Total in:  %d\n", a.TotalIn)
	fmt.Fprintf(&sb, "  Total out: %d\n", a.TotalOut)
	return sb.String()
}

func formatConfig(c *settings.GlobalConfig) string {
	var sb strings.Builder
	sb.WriteString("Registry config:\n")
	fmt.Fprintf(&sb, "  Admin:              %s\n", c.Admin.Hex())
	fmt.Fprintf(&sb, "  Base price:         %d\n", c.BasePrice)
	fmt.Fprintf(&sb, "  Discount threshold: %d\n", c.DiscountThreshold)
	fmt.Fprintf(&sb, "  Discount:           %d%%\n", c.DiscountPercent)
	fmt.Fprintf(&sb, "  Min reputation:     %d\n", c.MinReputation)
	return sb.String()
}

func formatLedger(p *client.LedgerPage) string {
	if len(p.Entries) == 0 {
		return "No ledger entries."
	}

	var sb strings.Builder
	for _, e := range p.Entries {
		fmt.Fprintf(&sb, "%s  %-12s %d", e.CreatedAt.UTC().Format("2006-01-02 15:04:05"), e.Type, e.Amount)
		if e.Reference != "" {
			fmt.Fprintf(&sb, "  ref=%s", e.Reference)
		}
		sb.WriteString("\n")
	}
	if p.HasMore {
		fmt.Fprintf(&sb, "\nMore entries available; pass cursor %q.\n", p.NextCursor)
	}
	return sb.String()
}
