package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the agent registry MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetAgent = mcp.NewTool("get_agent",
	mcp.WithDescription(
		"Look up a registered agent: whether it is active and its reputation score. "+
			"Defaults to your own agent."),
	mcp.WithString("agent_address",
		mcp.Description("Owner address of the agent (e.g. '0x1234...'). Omit for your own agent.")),
)

var ToolListAgents = mcp.NewTool("list_agents",
	mcp.WithDescription(
		"Browse registered agents in creation order."),
	mcp.WithBoolean("active_only",
		mcp.Description("Only return active agents")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of agents to return (default 20)")),
)

var ToolGetPrice = mcp.NewTool("get_price",
	mcp.WithDescription(
		"Quote the price of a paid action. Agents at or above the discount threshold pay a reduced price; "+
			"agents below the minimum reputation cannot pay at all."),
	mcp.WithString("agent_address",
		mcp.Description("Owner address of the agent to quote. Omit for your own agent.")),
)

var ToolPerformAction = mcp.NewTool("perform_action",
	mcp.WithDescription(
		"Perform a free action with your agent. Earns one reputation point."),
)

var ToolPayForAction = mcp.NewTool("pay_for_action",
	mcp.WithDescription(
		"Pay the quoted price into the treasury and perform an action with your agent, atomically. "+
			"Earns one reputation point. Nothing is charged if any check fails."),
	mcp.WithNumber("max_price",
		mcp.Description("Refuse to pay if the current quote is above this amount")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check your ledger balance and lifetime totals."),
)

var ToolGetConfig = mcp.NewTool("get_config",
	mcp.WithDescription(
		"Show the registry's global pricing configuration: base price, discount threshold and percent, "+
			"and minimum reputation."),
)

var ToolGetLedger = mcp.NewTool("get_ledger",
	mcp.WithDescription(
		"List your recent ledger entries, newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of entries (default 10)")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous get_ledger result to fetch older entries")),
)
