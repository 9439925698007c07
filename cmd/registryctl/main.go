// Command registryctl drives the agent registry API from a terminal.
//
// Usage:
//
//	registryctl identity claim 0xabc...          # Issue the first API key
//	registryctl agent register                   # Register the key's agent
//	registryctl price 0xabc...                   # Quote a paid action
//	registryctl pay 0xabc...                     # Pay and act atomically
//	registryctl config update --base-price 250   # Admin pricing change
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/mbd888/agentregistry/internal/client"
	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/settings"
	"github.com/mbd888/agentregistry/internal/validation"
)

type cli struct {
	app *kingpin.Application

	apiURL      *string
	apiKey      *string
	adminSecret *string
	noColor     *bool

	claimCmd     *kingpin.CmdClause
	claimAddress *string
	claimName    *string

	registerCmd   *kingpin.CmdClause
	deactivateCmd *kingpin.CmdClause
	deactivateArg *string
	reactivateCmd *kingpin.CmdClause
	reactivateArg *string
	showCmd       *kingpin.CmdClause
	showArg       *string
	listCmd       *kingpin.CmdClause
	listActive    *bool
	listLimit     *int
	listOffset    *int

	actCmd       *kingpin.CmdClause
	actOwner     *string
	payCmd       *kingpin.CmdClause
	payOwner     *string
	priceCmd     *kingpin.CmdClause
	priceOwner   *string
	penalizeCmd  *kingpin.CmdClause
	penalizeArg  *string
	penalizeAmnt *uint64

	configInitCmd   *kingpin.CmdClause
	configShowCmd   *kingpin.CmdClause
	configUpdateCmd *kingpin.CmdClause
	basePrice       *uint64
	basePriceSet    bool
	threshold       *uint64
	thresholdSet    bool
	percent         *uint8
	percentSet      bool
	minRep          *uint64
	minRepSet       bool

	balanceCmd   *kingpin.CmdClause
	balanceArg   *string
	treasuryCmd  *kingpin.CmdClause
	ledgerCmd    *kingpin.CmdClause
	ledgerArg    *string
	ledgerLimit  *int
	ledgerCursor *string
	depositCmd   *kingpin.CmdClause
	depositArg   *string
	depositAmnt  *uint64
	depositRef   *string
}

func newCLI() *cli {
	c := &cli{app: kingpin.New("registryctl", "Command-line client for the agent registry")}
	app := c.app

	c.apiURL = app.Flag("url", "Registry API base URL").Envar("REGISTRY_URL").Default("http://localhost:8080").String()
	c.apiKey = app.Flag("api-key", "API key (ark_...)").Envar("REGISTRY_API_KEY").String()
	c.adminSecret = app.Flag("admin-secret", "Operator secret for admin routes").Envar("ADMIN_SECRET").String()
	c.noColor = app.Flag("no-color", "Disable colored output").Bool()

	// Identity
	identity := app.Command("identity", "Identity commands")
	c.claimCmd = identity.Command("claim", "Claim an identity and receive its first API key")
	c.claimAddress = c.claimCmd.Arg("address", "Identity address").Required().String()
	c.claimName = c.claimCmd.Flag("name", "Key label").Default("registryctl").String()

	// Agents
	agent := app.Command("agent", "Agent lifecycle commands")
	c.registerCmd = agent.Command("register", "Register the agent owned by the API key's identity")
	c.deactivateCmd = agent.Command("deactivate", "Deactivate an agent")
	c.deactivateArg = c.deactivateCmd.Arg("owner", "Owner address").Required().String()
	c.reactivateCmd = agent.Command("reactivate", "Reactivate an agent")
	c.reactivateArg = c.reactivateCmd.Arg("owner", "Owner address").Required().String()
	c.showCmd = agent.Command("show", "Show an agent")
	c.showArg = c.showCmd.Arg("owner", "Owner address").Required().String()
	c.listCmd = agent.Command("list", "List agents")
	c.listActive = c.listCmd.Flag("active", "Only active agents").Bool()
	c.listLimit = c.listCmd.Flag("limit", "Page size").Default("50").Int()
	c.listOffset = c.listCmd.Flag("offset", "Page offset").Default("0").Int()

	// Actions and pricing
	c.actCmd = app.Command("act", "Perform the free action")
	c.actOwner = c.actCmd.Arg("owner", "Owner address (must match the API key)").Required().String()
	c.payCmd = app.Command("pay", "Pay the quoted price and perform the action")
	c.payOwner = c.payCmd.Arg("owner", "Owner address (must match the API key)").Required().String()
	c.priceCmd = app.Command("price", "Quote the paid action for an agent")
	c.priceOwner = c.priceCmd.Arg("owner", "Owner address").Required().String()
	c.penalizeCmd = app.Command("penalize", "Lower an agent's reputation (admin)")
	c.penalizeArg = c.penalizeCmd.Arg("owner", "Owner address").Required().String()
	c.penalizeAmnt = c.penalizeCmd.Arg("amount", "Points to remove").Required().Uint64()

	// Config
	config := app.Command("config", "Global configuration")
	c.configInitCmd = config.Command("init", "Initialize the config; the API key's identity becomes admin")
	c.configShowCmd = config.Command("show", "Show the config")
	c.configUpdateCmd = config.Command("update", "Update pricing (admin); unset flags keep their current value")
	c.basePrice = c.configUpdateCmd.Flag("base-price", "Base price").IsSetByUser(&c.basePriceSet).Uint64()
	c.threshold = c.configUpdateCmd.Flag("discount-threshold", "Reputation that unlocks the discount").IsSetByUser(&c.thresholdSet).Uint64()
	c.percent = c.configUpdateCmd.Flag("discount-percent", "Discount percent (0-100)").IsSetByUser(&c.percentSet).Uint8()
	c.minRep = c.configUpdateCmd.Flag("min-reputation", "Minimum reputation for paid actions").IsSetByUser(&c.minRepSet).Uint64()

	// Ledger
	c.balanceCmd = app.Command("balance", "Show an account balance")
	c.balanceArg = c.balanceCmd.Arg("address", "Account address").Required().String()
	c.treasuryCmd = app.Command("treasury", "Show the treasury account")
	c.ledgerCmd = app.Command("ledger", "Show ledger history, newest first")
	c.ledgerArg = c.ledgerCmd.Arg("address", "Account address").Required().String()
	c.ledgerLimit = c.ledgerCmd.Flag("limit", "Page size").Default("20").Int()
	c.ledgerCursor = c.ledgerCmd.Flag("cursor", "Continue from a previous page").String()
	c.depositCmd = app.Command("deposit", "Credit an account (admin secret)")
	c.depositArg = c.depositCmd.Arg("address", "Account address").Required().String()
	c.depositAmnt = c.depositCmd.Arg("amount", "Amount to credit").Required().Uint64()
	c.depositRef = c.depositCmd.Flag("ref", "External reference").String()

	return c
}

func main() {
	c := newCLI()
	command := kingpin.MustParse(c.app.Parse(os.Args[1:]))
	if *c.noColor {
		color.NoColor = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(client.Config{
		APIURL:      *c.apiURL,
		APIKey:      *c.apiKey,
		AdminSecret: *c.adminSecret,
	})
	p := newPrinter(os.Stdout)

	if err := c.run(ctx, command, api, p); err != nil {
		p.fail(os.Stderr, err)
		os.Exit(1)
	}
}

// run dispatches the parsed command.
func (c *cli) run(ctx context.Context, command string, api *client.Client, p *printer) error {
	switch command {
	case c.claimCmd.FullCommand():
		addr, err := parseAddress(*c.claimAddress)
		if err != nil {
			return err
		}
		res, err := api.ClaimIdentity(ctx, addr, *c.claimName)
		if err != nil {
			return err
		}
		p.claim(res)

	case c.registerCmd.FullCommand():
		agent, err := api.Register(ctx)
		if err != nil {
			return err
		}
		p.ok("agent registered")
		p.agent(agent)

	case c.deactivateCmd.FullCommand(), c.reactivateCmd.FullCommand(), c.showCmd.FullCommand(),
		c.actCmd.FullCommand(), c.penalizeCmd.FullCommand():
		return c.runAgent(ctx, command, api, p)

	case c.listCmd.FullCommand():
		agents, err := api.ListAgents(ctx, *c.listActive, *c.listLimit, *c.listOffset)
		if err != nil {
			return err
		}
		p.agents(agents)

	case c.payCmd.FullCommand():
		owner, err := parseAddress(*c.payOwner)
		if err != nil {
			return err
		}
		receipt, err := api.PerformActionWithPayment(ctx, owner)
		if err != nil {
			return err
		}
		p.receipt(receipt)

	case c.priceCmd.FullCommand():
		owner, err := parseAddress(*c.priceOwner)
		if err != nil {
			return err
		}
		quote, err := api.GetPrice(ctx, owner)
		if err != nil {
			return err
		}
		p.quote(quote)

	case c.configInitCmd.FullCommand():
		cfg, err := api.InitializeConfig(ctx)
		if err != nil {
			return err
		}
		p.ok("config initialized")
		p.config(cfg)

	case c.configShowCmd.FullCommand():
		cfg, err := api.GetConfig(ctx)
		if err != nil {
			return err
		}
		p.config(cfg)

	case c.configUpdateCmd.FullCommand():
		current, err := api.GetConfig(ctx)
		if err != nil {
			return err
		}
		cfg, err := api.UpdatePricing(ctx, c.pricingUpdate(current))
		if err != nil {
			return err
		}
		p.ok("pricing updated")
		p.config(cfg)

	case c.balanceCmd.FullCommand():
		addr, err := parseAddress(*c.balanceArg)
		if err != nil {
			return err
		}
		acct, err := api.Balance(ctx, addr)
		if err != nil {
			return err
		}
		p.account(acct)

	case c.treasuryCmd.FullCommand():
		acct, err := api.Treasury(ctx)
		if err != nil {
			return err
		}
		p.account(acct)

	case c.ledgerCmd.FullCommand():
		addr, err := parseAddress(*c.ledgerArg)
		if err != nil {
			return err
		}
		page, err := api.Ledger(ctx, addr, *c.ledgerLimit, *c.ledgerCursor)
		if err != nil {
			return err
		}
		p.ledger(page)

	case c.depositCmd.FullCommand():
		addr, err := parseAddress(*c.depositArg)
		if err != nil {
			return err
		}
		acct, err := api.Deposit(ctx, addr, *c.depositAmnt, *c.depositRef)
		if err != nil {
			return err
		}
		p.ok("deposit credited")
		p.account(acct)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func (c *cli) runAgent(ctx context.Context, command string, api *client.Client, p *printer) error {
	var (
		raw  string
		call func(common.Address) (*registry.Agent, error)
		done string
	)
	switch command {
	case c.deactivateCmd.FullCommand():
		raw, done = *c.deactivateArg, "agent deactivated"
		call = func(a common.Address) (*registry.Agent, error) { return api.Deactivate(ctx, a) }
	case c.reactivateCmd.FullCommand():
		raw, done = *c.reactivateArg, "agent reactivated"
		call = func(a common.Address) (*registry.Agent, error) { return api.Reactivate(ctx, a) }
	case c.showCmd.FullCommand():
		raw = *c.showArg
		call = func(a common.Address) (*registry.Agent, error) { return api.GetAgent(ctx, a) }
	case c.actCmd.FullCommand():
		raw, done = *c.actOwner, "action performed"
		call = func(a common.Address) (*registry.Agent, error) { return api.PerformAction(ctx, a) }
	case c.penalizeCmd.FullCommand():
		raw, done = *c.penalizeArg, "penalty applied"
		call = func(a common.Address) (*registry.Agent, error) { return api.Penalize(ctx, a, *c.penalizeAmnt) }
	}

	owner, err := parseAddress(raw)
	if err != nil {
		return err
	}
	res, err := call(owner)
	if err != nil {
		return err
	}
	if done != "" {
		p.ok(done)
	}
	p.agent(res)
	return nil
}

// pricingUpdate overlays the flags the user set on the current config.
func (c *cli) pricingUpdate(current *settings.GlobalConfig) settings.PricingUpdate {
	u := settings.PricingUpdate{
		BasePrice:         current.BasePrice,
		DiscountThreshold: current.DiscountThreshold,
		DiscountPercent:   current.DiscountPercent,
		MinReputation:     current.MinReputation,
	}
	if c.basePriceSet {
		u.BasePrice = *c.basePrice
	}
	if c.thresholdSet {
		u.DiscountThreshold = *c.threshold
	}
	if c.percentSet {
		u.DiscountPercent = *c.percent
	}
	if c.minRepSet {
		u.MinReputation = *c.minRep
	}
	return u
}

func parseAddress(s string) (common.Address, error) {
	return validation.Identity(s)
}
