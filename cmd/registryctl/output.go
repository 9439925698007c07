package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/mbd888/agentregistry/internal/client"
	"github.com/mbd888/agentregistry/internal/ledger"
	"github.com/mbd888/agentregistry/internal/payments"
	"github.com/mbd888/agentregistry/internal/pricing"
	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/settings"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

type printer struct {
	w io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) ok(msg string) {
	green.Fprintf(p.w, "✓ %s\n", msg)
}

func (p *printer) fail(w io.Writer, err error) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Code != "" {
		red.Fprintf(w, "error: %s", apiErr.Code)
		fmt.Fprintf(w, " (%d) %s\n", apiErr.Status, apiErr.Message)
		return
	}
	red.Fprint(w, "error: ")
	fmt.Fprintln(w, err)
}

func (p *printer) field(label string, value any) {
	faint.Fprintf(p.w, "  %-20s", label)
	fmt.Fprintln(p.w, value)
}

func (p *printer) claim(c *client.Claim) {
	p.ok("identity claimed")
	p.field("identity", c.Identity.Hex())
	p.field("key id", c.KeyID)
	cyan.Fprintf(p.w, "  %-20s%s\n", "api key", c.APIKey)
	yellow.Fprintln(p.w, "  Store this key securely. It will not be shown again.")
}

func (p *printer) agent(a *registry.Agent) {
	p.field("owner", a.Owner.Hex())
	p.field("record", a.Address.Hex())
	status := green.Sprint(a.Status())
	if !a.IsActive {
		status = yellow.Sprint(a.Status())
	}
	p.field("status", status)
	p.field("reputation", a.Reputation)
}

func (p *printer) agents(list []*registry.Agent) {
	if len(list) == 0 {
		fmt.Fprintln(p.w, "no agents")
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OWNER\tSTATUS\tREPUTATION")
	for _, a := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", a.Owner.Hex(), a.Status(), a.Reputation)
	}
	_ = tw.Flush()
}

func (p *printer) quote(q *pricing.Quote) {
	p.field("price", q.Price)
	p.field("base price", q.BasePrice)
	p.field("discounted", q.Discounted)
	p.field("reputation", q.Reputation)
}

func (p *printer) receipt(r *payments.Receipt) {
	p.ok("paid action complete")
	p.field("receipt", r.ID)
	p.field("amount", r.Amount)
	p.field("discounted", r.Discounted)
	p.field("treasury", r.Treasury.Hex())
	p.field("reputation", r.Reputation)
}

func (p *printer) config(c *settings.GlobalConfig) {
	p.field("admin", c.Admin.Hex())
	p.field("base price", c.BasePrice)
	p.field("discount threshold", c.DiscountThreshold)
	p.field("discount percent", c.DiscountPercent)
	p.field("min reputation", c.MinReputation)
}

func (p *printer) account(a *ledger.Account) {
	p.field("address", a.Address.Hex())
	p.field("balance", a.Balance)
	p.field("total in", a.TotalIn)
	p.field("total out", a.TotalOut)
}

func (p *printer) ledger(page *client.LedgerPage) {
	if len(page.Entries) == 0 {
		fmt.Fprintln(p.w, "no entries")
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tAMOUNT\tCOUNTERPARTY\tREFERENCE")
	for _, e := range page.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"), e.Type, e.Amount, e.Counterparty.Hex(), e.Reference)
	}
	_ = tw.Flush()
	if page.HasMore {
		faint.Fprintf(p.w, "more: --cursor %s\n", page.NextCursor)
	}
}
