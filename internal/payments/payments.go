// Package payments implements the payment-gated action: an agent pays the
// computed price to the treasury and gains one reputation point, or nothing
// happens at all.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/idgen"
	"github.com/mbd888/agentregistry/internal/pricing"
	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/reputation"
	"github.com/mbd888/agentregistry/internal/settings"
)

// Transferer moves value between identities. Implementations must either
// complete the whole transfer or leave both sides unchanged.
type Transferer interface {
	Transfer(ctx context.Context, from, to common.Address, amount uint64, reference string) error
}

// Receipt records a completed paid action.
type Receipt struct {
	ID         string         `json:"id"`
	Payer      common.Address `json:"payer"`
	Agent      common.Address `json:"agent"`
	Treasury   common.Address `json:"treasury"`
	Amount     uint64         `json:"amount"`
	Discounted bool           `json:"discounted"`
	Reputation uint64         `json:"reputation"` // After the action
	CreatedAt  time.Time      `json:"createdAt"`
}

// Perform charges caller the agent's current price and awards one reputation
// point. Every check, including the next reputation value, is evaluated before
// the transfer; the agent is written only after the transfer succeeds.
func Perform(
	ctx context.Context,
	caller common.Address,
	agent *registry.Agent,
	cfg *settings.GlobalConfig,
	treasury common.Address,
	transferer Transferer,
) (*Receipt, error) {
	quote, err := pricing.Compute(agent, cfg)
	if err != nil {
		return nil, err
	}
	next, err := reputation.Next(agent)
	if err != nil {
		return nil, err
	}

	receiptID := idgen.WithPrefix("rcpt_")
	if err := transferer.Transfer(ctx, caller, treasury, quote.Price, receiptID); err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}

	now := time.Now()
	agent.Reputation = next
	agent.UpdatedAt = now

	return &Receipt{
		ID:         receiptID,
		Payer:      caller,
		Agent:      agent.Address,
		Treasury:   treasury,
		Amount:     quote.Price,
		Discounted: quote.Discounted,
		Reputation: next,
		CreatedAt:  now,
	}, nil
}
