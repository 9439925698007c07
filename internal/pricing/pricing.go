// Package pricing computes what an agent pays for a gated action.
//
// Agents at or above the discount threshold pay
// floor(base * (100 - discount) / 100); everyone else pays the base price.
// Agents below the reputation floor are not eligible at all.
package pricing

import (
	"errors"

	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/safemath"
	"github.com/mbd888/agentregistry/internal/settings"
)

// ErrLowReputation is returned for agents below the configured floor.
var ErrLowReputation = errors.New("pricing: reputation below minimum")

const percentDenominator = 100

// Quote is a price together with the inputs that produced it.
type Quote struct {
	Price      uint64 `json:"price"`
	BasePrice  uint64 `json:"basePrice"`
	Discounted bool   `json:"discounted"`
	Reputation uint64 `json:"reputation"`
}

// Compute quotes the price agent pays under cfg. It never modifies either.
func Compute(agent *registry.Agent, cfg *settings.GlobalConfig) (*Quote, error) {
	if err := agent.RequireActive(); err != nil {
		return nil, err
	}
	if agent.Reputation < cfg.MinReputation {
		return nil, ErrLowReputation
	}

	q := &Quote{
		Price:      cfg.BasePrice,
		BasePrice:  cfg.BasePrice,
		Reputation: agent.Reputation,
	}
	if agent.Reputation < cfg.DiscountThreshold {
		return q, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scaled, err := safemath.Mul(cfg.BasePrice, percentDenominator-uint64(cfg.DiscountPercent))
	if err != nil {
		return nil, err
	}
	q.Price = scaled / percentDenominator
	q.Discounted = true
	return q, nil
}
