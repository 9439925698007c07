// Package reputation implements the bounded reputation rules for agents.
//
// Reputation is a whole-unit counter:
//   - an active agent earns one point per self-service action
//   - the admin can remove up to MaxPenaltyPerAction points at a time
//
// It never goes negative and never wraps.
package reputation

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/authz"
	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/safemath"
	"github.com/mbd888/agentregistry/internal/settings"
)

// MaxPenaltyPerAction caps a single penalty.
const MaxPenaltyPerAction uint64 = 10

var (
	ErrAlreadyZero     = errors.New("reputation: agent reputation is already zero")
	ErrPenaltyTooLarge = errors.New("reputation: penalty must be between 1 and 10")
	ErrChoosePenalty   = errors.New("reputation: penalty exceeds current reputation")
)

// Next returns the reputation an active agent would hold after one action,
// without modifying it.
func Next(agent *registry.Agent) (uint64, error) {
	if err := agent.RequireActive(); err != nil {
		return 0, err
	}
	return safemath.Inc(agent.Reputation)
}

// PerformAction awards one reputation point to an active agent.
func PerformAction(agent *registry.Agent) error {
	next, err := Next(agent)
	if err != nil {
		return err
	}

	agent.Reputation = next
	agent.UpdatedAt = time.Now()
	return nil
}

// Penalize removes amount points from agent. Only cfg.Admin may penalize.
// Checks run in a fixed order and the first failure wins.
func Penalize(admin common.Address, cfg *settings.GlobalConfig, agent *registry.Agent, amount uint64) error {
	if err := authz.Authorize(admin, cfg.Admin); err != nil {
		return err
	}
	if err := agent.RequireActive(); err != nil {
		return err
	}
	if agent.Reputation == 0 {
		return ErrAlreadyZero
	}
	if amount == 0 || amount > MaxPenaltyPerAction {
		return ErrPenaltyTooLarge
	}
	if amount > agent.Reputation {
		return ErrChoosePenalty
	}

	next, err := safemath.Sub(agent.Reputation, amount)
	if err != nil {
		return err
	}

	agent.Reputation = next
	agent.UpdatedAt = time.Now()
	return nil
}
