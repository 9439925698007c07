// Package registry implements the agent record and its lifecycle.
//
// States:
//
//	Unregistered --register--> Active <--deactivate/reactivate--> Inactive
//
// Only the owning identity moves an agent between Active and Inactive.
package registry

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrAlreadyInactive = errors.New("registry: agent is already inactive")
	ErrAlreadyActive   = errors.New("registry: agent is already active")
	ErrAgentInactive   = errors.New("registry: agent is inactive")
)

// -----------------------------------------------------------------------------
// Core Types
// -----------------------------------------------------------------------------

// Agent is a registered participant. Owner is a plain comparable identity used
// for authorization; it carries no ownership or lifetime semantics.
type Agent struct {
	Address    common.Address `json:"address"` // Derived record address
	Owner      common.Address `json:"owner"`   // Controlling identity
	IsActive   bool           `json:"isActive"`
	Reputation uint64         `json:"reputation"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Status returns "active" or "inactive".
func (a *Agent) Status() string {
	if a.IsActive {
		return "active"
	}
	return "inactive"
}

// RequireActive returns ErrAgentInactive unless the agent is active.
func (a *Agent) RequireActive() error {
	if !a.IsActive {
		return ErrAgentInactive
	}
	return nil
}

// Clone returns an independent copy.
func (a *Agent) Clone() *Agent {
	cp := *a
	return &cp
}
