package registry

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/authz"
)

// Register returns a new active agent owned by caller with zero reputation.
// Rejecting a second registration for the same owner is left to storage.
func Register(caller common.Address) *Agent {
	now := time.Now()
	return &Agent{
		Owner:      caller,
		IsActive:   true,
		Reputation: 0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Deactivate marks an active agent inactive. Only the owner may do this.
func Deactivate(caller common.Address, agent *Agent) error {
	if err := authz.Authorize(caller, agent.Owner); err != nil {
		return err
	}
	if !agent.IsActive {
		return ErrAlreadyInactive
	}

	agent.IsActive = false
	agent.UpdatedAt = time.Now()
	return nil
}

// Reactivate marks an inactive agent active again. Only the owner may do this.
func Reactivate(caller common.Address, agent *Agent) error {
	if err := authz.Authorize(caller, agent.Owner); err != nil {
		return err
	}
	if agent.IsActive {
		return ErrAlreadyActive
	}

	agent.IsActive = true
	agent.UpdatedAt = time.Now()
	return nil
}
