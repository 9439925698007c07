package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/address"
	"github.com/mbd888/agentregistry/internal/authz"
	"github.com/mbd888/agentregistry/internal/logging"
	"github.com/mbd888/agentregistry/internal/metrics"
	"github.com/mbd888/agentregistry/internal/realtime"
	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/reputation"
	"github.com/mbd888/agentregistry/internal/state"
	"github.com/mbd888/agentregistry/internal/traces"
)

// Register creates an active agent owned by caller with zero reputation.
func (e *Engine) Register(ctx context.Context, caller common.Address) (agent *registry.Agent, err error) {
	ctx, finish := e.begin(ctx, "register", traces.Caller(caller))
	defer func() { err = finish(err) }()

	// The zero identity never authorizes anything, including itself.
	if err := authz.Authorize(caller, caller); err != nil {
		return nil, err
	}

	agent = registry.Register(caller)
	agent.Address = address.Agent(caller)
	if err := e.store.Update(ctx, func(tx state.Tx) error {
		return tx.CreateAgent(ctx, agent)
	}); err != nil {
		return nil, err
	}

	metrics.RegisteredAgents.Inc()
	logging.L(ctx).Info("agent registered", "owner", caller.Hex(), "address", agent.Address.Hex())
	e.publish(realtime.EventAgentRegistered, agentEvent(agent))
	return agent, nil
}

// Deactivate marks owner's agent inactive. Only the owner may do this.
func (e *Engine) Deactivate(ctx context.Context, caller, owner common.Address) (*registry.Agent, error) {
	return e.transition(ctx, "deactivate", caller, owner, registry.Deactivate, realtime.EventAgentDeactivated)
}

// Reactivate marks owner's agent active again. Only the owner may do this.
func (e *Engine) Reactivate(ctx context.Context, caller, owner common.Address) (*registry.Agent, error) {
	return e.transition(ctx, "reactivate", caller, owner, registry.Reactivate, realtime.EventAgentReactivated)
}

func (e *Engine) transition(
	ctx context.Context,
	op string,
	caller, owner common.Address,
	apply func(common.Address, *registry.Agent) error,
	event realtime.EventType,
) (agent *registry.Agent, err error) {
	ctx, finish := e.begin(ctx, op, traces.Caller(caller), traces.AgentOwner(owner))
	defer func() { err = finish(err) }()

	err = e.store.Update(ctx, func(tx state.Tx) error {
		a, err := tx.Agent(ctx, owner)
		if err != nil {
			return err
		}
		if err := apply(caller, a); err != nil {
			return err
		}
		agent = a
		return tx.UpdateAgent(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	logging.L(ctx).Info("agent "+agent.Status(), "owner", owner.Hex())
	e.publish(event, agentEvent(agent))
	return agent, nil
}

// PerformAction awards one reputation point to caller's active agent.
func (e *Engine) PerformAction(ctx context.Context, caller common.Address) (agent *registry.Agent, err error) {
	ctx, finish := e.begin(ctx, "perform_action", traces.Caller(caller))
	defer func() { err = finish(err) }()

	err = e.store.Update(ctx, func(tx state.Tx) error {
		a, err := tx.Agent(ctx, caller)
		if err != nil {
			return err
		}
		if err := reputation.PerformAction(a); err != nil {
			return err
		}
		agent = a
		return tx.UpdateAgent(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	metrics.ReputationAwardedTotal.Inc()
	logging.L(ctx).Info("action performed", "owner", caller.Hex(), "reputation", agent.Reputation)
	e.publish(realtime.EventReputation, reputationEvent(agent, "action", 1))
	return agent, nil
}

// Penalize removes amount reputation points from owner's agent. Only the
// config admin may penalize.
func (e *Engine) Penalize(ctx context.Context, admin, owner common.Address, amount uint64) (agent *registry.Agent, err error) {
	ctx, finish := e.begin(ctx, "penalize",
		traces.Caller(admin), traces.AgentOwner(owner), traces.Amount(amount))
	defer func() { err = finish(err) }()

	err = e.store.Update(ctx, func(tx state.Tx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		a, err := tx.Agent(ctx, owner)
		if err != nil {
			return err
		}
		if err := reputation.Penalize(admin, cfg, a, amount); err != nil {
			return err
		}
		agent = a
		return tx.UpdateAgent(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	metrics.ReputationPenalizedTotal.Add(float64(amount))
	logging.L(ctx).Info("agent penalized", "owner", owner.Hex(), "amount", amount, "reputation", agent.Reputation)
	e.publish(realtime.EventReputation, reputationEvent(agent, "penalty", -int64(amount)))
	return agent, nil
}

// GetAgent returns owner's agent.
func (e *Engine) GetAgent(ctx context.Context, owner common.Address) (agent *registry.Agent, err error) {
	err = e.store.View(ctx, func(tx state.Tx) error {
		agent, err = tx.Agent(ctx, owner)
		return err
	})
	return agent, err
}

// ListAgents pages through registered agents in registration order.
func (e *Engine) ListAgents(ctx context.Context, opts state.ListOptions) ([]*registry.Agent, error) {
	return e.store.ListAgents(ctx, opts)
}

func agentEvent(a *registry.Agent) map[string]any {
	return map[string]any{
		"owner":      a.Owner.Hex(),
		"address":    a.Address.Hex(),
		"status":     a.Status(),
		"reputation": a.Reputation,
	}
}

func reputationEvent(a *registry.Agent, reason string, delta int64) map[string]any {
	data := agentEvent(a)
	data["reason"] = reason
	data["delta"] = delta
	return data
}
