package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/logging"
	"github.com/mbd888/agentregistry/internal/metrics"
	"github.com/mbd888/agentregistry/internal/payments"
	"github.com/mbd888/agentregistry/internal/pricing"
	"github.com/mbd888/agentregistry/internal/realtime"
	"github.com/mbd888/agentregistry/internal/state"
	"github.com/mbd888/agentregistry/internal/traces"
)

// GetPrice quotes what owner's agent pays for a paid action. Read-only.
func (e *Engine) GetPrice(ctx context.Context, owner common.Address) (quote *pricing.Quote, err error) {
	ctx, finish := e.begin(ctx, "get_price", traces.AgentOwner(owner))
	defer func() { err = finish(err) }()

	err = e.store.View(ctx, func(tx state.Tx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		agent, err := tx.Agent(ctx, owner)
		if err != nil {
			return err
		}
		quote, err = pricing.Compute(agent, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// PerformActionWithPayment charges caller the current price into the
// treasury and awards caller's agent one reputation point, atomically.
func (e *Engine) PerformActionWithPayment(ctx context.Context, caller common.Address) (receipt *payments.Receipt, err error) {
	ctx, finish := e.begin(ctx, "perform_action_with_payment", traces.Caller(caller))
	defer func() { err = finish(err) }()

	err = e.store.Update(ctx, func(tx state.Tx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		agent, err := tx.Agent(ctx, caller)
		if err != nil {
			return err
		}
		r, err := payments.Perform(ctx, caller, agent, cfg, e.treasury, e.transfers(tx))
		if err != nil {
			return err
		}
		receipt = r
		return tx.UpdateAgent(ctx, agent)
	})
	if err != nil {
		return nil, err
	}

	tier := "base"
	if receipt.Discounted {
		tier = "discounted"
	}
	metrics.PaymentsTotal.WithLabelValues(tier).Inc()
	metrics.PaymentVolume.Add(float64(receipt.Amount))
	metrics.ReputationAwardedTotal.Inc()

	logging.L(ctx).Info("paid action committed",
		"receipt", receipt.ID,
		"payer", caller.Hex(),
		"amount", receipt.Amount,
		"reputation", receipt.Reputation,
	)
	e.publish(realtime.EventPayment, map[string]any{
		"receipt":    receipt.ID,
		"payer":      caller.Hex(),
		"owner":      caller.Hex(),
		"treasury":   receipt.Treasury.Hex(),
		"amount":     receipt.Amount,
		"discounted": receipt.Discounted,
		"reputation": receipt.Reputation,
	})
	return receipt, nil
}
