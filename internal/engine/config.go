package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/address"
	"github.com/mbd888/agentregistry/internal/authz"
	"github.com/mbd888/agentregistry/internal/logging"
	"github.com/mbd888/agentregistry/internal/realtime"
	"github.com/mbd888/agentregistry/internal/settings"
	"github.com/mbd888/agentregistry/internal/state"
	"github.com/mbd888/agentregistry/internal/traces"
)

// InitializeConfig creates the global config with caller as admin and the
// default pricing. It succeeds once.
func (e *Engine) InitializeConfig(ctx context.Context, caller common.Address) (cfg *settings.GlobalConfig, err error) {
	ctx, finish := e.begin(ctx, "initialize_config", traces.Caller(caller))
	defer func() { err = finish(err) }()

	if err := authz.Authorize(caller, caller); err != nil {
		return nil, err
	}

	cfg = settings.Initialize(caller)
	cfg.Address = address.Config()
	if err := e.store.Update(ctx, func(tx state.Tx) error {
		return tx.CreateConfig(ctx, cfg)
	}); err != nil {
		return nil, err
	}

	logging.L(ctx).Info("config initialized", "admin", caller.Hex())
	e.publish(realtime.EventConfigUpdated, configEvent(cfg))
	return cfg, nil
}

// UpdatePricingConfig replaces all four pricing fields. Only the admin may
// do this; a rejected update changes nothing.
func (e *Engine) UpdatePricingConfig(ctx context.Context, admin common.Address, u settings.PricingUpdate) (cfg *settings.GlobalConfig, err error) {
	ctx, finish := e.begin(ctx, "update_pricing_config", traces.Caller(admin))
	defer func() { err = finish(err) }()

	err = e.store.Update(ctx, func(tx state.Tx) error {
		c, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		if err := settings.UpdatePricing(admin, c, u); err != nil {
			return err
		}
		cfg = c
		return tx.UpdateConfig(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	logging.L(ctx).Info("pricing updated",
		"base_price", cfg.BasePrice,
		"discount_threshold", cfg.DiscountThreshold,
		"discount_percent", cfg.DiscountPercent,
		"min_reputation", cfg.MinReputation,
	)
	e.publish(realtime.EventConfigUpdated, configEvent(cfg))
	return cfg, nil
}

// GetConfig returns the global config.
func (e *Engine) GetConfig(ctx context.Context) (cfg *settings.GlobalConfig, err error) {
	err = e.store.View(ctx, func(tx state.Tx) error {
		cfg, err = tx.Config(ctx)
		return err
	})
	return cfg, err
}

func configEvent(c *settings.GlobalConfig) map[string]any {
	return map[string]any{
		"admin":             c.Admin.Hex(),
		"basePrice":         c.BasePrice,
		"discountThreshold": c.DiscountThreshold,
		"discountPercent":   c.DiscountPercent,
		"minReputation":     c.MinReputation,
	}
}
