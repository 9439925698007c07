package settings

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/authz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	adminAddr = common.HexToAddress("0xad00000000000000000000000000000000000001")
	otherAddr = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestInitialize_Defaults(t *testing.T) {
	cfg := Initialize(adminAddr)

	assert.Equal(t, adminAddr, cfg.Admin)
	assert.Equal(t, uint64(100), cfg.BasePrice)
	assert.Equal(t, uint64(50), cfg.DiscountThreshold)
	assert.Equal(t, uint8(50), cfg.DiscountPercent)
	assert.Equal(t, uint64(10), cfg.MinReputation)
	assert.NoError(t, cfg.Validate())
}

func TestUpdatePricing_OverwritesAllFields(t *testing.T) {
	cfg := Initialize(adminAddr)

	err := UpdatePricing(adminAddr, cfg, PricingUpdate{
		BasePrice:         250,
		DiscountThreshold: 20,
		DiscountPercent:   100,
		MinReputation:     0,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(250), cfg.BasePrice)
	assert.Equal(t, uint64(20), cfg.DiscountThreshold)
	assert.Equal(t, uint8(100), cfg.DiscountPercent)
	assert.Equal(t, uint64(0), cfg.MinReputation)
	assert.Equal(t, adminAddr, cfg.Admin, "admin is never changed by a pricing update")
}

func TestUpdatePricing_InvalidDiscountLeavesConfigUnchanged(t *testing.T) {
	cfg := Initialize(adminAddr)
	before := *cfg

	err := UpdatePricing(adminAddr, cfg, PricingUpdate{
		BasePrice:         1,
		DiscountThreshold: 2,
		DiscountPercent:   101,
		MinReputation:     3,
	})
	require.True(t, errors.Is(err, ErrInvalidDiscount), "got %v", err)
	assert.Equal(t, before, *cfg)
}

func TestUpdatePricing_NonAdminRejected(t *testing.T) {
	cfg := Initialize(adminAddr)
	before := *cfg

	// Authorization is checked before validation.
	err := UpdatePricing(otherAddr, cfg, PricingUpdate{DiscountPercent: 101})
	require.True(t, errors.Is(err, authz.ErrUnauthorized), "got %v", err)
	assert.Equal(t, before, *cfg)
}
