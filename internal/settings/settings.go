// Package settings holds the singleton pricing and eligibility configuration
// and the admin-gated rules for creating and changing it.
package settings

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/authz"
)

// ErrInvalidDiscount is returned when a discount percent above 100 is requested.
var ErrInvalidDiscount = errors.New("settings: discount percent must be within 0-100")

// Defaults written by Initialize.
const (
	DefaultBasePrice         uint64 = 100
	DefaultDiscountThreshold uint64 = 50
	DefaultDiscountPercent   uint8  = 50
	DefaultMinReputation     uint64 = 10

	// MaxDiscountPercent bounds DiscountPercent at all times.
	MaxDiscountPercent uint8 = 100
)

// GlobalConfig is the singleton record read by every price computation.
type GlobalConfig struct {
	Address           common.Address `json:"address"` // Derived record address
	Admin             common.Address `json:"admin"`
	BasePrice         uint64         `json:"basePrice"`
	DiscountThreshold uint64         `json:"discountThreshold"` // Reputation level that unlocks the discount
	DiscountPercent   uint8          `json:"discountPercent"`   // 0-100
	MinReputation     uint64         `json:"minReputation"`     // Eligibility floor
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// PricingUpdate carries the four fields replaced together by UpdatePricing.
type PricingUpdate struct {
	BasePrice         uint64 `json:"basePrice"`
	DiscountThreshold uint64 `json:"discountThreshold"`
	DiscountPercent   uint8  `json:"discountPercent"`
	MinReputation     uint64 `json:"minReputation"`
}

// Initialize returns a fresh configuration administered by caller. Whether a
// configuration already exists is the storage layer's concern.
func Initialize(caller common.Address) *GlobalConfig {
	return &GlobalConfig{
		Admin:             caller,
		BasePrice:         DefaultBasePrice,
		DiscountThreshold: DefaultDiscountThreshold,
		DiscountPercent:   DefaultDiscountPercent,
		MinReputation:     DefaultMinReputation,
		UpdatedAt:         time.Now(),
	}
}

// UpdatePricing replaces all four pricing fields of cfg. Every check runs
// before any field is written; a rejected update leaves cfg untouched.
func UpdatePricing(admin common.Address, cfg *GlobalConfig, u PricingUpdate) error {
	if err := authz.Authorize(admin, cfg.Admin); err != nil {
		return err
	}
	if err := u.Validate(); err != nil {
		return err
	}

	cfg.BasePrice = u.BasePrice
	cfg.DiscountThreshold = u.DiscountThreshold
	cfg.DiscountPercent = u.DiscountPercent
	cfg.MinReputation = u.MinReputation
	cfg.UpdatedAt = time.Now()
	return nil
}

// Validate checks the update's field bounds.
func (u PricingUpdate) Validate() error {
	if u.DiscountPercent > MaxDiscountPercent {
		return ErrInvalidDiscount
	}
	return nil
}

// Validate checks the stored invariant on an existing configuration.
func (c *GlobalConfig) Validate() error {
	if c.DiscountPercent > MaxDiscountPercent {
		return ErrInvalidDiscount
	}
	return nil
}
