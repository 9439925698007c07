package engine

import (
	"errors"
	"net/http"

	"github.com/mbd888/agentregistry/internal/authz"
	"github.com/mbd888/agentregistry/internal/ledger"
	"github.com/mbd888/agentregistry/internal/pricing"
	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/reputation"
	"github.com/mbd888/agentregistry/internal/safemath"
	"github.com/mbd888/agentregistry/internal/settings"
	"github.com/mbd888/agentregistry/internal/state"
)

// ErrTreasuryDeposit is returned when an operator tries to fund the treasury
// directly; it is credited only by paid actions.
var ErrTreasuryDeposit = errors.New("engine: deposits to the treasury are not allowed")

// ErrInvalidCursor is returned for a malformed history page cursor.
var ErrInvalidCursor = errors.New("engine: invalid cursor")

// CodeInternal is reported for errors that are not part of the taxonomy.
const CodeInternal = "internal_error"

// Classification is the stable machine code and HTTP status for an error.
type Classification struct {
	Code   string
	Status int
}

var classifications = []struct {
	err error
	Classification
}{
	{authz.ErrUnauthorized, Classification{"unauthorized", http.StatusForbidden}},
	{registry.ErrAlreadyInactive, Classification{"already_inactive", http.StatusConflict}},
	{registry.ErrAlreadyActive, Classification{"already_active", http.StatusConflict}},
	{registry.ErrAgentInactive, Classification{"agent_inactive", http.StatusConflict}},
	{reputation.ErrAlreadyZero, Classification{"already_zero", http.StatusConflict}},
	{reputation.ErrPenaltyTooLarge, Classification{"penalty_too_large", http.StatusUnprocessableEntity}},
	{reputation.ErrChoosePenalty, Classification{"choose_penalty", http.StatusUnprocessableEntity}},
	{safemath.ErrArithmeticOverflow, Classification{"arithmetic_overflow", http.StatusUnprocessableEntity}},
	{settings.ErrInvalidDiscount, Classification{"invalid_discount", http.StatusUnprocessableEntity}},
	{pricing.ErrLowReputation, Classification{"low_reputation", http.StatusForbidden}},
	{state.ErrAgentNotFound, Classification{"agent_not_found", http.StatusNotFound}},
	{state.ErrAgentExists, Classification{"agent_exists", http.StatusConflict}},
	{state.ErrConfigNotInitialized, Classification{"config_not_initialized", http.StatusNotFound}},
	{state.ErrConfigExists, Classification{"config_exists", http.StatusConflict}},
	{ledger.ErrInsufficientBalance, Classification{"insufficient_balance", http.StatusPaymentRequired}},
	{ledger.ErrInvalidAmount, Classification{"invalid_amount", http.StatusBadRequest}},
	{ledger.ErrSameAccount, Classification{"invalid_transfer", http.StatusBadRequest}},
	{ErrTreasuryDeposit, Classification{"treasury_deposit", http.StatusBadRequest}},
	{ErrInvalidCursor, Classification{"invalid_cursor", http.StatusBadRequest}},
}

// Classify maps err to its code and status. Unknown errors are internal.
func Classify(err error) Classification {
	for _, c := range classifications {
		if errors.Is(err, c.err) {
			return c.Classification
		}
	}
	return Classification{CodeInternal, http.StatusInternalServerError}
}

// IsRejection reports whether err is an expected domain rejection rather
// than a fault.
func IsRejection(err error) bool {
	c := Classify(err)
	return c.Code != CodeInternal && !errors.Is(err, safemath.ErrArithmeticOverflow)
}
