// Package authz holds the single identity check shared by every gated
// operation: the caller must be exactly the identity recorded on the target.
package authz

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnauthorized is returned when the caller is not the controlling identity.
var ErrUnauthorized = errors.New("unauthorized")

// Authorize returns nil when caller equals expected and ErrUnauthorized
// otherwise. The zero address never authorizes anything.
func Authorize(caller, expected common.Address) error {
	if caller == (common.Address{}) || caller != expected {
		return ErrUnauthorized
	}
	return nil
}
