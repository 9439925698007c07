// Package safemath provides overflow-checked uint64 arithmetic for reputation
// and price computations. Wraparound is never silent: every operation either
// returns the exact result or ErrArithmeticOverflow.
package safemath

import (
	"errors"

	"github.com/ethereum/go-ethereum/common/math"
)

// ErrArithmeticOverflow reports an addition, subtraction or multiplication
// whose exact result does not fit in a uint64.
var ErrArithmeticOverflow = errors.New("arithmetic overflow")

// Add returns x + y.
func Add(x, y uint64) (uint64, error) {
	sum, overflow := math.SafeAdd(x, y)
	if overflow {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// Sub returns x - y. Underflow is reported as ErrArithmeticOverflow.
func Sub(x, y uint64) (uint64, error) {
	diff, overflow := math.SafeSub(x, y)
	if overflow {
		return 0, ErrArithmeticOverflow
	}
	return diff, nil
}

// Mul returns x * y.
func Mul(x, y uint64) (uint64, error) {
	prod, overflow := math.SafeMul(x, y)
	if overflow {
		return 0, ErrArithmeticOverflow
	}
	return prod, nil
}

// Inc returns x + 1.
func Inc(x uint64) (uint64, error) {
	return Add(x, 1)
}
