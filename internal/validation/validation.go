// Package validation checks identities, record addresses and free-form
// operator input before they reach the engine.
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentregistry/internal/address"
)

// MaxRequestSize caps JSON bodies on every route.
const MaxRequestSize = 1 << 20

// MaxReferenceLength bounds deposit references and similar operator notes.
const MaxReferenceLength = 256

// ParamKey is the gin context key under which AddressParam stores the parsed
// :address value.
const ParamKey = "agentregistry.address"

var (
	ErrMalformedAddress = errors.New("address must be 0x followed by 40 hex chars")
	ErrZeroAddress      = errors.New("the zero address cannot act as an identity")
)

// LimitBody wraps the request body so reads past max fail.
func LimitBody(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}

// ParseAddress decodes a 0x-prefixed hex address. Mixed case is accepted
// without a checksum check.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, ErrMalformedAddress
	}
	addr, ok := address.Parse(s)
	if !ok {
		return common.Address{}, ErrMalformedAddress
	}
	return addr, nil
}

// Identity parses an address that will sign requests or own an agent.
func Identity(s string) (common.Address, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%q: %w", s, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, ErrZeroAddress
	}
	return addr, nil
}

// CleanReference trims s, drops control characters and truncates to max bytes
// on a rune boundary.
func CleanReference(s string, max int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if len(s) <= max {
		return s
	}
	cut := 0
	for i := range s {
		if i > max {
			break
		}
		cut = i
	}
	return s[:cut]
}

// FieldError is one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors collects every rejected field of a request.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Rule checks one field and returns nil when it passes.
type Rule func() *FieldError

// Validate runs every rule and returns the failures in order.
func Validate(rules ...Rule) FieldErrors {
	var out FieldErrors
	for _, r := range rules {
		if fe := r(); fe != nil {
			out = append(out, *fe)
		}
	}
	return out
}

// Account requires value to be a non-zero address that can hold a balance.
func Account(field, value string) Rule {
	return func() *FieldError {
		if strings.TrimSpace(value) == "" {
			return &FieldError{Field: field, Message: "is required"}
		}
		if _, err := Identity(value); err != nil {
			if errors.Is(err, ErrZeroAddress) {
				return &FieldError{Field: field, Message: ErrZeroAddress.Error()}
			}
			return &FieldError{Field: field, Message: ErrMalformedAddress.Error()}
		}
		return nil
	}
}

// Reference limits a free-form note to max bytes.
func Reference(field, value string, max int) Rule {
	return func() *FieldError {
		if len(value) > max {
			return &FieldError{Field: field, Message: fmt.Sprintf("exceeds %d bytes", max)}
		}
		return nil
	}
}

// AddressParam parses the :address path segment once per request and stores
// it under ParamKey. Malformed values are rejected with 400 invalid_address.
func AddressParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr, err := ParseAddress(c.Param("address"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": err.Error(),
			})
			return
		}
		c.Set(ParamKey, addr)
		c.Next()
	}
}

// PathAddress returns the address stored by AddressParam.
func PathAddress(c *gin.Context) common.Address {
	if v, ok := c.Get(ParamKey); ok {
		if addr, ok := v.(common.Address); ok {
			return addr
		}
	}
	return common.HexToAddress(c.Param("address"))
}
