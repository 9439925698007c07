// Package idgen issues identifiers for receipts, ledger entries and API keys.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a lowercase ULID. IDs issued by one process sort by creation time.
func New() string {
	return strings.ToLower(ulid.Make().String())
}

// WithPrefix returns prefix followed by a new ULID (e.g. "rcpt_", "ent_").
func WithPrefix(prefix string) string {
	return prefix + New()
}

// Time extracts the creation time from an ID produced by New or WithPrefix.
func Time(id, prefix string) (time.Time, bool) {
	u, err := ulid.ParseStrict(strings.ToUpper(strings.TrimPrefix(id, prefix)))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
