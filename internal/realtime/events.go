// Package realtime streams committed registry events to WebSocket
// subscribers.
package realtime

import (
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a committed registry change.
type EventType string

const (
	EventAgentRegistered  EventType = "agent_registered"
	EventAgentDeactivated EventType = "agent_deactivated"
	EventAgentReactivated EventType = "agent_reactivated"
	EventReputation       EventType = "reputation_changed"
	EventConfigUpdated    EventType = "config_updated"
	EventPayment          EventType = "payment"
	EventDeposit          EventType = "deposit"
)

// Event is one message on the stream. Data carries "owner" and, for
// payments, "payer" as hex strings and "amount" as uint64.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func (e *Event) addressField(key string) (common.Address, bool) {
	s, ok := e.Data[key].(string)
	if !ok || !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func (e *Event) involves(addrs []common.Address) bool {
	for _, key := range []string{"owner", "payer"} {
		if a, ok := e.addressField(key); ok && slices.Contains(addrs, a) {
			return true
		}
	}
	return false
}

// Filter narrows what a subscriber receives. The zero Filter passes
// everything. A subscriber replaces its filter by sending one as a JSON
// text frame.
type Filter struct {
	Types  []EventType      `json:"types,omitempty"`
	Owners []common.Address `json:"owners,omitempty"`
	// MinAmount drops payments and deposits below it.
	MinAmount uint64 `json:"minAmount,omitempty"`
}

// Match reports whether e passes f.
func (f Filter) Match(e *Event) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if len(f.Owners) > 0 && !e.involves(f.Owners) {
		return false
	}
	if f.MinAmount > 0 && (e.Type == EventPayment || e.Type == EventDeposit) {
		if amount, ok := e.Data["amount"].(uint64); ok && amount < f.MinAmount {
			return false
		}
	}
	return true
}
