// Package state is the durable storage collaborator. Every engine operation
// runs inside one unit of work: either all of its writes become visible or
// none do.
package state

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/ledger"
	"github.com/mbd888/agentregistry/internal/pagination"
	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/settings"
)

var (
	ErrAgentNotFound        = errors.New("state: agent not found")
	ErrAgentExists          = errors.New("state: agent already registered")
	ErrConfigNotInitialized = errors.New("state: config not initialized")
	ErrConfigExists         = errors.New("state: config already initialized")
	ErrReadOnly             = errors.New("state: write in read-only transaction")
)

// DefaultHistoryLimit applies when History is called with limit <= 0.
const DefaultHistoryLimit = 50

// MaxHistoryLimit caps one page of History.
const MaxHistoryLimit = 500

// Tx is the view of storage inside one unit of work. Getters return copies;
// changes are made visible with the matching write method.
type Tx interface {
	// Agent returns the agent owned by owner, or ErrAgentNotFound.
	Agent(ctx context.Context, owner common.Address) (*registry.Agent, error)
	// CreateAgent stores a new agent, or returns ErrAgentExists if one
	// already exists at its address or for its owner.
	CreateAgent(ctx context.Context, a *registry.Agent) error
	UpdateAgent(ctx context.Context, a *registry.Agent) error

	// Config returns the global config, or ErrConfigNotInitialized.
	Config(ctx context.Context) (*settings.GlobalConfig, error)
	// CreateConfig stores the singleton config, or returns ErrConfigExists.
	CreateConfig(ctx context.Context, c *settings.GlobalConfig) error
	UpdateConfig(ctx context.Context, c *settings.GlobalConfig) error

	// Account returns the ledger account at addr. A missing account is
	// returned empty.
	Account(ctx context.Context, addr common.Address) (*ledger.Account, error)
	PutAccount(ctx context.Context, a *ledger.Account) error
	AppendEntries(ctx context.Context, entries ...*ledger.Entry) error
}

// Store runs units of work and serves list queries.
type Store interface {
	// Update runs fn in a read-write unit of work. If fn returns an error
	// every write it made is discarded and the error is returned.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn in a read-only unit of work. Writes return ErrReadOnly.
	View(ctx context.Context, fn func(Tx) error) error

	ListAgents(ctx context.Context, opts ListOptions) ([]*registry.Agent, error)
	// History returns addr's ledger entries newest first, strictly older
	// than q.Before when set.
	History(ctx context.Context, addr common.Address, q HistoryQuery) ([]*ledger.Entry, error)

	Ping(ctx context.Context) error
	Close() error
}

// ListOptions filters and pages ListAgents.
type ListOptions struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 || o.Limit > 500 {
		return 100
	}
	return o.Limit
}

// HistoryQuery pages History by (created_at, id), newest first.
type HistoryQuery struct {
	Limit  int
	Before *pagination.Cursor
}

func (q HistoryQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return min(q.Limit, MaxHistoryLimit)
}

// olderThan reports whether e sorts strictly after the cursor in
// newest-first order.
func (q HistoryQuery) olderThan(e *ledger.Entry) bool {
	if q.Before == nil {
		return true
	}
	return q.Before.Follows(e.CreatedAt, e.ID)
}
