package state

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/address"
	"github.com/mbd888/agentregistry/internal/ledger"
	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/settings"
)

// MemoryStore is an in-memory Store for demo/development mode. A single
// mutex serializes writers; failed units of work are undone from a journal.
type MemoryStore struct {
	mu       sync.RWMutex
	agents   map[common.Address]*registry.Agent // keyed by derived record address
	config   *settings.GlobalConfig
	accounts map[common.Address]*ledger.Account
	entries  []*ledger.Entry
	index    map[common.Address][]*ledger.Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   make(map[common.Address]*registry.Agent),
		accounts: make(map[common.Address]*ledger.Account),
		index:    make(map[common.Address][]*ledger.Entry),
	}
}

func (m *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{store: m, journal: &journal{}}
	if err := runTx(fn, tx); err != nil {
		tx.journal.revert(m)
		return err
	}
	return nil
}

func (m *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return fn(&memoryTx{store: m, readOnly: true})
}

// runTx calls fn and reverts the journal if fn panics.
func runTx(fn func(Tx) error, tx *memoryTx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			tx.journal.revert(tx.store)
			panic(r)
		}
	}()
	return fn(tx)
}

func (m *MemoryStore) ListAgents(ctx context.Context, opts ListOptions) ([]*registry.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*registry.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if opts.ActiveOnly && !a.IsActive {
			continue
		}
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return addrKey(all[i].Address) < addrKey(all[j].Address)
	})

	if opts.Offset >= len(all) {
		return []*registry.Agent{}, nil
	}
	end := opts.Offset + opts.limit()
	if end > len(all) {
		end = len(all)
	}

	result := make([]*registry.Agent, 0, end-opts.Offset)
	for _, a := range all[opts.Offset:end] {
		result = append(result, a.Clone())
	}
	return result, nil
}

func (m *MemoryStore) History(ctx context.Context, addr common.Address, q HistoryQuery) ([]*ledger.Entry, error) {
	limit := q.limit()

	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.index[addr]
	result := make([]*ledger.Entry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		if !q.olderThan(entries[i]) {
			continue
		}
		cp := *entries[i]
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// memoryTx is a unit of work over a MemoryStore whose lock is already held.
type memoryTx struct {
	store    *MemoryStore
	journal  *journal
	readOnly bool
}

func (t *memoryTx) Agent(_ context.Context, owner common.Address) (*registry.Agent, error) {
	a, ok := t.store.agents[address.Agent(owner)]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return a.Clone(), nil
}

func (t *memoryTx) CreateAgent(_ context.Context, a *registry.Agent) error {
	if t.readOnly {
		return ErrReadOnly
	}
	key := address.Agent(a.Owner)
	if _, ok := t.store.agents[key]; ok {
		return ErrAgentExists
	}

	cp := a.Clone()
	cp.Address = key
	t.journal.append(agentChange{key: key})
	t.store.agents[key] = cp
	return nil
}

func (t *memoryTx) UpdateAgent(_ context.Context, a *registry.Agent) error {
	if t.readOnly {
		return ErrReadOnly
	}
	key := address.Agent(a.Owner)
	prev, ok := t.store.agents[key]
	if !ok {
		return ErrAgentNotFound
	}

	cp := a.Clone()
	cp.Address = key
	t.journal.append(agentChange{key: key, prev: prev})
	t.store.agents[key] = cp
	return nil
}

func (t *memoryTx) Config(_ context.Context) (*settings.GlobalConfig, error) {
	if t.store.config == nil {
		return nil, ErrConfigNotInitialized
	}
	cp := *t.store.config
	return &cp, nil
}

func (t *memoryTx) CreateConfig(_ context.Context, c *settings.GlobalConfig) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if t.store.config != nil {
		return ErrConfigExists
	}

	cp := *c
	cp.Address = address.Config()
	t.journal.append(configChange{})
	t.store.config = &cp
	return nil
}

func (t *memoryTx) UpdateConfig(_ context.Context, c *settings.GlobalConfig) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if t.store.config == nil {
		return ErrConfigNotInitialized
	}

	cp := *c
	cp.Address = address.Config()
	t.journal.append(configChange{prev: t.store.config})
	t.store.config = &cp
	return nil
}

func (t *memoryTx) Account(_ context.Context, addr common.Address) (*ledger.Account, error) {
	if acct, ok := t.store.accounts[addr]; ok {
		return acct.Clone(), nil
	}
	return ledger.NewAccount(addr), nil
}

func (t *memoryTx) PutAccount(_ context.Context, a *ledger.Account) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.journal.append(accountChange{addr: a.Address, prev: t.store.accounts[a.Address]})
	t.store.accounts[a.Address] = a.Clone()
	return nil
}

func (t *memoryTx) AppendEntries(_ context.Context, entries ...*ledger.Entry) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.journal.append(entriesChange{prevLen: len(t.store.entries)})
	for _, e := range entries {
		cp := *e
		t.store.entries = append(t.store.entries, &cp)
		t.store.index[e.Address] = append(t.store.index[e.Address], &cp)
	}
	return nil
}
