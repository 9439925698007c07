package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/ledger"
	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/settings"
)

// journalEntry is a modification to the memory store that can be reverted.
type journalEntry interface {
	revert(*MemoryStore)
}

// journal records the writes of one unit of work so they can be undone in
// reverse order.
type journal struct {
	entries []journalEntry
}

func (j *journal) append(e journalEntry) {
	j.entries = append(j.entries, e)
}

func (j *journal) revert(s *MemoryStore) {
	for i := len(j.entries) - 1; i >= 0; i-- {
		j.entries[i].revert(s)
	}
	j.entries = j.entries[:0]
}

type (
	agentChange struct {
		key  common.Address
		prev *registry.Agent // nil if the agent did not exist
	}
	configChange struct {
		prev *settings.GlobalConfig
	}
	accountChange struct {
		addr common.Address
		prev *ledger.Account
	}
	entriesChange struct {
		prevLen int
	}
)

func (ch agentChange) revert(s *MemoryStore) {
	if ch.prev == nil {
		delete(s.agents, ch.key)
		return
	}
	s.agents[ch.key] = ch.prev
}

func (ch configChange) revert(s *MemoryStore) {
	s.config = ch.prev
}

func (ch accountChange) revert(s *MemoryStore) {
	if ch.prev == nil {
		delete(s.accounts, ch.addr)
		return
	}
	s.accounts[ch.addr] = ch.prev
}

func (ch entriesChange) revert(s *MemoryStore) {
	for _, e := range s.entries[ch.prevLen:] {
		s.index[e.Address] = s.index[e.Address][:len(s.index[e.Address])-1]
	}
	s.entries = s.entries[:ch.prevLen]
}
