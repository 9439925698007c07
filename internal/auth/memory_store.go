package auth

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore keeps keys in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*APIKey
	byHash map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*APIKey), byHash: make(map[string]string)}
}

func (s *MemoryStore) Insert(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.byID[key.ID] = &cp
	s.byHash[key.Hash] = key.ID
	return nil
}

func (s *MemoryStore) FindByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryStore) ListByIdentity(_ context.Context, identity common.Address) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*APIKey
	for _, k := range s.byID {
		if k.Identity == identity {
			cp := *k
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *APIKey) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return ErrKeyNotFound
	}
	if at.After(k.LastUsed) {
		k.LastUsed = at
	}
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return ErrKeyNotFound
	}
	k.Revoked = true
	return nil
}
