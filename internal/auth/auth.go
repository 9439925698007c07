// Package auth binds API keys to registry identities.
//
// Reads are public. Every mutation runs as the identity the presented key
// was issued to; that identity is the caller the engine authorizes against
// agent owners and the config admin. The first key for an identity is issued
// by claiming it, and further keys are minted by a holder of an existing one.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/agentregistry/internal/idgen"
	"github.com/mbd888/agentregistry/internal/syncutil"
)

// KeyPrefix starts every raw API key.
const KeyPrefix = "ark_"

// MaxKeyNameLength bounds the label stored with a key.
const MaxKeyNameLength = 255

// touchEvery throttles last-used writes per key.
const touchEvery = time.Minute

var (
	ErrNoAPIKey        = errors.New("API key required")
	ErrInvalidAPIKey   = errors.New("invalid, revoked or expired API key")
	ErrKeyNotFound     = errors.New("API key not found")
	ErrInvalidIdentity = errors.New("identity must be a non-zero address")
	ErrIdentityClaimed = errors.New("identity already has an API key")
	ErrKeyNameTooLong  = errors.New("key name exceeds 255 bytes")
)

// APIKey is the stored form of a credential. The raw key is never kept.
type APIKey struct {
	ID        string         `json:"id"`
	Hash      string         `json:"-"`
	Identity  common.Address `json:"identity"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"createdAt"`
	LastUsed  time.Time      `json:"lastUsed,omitzero"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	Revoked   bool           `json:"revoked"`
}

func (k *APIKey) usable(now time.Time) bool {
	return !k.Revoked && (k.ExpiresAt == nil || now.Before(*k.ExpiresAt))
}

// Store persists API keys. Revocation is permanent.
type Store interface {
	Insert(ctx context.Context, key *APIKey) error
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
	ListByIdentity(ctx context.Context, identity common.Address) ([]*APIKey, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string) error
}

// Manager issues and checks API keys.
type Manager struct {
	store  Store
	claims *syncutil.KeyedMutex
	now    func() time.Time
}

// NewManager returns a Manager over store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, claims: syncutil.NewKeyedMutex(), now: time.Now}
}

// GenerateKey mints a key for identity and returns the raw key, which is
// shown once, with its stored record.
func (m *Manager) GenerateKey(ctx context.Context, identity common.Address, name string) (string, *APIKey, error) {
	if identity == (common.Address{}) {
		return "", nil, ErrInvalidIdentity
	}
	name = strings.TrimSpace(name)
	if len(name) > MaxKeyNameLength {
		return "", nil, ErrKeyNameTooLong
	}
	raw := KeyPrefix + idgen.Hex(32)
	key := &APIKey{
		ID:        idgen.WithPrefix("key_"),
		Hash:      digest(raw),
		Identity:  identity,
		Name:      name,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.Insert(ctx, key); err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// ClaimIdentity issues the first key for identity. Once an identity holds any
// key, revoked or not, more keys come only from GenerateKey by a holder.
func (m *Manager) ClaimIdentity(ctx context.Context, identity common.Address, name string) (string, *APIKey, error) {
	if identity == (common.Address{}) {
		return "", nil, ErrInvalidIdentity
	}
	if len(strings.TrimSpace(name)) > MaxKeyNameLength {
		return "", nil, ErrKeyNameTooLong
	}

	unlock, err := m.claims.Lock(ctx, identity.Hex())
	if err != nil {
		return "", nil, err
	}
	defer unlock()

	held, err := m.store.ListByIdentity(ctx, identity)
	if err != nil {
		return "", nil, err
	}
	if len(held) > 0 {
		return "", nil, ErrIdentityClaimed
	}
	return m.GenerateKey(ctx, identity, name)
}

// Authenticate resolves a presented key, with or without the Bearer scheme.
func (m *Manager) Authenticate(ctx context.Context, presented string) (*APIKey, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(presented, "Bearer "))
	if raw == "" {
		return nil, ErrNoAPIKey
	}
	if !strings.HasPrefix(raw, KeyPrefix) {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.FindByHash(ctx, digest(raw))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	now := m.now()
	if !key.usable(now) {
		return nil, ErrInvalidAPIKey
	}

	if now.Sub(key.LastUsed) >= touchEvery {
		id := key.ID
		go func() {
			tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = m.store.Touch(tctx, id, now.UTC())
		}()
	}
	return key, nil
}

// Keys lists every key issued to identity, newest first.
func (m *Manager) Keys(ctx context.Context, identity common.Address) ([]*APIKey, error) {
	return m.store.ListByIdentity(ctx, identity)
}

// Revoke disables keyID if identity holds it.
func (m *Manager) Revoke(ctx context.Context, identity common.Address, keyID string) error {
	key, err := m.owned(ctx, identity, keyID)
	if err != nil {
		return err
	}
	return m.store.Revoke(ctx, key.ID)
}

// Rotate revokes keyID and issues a replacement with the same name.
func (m *Manager) Rotate(ctx context.Context, identity common.Address, keyID string) (string, *APIKey, error) {
	old, err := m.owned(ctx, identity, keyID)
	if err != nil {
		return "", nil, err
	}
	if err := m.store.Revoke(ctx, old.ID); err != nil {
		return "", nil, err
	}
	return m.GenerateKey(ctx, identity, old.Name)
}

func (m *Manager) owned(ctx context.Context, identity common.Address, keyID string) (*APIKey, error) {
	keys, err := m.store.ListByIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.ID == keyID && !k.Revoked {
			return k, nil
		}
	}
	return nil, ErrKeyNotFound
}

func digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
