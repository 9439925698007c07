//go:build integration

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentregistry/internal/testutil"
)

func TestPostgresStore_KeyLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	m := NewManager(NewPostgresStore(db))

	raw, key, err := m.ClaimIdentity(ctx, alice, "primary")
	require.NoError(t, err)
	_, _, err = m.ClaimIdentity(ctx, alice, "again")
	assert.ErrorIs(t, err, ErrIdentityClaimed)

	got, err := m.Authenticate(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, alice, got.Identity, "identity round-trips through the lowercase column")

	second, _, err := m.GenerateKey(ctx, alice, "ci")
	require.NoError(t, err)
	keys, err := m.Keys(ctx, alice)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "ci", keys[0].Name, "newest first")

	store := NewPostgresStore(db)
	at := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.Touch(ctx, key.ID, at))
	require.NoError(t, store.Touch(ctx, key.ID, at.Add(-time.Hour)))
	k, err := store.FindByHash(ctx, key.Hash)
	require.NoError(t, err)
	assert.True(t, k.LastUsed.Equal(at), "touch never moves last_used backwards")

	require.NoError(t, m.Revoke(ctx, alice, key.ID))
	_, err = m.Authenticate(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	_, err = m.Authenticate(ctx, second)
	assert.NoError(t, err)

	assert.ErrorIs(t, store.Revoke(ctx, "key_missing"), ErrKeyNotFound)
	_, err = store.FindByHash(ctx, "nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
