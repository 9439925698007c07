package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PostgresStore keeps keys in the api_keys table. Identities are stored as
// lowercase hex.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a store over db. The schema comes from migrations.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectKey = `SELECT id, hash, identity, name, created_at, last_used, expires_at, revoked FROM api_keys`

func identityColumn(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func (p *PostgresStore) Insert(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, hash, identity, name, created_at, expires_at, revoked)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Hash, identityColumn(key.Identity), key.Name, key.CreatedAt, key.ExpiresAt, key.Revoked)
	return err
}

func (p *PostgresStore) FindByHash(ctx context.Context, hash string) (*APIKey, error) {
	key, err := scanKey(p.db.QueryRowContext(ctx, selectKey+` WHERE hash = $1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	return key, err
}

func (p *PostgresStore) ListByIdentity(ctx context.Context, identity common.Address) ([]*APIKey, error) {
	rows, err := p.db.QueryContext(ctx,
		selectKey+` WHERE identity = $1 ORDER BY created_at DESC, id DESC`, identityColumn(identity))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Touch only moves last_used forward.
func (p *PostgresStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used = GREATEST(COALESCE(last_used, $2), $2) WHERE id = $1`, id, at)
	return err
}

func (p *PostgresStore) Revoke(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE api_keys SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*APIKey, error) {
	var (
		k                   APIKey
		identity            string
		name                sql.NullString
		lastUsed, expiresAt sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.Hash, &identity, &name, &k.CreatedAt, &lastUsed, &expiresAt, &k.Revoked); err != nil {
		return nil, err
	}
	k.Identity = common.HexToAddress(identity)
	k.Name = name.String
	k.LastUsed = lastUsed.Time
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Time
	}
	return &k, nil
}
