package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
	"github.com/mbd888/agentregistry/internal/address"
	"github.com/mbd888/agentregistry/internal/ledger"
	"github.com/mbd888/agentregistry/internal/metrics"
	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/retry"
	"github.com/mbd888/agentregistry/internal/settings"
)

// Postgres SQLSTATE codes the store reacts to.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

// PostgresStore implements Store with PostgreSQL. Every unit of work is one
// serializable transaction; conflicting transactions are retried.
type PostgresStore struct {
	db     *sql.DB
	policy retry.Policy
	logger *slog.Logger
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithRetryPolicy overrides attempts and backoff for conflicting transactions.
// Retryable and OnRetry are always set by the store.
func WithRetryPolicy(attempts int, base, ceiling time.Duration) PostgresOption {
	return func(p *PostgresStore) {
		p.policy.Attempts = attempts
		p.policy.BaseDelay = base
		p.policy.MaxDelay = ceiling
	}
}

// WithRetryLogger logs every re-run transaction at debug level.
func WithRetryLogger(l *slog.Logger) PostgresOption {
	return func(p *PostgresStore) { p.logger = l }
}

// NewPostgresStore creates a PostgreSQL-backed store. The schema is managed
// by the goose migrations in the migrations package.
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	p := &PostgresStore{
		db:     db,
		policy: retry.Policy{Attempts: 5, BaseDelay: 20 * time.Millisecond, MaxDelay: 500 * time.Millisecond},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.policy.Retryable = isRetryable
	p.policy.OnRetry = p.onRetry
	return p
}

func (p *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	return p.policy.Run(ctx, func(ctx context.Context) error {
		return p.run(ctx, false, fn)
	})
}

func (p *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	return p.policy.Run(ctx, func(ctx context.Context) error {
		return p.run(ctx, true, fn)
	})
}

func (p *PostgresStore) onRetry(attempt int, err error, wait time.Duration) {
	code := "unknown"
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code = string(pqErr.Code)
	}
	metrics.StoreRetriesTotal.WithLabelValues(code).Inc()
	p.logger.Debug("store transaction conflict, retrying",
		"attempt", attempt, "sqlstate", code, "wait", wait)
}

func (p *PostgresStore) run(ctx context.Context, readOnly bool, fn func(Tx) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&postgresTx{tx: tx, readOnly: readOnly}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}

func (p *PostgresStore) ListAgents(ctx context.Context, opts ListOptions) ([]*registry.Agent, error) {
	query := `
		SELECT address, owner, is_active, reputation::TEXT, created_at, updated_at
		FROM agents`
	if opts.ActiveOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY created_at, address LIMIT $1 OFFSET $2`

	rows, err := p.db.QueryContext(ctx, query, opts.limit(), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := make([]*registry.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (p *PostgresStore) History(ctx context.Context, addr common.Address, q HistoryQuery) ([]*ledger.Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if q.Before == nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, address, type, amount::TEXT, counterparty, reference, created_at
			FROM ledger_entries
			WHERE address = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, addrKey(addr), q.limit())
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, address, type, amount::TEXT, counterparty, reference, created_at
			FROM ledger_entries
			WHERE address = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, addrKey(addr), q.Before.CreatedAt, q.Before.ID, q.limit())
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*ledger.Entry, 0)
	for rows.Next() {
		var (
			e                             ledger.Entry
			addrStr, amount, counterparty string
			reference                     sql.NullString
		)
		if err := rows.Scan(&e.ID, &addrStr, &e.Type, &amount, &counterparty, &reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Address = common.HexToAddress(addrStr)
		e.Counterparty = common.HexToAddress(counterparty)
		e.Reference = reference.String
		if e.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// postgresTx is one serializable transaction. Reads in read-write
// transactions lock the rows they return.
type postgresTx struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *postgresTx) lock() string {
	if t.readOnly {
		return ""
	}
	return " FOR UPDATE"
}

func (t *postgresTx) Agent(ctx context.Context, owner common.Address) (*registry.Agent, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT address, owner, is_active, reputation::TEXT, created_at, updated_at
		FROM agents WHERE address = $1`+t.lock(),
		addrKey(address.Agent(owner)))

	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	return a, err
}

func (t *postgresTx) CreateAgent(ctx context.Context, a *registry.Agent) error {
	if t.readOnly {
		return ErrReadOnly
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO agents (address, owner, is_active, reputation, created_at, updated_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,0), $5, $6)
		ON CONFLICT DO NOTHING
	`, addrKey(address.Agent(a.Owner)), addrKey(a.Owner), a.IsActive, formatNumeric(a.Reputation), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAgentExists
	}
	return nil
}

func (t *postgresTx) UpdateAgent(ctx context.Context, a *registry.Agent) error {
	if t.readOnly {
		return ErrReadOnly
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE agents SET
			is_active  = $2,
			reputation = $3::NUMERIC(20,0),
			updated_at = $4
		WHERE address = $1
	`, addrKey(address.Agent(a.Owner)), a.IsActive, formatNumeric(a.Reputation), a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func (t *postgresTx) Config(ctx context.Context) (*settings.GlobalConfig, error) {
	var (
		c                                   settings.GlobalConfig
		addr, admin                         string
		basePrice, threshold, minReputation string
		discount                            int
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT address, admin, base_price::TEXT, discount_threshold::TEXT, discount_percent,
		       min_reputation::TEXT, updated_at
		FROM global_config WHERE address = $1`+t.lock(),
		addrKey(address.Config()),
	).Scan(&addr, &admin, &basePrice, &threshold, &discount, &minReputation, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConfigNotInitialized
	}
	if err != nil {
		return nil, err
	}

	c.Address = common.HexToAddress(addr)
	c.Admin = common.HexToAddress(admin)
	c.DiscountPercent = uint8(discount) //nolint:gosec // column CHECK bounds it to 0-100
	if c.BasePrice, err = parseNumeric(basePrice); err != nil {
		return nil, err
	}
	if c.DiscountThreshold, err = parseNumeric(threshold); err != nil {
		return nil, err
	}
	if c.MinReputation, err = parseNumeric(minReputation); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *postgresTx) CreateConfig(ctx context.Context, c *settings.GlobalConfig) error {
	if t.readOnly {
		return ErrReadOnly
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO global_config (address, admin, base_price, discount_threshold, discount_percent,
		                           min_reputation, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,0), $4::NUMERIC(20,0), $5, $6::NUMERIC(20,0), $7)
	`, addrKey(address.Config()), addrKey(c.Admin), formatNumeric(c.BasePrice),
		formatNumeric(c.DiscountThreshold), int(c.DiscountPercent), formatNumeric(c.MinReputation), c.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrConfigExists
		}
		return fmt.Errorf("insert config: %w", err)
	}
	return nil
}

func (t *postgresTx) UpdateConfig(ctx context.Context, c *settings.GlobalConfig) error {
	if t.readOnly {
		return ErrReadOnly
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE global_config SET
			base_price         = $2::NUMERIC(20,0),
			discount_threshold = $3::NUMERIC(20,0),
			discount_percent   = $4,
			min_reputation     = $5::NUMERIC(20,0),
			updated_at         = $6
		WHERE address = $1
	`, addrKey(address.Config()), formatNumeric(c.BasePrice), formatNumeric(c.DiscountThreshold),
		int(c.DiscountPercent), formatNumeric(c.MinReputation), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrConfigNotInitialized
	}
	return nil
}

func (t *postgresTx) Account(ctx context.Context, addr common.Address) (*ledger.Account, error) {
	var balance, totalIn, totalOut string
	acct := &ledger.Account{Address: addr}

	err := t.tx.QueryRowContext(ctx, `
		SELECT balance::TEXT, total_in::TEXT, total_out::TEXT, updated_at
		FROM ledger_accounts WHERE address = $1`+t.lock(),
		addrKey(addr),
	).Scan(&balance, &totalIn, &totalOut, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.NewAccount(addr), nil
	}
	if err != nil {
		return nil, err
	}

	if acct.Balance, err = parseNumeric(balance); err != nil {
		return nil, err
	}
	if acct.TotalIn, err = parseNumeric(totalIn); err != nil {
		return nil, err
	}
	if acct.TotalOut, err = parseNumeric(totalOut); err != nil {
		return nil, err
	}
	return acct, nil
}

func (t *postgresTx) PutAccount(ctx context.Context, a *ledger.Account) error {
	if t.readOnly {
		return ErrReadOnly
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_accounts (address, balance, total_in, total_out, updated_at)
		VALUES ($1, $2::NUMERIC(20,0), $3::NUMERIC(20,0), $4::NUMERIC(20,0), $5)
		ON CONFLICT (address) DO UPDATE SET
			balance    = EXCLUDED.balance,
			total_in   = EXCLUDED.total_in,
			total_out  = EXCLUDED.total_out,
			updated_at = EXCLUDED.updated_at
	`, addrKey(a.Address), formatNumeric(a.Balance), formatNumeric(a.TotalIn), formatNumeric(a.TotalOut), a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

func (t *postgresTx) AppendEntries(ctx context.Context, entries ...*ledger.Entry) error {
	if t.readOnly {
		return ErrReadOnly
	}

	for _, e := range entries {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, address, type, amount, counterparty, reference, created_at)
			VALUES ($1, $2, $3, $4::NUMERIC(20,0), $5, NULLIF($6, ''), $7)
		`, e.ID, addrKey(e.Address), e.Type, formatNumeric(e.Amount), addrKey(e.Counterparty), e.Reference, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("append entry: %w", err)
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*registry.Agent, error) {
	var (
		a                registry.Agent
		addr, owner, rep string
	)
	if err := row.Scan(&addr, &owner, &a.IsActive, &rep, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}

	a.Address = common.HexToAddress(addr)
	a.Owner = common.HexToAddress(owner)
	var err error
	if a.Reputation, err = parseNumeric(rep); err != nil {
		return nil, err
	}
	return &a, nil
}

// addrKey is the stored form of an address: lowercase 0x-prefixed hex.
func addrKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// NUMERIC(20,0) holds the full uint64 range; values cross the driver as text.
func formatNumeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseNumeric(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}
