package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/authz"
	"github.com/mbd888/agentregistry/internal/ledger"
	"github.com/mbd888/agentregistry/internal/logging"
	"github.com/mbd888/agentregistry/internal/pagination"
	"github.com/mbd888/agentregistry/internal/realtime"
	"github.com/mbd888/agentregistry/internal/state"
	"github.com/mbd888/agentregistry/internal/traces"
)

// Deposit credits amount to addr's ledger account. It is the operator's
// funding path; the treasury cannot be funded this way.
func (e *Engine) Deposit(ctx context.Context, addr common.Address, amount uint64, reference string) (acct *ledger.Account, err error) {
	ctx, finish := e.begin(ctx, "deposit", traces.AgentOwner(addr), traces.Amount(amount))
	defer func() { err = finish(err) }()

	if err := authz.Authorize(addr, addr); err != nil {
		return nil, err
	}
	if addr == e.treasury {
		return nil, ErrTreasuryDeposit
	}

	err = e.store.Update(ctx, func(tx state.Tx) error {
		a, err := tx.Account(ctx, addr)
		if err != nil {
			return err
		}
		if err := ledger.Credit(a, amount); err != nil {
			return err
		}
		if err := tx.PutAccount(ctx, a); err != nil {
			return err
		}
		acct = a
		return tx.AppendEntries(ctx, ledger.DepositEntry(addr, amount, reference))
	})
	if err != nil {
		return nil, err
	}

	logging.L(ctx).Info("deposit credited", "address", addr.Hex(), "amount", amount, "balance", acct.Balance)
	e.publish(realtime.EventDeposit, map[string]any{
		"owner":   addr.Hex(),
		"amount":  amount,
		"balance": acct.Balance,
	})
	return acct, nil
}

// Balance returns the ledger account at addr. Unknown addresses have an
// empty account.
func (e *Engine) Balance(ctx context.Context, addr common.Address) (acct *ledger.Account, err error) {
	err = e.store.View(ctx, func(tx state.Tx) error {
		acct, err = tx.Account(ctx, addr)
		return err
	})
	return acct, err
}

// Treasury returns the treasury account.
func (e *Engine) Treasury(ctx context.Context) (*ledger.Account, error) {
	return e.Balance(ctx, e.treasury)
}

// History returns one page of addr's ledger entries, newest first, and the
// cursor for the next page ("" when there is none).
func (e *Engine) History(ctx context.Context, addr common.Address, limit int, cursor string) ([]*ledger.Entry, string, error) {
	before, err := pagination.Parse(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if limit <= 0 || limit > state.MaxHistoryLimit {
		limit = state.DefaultHistoryLimit
	}

	// One extra row tells whether another page exists.
	entries, err := e.store.History(ctx, addr, state.HistoryQuery{Limit: limit + 1, Before: before})
	if err != nil {
		return nil, "", err
	}
	entries, next := pagination.Trim(entries, limit, func(en *ledger.Entry) pagination.Cursor {
		return pagination.At(en.CreatedAt, en.ID)
	})
	return entries, next, nil
}
