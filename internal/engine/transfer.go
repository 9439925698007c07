package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/ledger"
	"github.com/mbd888/agentregistry/internal/payments"
	"github.com/mbd888/agentregistry/internal/state"
)

// TransferFactory returns the transfer primitive bound to one unit of work.
type TransferFactory func(tx state.Tx) payments.Transferer

// ledgerTransferer moves value between ledger accounts inside tx, so the
// transfer commits or rolls back with the rest of the operation.
type ledgerTransferer struct {
	tx state.Tx
}

// LedgerTransfers is the default TransferFactory.
func LedgerTransfers(tx state.Tx) payments.Transferer {
	return &ledgerTransferer{tx: tx}
}

func (l *ledgerTransferer) Transfer(ctx context.Context, from, to common.Address, amount uint64, reference string) error {
	src, err := l.tx.Account(ctx, from)
	if err != nil {
		return err
	}
	dst, err := l.tx.Account(ctx, to)
	if err != nil {
		return err
	}
	if err := ledger.Transfer(src, dst, amount); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}

	if err := l.tx.PutAccount(ctx, src); err != nil {
		return err
	}
	if err := l.tx.PutAccount(ctx, dst); err != nil {
		return err
	}
	return l.tx.AppendEntries(ctx, ledger.TransferEntries(from, to, amount, reference)...)
}
