// Package ledger holds the balances that back the value-transfer primitive.
//
// Flow:
//  1. Operator deposits credit a caller's account
//  2. A paid action transfers the computed price from the caller to the treasury
//  3. Each movement is journaled as one or two entries
//
// Functions here are pure: they validate, then mutate the accounts handed to
// them. Persistence and atomicity belong to the caller's unit of work.
package ledger

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/idgen"
	"github.com/mbd888/agentregistry/internal/safemath"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrSameAccount         = errors.New("ledger: source and destination are the same account")
)

// Entry types
const (
	EntryDeposit     = "deposit"
	EntryTransferOut = "transfer_out"
	EntryTransferIn  = "transfer_in"
)

// Account is the balance held at one address.
type Account struct {
	Address   common.Address `json:"address"`
	Balance   uint64         `json:"balance"`
	TotalIn   uint64         `json:"totalIn"`  // Lifetime credits
	TotalOut  uint64         `json:"totalOut"` // Lifetime debits
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NewAccount returns an empty account at addr.
func NewAccount(addr common.Address) *Account {
	return &Account{Address: addr, UpdatedAt: time.Now()}
}

// Clone returns an independent copy.
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}

// Entry is one journaled balance movement.
type Entry struct {
	ID           string         `json:"id"`
	Address      common.Address `json:"address"`
	Type         string         `json:"type"` // deposit, transfer_out, transfer_in
	Amount       uint64         `json:"amount"`
	Counterparty common.Address `json:"counterparty"`
	Reference    string         `json:"reference,omitempty"` // receipt ID, deposit reference
	CreatedAt    time.Time      `json:"createdAt"`
}

// Transfer moves amount from one account to another. Both new balances are
// computed before either account is written. A zero amount is a no-op.
func Transfer(from, to *Account, amount uint64) (err error) {
	defer track("transfer", time.Now(), &err)

	if from.Address == to.Address {
		return ErrSameAccount
	}
	if amount == 0 {
		return nil
	}
	if from.Balance < amount {
		return ErrInsufficientBalance
	}

	fromBalance, err := safemath.Sub(from.Balance, amount)
	if err != nil {
		return err
	}
	fromOut, err := safemath.Add(from.TotalOut, amount)
	if err != nil {
		return err
	}
	toBalance, err := safemath.Add(to.Balance, amount)
	if err != nil {
		return err
	}
	toIn, err := safemath.Add(to.TotalIn, amount)
	if err != nil {
		return err
	}

	now := time.Now()
	from.Balance, from.TotalOut, from.UpdatedAt = fromBalance, fromOut, now
	to.Balance, to.TotalIn, to.UpdatedAt = toBalance, toIn, now
	transferVolume.Add(float64(amount))
	return nil
}

// Credit adds amount to acct. Used for operator deposits.
func Credit(acct *Account, amount uint64) (err error) {
	defer track("credit", time.Now(), &err)

	if amount == 0 {
		return ErrInvalidAmount
	}
	balance, err := safemath.Add(acct.Balance, amount)
	if err != nil {
		return err
	}
	totalIn, err := safemath.Add(acct.TotalIn, amount)
	if err != nil {
		return err
	}

	acct.Balance, acct.TotalIn, acct.UpdatedAt = balance, totalIn, time.Now()
	return nil
}

// TransferEntries returns the debit and credit journal records for a transfer.
func TransferEntries(from, to common.Address, amount uint64, reference string) []*Entry {
	now := time.Now()
	return []*Entry{
		{
			ID:           idgen.WithPrefix("ent_"),
			Address:      from,
			Type:         EntryTransferOut,
			Amount:       amount,
			Counterparty: to,
			Reference:    reference,
			CreatedAt:    now,
		},
		{
			ID:           idgen.WithPrefix("ent_"),
			Address:      to,
			Type:         EntryTransferIn,
			Amount:       amount,
			Counterparty: from,
			Reference:    reference,
			CreatedAt:    now,
		},
	}
}

// DepositEntry returns the journal record for an operator deposit.
func DepositEntry(addr common.Address, amount uint64, reference string) *Entry {
	return &Entry{
		ID:        idgen.WithPrefix("ent_"),
		Address:   addr,
		Type:      EntryDeposit,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now(),
	}
}
