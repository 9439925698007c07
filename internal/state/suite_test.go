package state

import (
	"context"
	"errors"
	"math/big"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/address"
	"github.com/mbd888/agentregistry/internal/ledger"
	"github.com/mbd888/agentregistry/internal/pagination"
	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/settings"
	"github.com/mbd888/agentregistry/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ownerA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	ownerB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	admin  = common.HexToAddress("0xad00000000000000000000000000000000000001")
)

var errAbort = errors.New("abort")

// runStoreSuite exercises the Store contract. Both implementations must pass.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("AgentCreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			return tx.CreateAgent(ctx, registry.Register(ownerA))
		}))

		err := s.View(ctx, func(tx Tx) error {
			a, err := tx.Agent(ctx, ownerA)
			require.NoError(t, err)
			assert.Equal(t, ownerA, a.Owner)
			assert.Equal(t, address.Agent(ownerA), a.Address)
			assert.True(t, a.IsActive)
			assert.Zero(t, a.Reputation)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("AgentDuplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		create := func(tx Tx) error { return tx.CreateAgent(ctx, registry.Register(ownerA)) }
		require.NoError(t, s.Update(ctx, create))
		assert.ErrorIs(t, s.Update(ctx, create), ErrAgentExists)
	})

	t.Run("AgentNotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.View(ctx, func(tx Tx) error {
			_, err := tx.Agent(ctx, ownerB)
			return err
		})
		assert.ErrorIs(t, err, ErrAgentNotFound)

		err = s.Update(ctx, func(tx Tx) error {
			return tx.UpdateAgent(ctx, registry.Register(ownerB))
		})
		assert.ErrorIs(t, err, ErrAgentNotFound)
	})

	t.Run("FailedUpdateLeavesNoTrace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		treasury := address.Treasury()

		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			if err := tx.CreateAgent(ctx, registry.Register(ownerA)); err != nil {
				return err
			}
			if err := tx.CreateConfig(ctx, settings.Initialize(admin)); err != nil {
				return err
			}
			acct, err := tx.Account(ctx, ownerA)
			if err != nil {
				return err
			}
			if err := ledger.Credit(acct, 500); err != nil {
				return err
			}
			return tx.PutAccount(ctx, acct)
		}))

		err := s.Update(ctx, func(tx Tx) error {
			a, err := tx.Agent(ctx, ownerA)
			if err != nil {
				return err
			}
			a.Reputation = 99
			a.IsActive = false
			if err := tx.UpdateAgent(ctx, a); err != nil {
				return err
			}

			cfg, err := tx.Config(ctx)
			if err != nil {
				return err
			}
			cfg.BasePrice = 1
			if err := tx.UpdateConfig(ctx, cfg); err != nil {
				return err
			}

			from, err := tx.Account(ctx, ownerA)
			if err != nil {
				return err
			}
			to, err := tx.Account(ctx, treasury)
			if err != nil {
				return err
			}
			if err := ledger.Transfer(from, to, 100); err != nil {
				return err
			}
			if err := tx.PutAccount(ctx, from); err != nil {
				return err
			}
			if err := tx.PutAccount(ctx, to); err != nil {
				return err
			}
			if err := tx.AppendEntries(ctx, ledger.TransferEntries(ownerA, treasury, 100, "r1")...); err != nil {
				return err
			}
			if err := tx.CreateAgent(ctx, registry.Register(ownerB)); err != nil {
				return err
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		require.NoError(t, s.View(ctx, func(tx Tx) error {
			a, err := tx.Agent(ctx, ownerA)
			require.NoError(t, err)
			assert.True(t, a.IsActive)
			assert.Zero(t, a.Reputation)

			_, err = tx.Agent(ctx, ownerB)
			assert.ErrorIs(t, err, ErrAgentNotFound)

			cfg, err := tx.Config(ctx)
			require.NoError(t, err)
			assert.Equal(t, settings.DefaultBasePrice, cfg.BasePrice)

			payer, err := tx.Account(ctx, ownerA)
			require.NoError(t, err)
			assert.Equal(t, uint64(500), payer.Balance)

			tre, err := tx.Account(ctx, treasury)
			require.NoError(t, err)
			assert.Zero(t, tre.Balance)
			return nil
		}))

		history, err := s.History(ctx, treasury, HistoryQuery{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("ConfigLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.View(ctx, func(tx Tx) error {
			_, err := tx.Config(ctx)
			return err
		})
		assert.ErrorIs(t, err, ErrConfigNotInitialized)

		err = s.Update(ctx, func(tx Tx) error {
			return tx.UpdateConfig(ctx, settings.Initialize(admin))
		})
		assert.ErrorIs(t, err, ErrConfigNotInitialized)

		create := func(tx Tx) error { return tx.CreateConfig(ctx, settings.Initialize(admin)) }
		require.NoError(t, s.Update(ctx, create))
		assert.ErrorIs(t, s.Update(ctx, create), ErrConfigExists)

		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			cfg, err := tx.Config(ctx)
			if err != nil {
				return err
			}
			return settings.UpdatePricing(admin, cfg, settings.PricingUpdate{
				BasePrice: 200, DiscountThreshold: 5, DiscountPercent: 100, MinReputation: 1,
			})
		}))

		// UpdatePricing mutated a copy that was never written back.
		require.NoError(t, s.View(ctx, func(tx Tx) error {
			cfg, err := tx.Config(ctx)
			require.NoError(t, err)
			assert.Equal(t, admin, cfg.Admin)
			assert.Equal(t, address.Config(), cfg.Address)
			assert.Equal(t, settings.DefaultBasePrice, cfg.BasePrice)
			return nil
		}))

		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			cfg, err := tx.Config(ctx)
			if err != nil {
				return err
			}
			cfg.DiscountPercent = 100
			cfg.BasePrice = 1<<64 - 1
			return tx.UpdateConfig(ctx, cfg)
		}))
		require.NoError(t, s.View(ctx, func(tx Tx) error {
			cfg, err := tx.Config(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint8(100), cfg.DiscountPercent)
			assert.Equal(t, uint64(1<<64-1), cfg.BasePrice)
			return nil
		}))
	})

	t.Run("ViewRejectsWrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.View(ctx, func(tx Tx) error {
			return tx.CreateAgent(ctx, registry.Register(ownerA))
		})
		assert.ErrorIs(t, err, ErrReadOnly)

		err = s.View(ctx, func(tx Tx) error {
			return tx.PutAccount(ctx, ledger.NewAccount(ownerA))
		})
		assert.ErrorIs(t, err, ErrReadOnly)
	})

	t.Run("ListAgents", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		owners := []common.Address{ownerA, ownerB, admin}
		for i, o := range owners {
			a := registry.Register(o)
			a.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
			a.IsActive = i != 1
			require.NoError(t, s.Update(ctx, func(tx Tx) error { return tx.CreateAgent(ctx, a) }))
		}

		all, err := s.ListAgents(ctx, ListOptions{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, ownerA, all[0].Owner)
		assert.Equal(t, admin, all[2].Owner)

		active, err := s.ListAgents(ctx, ListOptions{ActiveOnly: true})
		require.NoError(t, err)
		assert.Len(t, active, 2)

		page, err := s.ListAgents(ctx, ListOptions{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ownerB, page[0].Owner)

		empty, err := s.ListAgents(ctx, ListOptions{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("ListAgentsBreaksTiesByAddress", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		at := time.Now().UTC().Truncate(time.Millisecond)
		var want []string
		for i := 1; i <= 6; i++ {
			a := registry.Register(common.BigToAddress(big.NewInt(int64(0xc0ffee * i))))
			a.CreatedAt = at
			want = append(want, strings.ToLower(a.Address.Hex()))
			require.NoError(t, s.Update(ctx, func(tx Tx) error { return tx.CreateAgent(ctx, a) }))
		}
		slices.Sort(want)

		for _, limit := range []int{0, 4} {
			got, err := s.ListAgents(ctx, ListOptions{Limit: limit})
			require.NoError(t, err)
			keys := make([]string, len(got))
			for i, a := range got {
				keys[i] = strings.ToLower(a.Address.Hex())
			}
			if limit > 0 {
				assert.Equal(t, want[:limit], keys)
				continue
			}
			assert.Equal(t, want, keys)
		}
	})

	t.Run("HistoryNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 1; i <= 3; i++ {
			e := ledger.DepositEntry(ownerA, uint64(i), "")
			e.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
			require.NoError(t, s.Update(ctx, func(tx Tx) error { return tx.AppendEntries(ctx, e) }))
		}

		entries, err := s.History(ctx, ownerA, HistoryQuery{Limit: 2})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, uint64(3), entries[0].Amount)
		assert.Equal(t, uint64(2), entries[1].Amount)
		assert.Equal(t, ledger.EntryDeposit, entries[0].Type)

		cursor := pagination.At(entries[1].CreatedAt, entries[1].ID)
		rest, err := s.History(ctx, ownerA, HistoryQuery{Limit: 2, Before: &cursor})
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, uint64(1), rest[0].Amount)

		none, err := s.History(ctx, ownerB, HistoryQuery{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("HistoryKeepsLongestReference", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ref := strings.Repeat("r", validation.MaxReferenceLength)
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			return tx.AppendEntries(ctx, ledger.DepositEntry(ownerA, 10, ref))
		}))

		entries, err := s.History(ctx, ownerA, HistoryQuery{Limit: 1})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, ref, entries[0].Reference)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(context.Background()))
	})
}
