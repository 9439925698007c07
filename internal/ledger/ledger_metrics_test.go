package ledger

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestTrack_LabelsOutcome(t *testing.T) {
	balanceOps.Reset()

	payer := &Account{Address: common.HexToAddress("0x01"), Balance: 10}
	treasury := &Account{Address: common.HexToAddress("0x02")}

	require.NoError(t, Transfer(payer, treasury, 4))
	assert.ErrorIs(t, Transfer(payer, treasury, 100), ErrInsufficientBalance)
	assert.ErrorIs(t, Transfer(payer, payer, 1), ErrSameAccount)
	assert.ErrorIs(t, Credit(payer, 0), ErrInvalidAmount)

	full := &Account{Address: common.HexToAddress("0x03"), Balance: math.MaxUint64}
	assert.Error(t, Credit(full, 1))

	assert.Equal(t, 1.0, counterValue(t, balanceOps.WithLabelValues("transfer", "ok")))
	assert.Equal(t, 1.0, counterValue(t, balanceOps.WithLabelValues("transfer", "insufficient_balance")))
	assert.Equal(t, 1.0, counterValue(t, balanceOps.WithLabelValues("transfer", "same_account")))
	assert.Equal(t, 1.0, counterValue(t, balanceOps.WithLabelValues("credit", "invalid_amount")))
	assert.Equal(t, 1.0, counterValue(t, balanceOps.WithLabelValues("credit", "overflow")))
}

func TestTransfer_AddsVolumeOnlyOnSuccess(t *testing.T) {
	before := counterValue(t, transferVolume)

	from := &Account{Address: common.HexToAddress("0x01"), Balance: 40}
	to := &Account{Address: common.HexToAddress("0x02")}
	require.NoError(t, Transfer(from, to, 25))
	require.Error(t, Transfer(from, to, 25))

	assert.Equal(t, 25.0, counterValue(t, transferVolume)-before)
}

func TestLedgerMetrics_Gathered(t *testing.T) {
	require.NoError(t, Credit(&Account{Address: common.HexToAddress("0x04")}, 1))

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"agentregistry_ledger_balance_changes_total",
		"agentregistry_ledger_balance_change_seconds",
		"agentregistry_ledger_transfer_volume_total",
	} {
		assert.True(t, names[want], "%s not registered", want)
	}
}
