package ledger

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mbd888/agentregistry/internal/safemath"
)

var (
	balanceOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentregistry",
		Subsystem: "ledger",
		Name:      "balance_changes_total",
		Help:      "Balance mutations by kind (transfer, credit) and outcome.",
	}, []string{"kind", "outcome"})

	balanceOpSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentregistry",
		Subsystem: "ledger",
		Name:      "balance_change_seconds",
		Help:      "Time spent computing a balance mutation.",
		Buckets:   []float64{1e-6, 1e-5, 1e-4, 1e-3, 1e-2},
	}, []string{"kind"})

	// Counted when the mutation is computed. A transaction rolled back
	// afterwards still contributes.
	transferVolume = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentregistry",
		Subsystem: "ledger",
		Name:      "transfer_volume_total",
		Help:      "Value moved between accounts.",
	})
)

func track(kind string, start time.Time, errp *error) {
	balanceOpSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	balanceOps.WithLabelValues(kind, outcome(*errp)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrSameAccount):
		return "same_account"
	case errors.Is(err, safemath.ErrArithmeticOverflow):
		return "overflow"
	default:
		return "error"
	}
}
