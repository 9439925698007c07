package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("serialization failure")

func conflictsOnly(err error) bool { return errors.Is(err, errConflict) }

func TestRun_FirstAttemptWins(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 3}.Run(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRun_RetriesConflictsUntilSuccess(t *testing.T) {
	var waits []time.Duration
	p := Policy{
		Attempts:  5,
		BaseDelay: 2 * time.Millisecond,
		Retryable: conflictsOnly,
		OnRetry:   func(_ int, _ error, wait time.Duration) { waits = append(waits, wait) },
	}

	calls := 0
	err := p.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, waits, 2)
	assert.GreaterOrEqual(t, waits[0], time.Millisecond)
	assert.LessOrEqual(t, waits[0], 2*time.Millisecond)
	assert.GreaterOrEqual(t, waits[1], 2*time.Millisecond)
	assert.LessOrEqual(t, waits[1], 4*time.Millisecond)
}

func TestRun_DomainErrorReturnedImmediately(t *testing.T) {
	rejected := errors.New("agent is inactive")
	calls := 0
	err := Policy{Attempts: 5, Retryable: conflictsOnly}.Run(context.Background(), func(context.Context) error {
		calls++
		return rejected
	})
	assert.Equal(t, rejected, err)
	assert.Equal(t, 1, calls)
}

func TestRun_StopUnwraps(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 5}.Run(context.Background(), func(context.Context) error {
		calls++
		return Stop(errConflict)
	})
	assert.Equal(t, errConflict, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, Stop(nil))
}

func TestRun_Exhausted(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 3, BaseDelay: time.Millisecond, Retryable: conflictsOnly}.Run(
		context.Background(), func(context.Context) error {
			calls++
			return errConflict
		})

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, 3, calls)
}

func TestRun_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		Attempts:  10,
		BaseDelay: time.Hour,
		OnRetry:   func(int, error, time.Duration) { cancel() },
	}
	err := p.Run(ctx, func(context.Context) error { return errConflict })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ContextErrorsNotRetried(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 4}.Run(context.Background(), func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestRun_MaxDelayCaps(t *testing.T) {
	var waits []time.Duration
	p := Policy{
		Attempts:  4,
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
		OnRetry:   func(_ int, _ error, wait time.Duration) { waits = append(waits, wait) },
	}
	_ = p.Run(context.Background(), func(context.Context) error { return errConflict })
	require.Len(t, waits, 3)
	for _, w := range waits {
		assert.LessOrEqual(t, w, 2*time.Millisecond)
	}
}

func TestRun_ZeroAttemptsMeansOnce(t *testing.T) {
	calls := 0
	_ = Policy{}.Run(context.Background(), func(context.Context) error {
		calls++
		return errConflict
	})
	assert.Equal(t, 1, calls)
}
