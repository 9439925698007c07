// Package retry re-runs store transactions that lost a serialization race.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy describes how a conflicting unit of work is re-run.
type Policy struct {
	// Attempts is the total number of runs, including the first. Values
	// below one mean a single run.
	Attempts int
	// BaseDelay is the wait before the second run. It doubles per run.
	BaseDelay time.Duration
	// MaxDelay caps the doubled wait. Zero means no cap.
	MaxDelay time.Duration
	// Retryable selects the errors worth another run. A nil Retryable
	// retries everything except Stop errors and context errors.
	Retryable func(error) bool
	// OnRetry, when set, observes every run that will be repeated.
	OnRetry func(attempt int, err error, wait time.Duration)
}

type stopError struct{ err error }

func (e stopError) Error() string { return e.err.Error() }
func (e stopError) Unwrap() error { return e.err }

// Stop marks err as final: Run returns it unwrapped without another attempt.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return stopError{err: err}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Run calls fn until it succeeds, fails with a non-retryable error, ctx ends,
// or the attempts are used up.
func (p Policy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	wait := p.BaseDelay

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var stop stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		if !p.retryable(err) {
			return err
		}
		if attempt >= attempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		sleep := jitter(wait)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, sleep)
		}
		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		wait *= 2
		if p.MaxDelay > 0 && wait > p.MaxDelay {
			wait = p.MaxDelay
		}
	}
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// jitter spreads d uniformly over [d/2, d].
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half+1)
}
