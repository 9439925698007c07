package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests step past the cooldown without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	b := New(threshold, time.Minute)
	b.now = clk.now
	return b, clk
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b, _ := newTestBreaker(3)
	if !b.Allow("api") {
		t.Fatal("expected closed circuit to allow")
	}
	if b.State("api") != StateClosed {
		t.Fatalf("expected closed, got %v", b.State("api"))
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("api")
	b.RecordFailure("api")
	if !b.Allow("api") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("api")
	if b.Allow("api") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("api") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("api"))
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(2)

	b.RecordFailure("api")
	b.RecordSuccess("api")
	b.RecordFailure("api")
	if b.State("api") != StateClosed {
		t.Fatal("non-consecutive failures must not trip")
	}
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	b, clk := newTestBreaker(1)

	b.RecordFailure("api")
	if b.Allow("api") {
		t.Fatal("should be open")
	}

	clk.advance(time.Minute)
	if !b.Allow("api") {
		t.Fatal("should allow probe after cooldown")
	}
	if b.State("api") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("api"))
	}
	if b.Allow("api") {
		t.Fatal("second call during probe must be rejected")
	}

	b.RecordSuccess("api")
	if b.State("api") != StateClosed {
		t.Fatalf("successful probe should close, got %v", b.State("api"))
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clk := newTestBreaker(1)

	b.RecordFailure("api")
	clk.advance(time.Minute)
	if !b.Allow("api") {
		t.Fatal("expected probe")
	}
	b.RecordFailure("api")

	if b.State("api") != StateOpen {
		t.Fatalf("expected reopen, got %v", b.State("api"))
	}
	if b.Allow("api") {
		t.Fatal("cooldown restarts after a failed probe")
	}
}

func TestBreaker_KeysAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(1)
	b.RecordFailure("a")
	if !b.Allow("b") {
		t.Fatal("failure on a must not affect b")
	}
}

func TestBreaker_Execute(t *testing.T) {
	b, _ := newTestBreaker(2)
	boom := errors.New("boom")
	benign := errors.New("benign")
	onlyBoom := func(err error) bool { return errors.Is(err, boom) }

	// Errors the classifier ignores never trip the circuit.
	for range 5 {
		if err := b.Execute("api", func() error { return benign }, onlyBoom); !errors.Is(err, benign) {
			t.Fatalf("expected benign, got %v", err)
		}
	}
	if b.State("api") != StateClosed {
		t.Fatal("benign errors tripped the circuit")
	}

	_ = b.Execute("api", func() error { return boom }, onlyBoom)
	_ = b.Execute("api", func() error { return boom }, onlyBoom)

	ran := false
	err := b.Execute("api", func() error { ran = true; return nil }, onlyBoom)
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if ran {
		t.Fatal("fn must not run while open")
	}
}

func TestBreaker_Defaults(t *testing.T) {
	b := New(0, 0)
	if b.threshold != 5 || b.cooldown != 30*time.Second {
		t.Fatalf("unexpected defaults: %d %v", b.threshold, b.cooldown)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half_open",
		State(9):      "unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d: got %q want %q", s, s.String(), want)
		}
	}
}
