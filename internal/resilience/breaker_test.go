package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failTimes(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("Allow() on failure %d: %v", i, err)
		}
		b.Record(errBoom)
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker("db", BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	failTimes(t, b, 2)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", got)
	}

	failTimes(t, b, 1)
	if got := b.State(); got != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", got)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() while open = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("db", BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	failTimes(t, b, 2)
	_ = b.Allow()
	b.Record(nil)
	failTimes(t, b, 2)

	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed: success must reset the consecutive count", got)
	}
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := NewBreaker("db", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		SuccessThreshold: 2,
	})

	failTimes(t, b, 1)
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() before timeout = %v, want ErrCircuitOpen", err)
	}

	time.Sleep(20 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after timeout = %v, want trial admitted", err)
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want half_open", got)
	}
}

func TestBreakerHalfOpenCapsTrialCalls(t *testing.T) {
	b := NewBreaker("db", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Millisecond,
		SuccessThreshold: 2,
		MaxHalfOpenCalls: 1,
	})

	failTimes(t, b, 1)
	time.Sleep(5 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("first trial rejected: %v", err)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second trial = %v, want ErrCircuitOpen while one is in flight", err)
	}

	// Finishing the trial frees the slot.
	b.Record(nil)
	if err := b.Allow(); err != nil {
		t.Fatalf("trial after slot freed rejected: %v", err)
	}
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	b := NewBreaker("db", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Millisecond,
		SuccessThreshold: 2,
	})

	failTimes(t, b, 1)
	time.Sleep(5 * time.Millisecond)

	_ = b.Allow()
	b.Record(nil)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state after 1 trial success = %v, want half_open", got)
	}

	_ = b.Allow()
	b.Record(nil)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after 2 trial successes = %v, want closed", got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("db", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  50 * time.Millisecond,
		SuccessThreshold: 3,
	})

	failTimes(t, b, 1)
	time.Sleep(60 * time.Millisecond)

	_ = b.Allow()
	b.Record(errBoom)

	if got := b.State(); got != StateOpen {
		t.Fatalf("state after trial failure = %v, want open", got)
	}

	snap := b.Snapshot()
	if remaining := time.Until(snap.NextAttempt); remaining < 40*time.Millisecond {
		t.Fatalf("recovery window not extended, %v remaining", remaining)
	}
}

func TestBreakerExpectedErrorsDoNotCount(t *testing.T) {
	errNotFound := errors.New("record not found")
	b := NewBreaker("db", BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		IsExpected: func(err error) bool {
			return errors.Is(err, errNotFound)
		},
	})

	for i := 0; i < 5; i++ {
		_ = b.Allow()
		b.Record(errNotFound)
	}

	if got := b.State(); got != StateClosed {
		t.Fatalf("state after expected errors = %v, want closed", got)
	}
}

func TestBreakersAreIndependent(t *testing.T) {
	db := NewBreaker("db", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	api := NewBreaker("api", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	failTimes(t, db, 1)

	if got := db.State(); got != StateOpen {
		t.Fatalf("db state = %v, want open", got)
	}
	if err := api.Allow(); err != nil {
		t.Fatalf("api Allow() = %v, unrelated breaker must stay closed", err)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half_open",
		State(42):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
