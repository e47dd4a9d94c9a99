package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned on fast-fail rejection while a breaker is
// open. Callers can distinguish it from a genuine dependency error to
// show a "temporarily unavailable" state.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the circuit breaker state.
type State int

const (
	// StateClosed lets calls pass through normally.
	StateClosed State = iota

	// StateOpen rejects all calls immediately.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through to
	// test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes one breaker instance. Every protected dependency
// class gets its own instance; failures in one dependency must not
// gate calls to an unrelated one.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures while
	// closed before the breaker opens.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before the
	// next call is allowed through as a half-open trial.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open
	// successes required to close the breaker again.
	SuccessThreshold int

	// MaxHalfOpenCalls caps in-flight trial calls while half-open.
	// Zero means SuccessThreshold.
	MaxHalfOpenCalls int

	// IsExpected classifies errors that are excluded from failure
	// counting (e.g. rate-limit responses). They still propagate to
	// the caller.
	IsExpected func(error) bool
}

// Breaker is a per-dependency failure state machine. State transitions
// are strictly ordered per instance; it is never persisted and resets
// to closed on process restart.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu                sync.Mutex
	state             State
	failures          int
	halfOpenSuccesses int
	halfOpenInflight  int
	lastFailure       time.Time
	nextAttempt       time.Time
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.MaxHalfOpenCalls <= 0 {
		cfg.MaxHalfOpenCalls = cfg.SuccessThreshold
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
	}
}

// Allow reports whether a call may proceed. While open it fails fast
// with ErrCircuitOpen until the recovery timeout elapses, at which
// point the breaker moves to half-open and admits the call as a trial.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if now.Before(b.nextAttempt) {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.halfOpenSuccesses = 0
		b.halfOpenInflight = 1
		return nil

	case StateHalfOpen:
		if b.halfOpenInflight >= b.cfg.MaxHalfOpenCalls {
			return ErrCircuitOpen
		}
		b.halfOpenInflight++
		return nil

	default:
		return ErrCircuitOpen
	}
}

// Record feeds the aggregate outcome of one allowed call back into the
// state machine. A nil error is a success; expected errors are neutral
// for failure counting.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.halfOpenInflight > 0 {
		b.halfOpenInflight--
	}

	if err == nil {
		b.onSuccess()
		return
	}
	if b.cfg.IsExpected != nil && b.cfg.IsExpected(err) {
		return
	}
	b.onFailure()
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0

	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.halfOpenSuccesses = 0
			b.halfOpenInflight = 0
		}
	}
}

func (b *Breaker) onFailure() {
	now := time.Now()
	b.lastFailure = now

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open(now)
		}

	case StateHalfOpen:
		// Any trial failure reopens and extends the recovery window.
		b.open(now)
	}
}

func (b *Breaker) open(now time.Time) {
	b.state = StateOpen
	b.halfOpenSuccesses = 0
	b.halfOpenInflight = 0
	b.nextAttempt = now.Add(b.cfg.RecoveryTimeout)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot contains the breaker health exposed to operators.
type Snapshot struct {
	Name              string    `json:"name"`
	State             string    `json:"state"`
	Failures          int       `json:"failures"`
	HalfOpenSuccesses int       `json:"half_open_successes"`
	LastFailure       time.Time `json:"last_failure,omitempty"`
	NextAttempt       time.Time `json:"next_attempt,omitempty"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:              b.name,
		State:             b.state.String(),
		Failures:          b.failures,
		HalfOpenSuccesses: b.halfOpenSuccesses,
		LastFailure:       b.lastFailure,
		NextAttempt:       b.nextAttempt,
	}
}
