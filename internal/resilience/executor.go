package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sketchsync/sketchsync/lib/logger/sl"
)

// Operation is a single breaker-guarded unit of work. It must respect
// context cancellation; a per-attempt timeout is enforced on top.
type Operation func(ctx context.Context) error

// ExecutorConfig combines breaker, retry and timeout for one
// dependency class.
type ExecutorConfig struct {
	Name    string
	Breaker BreakerConfig
	Retry   RetryConfig

	// Timeout bounds each individual attempt. A timed-out attempt
	// counts as a failure for breaker and retry accounting.
	Timeout time.Duration
}

// Executor is the resilience facade: retry composed inside the
// breaker's call path, so one guarded operation may retry several
// times before the breaker records a single aggregate outcome.
type Executor struct {
	name    string
	log     *slog.Logger
	breaker *Breaker
	retry   RetryConfig
	timeout time.Duration
}

func NewExecutor(log *slog.Logger, cfg ExecutorConfig) *Executor {
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		name:    cfg.Name,
		log:     log.With(slog.String("dependency", cfg.Name)),
		breaker: NewBreaker(cfg.Name, cfg.Breaker),
		retry:   cfg.Retry,
		timeout: timeout,
	}
}

// Execute runs op under breaker, retry and per-attempt timeout.
func (e *Executor) Execute(ctx context.Context, op Operation) error {
	return e.ExecuteWithFallback(ctx, op, nil)
}

// ExecuteWithFallback additionally invokes fallback when the call is
// rejected while open or has exhausted all retries. A failing fallback
// surfaces both errors as one combined failure.
func (e *Executor) ExecuteWithFallback(ctx context.Context, op, fallback Operation) error {
	if err := e.breaker.Allow(); err != nil {
		e.log.Warn("call rejected, circuit open")
		return e.runFallback(ctx, fallback, err)
	}

	err := doRetry(ctx, e.retry, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return op(attemptCtx)
	})
	e.breaker.Record(err)

	if err != nil {
		if e.breaker.cfg.IsExpected != nil && e.breaker.cfg.IsExpected(err) {
			e.log.Debug("call returned expected error", sl.Err(err))
		} else {
			e.log.Error("call failed after retry policy", sl.Err(err))
		}
		return e.runFallback(ctx, fallback, err)
	}
	return nil
}

func (e *Executor) runFallback(ctx context.Context, fallback Operation, primary error) error {
	if fallback == nil {
		return primary
	}
	if ferr := fallback(ctx); ferr != nil {
		return errors.Join(primary, ferr)
	}
	return nil
}

// Snapshot exposes the underlying breaker health.
func (e *Executor) Snapshot() Snapshot {
	return e.breaker.Snapshot()
}

// State returns the underlying breaker state.
func (e *Executor) State() State {
	return e.breaker.State()
}

// Name returns the dependency class this executor guards.
func (e *Executor) Name() string {
	return e.name
}
