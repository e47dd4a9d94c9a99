package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig tunes exponential-backoff retry for one operation.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first
	// failure.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// Multiplier is the exponential backoff factor. Zero means 2.
	Multiplier float64

	// Jitter randomizes each delay by ±50% to avoid synchronized
	// retry storms across concurrent callers.
	Jitter bool

	// IsRetryable decides whether an error triggers a retry. A nil
	// predicate retries every error.
	IsRetryable func(error) bool
}

// backoffDelay computes the delay before retry number attempt
// (0-based): min(maxDelay, baseDelay * multiplier^attempt), optionally
// jittered into [0.5d, 1.5d].
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}

	d := float64(cfg.BaseDelay) * math.Pow(multiplier, float64(attempt))
	if max := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && d > max {
		d = max
	}
	if cfg.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// doRetry runs fn with up to cfg.MaxRetries additional attempts.
// Non-retryable errors propagate immediately; the context cancels the
// backoff sleep.
func doRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if cfg.IsRetryable != nil && !cfg.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDelay(cfg, attempt)):
		}
	}

	return lastErr
}
