package resilience

import "time"

// Named presets per protected dependency class. Each class gets its
// own executor instance; they are never shared.

// DatabaseConfig suits the primary record store: patient timeouts,
// moderate threshold.
func DatabaseConfig() ExecutorConfig {
	return ExecutorConfig{
		Name: "database",
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			SuccessThreshold: 3,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			MaxDelay:   30 * time.Second,
			Jitter:     true,
		},
		Timeout: 30 * time.Second,
	}
}

// APIConfig suits inbound API dependencies: fail faster, tolerate more
// consecutive errors before opening.
func APIConfig() ExecutorConfig {
	return ExecutorConfig{
		Name: "api",
		Breaker: BreakerConfig{
			FailureThreshold: 10,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 3,
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   10 * time.Second,
			Jitter:     true,
		},
		Timeout: 10 * time.Second,
	}
}

// ExternalServiceConfig suits third-party services: trip early, back
// off for a long time.
func ExternalServiceConfig() ExecutorConfig {
	return ExecutorConfig{
		Name: "external",
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			RecoveryTimeout:  120 * time.Second,
			SuccessThreshold: 3,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  2 * time.Second,
			MaxDelay:   60 * time.Second,
			Jitter:     true,
		},
		Timeout: 20 * time.Second,
	}
}
