package resilience

import (
	"time"
)

// SubscriptionPolicy is the retry policy for one subscription's pipeline run:
// maxAttempts tries in total, waiting base*2^n before retry n. Every error is
// retried; callers signal deliberate skips through their own ShouldRetry.
func SubscriptionPolicy(maxAttempts int, base time.Duration) RetryConfig {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if base <= 0 {
		base = time.Second
	}
	return RetryConfig{
		MaxAttempts: maxAttempts,
		Backoff:     ExponentialBackoff(base),
		ShouldRetry: Always,
	}
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
