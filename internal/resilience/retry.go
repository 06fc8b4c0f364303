// Package resilience wraps the failure-handling building blocks shared by
// every upstream call: retry policies with exponential backoff, per-provider
// circuit breakers, the pooled HTTP/2 transport, response decompression, and
// stream pacing.
package resilience

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// RetryConfig shapes a retry policy for upstream calls. Backoff is
// exponential: attempt n waits BaseDelay * 2^n, capped at MaxDelay.
type RetryConfig struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	ShouldRetry func(err error) bool
}

// DefaultRetryConfig matches the gateway defaults: three retries from a one
// second base.
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   30 * time.Second,
}

// NewRetryPolicy builds a failsafe retry policy from cfg. When ShouldRetry
// is nil every error is retried.
func NewRetryPolicy[R any](cfg RetryConfig) retrypolicy.RetryPolicy[R] {
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	builder := retrypolicy.NewBuilder[R]().
		WithMaxRetries(cfg.MaxRetries).
		WithBackoff(cfg.BaseDelay, maxDelay)
	if cfg.ShouldRetry != nil {
		builder = builder.HandleIf(func(_ R, err error) bool {
			return err != nil && cfg.ShouldRetry(err)
		})
	}
	return builder.Build()
}

// Executor combines a retry policy with an optional circuit breaker. The
// breaker sits outside the retries so an unhealthy upstream trips it once
// per call, not once per attempt.
type Executor[R any] struct {
	executor failsafe.Executor[R]
	breaker  *CircuitBreaker
}

// NewExecutor builds an executor from a retry config and an optional breaker
// config.
func NewExecutor[R any](retryConfig RetryConfig, breakerConfig *BreakerConfig) *Executor[R] {
	var breaker *CircuitBreaker
	if breakerConfig != nil {
		breaker = NewCircuitBreaker(*breakerConfig)
	}
	return &Executor[R]{
		executor: failsafe.With(NewRetryPolicy[R](retryConfig)),
		breaker:  breaker,
	}
}

// Execute runs fn under the retry policy and breaker, honoring ctx between
// attempts.
func (e *Executor[R]) Execute(ctx context.Context, fn func() (R, error)) (R, error) {
	if e.breaker != nil {
		result, err := e.breaker.Execute(func() (any, error) {
			return e.executor.WithContext(ctx).Get(fn)
		})
		if err != nil {
			var zero R
			return zero, err
		}
		return result.(R), nil
	}
	return e.executor.WithContext(ctx).Get(fn)
}

// CircuitBreaker exposes the breaker for health reporting.
func (e *Executor[R]) CircuitBreaker() *CircuitBreaker {
	return e.breaker
}

// CalculateBackoff returns the deterministic exponential delay for a retry
// attempt: baseDelay * 2^attempt, capped at maxDelay.
func CalculateBackoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if baseDelay <= 0 {
		return 0
	}
	delay := baseDelay * time.Duration(1<<attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// WaitWithContext sleeps for delay unless ctx is done first.
func WaitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
