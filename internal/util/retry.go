// Package util provides small helpers shared across the gateway: bounded
// retries for maintenance work, JSON path manipulation, and file primitives
// with atomic-replace semantics.
package util

import (
	"context"
	"fmt"
	"time"

	log "github.com/aigate-dev/aigate/internal/logging"
)

// WithRetry executes fn with linear backoff between attempts. It serves
// best-effort maintenance work (cron token refresh, onboarding polls) where
// the request path's failsafe policies would be overkill. fn must be
// idempotent.
func WithRetry[T any](ctx context.Context, maxAttempts int, logPrefix string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		log.Warnf("%s attempt %d failed: %v", logPrefix, attempt+1, err)
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", logPrefix, maxAttempts, lastErr)
}
