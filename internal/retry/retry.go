// Package retry provides generic retry logic with backoff for transient
// failures, shared by the session registry's confirmation-awaiting path
// (spec §4.5, "retries=60 × 3s") and the status poller's per-receipt
// request handling.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/starkclaw/session-core/internal/coreerr"
)

// Config holds retry configuration: attempt count, initial/maximum
// delay, and backoff multiplier. A Multiplier of 1.0 yields a constant
// interval, which is what transaction-confirmation polling wants.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig is a general-purpose exponential backoff.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
}

// ConfirmationConfig is the fixed 60-attempt, 3-second-interval schedule
// spec §4.5 mandates for awaiting on-chain confirmation of a session
// registry write.
var ConfirmationConfig = Config{
	MaxAttempts:  60,
	InitialDelay: 3 * time.Second,
	MaxDelay:     3 * time.Second,
	Multiplier:   1.0,
}

// IsRetryable determines if an error should trigger another attempt.
type IsRetryable func(error) bool

// CoreErrRetryable classifies by the core's own error taxonomy (spec §7:
// transport/timeout/RPC/unavailable are retryable; policy/auth are not).
func CoreErrRetryable(err error) bool {
	return coreerr.New(coreerr.CodeOf(err), "", nil).Retryable()
}

// WithRetry executes fn with retry logic using generics for type safety,
// applying backoff per config and respecting context cancellation.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}

		if attempt < config.MaxAttempts-1 {
			select {
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * config.Multiplier)
				if delay > config.MaxDelay {
					delay = config.MaxDelay
				}
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// WithSimpleRetry uses DefaultConfig.
func WithSimpleRetry[T any](
	ctx context.Context,
	fn func() (T, error),
	isRetryable IsRetryable,
) (T, error) {
	return WithRetry(ctx, DefaultConfig, isRetryable, fn)
}
