package botcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/impuestito/botcore/internal/cache"
)

// resilient wraps a dispatcher-supplied fetch with the per-attempt API
// timeout, the bounded retry policy, and the circuit breaker. The cache
// itself stays policy-free; swapping the retry behavior is a matter of
// wrapping differently at this boundary.
func (c *Core) resilient(fetch FetchFunc) cache.FetchFunc {
	return func(ctx context.Context) (any, error) {
		var value any
		err := c.retrier.Run(ctx, func() error {
			v, err := c.breaker.Execute(func() (any, error) {
				attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.APITimeout)
				defer cancel()
				return fetch(attemptCtx)
			})
			if err != nil {
				return err
			}
			value = v
			return nil
		})
		if err != nil {
			c.metrics.RecordError()
			return nil, classify(ctx, err)
		}
		return value, nil
	}
}

// classify maps a failed fetch to the typed error surface the dispatcher
// formats for users.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		// The caller gave up; report their cancellation, not ours.
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %s", ErrUpstreamFailure, err)
}

// retryable classifies fetch errors for the retrier: breaker-open means
// the upstream is known bad and retrying immediately is pointless;
// caller cancellation must not be retried; everything else, timeouts
// included, may succeed on the next attempt.
func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
