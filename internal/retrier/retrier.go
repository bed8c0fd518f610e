// Package retrier wraps upstream fetches with a bounded retry policy.
// The policy lives at the cache's call boundary, not inside the cache,
// so call sites can swap it.
package retrier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// FixedBackoff waits the base delay between every attempt.
// ExponentialBackoff doubles (by the configured factor) per attempt.
const (
	ExponentialBackoff BackoffStrategy = iota
	FixedBackoff
)

var (
	// ErrInvalidMaxAttempts is returned when the max attempts parameter is invalid.
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
	// ErrInvalidBaseDelay is returned when the base delay parameter is invalid.
	ErrInvalidBaseDelay = errors.New("base delay must be at least 1ms")
)

// BackoffStrategy selects how the delay between attempts grows.
type BackoffStrategy int

// Retrier executes a function with bounded retries. Only errors
// classified as temporary are retried; everything else fails fast.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	factor      float64
	jitter      float64
	strategy    BackoffStrategy

	// TempErrorFunc overrides the default Temporary classification.
	TempErrorFunc func(error) bool
}

// New creates a Retrier. maxAttempts counts the first attempt, so 3
// means at most two retries after the initial failure.
func New(maxAttempts int, baseDelay, maxDelay time.Duration, strategy BackoffStrategy) (*Retrier, error) {
	if maxAttempts < 1 {
		return nil, ErrInvalidMaxAttempts
	}
	if baseDelay < time.Millisecond {
		return nil, ErrInvalidBaseDelay
	}

	return &Retrier{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		factor:      2.0,
		jitter:      0.1,
		strategy:    strategy,
	}, nil
}

// Run executes fn until it succeeds, exhausts the attempt budget, or
// fails with a non-temporary error. Context cancellation aborts the
// backoff wait immediately.
func (r *Retrier) Run(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		isTemp := IsTemporary(err)
		if r.TempErrorFunc != nil {
			isTemp = r.TempErrorFunc(err)
		}
		if !isTemp {
			return err
		}

		if attempt == r.maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay(attempt)):
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

func (r *Retrier) delay(attempt int) time.Duration {
	var delay float64
	switch r.strategy {
	case FixedBackoff:
		delay = float64(r.baseDelay)
	default:
		delay = float64(r.baseDelay) * math.Pow(r.factor, float64(attempt))
	}

	if r.maxDelay > 0 && delay > float64(r.maxDelay) {
		delay = float64(r.maxDelay)
	}
	delay += rand.Float64() * r.jitter * delay
	return time.Duration(delay)
}
