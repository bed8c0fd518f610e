package botcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUpstreamTimeout marks a fetch that exceeded the API timeout.
	ErrUpstreamTimeout = errors.New("upstream request timed out")
	// ErrUpstreamFailure marks a non-timeout fetch failure.
	ErrUpstreamFailure = errors.New("upstream request failed")
	// ErrRateLimited marks a command rejected by the rate limiter.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("botcore is closed")
)

// RateLimitedError carries the wait hint shown to the rejected user. It
// matches ErrRateLimited under errors.Is.
type RateLimitedError struct {
	Identity   string
	Class      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Identity, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
