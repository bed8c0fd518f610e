package retrier

import (
	"context"
	"errors"
)

// Temporary indicates if an error condition is temporary and may succeed
// if retried.
type Temporary interface {
	Temporary() bool
}

// IsTemporary reports whether err should be retried. Deadline errors are
// temporary (the upstream may answer on the next attempt); explicit
// cancellation is not.
func IsTemporary(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var temp Temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return false
}
