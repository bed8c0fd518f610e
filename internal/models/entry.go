package models

import (
	"time"

	"go.uber.org/atomic"
)

// Entry is a single cached value together with its expiry instant. The
// payload is held as encoded bytes so the in-memory and external store
// backends share one representation.
type Entry struct {
	Data           []byte
	ExpiresAt      time.Time
	AccessCount    *atomic.Int64
	LastAccessTime *atomic.Time
}

// NewEntry creates an Entry expiring at the given instant.
func NewEntry(data []byte, expiresAt, now time.Time) *Entry {
	return &Entry{
		Data:           data,
		ExpiresAt:      expiresAt,
		AccessCount:    atomic.NewInt64(0),
		LastAccessTime: atomic.NewTime(now),
	}
}

// IsExpired reports whether the entry is stale at the given instant.
// An entry is valid iff now < ExpiresAt.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Touch records an access at the given instant.
func (e *Entry) Touch(now time.Time) {
	e.AccessCount.Inc()
	e.LastAccessTime.Store(now)
}
