// Package cache implements the time-bounded response cache shared by all
// bot commands: a single-flight front over a pluggable store backend.
// The in-memory and Redis backends satisfy identical TTL semantics, so
// the rest of the system behaves the same whether an external store is
// configured or not.
package cache

import (
	"context"
	"errors"

	"github.com/impuestito/botcore/internal/models"
)

// ErrNotFound is returned by a Store when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Store abstracts the key-value backend holding cache entries. All
// operations are safe for concurrent use. Expiry is enforced on read:
// Get never returns an entry whose ExpiresAt has passed.
type Store interface {
	Get(ctx context.Context, key string) (*models.Entry, error)
	Set(ctx context.Context, key string, entry *models.Entry) error
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
