package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/impuestito/botcore/config"
	"github.com/impuestito/botcore/internal/clock"
	"github.com/impuestito/botcore/internal/models"
	"github.com/impuestito/botcore/utils"
)

// FetchFunc produces the value for a key on a cache miss. It is supplied
// by the command dispatcher and is the only operation in this layer
// expected to block on the network.
type FetchFunc func(ctx context.Context) (any, error)

// Stats are the cache's cumulative observability counters.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int64
}

// Cache is the single-flight front over a Store. Concurrent GetOrFetch
// calls for the same uncached key collapse into one fetch whose result
// every waiter shares; a failed fetch caches nothing, so the next call
// retries from scratch.
type Cache struct {
	store      Store
	sf         singleflight.Group
	defaultTTL time.Duration
	serveStale bool
	lastGood   sync.Map // key -> []byte, maintained only when serveStale

	clock   clock.Clock
	metrics *models.Metrics
	codec   config.SerializationConfig
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates a Cache over the given store.
func New(store Store, defaultTTL time.Duration, serveStale bool, clk clock.Clock, metrics *models.Metrics, codec config.SerializationConfig, logger *zap.Logger) *Cache {
	return &Cache{
		store:      store,
		defaultTTL: defaultTTL,
		serveStale: serveStale,
		clock:      clk,
		metrics:    metrics,
		codec:      codec,
		logger:     logger,
		tracer:     otel.Tracer("botcore/cache"),
	}
}

// GetOrFetch returns the cached value for key, fetching it at most once
// across all concurrent callers when absent or expired. The result is
// decoded into dest, which must be a pointer.
func (c *Cache) GetOrFetch(ctx context.Context, key string, dest any, fetch FetchFunc, ttl ...time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "Cache.GetOrFetch", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if entry, err := c.lookup(ctx, key); err == nil {
		c.metrics.Hits.Inc()
		return c.decode(entry.Data, dest)
	}
	c.metrics.Misses.Inc()

	v, err, _ := c.sf.Do(key, func() (any, error) {
		// A previous flight may have populated the store between our
		// miss and this flight starting.
		if entry, err := c.lookup(ctx, key); err == nil {
			return entry.Data, nil
		}

		value, err := fetch(ctx)
		if err != nil {
			if c.serveStale {
				if data, ok := c.lastGood.Load(key); ok {
					c.logger.Warn("fetch failed, serving last-good value",
						zap.String("key", key), zap.Error(err))
					return data.([]byte), nil
				}
			}
			return nil, err
		}

		data, err := c.encode(value)
		if err != nil {
			return nil, err
		}

		now := c.clock.Now()
		entry := models.NewEntry(data, now.Add(utils.PickTTL(c.defaultTTL, ttl...)), now)
		if err := c.store.Set(ctx, key, entry); err != nil {
			// The fetched value is still valid for the waiters even if
			// the store rejected it.
			c.logger.Warn("failed to store fetched value", zap.String("key", key), zap.Error(err))
		}
		if c.serveStale {
			c.lastGood.Store(key, data)
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return c.decode(v.([]byte), dest)
}

// Get reads a cached value into dest without fetching. It reports
// whether the key was present and unexpired.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	entry, err := c.lookup(ctx, key)
	if err != nil {
		c.metrics.Misses.Inc()
		return false, nil
	}
	c.metrics.Hits.Inc()
	return true, c.decode(entry.Data, dest)
}

// Set stores a value directly, bypassing the fetch path.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl ...time.Duration) error {
	data, err := c.encode(value)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	entry := models.NewEntry(data, now.Add(utils.PickTTL(c.defaultTTL, ttl...)), now)
	if err := c.store.Set(ctx, key, entry); err != nil {
		return err
	}
	if c.serveStale {
		c.lastGood.Store(key, data)
	}
	return nil
}

// Invalidate removes an entry immediately regardless of TTL and forgets
// any in-flight fetch so the next call starts fresh.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	ctx, span := c.tracer.Start(ctx, "Cache.Invalidate", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	c.sf.Forget(key)
	c.lastGood.Delete(key)
	return c.store.Delete(ctx, key)
}

// Stats returns cumulative hit/miss counters and the current entry count.
func (c *Cache) Stats(ctx context.Context) Stats {
	size, err := c.store.Len(ctx)
	if err != nil {
		c.logger.Warn("failed to read store size", zap.Error(err))
	}
	return Stats{
		Hits:   c.metrics.Hits.Load(),
		Misses: c.metrics.Misses.Load(),
		Size:   size,
	}
}

// Len returns the current number of live entries.
func (c *Cache) Len(ctx context.Context) int64 {
	size, err := c.store.Len(ctx)
	if err != nil {
		return 0
	}
	return size
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) lookup(ctx context.Context, key string) (*models.Entry, error) {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			// A store failure reads as a miss; the value will be
			// re-fetched.
			c.logger.Warn("store lookup failed", zap.String("key", key), zap.Error(err))
		}
		return nil, ErrNotFound
	}
	return entry, nil
}

func (c *Cache) encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.codec.Encoder(&buf).Encode(value); err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Cache) decode(data []byte, dest any) error {
	if err := c.codec.Decoder(bytes.NewReader(data)).Decode(dest); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}
