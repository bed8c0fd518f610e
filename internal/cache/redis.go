package cache

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/impuestito/botcore/config"
	"github.com/impuestito/botcore/internal/clock"
	"github.com/impuestito/botcore/internal/models"
)

const (
	keyPrefix      = "botcore:cache:"
	bloomKey       = "botcore:bloom"
	bloomItems     = 1000
	bloomFalseRate = 0.01
)

// record is the persisted-state wire format: the encoded payload plus
// its expiry instant. TTL is enforced both by Redis's native expiry and
// by re-checking ExpiresAt on read, so a store with a skewed clock can
// never serve a stale entry.
type record struct {
	Payload   []byte    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedisStore backs the cache with an external key-value store so cached
// quotes survive bot restarts. A bloom filter persisted alongside the
// data skips remote lookups for keys that were never written.
type RedisStore struct {
	client *redis.Client
	codec  config.SerializationConfig

	filterMu sync.Mutex
	filter   *bloom.BloomFilter

	clock  clock.Clock
	logger *zap.Logger
}

// NewRedisStore connects to Redis and loads the persisted bloom filter,
// if any. A missing filter is not an error; it just costs one remote
// round trip per unseen key until repopulated.
func NewRedisStore(ctx context.Context, opts *redis.Options, codec config.SerializationConfig, clk clock.Clock, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	s := &RedisStore{
		client: client,
		codec:  codec,
		filter: bloom.NewWithEstimates(bloomItems, bloomFalseRate),
		clock:  clk,
		logger: logger,
	}
	if err := s.loadFilter(ctx); err != nil {
		logger.Warn("failed to load bloom filter, starting empty", zap.Error(err))
	}
	return s, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*models.Entry, error) {
	s.filterMu.Lock()
	seen := s.filter.Test([]byte(key))
	s.filterMu.Unlock()
	if !seen {
		return nil, ErrNotFound
	}

	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec record
	if err := s.codec.Decoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode cache record: %w", err)
	}

	now := s.clock.Now()
	entry := models.NewEntry(rec.Payload, rec.ExpiresAt, now)
	if entry.IsExpired(now) {
		if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
			s.logger.Warn("failed to delete expired entry", zap.String("key", key), zap.Error(err))
		}
		return nil, ErrNotFound
	}
	return entry, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry *models.Entry) error {
	var buf bytes.Buffer
	rec := record{Payload: entry.Data, ExpiresAt: entry.ExpiresAt}
	if err := s.codec.Encoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}

	ttl := entry.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, keyPrefix+key, buf.Bytes(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	s.filterMu.Lock()
	s.filter.Add([]byte(key))
	s.filterMu.Unlock()
	go s.saveFilter(context.WithoutCancel(ctx))

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Len(ctx context.Context) (int64, error) {
	var count int64
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 1000).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		count += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) saveFilter(ctx context.Context) {
	s.filterMu.Lock()
	var buf bytes.Buffer
	_, err := s.filter.WriteTo(&buf)
	s.filterMu.Unlock()
	if err != nil {
		s.logger.Error("failed to serialize bloom filter", zap.Error(err))
		return
	}

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	if err := s.client.Set(ctx, bloomKey, encoded, 0).Err(); err != nil {
		s.logger.Error("failed to save bloom filter", zap.Error(err))
	}
}

func (s *RedisStore) loadFilter(ctx context.Context) error {
	encoded, err := s.client.Get(ctx, bloomKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("load bloom filter: %w", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode bloom filter: %w", err)
	}

	s.filterMu.Lock()
	defer s.filterMu.Unlock()
	if _, err := s.filter.ReadFrom(bytes.NewReader(decoded)); err != nil {
		return fmt.Errorf("deserialize bloom filter: %w", err)
	}
	return nil
}
