// Package botcore is the shared runtime support layer of the bot: a
// time-bounded response cache with stampede protection, a per-identity
// sliding-window rate limiter, and a periodic health monitor. The
// command dispatcher embeds it as a library; the messaging platform,
// command parsing, and the upstream quote provider stay outside.
package botcore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/impuestito/botcore/config"
	"github.com/impuestito/botcore/internal/cache"
	"github.com/impuestito/botcore/internal/clock"
	"github.com/impuestito/botcore/internal/health"
	"github.com/impuestito/botcore/internal/models"
	"github.com/impuestito/botcore/internal/ratelimit"
	"github.com/impuestito/botcore/internal/retrier"
)

// memoryShardCount stripes the in-memory store's key map.
const memoryShardCount = 16

// Re-exported types so the dispatcher only imports this package.
type (
	// FetchFunc produces a value for a cache key on miss.
	FetchFunc = cache.FetchFunc
	// CacheStats are the cache's cumulative counters.
	CacheStats = cache.Stats
	// HealthSnapshot is a point-in-time health record.
	HealthSnapshot = models.HealthSnapshot
)

// Core owns the cache, rate limiter, and health monitor behind one
// facade. All methods are safe for concurrent use from many in-flight
// commands.
type Core struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *models.Metrics
	clock   clock.Clock

	cache   *cache.Cache
	limiter *ratelimit.Limiter
	monitor *health.Monitor
	retrier *retrier.Retrier
	breaker *gobreaker.CircuitBreaker

	exporter *health.Exporter
	closed   *atomic.Bool
}

// New wires the runtime support layer and starts the health monitor.
// An invalid configuration is the only fatal condition in this layer.
func New(ctx context.Context, opts ...Option) (*Core, error) {
	o := &coreOptions{
		cfg:   config.New(),
		clock: clock.System(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	cfg := o.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize default logger: %w", err)
		}
		cfg.Logger = logger
	}

	metrics := models.NewMetrics()

	store := o.store
	if store == nil {
		if cfg.RedisURL != "" {
			redisOpts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("%w: redis URL: %v", config.ErrInvalidConfig, err)
			}
			store, err = cache.NewRedisStore(ctx, redisOpts, cfg.Serialization, o.clock, cfg.Logger)
			if err != nil {
				return nil, err
			}
		} else {
			store = cache.NewMemoryStore(cfg.CacheMaxSize, memoryShardCount, o.clock, metrics, cfg.Logger)
		}
	}

	r, err := retrier.New(cfg.MaxRetries, cfg.RetryBaseDelay, 10*cfg.RetryBaseDelay, retrier.ExponentialBackoff)
	if err != nil {
		return nil, fmt.Errorf("%w: retry policy: %v", config.ErrInvalidConfig, err)
	}
	r.TempErrorFunc = retryable

	classRules := make(map[string]ratelimit.Rule, len(cfg.ClassRules))
	for class, rule := range cfg.ClassRules {
		classRules[class] = ratelimit.Rule{Requests: rule.Requests, Window: rule.Window}
	}

	c := &Core{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: metrics,
		clock:   o.clock,
		cache:   cache.New(store, cfg.CacheTTL, cfg.ServeStale, o.clock, metrics, cfg.Serialization, cfg.Logger),
		retrier: r,
		breaker: gobreaker.NewCircuitBreaker(cfg.Breaker),
		closed:  atomic.NewBool(false),
	}
	c.limiter = ratelimit.New(
		ratelimit.Rule{Requests: cfg.RateLimitRequests, Window: cfg.RateLimitWindow},
		classRules, o.clock, metrics, cfg.Logger,
	)
	c.monitor = health.NewMonitor(health.Options{
		Interval:    cfg.HealthInterval,
		HistorySize: cfg.HistorySize,
		Thresholds:  cfg.Thresholds,
		CacheLen:    c.cache.Len,
		OnTick:      func() { c.limiter.Sweep() },
		OnDegraded:  o.onDegraded,
	}, o.clock, metrics, cfg.Logger)

	if o.promNS != "" {
		c.exporter = health.NewExporter(o.promNS, metrics, func() int64 {
			return c.cache.Len(context.Background())
		})
	}

	if err := c.monitor.Start(); err != nil {
		return nil, err
	}
	return c, nil
}

// Admit reports whether the identity may run one more command of the
// given class. A rejected attempt does not consume budget.
func (c *Core) Admit(identity, class string) bool {
	return c.limiter.Admit(identity, class)
}

// TimeUntilNextSlot returns the wait hint for a rate-limited identity.
func (c *Core) TimeUntilNextSlot(identity, class string) time.Duration {
	return c.limiter.TimeUntilNextSlot(identity, class)
}

// GetOrFetch returns the cached value for key, invoking fetch at most
// once across all concurrent callers when the key is absent or expired.
// fetch runs under the API timeout, retry, and circuit-breaker policy.
func (c *Core) GetOrFetch(ctx context.Context, key string, dest any, fetch FetchFunc, ttl ...time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.cache.GetOrFetch(ctx, key, dest, c.resilient(fetch), ttl...)
}

// Do is the combined dispatch path: rate-limit admission, then cached
// fetch. A rejection returns a *RateLimitedError with the wait hint.
func (c *Core) Do(ctx context.Context, identity, class, key string, dest any, fetch FetchFunc, ttl ...time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.limiter.Admit(identity, class) {
		return &RateLimitedError{
			Identity:   identity,
			Class:      class,
			RetryAfter: c.limiter.TimeUntilNextSlot(identity, class),
		}
	}
	return c.cache.GetOrFetch(ctx, key, dest, c.resilient(fetch), ttl...)
}

// Invalidate removes a cache entry immediately regardless of TTL.
func (c *Core) Invalidate(ctx context.Context, key string) error {
	return c.cache.Invalidate(ctx, key)
}

// CacheStats returns the cache's cumulative counters.
func (c *Core) CacheStats(ctx context.Context) CacheStats {
	return c.cache.Stats(ctx)
}

// RecordCommand counts one dispatched command and its latency; the
// dispatcher calls this after every command completes.
func (c *Core) RecordCommand(latency time.Duration) {
	c.metrics.RecordCommand(latency)
}

// RecordError counts one failed command.
func (c *Core) RecordError() {
	c.metrics.RecordError()
}

// LatestHealthSnapshot returns the most recent health sample, if any.
func (c *Core) LatestHealthSnapshot() (HealthSnapshot, bool) {
	return c.monitor.Latest()
}

// HealthHistory returns the retained health samples, oldest first.
func (c *Core) HealthHistory() []HealthSnapshot {
	return c.monitor.History()
}

// MetricsHandler returns the Prometheus endpoint handler when
// WithPrometheus was configured.
func (c *Core) MetricsHandler() (http.Handler, bool) {
	if c.exporter == nil {
		return nil, false
	}
	return c.exporter.Handler(), true
}

// Close stops the health monitor and releases the store. Close is
// idempotent.
func (c *Core) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.monitor.Stop()
	return c.cache.Close()
}
