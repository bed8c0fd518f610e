package botcore

import (
	"time"

	"go.uber.org/zap"

	"github.com/impuestito/botcore/config"
	"github.com/impuestito/botcore/internal/cache"
	"github.com/impuestito/botcore/internal/clock"
)

type coreOptions struct {
	cfg        *config.Config
	clock      clock.Clock
	store      cache.Store
	onDegraded func(HealthSnapshot)
	promNS     string
}

// Option configures New.
type Option func(*coreOptions) error

// WithConfig replaces the default configuration wholesale, e.g. with one
// loaded from a file.
func WithConfig(cfg *config.Config) Option {
	return func(o *coreOptions) error {
		o.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *coreOptions) error {
		if logger != nil {
			o.cfg.Logger = logger
		}
		return nil
	}
}

// WithClock injects a time source; tests use this for determinism.
func WithClock(clk clock.Clock) Option {
	return func(o *coreOptions) error {
		o.clock = clk
		return nil
	}
}

// WithStore injects a cache store backend, overriding the in-memory
// default and any configured Redis URL.
func WithStore(store cache.Store) Option {
	return func(o *coreOptions) error {
		o.store = store
		return nil
	}
}

// WithRedis backs the cache with the external store at the given URL.
func WithRedis(url string) Option {
	return func(o *coreOptions) error {
		o.cfg.RedisURL = url
		return nil
	}
}

// WithCacheTTL sets the default time-to-live for cached values.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *coreOptions) error {
		o.cfg.CacheTTL = ttl
		return nil
	}
}

// WithCacheMaxSize bounds the number of cached entries.
func WithCacheMaxSize(n int) Option {
	return func(o *coreOptions) error {
		o.cfg.CacheMaxSize = n
		return nil
	}
}

// WithRateLimit sets the default admission budget per identity.
func WithRateLimit(requests int, window time.Duration) Option {
	return func(o *coreOptions) error {
		o.cfg.RateLimitRequests = requests
		o.cfg.RateLimitWindow = window
		return nil
	}
}

// WithClassRule overrides the budget for one command class.
func WithClassRule(class string, requests int, window time.Duration) Option {
	return func(o *coreOptions) error {
		o.cfg.ClassRules[class] = config.ClassRule{Requests: requests, Window: window}
		return nil
	}
}

// WithAPITimeout bounds each upstream fetch attempt.
func WithAPITimeout(d time.Duration) Option {
	return func(o *coreOptions) error {
		o.cfg.APITimeout = d
		return nil
	}
}

// WithMaxRetries bounds fetch attempts, counting the first one.
func WithMaxRetries(n int) Option {
	return func(o *coreOptions) error {
		o.cfg.MaxRetries = n
		return nil
	}
}

// WithHealthCheckInterval sets the monitor's sampling period.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(o *coreOptions) error {
		o.cfg.HealthInterval = d
		return nil
	}
}

// WithOnDegraded registers the hook invoked with every degraded
// snapshot. The hook only receives the signal; notification channels
// are the embedding bot's concern.
func WithOnDegraded(fn func(HealthSnapshot)) Option {
	return func(o *coreOptions) error {
		o.onDegraded = fn
		return nil
	}
}

// WithServeStale enables serving the last-good value when a re-fetch
// fails. Off by default.
func WithServeStale(enabled bool) Option {
	return func(o *coreOptions) error {
		o.cfg.ServeStale = enabled
		return nil
	}
}

// WithSerialization selects the payload codec by name ("json" or "gob").
func WithSerialization(name string) Option {
	return func(o *coreOptions) error {
		return o.cfg.UseSerialization(name)
	}
}

// WithPrometheus exposes the counters as Prometheus metrics under the
// given namespace.
func WithPrometheus(namespace string) Option {
	return func(o *coreOptions) error {
		o.promNS = namespace
		return nil
	}
}
