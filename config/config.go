// Package config holds the tunables consumed by the botcore runtime
// support layer. Defaults follow the production bot deployment; every
// value can be overridden through the facade options, a YAML file, or
// the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/impuestito/botcore/pkg/serialization"
)

// ErrInvalidConfig is wrapped by every validation failure. Validation
// errors are fatal at startup; nothing else in this layer is.
var ErrInvalidConfig = errors.New("invalid configuration")

// ClassRule is a per-command-class rate limit budget overriding the
// default one, e.g. a higher budget for cheap "ping" commands.
type ClassRule struct {
	Requests int
	Window   time.Duration
}

// Thresholds are the degraded-health trip points evaluated on every
// health sample.
type Thresholds struct {
	MaxErrorRate  float64
	MinHitRate    float64
	MaxAvgLatency time.Duration
}

// SerializationConfig selects the codec used for cached payloads and for
// the external store wire format.
type SerializationConfig struct {
	Type    string
	Encoder serialization.NewEncoderFunc
	Decoder serialization.NewDecoderFunc
}

// Config collects every tunable of the runtime support layer.
type Config struct {
	CacheTTL     time.Duration
	CacheMaxSize int

	RateLimitRequests int
	RateLimitWindow   time.Duration
	ClassRules        map[string]ClassRule

	APITimeout     time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration

	HealthInterval time.Duration
	HistorySize    int
	Thresholds     Thresholds

	ServeStale bool

	// RedisURL selects the external store backend when non-empty;
	// empty means pure in-memory mode.
	RedisURL string

	Serialization SerializationConfig
	Breaker       gobreaker.Settings
	Logger        *zap.Logger
}

// New returns a Config with production defaults.
func New() *Config {
	return &Config{
		CacheTTL:     5 * time.Minute,
		CacheMaxSize: 1000,

		RateLimitRequests: 5,
		RateLimitWindow:   60 * time.Second,
		ClassRules:        map[string]ClassRule{},

		APITimeout:     10 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 100 * time.Millisecond,

		HealthInterval: 300 * time.Second,
		HistorySize:    24,
		Thresholds: Thresholds{
			MaxErrorRate:  0.10,
			MinHitRate:    0.50,
			MaxAvgLatency: time.Second,
		},

		Serialization: SerializationConfig{
			Type:    serialization.JSONType,
			Encoder: serialization.JSONEncoder,
			Decoder: serialization.JSONDecoder,
		},
		Breaker: gobreaker.Settings{
			Name:        "upstream",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		},
	}
}

// UseSerialization switches the codec by name.
func (c *Config) UseSerialization(name string) error {
	switch name {
	case serialization.JSONType:
		c.Serialization = SerializationConfig{
			Type:    serialization.JSONType,
			Encoder: serialization.JSONEncoder,
			Decoder: serialization.JSONDecoder,
		}
	case serialization.GobType:
		c.Serialization = SerializationConfig{
			Type:    serialization.GobType,
			Encoder: serialization.GobEncoder,
			Decoder: serialization.GobDecoder,
		}
	default:
		return fmt.Errorf("%w: unsupported serialization type %q", ErrInvalidConfig, name)
	}
	return nil
}

// Validate checks every tunable. Any failure wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache TTL must be positive, got %v", ErrInvalidConfig, c.CacheTTL)
	}
	if c.CacheMaxSize < 1 {
		return fmt.Errorf("%w: cache max size must be at least 1, got %d", ErrInvalidConfig, c.CacheMaxSize)
	}
	if c.RateLimitRequests < 1 {
		return fmt.Errorf("%w: rate limit requests must be at least 1, got %d", ErrInvalidConfig, c.RateLimitRequests)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: rate limit window must be positive, got %v", ErrInvalidConfig, c.RateLimitWindow)
	}
	for class, rule := range c.ClassRules {
		if rule.Requests < 1 || rule.Window <= 0 {
			return fmt.Errorf("%w: class rule %q must have positive requests and window", ErrInvalidConfig, class)
		}
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("%w: API timeout must be positive, got %v", ErrInvalidConfig, c.APITimeout)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries must be at least 1, got %d", ErrInvalidConfig, c.MaxRetries)
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("%w: health check interval must be positive, got %v", ErrInvalidConfig, c.HealthInterval)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("%w: history size must be at least 1, got %d", ErrInvalidConfig, c.HistorySize)
	}
	if c.Thresholds.MaxErrorRate <= 0 || c.Thresholds.MaxErrorRate > 1 {
		return fmt.Errorf("%w: max error rate must be in (0, 1], got %v", ErrInvalidConfig, c.Thresholds.MaxErrorRate)
	}
	if c.Thresholds.MinHitRate < 0 || c.Thresholds.MinHitRate > 1 {
		return fmt.Errorf("%w: min hit rate must be in [0, 1], got %v", ErrInvalidConfig, c.Thresholds.MinHitRate)
	}
	if c.Serialization.Encoder == nil || c.Serialization.Decoder == nil {
		return fmt.Errorf("%w: serialization codec not set", ErrInvalidConfig)
	}
	return nil
}
