package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for YAML loading. Durations are given in
// seconds to match the deployment's environment variable conventions.
type fileConfig struct {
	CacheTTLSeconds   *int `yaml:"cache_ttl_seconds"`
	CacheMaxSize      *int `yaml:"cache_max_size"`
	RateLimitRequests *int `yaml:"rate_limit_requests"`
	RateLimitWindowS  *int `yaml:"rate_limit_window_seconds"`

	ClassRules map[string]fileClassRule `yaml:"class_rules"`

	APITimeoutSeconds *int `yaml:"api_timeout_seconds"`
	MaxRetries        *int `yaml:"max_retries"`
	RetryBaseDelayMs  *int `yaml:"retry_base_delay_ms"`

	HealthIntervalS *int `yaml:"health_check_interval_seconds"`
	HistorySize     *int `yaml:"history_size"`

	MaxErrorRate    *float64 `yaml:"max_error_rate"`
	MinHitRate      *float64 `yaml:"min_hit_rate"`
	MaxAvgLatencyMs *int     `yaml:"max_avg_latency_ms"`

	ServeStale    *bool   `yaml:"serve_stale"`
	RedisURL      *string `yaml:"redis_url"`
	Serialization *string `yaml:"serialization"`
}

type fileClassRule struct {
	Requests      int `yaml:"requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

// LoadFile reads a YAML file over the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}

	cfg := New()
	if err := fc.apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	setSeconds := func(dst *time.Duration, src *int) {
		if src != nil {
			*dst = time.Duration(*src) * time.Second
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}

	setSeconds(&cfg.CacheTTL, fc.CacheTTLSeconds)
	setInt(&cfg.CacheMaxSize, fc.CacheMaxSize)
	setInt(&cfg.RateLimitRequests, fc.RateLimitRequests)
	setSeconds(&cfg.RateLimitWindow, fc.RateLimitWindowS)
	setSeconds(&cfg.APITimeout, fc.APITimeoutSeconds)
	setInt(&cfg.MaxRetries, fc.MaxRetries)
	setSeconds(&cfg.HealthInterval, fc.HealthIntervalS)
	setInt(&cfg.HistorySize, fc.HistorySize)

	if fc.RetryBaseDelayMs != nil {
		cfg.RetryBaseDelay = time.Duration(*fc.RetryBaseDelayMs) * time.Millisecond
	}
	if fc.MaxErrorRate != nil {
		cfg.Thresholds.MaxErrorRate = *fc.MaxErrorRate
	}
	if fc.MinHitRate != nil {
		cfg.Thresholds.MinHitRate = *fc.MinHitRate
	}
	if fc.MaxAvgLatencyMs != nil {
		cfg.Thresholds.MaxAvgLatency = time.Duration(*fc.MaxAvgLatencyMs) * time.Millisecond
	}
	if fc.ServeStale != nil {
		cfg.ServeStale = *fc.ServeStale
	}
	if fc.RedisURL != nil {
		cfg.RedisURL = *fc.RedisURL
	}
	if fc.Serialization != nil {
		if err := cfg.UseSerialization(*fc.Serialization); err != nil {
			return err
		}
	}

	for class, rule := range fc.ClassRules {
		cfg.ClassRules[class] = ClassRule{
			Requests: rule.Requests,
			Window:   time.Duration(rule.WindowSeconds) * time.Second,
		}
	}
	return nil
}

// ApplyEnv overrides tunables from the environment. Variable names match
// the ones the bot deployment has always used.
func (c *Config) ApplyEnv() error {
	envSeconds := map[string]*time.Duration{
		"CACHE_TTL":             &c.CacheTTL,
		"RATE_LIMIT_WINDOW":     &c.RateLimitWindow,
		"API_TIMEOUT":           &c.APITimeout,
		"HEALTH_CHECK_INTERVAL": &c.HealthInterval,
	}
	for name, dst := range envSeconds {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, name, v)
			}
			*dst = time.Duration(n) * time.Second
		}
	}

	envInts := map[string]*int{
		"CACHE_MAXSIZE":       &c.CacheMaxSize,
		"RATE_LIMIT_COMMANDS": &c.RateLimitRequests,
		"MAX_RETRIES":         &c.MaxRetries,
	}
	for name, dst := range envInts {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, name, v)
			}
			*dst = n
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	return nil
}
