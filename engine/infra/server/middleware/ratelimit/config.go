package ratelimit

import (
	"fmt"
	"time"

	"github.com/ulule/limiter/v3"
)

// Config represents rate limiting configuration
type Config struct {
	// Global rate limit settings
	GlobalRate RateConfig `yaml:"global_rate"`

	// Per-route rate limits keyed by path prefix
	RouteRates map[string]RateConfig `yaml:"route_rates"`

	// RedisAddr selects the shared Redis store; empty keeps counters in memory.
	RedisAddr string `yaml:"redis_addr"`

	Prefix   string `yaml:"prefix"`
	MaxRetry int    `yaml:"max_retry"`

	ExcludedPaths []string `yaml:"excluded_paths"`
}

// RateConfig represents a single rate limit configuration
type RateConfig struct {
	Period   time.Duration `yaml:"period"`
	Limit    int64         `yaml:"limit"`
	Disabled bool          `yaml:"disabled,omitempty"`
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() *Config {
	return &Config{
		GlobalRate: RateConfig{
			Limit:  100,
			Period: 1 * time.Minute,
		},
		RouteRates: map[string]RateConfig{
			// ingestion and sync fan out to the embedding service
			"/api/v0/ingest": {Limit: 20, Period: 1 * time.Minute},
			"/api/v0/sync":   {Limit: 5, Period: 1 * time.Minute},
		},
		Prefix:   "kbchat:ratelimit",
		MaxRetry: 3,
		ExcludedPaths: []string{
			"/healthz",
			"/metrics",
		},
	}
}

// ToLimiterRate converts RateConfig to limiter.Rate
func (rc RateConfig) ToLimiterRate() limiter.Rate {
	return limiter.Rate{
		Period: rc.Period,
		Limit:  rc.Limit,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.GlobalRate.Limit <= 0 {
		return fmt.Errorf("global rate limit must be positive")
	}
	if c.GlobalRate.Period <= 0 {
		return fmt.Errorf("global rate period must be positive")
	}
	for route, rate := range c.RouteRates {
		if rate.Disabled {
			continue
		}
		if rate.Limit <= 0 || rate.Period <= 0 {
			return fmt.Errorf("route rate limit for %s must be positive", route)
		}
	}
	return nil
}
