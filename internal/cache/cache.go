// Package cache stores API listing responses for a short time so repeated
// lookups skip the network and the rate limiter.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache is a byte-oriented TTL store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Flush(ctx context.Context) error
	Close() error
}

// Config holds cache configuration
type Config struct {
	Enabled bool          `mapstructure:"enabled"`
	Driver  string        `mapstructure:"driver"` // memory or redis
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled: false,
		Driver:  "memory",
		TTL:     time.Minute,
		Prefix:  "ordr",
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

// New builds the cache selected by cfg.Driver.
func New(cfg *Config) (Cache, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryCache(cfg.Prefix), nil
	case "redis":
		return NewRedisCache(&cfg.Redis, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Driver)
	}
}

func buildKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + strings.TrimPrefix(key, "/")
}
