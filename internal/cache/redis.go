package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache shared between processes through Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a new Redis-backed cache
func NewRedisCache(cfg *RedisConfig, prefix string) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return NewRedisCacheFromClient(rdb, prefix)
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
	}
}

// Client exposes the underlying connection for other Redis users.
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping tests the Redis connection
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cacheKey := buildKey(r.prefix, key)

	result, err := r.client.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get key %s from Redis: %w", cacheKey, err)
	}
	return result, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cacheKey := buildKey(r.prefix, key)

	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, cacheKey, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s in Redis: %w", cacheKey, err)
	}
	return nil
}

// Flush removes every key under the cache prefix.
func (r *RedisCache) Flush(ctx context.Context) error {
	pattern := buildKey(r.prefix, "*")

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan for keys with pattern %s: %w", pattern, err)
	}

	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
