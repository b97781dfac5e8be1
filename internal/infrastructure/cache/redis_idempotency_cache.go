package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "fulfillment:idempotency:"

// RedisIdempotencyCache keeps idempotency keys in Redis with a native TTL.
// Capacity is left to the server's eviction policy.
type RedisIdempotencyCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisIdempotencyCache connects to Redis and verifies the connection
func NewRedisIdempotencyCache(ctx context.Context, cfg RedisConfig, ttl time.Duration, keyPrefix string) (*RedisIdempotencyCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisIdempotencyCacheWithClient(client, ttl, keyPrefix), nil
}

// NewRedisIdempotencyCacheWithClient wraps an existing client
func NewRedisIdempotencyCacheWithClient(client *redis.Client, ttl time.Duration, keyPrefix string) *RedisIdempotencyCache {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = shared.DefaultIdempotencyConfig().TTL
	}
	return &RedisIdempotencyCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// CheckAndRemember uses SET NX PX so the check and the write are one command
func (c *RedisIdempotencyCache) CheckAndRemember(ctx context.Context, key string) (bool, error) {
	created, err := c.client.SetNX(ctx, c.keyPrefix+key, "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record idempotency key: %w", err)
	}
	return !created, nil
}

// Seen reports whether key exists
func (c *RedisIdempotencyCache) Seen(ctx context.Context, key string) (bool, error) {
	exists, err := c.client.Exists(ctx, c.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return exists > 0, nil
}

// Remember writes key with a fresh TTL
func (c *RedisIdempotencyCache) Remember(ctx context.Context, key string) error {
	if err := c.client.Set(ctx, c.keyPrefix+key, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to remember idempotency key: %w", err)
	}
	return nil
}

// Forget deletes key
func (c *RedisIdempotencyCache) Forget(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to forget idempotency key: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (c *RedisIdempotencyCache) Close() error {
	return c.client.Close()
}

var _ shared.IdempotencyStore = (*RedisIdempotencyCache)(nil)
