package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Idempotency backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

const cleanupInterval = 5 * time.Minute

// NewIdempotencyStore builds the store selected by configuration. A Redis
// backend that cannot be reached falls back to memory when allowed.
func NewIdempotencyStore(ctx context.Context, idem config.IdempotencyConfig, redisCfg config.RedisConfig, logger *zap.Logger) (shared.IdempotencyStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	memory := func() shared.IdempotencyStore {
		return NewIdempotencyCache(shared.IdempotencyConfig{
			TTL:      idem.TTL,
			Capacity: idem.Capacity,
		}, WithCleanupInterval(cleanupInterval))
	}

	if idem.Backend != BackendRedis {
		logger.Info("Using in-memory idempotency cache",
			zap.Int("capacity", idem.Capacity),
			zap.Duration("ttl", idem.TTL),
		)
		return memory(), nil
	}

	store, err := NewRedisIdempotencyCache(ctx, RedisConfig{
		Host:     redisCfg.Host,
		Port:     redisCfg.Port,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	}, idem.TTL, idem.KeyPrefix)
	if err == nil {
		logger.Info("Using Redis idempotency cache", zap.String("addr", redisCfg.Addr()))
		return store, nil
	}
	if !idem.AllowFallback {
		return nil, fmt.Errorf("redis idempotency backend unavailable: %w", err)
	}
	logger.Warn("Redis unavailable, falling back to in-memory idempotency cache", zap.Error(err))
	return memory(), nil
}
