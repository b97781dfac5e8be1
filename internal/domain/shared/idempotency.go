package shared

import (
	"context"
	"time"
)

// IdempotencyStore records business-event keys that were already handled so
// that the same event arriving through webhook and poll is processed once.
type IdempotencyStore interface {
	// CheckAndRemember atomically reports whether key was already seen within
	// the TTL window. When it was not, the key is recorded before returning.
	CheckAndRemember(ctx context.Context, key string) (bool, error)

	// Seen reports whether key is currently remembered
	Seen(ctx context.Context, key string) (bool, error)

	// Remember records key unconditionally, refreshing its TTL
	Remember(ctx context.Context, key string) error

	// Forget drops key so a later delivery of the same event is processed again
	Forget(ctx context.Context, key string) error

	// Close releases resources held by the store
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is how long a key suppresses duplicates. Default: 24 hours
	TTL time.Duration

	// Capacity bounds the number of remembered keys; the oldest write is
	// evicted first. Default: 10000
	Capacity int
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:      24 * time.Hour,
		Capacity: 10000,
	}
}
