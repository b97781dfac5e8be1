package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestIdempotencyCache_CheckAndRemember(t *testing.T) {
	clock := newFakeClock()
	c := NewIdempotencyCache(shared.IdempotencyConfig{TTL: time.Hour, Capacity: 100}, WithClock(clock.Now))
	defer c.Close()
	ctx := context.Background()

	t.Run("first call records the key", func(t *testing.T) {
		seen, err := c.CheckAndRemember(ctx, "crm:status:1:142")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("later calls within the TTL report seen", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			clock.Advance(10 * time.Minute)
			seen, err := c.CheckAndRemember(ctx, "crm:status:1:142")
			require.NoError(t, err)
			assert.True(t, seen)
		}
	})

	t.Run("expired key is accepted again", func(t *testing.T) {
		clock.Advance(time.Hour)
		seen, err := c.CheckAndRemember(ctx, "crm:status:1:142")
		require.NoError(t, err)
		assert.False(t, seen)
	})
}

func TestIdempotencyCache_SeenAndRemember(t *testing.T) {
	clock := newFakeClock()
	c := NewIdempotencyCache(shared.IdempotencyConfig{TTL: time.Minute}, WithClock(clock.Now))
	ctx := context.Background()

	seen, _ := c.Seen(ctx, "k")
	assert.False(t, seen)
	assert.Equal(t, 0, c.Size(), "Seen must not record")

	require.NoError(t, c.Remember(ctx, "k"))
	seen, _ = c.Seen(ctx, "k")
	assert.True(t, seen)

	clock.Advance(59 * time.Second)
	require.NoError(t, c.Remember(ctx, "k"))
	clock.Advance(59 * time.Second)
	seen, _ = c.Seen(ctx, "k")
	assert.True(t, seen, "Remember refreshes the TTL")

	require.NoError(t, c.Forget(ctx, "k"))
	seen, _ = c.Seen(ctx, "k")
	assert.False(t, seen)
}

func TestIdempotencyCache_EvictsOldestWrite(t *testing.T) {
	c := NewIdempotencyCache(shared.IdempotencyConfig{TTL: time.Hour, Capacity: 3})
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, _ = c.CheckAndRemember(ctx, k)
	}
	// rewriting "a" moves it behind "b" and "c"
	require.NoError(t, c.Remember(ctx, "a"))
	_, _ = c.CheckAndRemember(ctx, "d")

	assert.Equal(t, 3, c.Size())
	for k, want := range map[string]bool{"a": true, "b": false, "c": true, "d": true} {
		seen, _ := c.Seen(ctx, k)
		assert.Equal(t, want, seen, "key %s", k)
	}
}

func TestIdempotencyCache_Cleanup(t *testing.T) {
	clock := newFakeClock()
	c := NewIdempotencyCache(shared.IdempotencyConfig{TTL: time.Minute}, WithClock(clock.Now))
	ctx := context.Background()

	_ = c.Remember(ctx, "old")
	clock.Advance(30 * time.Second)
	_ = c.Remember(ctx, "new")
	clock.Advance(45 * time.Second)

	c.cleanup()
	assert.Equal(t, 1, c.Size())
	seen, _ := c.Seen(ctx, "new")
	assert.True(t, seen)
}

func TestIdempotencyCache_Defaults(t *testing.T) {
	c := NewIdempotencyCache(shared.IdempotencyConfig{})
	assert.Equal(t, 24*time.Hour, c.ttl)
	assert.Equal(t, 10000, c.capacity)
}

func TestIdempotencyCache_ConcurrentCheckAndRemember(t *testing.T) {
	c := NewIdempotencyCache(shared.IdempotencyConfig{TTL: time.Hour}, WithCleanupInterval(time.Millisecond))
	defer c.Close()
	ctx := context.Background()

	const workers = 50
	var firsts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen, err := c.CheckAndRemember(ctx, "carrier:ORDER_STATUS:1234567890:DELIVERED")
			assert.NoError(t, err)
			if !seen {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), firsts.Load(), "exactly one caller may win")
}

func TestIdempotencyCache_CloseIsIdempotent(t *testing.T) {
	c := NewIdempotencyCache(shared.IdempotencyConfig{}, WithCleanupInterval(time.Hour))
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestNewIdempotencyStore_Memory(t *testing.T) {
	store, err := NewIdempotencyStore(context.Background(),
		config.IdempotencyConfig{Backend: BackendMemory, TTL: time.Hour, Capacity: 10},
		config.RedisConfig{}, nil)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &IdempotencyCache{}, store)
}

func TestNewIdempotencyStore_RedisFallback(t *testing.T) {
	unreachable := config.RedisConfig{Host: "127.0.0.1", Port: 1}

	store, err := NewIdempotencyStore(context.Background(),
		config.IdempotencyConfig{Backend: BackendRedis, AllowFallback: true},
		unreachable, nil)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &IdempotencyCache{}, store)

	_, err = NewIdempotencyStore(context.Background(),
		config.IdempotencyConfig{Backend: BackendRedis, AllowFallback: false},
		unreachable, nil)
	assert.Error(t, err)
}

func ExampleIdempotencyCache_CheckAndRemember() {
	c := NewIdempotencyCache(shared.DefaultIdempotencyConfig())
	ctx := context.Background()
	first, _ := c.CheckAndRemember(ctx, "crm:add:42:")
	second, _ := c.CheckAndRemember(ctx, "crm:add:42:")
	fmt.Println(first, second)
	// Output: false true
}
