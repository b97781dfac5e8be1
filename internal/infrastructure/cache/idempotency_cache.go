package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/erp/fulfillment/internal/domain/shared"
)

type entry struct {
	key       string
	expiresAt time.Time
}

// IdempotencyCache is a process-local, bounded, time-expiring set of
// business-event keys. When full, the oldest write is evicted first.
// It suits the single-instance deployment the service assumes.
type IdempotencyCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = oldest write
	ttl      time.Duration
	capacity int
	now      func() time.Time
	sweep    time.Duration

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures an IdempotencyCache
type Option func(*IdempotencyCache)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(c *IdempotencyCache) {
		c.now = now
	}
}

// WithCleanupInterval starts a background sweep of expired keys. Expired
// keys are also dropped lazily, so the sweep only bounds memory between
// bursts.
func WithCleanupInterval(interval time.Duration) Option {
	return func(c *IdempotencyCache) {
		c.sweep = interval
	}
}

// NewIdempotencyCache creates a cache from cfg, falling back to the default
// TTL and capacity for non-positive values.
func NewIdempotencyCache(cfg shared.IdempotencyConfig, opts ...Option) *IdempotencyCache {
	defaults := shared.DefaultIdempotencyConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaults.Capacity
	}
	c := &IdempotencyCache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		ttl:      cfg.TTL,
		capacity: cfg.Capacity,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweep > 0 {
		c.wg.Add(1)
		go c.cleanupLoop(c.sweep)
	}
	return c
}

// CheckAndRemember returns true when key was already seen within the TTL and
// leaves the cache untouched; otherwise it records key and returns false.
// Both happen under one lock.
func (c *IdempotencyCache) CheckAndRemember(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.liveLocked(key, now) {
		return true, nil
	}
	c.rememberLocked(key, now)
	return false, nil
}

// Seen reports whether key is remembered and not expired
func (c *IdempotencyCache) Seen(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key, c.now()), nil
}

// Remember records key, refreshing its TTL and write position
func (c *IdempotencyCache) Remember(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rememberLocked(key, c.now())
	return nil
}

// Forget drops key
func (c *IdempotencyCache) Forget(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	return nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (c *IdempotencyCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
	return nil
}

// Size returns the number of remembered keys, expired ones included until
// they are swept
func (c *IdempotencyCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *IdempotencyCache) liveLocked(key string, now time.Time) bool {
	el, ok := c.entries[key]
	if !ok {
		return false
	}
	if !now.Before(el.Value.(*entry).expiresAt) {
		c.removeLocked(el)
		return false
	}
	return true
}

func (c *IdempotencyCache) rememberLocked(key string, now time.Time) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).expiresAt = now.Add(c.ttl)
		c.order.MoveToBack(el)
		return
	}
	c.entries[key] = c.order.PushBack(&entry{key: key, expiresAt: now.Add(c.ttl)})
	for len(c.entries) > c.capacity {
		c.removeLocked(c.order.Front())
	}
}

func (c *IdempotencyCache) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*entry).key)
}

func (c *IdempotencyCache) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup pops expired keys from the front. TTL is uniform, so write order
// is also expiry order.
func (c *IdempotencyCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		if now.Before(el.Value.(*entry).expiresAt) {
			return
		}
		c.removeLocked(el)
	}
}

var _ shared.IdempotencyStore = (*IdempotencyCache)(nil)
