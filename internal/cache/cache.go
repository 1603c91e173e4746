package cache

import (
	"context"
	"crypto/sha1" //nolint:gosec // G505: sha1 for cache keys, not security
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"toolproxy/internal/core"
)

// Options configures an LRUCache.
type Options struct {
	Capacity        int
	CleanupInterval time.Duration
	Metrics         core.MetricsCollector
}

// LRUCache is a thread-safe LRU cache with per-entry expiry. It implements
// core.Cache.
type LRUCache struct {
	capacity int
	items    map[string]*entry
	mu       sync.Mutex
	head     *entry
	tail     *entry
	metrics  core.MetricsCollector
	cancel   context.CancelFunc
}

type entry struct {
	value     any
	expiresAt int64
	key       string
	prev      *entry
	next      *entry
}

// NewCache creates a cache with default capacity and cleanup interval.
func NewCache() *LRUCache {
	return NewCacheWithOptions(Options{})
}

// NewCacheWithOptions creates a cache and starts its cleanup worker.
func NewCacheWithOptions(opts Options) *LRUCache {
	if opts.Capacity <= 0 {
		opts.Capacity = core.CacheDefaultCapacity
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = core.CacheCleanupInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = &core.NopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &LRUCache{
		capacity: opts.Capacity,
		items:    make(map[string]*entry),
		head:     &entry{},
		tail:     &entry{},
		metrics:  opts.Metrics,
		cancel:   cancel,
	}
	c.head.next = c.tail
	c.tail.prev = c.head

	go c.cleanupLoop(ctx, opts.CleanupInterval)
	return c
}

func (c *LRUCache) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates the cleanup worker.
func (c *LRUCache) Stop() {
	c.cancel()
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *LRUCache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	expiresAt := time.Now().Add(ttl).UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.unlink(e)
		c.pushFront(e)
		return
	}

	e := &entry{value: value, expiresAt: expiresAt, key: key}
	c.pushFront(e)
	c.items[key] = e

	if len(c.items) > c.capacity {
		oldest := c.tail.prev
		c.unlink(oldest)
		delete(c.items, oldest.key)
	}
}

// Get returns the value for key unless it is missing or expired.
func (c *LRUCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.metrics.RecordCacheMiss()
		return nil, false
	}
	if time.Now().UnixNano() > e.expiresAt {
		c.unlink(e)
		delete(c.items, key)
		c.metrics.RecordCacheMiss()
		return nil, false
	}

	c.unlink(e)
	c.pushFront(e)
	c.metrics.RecordCacheHit()
	return e.value, true
}

// Delete removes key if present.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.unlink(e)
		delete(c.items, key)
	}
}

// Len returns the number of stored entries, expired or not.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRUCache) pushFront(e *entry) {
	e.next = c.head.next
	e.prev = c.head
	c.head.next.prev = e
	c.head.next = e
}

func (c *LRUCache) unlink(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (c *LRUCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	for key, e := range c.items {
		if now > e.expiresAt {
			c.unlink(e)
			delete(c.items, key)
		}
	}
}

// Clear removes every entry.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[string]*entry)
}

// ModelListKey returns the cache key for the model listing of a backend URL.
func ModelListKey(modelsURL string) string {
	sum := sha1.Sum([]byte(modelsURL)) //nolint:gosec // G401: sha1 for cache keys, not security
	return fmt.Sprintf("models:%s:%s", core.CacheKeyVersion, hex.EncodeToString(sum[:8]))
}
