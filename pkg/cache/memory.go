package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lborres/kasal/core"
)

const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 500
)

// Memory is an in-process TTL cache bounded by entry count.
type Memory[V any] struct {
	entries map[string]*entry[V]
	mu      sync.RWMutex
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	// counters
	hits      int64
	misses    int64
	sets      int64
	deletes   int64
	evictions int64
}

var _ core.Cache[*core.Session] = (*Memory[*core.Session])(nil)

type entry[V any] struct {
	value    V
	cachedAt time.Time
}

// NewMemory creates a new in-memory cache
func NewMemory[V any](c core.CacheConfig) *Memory[V] {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}

	return &Memory[V]{
		entries: make(map[string]*entry[V]),
		ttl:     c.TTL,
		maxSize: c.MaxSize,
		now:     time.Now,
	}
}

func (c *Memory[V]) Get(_ context.Context, key string) (V, error) {
	var zero V

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return zero, core.ErrCacheNotFound
	}

	if c.now().Sub(e.cachedAt) > c.ttl {
		atomic.AddInt64(&c.misses, 1)
		c.mu.Lock()
		// only drop the entry we looked at; a concurrent Set may have replaced it
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
			atomic.AddInt64(&c.evictions, 1)
		}
		c.mu.Unlock()
		return zero, core.ErrCacheNotFound
	}

	atomic.AddInt64(&c.hits, 1)
	return e.value, nil
}

func (c *Memory[V]) Set(_ context.Context, key string, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.entries[key] = &entry[V]{value: value, cachedAt: c.now()}
	atomic.AddInt64(&c.sets, 1)
	return nil
}

// evictOldestLocked drops the oldest entry. Caller holds mu.
func (c *Memory[V]) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.cachedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.cachedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		atomic.AddInt64(&c.evictions, 1)
	}
}

func (c *Memory[V]) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, existed := c.entries[key]; existed {
		delete(c.entries, key)
		atomic.AddInt64(&c.deletes, 1)
	}
	return nil
}

func (c *Memory[V]) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
	return nil
}

// Len returns the number of cached entries, expired ones included.
func (c *Memory[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache statistics
func (c *Memory[V]) Stats() core.CacheStats {
	return core.CacheStats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Sets:      atomic.LoadInt64(&c.sets),
		Deletes:   atomic.LoadInt64(&c.deletes),
		Evictions: atomic.LoadInt64(&c.evictions),
		Size:      c.Len(),
		TTL:       c.ttl,
	}
}
