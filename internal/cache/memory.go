package cache

import (
	"context"
	"sync"
	"time"
)

// cacheEntry represents a cached value with expiration.
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
	timer     *time.Timer
}

// MemoryCache is an in-memory implementation of Cache.
//
// An entry is never returned past its expiry. Expired entries are removed
// three ways: by a timer scheduled when the entry is written, lazily by the
// lookup that finds them, and by a periodic sweep.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	now     func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewMemoryCache creates a new in-memory cache. A cleanupInterval <= 0
// disables the periodic sweep.
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries:         make(map[string]*cacheEntry),
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.cleanup()
	}

	return c
}

func (c *MemoryCache) expired(e *cacheEntry) bool {
	return !c.now().Before(e.expiresAt)
}

// Get retrieves a value by key. An expired entry is purged on the spot.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	if exists && !c.expired(entry) {
		result := make([]byte, len(entry.value))
		copy(result, entry.value)
		c.mu.RUnlock()
		return result, nil
	}
	c.mu.RUnlock()

	if exists {
		c.evict(key, entry)
	}
	return nil, ErrCacheMiss
}

// Set stores a value with the given TTL and schedules its eviction.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Delete(ctx, key)
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	entry := &cacheEntry{
		value:     valueCopy,
		expiresAt: c.now().Add(ttl),
	}
	entry.timer = time.AfterFunc(ttl, func() { c.evict(key, entry) })

	c.mu.Lock()
	if old, ok := c.entries[key]; ok {
		old.timer.Stop()
	}
	c.entries[key] = entry
	c.mu.Unlock()

	return nil
}

// evict removes key only if it still maps to entry, so a timer from an
// overwritten entry cannot drop its replacement.
func (c *MemoryCache) evict(key string, entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.entries[key]; ok && current == entry {
		current.timer.Stop()
		delete(c.entries, key)
	}
}

// Delete removes a value by key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.timer.Stop()
		delete(c.entries, key)
	}
	return nil
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		entry.timer.Stop()
	}
	c.entries = make(map[string]*cacheEntry)
	return nil
}

// Len returns the number of entries currently held, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background cleanup goroutine and pending timers.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
	return c.Clear(context.Background())
}

// cleanup periodically removes expired entries.
func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

// removeExpired removes all expired entries.
func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if c.expired(entry) {
			entry.timer.Stop()
			delete(c.entries, key)
		}
	}
}

var _ Cache = (*MemoryCache)(nil)
