// ABOUTME: Thread-safe TTL cache for suppressing duplicate event deliveries.
// ABOUTME: Pipelines retry event posts; replays within the TTL are dropped.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// EventKey builds the cache key for one event of one run. Event IDs are only
// unique per run, so the run ID is part of the key.
func EventKey(runID, eventID string) string {
	return runID + ":" + eventID
}

// cacheEntry stores the timestamp and list element for a cached key.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited record of seen event keys.
// A doubly-linked list maintains insertion order for O(1) eviction when the
// cache is at capacity.
type Cache struct {
	mu       sync.RWMutex
	seen     map[string]*cacheEntry
	order    *list.List // keys in insertion order, oldest at front
	ttl      time.Duration
	capacity int
	done     chan struct{}
	closed   bool
}

// New creates a dedupe cache with the given TTL and capacity. A background
// janitor removes expired entries; its interval tracks the TTL so short-lived
// caches do not hold dead keys for long.
func New(ttl time.Duration, capacity int) *Cache {
	c := &Cache{
		seen:     make(map[string]*cacheEntry),
		order:    list.New(),
		ttl:      ttl,
		capacity: capacity,
		done:     make(chan struct{}),
	}
	go c.janitor(janitorInterval(ttl))
	return c
}

// janitorInterval clamps the cleanup interval to [1s, 1m].
func janitorInterval(ttl time.Duration) time.Duration {
	switch {
	case ttl < time.Second:
		return time.Second
	case ttl > time.Minute:
		return time.Minute
	default:
		return ttl
	}
}

// CheckAndMark atomically checks whether a key has been seen and marks it if
// not. Returns true if the key was already seen (duplicate), false if it is
// new and now marked. The single locked section prevents the TOCTOU race a
// separate Check/Mark pair would have.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	c.markLocked(key)
	return false
}

// Check returns true if the key has been seen and is not expired.
func (c *Cache) Check(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[key]
	if !ok {
		return false
	}
	return time.Since(entry.timestamp) < c.ttl
}

// Mark records that a key has been seen. If the cache is at capacity, the
// oldest entry is evicted to make room.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// markLocked is the internal mark implementation. Must be called with mu held.
func (c *Cache) markLocked(key string) {
	now := time.Now()

	// Re-marking refreshes the timestamp and moves the key to the back
	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.capacity {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// janitor periodically removes expired entries until Close.
func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired drops all entries older than the TTL.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Len returns the number of live entries, expired or not yet collected
// included. Used for introspection and tests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

// Close stops the background janitor. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
