package cache

import (
	"sync"
	"time"
)

// DefaultCleanupInterval is how often expired entries are swept
const DefaultCleanupInterval = 5 * time.Minute

// entry is a cached value with expiration
type entry[V any] struct {
	value      V
	expiration time.Time
}

func (e *entry[V]) isExpired(now time.Time) bool {
	return now.After(e.expiration)
}

// MemoryCache is an in-memory TTL cache
type MemoryCache[V any] struct {
	items map[string]*entry[V]
	mutex sync.RWMutex
	ttl   time.Duration
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache creates a cache whose entries live for ttl and starts the
// cleanup goroutine. Call Close to stop it.
func NewMemoryCache[V any](ttl, cleanupInterval time.Duration) *MemoryCache[V] {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	c := &MemoryCache[V]{
		items: make(map[string]*entry[V]),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}

	go c.cleanupLoop(cleanupInterval)

	return c
}

// Set stores a value in the cache
func (c *MemoryCache[V]) Set(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = &entry[V]{
		value:      value,
		expiration: c.now().Add(c.ttl),
	}
}

// Get retrieves a value that has not expired
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	e, exists := c.items[key]
	if !exists || e.isExpired(c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes a value from the cache
func (c *MemoryCache[V]) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
}

// Clear removes all items from the cache
func (c *MemoryCache[V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items = make(map[string]*entry[V])
}

// Size returns the number of stored items, expired ones included until swept
func (c *MemoryCache[V]) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.items)
}

// Close stops the cleanup goroutine
func (c *MemoryCache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// sweep removes expired entries
func (c *MemoryCache[V]) sweep() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	for key, e := range c.items {
		if e.isExpired(now) {
			delete(c.items, key)
		}
	}
}

func (c *MemoryCache[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}
