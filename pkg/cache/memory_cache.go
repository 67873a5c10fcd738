package cache

import (
	"sync"
	"time"
)

type entry struct {
	value      interface{}
	expiration int64
}

func (e *entry) expired(now int64) bool {
	return e.expiration > 0 && now > e.expiration
}

// MemoryCache is a concurrent TTL cache
type MemoryCache struct {
	items     sync.Map
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates a cache that sweeps expired entries every interval.
// A non-positive interval disables the sweeper; expired entries are then
// dropped lazily on Get.
func NewMemoryCache(interval time.Duration) *MemoryCache {
	c := &MemoryCache{stopCh: make(chan struct{})}
	if interval > 0 {
		go c.cleanupLoop(interval)
	}
	return c
}

// Set stores value under key. A zero ttl never expires.
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	var expiration int64
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}
	c.items.Store(key, &entry{value: value, expiration: expiration})
}

func (c *MemoryCache) Get(key string) (interface{}, bool) {
	item, ok := c.items.Load(key)
	if !ok {
		return nil, false
	}
	e := item.(*entry)
	if e.expired(time.Now().UnixNano()) {
		c.items.Delete(key)
		return nil, false
	}
	return e.value, true
}

func (c *MemoryCache) Delete(key string) {
	c.items.Delete(key)
}

// Len counts live entries
func (c *MemoryCache) Len() int {
	now := time.Now().UnixNano()
	n := 0
	c.items.Range(func(_, value interface{}) bool {
		if !value.(*entry).expired(now) {
			n++
		}
		return true
	})
	return n
}

// Close stops the sweeper
func (c *MemoryCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCh) })
}

func (c *MemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MemoryCache) sweep() {
	now := time.Now().UnixNano()
	c.items.Range(func(key, value interface{}) bool {
		if value.(*entry).expired(now) {
			c.items.Delete(key)
		}
		return true
	})
}
