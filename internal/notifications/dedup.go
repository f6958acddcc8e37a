package notifications

import (
	"container/list"
	"sync"
	"time"
)

// dedupCache remembers recently sent keys. It holds at most capacity entries;
// when full the oldest entry is evicted. Entries older than window are evicted
// whenever the cache is touched.
type dedupCache struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	order    *list.List
	entries  map[string]*list.Element
}

type dedupEntry struct {
	key    string
	seenAt time.Time
}

func newDedupCache(capacity int, window time.Duration) *dedupCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &dedupCache{
		capacity: capacity,
		window:   window,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// allow reports whether key may be sent now and records it when it may.
func (c *dedupCache) allow(key string, now time.Time) bool {
	if c.window <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpired(now)
	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = c.order.PushBack(dedupEntry{key: key, seenAt: now})
	for c.order.Len() > c.capacity {
		c.remove(c.order.Front())
	}
	return true
}

func (c *dedupCache) evictExpired(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		entry := front.Value.(dedupEntry)
		if now.Sub(entry.seenAt) < c.window {
			return
		}
		c.remove(front)
	}
}

func (c *dedupCache) remove(elem *list.Element) {
	entry := c.order.Remove(elem).(dedupEntry)
	delete(c.entries, entry.key)
}

func (c *dedupCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
