package cache

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultReplayCapacity = 1000
	DefaultReplayTTL      = 15 * time.Minute
)

// ReplayCache is the process-local fast path for webhook redelivery
// detection. Entries expire after a TTL; when the cache is over capacity the
// oldest-inserted entries are evicted first. It resets on restart, which is
// why the durable event ledger also exists.
type ReplayCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // keys, oldest-inserted first
	entries  map[string]*replayEntry
	now      func() time.Time
}

type replayEntry struct {
	seenAt time.Time
	elem   *list.Element
}

func NewReplayCache(capacity int, ttl time.Duration) *ReplayCache {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	return &ReplayCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[string]*replayEntry),
		now:      time.Now,
	}
}

// Seen reports whether key was marked within the TTL window. Expired entries
// are dropped on the way through.
func (c *ReplayCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.now().Sub(entry.seenAt) > c.ttl {
		c.remove(key, entry)
		return false
	}
	return true
}

// Mark records key as seen. Eviction runs first: expired entries, then
// oldest-inserted entries until the cache is back at capacity.
func (c *ReplayCache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.seenAt = c.now()
		return
	}

	c.prune()

	entry := &replayEntry{seenAt: c.now()}
	entry.elem = c.order.PushBack(key)
	c.entries[key] = entry
}

// Forget removes key so the provider's next delivery attempt is not
// short-circuited by the fast path after a processing failure.
func (c *ReplayCache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.remove(key, entry)
	}
}

func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ReplayCache) prune() {
	now := c.now()

	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		key := elem.Value.(string)
		if entry, ok := c.entries[key]; ok && now.Sub(entry.seenAt) > c.ttl {
			c.remove(key, entry)
		}
		elem = next
	}

	// +1 leaves room for the entry about to be inserted.
	for len(c.entries)+1 > c.capacity {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		key := oldest.Value.(string)
		c.remove(key, c.entries[key])
	}
}

func (c *ReplayCache) remove(key string, entry *replayEntry) {
	if entry.elem != nil {
		c.order.Remove(entry.elem)
	}
	delete(c.entries, key)
}
