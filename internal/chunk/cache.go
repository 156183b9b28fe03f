package chunk

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Cache is the bounded store-and-forward cache for chunk payloads. The
// admission list is ordered by insertion time; under capacity pressure
// the oldest admission goes first, regardless of access counts.
type Cache struct {
	capacity int
	ttl      time.Duration
	clock    clock.Clock

	mu        sync.Mutex
	entries   map[string]*list.Element
	admission *list.List // front = newest admission

	hits      uint64
	misses    uint64
	evictions uint64
}

type cacheEntry struct {
	chunkID     string
	payload     json.RawMessage
	cachedAt    time.Time
	expires     time.Time
	accessCount int
}

// CacheMetrics holds cache performance counters.
type CacheMetrics struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
}

// NewCache creates a chunk cache.
func NewCache(capacity int, ttl time.Duration, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	return &Cache{
		capacity:  capacity,
		ttl:       ttl,
		clock:     clk,
		entries:   make(map[string]*list.Element),
		admission: list.New(),
	}
}

// Get returns the cached payload if present and unexpired, counting the
// access. Expired entries are removed on the spot.
func (c *Cache) Get(chunkID string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[chunkID]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.expired(entry) {
		c.remove(elem)
		c.evictions++
		c.misses++
		return nil, false
	}

	entry.accessCount++
	c.hits++
	return entry.payload, true
}

// Contains reports whether the chunk is cached and unexpired without
// touching access counts.
func (c *Cache) Contains(chunkID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[chunkID]
	if !ok {
		return false
	}
	return !c.expired(elem.Value.(*cacheEntry))
}

// Put inserts or replaces the payload. Insertion at capacity first
// drops every expired entry, then, if still full, the single oldest
// admission.
func (c *Cache) Put(chunkID string, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	if elem, ok := c.entries[chunkID]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.payload = payload
		entry.cachedAt = now
		entry.expires = now.Add(c.ttl)
		entry.accessCount = 0
		c.admission.MoveToFront(elem)
		return
	}

	if c.admission.Len() >= c.capacity {
		c.evictExpired()
		for c.admission.Len() >= c.capacity {
			oldest := c.admission.Back()
			if oldest == nil {
				break
			}
			c.remove(oldest)
			c.evictions++
		}
	}

	elem := c.admission.PushFront(&cacheEntry{
		chunkID:  chunkID,
		payload:  payload,
		cachedAt: now,
		expires:  now.Add(c.ttl),
	})
	c.entries[chunkID] = elem
}

// Remove drops the entry if present.
func (c *Cache) Remove(chunkID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[chunkID]; ok {
		c.remove(elem)
	}
}

// Len reports the current entry count, expired entries included until
// swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admission.Len()
}

// Cleanup sweeps expired entries and returns how many were removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictExpired()
}

// Metrics returns a snapshot of the cache counters.
func (c *Cache) Metrics() CacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheMetrics{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.admission.Len(),
		Capacity:  c.capacity,
	}
}

func (c *Cache) expired(entry *cacheEntry) bool {
	return !c.clock.Now().Before(entry.expires)
}

func (c *Cache) evictExpired() int {
	removed := 0
	for elem := c.admission.Back(); elem != nil; {
		entry := elem.Value.(*cacheEntry)
		prev := elem.Prev()
		if c.expired(entry) {
			c.remove(elem)
			c.evictions++
			removed++
		}
		elem = prev
	}
	return removed
}

func (c *Cache) remove(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.admission.Remove(elem)
	delete(c.entries, entry.chunkID)
}
