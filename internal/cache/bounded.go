// Package cache provides a fixed-capacity, optionally TTL-bounded
// key/value cache with hit/miss/eviction statistics, plus a loading
// variant that computes values on miss.
//
// The engine uses these caches to memoize expensive similarity and
// conflict-resolution results so long-running processes stay bounded.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Stats is a snapshot of cache counters. HitRate is hits/(hits+misses),
// 0 when the cache has never been read.
type Stats struct {
	Size      int
	MaxSize   int
	Hits      uint64
	Misses    uint64
	Puts      uint64
	Evictions uint64
	HitRate   float64
}

// entry is the internal cache entry: value plus insertion timestamp.
// Entries are owned exclusively by the cache and never escape it.
type entry[K comparable, V any] struct {
	key        K
	value      V
	insertedAt time.Time
}

// BoundedCache is a capacity-bounded LRU cache with an optional per-entry
// TTL. Recency is updated on both Get and Put. An access past the TTL is
// treated as absent: it counts as both a miss and an eviction and the entry
// is physically removed.
//
// All operations are atomic under a single coarse mutex; each operation is
// O(1) amortized, so contention stays acceptable at the expected key
// cardinality.
type BoundedCache[K comparable, V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration // 0 means entries never expire

	items map[K]*list.Element
	order *list.List // Front = most recently used

	hits      uint64
	misses    uint64
	puts      uint64
	evictions uint64

	now func() time.Time // Injectable clock for tests
}

// NewBounded returns a cache holding at most maxSize entries with no TTL.
// maxSize values below 1 are coerced to 1.
func NewBounded[K comparable, V any](maxSize int) *BoundedCache[K, V] {
	return NewBoundedWithTTL[K, V](maxSize, 0)
}

// NewBoundedWithTTL returns a cache holding at most maxSize entries whose
// entries expire ttl after insertion. A ttl of 0 disables expiry.
func NewBoundedWithTTL[K comparable, V any](maxSize int, ttl time.Duration) *BoundedCache[K, V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &BoundedCache[K, V]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[K]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the value for key. The boolean is false when the key is
// absent or its entry has expired; expired entries are removed and counted
// as both a miss and an eviction.
func (c *BoundedCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	ent := el.Value.(*entry[K, V])
	if c.expired(ent) {
		c.removeElement(el)
		c.misses++
		c.evictions++
		return zero, false
	}

	c.order.MoveToFront(el)
	c.hits++
	return ent.value, true
}

// Put inserts or replaces the value for key, refreshing its recency and
// insertion timestamp. When the cache is full the least-recently-used entry
// is evicted.
func (c *BoundedCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.puts++

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[K, V])
		ent.value = value
		ent.insertedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	if len(c.items) >= c.maxSize {
		if back := c.order.Back(); back != nil {
			c.removeElement(back)
			c.evictions++
		}
	}

	el := c.order.PushFront(&entry[K, V]{key: key, value: value, insertedAt: c.now()})
	c.items[key] = el
}

// Remove deletes the entry for key and returns its value, if present.
// Removal is not counted as an eviction.
func (c *BoundedCache[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	ent := el.Value.(*entry[K, V])
	c.removeElement(el)
	return ent.value, true
}

// Clear removes every entry. Counters are preserved.
func (c *BoundedCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// ContainsKey reports whether key has a live entry. Expired entries are
// removed and counted as evictions, but the probe itself is not counted as
// a hit or miss. Recency is not updated.
func (c *BoundedCache[K, V]) ContainsKey(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	if c.expired(el.Value.(*entry[K, V])) {
		c.removeElement(el)
		c.evictions++
		return false
	}
	return true
}

// CleanupExpired removes every expired entry and returns the count removed.
// Each removal is counted as an eviction.
func (c *BoundedCache[K, V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl == 0 {
		return 0
	}

	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry[K, V])) {
			c.removeElement(el)
			c.evictions++
			removed++
		}
		el = prev
	}
	return removed
}

// Len returns the number of live entries (expired entries still count until
// touched or cleaned up).
func (c *BoundedCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the cache counters.
func (c *BoundedCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:      len(c.items),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Puts:      c.puts,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// expired reports whether ent is past its TTL. Callers hold the mutex.
func (c *BoundedCache[K, V]) expired(ent *entry[K, V]) bool {
	return c.ttl > 0 && c.now().Sub(ent.insertedAt) > c.ttl
}

// removeElement unlinks el from both the map and the recency list.
// Callers hold the mutex.
func (c *BoundedCache[K, V]) removeElement(el *list.Element) {
	ent := el.Value.(*entry[K, V])
	delete(c.items, ent.key)
	c.order.Remove(el)
}
