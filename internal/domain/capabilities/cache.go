package capabilities

import "time"

const (
	// DefaultMaxSize bounds the number of origins held by a Cache.
	DefaultMaxSize = 50
	// DefaultLifetime bounds how long a cached Result is served.
	DefaultLifetime = 10 * time.Minute
)

// Clock returns the current time. Values must carry a monotonic reading
// (time.Now does) so that wall clock jumps do not affect eviction.
type Clock func() time.Time

type cacheEntry struct {
	result        Result
	retrievalTime time.Time
}

type queueEntry struct {
	origin        Origin
	retrievalTime time.Time
}

// Cache is a bounded, age-evicting store of capability results keyed by origin.
//
// Entries live in a map for lookup and in a queue ordered by insertion for
// eviction. Every entry shares the same lifetime, so insertion order equals age
// order and expiring entries is a pop from the front of the queue.
//
// Every read evicts stale entries first. Cache is not safe for concurrent use.
type Cache struct {
	maxSize  int
	lifetime time.Duration
	now      Clock

	entries map[Origin]cacheEntry
	queue   []queueEntry
}

// NewCache creates a cache. Non-positive maxSize or lifetime fall back to the defaults.
func NewCache(maxSize int, lifetime time.Duration, clock Clock) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		maxSize:  maxSize,
		lifetime: lifetime,
		now:      clock,
		entries:  make(map[Origin]cacheEntry, maxSize),
		queue:    make([]queueEntry, 0, maxSize),
	}
}

// AddToCache stores result for origin. An origin that is already cached keeps
// its original result and retrieval time.
func (c *Cache) AddToCache(origin Origin, result Result) {
	c.RemoveStaleEntries()
	if len(c.queue) >= c.maxSize {
		c.RemoveOldestEntry()
	}
	if _, ok := c.entries[origin]; ok {
		return
	}

	now := c.now()
	c.entries[origin] = cacheEntry{result: result, retrievalTime: now}
	c.queue = append(c.queue, queueEntry{origin: origin, retrievalTime: now})
}

// ContainsOrigin reports whether a fresh entry exists for origin.
func (c *Cache) ContainsOrigin(origin Origin) bool {
	c.RemoveStaleEntries()
	_, ok := c.entries[origin]
	return ok
}

// ContainsTriggerForm reports whether origin is cached and its result lists sig.
func (c *Cache) ContainsTriggerForm(origin Origin, sig FormSignature) bool {
	c.RemoveStaleEntries()
	entry, ok := c.entries[origin]
	return ok && entry.result.SupportsForm(sig)
}

// SupportsConsentlessExecution returns the cached flag for origin, or false when absent.
func (c *Cache) SupportsConsentlessExecution(origin Origin) bool {
	c.RemoveStaleEntries()
	entry, ok := c.entries[origin]
	return ok && entry.result.SupportsConsentlessExecution()
}

// Get returns the cached result for origin.
func (c *Cache) Get(origin Origin) (Result, bool) {
	c.RemoveStaleEntries()
	entry, ok := c.entries[origin]
	return entry.result, ok
}

// Len returns the number of entries, including ones that are stale but not yet evicted.
func (c *Cache) Len() int {
	return len(c.queue)
}

// RemoveStaleEntries drops every entry older than the cache lifetime.
func (c *Cache) RemoveStaleEntries() {
	now := c.now()
	for len(c.queue) > 0 && now.Sub(c.queue[0].retrievalTime) > c.lifetime {
		c.RemoveOldestEntry()
	}
}

// RemoveOldestEntry drops the entry at the front of the queue regardless of its age.
// It must not be called on an empty cache.
func (c *Cache) RemoveOldestEntry() {
	if len(c.queue) == 0 {
		panic("capabilities: RemoveOldestEntry on empty cache")
	}
	front := c.queue[0]
	c.queue[0] = queueEntry{}
	c.queue = c.queue[1:]
	delete(c.entries, front.origin)
}
