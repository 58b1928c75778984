// Package bytecache implements a fixed-memory cache for hot byte values.
//
// Use it on read paths that serve many small blobs (serialized rows,
// rendered fragments, protocol frames) where a map[string][]byte would
// bloat the heap and stall the garbage collector. fastcache stores entries
// in large off-heap-style chunks, so memory stays flat at the configured
// ceiling and old entries are overwritten rather than freed.
//
// The trade-offs to understand before copying: eviction is implicit and
// unordered (whole chunks are recycled, not least-recently-used entries),
// values are limited to 64KB minus key overhead, and an empty value is
// indistinguishable from a miss unless the lookup asks explicitly. The
// wrapper here folds those sharp edges into a miss-aware API and exposes
// the hit ratio the pattern should be judged by.
//
// Skill metadata:
//
//	name: byte-cache
//	category: caching
//	tags: cache, bytes, fastcache, memory-bound, hot-path
//	level: intermediate
package bytecache

import (
	"sync/atomic"

	"github.com/VictoriaMetrics/fastcache"
)

// Cache is a byte cache bounded to a fixed memory budget.
type Cache struct {
	inner  *fastcache.Cache
	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries uint64
	Bytes   uint64
}

// HitRate returns hits / lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// New returns a cache bounded to roughly maxBytes of memory. fastcache
// rounds small budgets up to its 32MB minimum.
func New(maxBytes int) *Cache {
	return &Cache{inner: fastcache.New(maxBytes)}
}

// Set stores value under key, overwriting any previous entry. Entries
// larger than fastcache's 64KB ceiling are dropped silently, so callers
// caching bigger blobs should chunk them or use a different tier.
func (c *Cache) Set(key, value []byte) {
	c.inner.Set(key, value)
}

// Get returns the value for key. The second result distinguishes a stored
// empty value from a miss.
func (c *Cache) Get(key []byte) ([]byte, bool) {
	return c.GetAppend(nil, key)
}

// GetAppend appends the value for key to dst, reusing dst's capacity. The
// hot-path form: a caller holding a scratch buffer avoids an allocation
// per lookup.
func (c *Cache) GetAppend(dst, key []byte) ([]byte, bool) {
	v, ok := c.inner.HasGet(dst, key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Delete removes the entry for key.
func (c *Cache) Delete(key []byte) {
	c.inner.Del(key)
}

// Reset drops every entry but keeps the allocated chunks for reuse.
func (c *Cache) Reset() {
	c.inner.Reset()
}

// Snapshot reads the cache counters.
func (c *Cache) Snapshot() Stats {
	var fs fastcache.Stats
	c.inner.UpdateStats(&fs)
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: fs.EntriesCount,
		Bytes:   fs.BytesSize,
	}
}
