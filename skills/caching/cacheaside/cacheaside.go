// Package cacheaside implements the cache-aside read path with cache
// stampede prevention.
//
// Use it when reads vastly outnumber writes and the backing load (a
// database row, a rendered fragment, a remote profile) is expensive enough
// to be worth a bounded in-process cache. The cache is a lookaside: the
// caller always asks the cache first, the cache loads through on a miss
// and remembers the answer, and writers invalidate by key instead of
// updating cached values in place.
//
// Two decisions carry the pattern. Capacity is bounded with an LRU so a
// key scan cannot grow the heap without limit, and concurrent misses for
// the same key are collapsed through singleflight so a hot key expiring
// under load produces one backing load, not hundreds. Skip the pattern
// when stale reads are unacceptable; invalidation here is best-effort and
// other processes will not see it.
//
// Skill metadata:
//
//	name: cache-aside
//	category: caching
//	tags: cache, lru, stampede, singleflight, read-through
//	level: intermediate
package cacheaside

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Loader fetches the value for key from the backing source.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Cache is a bounded lookaside cache in front of a Loader.
type Cache[K comparable, V any] struct {
	entries *lru.Cache[K, V]
	flight  singleflight.Group
	load    Loader[K, V]

	hits   atomic.Int64
	misses atomic.Int64
}

// New returns a Cache holding at most size entries.
func New[K comparable, V any](size int, load Loader[K, V]) (*Cache[K, V], error) {
	if load == nil {
		return nil, fmt.Errorf("cacheaside: nil loader")
	}
	entries, err := lru.New[K, V](size)
	if err != nil {
		return nil, fmt.Errorf("cacheaside: %w", err)
	}
	return &Cache[K, V]{entries: entries, load: load}, nil
}

// Get returns the cached value for key, loading it on a miss. Concurrent
// misses for the same key share one load; every waiter gets the same
// result. A failed load caches nothing, so the next Get retries.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := c.entries.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	v, err, _ := c.flight.Do(flightKey(key), func() (any, error) {
		// Another waiter may have filled the entry while this call was
		// queued behind the flight.
		if v, ok := c.entries.Get(key); ok {
			return v, nil
		}
		v, err := c.load(ctx, key)
		if err != nil {
			return v, err
		}
		c.entries.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Invalidate drops the entry for key. Writers call it after the source of
// truth changes; the next Get reloads.
func (c *Cache[K, V]) Invalidate(key K) {
	c.entries.Remove(key)
	c.flight.Forget(flightKey(key))
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	return c.entries.Len()
}

// Stats returns hit and miss counts since construction.
func (c *Cache[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// flightKey folds any comparable key into the string space singleflight
// groups on.
func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%v", key)
}
