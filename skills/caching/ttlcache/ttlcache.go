// Package ttlcache implements per-entry expiration over an in-memory
// cache, with sliding lifetimes and eviction callbacks.
//
// Use it for values that go stale on their own schedule: sessions, feature
// flag snapshots, negative lookups. Each entry carries its own deadline; a
// sliding entry renews that deadline on every read, so active sessions
// stay cached while idle ones fall out. An eviction callback observes why
// entries leave (expired, displaced by the entry cap, removed, replaced),
// which is the hook for metrics and for tearing down resources tied to the
// value.
//
// The callback runs on its own goroutine, so it must be safe to call
// concurrently with cache use and must not assume ordering against reads.
// Avoid the pattern when entries are large and the cap is the real
// constraint; a byte-bounded cache fits that better than an entry count.
//
// Skill metadata:
//
//	name: ttl-cache
//	category: caching
//	tags: cache, ttl, expiration, sessions, eviction
//	level: beginner
package ttlcache

import (
	"time"

	"github.com/erni27/imcache"
)

// EvictionReason says why an entry left the cache.
type EvictionReason = imcache.EvictionReason

// Eviction reasons handed to the OnEvict callback.
const (
	EvictedExpired   = imcache.EvictionReasonExpired
	EvictedRemoved   = imcache.EvictionReasonRemoved
	EvictedReplaced  = imcache.EvictionReasonReplaced
	EvictedDisplaced = imcache.EvictionReasonMaxEntriesExceeded
)

// Store is a TTL cache with a default lifetime and an entry cap.
type Store[K comparable, V any] struct {
	cache *imcache.Cache[K, V]
	ttl   time.Duration
}

// Config tunes a Store.
type Config[K comparable, V any] struct {
	// TTL is the default entry lifetime.
	TTL time.Duration

	// MaxEntries caps the cache; 0 means unlimited. When full, the least
	// recently used entry is displaced.
	MaxEntries int

	// OnEvict, when set, observes every eviction on a separate goroutine.
	OnEvict func(key K, value V, reason EvictionReason)
}

// New returns a Store with the given defaults.
func New[K comparable, V any](cfg Config[K, V]) *Store[K, V] {
	opts := []imcache.Option[K, V]{
		imcache.WithDefaultExpirationOption[K, V](cfg.TTL),
	}
	if cfg.MaxEntries > 0 {
		opts = append(opts, imcache.WithMaxEntriesOption[K, V](cfg.MaxEntries))
	}
	if cfg.OnEvict != nil {
		opts = append(opts, imcache.WithEvictionCallbackOption[K, V](cfg.OnEvict))
	}
	return &Store[K, V]{cache: imcache.New[K, V](opts...), ttl: cfg.TTL}
}

// Put stores value under key with the default TTL.
func (s *Store[K, V]) Put(key K, value V) {
	s.cache.Set(key, value, imcache.WithDefaultExpiration())
}

// PutFor stores value under key with an entry-specific TTL.
func (s *Store[K, V]) PutFor(key K, value V, ttl time.Duration) {
	s.cache.Set(key, value, imcache.WithExpiration(ttl))
}

// PutSliding stores value under key with a lifetime that restarts on every
// read. The session idiom: touch on use, expire on idleness.
func (s *Store[K, V]) PutSliding(key K, value V, ttl time.Duration) {
	s.cache.Set(key, value, imcache.WithSlidingExpiration(ttl))
}

// PutForever stores value under key with no expiration.
func (s *Store[K, V]) PutForever(key K, value V) {
	s.cache.Set(key, value, imcache.WithNoExpiration())
}

// Get returns the live value for key. Reading a sliding entry renews its
// lifetime.
func (s *Store[K, V]) Get(key K) (V, bool) {
	return s.cache.Get(key)
}

// Remove drops the entry for key and reports whether it was present.
func (s *Store[K, V]) Remove(key K) bool {
	return s.cache.Remove(key)
}

// Len returns the number of live entries.
func (s *Store[K, V]) Len() int {
	return s.cache.Len()
}

// Close releases the cache's background cleaner. A Store is not usable
// after Close.
func (s *Store[K, V]) Close() {
	s.cache.Close()
}
