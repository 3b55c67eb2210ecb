// Package cache provides bounded, concurrency-safe LRU caches keyed by request fingerprints.
package cache

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Key is an opaque request fingerprint.
type Key [32]byte

// Fingerprint hashes an ordered tuple of request fields. Each part is length-prefixed so
// ("ab", "c") and ("a", "bc") produce different keys.
func Fingerprint(parts ...string) Key {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{':'})
		h.Write([]byte(p))
	}
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// LRU is a fixed-capacity least-recently-used cache. Every instance carries its own lock.
type LRU[K comparable, V any] struct {
	name   string
	inner  *lru.Cache[K, V]
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](name string, capacity int) (*LRU[K, V], error) {
	inner, err := lru.New[K, V](capacity)
	if err != nil {
		return nil, fmt.Errorf("cache %s: %w", name, err)
	}
	return &LRU[K, V]{name: name, inner: inner}, nil
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	v, ok := c.inner.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set inserts or replaces key, marks it most recently used and evicts the least recently
// used entry when over capacity. It reports whether an eviction happened.
func (c *LRU[K, V]) Set(key K, value V) bool {
	return c.inner.Add(key, value)
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	return c.inner.Len()
}

// Purge drops every entry.
func (c *LRU[K, V]) Purge() {
	c.inner.Purge()
}

// Name identifies the cache in logs and metrics.
func (c *LRU[K, V]) Name() string {
	return c.name
}

// Stats returns hit and miss counts since creation.
func (c *LRU[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
