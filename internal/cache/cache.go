// Package cache implements the bounded, process-local ResponseCache
// (spec.md §4.4) in front of QueryEngine results: a 10,000-entry LRU,
// no TTL, cleared only by process restart or an explicit Clear.
//
// Built on github.com/hashicorp/golang-lru/v2 — already a dependency of
// the teacher pack (AKJUS-bsc-erigon, evalgo-org-eve) — rather than
// reimplementing an LRU over container/list by hand.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Capacity is the fixed entry count spec.md §4.4 calls for.
const Capacity = 10_000

// Cache is a bounded LRU keyed by an opaque fingerprint string. The
// value type is left generic-free (any) since cached values are the
// JSON-ready response payloads built by the HTTP layer.
type Cache struct {
	inner *lru.Cache[string, any]
}

// New constructs an empty ResponseCache.
func New() *Cache {
	c, err := lru.New[string, any](Capacity)
	if err != nil {
		// Only returns an error for a non-positive size, which Capacity
		// never is.
		panic(err)
	}
	return &Cache{inner: c}
}

// Get returns the cached value for key, promoting it to most-recently-used.
func (c *Cache) Get(key string) (any, bool) {
	return c.inner.Get(key)
}

// Set inserts value under key, evicting the least-recently-used entry
// if the cache is at capacity.
func (c *Cache) Set(key string, value any) {
	c.inner.Add(key, value)
}

// Clear empties the cache. The HTTP layer exposes it as
// Server.InvalidateCache; no ingestion pass calls it.
func (c *Cache) Clear() {
	c.inner.Purge()
}

// Len reports the current entry count, mostly useful for tests.
func (c *Cache) Len() int {
	return c.inner.Len()
}
