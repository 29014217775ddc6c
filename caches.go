package dbus

import (
	"errors"
	"sync"
)

// errNotFound is returned by cache.Get when the key has no cached
// entry yet.
var errNotFound = errors.New("not found in cache")

// cache is a concurrency-safe memoization table keyed by K, used to
// memoize the reflection-derived encoders, decoders and signatures
// that this package computes once per type and reuses forever after.
//
// Entries can record either a successful value or a permanent error
// (for example, an unrepresentable type), so that repeated lookups of
// a bad type don't redo the work of discovering that it's bad.
type cache[K comparable, V any] struct {
	m sync.Map // K -> cacheEntry[V]
}

type cacheEntry[V any] struct {
	val V
	err error
}

// Get returns the cached value for k, or errNotFound if k has no
// entry yet.
func (c *cache[K, V]) Get(k K) (V, error) {
	v, ok := c.m.Load(k)
	if !ok {
		var zero V
		return zero, errNotFound
	}
	ent := v.(cacheEntry[V])
	return ent.val, ent.err
}

// Set records a successful value for k.
func (c *cache[K, V]) Set(k K, val V) {
	c.m.Store(k, cacheEntry[V]{val: val})
}

// SetErr records a permanent error for k.
func (c *cache[K, V]) SetErr(k K, err error) {
	var zero V
	c.m.Store(k, cacheEntry[V]{val: zero, err: err})
}
