// Package cache provides a capacity-bounded key/value cache where each
// computed value decides its own lifetime: entries are stored with a fixed
// TTL unless the computation marks them as cacheable forever. Concurrent
// lookups for the same key collapse into a single computation.
package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the value for a missing key. cacheForever true
// stores the value without an expiry; otherwise the cache's TTL applies.
// Errors are returned to all collapsed callers and nothing is stored.
type ComputeFunc[V any] func(ctx context.Context) (value V, cacheForever bool, err error)

// Options configures a Cache.
type Options struct {
	// TTL applies to entries not marked cache-forever. Zero disables
	// expiry entirely.
	TTL time.Duration
	// Capacity bounds the entry count; least recently used entries are
	// evicted first.
	Capacity int
	// Normalize canonicalizes keys before use. Nil means identity.
	Normalize func(string) string
	// OnHit and OnMiss, when set, are invoked outside any lock on each
	// lookup outcome.
	OnHit  func()
	OnMiss func()
}

type entry[V any] struct {
	value V
	// expiresAt zero means the entry never expires.
	expiresAt time.Time
}

// Cache is a concurrency-safe conditional-TTL LRU cache.
type Cache[V any] struct {
	opts  Options
	now   func() time.Time
	group singleflight.Group

	mu  sync.Mutex
	lru *lru.LRU[string, entry[V]]
}

// New creates a Cache with the given options. Capacity must be positive.
func New[V any](opts Options) (*Cache[V], error) {
	store, err := lru.NewLRU[string, entry[V]](opts.Capacity, nil)
	if err != nil {
		return nil, err
	}
	if opts.Normalize == nil {
		opts.Normalize = func(k string) string { return k }
	}
	return &Cache[V]{
		opts: opts,
		now:  time.Now,
		lru:  store,
	}, nil
}

// GetOrCompute returns the cached value for key, computing and storing it
// on a miss. At most one computation per key is in flight; concurrent
// callers for the same key await and share its result. The context of the
// caller that wins the flight governs the computation.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute ComputeFunc[V]) (V, error) {
	key = c.opts.Normalize(key)

	if value, ok := c.lookup(key); ok {
		if c.opts.OnHit != nil {
			c.opts.OnHit()
		}
		return value, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent flight may have stored the value between our miss
		// and joining the group.
		if value, ok := c.lookup(key); ok {
			return value, nil
		}
		// Counted here so collapsed callers register one miss per compute,
		// not one per caller.
		if c.opts.OnMiss != nil {
			c.opts.OnMiss()
		}
		value, forever, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, value, forever)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// Peek returns the cached value without promoting it or computing.
func (c *Cache[V]) Peek(key string) (V, bool) {
	key = c.opts.Normalize(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if !ok || c.expired(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Invalidate drops the entry for key, if present.
func (c *Cache[V]) Invalidate(key string) {
	key = c.opts.Normalize(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len returns the current entry count, including not-yet-evicted expired
// entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.expired(e) {
		c.lru.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) store(key string, value V, forever bool) {
	e := entry[V]{value: value}
	if !forever && c.opts.TTL > 0 {
		e.expiresAt = c.now().Add(c.opts.TTL)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, e)
}

func (c *Cache[V]) expired(e entry[V]) bool {
	return !e.expiresAt.IsZero() && c.now().After(e.expiresAt)
}
