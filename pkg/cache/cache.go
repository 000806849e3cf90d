// Package cache provides a bounded, thread-safe, in-memory cache whose
// entries expire after a fixed TTL and are evicted in least-recently-used
// order when the cache is full.
//
// A single exclusive lock guards the whole structure. Get takes the same
// lock as Set because a hit reorders the recency list and a stale hit
// removes the entry.
package cache

import (
	"container/list"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/forest6511/weblist/internal/clock"
)

// Errors
var (
	ErrInvalidCapacity = errors.New("cache: capacity must be at least 1")
	ErrInvalidTTL      = errors.New("cache: ttl must be positive")
)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size      int           `json:"size"`
	Capacity  int           `json:"max_size"`
	TTL       time.Duration `json:"ttl"`
	Hits      uint64        `json:"hits"`
	Misses    uint64        `json:"misses"`
	Evictions uint64        `json:"evictions"`
	Expired   uint64        `json:"expired"`
}

// entry is owned exclusively by the cache.
type entry[V any] struct {
	key      string
	value    V
	storedAt time.Time
}

// Cache maps string keys to values of type V.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clock    clock.Clock
	items    map[string]*list.Element
	order    *list.List // front = most recently used

	hits, misses, evictions, expired uint64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock replaces the wall clock used for TTL checks.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates a cache holding at most capacity entries, each fresh for ttl.
func New[V any](capacity int, ttl time.Duration, opts ...Option) (*Cache[V], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidTTL, ttl)
	}
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		capacity: capacity,
		ttl:      ttl,
		clock:    o.clock,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}, nil
}

// Get returns the value for key and whether it was a fresh hit.
// A stale entry is removed and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[V]) getLocked(key string) (V, bool) {
	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := elem.Value.(*entry[V])
	if c.clock.Now().Sub(e.storedAt) >= c.ttl {
		c.removeElement(elem)
		c.expired++
		c.misses++
		return zero, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return e.value, true
}

// Set inserts or replaces key, resetting its timestamp and marking it
// most recently used. Inserting a new key into a full cache first evicts
// the least recently used entry.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[V])
		e.value = value
		e.storedAt = now
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
			c.evictions++
		}
	}
	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, storedAt: now})
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// InvalidatePattern removes every key containing substr and returns how
// many were removed. An empty substr matches every key.
func (c *Cache[V]) InvalidatePattern(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.items {
		if strings.Contains(key, substr) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// GetOrSet returns the fresh cached value for key, or calls factory,
// caches its result and returns it. A factory error is returned to the
// caller and nothing is cached.
//
// The lock is not held while factory runs, so concurrent callers that
// miss together may each call their factory; the last Set wins.
func (c *Cache[V]) GetOrSet(key string, factory func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := factory()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

// Exists reports whether key holds a fresh entry. It has the same side
// effects as Get.
func (c *Cache[V]) Exists(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Clear removes all entries. Counters are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.capacity)
	c.order.Init()
}

// Len returns the number of stored entries, including stale ones that
// have not been evicted yet.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      c.order.Len(),
		Capacity:  c.capacity,
		TTL:       c.ttl,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}

// removeElement must be called with c.mu held.
func (c *Cache[V]) removeElement(elem *list.Element) {
	e := c.order.Remove(elem).(*entry[V])
	delete(c.items, e.key)
}
