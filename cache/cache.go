// Package cache provides small key value caches used to avoid repeated calls
// to the affiliation matcher. None of the caches are safe for concurrent use,
// wrap them with Locked, if needed.
package cache

import (
	"crypto/sha1"
	"fmt"
	"io"
	"sync"
	"time"
)

// Cache is the contract shared by all eviction policies.
type Cache[V any] interface {
	Add(key string, value V)
	Get(key string) (V, bool)
}

// hashKey returns a hex-encoded hash of a key.
func hashKey(s string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, s)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// FIFO is a bounded cache, which evicts the oldest inserted key on overflow.
// Access does not change the eviction order.
type FIFO[V any] struct {
	capacity int
	entries  map[string]V
	order    []string // hashed keys, oldest first
}

// NewFIFO creates a cache holding at most capacity entries; values smaller
// than one are treated as one.
func NewFIFO[V any](capacity int) *FIFO[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &FIFO[V]{
		capacity: capacity,
		entries:  make(map[string]V, capacity),
	}
}

// Add inserts or replaces a value. Replacing keeps the original position.
func (c *FIFO[V]) Add(key string, value V) {
	h := hashKey(key)
	if _, ok := c.entries[h]; ok {
		c.entries[h] = value
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[h] = value
	c.order = append(c.order, h)
}

// Get returns the value for a key.
func (c *FIFO[V]) Get(key string) (V, bool) {
	v, ok := c.entries[hashKey(key)]
	return v, ok
}

// Len returns the number of entries.
func (c *FIFO[V]) Len() int {
	return len(c.order)
}

type ttlEntry[V any] struct {
	value   V
	expires time.Time
}

// TTL is a cache whose entries expire a fixed duration after insertion.
// Expired entries are removed lazily on access.
type TTL[V any] struct {
	DefaultTime time.Duration
	Now         func() time.Time
	entries     map[string]ttlEntry[V]
	hits        int64
}

// NewTTL creates a cache with entries living for d.
func NewTTL[V any](d time.Duration) *TTL[V] {
	return &TTL[V]{
		DefaultTime: d,
		Now:         time.Now,
		entries:     make(map[string]ttlEntry[V]),
	}
}

// Add inserts or replaces a value, restarting its lifetime.
func (c *TTL[V]) Add(key string, value V) {
	c.entries[key] = ttlEntry[V]{value: value, expires: c.Now().Add(c.DefaultTime)}
}

// Get returns a value which has not expired yet.
func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if !c.Now().Before(e.expires) {
		delete(c.entries, key)
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Hits returns the number of successful lookups.
func (c *TTL[V]) Hits() int64 {
	return c.hits
}

// Len returns the number of stored entries, including expired ones not yet
// accessed.
func (c *TTL[V]) Len() int {
	return len(c.entries)
}

// Locked serializes access to a cache.
type Locked[V any] struct {
	mu    sync.Mutex
	cache Cache[V]
}

// NewLocked wraps a cache.
func NewLocked[V any](c Cache[V]) *Locked[V] {
	return &Locked[V]{cache: c}
}

func (l *Locked[V]) Add(key string, value V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Add(key, value)
}

func (l *Locked[V]) Get(key string) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Get(key)
}

var (
	_ Cache[int] = (*FIFO[int])(nil)
	_ Cache[int] = (*TTL[int])(nil)
	_ Cache[int] = (*Locked[int])(nil)
)
