// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache provides a typed in-memory cache with TTL support and an
// optional entry cap.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds cache performance counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

type entry[V any] struct {
	value      V
	expiration time.Time
	inserted   uint64
}

// Option configures a Memory cache.
type Option func(*options)

type options struct {
	now        func() time.Time
	maxEntries int
	janitor    time.Duration
}

// WithClock injects the time source (tests).
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithMaxEntries caps the entry count; the oldest insertion is dropped first.
func WithMaxEntries(n int) Option { return func(o *options) { o.maxEntries = n } }

// WithJanitor enables periodic removal of expired entries.
func WithJanitor(interval time.Duration) Option { return func(o *options) { o.janitor = interval } }

// Memory is a thread-safe TTL cache keyed by string.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
	seq     uint64
	opts    options

	hits, misses, sets, evictions atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemory creates a cache. Call Stop when a janitor was requested.
func NewMemory[V any](opts ...Option) *Memory[V] {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	c := &Memory[V]{
		entries: make(map[string]*entry[V]),
		opts:    o,
		stop:    make(chan struct{}),
	}
	if o.janitor > 0 {
		go c.runJanitor(o.janitor)
	}
	return c
}

// Get retrieves a live value.
func (c *Memory[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()

	if !found || c.opts.now().After(e.expiration) {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores a value for ttl.
func (c *Memory[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[key] = &entry[V]{value: value, expiration: c.opts.now().Add(ttl), inserted: c.seq}
	c.sets.Add(1)

	if c.opts.maxEntries > 0 && len(c.entries) > c.opts.maxEntries {
		c.evictOldestLocked()
	}
}

// Delete removes a value.
func (c *Memory[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all values.
func (c *Memory[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
}

// Stats returns a snapshot of the counters.
func (c *Memory[V]) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Sets:        c.sets.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: size,
	}
}

// DeleteExpired removes expired entries and returns how many were dropped.
func (c *Memory[V]) DeleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.now()
	count := 0
	for key, e := range c.entries {
		if now.After(e.expiration) {
			delete(c.entries, key)
			count++
		}
	}
	c.evictions.Add(int64(count))
	return count
}

// Stop terminates the janitor. Safe to call more than once.
func (c *Memory[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Memory[V]) evictOldestLocked() {
	var (
		oldestKey string
		oldestSeq uint64
		first     = true
	)
	for k, e := range c.entries {
		if first || e.inserted < oldestSeq {
			oldestKey, oldestSeq, first = k, e.inserted, false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evictions.Add(1)
	}
}

func (c *Memory[V]) runJanitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-c.stop:
			return
		}
	}
}
