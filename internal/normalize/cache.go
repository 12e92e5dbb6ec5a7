// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"strconv"
	"time"

	"github.com/ManuGH/pex/internal/cache"
)

// memoTTL is effectively "for the process lifetime"; the cap bounds memory.
const memoTTL = 24 * time.Hour

// Cache memoizes normalization results. Safe because normalization is pure.
type Cache struct {
	mem *cache.Memory[Key]
}

// NewCache returns a memo holding at most maxEntries results.
func NewCache(maxEntries int) *Cache {
	return &Cache{mem: cache.NewMemory[Key](cache.WithMaxEntries(maxEntries))}
}

// Title is a memoized Title.
func (c *Cache) Title(title string, year int) Key {
	return c.lookup("t\x00"+title+"\x00"+strconv.Itoa(year), func() Key { return Title(title, year) })
}

// Filename is a memoized Filename.
func (c *Cache) Filename(stem string, yearHint int) Key {
	return c.lookup("f\x00"+stem+"\x00"+strconv.Itoa(yearHint), func() Key { return Filename(stem, yearHint) })
}

// Stats exposes the memo counters.
func (c *Cache) Stats() cache.Stats { return c.mem.Stats() }

func (c *Cache) lookup(id string, compute func() Key) Key {
	if c == nil {
		return compute()
	}
	if k, ok := c.mem.Get(id); ok {
		return k
	}
	k := compute()
	c.mem.Set(id, k, memoTTL)
	return k
}
