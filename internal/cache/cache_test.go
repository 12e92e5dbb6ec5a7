// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestMemory_GetSet(t *testing.T) {
	c := NewMemory[string]()

	c.Set("key1", "value1", 5*time.Minute)

	val, ok := c.Get("key1")
	require.True(t, ok, "expected to find key1")
	assert.Equal(t, "value1", val)

	_, ok = c.Get("nonexistent")
	assert.False(t, ok)
}

func TestMemory_Expiration(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewMemory[int](WithClock(clock.Now))

	c.Set("short", 1, time.Minute)
	_, ok := c.Get("short")
	require.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = c.Get("short")
	assert.False(t, ok, "expected key to be expired")

	assert.Equal(t, 1, c.DeleteExpired())
	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemory_MaxEntriesDropsOldest(t *testing.T) {
	c := NewMemory[int](WithMaxEntries(2))

	c.Set("a", 1, time.Hour)
	c.Set("b", 2, time.Hour)
	c.Set("c", 3, time.Hour)

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestMemory_DeleteAndClear(t *testing.T) {
	c := NewMemory[string]()
	c.Set("k1", "v", time.Hour)
	c.Set("k2", "v", time.Hour)

	c.Delete("k1")
	_, ok := c.Get("k1")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemory_Stats(t *testing.T) {
	c := NewMemory[string]()
	c.Set("k", "v", time.Hour)
	c.Get("k")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestMemory_JanitorStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewMemory[string](WithJanitor(10 * time.Millisecond))
	c.Set("k", "v", time.Millisecond)

	require.Eventually(t, func() bool { return c.Stats().CurrentSize == 0 }, time.Second, 10*time.Millisecond)
	c.Stop()
	c.Stop()
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	c := NewMemory[int](WithMaxEntries(50))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := strconv.Itoa(n*1000 + j)
				c.Set(key, j, time.Minute)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Stats().CurrentSize, 50)
}
