// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package assets

import (
	"context"
	"sort"
	"sync"
	"time"
)

// SoonDays is how many calendar days ahead count as airing soon.
const SoonDays = 2

// Request asks for one asset to be cached.
type Request struct {
	Kind     Kind
	Key      string
	URL      string
	AirsAt   time.Time
	Priority bool
}

// Result reports one finished request.
type Result struct {
	Request Request
	Entry   Entry
	Err     error
}

// Prefetcher fills the cache ahead of display with a fixed worker pool.
type Prefetcher struct {
	m       *Manager
	workers int
}

// NewPrefetcher returns a pool of workers fetching through m.
func NewPrefetcher(m *Manager, workers int) *Prefetcher {
	if workers <= 0 {
		workers = 1
	}
	return &Prefetcher{m: m, workers: workers}
}

// Prioritize flags requests airing today or tomorrow (local calendar days
// of now) and moves them first, keeping the input order otherwise.
func Prioritize(reqs []Request, now time.Time) []Request {
	y, mo, d := now.Date()
	cutoff := time.Date(y, mo, d+SoonDays, 0, 0, 0, 0, now.Location())

	out := make([]Request, len(reqs))
	copy(out, reqs)
	for i := range out {
		if !out[i].AirsAt.IsZero() && out[i].AirsAt.Before(cutoff) {
			out[i].Priority = true
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority && !out[j].Priority
	})
	return out
}

// Run fetches reqs in order on the pool. The returned channel receives one
// Result per dispatched request and is closed when the pool is done.
// Requests not yet dispatched when ctx ends are dropped.
func (p *Prefetcher) Run(ctx context.Context, reqs []Request) <-chan Result {
	results := make(chan Result, len(reqs))
	jobs := make(chan Request)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				e, err := p.m.Fetch(ctx, req.Kind, req.Key, req.URL)
				results <- Result{Request: req, Entry: e, Err: err}
			}
		}()
	}

	go func() {
		defer func() {
			close(jobs)
			wg.Wait()
			close(results)
		}()
		for _, req := range reqs {
			if req.URL == "" {
				continue
			}
			select {
			case jobs <- req:
			case <-ctx.Done():
				return
			}
		}
	}()
	return results
}
