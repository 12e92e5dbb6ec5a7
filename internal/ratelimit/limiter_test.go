// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterPerHostBurst(t *testing.T) {
	limiter := New(Config{Rate: 1, Burst: 5, IdleAfter: time.Minute})

	allowed := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow("image.tmdb.org") {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("expected 5 requests to pass with burst=5, got %d", allowed)
	}

	// Other hosts have their own bucket
	if !limiter.Allow("metadata-static.plex.tv") {
		t.Error("second host should not share the first host's bucket")
	}
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	limiter := New(Config{Rate: 0.001, Burst: 1, IdleAfter: time.Minute})

	if err := limiter.Wait(context.Background(), "https://example.com/a.jpg"); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, "https://example.com/b.jpg"); err == nil {
		t.Error("expected wait to fail once the bucket is empty and the deadline is short")
	}
}

func TestLimiterCleanup(t *testing.T) {
	limiter := New(Config{Rate: 10, Burst: 10, IdleAfter: time.Minute})
	now := time.Now()
	limiter.now = func() time.Time { return now }
	limiter.lastCleanup = now

	limiter.Allow("a.example")
	limiter.Allow("b.example")
	if got := limiter.Hosts(); got != 2 {
		t.Fatalf("expected 2 hosts, got %d", got)
	}

	now = now.Add(2 * time.Minute)
	limiter.Allow("c.example")
	if got := limiter.Hosts(); got != 1 {
		t.Errorf("expected idle hosts to be dropped, got %d", got)
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Image.TMDB.org/t/p/w500/x.jpg", "image.tmdb.org"},
		{"http://127.0.0.1:8080/poster", "127.0.0.1"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		if got := HostOf(tt.in); got != tt.want {
			t.Errorf("HostOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
