// SPDX-License-Identifier: MIT

// Package ratelimit paces outbound requests per remote host.
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var (
	rateLimitDelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pex",
			Name:      "ratelimit_delayed_total",
			Help:      "Outbound requests that had to wait for a host token",
		},
	)
)

// Config holds per-host pacing.
type Config struct {
	Rate  rate.Limit // requests per second per host
	Burst int        // max burst size per host

	// Hosts idle for longer than this are forgotten.
	IdleAfter time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Rate:      8,
		Burst:     4,
		IdleAfter: 10 * time.Minute,
	}
}

type hostLimiter struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// Limiter hands out one token bucket per host.
type Limiter struct {
	config Config

	perHost map[string]*hostLimiter
	mu      sync.Mutex

	now         func() time.Time
	lastCleanup time.Time
}

// New creates a new rate limiter with the given config
func New(config Config) *Limiter {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.IdleAfter <= 0 {
		config.IdleAfter = DefaultConfig().IdleAfter
	}
	return &Limiter{
		config:      config,
		perHost:     make(map[string]*hostLimiter),
		now:         time.Now,
		lastCleanup: time.Now(),
	}
}

// Wait blocks until a request to rawURL's host is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	lim := l.forHost(HostOf(rawURL))
	if lim.Allow() {
		return nil
	}
	rateLimitDelayed.Inc()
	return lim.Wait(ctx)
}

// Allow reports whether a request to host may proceed now.
func (l *Limiter) Allow(host string) bool {
	return l.forHost(host).Allow()
}

// Hosts returns the number of tracked hosts.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perHost)
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeCleanupLocked(now)

	h, exists := l.perHost[host]
	if !exists {
		h = &hostLimiter{lim: rate.NewLimiter(l.config.Rate, l.config.Burst)}
		l.perHost[host] = h
	}
	h.lastUsed = now
	return h.lim
}

// maybeCleanupLocked drops hosts not used within IdleAfter.
func (l *Limiter) maybeCleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < l.config.IdleAfter {
		return
	}
	for host, h := range l.perHost {
		if now.Sub(h.lastUsed) >= l.config.IdleAfter {
			delete(l.perHost, host)
		}
	}
	l.lastCleanup = now
}

// HostOf extracts the lowercased host of rawURL; unparsable input is its
// own bucket.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Hostname())
}
