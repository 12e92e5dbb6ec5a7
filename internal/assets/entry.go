// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package assets is the disk-backed poster and channel icon cache.
package assets

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrFetch wraps download failures: transport errors and non-2xx.
	ErrFetch = errors.New("asset fetch failed")
	// ErrDecode marks bytes that are not a decodable image.
	ErrDecode = errors.New("asset decode failed")
	// ErrNotCached is returned by the bridge for keys with no ready file.
	ErrNotCached = errors.New("asset not cached")
)

// Kind selects storage directory and encoding.
type Kind string

const (
	KindPoster Kind = "poster"
	KindIcon   Kind = "icon"
)

func (k Kind) ext() string {
	if k == KindIcon {
		return ".png"
	}
	return ".jpg"
}

// State of a cache entry.
type State string

const (
	StateFetching State = "fetching"
	StateReady    State = "ready"
	StateFailed   State = "failed"
	StateEvicted  State = "evicted"
)

// Entry is one cached asset.
type Entry struct {
	Key       string
	Kind      Kind
	URL       string
	Path      string
	FetchedAt time.Time
	Bytes     int64
	State     State
	Error     string
}

// KeyFor derives the cache key of a source URL: hex md5.
func KeyFor(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
