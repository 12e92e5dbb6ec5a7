// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	sdMarkers = []string{"480p", "576p", "sd ", "vhs", "svcd", "xvid", "divx", "dvdrip"}
	hdMarkers = []string{
		"2160p", "uhd", "4k", "hdr", "dolby vision", "1080p", "720p",
		"blu-ray", "bluray", "bdrip", "hdtv", "web-dl", "webrip",
	}
)

// File identifies one version of a file on disk.
type File struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// Classifier decides HD for owned files.
type Classifier struct {
	runner Runner
	store  *Store
	logger zerolog.Logger
}

// NewClassifier wires a runner and an optional store. A nil runner disables
// live probing.
func NewClassifier(runner Runner, store *Store) *Classifier {
	return &Classifier{runner: runner, store: store, logger: xglog.WithComponent("probe")}
}

// IsHD classifies f. Order: SD name markers, cached probe, HD name markers,
// live probe. Files nothing can decide are SD.
func (c *Classifier) IsHD(ctx context.Context, f File) bool {
	hay := haystack(f.Path)

	if containsAny(hay, sdMarkers) {
		return false
	}
	if res, ok := c.cached(f); ok {
		metrics.IncProbe("cache_hit")
		return res.HD()
	}
	if containsAny(hay, hdMarkers) {
		return true
	}
	if res, ok := c.live(ctx, f); ok {
		return res.HD()
	}
	return false
}

func (c *Classifier) cached(f File) (Resolution, bool) {
	if c == nil || c.store == nil {
		return Resolution{}, false
	}
	res, ok, err := c.store.Get(f.Path, f.ModTime, f.Size)
	if err != nil {
		c.logger.Debug().Err(err).Str(xglog.FieldPath, f.Path).Msg("probe cache read failed")
		return Resolution{}, false
	}
	return res, ok && res.Valid()
}

func (c *Classifier) live(ctx context.Context, f File) (Resolution, bool) {
	if c == nil || c.runner == nil {
		return Resolution{}, false
	}
	res, err := c.runner.Resolution(ctx, f.Path)
	if errors.Is(err, ErrUnavailable) {
		metrics.IncProbe("unavailable")
		return Resolution{}, false
	}
	if err != nil {
		metrics.IncProbe("failed")
		c.logger.Warn().Err(err).Str(xglog.FieldEvent, "probe.failed").Str(xglog.FieldPath, f.Path).Msg("resolution probe failed")
		return Resolution{}, false
	}
	metrics.IncProbe("probed")
	if c.store != nil {
		if err := c.store.Put(f.Path, f.ModTime, f.Size, res); err != nil {
			c.logger.Debug().Err(err).Str(xglog.FieldPath, f.Path).Msg("probe cache write failed")
		}
	}
	return res, true
}

// haystack is the lowercased file stem plus its parent directory name.
func haystack(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	parent := filepath.Base(filepath.Dir(path))
	return strings.ToLower(stem + " " + parent)
}

func containsAny(hay string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(hay, n) {
			return true
		}
	}
	return false
}
