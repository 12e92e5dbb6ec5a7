// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package assets

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/metrics"
	"github.com/dustin/go-humanize"
)

// EvictReport counts what one Evict pass removed.
type EvictReport struct {
	Expired int
	Capped  int
	Swept   int
	Freed   int64
	Entries int
	Bytes   int64
}

// Evict applies the retention window and the entry cap, then sweeps
// leftover partial and empty files.
func (m *Manager) Evict(ctx context.Context, now time.Time) (EvictReport, error) {
	var rep EvictReport

	ready, err := m.index.ByState(ctx, StateReady)
	if err != nil {
		return rep, err
	}

	var kept []Entry
	if m.opts.Retention > 0 {
		cutoff := now.Add(-m.opts.Retention)
		for _, e := range ready {
			if e.FetchedAt.Before(cutoff) {
				freed, err := m.evict(ctx, e, "expired")
				if err != nil {
					return rep, err
				}
				rep.Expired++
				rep.Freed += freed
				continue
			}
			kept = append(kept, e)
		}
	} else {
		kept = ready
	}

	// kept is ordered oldest fetch first.
	if m.opts.MaxEntries > 0 && len(kept) > m.opts.MaxEntries {
		excess := len(kept) - m.opts.MaxEntries
		for _, e := range kept[:excess] {
			freed, err := m.evict(ctx, e, "cap")
			if err != nil {
				return rep, err
			}
			rep.Capped++
			rep.Freed += freed
		}
	}

	swept, err := m.sweep(ctx)
	if err != nil {
		return rep, err
	}
	rep.Swept = swept

	rep.Entries, rep.Bytes, err = m.index.Summary(ctx)
	if err != nil {
		return rep, err
	}

	metrics.AddAssetEvicted("retention", rep.Expired)
	metrics.AddAssetEvicted("cap", rep.Capped)
	metrics.AddAssetEvicted("sweep", rep.Swept)
	metrics.RecordAssetEntries(rep.Entries)

	if rep.Expired+rep.Capped+rep.Swept > 0 {
		m.logger.Info().
			Str(xglog.FieldEvent, "assets.evicted").
			Int("expired", rep.Expired).
			Int("capped", rep.Capped).
			Int("swept", rep.Swept).
			Str("freed", humanize.IBytes(uint64(rep.Freed))).
			Int("entries", rep.Entries).
			Msg("asset cache trimmed")
	}
	return rep, nil
}

func (m *Manager) evict(ctx context.Context, e Entry, reason string) (int64, error) {
	if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn().Err(err).Str(xglog.FieldPath, e.Path).Msg("could not remove cached asset")
		return 0, nil
	}
	if err := m.index.SetState(ctx, e.Key, StateEvicted, reason); err != nil {
		return 0, err
	}
	return e.Bytes, nil
}

// sweep removes partial downloads and empty files left by interrupted runs.
func (m *Manager) sweep(ctx context.Context) (int, error) {
	removed := 0
	for kind, dir := range m.dirs() {
		ents, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, err
		}
		for _, de := range ents {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if !de.Type().IsRegular() {
				continue
			}
			name := de.Name()
			info, err := de.Info()
			if err != nil {
				continue
			}
			if !stale(name, info.Size(), kind) {
				continue
			}
			path := filepath.Join(dir, name)
			if err := os.Remove(path); err != nil {
				m.logger.Warn().Err(err).Str(xglog.FieldPath, path).Msg("could not remove stale asset file")
				continue
			}
			if ext := kind.ext(); strings.HasSuffix(name, ext) {
				_ = m.index.SetState(ctx, strings.TrimSuffix(name, ext), StateEvicted, "empty file")
			}
			removed++
		}
	}
	return removed, nil
}

// stale reports whether a file in a cache directory is a leftover: a
// ".part" file, a dot-prefixed pending file, a zero-byte image or a file
// that is not of the directory's kind.
func stale(name string, size int64, kind Kind) bool {
	switch {
	case strings.HasSuffix(name, ".part"), strings.HasPrefix(name, "."):
		return true
	case filepath.Ext(name) != kind.ext():
		return true
	default:
		return size == 0
	}
}
