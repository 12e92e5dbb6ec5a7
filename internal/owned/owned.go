// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package owned builds the "do I already own this" index from either a
// filesystem walk of the library roots or the mirrored library database.
package owned

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ManuGH/pex/internal/config"
	"github.com/ManuGH/pex/internal/fsutil"
	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/manifest"
	"github.com/ManuGH/pex/internal/metrics"
	"github.com/ManuGH/pex/internal/normalize"
	"github.com/ManuGH/pex/internal/probe"
)

var (
	// ErrNoData means the strategy had nothing to read; the previous
	// ownership index must be kept.
	ErrNoData = errors.New("owned data unavailable")
	// ErrResolveRunning rejects a second concurrent pass.
	ErrResolveRunning = errors.New("owned resolve already running")
	// ErrHDRefreshUnsupported is returned by strategies whose HD flags come
	// straight from their source.
	ErrHDRefreshUnsupported = errors.New("hd refresh not supported by this strategy")
)

// Index maps Key.String() to its ownership record.
type Index map[string]manifest.OwnershipRecord

// Add inserts rec, merging with an existing record for the same key.
func (idx Index) Add(rec manifest.OwnershipRecord) {
	if prev, ok := idx[rec.Key]; ok {
		rec = prev.Merge(rec)
	}
	idx[rec.Key] = rec
}

// Counts returns the number of owned and owned HD keys.
func (idx Index) Counts() (all, hd int) {
	for _, r := range idx {
		if r.Owned {
			all++
			if r.HD {
				hd++
			}
		}
	}
	return all, hd
}

// Strategy produces an ownership index.
type Strategy interface {
	Resolve(ctx context.Context, m *manifest.Manifest) (Index, error)
}

// HDRefresher re-classifies HD without a fresh walk.
type HDRefresher interface {
	RefreshHD(ctx context.Context, m *manifest.Manifest) (Index, bool, error)
}

// Deps are the collaborators a strategy may need.
type Deps struct {
	Roots      []string
	LibraryDB  string
	Classifier *probe.Classifier
	Normalizer *normalize.Cache
}

// Service runs one strategy at a time.
type Service struct {
	kind     config.OwnedSource
	strategy Strategy
	running  atomic.Bool
}

// New selects the strategy for kind once.
func New(kind config.OwnedSource, deps Deps) (*Service, error) {
	var s Strategy
	switch kind {
	case config.OwnedSourceFilesystem, "":
		kind = config.OwnedSourceFilesystem
		s = NewFilesystem(deps.Roots, deps.Classifier, deps.Normalizer)
	case config.OwnedSourceLibrary:
		s = NewLibrary(deps.LibraryDB, deps.Roots, deps.Normalizer)
	default:
		return nil, fmt.Errorf("unknown owned source %q", kind)
	}
	return &Service{kind: kind, strategy: s}, nil
}

// NewService wraps an arbitrary strategy.
func NewService(kind config.OwnedSource, s Strategy) *Service {
	return &Service{kind: kind, strategy: s}
}

// Kind reports the selected strategy.
func (s *Service) Kind() config.OwnedSource { return s.kind }

// Resolve runs the strategy. A concurrent call returns ErrResolveRunning.
func (s *Service) Resolve(ctx context.Context, m *manifest.Manifest) (Index, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrResolveRunning
	}
	defer s.running.Store(false)

	idx, err := s.strategy.Resolve(ctx, m)
	if err != nil {
		return nil, err
	}
	all, hd := idx.Counts()
	metrics.RecordOwnedTitles(all, hd)
	logger := xglog.WithComponentFromContext(ctx, "owned")
	logger.Info().
		Str(xglog.FieldEvent, "owned.resolved").
		Str("strategy", string(s.kind)).
		Int("owned", all).
		Int("hd", hd).
		Msg("ownership resolved")
	return idx, nil
}

// RefreshHD re-runs HD classification over the manifest file records.
func (s *Service) RefreshHD(ctx context.Context, m *manifest.Manifest) (Index, bool, error) {
	r, ok := s.strategy.(HDRefresher)
	if !ok {
		return nil, false, ErrHDRefreshUnsupported
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, false, ErrResolveRunning
	}
	defer s.running.Store(false)
	return r.RefreshHD(ctx, m)
}

// Apply stores idx in the manifest and bumps its version. Only call it with
// the result of a successful pass.
func Apply(m *manifest.Manifest, idx Index, now time.Time) {
	m.SetOwnership(idx, now)
}

// WriteSidecars writes the sorted owned and owned-HD key lists.
func WriteSidecars(allPath, hdPath string, m *manifest.Manifest) error {
	if err := fsutil.WriteLines(allPath, m.OwnedKeys()); err != nil {
		return fmt.Errorf("write owned sidecar: %w", err)
	}
	if err := fsutil.WriteLines(hdPath, m.HDKeys()); err != nil {
		return fmt.Errorf("write owned hd sidecar: %w", err)
	}
	return nil
}

func sortedKeys(idx Index) []string {
	out := make([]string, 0, len(idx))
	for k := range idx {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
