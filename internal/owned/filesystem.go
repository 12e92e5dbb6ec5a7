// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package owned

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/manifest"
	"github.com/ManuGH/pex/internal/metrics"
	"github.com/ManuGH/pex/internal/normalize"
	"github.com/ManuGH/pex/internal/probe"
	"github.com/rs/zerolog"
)

var videoExts = map[string]struct{}{
	".mkv": {}, ".mp4": {}, ".avi": {}, ".mov": {},
	".mpg": {}, ".mpeg": {}, ".m4v": {}, ".wmv": {},
}

// IsVideo reports whether name has a video extension (case-insensitive).
func IsVideo(name string) bool {
	_, ok := videoExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// WalkStats counts directory work of the last pass.
type WalkStats struct {
	Rewalked int
	Reused   int
	Failed   int
}

// Filesystem walks the library roots incrementally: a directory whose
// mtime and entry names match the manifest snapshot keeps its file records.
type Filesystem struct {
	roots      []string
	classifier *probe.Classifier
	norm       *normalize.Cache
	stat       func(string) (fs.FileInfo, error)
	readDir    func(string) ([]fs.DirEntry, error)

	last WalkStats
}

// NewFilesystem returns the filesystem strategy. A nil classifier treats
// every file as SD.
func NewFilesystem(roots []string, classifier *probe.Classifier, norm *normalize.Cache) *Filesystem {
	return &Filesystem{
		roots:      roots,
		classifier: classifier,
		norm:       norm,
		stat:       os.Stat,
		readDir:    os.ReadDir,
	}
}

// LastStats returns the counters of the most recent Resolve.
func (f *Filesystem) LastStats() WalkStats { return f.last }

type walk struct {
	ctx    context.Context
	prev   map[string]manifest.DirSnapshot
	next   map[string]manifest.DirSnapshot
	idx    Index
	stats  WalkStats
	logger zerolog.Logger
}

// Resolve walks every root and replaces m.Dirs with the fresh snapshots.
// Ownership in m is left untouched; see Apply.
func (f *Filesystem) Resolve(ctx context.Context, m *manifest.Manifest) (Index, error) {
	w := &walk{
		ctx:    ctx,
		prev:   m.Dirs,
		next:   make(map[string]manifest.DirSnapshot),
		idx:    make(Index),
		logger: xglog.WithComponentFromContext(ctx, "owned"),
	}

	available := 0
	for _, root := range f.roots {
		info, err := f.stat(root)
		if err != nil || !info.IsDir() {
			w.logger.Warn().Err(err).
				Str(xglog.FieldEvent, "owned.root_missing").
				Str(xglog.FieldPath, root).
				Msg("library root unavailable")
			continue
		}
		available++
		if err := f.walkDir(w, filepath.Clean(root), info); err != nil {
			return nil, err
		}
	}
	if len(f.roots) > 0 && available == 0 {
		return nil, fmt.Errorf("%w: none of %d library roots is available", ErrNoData, len(f.roots))
	}

	m.Dirs = w.next
	f.last = w.stats
	metrics.AddOwnedDirs("rewalked", w.stats.Rewalked)
	metrics.AddOwnedDirs("reused", w.stats.Reused)
	metrics.AddOwnedDirs("failed", w.stats.Failed)
	w.logger.Debug().
		Int("rewalked", w.stats.Rewalked).
		Int("reused", w.stats.Reused).
		Int("failed", w.stats.Failed).
		Msg("library walk finished")
	return w.idx, nil
}

func (f *Filesystem) walkDir(w *walk, dir string, info fs.FileInfo) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}

	entries, err := f.readDir(dir)
	if err != nil {
		w.stats.Failed++
		metrics.IncOwnedItemError("filesystem")
		w.logger.Warn().Err(err).Str(xglog.FieldEvent, "owned.dir_skipped").Str(xglog.FieldPath, dir).Msg("unable to read directory")
		return nil
	}

	var (
		names   []string
		subdirs []string
		videos  []fs.DirEntry
	)
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		switch {
		case e.IsDir():
			names = append(names, name+"/")
			subdirs = append(subdirs, filepath.Join(dir, name))
		case e.Type().IsRegular() && IsVideo(name):
			names = append(names, name)
			videos = append(videos, e)
		}
	}
	slices.Sort(names)

	snap := manifest.DirSnapshot{ModTime: info.ModTime(), Entries: names, Subdirs: subdirs}
	if prev, ok := w.prev[dir]; ok && prev.ModTime.Equal(snap.ModTime) && slices.Equal(prev.Entries, names) {
		snap.Files = prev.Files
		w.stats.Reused++
	} else {
		snap.Files = f.records(w, dir, videos)
		w.stats.Rewalked++
	}
	w.next[dir] = snap
	for _, rec := range snap.Files {
		w.idx.Add(ownership(rec))
	}

	for _, sub := range subdirs {
		subInfo, err := f.stat(sub)
		if err != nil {
			w.stats.Failed++
			metrics.IncOwnedItemError("filesystem")
			w.logger.Warn().Err(err).Str(xglog.FieldEvent, "owned.dir_skipped").Str(xglog.FieldPath, sub).Msg("unable to stat directory")
			continue
		}
		if err := f.walkDir(w, sub, subInfo); err != nil {
			return err
		}
	}
	return nil
}

func (f *Filesystem) records(w *walk, dir string, videos []fs.DirEntry) []manifest.FileRecord {
	out := make([]manifest.FileRecord, 0, len(videos))
	for _, e := range videos {
		path := filepath.Join(dir, e.Name())
		info, err := e.Info()
		if err != nil {
			metrics.IncOwnedItemError("filesystem")
			w.logger.Warn().Err(err).Str(xglog.FieldEvent, "owned.file_skipped").Str(xglog.FieldPath, path).Msg("unable to stat file")
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		key := f.norm.Filename(stem, 0)
		if key.IsZero() {
			continue
		}
		out = append(out, manifest.FileRecord{
			Path:    path,
			Key:     key.String(),
			Title:   key.Display,
			Year:    key.Year,
			HD:      f.isHD(w.ctx, path, info),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return out
}

func (f *Filesystem) isHD(ctx context.Context, path string, info fs.FileInfo) bool {
	if f.classifier == nil {
		return false
	}
	return f.classifier.IsHD(ctx, probe.File{Path: path, ModTime: info.ModTime(), Size: info.Size()})
}

// RefreshHD re-classifies every file record in m without walking. Files
// that vanished keep their last record. It reports whether any record changed.
func (f *Filesystem) RefreshHD(ctx context.Context, m *manifest.Manifest) (Index, bool, error) {
	if len(m.Dirs) == 0 {
		return nil, false, fmt.Errorf("%w: no directory snapshots, run a full resolve first", ErrNoData)
	}

	idx := make(Index)
	changed := false
	for dir, snap := range m.Dirs {
		files := make([]manifest.FileRecord, len(snap.Files))
		copy(files, snap.Files)
		for i := range files {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
			rec := &files[i]
			info, err := f.stat(rec.Path)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					metrics.IncOwnedItemError("filesystem")
				}
				continue
			}
			if !info.ModTime().Equal(rec.ModTime) || info.Size() != rec.Size {
				rec.ModTime, rec.Size = info.ModTime(), info.Size()
				changed = true
			}
			if hd := f.isHD(ctx, rec.Path, info); hd != rec.HD {
				rec.HD = hd
				changed = true
			}
		}
		snap.Files = files
		m.Dirs[dir] = snap
		for _, rec := range files {
			idx.Add(ownership(rec))
		}
	}
	return idx, changed, nil
}

func ownership(rec manifest.FileRecord) manifest.OwnershipRecord {
	at := rec.ModTime
	return manifest.OwnershipRecord{
		Key:        rec.Key,
		Owned:      true,
		HD:         rec.HD,
		RecordedAt: &at,
		Provenance: manifest.ProvenanceFilesystem,
	}
}
