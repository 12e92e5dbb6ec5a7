// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package workspace is the explicit context value handed to every pipeline
// component: where the cache lives and which time windows apply.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/pex/internal/config"
	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process owns the cache root.
var ErrLocked = errors.New("cache root is locked by another process")

// ErrStorage marks unrecoverable local storage failures.
var ErrStorage = errors.New("local storage unavailable")

// Layout names every on-disk location below the cache root.
type Layout struct {
	Root         string
	DBDir        string
	GuideDB      string
	LibraryDB    string
	ManifestPath string
	AssetsDir    string
	PostersDir   string
	IconsDir     string
	AssetIndex   string
	ProbeDir     string
	OwnedAllPath string
	OwnedHDPath  string
}

// NewLayout derives the layout for root without touching the filesystem.
func NewLayout(root string) Layout {
	db := filepath.Join(root, "db")
	assets := filepath.Join(root, "assets")
	return Layout{
		Root:         root,
		DBDir:        db,
		GuideDB:      filepath.Join(db, "guide.db"),
		LibraryDB:    filepath.Join(db, "library.db"),
		ManifestPath: filepath.Join(root, "manifest.json"),
		AssetsDir:    assets,
		PostersDir:   filepath.Join(assets, "posters"),
		IconsDir:     filepath.Join(assets, "icons"),
		AssetIndex:   filepath.Join(assets, "index.db"),
		ProbeDir:     filepath.Join(root, "probe"),
		OwnedAllPath: filepath.Join(root, "owned_all.txt"),
		OwnedHDPath:  filepath.Join(root, "owned_hd.txt"),
	}
}

// Windows groups the time-based policies.
type Windows struct {
	Freshness        time.Duration
	Retention        time.Duration
	AirtimeTolerance time.Duration
	SchedulePast     time.Duration
}

// Workspace is constructed once per process and passed explicitly.
type Workspace struct {
	Layout
	Windows
	MaxAssets int

	lock *flock.Flock
}

// New builds a workspace for tests and tools without taking the lock or
// creating directories.
func New(root string, w Windows, maxAssets int) *Workspace {
	return &Workspace{Layout: NewLayout(root), Windows: w, MaxAssets: maxAssets}
}

// Open creates the cache directories and acquires the process lock.
// Directory creation failure is the one fatal storage condition.
func Open(cfg config.AppConfig) (*Workspace, error) {
	ws := New(cfg.CacheDir, Windows{
		Freshness:        cfg.Mirror.Freshness,
		Retention:        cfg.Assets.Retention,
		AirtimeTolerance: cfg.Schedule.AirtimeTolerance,
		SchedulePast:     cfg.Schedule.PastLimit,
	}, cfg.Assets.MaxEntries)

	if err := ws.EnsureDirs(); err != nil {
		return nil, err
	}

	ws.lock = flock.New(filepath.Join(ws.Root, ".lock"))
	ok, err := ws.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, ws.Root)
	}
	return ws, nil
}

// EnsureDirs creates every directory of the layout.
func (ws *Workspace) EnsureDirs() error {
	for _, dir := range []string{ws.Root, ws.DBDir, ws.PostersDir, ws.IconsDir, ws.ProbeDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create %s: %w", ErrStorage, dir, err)
		}
	}
	return nil
}

// Close releases the process lock.
func (ws *Workspace) Close() error {
	if ws.lock == nil {
		return nil
	}
	return ws.lock.Unlock()
}
