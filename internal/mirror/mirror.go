// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mirror keeps day-granularity local snapshots of the guide and
// library databases so every later stage reads a stable local copy.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/pex/internal/fsutil"
	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/metrics"
	"github.com/dustin/go-humanize"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// ErrSourceUnavailable is reported when the configured source cannot be read.
var ErrSourceUnavailable = errors.New("mirror source unavailable")

// Outcome of one Sync call.
type Outcome string

const (
	OutcomeCopied              Outcome = "copied"
	OutcomeSkippedFresh        Outcome = "skipped_fresh"
	OutcomeSkippedUnconfigured Outcome = "skipped_unconfigured"
	OutcomeFailed              Outcome = "failed"
)

// companions are the sqlite sidecar suffixes copied with the main file.
var companions = []string{"-wal", "-shm", "-journal"}

const (
	markerSuffix = ".last_sync"
	chunkSize    = 4 << 20
)

// Source pairs a configured database path with its local snapshot path.
type Source struct {
	Name   string
	Path   string
	Target string
}

// Result describes what Sync did.
type Result struct {
	Source   string
	Outcome  Outcome
	Reason   string
	Err      error
	Bytes    int64
	Duration time.Duration
}

// Progress is called after each copied chunk.
type Progress func(source string, copied, total int64)

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithProgress installs a per-chunk progress callback.
func WithProgress(p Progress) Option { return func(c *Controller) { c.progress = p } }

// Controller decides when a source is re-copied.
type Controller struct {
	freshness time.Duration
	now       func() time.Time
	progress  Progress
	logger    zerolog.Logger
}

// New returns a controller with the given freshness window.
func New(freshness time.Duration, opts ...Option) *Controller {
	c := &Controller{
		freshness: freshness,
		now:       time.Now,
		logger:    xglog.WithComponent("mirror"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SyncAll mirrors every source in order and returns one result per source.
func (c *Controller) SyncAll(ctx context.Context, sources ...Source) []Result {
	results := make([]Result, 0, len(sources))
	for _, src := range sources {
		results = append(results, c.Sync(ctx, src))
	}
	return results
}

// Snapshot reports whether a local snapshot exists for src.
func (c *Controller) Snapshot(src Source) bool {
	info, err := os.Stat(src.Target)
	return err == nil && info.Mode().IsRegular()
}

// Sync refreshes the local snapshot of src. The previous snapshot is never
// touched when the source cannot be read.
func (c *Controller) Sync(ctx context.Context, src Source) Result {
	start := c.now()
	logger := xglog.WithContext(ctx, c.logger).With().Str(xglog.FieldSource, src.Name).Logger()

	res := c.sync(ctx, src)
	res.Source = src.Name
	res.Duration = c.now().Sub(start)
	metrics.IncMirrorSync(src.Name, string(res.Outcome))

	switch res.Outcome {
	case OutcomeCopied:
		metrics.AddMirrorBytes(src.Name, res.Bytes)
		logger.Info().
			Str(xglog.FieldEvent, "mirror.copied").
			Str(xglog.FieldTarget, src.Target).
			Str("size", humanize.Bytes(uint64(res.Bytes))).
			Dur("duration", res.Duration).
			Msg("snapshot refreshed")
	case OutcomeFailed:
		logger.Warn().
			Err(res.Err).
			Str(xglog.FieldEvent, "mirror.failed").
			Str(xglog.FieldPath, src.Path).
			Bool("snapshot_kept", c.Snapshot(src)).
			Msg(res.Reason)
	default:
		logger.Debug().
			Str(xglog.FieldEvent, "mirror."+string(res.Outcome)).
			Str("reason", res.Reason).
			Msg("snapshot not copied")
	}
	return res
}

func (c *Controller) sync(ctx context.Context, src Source) Result {
	if src.Path == "" {
		return Result{Outcome: OutcomeSkippedUnconfigured, Reason: "no source configured"}
	}
	if fresh, at := c.fresh(src.Target); fresh {
		return Result{Outcome: OutcomeSkippedFresh, Reason: "synced " + humanize.RelTime(at, c.now(), "ago", "from now")}
	}

	srcInfo, err := os.Stat(src.Path)
	if err != nil {
		return failed("source not readable", fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, src.Name, err))
	}
	if !srcInfo.Mode().IsRegular() {
		return failed("source is not a file", fmt.Errorf("%w: %s: not a regular file", ErrSourceUnavailable, src.Name))
	}

	if !changed(src.Path, src.Target) {
		if err := c.touchMarker(src.Target); err != nil {
			return failed("marker write failed", err)
		}
		return Result{Outcome: OutcomeSkippedFresh, Reason: "source unchanged"}
	}

	if err := os.MkdirAll(filepath.Dir(src.Target), 0o755); err != nil {
		return failed("target directory", fmt.Errorf("create target dir: %w", err))
	}

	// Every file is staged before any is renamed, so a failed copy leaves
	// the previous snapshot set intact.
	var (
		total   int64
		pending []*renameio.PendingFile
		stale   []string
	)
	defer func() {
		for _, pf := range pending {
			_ = pf.Cleanup()
		}
	}()
	for _, suffix := range append([]string{""}, companions...) {
		from, to := src.Path+suffix, src.Target+suffix
		pf, n, err := c.stage(ctx, src.Name, from, to)
		if suffix != "" && errors.Is(err, fs.ErrNotExist) {
			stale = append(stale, to)
			continue
		}
		if err != nil {
			return failed("copy failed", err)
		}
		pending = append(pending, pf)
		total += n
	}

	for _, to := range stale {
		if err := os.Remove(to); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return failed("stale companion", fmt.Errorf("remove %s: %w", to, err))
		}
	}
	// Main file last.
	for i := len(pending) - 1; i >= 0; i-- {
		if err := pending[i].CloseAtomicallyReplace(); err != nil {
			return failed("replace failed", fmt.Errorf("replace snapshot of %s: %w", src.Name, err))
		}
	}

	if err := c.touchMarker(src.Target); err != nil {
		return failed("marker write failed", err)
	}
	return Result{Outcome: OutcomeCopied, Bytes: total}
}

func failed(reason string, err error) Result {
	return Result{Outcome: OutcomeFailed, Reason: reason, Err: err}
}

// fresh reports whether the target was synced within the freshness window.
// The marker file wins; a bare target falls back to its own mtime.
func (c *Controller) fresh(target string) (bool, time.Time) {
	if _, err := os.Stat(target); err != nil {
		return false, time.Time{}
	}
	info, err := os.Stat(target + markerSuffix)
	if err != nil {
		info, err = os.Stat(target)
		if err != nil {
			return false, time.Time{}
		}
	}
	at := info.ModTime()
	return c.now().Sub(at) < c.freshness, at
}

// changed reports whether the main file or any companion appeared,
// vanished, changed size or was modified since it was last copied.
func changed(path, target string) bool {
	for _, suffix := range append([]string{""}, companions...) {
		src, serr := os.Stat(path + suffix)
		dst, derr := os.Stat(target + suffix)
		if serr != nil || derr != nil {
			if (serr == nil) != (derr == nil) {
				return true
			}
			continue
		}
		if src.Size() != dst.Size() || src.ModTime().After(dst.ModTime()) {
			return true
		}
	}
	return false
}

func (c *Controller) touchMarker(target string) error {
	marker := target + markerSuffix
	if err := fsutil.WriteFile(marker, []byte("ok"), 0o644); err != nil {
		return err
	}
	now := c.now()
	return os.Chtimes(marker, now, now)
}

// stage streams from into a pending file next to to. The caller renames
// it into place or cleans it up. ctx is checked between chunks.
func (c *Controller) stage(ctx context.Context, name, from, to string) (_ *renameio.PendingFile, n int64, err error) {
	in, err := os.Open(from)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open %s: %w", ErrSourceUnavailable, from, err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat %s: %w", from, err)
	}

	pf, err := renameio.NewPendingFile(to, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, 0, fmt.Errorf("create pending file for %s: %w", to, err)
	}
	defer func() {
		if err != nil {
			_ = pf.Cleanup()
		}
	}()

	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, n, fmt.Errorf("copy %s aborted: %w", from, err)
		}
		read, rerr := in.Read(buf)
		if read > 0 {
			if _, werr := pf.Write(buf[:read]); werr != nil {
				return nil, n, fmt.Errorf("write %s: %w", to, werr)
			}
			n += int64(read)
			if c.progress != nil {
				c.progress(name, n, info.Size())
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, n, fmt.Errorf("read %s: %w", from, rerr)
		}
	}
	return pf, n, nil
}
