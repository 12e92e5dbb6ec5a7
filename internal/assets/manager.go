// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package assets

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/pex/internal/cache"
	"github.com/ManuGH/pex/internal/fsutil"
	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/metrics"
	"github.com/ManuGH/pex/internal/ratelimit"
	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	acceptHeader = "image/avif,image/webp,image/*;q=0.8,*/*;q=0.5"
	userAgent    = "pex/assets"
	maxBodyBytes = 32 << 20
	jpegQuality  = 75
	negativeTTL  = 24 * time.Hour // failures are remembered for the session
)

// Options configures a Manager.
type Options struct {
	PostersDir   string
	IconsDir     string
	IndexPath    string
	Retention    time.Duration
	MaxEntries   int
	Workers      int
	RatePerHost  float64
	Burst        int
	FetchTimeout time.Duration
	PosterWidth  int
	IconSize     int

	// Client overrides the HTTP client (tests).
	Client *http.Client
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Manager owns the on-disk cache and its index.
type Manager struct {
	opts     Options
	index    *Index
	client   *http.Client
	group    singleflight.Group
	negative *cache.Memory[error]
	sem      *semaphore.Weighted
	limiter  *ratelimit.Limiter
	now      func() time.Time
	logger   zerolog.Logger
}

// Open prepares the cache directories and index. A missing or corrupt
// index is rebuilt from the files on disk.
func Open(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.PosterWidth <= 0 {
		opts.PosterWidth = 320
	}
	if opts.IconSize <= 0 {
		opts.IconSize = 256
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 20 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	for _, dir := range []string{opts.PostersDir, opts.IconsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	index, fresh, err := OpenIndex(ctx, opts.IndexPath)
	if err != nil {
		return nil, err
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.FetchTimeout}
	}
	rl := ratelimit.DefaultConfig()
	if opts.RatePerHost > 0 {
		rl.Rate = rate.Limit(opts.RatePerHost)
	}
	if opts.Burst > 0 {
		rl.Burst = opts.Burst
	}

	m := &Manager{
		opts:     opts,
		index:    index,
		client:   client,
		negative: cache.NewMemory[error](cache.WithClock(opts.Now)),
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		limiter:  ratelimit.New(rl),
		now:      opts.Now,
		logger:   xglog.WithComponent("assets"),
	}

	if fresh {
		added, dropped, err := index.Reconcile(ctx, m.dirs())
		if err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("rebuild asset index: %w", err)
		}
		m.logger.Info().
			Str(xglog.FieldEvent, "assets.index_rebuilt").
			Int("added", added).
			Int("dropped", dropped).
			Msg("asset index rebuilt from disk")
	}
	return m, nil
}

// Close closes the index.
func (m *Manager) Close() error {
	return m.index.Close()
}

// Index exposes the bookkeeping store.
func (m *Manager) Index() *Index { return m.index }

func (m *Manager) dirs() map[Kind]string {
	return map[Kind]string{KindPoster: m.opts.PostersDir, KindIcon: m.opts.IconsDir}
}

// PathFor is where key of kind is stored.
func (m *Manager) PathFor(kind Kind, key string) string {
	dir := m.opts.PostersDir
	if kind == KindIcon {
		dir = m.opts.IconsDir
	}
	return filepath.Join(dir, key+kind.ext())
}

// Fetch returns the cached entry for key, downloading url when needed.
// Concurrent calls for one key share a single download; a key that failed
// earlier in the session fails again without touching the network.
func (m *Manager) Fetch(ctx context.Context, kind Kind, key, url string) (Entry, error) {
	if key == "" {
		key = KeyFor(url)
	}
	if err, ok := m.negative.Get(key); ok {
		metrics.IncAssetFetch(string(kind), "suppressed")
		return Entry{Key: key, Kind: kind, URL: url, State: StateFailed}, err
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.fetch(ctx, kind, key, url)
	})
	e, _ := v.(Entry)
	return e, err
}

func (m *Manager) fetch(ctx context.Context, kind Kind, key, url string) (Entry, error) {
	path := m.PathFor(kind, key)
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		e, ok, err := m.index.Get(ctx, key)
		if err != nil {
			return Entry{}, err
		}
		known := ok && e.State == StateReady
		if !known {
			e = Entry{Key: key, Kind: kind, URL: url, Path: path, FetchedAt: info.ModTime(), Bytes: info.Size(), State: StateReady}
		}
		if !m.expired(e.FetchedAt) {
			if !known {
				if err := m.index.Upsert(ctx, e); err != nil {
					return Entry{}, err
				}
			}
			metrics.IncAssetFetch(string(kind), "hit")
			return e, nil
		}
		// Past retention: never served, fetched again below.
		if _, err := m.evict(ctx, e, "expired"); err != nil {
			return Entry{}, err
		}
		metrics.AddAssetEvicted("retention", 1)
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return Entry{}, err
	}
	defer m.sem.Release(1)

	if err := m.limiter.Wait(ctx, url); err != nil {
		return Entry{}, err
	}

	logger := xglog.WithContext(ctx, m.logger).With().Str(xglog.FieldKey, key).Str(xglog.FieldURL, url).Logger()
	e := Entry{Key: key, Kind: kind, URL: url, Path: path, State: StateFetching}
	if err := m.index.Upsert(ctx, e); err != nil {
		return Entry{}, err
	}

	size, err := m.download(ctx, kind, url, path)
	if err != nil {
		if ctx.Err() != nil {
			// Superseded, not a verdict on the asset.
			_ = m.index.SetState(context.WithoutCancel(ctx), key, StateEvicted, "cancelled")
			return Entry{}, ctx.Err()
		}
		e.State = StateFailed
		e.Error = err.Error()
		_ = m.index.Upsert(context.WithoutCancel(ctx), e)
		m.negative.Set(key, err, negativeTTL)
		metrics.IncAssetFetch(string(kind), "failed")
		logger.Warn().Err(err).Str(xglog.FieldEvent, "assets.fetch_failed").Msg("asset fetch failed")
		return e, err
	}

	e.State = StateReady
	e.FetchedAt = m.now()
	e.Bytes = size
	if err := m.index.Upsert(ctx, e); err != nil {
		return Entry{}, err
	}
	metrics.IncAssetFetch(string(kind), "downloaded")
	logger.Debug().
		Str(xglog.FieldEvent, "assets.fetched").
		Str("size", humanize.IBytes(uint64(size))).
		Msg("asset cached")
	return e, nil
}

func (m *Manager) expired(fetched time.Time) bool {
	return m.opts.Retention > 0 && fetched.Before(m.now().Add(-m.opts.Retention))
}

// download fetches url, re-encodes it for kind and stores it at path.
func (m *Manager) download(ctx context.Context, kind Kind, url, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: HTTP %d", ErrFetch, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}

	src, err := imaging.Decode(bytes.NewReader(body), imaging.AutoOrientation(true))
	if err != nil {
		metrics.IncAssetDecodeFailure()
		return 0, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	var size int64
	err = fsutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		cw := &countingWriter{w: w}
		if err := m.encode(cw, kind, src); err != nil {
			return err
		}
		size = cw.n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return size, nil
}

func (m *Manager) encode(w io.Writer, kind Kind, src image.Image) error {
	b := src.Bounds()
	switch kind {
	case KindIcon:
		if b.Dx() > m.opts.IconSize || b.Dy() > m.opts.IconSize {
			src = imaging.Fit(src, m.opts.IconSize, m.opts.IconSize, imaging.Lanczos)
		}
		return imaging.Encode(w, src, imaging.PNG)
	default:
		if b.Dx() > m.opts.PosterWidth {
			src = imaging.Resize(src, m.opts.PosterWidth, 0, imaging.CatmullRom)
		}
		return imaging.Encode(w, src, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Forget clears the session failure memory for key.
func (m *Manager) Forget(key string) { m.negative.Delete(key) }

// markFailed records a failure discovered outside Fetch (decode in the
// bridge) so the key is not retried this session.
func (m *Manager) markFailed(ctx context.Context, key string, cause error) {
	m.negative.Set(key, cause, negativeTTL)
	if err := m.index.SetState(ctx, key, StateFailed, cause.Error()); err != nil {
		m.logger.Warn().Err(err).Str(xglog.FieldKey, key).Msg("could not persist failed state")
	}
}

// IsFailed reports whether key failed earlier in this session.
func (m *Manager) IsFailed(key string) bool {
	_, ok := m.negative.Get(key)
	return ok
}
