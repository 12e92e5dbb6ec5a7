// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package assets

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type imageServer struct {
	*httptest.Server
	hits   atomic.Int32
	accept atomic.Value
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func newImageServer(t *testing.T, status int, body []byte, gate <-chan struct{}) *imageServer {
	t.Helper()
	s := &imageServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.accept.Store(r.Header.Get("Accept"))
		if gate != nil {
			<-gate
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestManager(t *testing.T, root string, client *http.Client, now func() time.Time) *Manager {
	t.Helper()
	if client == nil {
		client = http.DefaultClient
	}
	m, err := Open(context.Background(), Options{
		PostersDir:  filepath.Join(root, "posters"),
		IconsDir:    filepath.Join(root, "icons"),
		IndexPath:   filepath.Join(root, "index.db"),
		Retention:   14 * 24 * time.Hour,
		MaxEntries:  10,
		Workers:     2,
		RatePerHost: 1000,
		Burst:       100,
		Client:      client,
		Now:         now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", KeyFor(""))
	assert.Len(t, KeyFor("https://example.com/poster.jpg"), 32)
	assert.NotEqual(t, KeyFor("https://example.com/a.jpg"), KeyFor("https://example.com/b.jpg"))
}

func TestFetch_ResizesPosterAndServesFromDisk(t *testing.T) {
	srv := newImageServer(t, http.StatusOK, pngBytes(t, 640, 960), nil)
	m := newTestManager(t, t.TempDir(), srv.Client(), nil)
	url := srv.URL + "/poster.png"

	e, err := m.Fetch(context.Background(), KindPoster, "", url)
	require.NoError(t, err)
	assert.Equal(t, StateReady, e.State)
	assert.Equal(t, KeyFor(url), e.Key)
	assert.Equal(t, ".jpg", filepath.Ext(e.Path))
	assert.Positive(t, e.Bytes)
	assert.Contains(t, srv.accept.Load(), "image/avif")

	img, err := imaging.Open(e.Path)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 480, img.Bounds().Dy())

	again, err := m.Fetch(context.Background(), KindPoster, "", url)
	require.NoError(t, err)
	assert.Equal(t, e.Path, again.Path)
	assert.Equal(t, int32(1), srv.hits.Load(), "second fetch must not touch the network")
}

func TestFetch_IconCappedAsPNG(t *testing.T) {
	srv := newImageServer(t, http.StatusOK, pngBytes(t, 512, 300), nil)
	m := newTestManager(t, t.TempDir(), srv.Client(), nil)

	e, err := m.Fetch(context.Background(), KindIcon, "chan", srv.URL+"/icon.png")
	require.NoError(t, err)
	assert.Equal(t, m.PathFor(KindIcon, "chan"), e.Path)

	img, err := imaging.Open(e.Path)
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 150, img.Bounds().Dy())
}

func TestFetch_FailureIsRememberedForSession(t *testing.T) {
	srv := newImageServer(t, http.StatusNotFound, []byte("nope"), nil)
	m := newTestManager(t, t.TempDir(), srv.Client(), nil)
	ctx := context.Background()

	_, err := m.Fetch(ctx, KindPoster, "k", srv.URL+"/missing.jpg")
	require.ErrorIs(t, err, ErrFetch)

	_, err = m.Fetch(ctx, KindPoster, "k", srv.URL+"/missing.jpg")
	require.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, int32(1), srv.hits.Load())

	e, ok, err := m.Index().Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateFailed, e.State)
	assert.Contains(t, e.Error, "404")

	m.Forget("k")
	_, err = m.Fetch(ctx, KindPoster, "k", srv.URL+"/missing.jpg")
	require.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestFetch_UndecodableBody(t *testing.T) {
	srv := newImageServer(t, http.StatusOK, []byte("<html>not an image</html>"), nil)
	m := newTestManager(t, t.TempDir(), srv.Client(), nil)

	_, err := m.Fetch(context.Background(), KindPoster, "k", srv.URL)
	require.ErrorIs(t, err, ErrDecode)
	assert.NoFileExists(t, m.PathFor(KindPoster, "k"))
}

func TestFetch_SingleFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := make(chan struct{})
	srv := newImageServer(t, http.StatusOK, pngBytes(t, 100, 150), gate)
	defer srv.Close()
	m := newTestManager(t, t.TempDir(), srv.Client(), nil)
	defer func() { _ = m.Close() }()
	url := srv.URL + "/shared.png"

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Fetch(context.Background(), KindPoster, "", url)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return srv.hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestOpen_RebuildsIndexFromDisk(t *testing.T) {
	root := t.TempDir()
	srv := newImageServer(t, http.StatusOK, pngBytes(t, 100, 150), nil)

	m := newTestManager(t, root, srv.Client(), nil)
	e, err := m.Fetch(context.Background(), KindPoster, "keep", srv.URL)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	for _, p := range []string{"index.db", "index.db-wal", "index.db-shm"} {
		_ = os.Remove(filepath.Join(root, p))
	}

	m2 := newTestManager(t, root, srv.Client(), nil)
	got, ok, err := m2.Index().Get(context.Background(), "keep")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateReady, got.State)
	assert.Equal(t, e.Path, got.Path)
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestOpen_CorruptIndexIsReplaced(t *testing.T) {
	root := t.TempDir()
	srv := newImageServer(t, http.StatusOK, pngBytes(t, 100, 150), nil)

	m := newTestManager(t, root, srv.Client(), nil)
	_, err := m.Fetch(context.Background(), KindPoster, "keep", srv.URL)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	for _, p := range []string{"index.db-wal", "index.db-shm"} {
		_ = os.Remove(filepath.Join(root, p))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.db"), []byte("not a database, only some padding text here"), 0o644))

	m2 := newTestManager(t, root, srv.Client(), nil)
	got, ok, err := m2.Index().Get(context.Background(), "keep")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateReady, got.State)
}

func TestOpen_ReconcileDropsMissingFiles(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, root, nil, nil)
	ctx := context.Background()

	require.NoError(t, m.Index().Upsert(ctx, Entry{
		Key: "gone", Kind: KindPoster, Path: m.PathFor(KindPoster, "gone"), FetchedAt: time.Now(), Bytes: 10, State: StateReady,
	}))
	added, dropped, err := m.Index().Reconcile(ctx, m.dirs())
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, 1, dropped)

	e, _, err := m.Index().Get(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, StateEvicted, e.State)
}

func writeCached(t *testing.T, m *Manager, key string, fetched time.Time) {
	t.Helper()
	path := m.PathFor(KindPoster, key)
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))
	require.NoError(t, m.Index().Upsert(context.Background(), Entry{
		Key: key, Kind: KindPoster, Path: path, FetchedAt: fetched, Bytes: 4, State: StateReady,
	}))
}

func TestEvict(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, t.TempDir(), nil, func() time.Time { return now })
	m.opts.MaxEntries = 2
	ctx := context.Background()

	writeCached(t, m, "old", now.Add(-20*24*time.Hour))
	writeCached(t, m, "a", now.Add(-3*time.Hour))
	writeCached(t, m, "b", now.Add(-2*time.Hour))
	writeCached(t, m, "c", now.Add(-1*time.Hour))

	dir := m.opts.PostersDir
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.jpg.part"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".y.jpg123456"), []byte("pending"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.jpg"), nil, 0o644))

	rep, err := m.Evict(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 1, rep.Capped)
	assert.Equal(t, 3, rep.Swept)
	assert.Equal(t, 2, rep.Entries)
	assert.Equal(t, int64(8), rep.Bytes)
	assert.Equal(t, int64(8), rep.Freed)

	for key, want := range map[string]State{"old": StateEvicted, "a": StateEvicted, "b": StateReady, "c": StateReady} {
		e, ok, err := m.Index().Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, e.State, key)
	}
	assert.NoFileExists(t, m.PathFor(KindPoster, "old"))
	assert.NoFileExists(t, m.PathFor(KindPoster, "a"))
	assert.FileExists(t, m.PathFor(KindPoster, "c"))
	assert.NoFileExists(t, filepath.Join(dir, "x.jpg.part"))
	assert.NoFileExists(t, filepath.Join(dir, "empty.jpg"))
}

func TestFetch_ExpiredEntryIsNotServed(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	srv := newImageServer(t, http.StatusOK, pngBytes(t, 100, 150), nil)
	m := newTestManager(t, t.TempDir(), srv.Client(), func() time.Time { return now })
	ctx := context.Background()

	writeCached(t, m, "old", now.Add(-20*24*time.Hour))
	unindexed := m.PathFor(KindPoster, "stray")
	require.NoError(t, os.WriteFile(unindexed, []byte("jpeg"), 0o644))
	stamp := now.Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(unindexed, stamp, stamp))

	for i, key := range []string{"old", "stray"} {
		e, err := m.Fetch(ctx, KindPoster, key, srv.URL+"/"+key+".png")
		require.NoError(t, err)
		assert.Equal(t, StateReady, e.State)
		assert.Equal(t, now, e.FetchedAt)
		assert.NotEqual(t, int64(4), e.Bytes, "stale bytes served for %s", key)
		assert.Equal(t, int32(i+1), srv.hits.Load())

		img, err := imaging.Open(e.Path)
		require.NoError(t, err)
		assert.Equal(t, 100, img.Bounds().Dx())
	}

	_, err := m.Fetch(ctx, KindPoster, "old", srv.URL+"/old.png")
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.hits.Load(), "refreshed entry is a hit")
}

type recordingSink struct {
	keys []string
}

func (s *recordingSink) Upload(key string, img *image.NRGBA) error {
	s.keys = append(s.keys, key)
	return nil
}

func TestBridge_PrepareAndDrainWithBudget(t *testing.T) {
	srv := newImageServer(t, http.StatusOK, pngBytes(t, 64, 96), nil)
	m := newTestManager(t, t.TempDir(), srv.Client(), nil)
	ctx := context.Background()

	for _, key := range []string{"one", "two"} {
		_, err := m.Fetch(ctx, KindPoster, key, srv.URL+"/"+key)
		require.NoError(t, err)
	}

	b := NewBridge(m)
	require.NoError(t, b.Prepare(ctx, "one"))
	require.NoError(t, b.Prepare(ctx, "two"))
	require.NoError(t, b.Prepare(ctx, "one"), "already queued is a no-op")
	assert.Equal(t, 2, b.Pending())

	sink := &recordingSink{}
	n, err := b.Drain(sink, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"one"}, sink.keys)
	assert.Equal(t, 1, b.Pending())

	n, err = b.Drain(sink, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"one", "two"}, sink.keys)

	require.ErrorIs(t, b.Prepare(ctx, "unknown"), ErrNotCached)
}

func TestBridge_DecodeFailureIsSticky(t *testing.T) {
	m := newTestManager(t, t.TempDir(), nil, nil)
	ctx := context.Background()
	writeCached(t, m, "broken", time.Now())

	b := NewBridge(m)
	require.ErrorIs(t, b.Prepare(ctx, "broken"), ErrDecode)

	e, _, err := m.Index().Get(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, e.State)

	// Even a now-valid file is not decoded again this session.
	img := imaging.New(4, 4, color.NRGBA{A: 255})
	require.NoError(t, imaging.Save(img, m.PathFor(KindPoster, "broken")))
	require.ErrorIs(t, b.Prepare(ctx, "broken"), ErrDecode)
	assert.True(t, m.IsFailed("broken"))
	assert.Zero(t, b.Pending())
}

func TestPrioritize(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	reqs := []Request{
		{Key: "later", AirsAt: now.Add(5 * 24 * time.Hour)},
		{Key: "tomorrow-night", AirsAt: time.Date(2026, 10, 20, 23, 0, 0, 0, time.UTC)},
		{Key: "unknown"},
		{Key: "today", AirsAt: now.Add(2 * time.Hour)},
		{Key: "day-after", AirsAt: time.Date(2026, 10, 21, 0, 30, 0, 0, time.UTC)},
	}

	got := Prioritize(reqs, now)
	var keys []string
	for _, r := range got {
		keys = append(keys, r.Key)
	}
	assert.Equal(t, []string{"tomorrow-night", "today", "later", "unknown", "day-after"}, keys)
	assert.True(t, got[0].Priority)
	assert.False(t, got[2].Priority)
	assert.False(t, reqs[1].Priority, "input is not modified")
}

func TestPrefetcher_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newImageServer(t, http.StatusOK, pngBytes(t, 64, 96), nil)
	defer srv.Close()
	m := newTestManager(t, t.TempDir(), srv.Client(), nil)
	defer func() { _ = m.Close() }()

	reqs := []Request{
		{Kind: KindPoster, Key: "a", URL: srv.URL + "/a"},
		{Kind: KindPoster, Key: "b", URL: srv.URL + "/b"},
		{Kind: KindPoster, Key: "skip"},
		{Kind: KindIcon, Key: "c", URL: srv.URL + "/c"},
	}

	var done []string
	for res := range NewPrefetcher(m, 2).Run(context.Background(), reqs) {
		require.NoError(t, res.Err)
		assert.Equal(t, StateReady, res.Entry.State)
		done = append(done, res.Request.Key)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, done)
}
