// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	res   Resolution
	err   error
	calls int
}

func (f *fakeRunner) Resolution(context.Context, string) (Resolution, error) {
	f.calls++
	return f.res, f.err
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIsHD_NameMarkers(t *testing.T) {
	runner := &fakeRunner{res: Resolution{1920, 1080}}
	c := NewClassifier(runner, nil)
	ctx := context.Background()

	assert.False(t, c.IsHD(ctx, File{Path: "/m/Heat.1995.DVDRip.XviD.avi"}))
	assert.False(t, c.IsHD(ctx, File{Path: "/m/VHS Rips/Heat.avi"}))
	assert.True(t, c.IsHD(ctx, File{Path: "/m/Heat.1995.1080p.BluRay.mkv"}))
	assert.True(t, c.IsHD(ctx, File{Path: "/m/UHD/Heat.mkv"}))
	assert.Zero(t, runner.calls, "markers decide without probing")
}

func TestIsHD_SDMarkerBeatsHDMarker(t *testing.T) {
	c := NewClassifier(&fakeRunner{res: Resolution{1920, 1080}}, nil)
	assert.False(t, c.IsHD(context.Background(), File{Path: "/m/Heat.480p.BluRay.mkv"}))
}

func TestIsHD_LiveProbeAndCache(t *testing.T) {
	store := openStore(t)
	runner := &fakeRunner{res: Resolution{1280, 536}}
	c := NewClassifier(runner, store)
	f := File{Path: "/m/Heat (1995).mkv", ModTime: time.Unix(1700000000, 0), Size: 1 << 30}

	assert.True(t, c.IsHD(context.Background(), f))
	assert.True(t, c.IsHD(context.Background(), f))
	assert.Equal(t, 1, runner.calls, "second call served from store")

	f.Size++
	assert.True(t, c.IsHD(context.Background(), f))
	assert.Equal(t, 2, runner.calls, "changed file is probed again")
}

func TestIsHD_CachedResultOverridesHDMarker(t *testing.T) {
	store := openStore(t)
	f := File{Path: "/m/Heat.720p.mkv", ModTime: time.Unix(1, 0), Size: 10}
	require.NoError(t, store.Put(f.Path, f.ModTime, f.Size, Resolution{720, 404}))

	c := NewClassifier(nil, store)
	assert.False(t, c.IsHD(context.Background(), f))
}

func TestIsHD_ProbeFailureIsSD(t *testing.T) {
	c := NewClassifier(&fakeRunner{err: errors.New("exit 1")}, nil)
	assert.False(t, c.IsHD(context.Background(), File{Path: "/m/Heat.mkv"}))

	c = NewClassifier(FFprobe{}, nil)
	assert.False(t, c.IsHD(context.Background(), File{Path: "/m/Heat.mkv"}))
}

func TestResolution_HD(t *testing.T) {
	assert.True(t, Resolution{1280, 0}.HD())
	assert.True(t, Resolution{960, 720}.HD())
	assert.False(t, Resolution{1024, 576}.HD())
}

func TestParseStreams(t *testing.T) {
	res, err := parseStreams([]byte(`{"streams":[{"width":1920,"height":800}]}`))
	require.NoError(t, err)
	assert.Equal(t, Resolution{1920, 800}, res)

	_, err = parseStreams([]byte(`{"streams":[]}`))
	assert.Error(t, err)

	_, err = parseStreams([]byte(`nope`))
	assert.Error(t, err)
}

func TestFFprobe_Unavailable(t *testing.T) {
	_, err := FFprobe{}.Resolution(context.Background(), "/x.mkv")
	assert.ErrorIs(t, err, ErrUnavailable)
}
