// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package owned

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/pex/internal/config"
	"github.com/ManuGH/pex/internal/manifest"
	"github.com/ManuGH/pex/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type blockingStrategy struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStrategy) Resolve(ctx context.Context, _ *manifest.Manifest) (Index, error) {
	close(b.entered)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return Index{"heat:1995": {Key: "heat:1995", Owned: true}}, nil
}

func TestService_SingleFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	strat := &blockingStrategy{entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(config.OwnedSourceFilesystem, strat)

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = svc.Resolve(context.Background(), manifest.New())
	}()

	<-strat.entered
	_, err := svc.Resolve(context.Background(), manifest.New())
	assert.ErrorIs(t, err, ErrResolveRunning)

	close(strat.release)
	wg.Wait()
	require.NoError(t, firstErr)
}

func TestNew_SelectsStrategy(t *testing.T) {
	svc, err := New(config.OwnedSourceLibrary, Deps{LibraryDB: "/nope.db"})
	require.NoError(t, err)
	assert.Equal(t, config.OwnedSourceLibrary, svc.Kind())

	_, _, err = svc.RefreshHD(context.Background(), manifest.New())
	assert.ErrorIs(t, err, ErrHDRefreshUnsupported)

	svc, err = New("", Deps{})
	require.NoError(t, err)
	assert.Equal(t, config.OwnedSourceFilesystem, svc.Kind())

	_, err = New("plex", Deps{})
	assert.Error(t, err)
}

func TestIndex_AddMerges(t *testing.T) {
	early := time.Unix(100, 0)
	late := time.Unix(200, 0)
	idx := make(Index)
	idx.Add(manifest.OwnershipRecord{Key: "k:0", Owned: true, HD: true, RecordedAt: &early})
	idx.Add(manifest.OwnershipRecord{Key: "k:0", Owned: true, HD: false, RecordedAt: &late})

	require.Len(t, idx, 1)
	assert.True(t, idx["k:0"].HD)
	assert.Equal(t, late, *idx["k:0"].RecordedAt)
}

func TestApplyAndSidecars(t *testing.T) {
	dir := t.TempDir()
	m := manifest.New()
	Apply(m, Index{
		"heat:1995":  {Key: "heat:1995", Owned: true, HD: true},
		"alien:1979": {Key: "alien:1979", Owned: true},
	}, time.Now())
	assert.EqualValues(t, 1, m.Version)

	allPath, hdPath := filepath.Join(dir, "owned_all.txt"), filepath.Join(dir, "owned_hd.txt")
	require.NoError(t, WriteSidecars(allPath, hdPath, m))

	all, err := os.ReadFile(allPath)
	require.NoError(t, err)
	assert.Equal(t, "alien:1979\nheat:1995\n", string(all))

	hd, err := os.ReadFile(hdPath)
	require.NoError(t, err)
	assert.Equal(t, "heat:1995\n", string(hd))
}

func TestMatcher_Lookup(t *testing.T) {
	records := map[string]manifest.OwnershipRecord{
		"heat:1995":             {Key: "heat:1995", Owned: true},
		"return of sabata:1971": {Key: "return of sabata:1971", Owned: true},
		"alien:1979":            {Key: "alien:1979", Owned: true},
		"solaris:1972":          {Key: "solaris:1972", Owned: true},
		"solaris:2002":          {Key: "solaris:2002", Owned: true},
		"nosferatu:0":           {Key: "nosferatu:0", Owned: true},
	}
	m := NewMatcher(records)

	tests := []struct {
		title string
		year  int
		key   string
		conf  normalize.Confidence
	}{
		{"Heat", 1995, "heat:1995", normalize.ConfidenceExact},
		{"Heat", 1996, "heat:1995", normalize.ConfidenceNear},
		{"The Return of Sabata", 1971, "return of sabata:1971", normalize.ConfidenceExact},
		{"Alien: Director's Cut", 1979, "alien:1979", normalize.ConfidenceExact},
		{"Nosferatu", 1922, "nosferatu:0", normalize.ConfidenceTitleOnly},
		{"Heat", 0, "heat:1995", normalize.ConfidenceTitleOnly},
	}
	for _, tt := range tests {
		got, ok := m.Lookup(tt.title, tt.year)
		require.True(t, ok, "%s (%d)", tt.title, tt.year)
		assert.Equal(t, tt.key, got.Record.Key, tt.title)
		assert.Equal(t, tt.conf, got.Confidence, tt.title)
	}

	_, ok := m.Lookup("Solaris", 0)
	assert.False(t, ok, "two candidate years without a hint stay distinct")
	_, ok = m.Lookup("Heat", 1990)
	assert.False(t, ok)
	_, ok = m.Lookup("Ronin", 1998)
	assert.False(t, ok)
}

func TestMatcher_NearYearTieIsAmbiguous(t *testing.T) {
	m := NewMatcher(map[string]manifest.OwnershipRecord{
		"hamlet:1999": {Key: "hamlet:1999", Owned: true},
		"hamlet:2001": {Key: "hamlet:2001", Owned: true},
	})

	_, ok := m.Lookup("Hamlet", 2000)
	assert.False(t, ok, "1999 and 2001 are equally near")

	got, ok := m.Lookup("Hamlet", 2002)
	require.True(t, ok)
	assert.Equal(t, "hamlet:2001", got.Record.Key)
	assert.Equal(t, normalize.ConfidenceNear, got.Confidence)

	// The index agrees with the matcher.
	ix := normalize.NewIndex[string]()
	ix.Add(normalize.Title("Hamlet", 1999), "a")
	ix.Add(normalize.Title("Hamlet", 2001), "b")
	_, ok = ix.Lookup(normalize.Title("Hamlet", 2000))
	assert.False(t, ok)
}
