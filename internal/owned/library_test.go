// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package owned

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/pex/internal/manifest"
	"github.com/ManuGH/pex/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func libraryFixture(t *testing.T, rows ...string) string {
	t.Helper()
	return testutil.SQLiteFixture(t, filepath.Join(t.TempDir(), "library.db"), testutil.Concat(testutil.LibrarySchema, rows)...)
}

func TestLibrary_Resolve(t *testing.T) {
	path := libraryFixture(t,
		`INSERT INTO metadata_items (id, metadata_type, title, original_title, year, added_at, updated_at) VALUES
			(1, 1, 'Amélie', 'Le Fabuleux Destin d''Amélie Poulain', 2001, 100, 200),
			(2, 1, 'Heat', NULL, 1995, 100, NULL),
			(3, 2, 'Some Show', NULL, 2010, 100, NULL),
			(4, 1, '', NULL, 2010, 100, NULL)`,
		`INSERT INTO media_items (id, metadata_item_id, width, height, updated_at) VALUES
			(10, 1, 720, 576, NULL),
			(11, 1, 1920, 1080, 300),
			(20, 2, 640, 480, NULL),
			(30, 3, 1920, 1080, NULL),
			(40, 4, 1920, 1080, NULL)`,
		`INSERT INTO media_parts (media_item_id, file, size, updated_at) VALUES
			(10, '/movies/amelie-sd.avi', 700, 150),
			(11, '/movies/amelie.mkv', 9000, 400),
			(20, '/movies/heat.avi', 700, NULL),
			(30, '/tv/show.mkv', 1, NULL),
			(40, '/movies/empty.mkv', 1, NULL)`,
	)

	idx, err := NewLibrary(path, []string{"/movies"}, nil).Resolve(context.Background(), manifest.New())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"amelie:2001",
		"le fabuleux destin damelie poulain:2001",
		"heat:1995",
	}, sortedKeys(idx))

	amelie := idx["amelie:2001"]
	assert.True(t, amelie.HD, "best part wins")
	require.NotNil(t, amelie.RecordedAt)
	assert.Equal(t, time.Unix(400, 0).UTC(), *amelie.RecordedAt)
	assert.Equal(t, manifest.ProvenanceLibrary, amelie.Provenance)

	heat := idx["heat:1995"]
	assert.False(t, heat.HD)
	require.NotNil(t, heat.RecordedAt)
	assert.Equal(t, time.Unix(100, 0).UTC(), *heat.RecordedAt, "falls back to added_at")
}

func TestLibrary_MissingSnapshot(t *testing.T) {
	_, err := NewLibrary(filepath.Join(t.TempDir(), "none.db"), nil, nil).Resolve(context.Background(), manifest.New())
	assert.ErrorIs(t, err, ErrNoData)
}

func TestLibrary_MissingTable(t *testing.T) {
	path := testutil.SQLiteFixture(t, filepath.Join(t.TempDir(), "library.db"), testutil.GuideSchema...)
	_, err := NewLibrary(path, nil, nil).Resolve(context.Background(), manifest.New())
	assert.ErrorIs(t, err, ErrNoData)
	assert.Contains(t, err.Error(), "media_parts")
}
