// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Manifest {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := New()
	m.SetOwnership(map[string]OwnershipRecord{
		"heat:1995":  {Key: "heat:1995", Owned: true, HD: true, RecordedAt: &at, Provenance: ProvenanceFilesystem},
		"alien:1979": {Key: "alien:1979", Owned: true, Provenance: ProvenanceFilesystem},
	}, at)
	m.Dirs["/movies"] = DirSnapshot{
		ModTime: at,
		Entries: []string{"Heat (1995).mkv"},
		Files:   []FileRecord{{Path: "/movies/Heat (1995).mkv", Key: "heat:1995", Title: "Heat", Year: 1995, HD: true, ModTime: at, Size: 42}},
	}
	m.Mirrors["guide"] = at
	return m
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, Schema, m.Schema)
	assert.Zero(t, m.Version)
	assert.Empty(t, m.Ownership)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	m := sample()
	require.NoError(t, m.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_ResetsOnCorruption(t *testing.T) {
	tests := map[string]string{
		"truncated": `{"schema":3,"version":4,"ownership":{`,
		"empty":     "",
		"garbage":   "\x00\x01not json",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "manifest.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			m, err := Load(path)
			assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
			require.NotNil(t, m)
			assert.Zero(t, m.Version)
			assert.Empty(t, m.Ownership)
		})
	}
}

func TestLoad_ResetsOnSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema":2,"version":9,"ownership":{"x:0":{"key":"x:0","owned":true}}}`), 0o600))

	m, err := Load(path)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	require.NotNil(t, m)
	assert.Empty(t, m.Ownership)
	assert.Zero(t, m.Version)
}

func TestSetOwnership_BumpsVersion(t *testing.T) {
	m := New()
	m.SetOwnership(nil, time.Now())
	m.SetOwnership(map[string]OwnershipRecord{"a:0": {Key: "a:0", Owned: true}}, time.Now())
	assert.EqualValues(t, 2, m.Version)
	assert.Equal(t, []string{"a:0"}, m.OwnedKeys())
}

func TestKeys_Sorted(t *testing.T) {
	m := sample()
	assert.Equal(t, []string{"alien:1979", "heat:1995"}, m.OwnedKeys())
	assert.Equal(t, []string{"heat:1995"}, m.HDKeys())
}

func TestSaveIfChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	m := sample()
	require.NoError(t, m.Save(path))

	wrote, err := m.Clone().SaveIfChanged(path, m)
	require.NoError(t, err)
	assert.False(t, wrote)

	next := m.Clone()
	next.Mirrors["library"] = time.Now().UTC()
	wrote, err = next.SaveIfChanged(path, m)
	require.NoError(t, err)
	assert.True(t, wrote)
}

func TestClone_IsDeep(t *testing.T) {
	m := sample()
	c := m.Clone()

	c.Dirs["/movies"].Files[0].HD = false
	*c.Ownership["heat:1995"].RecordedAt = time.Time{}
	c.Mirrors["guide"] = time.Time{}

	assert.True(t, m.Dirs["/movies"].Files[0].HD)
	assert.False(t, m.Ownership["heat:1995"].RecordedAt.IsZero())
	assert.False(t, m.Mirrors["guide"].IsZero())
}

func TestOwnershipRecord_Merge(t *testing.T) {
	early := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)

	a := OwnershipRecord{Key: "k:0", Owned: true, HD: false, RecordedAt: &early}
	b := OwnershipRecord{Key: "k:0", Owned: true, HD: true, RecordedAt: &late}

	got := a.Merge(b)
	assert.True(t, got.Owned)
	assert.True(t, got.HD)
	assert.Equal(t, late, *got.RecordedAt)

	got = b.Merge(OwnershipRecord{Key: "k:0", Owned: true, RecordedAt: &early})
	assert.Equal(t, late, *got.RecordedAt)
}
