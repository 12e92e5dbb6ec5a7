// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package manifest persists the reconciliation state between runs: the
// ownership index, the filesystem directory snapshots used for incremental
// walks, the asset cache summary and the last mirror times.
//
// The manifest has a single writer (the pipeline consumer). Readers get
// copies via Clone.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/ManuGH/pex/internal/fsutil"
)

// Schema is bumped whenever the on-disk layout changes incompatibly.
const Schema = 3

var (
	// ErrCorrupt marks an unreadable or undecodable manifest file.
	ErrCorrupt = errors.New("manifest corrupt")
	// ErrSchemaMismatch marks a manifest written by a different schema.
	ErrSchemaMismatch = errors.New("manifest schema mismatch")
)

// Provenance records which strategy produced an ownership record.
type Provenance string

const (
	ProvenanceFilesystem Provenance = "filesystem"
	ProvenanceLibrary    Provenance = "library"
)

// OwnershipRecord is the ownership state of one normalized key.
type OwnershipRecord struct {
	Key        string     `json:"key"`
	Owned      bool       `json:"owned"`
	HD         bool       `json:"hd"`
	RecordedAt *time.Time `json:"recordedAt,omitempty"`
	Provenance Provenance `json:"provenance"`
}

// Merge folds other into r: owned stays true, hd is OR-ed and the latest
// recorded date wins.
func (r OwnershipRecord) Merge(other OwnershipRecord) OwnershipRecord {
	r.Owned = r.Owned || other.Owned
	r.HD = r.HD || other.HD
	if other.RecordedAt != nil && (r.RecordedAt == nil || other.RecordedAt.After(*r.RecordedAt)) {
		t := *other.RecordedAt
		r.RecordedAt = &t
	}
	return r
}

// FileRecord is one video file seen by the filesystem walk.
type FileRecord struct {
	Path    string    `json:"path"`
	Key     string    `json:"key"`
	Title   string    `json:"title"`
	Year    int       `json:"year,omitempty"`
	HD      bool      `json:"hd"`
	ModTime time.Time `json:"modTime"`
	Size    int64     `json:"size"`
}

// DirSnapshot is the state of one directory at its last walk.
type DirSnapshot struct {
	ModTime time.Time    `json:"modTime"`
	Entries []string     `json:"entries"`
	Subdirs []string     `json:"subdirs,omitempty"`
	Files   []FileRecord `json:"files,omitempty"`
}

// CacheSummary mirrors the asset index totals for diagnostics.
type CacheSummary struct {
	Entries      int       `json:"entries"`
	Bytes        int64     `json:"bytes"`
	LastEviction time.Time `json:"lastEviction,omitempty"`
}

// Manifest is the persisted state.
type Manifest struct {
	Schema    int                        `json:"schema"`
	Version   uint64                     `json:"version"`
	UpdatedAt time.Time                  `json:"updatedAt,omitempty"`
	Ownership map[string]OwnershipRecord `json:"ownership"`
	Dirs      map[string]DirSnapshot     `json:"dirs"`
	Cache     CacheSummary               `json:"cache"`
	Mirrors   map[string]time.Time       `json:"mirrors"`
}

// New returns an empty manifest of the current schema.
func New() *Manifest {
	return &Manifest{
		Schema:    Schema,
		Ownership: make(map[string]OwnershipRecord),
		Dirs:      make(map[string]DirSnapshot),
		Mirrors:   make(map[string]time.Time),
	}
}

// Load reads the manifest at path. A missing file yields an empty manifest.
// A corrupt file or a schema mismatch also yields an empty manifest, together
// with an error wrapping ErrCorrupt or ErrSchemaMismatch so the caller can log
// the reset. Any other error returns a nil manifest.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return New(), fmt.Errorf("%w: %s is empty", ErrCorrupt, path)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return New(), fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if m.Schema != Schema {
		return New(), fmt.Errorf("%w: have %d, want %d", ErrSchemaMismatch, m.Schema, Schema)
	}
	m.ensureMaps()
	return &m, nil
}

func (m *Manifest) ensureMaps() {
	if m.Ownership == nil {
		m.Ownership = make(map[string]OwnershipRecord)
	}
	if m.Dirs == nil {
		m.Dirs = make(map[string]DirSnapshot)
	}
	if m.Mirrors == nil {
		m.Mirrors = make(map[string]time.Time)
	}
}

// Save writes the manifest atomically. A crash leaves either the old or the
// new file, never a torn one.
func (m *Manifest) Save(path string) error {
	m.Schema = Schema
	if err := fsutil.WriteJSON(path, m); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

// SaveIfChanged saves only when m differs from prev. It reports whether a
// write happened.
func (m *Manifest) SaveIfChanged(path string, prev *Manifest) (bool, error) {
	if prev != nil && m.Equal(prev) {
		return false, nil
	}
	return true, m.Save(path)
}

// Equal compares the persisted form of both manifests.
func (m *Manifest) Equal(other *Manifest) bool {
	a, errA := json.Marshal(m)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// SetOwnership replaces the ownership index and bumps Version. Callers only
// invoke it after a successful resolver pass.
func (m *Manifest) SetOwnership(idx map[string]OwnershipRecord, now time.Time) {
	m.Ownership = make(map[string]OwnershipRecord, len(idx))
	for k, v := range idx {
		m.Ownership[k] = v
	}
	m.Version++
	m.UpdatedAt = now
}

// OwnedKeys returns the owned keys, sorted.
func (m *Manifest) OwnedKeys() []string {
	return m.keys(func(r OwnershipRecord) bool { return r.Owned })
}

// HDKeys returns the owned HD keys, sorted.
func (m *Manifest) HDKeys() []string {
	return m.keys(func(r OwnershipRecord) bool { return r.Owned && r.HD })
}

func (m *Manifest) keys(keep func(OwnershipRecord) bool) []string {
	out := make([]string, 0, len(m.Ownership))
	for k, r := range m.Ownership {
		if keep(r) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Ownership = make(map[string]OwnershipRecord, len(m.Ownership))
	for k, r := range m.Ownership {
		if r.RecordedAt != nil {
			t := *r.RecordedAt
			r.RecordedAt = &t
		}
		c.Ownership[k] = r
	}
	c.Dirs = make(map[string]DirSnapshot, len(m.Dirs))
	for k, d := range m.Dirs {
		d.Entries = append([]string(nil), d.Entries...)
		d.Subdirs = append([]string(nil), d.Subdirs...)
		d.Files = append([]FileRecord(nil), d.Files...)
		c.Dirs[k] = d
	}
	c.Mirrors = make(map[string]time.Time, len(m.Mirrors))
	for k, t := range m.Mirrors {
		c.Mirrors[k] = t
	}
	return &c
}
