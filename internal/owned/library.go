// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package owned

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/manifest"
	"github.com/ManuGH/pex/internal/metrics"
	"github.com/ManuGH/pex/internal/normalize"
	"github.com/ManuGH/pex/internal/persistence/sqlite"
)

// Best part first per item: widest, then tallest, then largest file.
const libraryQuery = `
SELECT
  m.id,
  m.title,
  m.original_title,
  m.year,
  m.updated_at,
  m.added_at,
  mi.width,
  mi.height,
  mi.updated_at,
  mp.file,
  mp.updated_at
FROM metadata_items m
JOIN media_items mi ON mi.metadata_item_id = m.id
JOIN media_parts mp ON mp.media_item_id = mi.id
WHERE m.metadata_type = 1
  AND mp.file IS NOT NULL
  AND mp.file <> ''
ORDER BY
  m.id ASC,
  COALESCE(mi.width, 0) DESC,
  COALESCE(mi.height, 0) DESC,
  COALESCE(mp.size, 0) DESC`

// Library reads ownership from the mirrored library database snapshot.
type Library struct {
	dbPath string
	roots  []string
	norm   *normalize.Cache
}

// NewLibrary returns the library strategy. roots are only used to report
// whether the library covers the configured folders.
func NewLibrary(dbPath string, roots []string, norm *normalize.Cache) *Library {
	return &Library{dbPath: dbPath, roots: roots, norm: norm}
}

// Resolve implements Strategy.
func (l *Library) Resolve(ctx context.Context, _ *manifest.Manifest) (Index, error) {
	logger := xglog.WithComponentFromContext(ctx, "owned")

	if _, err := os.Stat(l.dbPath); errors.Is(err, fs.ErrNotExist) || l.dbPath == "" {
		return nil, fmt.Errorf("%w: no library snapshot at %q", ErrNoData, l.dbPath)
	}
	db, err := sqlite.OpenReadOnly(l.dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoData, err)
	}
	defer db.Close()

	missing, err := sqlite.MissingTables(ctx, db, "metadata_items", "media_items", "media_parts")
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		for _, table := range missing {
			metrics.IncSchemaMismatch(table)
			logger.Warn().Str(xglog.FieldEvent, "owned.schema_mismatch").Str(xglog.FieldTable, table).Msg("library table missing, query skipped")
		}
		return nil, fmt.Errorf("%w: missing tables %s", ErrNoData, strings.Join(missing, ", "))
	}

	rows, err := db.QueryContext(ctx, libraryQuery)
	if err != nil {
		return nil, fmt.Errorf("query library: %w", err)
	}
	defer rows.Close()

	idx := make(Index)
	seen := make(map[int64]struct{})
	underRoots := 0
	for rows.Next() {
		var (
			id                               int64
			title, original, file            sql.NullString
			year                             sql.NullInt64
			metaUpdated, added, mediaUpdated sql.NullInt64
			partUpdated, width, height       sql.NullInt64
		)
		if err := rows.Scan(&id, &title, &original, &year, &metaUpdated, &added, &width, &height, &mediaUpdated, &file, &partUpdated); err != nil {
			metrics.IncOwnedItemError("library")
			logger.Warn().Err(err).Str(xglog.FieldEvent, "owned.row_skipped").Msg("malformed library row")
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(title.String) == "" {
			continue
		}
		if l.underRoot(file.String) {
			underRoots++
		}

		rec := manifest.OwnershipRecord{
			Owned:      true,
			HD:         width.Int64 >= 1280 || height.Int64 >= 720,
			RecordedAt: firstTime(partUpdated, mediaUpdated, metaUpdated, added),
			Provenance: manifest.ProvenanceLibrary,
		}
		y := int(year.Int64)
		for _, t := range []string{title.String, original.String} {
			k := l.norm.Title(t, y)
			if k.IsZero() {
				continue
			}
			rec.Key = k.String()
			idx.Add(rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate library rows: %w", err)
	}

	if len(l.roots) > 0 && underRoots == 0 && len(seen) > 0 {
		logger.Info().Strs("roots", l.roots).Msg("library files are outside the configured roots, using all movies")
	}
	return idx, nil
}

func (l *Library) underRoot(path string) bool {
	for _, root := range l.roots {
		root = filepath.Clean(root)
		if root == "." || root == "" {
			continue
		}
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func firstTime(cands ...sql.NullInt64) *time.Time {
	for _, c := range cands {
		if c.Valid && c.Int64 > 0 {
			t := time.Unix(c.Int64, 0).UTC()
			return &t
		}
	}
	return nil
}
