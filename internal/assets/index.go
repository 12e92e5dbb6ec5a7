// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package assets

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
	"github.com/ManuGH/pex/internal/persistence/sqlite"
)

// Index persists cache bookkeeping in assets/index.db.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if needed) the index at path. A corrupt index
// is discarded; the second return value reports whether the index started
// empty and should be rebuilt from disk.
func OpenIndex(ctx context.Context, path string) (*Index, bool, error) {
	fresh := false
	switch _, err := os.Stat(path); {
	case errors.Is(err, fs.ErrNotExist):
		fresh = true
	case err != nil:
		return nil, false, fmt.Errorf("stat index: %w", err)
	default:
		if err := sqlite.CheckIntegrity(ctx, path); err != nil {
			logger := xglog.WithComponentFromContext(ctx, "assets")
			logger.Warn().
				Err(err).
				Str(xglog.FieldPath, path).
				Msg("asset index unusable, rebuilding")
			for _, p := range []string{path, path + "-wal", path + "-shm"} {
				_ = os.Remove(p)
			}
			fresh = true
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create index dir: %w", err)
	}
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, false, err
	}
	ix := &Index{db: db}
	if err := ix.migrate(); err != nil {
		_ = db.Close()
		return nil, false, fmt.Errorf("run migrations: %w", err)
	}
	return ix, fresh, nil
}

// Close closes the database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

func (ix *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		key TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL,
		fetched_at INTEGER NOT NULL DEFAULT 0,
		bytes INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL CHECK(state IN ('fetching', 'ready', 'failed', 'evicted')),
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_assets_state_fetched ON assets(state, fetched_at);
	`
	_, err := ix.db.Exec(schema)
	return err
}

// Upsert writes e.
func (ix *Index) Upsert(ctx context.Context, e Entry) error {
	query := `
	INSERT INTO assets (key, kind, url, path, fetched_at, bytes, state, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		kind = excluded.kind,
		url = CASE WHEN excluded.url = '' THEN assets.url ELSE excluded.url END,
		path = excluded.path,
		fetched_at = excluded.fetched_at,
		bytes = excluded.bytes,
		state = excluded.state,
		error = excluded.error
	`
	_, err := ix.db.ExecContext(ctx, query,
		e.Key, string(e.Kind), e.URL, e.Path, unixNano(e.FetchedAt), e.Bytes, string(e.State), e.Error)
	if err != nil {
		return fmt.Errorf("upsert asset %s: %w", e.Key, err)
	}
	return nil
}

// SetState changes the state of key, keeping everything else.
func (ix *Index) SetState(ctx context.Context, key string, st State, reason string) error {
	_, err := ix.db.ExecContext(ctx, `UPDATE assets SET state = ?, error = ? WHERE key = ?`, string(st), reason, key)
	if err != nil {
		return fmt.Errorf("set asset state %s: %w", key, err)
	}
	return nil
}

// Get returns the entry for key.
func (ix *Index) Get(ctx context.Context, key string) (Entry, bool, error) {
	row := ix.db.QueryRowContext(ctx, selectEntry+` WHERE key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// ByState lists entries in state, oldest fetch first.
func (ix *Index) ByState(ctx context.Context, st State) ([]Entry, error) {
	rows, err := ix.db.QueryContext(ctx, selectEntry+` WHERE state = ? ORDER BY fetched_at, key`, string(st))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Summary counts ready entries and their bytes.
func (ix *Index) Summary(ctx context.Context) (entries int, bytes int64, err error) {
	err = ix.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(bytes), 0) FROM assets WHERE state = 'ready'`).Scan(&entries, &bytes)
	return entries, bytes, err
}

const selectEntry = `SELECT key, kind, url, path, fetched_at, bytes, state, error FROM assets`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e       Entry
		kind    string
		state   string
		fetched int64
	)
	if err := r.Scan(&e.Key, &kind, &e.URL, &e.Path, &fetched, &e.Bytes, &state, &e.Error); err != nil {
		return Entry{}, err
	}
	e.Kind = Kind(kind)
	e.State = State(state)
	if fetched > 0 {
		e.FetchedAt = time.Unix(0, fetched).UTC()
	}
	return e, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// Reconcile brings the index in line with the files on disk: cached files
// missing from the index are added as ready (fetch time = file mtime) and
// ready entries whose file vanished become evicted.
func (ix *Index) Reconcile(ctx context.Context, dirs map[Kind]string) (added, dropped int, err error) {
	for kind, dir := range dirs {
		ents, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return added, dropped, fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, de := range ents {
			if err := ctx.Err(); err != nil {
				return added, dropped, err
			}
			name := de.Name()
			if !de.Type().IsRegular() || strings.HasPrefix(name, ".") || filepath.Ext(name) != kind.ext() {
				continue
			}
			info, err := de.Info()
			if err != nil || info.Size() == 0 {
				continue
			}
			key := strings.TrimSuffix(name, kind.ext())
			if _, ok, err := ix.Get(ctx, key); err != nil {
				return added, dropped, err
			} else if ok {
				continue
			}
			if err := ix.Upsert(ctx, Entry{
				Key:       key,
				Kind:      kind,
				Path:      filepath.Join(dir, name),
				FetchedAt: info.ModTime(),
				Bytes:     info.Size(),
				State:     StateReady,
			}); err != nil {
				return added, dropped, err
			}
			added++
		}
	}

	ready, err := ix.ByState(ctx, StateReady)
	if err != nil {
		return added, dropped, err
	}
	for _, e := range ready {
		if _, statErr := os.Stat(e.Path); statErr == nil {
			continue
		}
		if err := ix.SetState(ctx, e.Key, StateEvicted, "file missing"); err != nil {
			return added, dropped, err
		}
		dropped++
	}
	return added, dropped, nil
}
