// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package testutil builds sqlite fixtures shaped like the mirrored guide
// and library databases.
package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// Tables used by the guide loader.
var GuideSchema = []string{
	`CREATE TABLE metadata_items (
		id INTEGER PRIMARY KEY,
		metadata_type INTEGER,
		title TEXT,
		original_title TEXT,
		year INTEGER,
		tags_genre TEXT,
		guid TEXT,
		summary TEXT,
		audience_rating REAL,
		rating REAL,
		thumb_url TEXT,
		user_thumb_url TEXT,
		added_at INTEGER,
		updated_at INTEGER
	)`,
	`CREATE TABLE media_items (
		id INTEGER PRIMARY KEY,
		metadata_item_id INTEGER,
		width INTEGER,
		height INTEGER,
		begins_at INTEGER,
		ends_at INTEGER,
		extra_data TEXT,
		updated_at INTEGER
	)`,
}

// Tables used by the library strategy and the schedule loader.
var LibrarySchema = append(append([]string(nil), GuideSchema...),
	`CREATE TABLE media_parts (
		id INTEGER PRIMARY KEY,
		media_item_id INTEGER,
		file TEXT,
		size INTEGER,
		updated_at INTEGER
	)`,
	`CREATE TABLE media_grabs (
		id INTEGER PRIMARY KEY,
		status INTEGER,
		extra_data TEXT
	)`,
	`CREATE TABLE media_subscriptions (
		id INTEGER PRIMARY KEY,
		extra_data TEXT
	)`,
	`CREATE TABLE metadata_subscription_desired_items (
		id INTEGER PRIMARY KEY,
		remote_id TEXT
	)`,
)

// SQLiteFixture creates a database at path (parent dirs included), runs
// stmts in order and closes it so the file can be opened read-only.
func SQLiteFixture(t *testing.T, path string, stmts ...string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("fixture dir: %v", err)
	}
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("fixture open: %v", err)
	}
	defer db.Close()
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("fixture exec %q: %v", stmt, err)
		}
	}
	return path
}

// Concat joins statement lists.
func Concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
