// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package guide reads program guide entries from the mirrored guide
// database snapshot.
package guide

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/metrics"
	"github.com/ManuGH/pex/internal/normalize"
	"github.com/ManuGH/pex/internal/persistence/sqlite"
)

// ErrNoData is returned when no usable guide snapshot exists.
var ErrNoData = errors.New("guide data unavailable")

const defaultLimit = 1_000_000

// Channel is the airing channel as stored in media_items.extra_data.
type Channel struct {
	CallSign string
	Title    string
	Thumb    string
}

// Name is the humanized channel label.
func (c Channel) Name() string {
	if c.Title != "" {
		return HumanizeChannel(c.Title)
	}
	return HumanizeChannel(c.CallSign)
}

// Entry is one airing of a movie.
type Entry struct {
	ID             int64
	Title          string
	Year           int
	Key            normalize.Key
	ThumbURL       string
	BeginsAt       time.Time
	EndsAt         time.Time
	Genres         []string
	Channel        Channel
	BroadcastHD    bool
	GUID           string
	Summary        string
	AudienceRating float64
	CriticRating   float64
}

// Options tunes Load.
type Options struct {
	Limit int
	// Normalizer memoizes key derivation; nil computes directly.
	Normalizer *normalize.Cache
}

// Load reads movie airings in airtime order, one row per distinct title.
// Rows without a title or an http(s) poster URL are skipped.
func Load(ctx context.Context, path string, opts Options) ([]Entry, error) {
	logger := xglog.WithComponentFromContext(ctx, "guide")

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no snapshot at %s", ErrNoData, path)
	}
	db, err := sqlite.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoData, err)
	}
	defer db.Close()

	missing, err := sqlite.MissingTables(ctx, db, "metadata_items", "media_items")
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		for _, table := range missing {
			metrics.IncSchemaMismatch(table)
			logger.Warn().Str(xglog.FieldEvent, "guide.schema_mismatch").Str(xglog.FieldTable, table).Msg("required table missing, guide query skipped")
		}
		return nil, fmt.Errorf("%w: missing tables %s", ErrNoData, strings.Join(missing, ", "))
	}

	query, err := buildQuery(ctx, db)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query guide: %w", err)
	}
	defer rows.Close()

	var (
		entries []Entry
		seen    = make(map[string]struct{})
		skipped int
	)
	for rows.Next() {
		var (
			id                 int64
			title, thumb       sql.NullString
			begins, ends, year sql.NullInt64
			tags, extra, guid  sql.NullString
			summary            sql.NullString
			audience, critic   sql.NullFloat64
		)
		if err := rows.Scan(&id, &title, &thumb, &begins, &ends, &year, &tags, &extra, &guid, &summary, &audience, &critic); err != nil {
			skipped++
			logger.Debug().Err(err).Msg("malformed guide row skipped")
			continue
		}

		t := strings.TrimSpace(title.String)
		u := thumb.String
		if t == "" || !(strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) {
			continue
		}
		lower := strings.ToLower(t)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}

		ch := parseChannel(extra.String)
		e := Entry{
			ID:             id,
			Title:          t,
			Year:           int(year.Int64),
			Key:            opts.Normalizer.Title(t, int(year.Int64)),
			ThumbURL:       u,
			Genres:         ParseGenres(tags.String),
			Channel:        ch,
			BroadcastHD:    InferBroadcastHD(tags.String, ch.Name()),
			GUID:           guid.String,
			Summary:        summary.String,
			AudienceRating: audience.Float64,
			CriticRating:   critic.Float64,
		}
		if begins.Valid && begins.Int64 > 0 {
			e.BeginsAt = time.Unix(begins.Int64, 0).UTC()
		}
		if ends.Valid && ends.Int64 > 0 {
			e.EndsAt = time.Unix(ends.Int64, 0).UTC()
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guide rows: %w", err)
	}

	logger.Info().
		Str(xglog.FieldEvent, "guide.loaded").
		Int("entries", len(entries)).
		Int("skipped", skipped).
		Msg("guide entries loaded")
	return entries, nil
}

// buildQuery adapts to optional columns: older snapshots lack
// user_thumb_url and ends_at.
func buildQuery(ctx context.Context, db *sql.DB) (string, error) {
	hasUserThumb, err := sqlite.ColumnExists(ctx, db, "metadata_items", "user_thumb_url")
	if err != nil {
		return "", err
	}
	hasEnds, err := sqlite.ColumnExists(ctx, db, "media_items", "ends_at")
	if err != nil {
		return "", err
	}

	thumb := "m.thumb_url"
	if hasUserThumb {
		thumb = "COALESCE(NULLIF(m.user_thumb_url, ''), m.thumb_url)"
	}
	ends := "NULL"
	if hasEnds {
		ends = "mi.ends_at"
	}

	return fmt.Sprintf(`
SELECT
  m.id,
  m.title,
  %[1]s AS thumb,
  mi.begins_at,
  %[2]s,
  m.year,
  m.tags_genre,
  mi.extra_data,
  m.guid,
  m.summary,
  m.audience_rating,
  m.rating
FROM metadata_items m
LEFT JOIN media_items mi ON mi.metadata_item_id = m.id
WHERE m.metadata_type = 1
  AND COALESCE(%[1]s, '') <> ''
ORDER BY COALESCE(mi.begins_at, m.added_at) ASC
LIMIT ?`, thumb, ends), nil
}

// parseChannel extracts at:channel* keys. extra_data is usually JSON; older
// rows fall back to a plain substring scan.
func parseChannel(extra string) Channel {
	if extra == "" {
		return Channel{}
	}
	var kv map[string]any
	if err := json.Unmarshal([]byte(extra), &kv); err == nil {
		str := func(k string) string { s, _ := kv[k].(string); return s }
		return Channel{
			CallSign: str("at:channelCallSign"),
			Title:    str("at:channelTitle"),
			Thumb:    str("at:channelThumb"),
		}
	}
	return Channel{
		CallSign: findQuoted(extra, "at:channelCallSign"),
		Title:    findQuoted(extra, "at:channelTitle"),
		Thumb:    findQuoted(extra, "at:channelThumb"),
	}
}

func findQuoted(hay, key string) string {
	needle := `"` + key + `":"`
	i := strings.Index(hay, needle)
	if i < 0 {
		return ""
	}
	rest := hay[i+len(needle):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return ""
	}
	return rest[:j]
}
