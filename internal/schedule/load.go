// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package schedule reads scheduled recordings from the mirrored library
// database and flags the guide entries they refer to.
package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/metrics"
	"github.com/ManuGH/pex/internal/normalize"
	"github.com/ManuGH/pex/internal/persistence/sqlite"
	"github.com/rs/zerolog"
)

// ErrNoData is returned when no library snapshot exists.
var ErrNoData = errors.New("schedule data unavailable")

// State of a guide entry with respect to recording.
type State string

const (
	StateNone    State = "none"
	StatePending State = "pending"
	StateActive  State = "active"
)

func (s State) rank() int {
	switch s {
	case StateActive:
		return 2
	case StatePending:
		return 1
	default:
		return 0
	}
}

// Slot is a title airing someone asked to record.
type Slot struct {
	Key   normalize.Key
	At    time.Time
	State State
}

// Set is everything scheduled, by guid and by title slot.
type Set struct {
	GUIDs map[string]State
	Slots []Slot
}

// Len counts guids plus slots.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.GUIDs) + len(s.Slots)
}

func (s *Set) addGUID(guid string, st State) {
	if prev, ok := s.GUIDs[guid]; ok && prev.rank() >= st.rank() {
		return
	}
	s.GUIDs[guid] = st
}

// Active grab statuses are 2 and 3; 0 and 1 are pending.
const grabsQuery = `
SELECT status, extra_data
FROM media_grabs
WHERE extra_data IS NOT NULL
  AND status IN (0, 1, 2, 3)`

// Options tunes Load.
type Options struct {
	// PastLimit drops airings that began longer ago than this.
	PastLimit  time.Duration
	Normalizer *normalize.Cache
}

type loader struct {
	db     *sql.DB
	now    time.Time
	opts   Options
	set    *Set
	logger zerolog.Logger
}

// Load reads grabs, subscriptions and desired items. Each missing table is
// a schema warning; the remaining sources still load. A source that fails
// outright is logged and skipped too: the partial set is returned together
// with the joined source errors.
func Load(ctx context.Context, path string, now time.Time, opts Options) (*Set, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no library snapshot configured", ErrNoData)
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no snapshot at %s", ErrNoData, path)
	}
	db, err := sqlite.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoData, err)
	}
	defer db.Close()

	if opts.PastLimit <= 0 {
		opts.PastLimit = 24 * time.Hour
	}
	l := &loader{
		db:     db,
		now:    now,
		opts:   opts,
		set:    &Set{GUIDs: make(map[string]State)},
		logger: xglog.WithComponentFromContext(ctx, "schedule"),
	}

	steps := []struct {
		table string
		load  func(context.Context) error
	}{
		{"media_grabs", l.grabs},
		{"media_subscriptions", l.subscriptions},
		{"metadata_subscription_desired_items", l.desired},
	}
	var errs []error
	for _, step := range steps {
		if ctx.Err() != nil {
			return l.set, ctx.Err()
		}
		ok, err := sqlite.TableExists(ctx, db, step.table)
		if err == nil && !ok {
			metrics.IncSchemaMismatch(step.table)
			l.logger.Warn().Str(xglog.FieldEvent, "schedule.schema_mismatch").Str(xglog.FieldTable, step.table).Msg("table missing, source skipped")
			continue
		}
		if err == nil {
			err = step.load(ctx)
		}
		if err != nil {
			l.logger.Warn().Err(err).Str(xglog.FieldEvent, "schedule.source_failed").Str(xglog.FieldTable, step.table).Msg("source skipped")
			errs = append(errs, fmt.Errorf("load %s: %w", step.table, err))
		}
	}
	return l.set, errors.Join(errs...)
}

func (l *loader) tooOld(at time.Time) bool {
	return at.Add(l.opts.PastLimit).Before(l.now)
}

func (l *loader) grabs(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, grabsQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status int
			blob   sql.NullString
		)
		if err := rows.Scan(&status, &blob); err != nil || strings.TrimSpace(blob.String) == "" {
			continue
		}
		var extra map[string]any
		if err := json.Unmarshal([]byte(blob.String), &extra); err != nil {
			l.logger.Warn().Err(err).Str(xglog.FieldEvent, "schedule.row_skipped").Msg("unparsable media_grabs.extra_data")
			continue
		}
		begins, err := strconv.ParseInt(stringField(extra, "me:beginsAt"), 10, 64)
		if err != nil {
			continue
		}
		at := time.Unix(begins, 0).UTC()
		if l.tooOld(at) {
			continue
		}

		st := StatePending
		if status == 2 || status == 3 {
			st = StateActive
		}
		if guid := stringField(extra, "mt:guid"); guid != "" {
			l.set.addGUID(guid, st)
			continue
		}
		if key := stringField(extra, "mt:key"); key != "" {
			if decoded, ok := decodeMetadataKey(key); ok {
				l.set.addGUID(decoded, st)
				continue
			}
		}
		title := stringField(extra, "mt:title")
		if strings.TrimSpace(title) == "" {
			continue
		}
		y, _ := strconv.Atoi(strings.TrimSpace(stringField(extra, "mt:year")))
		l.addSlot(title, y, at, st)
	}
	return rows.Err()
}

func (l *loader) subscriptions(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, `SELECT extra_data FROM media_subscriptions WHERE extra_data IS NOT NULL`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var blob sql.NullString
		if err := rows.Scan(&blob); err != nil || strings.TrimSpace(blob.String) == "" {
			continue
		}
		var extra map[string]any
		if err := json.Unmarshal([]byte(blob.String), &extra); err != nil {
			l.logger.Warn().Err(err).Str(xglog.FieldEvent, "schedule.row_skipped").Msg("unparsable media_subscriptions.extra_data")
			continue
		}
		if guid := stringField(extra, "hi:guid"); guid != "" {
			l.set.addGUID(guid, StatePending)
		}
		title := stringField(extra, "hi:title")
		if title == "" {
			continue
		}
		year, _ := strconv.Atoi(stringField(extra, "hi:year"))

		raw, err := url.PathUnescape(stringField(extra, "pv:airingTimes"))
		if err != nil {
			continue
		}
		for _, ts := range strings.Split(raw, ",") {
			sec, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
			if err != nil {
				continue
			}
			at := time.Unix(sec, 0).UTC()
			if l.tooOld(at) {
				continue
			}
			l.addSlot(title, year, at, StatePending)
		}
	}
	return rows.Err()
}

func (l *loader) desired(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, `SELECT remote_id FROM metadata_subscription_desired_items`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var remote sql.NullString
		if err := rows.Scan(&remote); err != nil || strings.TrimSpace(remote.String) == "" {
			continue
		}
		decoded, err := url.PathUnescape(remote.String)
		if err != nil {
			l.logger.Warn().Err(err).Str("remote_id", remote.String).Msg("undecodable desired item")
			continue
		}
		l.set.addGUID(decoded, StatePending)
	}
	return rows.Err()
}

func (l *loader) addSlot(title string, year int, at time.Time, st State) {
	k := l.opts.Normalizer.Title(title, year)
	if k.IsZero() {
		return
	}
	l.set.Slots = append(l.set.Slots, Slot{Key: k, At: at, State: st})
}

// decodeMetadataKey turns "/library/metadata/plex%3A%2F%2Fmovie%2Fabc" into
// the guid "plex://movie/abc".
func decodeMetadataKey(key string) (string, bool) {
	_, encoded, ok := strings.Cut(key, "/metadata/")
	if !ok || encoded == "" {
		return "", false
	}
	decoded, err := url.PathUnescape(encoded)
	if err != nil {
		return "", false
	}
	return decoded, true
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}
