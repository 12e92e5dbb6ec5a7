// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"time"

	"github.com/ManuGH/pex/internal/assets"
	"github.com/ManuGH/pex/internal/guide"
	"github.com/ManuGH/pex/internal/manifest"
	"github.com/ManuGH/pex/internal/mirror"
	"github.com/ManuGH/pex/internal/normalize"
	"github.com/ManuGH/pex/internal/schedule"
)

// State is the pipeline run state.
type State string

const (
	StateIdle               State = "idle"
	StateMirrorInFlight     State = "mirror_in_flight"
	StateResolvingOwnership State = "resolving_ownership"
	StateMergingSchedule    State = "merging_schedule"
	StateFetchingAssets     State = "fetching_assets"
	StateSettled            State = "settled"
	StateCancelled          State = "cancelled"
)

// Terminal reports whether no further stage runs in this state.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateCancelled
}

// Event drives the run state machine.
type Event string

const (
	EventStart       Event = "start"
	EventMirrorDone  Event = "mirror_done"
	EventResolveDone Event = "resolve_done"
	EventMergeDone   Event = "merge_done"
	EventFetchDone   Event = "fetch_done"
	EventCancel      Event = "cancel"
)

// Stage identifies the task a message comes from.
type Stage string

const (
	StageMirror  Stage = "mirror"
	StageResolve Stage = "resolve"
	StageMerge   Stage = "merge"
	StageFetch   Stage = "fetch"
)

// Outcome of a stage.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomePartial   Outcome = "partial"
	OutcomeNoData    Outcome = "no_data"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeProgress is an intermediate report; the stage is still running.
	OutcomeProgress Outcome = "progress"
)

// Message is what a worker reports to the consumer.
type Message struct {
	Generation uint64
	Stage      Stage
	Outcome    Outcome
	Err        error
	Payload    any
}

// Row is one guide entry with everything the pipeline learned about it.
type Row struct {
	guide.Entry

	Owned      bool
	OwnedHD    bool
	OwnedKey   string
	RecordedAt *time.Time
	Confidence normalize.Confidence

	Scheduled schedule.State

	PosterKey string
	Poster    assets.State
	IconKey   string
}

// Upgrade is true when the airing is HD and the owned copy is not.
func (r Row) Upgrade() bool {
	return r.Owned && !r.OwnedHD && r.BroadcastHD
}

// View is a read-only copy of the pipeline state for the consumer.
type View struct {
	Generation      uint64
	RunID           string
	State           State
	Status          string
	Warnings        []string
	Blocking        bool
	Rows            []Row
	Mirrors         []mirror.Result
	Owned           int
	OwnedHD         int
	Scheduled       int
	Fetched         int
	FetchFailed     int
	CacheEntries    int
	ManifestVersion uint64
}

type mirrorPayload struct {
	results []mirror.Result
}

type resolvePayload struct {
	rows     []Row
	owned    int
	ownedHD  int
	manifest *manifest.Manifest
}

type mergePayload struct {
	recordings map[int64]schedule.Recording
}

type fetchProgress struct {
	done, total int
}

type fetchPayload struct {
	states   map[string]assets.State
	ok       int
	failed   int
	evicted  assets.EvictReport
	manifest *manifest.Manifest
}
