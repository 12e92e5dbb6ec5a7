// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline runs mirror, ownership, schedule and artwork stages on a
// bounded worker pool and reports them to a consumer that never blocks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/pex/internal/assets"
	"github.com/ManuGH/pex/internal/config"
	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/manifest"
	"github.com/ManuGH/pex/internal/metrics"
	"github.com/ManuGH/pex/internal/mirror"
	"github.com/ManuGH/pex/internal/normalize"
	"github.com/ManuGH/pex/internal/owned"
	"github.com/ManuGH/pex/internal/pipeline/fsm"
	"github.com/ManuGH/pex/internal/telemetry"
	"github.com/ManuGH/pex/internal/workspace"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyManifest is returned by RefreshHD before any resolve has run.
var ErrEmptyManifest = errors.New("owned manifest is empty")

// Deps are the stage collaborators.
type Deps struct {
	Workspace  *workspace.Workspace
	Config     config.AppConfig
	Mirror     *mirror.Controller
	Owned      *owned.Service
	Assets     *assets.Manager
	Normalizer *normalize.Cache
	Now        func() time.Time
}

type stageFunc func(ctx context.Context, in input) Message

// input is what a stage task gets from the consumer at dispatch.
type input struct {
	gen     uint64
	runID   string
	base    *manifest.Manifest // read-only; stages clone before writing
	mirrors []mirror.Result
	rows    []Row
	cfg     config.AppConfig
}

// Orchestrator owns one pipeline. Start, Poll, Cancel and Snapshot are safe
// to call from any goroutine but are meant for a single consumer.
type Orchestrator struct {
	deps    Deps
	workers int
	pool    errgroup.Group
	msgs    chan Message
	gen     atomic.Uint64
	stages  map[Stage]stageFunc
	saveMu  sync.Mutex
	logger  zerolog.Logger
	bridge  *assets.Bridge
	now     func() time.Time

	mu       sync.Mutex
	machine  *fsm.Machine[State, Event]
	cancel   context.CancelFunc
	runCtx   context.Context
	runID    string
	backlog  []func() error
	manifest *manifest.Manifest
	mirrors  []mirror.Result
	view     View
}

// New loads the manifest and builds the orchestrator. A corrupt or
// outdated manifest is discarded and rebuilt by the next run.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Workspace == nil:
		return nil, errors.New("pipeline: workspace required")
	case deps.Mirror == nil:
		return nil, errors.New("pipeline: mirror controller required")
	case deps.Owned == nil:
		return nil, errors.New("pipeline: owned service required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := xglog.WithComponent("pipeline")

	m, err := manifest.Load(deps.Workspace.ManifestPath)
	switch {
	case errors.Is(err, manifest.ErrCorrupt), errors.Is(err, manifest.ErrSchemaMismatch):
		logger.Warn().Err(err).Str(xglog.FieldPath, deps.Workspace.ManifestPath).Msg("manifest reset")
	case err != nil:
		return nil, fmt.Errorf("%w: load manifest: %w", workspace.ErrStorage, err)
	}

	workers := deps.Config.Pipeline.Workers
	if workers <= 0 {
		workers = config.DefaultPipelineWorkers
	}
	buffer := deps.Config.Pipeline.MessageBuffer
	if buffer <= 0 {
		buffer = config.DefaultMessageBuffer
	}

	o := &Orchestrator{
		deps:     deps,
		workers:  workers,
		msgs:     make(chan Message, buffer),
		logger:   logger,
		now:      deps.Now,
		manifest: m,
		view:     View{State: StateIdle, ManifestVersion: m.Version},
	}
	o.machine, err = fsm.New(StateIdle, transitions(), o.logTransition)
	if err != nil {
		return nil, err
	}
	o.pool.SetLimit(workers)
	if deps.Assets != nil {
		o.bridge = assets.NewBridge(deps.Assets)
	}
	o.stages = map[Stage]stageFunc{
		StageMirror:  o.mirrorStage,
		StageResolve: o.resolveStage,
		StageMerge:   o.mergeStage,
		StageFetch:   o.fetchStage,
	}
	return o, nil
}

func transitions() []fsm.Transition[State, Event] {
	ts := []fsm.Transition[State, Event]{
		{From: StateIdle, Event: EventStart, To: StateMirrorInFlight},
		{From: StateMirrorInFlight, Event: EventMirrorDone, To: StateResolvingOwnership},
		{From: StateResolvingOwnership, Event: EventResolveDone, To: StateMergingSchedule},
		{From: StateMergingSchedule, Event: EventMergeDone, To: StateFetchingAssets},
		{From: StateFetchingAssets, Event: EventFetchDone, To: StateSettled},
	}
	for _, s := range []State{StateIdle, StateMirrorInFlight, StateResolvingOwnership, StateMergingSchedule, StateFetchingAssets} {
		ts = append(ts, fsm.Transition[State, Event]{From: s, Event: EventCancel, To: StateCancelled})
	}
	return ts
}

// Bridge is the texture upload bridge, nil without an asset manager.
func (o *Orchestrator) Bridge() *assets.Bridge { return o.bridge }

// Generation is the current generation counter.
func (o *Orchestrator) Generation() uint64 { return o.gen.Load() }

// Start begins a new run. The previous run is cancelled and its messages
// are discarded when they arrive.
func (o *Orchestrator) Start(parent context.Context) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	gen := o.gen.Add(1)
	runID := uuid.NewString()

	ctx := xglog.ContextWithRunID(parent, runID)
	ctx = xglog.ContextWithGeneration(ctx, gen)
	ctx, cancel := context.WithCancel(ctx)
	o.runCtx, o.cancel, o.runID = ctx, cancel, runID
	o.backlog = nil

	o.machine.Reset()
	o.fireLocked(EventStart)
	o.view.Generation = gen
	o.view.RunID = runID
	o.view.Blocking = false
	o.view.Warnings = nil
	o.view.Status = "Stage 1/4 - Refreshing local database snapshots."
	metrics.RecordGeneration(gen)

	logger := xglog.WithContext(ctx, o.logger)
	logger.Info().
		Str(xglog.FieldEvent, "pipeline.start").
		Msg("pipeline run started")

	o.dispatchLocked(StageMirror, input{gen: gen, runID: runID, base: o.manifest})
	return gen
}

// Reconfigure swaps the configuration seen by stages dispatched from now on.
// Callers normally follow up with Start.
func (o *Orchestrator) Reconfigure(cfg config.AppConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deps.Config = cfg
}

// Cancel stops the current run.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked("Cancelled.")
}

func (o *Orchestrator) cancelLocked(status string) {
	if o.cancel != nil {
		o.cancel()
	}
	o.backlog = nil
	if o.machine.Can(EventCancel) {
		o.fireLocked(EventCancel)
	}
	o.view.Status = status
}

// Close cancels the current run and waits for in-flight workers.
func (o *Orchestrator) Close() {
	o.Cancel()
	_ = o.pool.Wait()
}

// Poll applies up to budget pending messages without blocking and returns
// how many belonged to the current generation.
func (o *Orchestrator) Poll(budget int) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.flushBacklogLocked()

	applied := 0
	for i := 0; i < budget; i++ {
		select {
		case msg := <-o.msgs:
			if msg.Generation != o.gen.Load() {
				metrics.IncStaleMessageDropped()
				o.logger.Debug().
					Uint64("message_generation", msg.Generation).
					Str(xglog.FieldStage, string(msg.Stage)).
					Msg("stale message dropped")
				continue
			}
			o.applyLocked(msg)
			applied++
		default:
			return applied
		}
	}
	return applied
}

// Snapshot returns a copy of the current view.
func (o *Orchestrator) Snapshot() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	v := o.view
	v.State = o.machine.State()
	v.Rows = append([]Row(nil), o.view.Rows...)
	v.Mirrors = append([]mirror.Result(nil), o.view.Mirrors...)
	v.Warnings = append([]string(nil), o.view.Warnings...)
	return v
}

func (o *Orchestrator) fireLocked(ev Event) bool {
	to, err := o.machine.Fire(ev)
	if err != nil {
		o.logger.Debug().Err(err).Msg("transition rejected")
		return false
	}
	o.view.State = to
	return true
}

func (o *Orchestrator) logTransition(from, to State, ev Event) {
	o.logger.Info().
		Str(xglog.FieldEvent, "pipeline.transition").
		Str(xglog.FieldOldState, string(from)).
		Str(xglog.FieldNewState, string(to)).
		Str("trigger", string(ev)).
		Uint64(xglog.FieldGeneration, o.gen.Load()).
		Msg("pipeline state changed")
}

func (o *Orchestrator) dispatchLocked(stage Stage, in input) {
	ctx := o.runCtx
	in.cfg = o.deps.Config
	task := func() error {
		msg := o.runStage(ctx, stage, in)
		o.send(ctx, msg)
		return nil
	}
	if !o.pool.TryGo(task) {
		o.backlog = append(o.backlog, task)
	}
}

func (o *Orchestrator) flushBacklogLocked() {
	for len(o.backlog) > 0 && o.pool.TryGo(o.backlog[0]) {
		o.backlog = o.backlog[1:]
	}
}

func (o *Orchestrator) runStage(ctx context.Context, stage Stage, in input) Message {
	ctx, span := telemetry.StartStage(ctx, in.runID, in.gen, string(stage))
	start := time.Now()

	msg := o.stages[stage](ctx, in)
	msg.Generation, msg.Stage = in.gen, stage
	if msg.Outcome == "" {
		msg.Outcome = OutcomeOK
	}

	telemetry.EndStage(span, string(msg.Outcome), msg.Err)
	metrics.ObserveStage(string(stage), string(msg.Outcome), time.Since(start).Seconds())
	return msg
}

// send blocks until the consumer has room or the run is superseded.
func (o *Orchestrator) send(ctx context.Context, msg Message) {
	select {
	case o.msgs <- msg:
	case <-ctx.Done():
		metrics.IncStaleMessageDropped()
	}
}

func (o *Orchestrator) applyLocked(msg Message) {
	logger := o.logger.With().
		Str(xglog.FieldRunID, o.runID).
		Str(xglog.FieldStage, string(msg.Stage)).
		Str(xglog.FieldOutcome, string(msg.Outcome)).
		Logger()

	if o.machine.Terminal() {
		return
	}
	if msg.Outcome == OutcomeProgress {
		if p, ok := msg.Payload.(fetchProgress); ok {
			o.view.Status = fmt.Sprintf("Stage 4/4 - Artwork cache progress: %d/%d.", p.done, p.total)
		}
		return
	}
	if msg.Outcome == OutcomeCancelled {
		return
	}
	if msg.Err != nil {
		logger.Warn().Err(msg.Err).Msg("stage reported errors")
	}

	switch msg.Stage {
	case StageMirror:
		p, _ := msg.Payload.(mirrorPayload)
		o.mirrors = p.results
		o.view.Mirrors = p.results
		o.view.Status = "Stage 1/4 - Local snapshots ready."
		if w := mirrorWarning(p.results); w != "" {
			o.view.Status = "Stage 1/4 - " + w
			o.warnLocked(w)
		}
		if o.fireLocked(EventMirrorDone) {
			o.view.Status = "Stage 2/4 - Loading guide and resolving owned titles."
			o.dispatchLocked(StageResolve, input{gen: msg.Generation, runID: o.runID, base: o.manifest, mirrors: o.mirrors})
		}

	case StageResolve:
		if msg.Outcome == OutcomeFailed && errors.Is(msg.Err, workspace.ErrStorage) {
			o.view.Blocking = true
			o.cancelLocked(fmt.Sprintf("Local storage failure: %v", msg.Err))
			return
		}
		p, _ := msg.Payload.(resolvePayload)
		if p.manifest != nil {
			o.manifest = p.manifest
			o.view.ManifestVersion = p.manifest.Version
		}
		o.view.Rows = p.rows
		o.view.Owned, o.view.OwnedHD = p.owned, p.ownedHD
		if len(p.rows) == 0 {
			o.view.Status = "No guide data available yet; check the guide source."
			o.warnLocked(o.view.Status)
		}
		if o.fireLocked(EventResolveDone) {
			o.dispatchLocked(StageMerge, input{gen: msg.Generation, runID: o.runID, base: o.manifest, rows: cloneRows(p.rows)})
		}

	case StageMerge:
		p, _ := msg.Payload.(mergePayload)
		if msg.Outcome == OutcomePartial {
			o.warnLocked("Some scheduled recordings could not be read.")
		}
		o.view.Scheduled = 0
		for i := range o.view.Rows {
			rec, ok := p.recordings[o.view.Rows[i].ID]
			if !ok {
				o.view.Rows[i].Scheduled = ""
				continue
			}
			o.view.Rows[i].Scheduled = rec.State
			o.view.Scheduled++
		}
		if o.fireLocked(EventMergeDone) {
			o.view.Status = fmt.Sprintf("Stage 4/4 - Caching artwork for %d entries.", len(o.view.Rows))
			o.dispatchLocked(StageFetch, input{gen: msg.Generation, runID: o.runID, base: o.manifest, rows: cloneRows(o.view.Rows)})
		}

	case StageFetch:
		p, _ := msg.Payload.(fetchPayload)
		if p.manifest != nil {
			o.manifest = p.manifest
		}
		for i := range o.view.Rows {
			if st, ok := p.states[o.view.Rows[i].PosterKey]; ok {
				o.view.Rows[i].Poster = st
			}
		}
		o.view.Fetched, o.view.FetchFailed = p.ok, p.failed
		o.view.CacheEntries = p.evicted.Entries
		if o.fireLocked(EventFetchDone) {
			status := fmt.Sprintf("Ready: %d entries, %d owned (%d HD), %d scheduled, artwork %d cached / %d failed.",
				len(o.view.Rows), o.view.Owned, o.view.OwnedHD, o.view.Scheduled, p.ok, p.failed)
			if len(o.view.Warnings) > 0 {
				status += " Warning: " + strings.Join(o.view.Warnings, " ")
			}
			o.view.Status = status
		}
	}
}

// warnLocked records a run warning; it stays in the final status.
func (o *Orchestrator) warnLocked(w string) {
	if slices.Contains(o.view.Warnings, w) {
		return
	}
	o.view.Warnings = append(o.view.Warnings, w)
}

func mirrorWarning(results []mirror.Result) string {
	failed := 0
	for _, r := range results {
		if r.Outcome == mirror.OutcomeFailed {
			failed++
		}
	}
	if failed == 0 {
		return ""
	}
	return fmt.Sprintf("%d of %d sources unavailable; using existing snapshots.", failed, len(results))
}

func cloneRows(rows []Row) []Row {
	return append([]Row(nil), rows...)
}

// RefreshHD re-classifies owned files from the manifest without a walk and
// persists the result. It must not overlap a run's resolve stage.
func (o *Orchestrator) RefreshHD(ctx context.Context) (bool, error) {
	o.mu.Lock()
	base := o.manifest
	o.mu.Unlock()

	if len(base.Ownership) == 0 {
		return false, ErrEmptyManifest
	}
	next := base.Clone()
	idx, changed, err := o.deps.Owned.RefreshHD(ctx, next)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	owned.Apply(next, idx, o.now())

	o.saveMu.Lock()
	err = next.Save(o.deps.Workspace.ManifestPath)
	o.saveMu.Unlock()
	if err != nil {
		return false, fmt.Errorf("%w: save manifest: %w", workspace.ErrStorage, err)
	}
	if err := owned.WriteSidecars(o.deps.Workspace.OwnedAllPath, o.deps.Workspace.OwnedHDPath, next); err != nil {
		o.logger.Warn().Err(err).Msg("sidecars not written")
	}

	o.mu.Lock()
	o.manifest = next
	o.view.ManifestVersion = next.Version
	o.mu.Unlock()
	return true, nil
}
