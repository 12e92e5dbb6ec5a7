// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/pex/internal/assets"
	"github.com/ManuGH/pex/internal/guide"
	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/manifest"
	"github.com/ManuGH/pex/internal/mirror"
	"github.com/ManuGH/pex/internal/owned"
	"github.com/ManuGH/pex/internal/schedule"
	"github.com/ManuGH/pex/internal/telemetry"
	"github.com/ManuGH/pex/internal/workspace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// progressEvery is how many finished fetches make one progress message.
const progressEvery = 25

func cancelled(err error) Message {
	return Message{Outcome: OutcomeCancelled, Err: err}
}

func (o *Orchestrator) mirrorStage(ctx context.Context, in input) Message {
	ws := o.deps.Workspace
	sources := []mirror.Source{
		{Name: "guide", Path: in.cfg.Guide.Source, Target: ws.GuideDB},
		{Name: "library", Path: in.cfg.Library.Source, Target: ws.LibraryDB},
	}
	results := o.deps.Mirror.SyncAll(ctx, sources...)
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	span := trace.SpanFromContext(ctx)
	var errs []error
	for _, r := range results {
		span.SetAttributes(attribute.String(telemetry.SourceKey+"."+r.Source, string(r.Outcome)))
		if r.Outcome == mirror.OutcomeFailed {
			errs = append(errs, fmt.Errorf("%s: %w", r.Source, r.Err))
		}
		if r.Bytes > 0 {
			span.SetAttributes(attribute.Int64(telemetry.BytesKey+"."+r.Source, r.Bytes))
		}
	}

	outcome := OutcomeOK
	if len(errs) > 0 {
		outcome = OutcomePartial
	}
	return Message{Outcome: outcome, Err: errors.Join(errs...), Payload: mirrorPayload{results: results}}
}

func (o *Orchestrator) resolveStage(ctx context.Context, in input) Message {
	ws := o.deps.Workspace
	logger := xglog.WithComponentFromContext(ctx, "pipeline")
	next := in.base.Clone()

	var (
		entries  []guide.Entry
		idx      owned.Index
		guideErr error
		ownedErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	g.Go(func() error {
		entries, guideErr = guide.Load(gctx, ws.GuideDB, guide.Options{Normalizer: o.deps.Normalizer})
		return nil
	})
	g.Go(func() error {
		idx, ownedErr = o.deps.Owned.Resolve(gctx, next)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	if guideErr != nil {
		logger.Warn().Err(guideErr).Str(xglog.FieldEvent, "pipeline.guide_unavailable").Msg("guide not loaded")
	}
	if ownedErr != nil {
		// The previous ownership stays in place.
		logger.Warn().Err(ownedErr).Str(xglog.FieldEvent, "pipeline.owned_unavailable").Msg("ownership not resolved")
	}

	now := o.now()
	if idx != nil {
		owned.Apply(next, idx, now)
	}
	for _, r := range in.mirrors {
		if r.Outcome == mirror.OutcomeCopied {
			next.Mirrors[r.Source] = now
		}
	}

	saved, err := o.save(in.gen, next, in.base)
	if err != nil {
		return Message{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: save manifest: %w", workspace.ErrStorage, err)}
	}
	if saved && idx != nil {
		if err := owned.WriteSidecars(ws.OwnedAllPath, ws.OwnedHDPath, next); err != nil {
			logger.Warn().Err(err).Msg("sidecars not written")
		}
	}

	rows := buildRows(entries, owned.NewMatcher(next.Ownership))
	all, hd := owned.Index(next.Ownership).Counts()
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int(telemetry.OwnedCountKey, all),
		attribute.Int(telemetry.OwnedHDKey, hd),
		attribute.String(telemetry.StrategyKey, string(o.deps.Owned.Kind())),
	)

	outcome := OutcomeOK
	switch {
	case guideErr == nil && ownedErr == nil:
	case len(entries) == 0:
		outcome = OutcomeNoData
	default:
		outcome = OutcomePartial
	}
	return Message{
		Outcome: outcome,
		Err:     errors.Join(guideErr, ownedErr),
		Payload: resolvePayload{rows: rows, owned: all, ownedHD: hd, manifest: next},
	}
}

func buildRows(entries []guide.Entry, matcher *owned.Matcher) []Row {
	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		r := Row{Entry: e}
		if e.ThumbURL != "" {
			r.PosterKey = assets.KeyFor(e.ThumbURL)
		}
		if e.Channel.Thumb != "" {
			r.IconKey = assets.KeyFor(e.Channel.Thumb)
		}
		if hit, ok := matcher.Lookup(e.Title, e.Year); ok {
			r.Owned = true
			r.OwnedHD = hit.Record.HD
			r.OwnedKey = hit.Record.Key
			r.RecordedAt = hit.Record.RecordedAt
			r.Confidence = hit.Confidence
		}
		rows = append(rows, r)
	}
	return rows
}

func (o *Orchestrator) mergeStage(ctx context.Context, in input) Message {
	ws := o.deps.Workspace
	set, err := schedule.Load(ctx, ws.LibraryDB, o.now(), schedule.Options{
		PastLimit:  ws.SchedulePast,
		Normalizer: o.deps.Normalizer,
	})
	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}

	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomePartial
		if errors.Is(err, schedule.ErrNoData) {
			outcome = OutcomeNoData
		}
	}

	entries := make([]guide.Entry, len(in.rows))
	for i, r := range in.rows {
		entries[i] = r.Entry
	}
	recs := schedule.Merge(entries, set, ws.AirtimeTolerance)
	return Message{Outcome: outcome, Err: err, Payload: mergePayload{recordings: recs}}
}

// requestsFor builds poster requests per row and one icon request per
// channel artwork URL.
func requestsFor(rows []Row) []assets.Request {
	var reqs []assets.Request
	icons := make(map[string]bool)
	for _, r := range rows {
		if r.PosterKey != "" {
			reqs = append(reqs, assets.Request{Kind: assets.KindPoster, Key: r.PosterKey, URL: r.ThumbURL, AirsAt: r.BeginsAt})
		}
		if r.IconKey != "" && !icons[r.IconKey] {
			icons[r.IconKey] = true
			reqs = append(reqs, assets.Request{Kind: assets.KindIcon, Key: r.IconKey, URL: r.Channel.Thumb, AirsAt: r.BeginsAt})
		}
	}
	return reqs
}

func (o *Orchestrator) fetchStage(ctx context.Context, in input) Message {
	m := o.deps.Assets
	if m == nil {
		return Message{Outcome: OutcomeOK, Payload: fetchPayload{}}
	}
	now := o.now()
	var errs []error

	// Expired entries go first so the prefetch below never serves them.
	rep, err := m.Evict(ctx, now)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		errs = append(errs, fmt.Errorf("evict: %w", err))
	}

	reqs := assets.Prioritize(requestsFor(in.rows), now)
	workers := in.cfg.Assets.Workers
	states := make(map[string]assets.State, len(reqs))
	var ok, failed int
	for res := range assets.NewPrefetcher(m, workers).Run(ctx, reqs) {
		if res.Err != nil {
			failed++
			states[res.Request.Key] = assets.StateFailed
			if len(errs) < 5 {
				errs = append(errs, res.Err)
			}
		} else {
			ok++
			states[res.Request.Key] = assets.StateReady
		}
		if done := ok + failed; done%progressEvery == 0 {
			o.send(ctx, Message{
				Generation: in.gen,
				Stage:      StageFetch,
				Outcome:    OutcomeProgress,
				Payload:    fetchProgress{done: done, total: len(reqs)},
			})
		}
	}
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	// Second pass enforces the entry cap on what this run added.
	post, err := m.Evict(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("evict: %w", err))
	} else {
		rep.Expired += post.Expired
		rep.Capped += post.Capped
		rep.Swept += post.Swept
		rep.Freed += post.Freed
		rep.Entries, rep.Bytes = post.Entries, post.Bytes
	}

	next := in.base.Clone()
	next.Cache = manifest.CacheSummary{Entries: rep.Entries, Bytes: rep.Bytes, LastEviction: now}
	if _, err := o.save(in.gen, next, in.base); err != nil {
		errs = append(errs, fmt.Errorf("%w: save manifest: %w", workspace.ErrStorage, err))
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int(telemetry.AssetCountKey, ok))

	outcome := OutcomeOK
	if len(errs) > 0 {
		outcome = OutcomePartial
	}
	return Message{
		Outcome: outcome,
		Err:     errors.Join(errs...),
		Payload: fetchPayload{states: states, ok: ok, failed: failed, evicted: rep, manifest: next},
	}
}

// save persists next unless gen was superseded; the newer run writes its
// own result.
func (o *Orchestrator) save(gen uint64, next, base *manifest.Manifest) (bool, error) {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()
	if o.gen.Load() != gen {
		return false, nil
	}
	return next.SaveIfChanged(o.deps.Workspace.ManifestPath, base)
}
