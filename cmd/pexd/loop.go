// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/ManuGH/pex/internal/assets"
	"github.com/ManuGH/pex/internal/config"
	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/pipeline"
	"github.com/rs/zerolog"
)

const pollInterval = 50 * time.Millisecond

// countingSink stands in for a renderer: it keeps the size of every
// uploaded texture.
type countingSink struct {
	mu       sync.Mutex
	textures map[string]image.Point
}

func newCountingSink() *countingSink {
	return &countingSink{textures: make(map[string]image.Point)}
}

func (s *countingSink) Upload(key string, img *image.NRGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textures[key] = img.Bounds().Size()
	return nil
}

func (s *countingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.textures)
}

// loop is the consumer: it polls the orchestrator on a ticker and never
// waits on a stage.
type loop struct {
	o            *pipeline.Orchestrator
	sink         assets.TextureSink
	pollBudget   int
	uploadBudget int
	once         bool
	logger       zerolog.Logger

	prepared  map[string]struct{}
	lastState pipeline.State
	lastMsg   string
}

func (l *loop) run(ctx context.Context, reloads <-chan config.AppConfig) error {
	if l.pollBudget <= 0 {
		l.pollBudget = config.DefaultPollBudget
	}
	if l.uploadBudget <= 0 {
		l.uploadBudget = config.DefaultUploadBudget
	}
	l.prepared = make(map[string]struct{})

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case cfg := <-reloads:
			l.o.Reconfigure(cfg)
			gen := l.o.Start(ctx)
			l.logger.Info().
				Str(xglog.FieldEvent, "pipeline.restarted").
				Uint64(xglog.FieldGeneration, gen).
				Msg("configuration changed, pipeline restarted")

		case <-ticker.C:
			if done := l.tick(ctx); done {
				return nil
			}
		}
	}
}

// tick applies pending messages, uploads a bounded number of textures and
// reports whether a -once run is finished.
func (l *loop) tick(ctx context.Context) bool {
	l.o.Poll(l.pollBudget)
	v := l.o.Snapshot()

	if v.State != l.lastState || v.Status != l.lastMsg {
		l.lastState, l.lastMsg = v.State, v.Status
		ev := l.logger.Info()
		if v.Blocking {
			ev = l.logger.Error()
		}
		ev.Str(xglog.FieldEvent, "pipeline.status").
			Str(xglog.FieldNewState, string(v.State)).
			Uint64(xglog.FieldGeneration, v.Generation).
			Msg(v.Status)
	}

	l.upload(ctx, v.Rows)
	return l.once && v.State.Terminal() && (l.o.Bridge() == nil || l.o.Bridge().Pending() == 0)
}

func (l *loop) upload(ctx context.Context, rows []pipeline.Row) {
	b := l.o.Bridge()
	if b == nil {
		return
	}
	queued := 0
	for _, r := range rows {
		if queued >= l.uploadBudget {
			break
		}
		if r.Poster != assets.StateReady || r.PosterKey == "" {
			continue
		}
		if _, ok := l.prepared[r.PosterKey]; ok {
			continue
		}
		l.prepared[r.PosterKey] = struct{}{}
		if err := b.Prepare(ctx, r.PosterKey); err != nil && !errors.Is(err, assets.ErrNotCached) {
			l.logger.Debug().Err(err).Str(xglog.FieldKey, r.PosterKey).Msg("texture not prepared")
			continue
		}
		queued++
	}
	if _, err := b.Drain(l.sink, l.uploadBudget); err != nil {
		l.logger.Warn().Err(err).Msg("texture upload failed")
	}
}
