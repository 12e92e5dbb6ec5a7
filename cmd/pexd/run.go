// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuGH/pex/internal/assets"
	"github.com/ManuGH/pex/internal/config"
	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/mirror"
	"github.com/ManuGH/pex/internal/normalize"
	"github.com/ManuGH/pex/internal/owned"
	"github.com/ManuGH/pex/internal/pipeline"
	"github.com/ManuGH/pex/internal/probe"
	"github.com/ManuGH/pex/internal/telemetry"
	"github.com/ManuGH/pex/internal/workspace"
)

const (
	normalizerEntries = 4096
	probeTimeout      = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// app holds the long-lived components built from one configuration.
type app struct {
	ws       *workspace.Workspace
	probes   *probe.Store
	assets   *assets.Manager
	pipeline *pipeline.Orchestrator
}

func run(ctx context.Context, opts options) error {
	logger := xglog.WithComponent("daemon")

	loader := config.NewLoader(opts.configPath, version)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	xglog.Reconfigure(xglog.Config{Level: cfg.LogLevel, Service: "pex", Version: version})

	source := "env+defaults"
	if opts.configPath != "" {
		source = "file"
	}
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str(xglog.FieldSource, source).
		Str(xglog.FieldPath, opts.configPath).
		Str("cache_dir", cfg.CacheDir).
		Msg("configuration loaded")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "pex",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = tp.Shutdown(sctx)
	}()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.refreshHD {
		changed, err := a.pipeline.RefreshHD(ctx)
		if err != nil {
			return fmt.Errorf("refresh HD flags: %w", err)
		}
		logger.Info().
			Str(xglog.FieldEvent, "owned.hd_refreshed").
			Bool("changed", changed).
			Msg("HD flags refreshed")
		return nil
	}

	holder := config.NewHolder(cfg, loader)
	reloads := make(chan config.AppConfig, 1)
	holder.RegisterListener(reloads)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher not started")
	}

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           newRouter(a.pipeline),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.Metrics.Listen).Msg("metrics listener stopped")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		logger.Info().Str("addr", cfg.Metrics.Listen).Msg("metrics listener started")
	}

	a.pipeline.Start(ctx)
	l := &loop{
		o:            a.pipeline,
		sink:         newCountingSink(),
		pollBudget:   cfg.Pipeline.PollBudget,
		uploadBudget: cfg.Assets.UploadBudget,
		once:         opts.once,
		logger:       logger,
	}
	return l.run(ctx, reloads)
}

// build opens the workspace and wires every component. On error everything
// opened so far is closed again.
func build(ctx context.Context, cfg config.AppConfig) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.ws, err = workspace.Open(cfg); err != nil {
		return nil, err
	}

	norm := normalize.NewCache(normalizerEntries)

	var classifier *probe.Classifier
	if cfg.Owned.Source == config.OwnedSourceFilesystem {
		if a.probes, err = probe.OpenStore(a.ws.ProbeDir); err != nil {
			// HD classification falls back to file names.
			logger := xglog.WithComponent("daemon")
			logger.Warn().Err(err).Msg("probe cache unavailable")
			a.probes, err = nil, nil
		}
		runner := probe.FFprobe{Bin: config.ResolveFFprobeBin(cfg.Owned.FFprobeBin), Timeout: probeTimeout}
		classifier = probe.NewClassifier(runner, a.probes)
	}

	svc, err := owned.New(cfg.Owned.Source, owned.Deps{
		Roots:      cfg.Owned.Roots,
		LibraryDB:  a.ws.LibraryDB,
		Classifier: classifier,
		Normalizer: norm,
	})
	if err != nil {
		return nil, err
	}

	a.assets, err = assets.Open(ctx, assets.Options{
		PostersDir:   a.ws.PostersDir,
		IconsDir:     a.ws.IconsDir,
		IndexPath:    a.ws.AssetIndex,
		Retention:    a.ws.Retention,
		MaxEntries:   a.ws.MaxAssets,
		Workers:      cfg.Assets.Workers,
		RatePerHost:  cfg.Assets.RatePerHost,
		Burst:        cfg.Assets.Burst,
		FetchTimeout: cfg.Assets.FetchTimeout,
		PosterWidth:  cfg.Assets.PosterWidth,
		IconSize:     cfg.Assets.IconSize,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open asset cache: %w", workspace.ErrStorage, err)
	}

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Workspace:  a.ws,
		Config:     cfg,
		Mirror:     mirror.New(cfg.Mirror.Freshness),
		Owned:      svc,
		Assets:     a.assets,
		Normalizer: norm,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.pipeline != nil {
		a.pipeline.Close()
	}
	if a.assets != nil {
		_ = a.assets.Close()
	}
	if a.probes != nil {
		_ = a.probes.Close()
	}
	if a.ws != nil {
		_ = a.ws.Close()
	}
}
