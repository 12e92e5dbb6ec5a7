// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError names the offending field.
type ValidationError struct {
	Field string
	Value any
	Msg   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Msg, e.Value)
}

func (e ValidationError) Unwrap() error { return ErrInvalidConfig }

// Validate checks the effective configuration.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Msg: msg})
	}

	if cfg.CacheDir == "" {
		add("cacheDir", cfg.CacheDir, "must not be empty")
	}
	switch cfg.Owned.Source {
	case OwnedSourceFilesystem, OwnedSourceLibrary:
	default:
		add("owned.source", cfg.Owned.Source, "must be filesystem or library")
	}
	positive := []struct {
		field string
		d     time.Duration
	}{
		{"mirror.freshness", cfg.Mirror.Freshness},
		{"assets.retention", cfg.Assets.Retention},
		{"assets.fetchTimeout", cfg.Assets.FetchTimeout},
		{"schedule.pastLimit", cfg.Schedule.PastLimit},
	}
	for _, p := range positive {
		if p.d <= 0 {
			add(p.field, p.d, "must be positive")
		}
	}
	if cfg.Schedule.AirtimeTolerance < 0 {
		add("schedule.airtimeTolerance", cfg.Schedule.AirtimeTolerance, "must not be negative")
	}
	if cfg.Assets.MaxEntries < 0 {
		add("assets.maxEntries", cfg.Assets.MaxEntries, "must not be negative (0 disables the cap)")
	}
	if cfg.Assets.Workers < 1 {
		add("assets.workers", cfg.Assets.Workers, "must be at least 1")
	}
	if cfg.Assets.RatePerHost <= 0 {
		add("assets.ratePerHost", cfg.Assets.RatePerHost, "must be positive")
	}
	if cfg.Assets.Burst < 1 {
		add("assets.burst", cfg.Assets.Burst, "must be at least 1")
	}
	if cfg.Assets.PosterWidth < 16 || cfg.Assets.IconSize < 16 {
		add("assets.posterWidth/iconSize", fmt.Sprintf("%d/%d", cfg.Assets.PosterWidth, cfg.Assets.IconSize), "must be at least 16")
	}
	if cfg.Assets.UploadBudget < 1 {
		add("assets.uploadBudget", cfg.Assets.UploadBudget, "must be at least 1")
	}
	if cfg.Pipeline.Workers < 1 {
		add("pipeline.workers", cfg.Pipeline.Workers, "must be at least 1")
	}
	if cfg.Pipeline.MessageBuffer < 1 {
		add("pipeline.messageBuffer", cfg.Pipeline.MessageBuffer, "must be at least 1")
	}
	if cfg.Pipeline.PollBudget < 1 {
		add("pipeline.pollBudget", cfg.Pipeline.PollBudget, "must be at least 1")
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		add("telemetry.endpoint", cfg.Telemetry.Endpoint, "required when telemetry is enabled")
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		add("telemetry.samplingRate", cfg.Telemetry.SamplingRate, "must be within [0,1]")
	}
	return errors.Join(errs...)
}
