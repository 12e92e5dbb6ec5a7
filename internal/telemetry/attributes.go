// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by all stage spans.
const (
	RunIDKey      = "pipeline.run_id"
	GenerationKey = "pipeline.generation"
	StageKey      = "pipeline.stage"
	OutcomeKey    = "pipeline.outcome"

	SourceKey = "mirror.source"
	BytesKey  = "mirror.bytes"

	OwnedCountKey = "owned.count"
	OwnedHDKey    = "owned.hd"
	StrategyKey   = "owned.strategy"

	AssetKindKey  = "asset.kind"
	AssetCountKey = "asset.count"

	ErrorKey = "error"
)

// StageAttributes creates the attributes attached to every stage span.
func StageAttributes(runID string, generation uint64, stage string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RunIDKey, runID),
		attribute.Int64(GenerationKey, int64(generation)),
		attribute.String(StageKey, stage),
	}
}

// StartStage opens a span named "pipeline.<stage>".
func StartStage(ctx context.Context, runID string, generation uint64, stage string) (context.Context, trace.Span) {
	return Tracer("pex/pipeline").Start(ctx, "pipeline."+stage,
		trace.WithAttributes(StageAttributes(runID, generation, stage)...))
}

// EndStage records the outcome and closes span.
func EndStage(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String(OutcomeKey, outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
