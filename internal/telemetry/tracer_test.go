// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false, ServiceName: "test"})
	require.NoError(t, err)
	assert.Nil(t, provider.tp)

	_, span := otel.Tracer("test").Start(context.Background(), "noop-check")
	assert.False(t, span.IsRecording())
	span.End()

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProvider_RequiresEndpoint(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true})
	assert.Error(t, err)
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{0.0, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased"},
	}
	for _, tt := range tests {
		assert.Contains(t, samplerFor(tt.rate).Description(), tt.want)
	}
}

func TestStageSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	p, err := newProvider(context.Background(), Config{ServiceName: "pex", SamplingRate: 1}, sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := StartStage(context.Background(), "run-1", 3, "mirror")
	EndStage(span, "ok", nil)

	_, span = StartStage(context.Background(), "run-1", 3, "resolve")
	EndStage(span, "failed", errors.New("boom"))

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "pipeline.mirror", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.Int64(GenerationKey, 3))
	assert.Contains(t, ended[0].Attributes(), attribute.String(OutcomeKey, "ok"))
	assert.Equal(t, codes.Error, ended[1].Status().Code)
}

func TestProvider_NilShutdown(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}
