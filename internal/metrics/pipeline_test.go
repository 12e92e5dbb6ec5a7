// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ManuGH/pex/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromhttpExposure(t *testing.T) {
	metrics.IncMirrorSync("guide", "copied")
	metrics.RecordOwnedTitles(10, 4)
	metrics.ObserveStage("mirror", "ok", 0.2)

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pex_mirror_sync_total{outcome="copied",source="guide"}`)
	assert.Contains(t, string(body), `pex_owned_titles{quality="hd"} 4`)
	assert.Contains(t, string(body), "pex_stage_duration_seconds_bucket")
}

func TestZeroAddsAreIgnored(t *testing.T) {
	// Counter.Add panics on negative values; helpers must guard.
	assert.NotPanics(t, func() {
		metrics.AddMirrorBytes("guide", -1)
		metrics.AddOwnedDirs("reused", 0)
		metrics.AddAssetEvicted("cap", -3)
	})
}

func TestCollectorsAreRegistered(t *testing.T) {
	metrics.IncAssetFetch("poster", "downloaded")
	metrics.RecordGeneration(7)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	gen := byName["pex_pipeline_generation"]
	require.NotNil(t, gen)
	assert.Equal(t, dto.MetricType_GAUGE, gen.GetType())
	assert.InDelta(t, 7, gen.GetMetric()[0].GetGauge().GetValue(), 0)

	fetch := byName["pex_asset_fetch_total"]
	require.NotNil(t, fetch)
	var found bool
	for _, m := range fetch.GetMetric() {
		labels := map[string]string{}
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["kind"] == "poster" && labels["result"] == "downloaded" {
			found = true
			assert.GreaterOrEqual(t, m.GetCounter().GetValue(), 1.0)
		}
	}
	assert.True(t, found)
}
