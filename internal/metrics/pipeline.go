// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics registers the Prometheus collectors of the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Mirror
	mirrorSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pex_mirror_sync_total",
		Help: "Mirror sync attempts by source and outcome",
	}, []string{"source", "outcome"}) // outcome=copied|skipped_fresh|skipped_unconfigured|failed

	mirrorBytesCopied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pex_mirror_bytes_copied_total",
		Help: "Bytes copied into local snapshots",
	}, []string{"source"})

	// Ownership
	ownedTitles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pex_owned_titles",
		Help: "Owned title keys after the last resolver pass",
	}, []string{"quality"}) // quality=all|hd

	ownedDirsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pex_owned_dirs_total",
		Help: "Directories visited by the filesystem resolver",
	}, []string{"result"}) // result=rewalked|reused|failed

	ownedItemErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pex_owned_item_errors_total",
		Help: "Per-item failures skipped by the resolver",
	}, []string{"strategy"})

	probeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pex_probe_total",
		Help: "Resolution probe lookups by result",
	}, []string{"result"}) // result=cache_hit|probed|failed|unavailable

	// Schedule
	scheduledEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pex_scheduled_entries",
		Help: "Guide entries flagged by the last merge pass",
	}, []string{"state"}) // state=pending|active

	schemaMismatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pex_schema_mismatch_total",
		Help: "Queries skipped because a mirrored table or column is missing",
	}, []string{"table"})

	// Assets
	assetFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pex_asset_fetch_total",
		Help: "Asset fetches by kind and result",
	}, []string{"kind", "result"}) // result=downloaded|hit|failed|suppressed

	assetEvictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pex_asset_evicted_total",
		Help: "Assets removed from the cache by reason",
	}, []string{"reason"}) // reason=retention|cap|sweep

	assetDecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pex_asset_decode_failures_total",
		Help: "Cached assets that failed to decode and were demoted",
	})

	assetEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pex_asset_entries",
		Help: "Ready entries in the asset index",
	})

	// Orchestrator
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pex_stage_duration_seconds",
		Help:    "Pipeline stage duration",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"stage", "outcome"})

	staleMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pex_stale_messages_dropped_total",
		Help: "Messages from superseded generations discarded by the consumer",
	})

	pipelineGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pex_pipeline_generation",
		Help: "Current pipeline generation",
	})
)

func IncMirrorSync(source, outcome string) { mirrorSyncTotal.WithLabelValues(source, outcome).Inc() }

func AddMirrorBytes(source string, n int64) {
	if n > 0 {
		mirrorBytesCopied.WithLabelValues(source).Add(float64(n))
	}
}

func RecordOwnedTitles(all, hd int) {
	ownedTitles.WithLabelValues("all").Set(float64(all))
	ownedTitles.WithLabelValues("hd").Set(float64(hd))
}

func AddOwnedDirs(result string, n int) {
	if n > 0 {
		ownedDirsTotal.WithLabelValues(result).Add(float64(n))
	}
}

func IncOwnedItemError(strategy string) { ownedItemErrors.WithLabelValues(strategy).Inc() }
func IncProbe(result string)            { probeTotal.WithLabelValues(result).Inc() }

func RecordScheduled(pending, active int) {
	scheduledEntries.WithLabelValues("pending").Set(float64(pending))
	scheduledEntries.WithLabelValues("active").Set(float64(active))
}

func IncSchemaMismatch(table string) { schemaMismatchTotal.WithLabelValues(table).Inc() }

func IncAssetFetch(kind, result string) { assetFetchTotal.WithLabelValues(kind, result).Inc() }

func AddAssetEvicted(reason string, n int) {
	if n > 0 {
		assetEvictedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

func IncAssetDecodeFailure()    { assetDecodeFailures.Inc() }
func RecordAssetEntries(n int)  { assetEntries.Set(float64(n)) }
func IncStaleMessageDropped()   { staleMessagesDropped.Inc() }
func RecordGeneration(g uint64) { pipelineGeneration.Set(float64(g)) }

func ObserveStage(stage, outcome string, seconds float64) {
	stageDuration.WithLabelValues(stage, outcome).Observe(seconds)
}
