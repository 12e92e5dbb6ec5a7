// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/pex/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// snapshotter is the read side of the orchestrator.
type snapshotter interface {
	Snapshot() pipeline.View
}

type healthResponse struct {
	State           string `json:"state"`
	Generation      uint64 `json:"generation"`
	Status          string `json:"status"`
	Blocking        bool   `json:"blocking"`
	Entries         int    `json:"entries"`
	Owned           int    `json:"owned"`
	OwnedHD         int    `json:"owned_hd"`
	Scheduled       int    `json:"scheduled"`
	CacheEntries    int    `json:"cache_entries"`
	ManifestVersion uint64 `json:"manifest_version"`
}

func newRouter(s snapshotter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", healthHandler(s))
	return r
}

// healthHandler reports 503 only for blocking storage failures; a run in
// progress or a partial run is healthy.
func healthHandler(s snapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		v := s.Snapshot()
		resp := healthResponse{
			State:           string(v.State),
			Generation:      v.Generation,
			Status:          v.Status,
			Blocking:        v.Blocking,
			Entries:         len(v.Rows),
			Owned:           v.Owned,
			OwnedHD:         v.OwnedHD,
			Scheduled:       v.Scheduled,
			CacheEntries:    v.CacheEntries,
			ManifestVersion: v.ManifestVersion,
		}
		w.Header().Set("Content-Type", "application/json")
		if v.Blocking {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
