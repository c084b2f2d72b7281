// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wattwatch/wattwatch/ingest"
	"github.com/wattwatch/wattwatch/lib/service"
)

// statsSource is the part of the dispatcher the surfaces read.
type statsSource interface {
	Stats() ingest.Stats
}

// newRouter serves /metrics from gatherer and /healthz from the
// dispatcher counters.
func newRouter(source statsSource, gatherer prometheus.Gatherer) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Status string       `json:"status"`
			Stats  ingest.Stats `json:"stats"`
		}{"ok", source.Stats()})
	})
	return router
}

// registerActions wires the status socket.
func registerActions(server *service.SocketServer, source statsSource) {
	server.Handle("status", func(context.Context, []byte) (any, error) {
		return source.Stats(), nil
	})
}
