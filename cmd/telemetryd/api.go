// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fleetworks/telemetryd/lib/config"
	"github.com/fleetworks/telemetryd/lib/schema/telemetry"
)

// apiServer holds the HTTP handler state: the store for queries, the
// simulator for the /simulate endpoints, the tail hub for streaming,
// and the configured history limit bounds.
type apiServer struct {
	store   *Store
	sim     *Simulator
	tails   *tailHub
	logger  *slog.Logger
	metrics *instrumentation
	limits  config.HistoryConfig
}

// routes builds the route table. Go 1.22 method patterns reject wrong
// methods with 405 without per-handler checks.
func (a *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /machines", a.handleMachines)
	mux.HandleFunc("GET /metrics", a.handleMetrics)
	mux.HandleFunc("GET /latest", a.handleLatest)
	mux.HandleFunc("GET /history", a.handleHistory)
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("POST /simulate/start", a.handleSimulateStart)
	mux.HandleFunc("POST /simulate/stop", a.handleSimulateStop)
	mux.HandleFunc("GET /simulate/status", a.handleSimulateStatus)
	mux.HandleFunc("GET /tail", a.handleTail)
	mux.HandleFunc("GET /export", a.handleExport)
	mux.Handle("GET /internal/metrics", a.metrics.handler())
	return a.countRequests(mux)
}

// countRequests wraps the mux with per-route request counting for the
// Prometheus exposition.
func (a *apiServer) countRequests(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		_, pattern := next.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		a.metrics.httpRequests.WithLabelValues(pattern, strconv.Itoa(recorder.status)).Inc()
	})
}

// statusRecorder captures the response status for instrumentation. It
// forwards Flush so streaming handlers keep working through the wrap.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// writeJSON writes v as the JSON response body.
func (a *apiServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Debug("writing response", "error", err)
	}
}

// writeError writes the JSON error envelope with the given status.
func (a *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(telemetry.ErrorResponse{Error: message, Code: status})
}

// handleMachines serves GET /machines.
func (a *apiServer) handleMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := a.store.ListMachines(r.Context())
	if err != nil {
		a.logger.Error("listing machines", "error", err)
		a.writeError(w, http.StatusInternalServerError, "querying machine catalog")
		return
	}
	a.writeJSON(w, machines)
}

// handleMetrics serves GET /metrics (the metric catalog, not the
// Prometheus exposition — that lives at /internal/metrics).
func (a *apiServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := a.store.ListMetrics(r.Context())
	if err != nil {
		a.logger.Error("listing metrics", "error", err)
		a.writeError(w, http.StatusInternalServerError, "querying metric catalog")
		return
	}
	a.writeJSON(w, metrics)
}

// handleLatest serves GET /latest?machine_id=: the newest reading per
// metric for one machine, ordered by metric_key.
func (a *apiServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	machineID := r.URL.Query().Get("machine_id")
	if machineID == "" {
		a.writeError(w, http.StatusBadRequest, "machine_id is required")
		return
	}

	exists, err := a.store.MachineExists(r.Context(), machineID)
	if err != nil {
		a.logger.Error("checking machine", "machine_id", machineID, "error", err)
		a.writeError(w, http.StatusInternalServerError, "querying machine catalog")
		return
	}
	if !exists {
		a.writeError(w, http.StatusNotFound, "unknown machine_id")
		return
	}

	readings, err := a.store.QueryLatest(r.Context(), machineID)
	if err != nil {
		a.logger.Error("querying latest", "machine_id", machineID, "error", err)
		a.writeError(w, http.StatusInternalServerError, "querying latest readings")
		return
	}
	a.writeJSON(w, readings)
}

// handleHistory serves GET /history?machine_id=&metric_key=&start_ms=
// &end_ms=&limit=. Parameters are validated before the store is
// touched: a missing key or out-of-range limit is a 400 regardless of
// catalog contents.
func (a *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	machineID := query.Get("machine_id")
	metricKey := query.Get("metric_key")
	if machineID == "" || metricKey == "" {
		a.writeError(w, http.StatusBadRequest, "machine_id and metric_key are required")
		return
	}

	startMs, ok := a.optionalInt64(w, query.Get("start_ms"), "start_ms")
	if !ok {
		return
	}
	endMs, ok := a.optionalInt64(w, query.Get("end_ms"), "end_ms")
	if !ok {
		return
	}

	limit := a.limits.DefaultLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}
	if limit < a.limits.MinLimit || limit > a.limits.MaxLimit {
		a.writeError(w, http.StatusBadRequest,
			"limit out of range ["+strconv.Itoa(a.limits.MinLimit)+", "+strconv.Itoa(a.limits.MaxLimit)+"]")
		return
	}

	exists, err := a.store.MachineExists(r.Context(), machineID)
	if err != nil {
		a.logger.Error("checking machine", "machine_id", machineID, "error", err)
		a.writeError(w, http.StatusInternalServerError, "querying machine catalog")
		return
	}
	if !exists {
		a.writeError(w, http.StatusNotFound, "unknown machine_id")
		return
	}

	points, err := a.store.QueryHistory(r.Context(), machineID, metricKey, startMs, endMs, limit)
	if err != nil {
		a.logger.Error("querying history",
			"machine_id", machineID,
			"metric_key", metricKey,
			"error", err,
		)
		a.writeError(w, http.StatusInternalServerError, "querying history")
		return
	}
	a.writeJSON(w, points)
}

// optionalInt64 parses an optional integer query parameter. Returns
// (nil, true) when absent, (value, true) when valid, and writes a 400
// returning (nil, false) when malformed.
func (a *apiServer) optionalInt64(w http.ResponseWriter, raw, name string) (*int64, bool) {
	if raw == "" {
		return nil, true
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, name+" must be an integer (epoch ms)")
		return nil, false
	}
	return &value, true
}

// handleSimulateStart serves POST /simulate/start. Idempotent: starting
// a running simulator leaves it running.
func (a *apiServer) handleSimulateStart(w http.ResponseWriter, r *http.Request) {
	if err := a.sim.Start(r.Context()); err != nil {
		a.logger.Error("starting simulator", "error", err)
		a.writeError(w, http.StatusInternalServerError, "starting simulator")
		return
	}
	a.writeJSON(w, telemetry.SimulatorStatus{Running: a.sim.Running()})
}

// handleSimulateStop serves POST /simulate/stop. Idempotent: stopping a
// stopped simulator is a prompt no-op.
func (a *apiServer) handleSimulateStop(w http.ResponseWriter, r *http.Request) {
	a.sim.Stop()
	a.writeJSON(w, telemetry.SimulatorStatus{Running: a.sim.Running()})
}

// handleSimulateStatus serves GET /simulate/status.
func (a *apiServer) handleSimulateStatus(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, telemetry.SimulatorStatus{Running: a.sim.Running()})
}
