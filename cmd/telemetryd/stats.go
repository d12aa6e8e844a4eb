// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"
	"net/http"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/fleetworks/telemetryd/lib/schema/telemetry"
)

// statsRelativeAccuracy is the DDSketch relative accuracy for the
// quantile estimates: a reported quantile q is within q*(1±0.01) of
// the true value.
const statsRelativeAccuracy = 0.01

// handleStats serves GET /stats?machine_id=&metric_key=&start_ms=
// &end_ms=: count, min, max, mean, and sketch quantiles over one
// (machine, metric) series within optional bounds. Values stream from
// the store into the sketch one at a time, so the series is never
// materialized.
func (a *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
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

	machineOK, err := a.store.MachineExists(r.Context(), machineID)
	if err != nil {
		a.logger.Error("checking machine", "machine_id", machineID, "error", err)
		a.writeError(w, http.StatusInternalServerError, "querying machine catalog")
		return
	}
	if !machineOK {
		a.writeError(w, http.StatusNotFound, "unknown machine_id")
		return
	}
	metricOK, err := a.store.MetricExists(r.Context(), metricKey)
	if err != nil {
		a.logger.Error("checking metric", "metric_key", metricKey, "error", err)
		a.writeError(w, http.StatusInternalServerError, "querying metric catalog")
		return
	}
	if !metricOK {
		a.writeError(w, http.StatusNotFound, "unknown metric_key")
		return
	}

	sketch, err := ddsketch.NewDefaultDDSketch(statsRelativeAccuracy)
	if err != nil {
		a.logger.Error("creating sketch", "error", err)
		a.writeError(w, http.StatusInternalServerError, "computing stats")
		return
	}

	summary := telemetry.StatsSummary{
		MachineID: machineID,
		MetricKey: metricKey,
		Min:       math.Inf(1),
		Max:       math.Inf(-1),
	}
	var sum float64

	err = a.store.QueryValues(r.Context(), machineID, metricKey, startMs, endMs, func(value float64) error {
		if err := sketch.Add(value); err != nil {
			return err
		}
		summary.Count++
		sum += value
		if value < summary.Min {
			summary.Min = value
		}
		if value > summary.Max {
			summary.Max = value
		}
		return nil
	})
	if err != nil {
		a.logger.Error("querying stats values",
			"machine_id", machineID,
			"metric_key", metricKey,
			"error", err,
		)
		a.writeError(w, http.StatusInternalServerError, "computing stats")
		return
	}

	if summary.Count == 0 {
		// An empty window has no meaningful min/max/quantiles; report
		// zeros with count 0 rather than infinities.
		a.writeJSON(w, telemetry.StatsSummary{MachineID: machineID, MetricKey: metricKey})
		return
	}

	summary.Mean = sum / float64(summary.Count)

	quantiles, err := sketch.GetValuesAtQuantiles([]float64{0.5, 0.9, 0.95, 0.99})
	if err != nil {
		a.logger.Error("computing quantiles", "error", err)
		a.writeError(w, http.StatusInternalServerError, "computing stats")
		return
	}
	summary.P50 = quantiles[0]
	summary.P90 = quantiles[1]
	summary.P95 = quantiles[2]
	summary.P99 = quantiles[3]

	a.writeJSON(w, summary)
}
