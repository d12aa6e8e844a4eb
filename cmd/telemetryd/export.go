// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"net/http"

	"github.com/klauspost/compress/zstd"

	"github.com/fleetworks/telemetryd/lib/codec"
	"github.com/fleetworks/telemetryd/lib/schema/telemetry"
)

// handleExport serves GET /export?machine_id=&compress=zstd: a bulk
// dump of stored readings as a CBOR sequence, one Reading per item, in
// (ts_ms, machine_id, metric_key) order. With compress=zstd the
// sequence is wrapped in a zstd stream.
func (a *apiServer) handleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	machineID := query.Get("machine_id")
	if machineID != "" {
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
	}

	compress := query.Get("compress")
	if compress != "" && compress != "zstd" {
		a.writeError(w, http.StatusBadRequest, "unsupported compress value; use zstd")
		return
	}

	w.Header().Set("Content-Type", "application/cbor-seq")

	var sink io.Writer = w
	if compress == "zstd" {
		w.Header().Set("Content-Encoding", "zstd")
		zstdWriter, err := zstd.NewWriter(w)
		if err != nil {
			a.logger.Error("creating zstd writer", "error", err)
			a.writeError(w, http.StatusInternalServerError, "starting export")
			return
		}
		defer zstdWriter.Close()
		sink = zstdWriter
	}

	encoder := codec.NewEncoder(sink)
	err := a.store.ExportReadings(r.Context(), machineID, func(reading telemetry.Reading) error {
		return encoder.Encode(reading)
	})
	if err != nil {
		// Headers are already out; all we can do is log and cut the
		// stream short.
		a.logger.Error("export stream failed", "machine_id", machineID, "error", err)
	}
}
