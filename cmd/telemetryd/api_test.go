// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/fleetworks/telemetryd/lib/clock"
	"github.com/fleetworks/telemetryd/lib/codec"
	"github.com/fleetworks/telemetryd/lib/config"
	"github.com/fleetworks/telemetryd/lib/schema/telemetry"
	"github.com/fleetworks/telemetryd/lib/testutil"
)

// newTestAPI wires a full apiServer over a fresh store, with the
// simulator and tail hub on a fake clock.
func newTestAPI(t *testing.T) (*apiServer, *Store, *clock.FakeClock) {
	t.Helper()

	store, fakeClock := openTestStore(t)
	logger := testLogger(t)
	metrics := newInstrumentation()
	tails := newTailHub(fakeClock, logger)

	sim, err := NewSimulator(SimulatorConfig{
		Store:    store,
		Clock:    fakeClock,
		Logger:   logger,
		Metrics:  metrics,
		Interval: 500 * time.Millisecond,
		OnBatch:  tails.Publish,
	})
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	t.Cleanup(sim.Stop)

	api := &apiServer{
		store:   store,
		sim:     sim,
		tails:   tails,
		logger:  logger,
		metrics: metrics,
		limits:  config.Default().History,
	}
	return api, store, fakeClock
}

// doRequest runs one request through the full route table and returns
// the recorded response.
func doRequest(t *testing.T, api *apiServer, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	api.routes().ServeHTTP(recorder, httptest.NewRequest(method, target, nil))
	return recorder
}

// decodeBody decodes a JSON response body, failing the test on error.
func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(recorder.Body).Decode(out); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
}

func TestMachinesEndpoint(t *testing.T) {
	api, _, _ := newTestAPI(t)

	recorder := doRequest(t, api, http.MethodGet, "/machines")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}

	var machines []telemetry.Machine
	decodeBody(t, recorder, &machines)
	if len(machines) != 3 {
		t.Fatalf("got %d machines, want 3", len(machines))
	}
	for i, want := range []string{"m-001", "m-002", "m-003"} {
		if machines[i].MachineID != want {
			t.Errorf("machines[%d] = %q, want %q", i, machines[i].MachineID, want)
		}
	}
}

func TestMetricsEndpointServesCatalog(t *testing.T) {
	api, _, _ := newTestAPI(t)

	recorder := doRequest(t, api, http.MethodGet, "/metrics")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	var metrics []telemetry.Metric
	decodeBody(t, recorder, &metrics)
	if len(metrics) != 3 {
		t.Fatalf("got %d metrics, want 3", len(metrics))
	}
	if metrics[1].MetricKey != "temperature" || metrics[1].Unit != "C" {
		t.Errorf("metrics[1] = %+v, want temperature in C", metrics[1])
	}
}

func TestLatestEndpoint(t *testing.T) {
	api, store, _ := newTestAPI(t)
	ctx := context.Background()

	batch := []telemetry.Reading{
		reading("m-001", "temperature", 2000, 71.2),
		reading("m-001", "pressure", 2000, 101.4),
	}
	if err := store.AppendReadings(ctx, batch); err != nil {
		t.Fatalf("AppendReadings: %v", err)
	}

	recorder := doRequest(t, api, http.MethodGet, "/latest")
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("missing machine_id: status = %d, want 400", recorder.Code)
	}

	recorder = doRequest(t, api, http.MethodGet, "/latest?machine_id=m-999")
	if recorder.Code != http.StatusNotFound {
		t.Errorf("unknown machine: status = %d, want 404", recorder.Code)
	}
	var envelope telemetry.ErrorResponse
	decodeBody(t, recorder, &envelope)
	if envelope.Error == "" || envelope.Code != http.StatusNotFound {
		t.Errorf("error envelope = %+v, want populated error and code 404", envelope)
	}

	recorder = doRequest(t, api, http.MethodGet, "/latest?machine_id=m-001")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var readings []telemetry.Reading
	decodeBody(t, recorder, &readings)
	if len(readings) != 2 {
		t.Fatalf("got %d readings, want 2", len(readings))
	}
	if readings[0].MetricKey != "pressure" || readings[1].MetricKey != "temperature" {
		t.Errorf("latest order = [%s %s], want [pressure temperature]",
			readings[0].MetricKey, readings[1].MetricKey)
	}
}

func TestHistoryEndpointValidation(t *testing.T) {
	api, _, _ := newTestAPI(t)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"missing params", "/history", http.StatusBadRequest},
		{"missing metric_key", "/history?machine_id=m-001", http.StatusBadRequest},
		{"limit below minimum", "/history?machine_id=m-001&metric_key=temperature&limit=0", http.StatusBadRequest},
		{"limit above maximum", "/history?machine_id=m-001&metric_key=temperature&limit=5001", http.StatusBadRequest},
		{"malformed limit", "/history?machine_id=m-001&metric_key=temperature&limit=abc", http.StatusBadRequest},
		{"malformed start_ms", "/history?machine_id=m-001&metric_key=temperature&start_ms=yesterday", http.StatusBadRequest},
		{"malformed end_ms", "/history?machine_id=m-001&metric_key=temperature&end_ms=1.5", http.StatusBadRequest},
		{"unknown machine", "/history?machine_id=m-999&metric_key=temperature", http.StatusNotFound},
		{"limit at maximum", "/history?machine_id=m-001&metric_key=temperature&limit=5000", http.StatusOK},
		{"limit at minimum", "/history?machine_id=m-001&metric_key=temperature&limit=1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := doRequest(t, api, http.MethodGet, tt.target)
			if recorder.Code != tt.status {
				t.Errorf("status = %d, want %d", recorder.Code, tt.status)
			}
		})
	}
}

func TestHistoryEndpointReturnsAscendingWindow(t *testing.T) {
	api, store, _ := newTestAPI(t)
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		batch := []telemetry.Reading{reading("m-001", "temperature", i * 1000, 70 + float64(i))}
		if err := store.AppendReadings(ctx, batch); err != nil {
			t.Fatalf("AppendReadings: %v", err)
		}
	}

	recorder := doRequest(t, api, http.MethodGet,
		"/history?machine_id=m-001&metric_key=temperature&start_ms=2000&end_ms=3000")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	var points []telemetry.ReadingPoint
	decodeBody(t, recorder, &points)
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2", len(points))
	}
	if points[0].TsMs != 2000 || points[1].TsMs != 3000 {
		t.Errorf("window = [%d %d], want [2000 3000]", points[0].TsMs, points[1].TsMs)
	}
}

func TestSimulateEndpoints(t *testing.T) {
	api, _, _ := newTestAPI(t)

	recorder := doRequest(t, api, http.MethodGet, "/simulate/status")
	var status telemetry.SimulatorStatus
	decodeBody(t, recorder, &status)
	if status.Running {
		t.Fatal("simulator running before start")
	}

	recorder = doRequest(t, api, http.MethodPost, "/simulate/start")
	if recorder.Code != http.StatusOK {
		t.Fatalf("start: status = %d, want 200", recorder.Code)
	}
	decodeBody(t, recorder, &status)
	if !status.Running {
		t.Fatal("start response reports not running")
	}

	// Starting again is idempotent.
	recorder = doRequest(t, api, http.MethodPost, "/simulate/start")
	decodeBody(t, recorder, &status)
	if !status.Running {
		t.Fatal("second start response reports not running")
	}

	recorder = doRequest(t, api, http.MethodPost, "/simulate/stop")
	decodeBody(t, recorder, &status)
	if status.Running {
		t.Fatal("stop response reports still running")
	}

	recorder = doRequest(t, api, http.MethodGet, "/simulate/status")
	decodeBody(t, recorder, &status)
	if status.Running {
		t.Fatal("status reports running after stop")
	}
}

func TestSimulateMethodIsEnforced(t *testing.T) {
	api, _, _ := newTestAPI(t)

	recorder := doRequest(t, api, http.MethodGet, "/simulate/start")
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /simulate/start: status = %d, want 405", recorder.Code)
	}
	recorder = doRequest(t, api, http.MethodPost, "/machines")
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /machines: status = %d, want 405", recorder.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	api, store, _ := newTestAPI(t)
	ctx := context.Background()

	// 100 evenly spread values: exact count/min/max/mean, monotone
	// quantiles within the sketch accuracy.
	for i := int64(1); i <= 100; i++ {
		batch := []telemetry.Reading{reading("m-001", "temperature", i * 1000, float64(i))}
		if err := store.AppendReadings(ctx, batch); err != nil {
			t.Fatalf("AppendReadings: %v", err)
		}
	}

	recorder := doRequest(t, api, http.MethodGet, "/stats?machine_id=m-001&metric_key=temperature")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	var summary telemetry.StatsSummary
	decodeBody(t, recorder, &summary)
	if summary.Count != 100 {
		t.Errorf("count = %d, want 100", summary.Count)
	}
	if summary.Min != 1 || summary.Max != 100 {
		t.Errorf("min/max = %v/%v, want 1/100", summary.Min, summary.Max)
	}
	if summary.Mean != 50.5 {
		t.Errorf("mean = %v, want 50.5", summary.Mean)
	}
	if !(summary.P50 <= summary.P90 && summary.P90 <= summary.P95 && summary.P95 <= summary.P99) {
		t.Errorf("quantiles not monotone: p50=%v p90=%v p95=%v p99=%v",
			summary.P50, summary.P90, summary.P95, summary.P99)
	}
	if summary.P50 < 45 || summary.P50 > 56 {
		t.Errorf("p50 = %v, want near 50", summary.P50)
	}
	if summary.P99 < 94 || summary.P99 > 100.5 {
		t.Errorf("p99 = %v, want near 99", summary.P99)
	}
}

func TestStatsEndpointEdgeCases(t *testing.T) {
	api, _, _ := newTestAPI(t)

	recorder := doRequest(t, api, http.MethodGet, "/stats?machine_id=m-001")
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("missing metric_key: status = %d, want 400", recorder.Code)
	}
	recorder = doRequest(t, api, http.MethodGet, "/stats?machine_id=m-999&metric_key=temperature")
	if recorder.Code != http.StatusNotFound {
		t.Errorf("unknown machine: status = %d, want 404", recorder.Code)
	}
	recorder = doRequest(t, api, http.MethodGet, "/stats?machine_id=m-001&metric_key=rpm")
	if recorder.Code != http.StatusNotFound {
		t.Errorf("unknown metric: status = %d, want 404", recorder.Code)
	}

	// Empty window: count 0, everything else zero.
	recorder = doRequest(t, api, http.MethodGet, "/stats?machine_id=m-001&metric_key=temperature")
	if recorder.Code != http.StatusOK {
		t.Fatalf("empty series: status = %d, want 200", recorder.Code)
	}
	var summary telemetry.StatsSummary
	decodeBody(t, recorder, &summary)
	if summary.Count != 0 || summary.Min != 0 || summary.Max != 0 || summary.P99 != 0 {
		t.Errorf("empty summary = %+v, want all zeros", summary)
	}
}

func TestExportEndpoint(t *testing.T) {
	api, store, _ := newTestAPI(t)
	ctx := context.Background()

	batch := []telemetry.Reading{
		reading("m-001", "temperature", 1000, 70.1),
		reading("m-002", "pressure", 2000, 101.2),
	}
	if err := store.AppendReadings(ctx, batch); err != nil {
		t.Fatalf("AppendReadings: %v", err)
	}

	recorder := doRequest(t, api, http.MethodGet, "/export")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); got != "application/cbor-seq" {
		t.Errorf("Content-Type = %q, want application/cbor-seq", got)
	}

	readings := decodeReadingSequence(t, recorder.Body)
	if len(readings) != 2 {
		t.Fatalf("got %d exported readings, want 2", len(readings))
	}
	if readings[0].TsMs != 1000 || readings[1].TsMs != 2000 {
		t.Errorf("export order = [%d %d], want [1000 2000]", readings[0].TsMs, readings[1].TsMs)
	}

	// Filtered export.
	recorder = doRequest(t, api, http.MethodGet, "/export?machine_id=m-002")
	readings = decodeReadingSequence(t, recorder.Body)
	if len(readings) != 1 || readings[0].MachineID != "m-002" {
		t.Errorf("filtered export = %+v, want one m-002 reading", readings)
	}

	// Unknown machine and unsupported codec are rejected.
	recorder = doRequest(t, api, http.MethodGet, "/export?machine_id=m-999")
	if recorder.Code != http.StatusNotFound {
		t.Errorf("unknown machine: status = %d, want 404", recorder.Code)
	}
	recorder = doRequest(t, api, http.MethodGet, "/export?compress=gzip")
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("compress=gzip: status = %d, want 400", recorder.Code)
	}
}

func TestExportEndpointZstd(t *testing.T) {
	api, store, _ := newTestAPI(t)
	ctx := context.Background()

	if err := store.AppendReadings(ctx, []telemetry.Reading{
		reading("m-003", "vibration", 3000, 3.3),
	}); err != nil {
		t.Fatalf("AppendReadings: %v", err)
	}

	recorder := doRequest(t, api, http.MethodGet, "/export?compress=zstd")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Encoding"); got != "zstd" {
		t.Fatalf("Content-Encoding = %q, want zstd", got)
	}

	zstdReader, err := zstd.NewReader(recorder.Body)
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer zstdReader.Close()

	readings := decodeReadingSequence(t, zstdReader)
	if len(readings) != 1 || readings[0].MetricKey != "vibration" {
		t.Errorf("decompressed export = %+v, want one vibration reading", readings)
	}
}

// decodeReadingSequence drains a CBOR sequence of readings.
func decodeReadingSequence(t *testing.T, body io.Reader) []telemetry.Reading {
	t.Helper()
	var readings []telemetry.Reading
	decoder := codec.NewDecoder(body)
	for {
		var reading telemetry.Reading
		if err := decoder.Decode(&reading); err != nil {
			if errors.Is(err, io.EOF) {
				return readings
			}
			t.Fatalf("decoding export stream: %v", err)
		}
		readings = append(readings, reading)
	}
}

func TestInternalMetricsExposition(t *testing.T) {
	api, _, _ := newTestAPI(t)

	// Drive one counted request first so the exposition has something
	// to show.
	doRequest(t, api, http.MethodGet, "/machines")

	recorder := doRequest(t, api, http.MethodGet, "/internal/metrics")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, "telemetryd_http_requests_total") {
		t.Errorf("exposition missing telemetryd_http_requests_total:\n%s", body)
	}
}

func TestSimulateEndToEnd(t *testing.T) {
	api, store, fakeClock := newTestAPI(t)

	// A tail subscriber doubles as the tick signal: its first frame
	// means the first batch is committed and visible to /latest.
	subscriber := &tailSubscriber{frames: make(chan telemetry.TailFrame, 4)}
	api.tails.subscribe(subscriber)

	recorder := doRequest(t, api, http.MethodPost, "/simulate/start")
	if recorder.Code != http.StatusOK {
		t.Fatalf("start: status = %d, want 200", recorder.Code)
	}
	testutil.RequireReceive(t, subscriber.frames, 5*time.Second, "first tick")

	recorder = doRequest(t, api, http.MethodGet, "/latest?machine_id=m-001")
	if recorder.Code != http.StatusOK {
		t.Fatalf("latest: status = %d, want 200", recorder.Code)
	}
	var readings []telemetry.Reading
	decodeBody(t, recorder, &readings)
	if len(readings) != 3 {
		t.Fatalf("got %d latest readings, want 3", len(readings))
	}
	wantTs := storeTestEpoch.UnixMilli()
	for _, r := range readings {
		if r.TsMs != wantTs {
			t.Errorf("%s ts_ms = %d, want %d", r.MetricKey, r.TsMs, wantTs)
		}
		if r.MetricKey == "temperature" && (r.Value < 64.5 || r.Value > 75.5) {
			t.Errorf("temperature = %v, outside waveform band [64.5, 75.5]", r.Value)
		}
	}

	recorder = doRequest(t, api, http.MethodPost, "/simulate/stop")
	var status telemetry.SimulatorStatus
	decodeBody(t, recorder, &status)
	if status.Running {
		t.Fatal("simulator reports running after stop")
	}

	// No rows appear once stopped, no matter how far the clock moves.
	before, err := store.CountReadings(context.Background())
	if err != nil {
		t.Fatalf("CountReadings: %v", err)
	}
	fakeClock.Advance(10 * time.Second)
	after, err := store.CountReadings(context.Background())
	if err != nil {
		t.Fatalf("CountReadings: %v", err)
	}
	if after != before {
		t.Errorf("readings grew from %d to %d after stop", before, after)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	api, _, _ := newTestAPI(t)

	recorder := doRequest(t, api, http.MethodGet, "/nope")
	if recorder.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", recorder.Code)
	}
}
