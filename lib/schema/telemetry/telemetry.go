// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

// Machine is one machine catalog entry. MachineID is unique and
// immutable; Status is the only mutable field.
type Machine struct {
	MachineID string `json:"machine_id" cbor:"machine_id"`
	Name      string `json:"name" cbor:"name"`
	Location  string `json:"location,omitempty" cbor:"location,omitempty"`
	Status    string `json:"status" cbor:"status"`
}

// Metric is one metric catalog entry. MetricKey is unique and
// immutable.
type Metric struct {
	MetricKey   string `json:"metric_key" cbor:"metric_key"`
	DisplayName string `json:"display_name" cbor:"display_name"`
	Unit        string `json:"unit" cbor:"unit"`
}

// Reading is one sensor sample: the value of one metric on one machine
// at one timestamp. The (machine_id, metric_key, ts_ms) triple is
// globally unique; readings are immutable once stored.
type Reading struct {
	MachineID string  `json:"machine_id" cbor:"machine_id"`
	MetricKey string  `json:"metric_key" cbor:"metric_key"`
	TsMs      int64   `json:"ts_ms" cbor:"ts_ms"`
	Value     float64 `json:"value" cbor:"value"`
}

// ReadingPoint is one history sample with the machine and metric
// implied by the query.
type ReadingPoint struct {
	TsMs  int64   `json:"ts_ms" cbor:"ts_ms"`
	Value float64 `json:"value" cbor:"value"`
}

// SimulatorStatus is the response of the simulate endpoints: the
// post-call state of the simulator.
type SimulatorStatus struct {
	Running bool `json:"running"`
}

// StatsSummary aggregates one (machine, metric) series over a time
// window. Count, Min, Max, and Mean are exact; the quantiles are
// sketch estimates with relative accuracy around 1%.
type StatsSummary struct {
	MachineID string  `json:"machine_id"`
	MetricKey string  `json:"metric_key"`
	Count     int64   `json:"count"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Mean      float64 `json:"mean"`
	P50       float64 `json:"p50"`
	P90       float64 `json:"p90"`
	P95       float64 `json:"p95"`
	P99       float64 `json:"p99"`
}

// Tail frame types. The tail stream is a CBOR sequence of TailFrame
// items: batch frames carry the readings of one simulator tick,
// heartbeat frames keep idle connections alive.
const (
	TailFrameBatch     = "batch"
	TailFrameHeartbeat = "heartbeat"
)

// TailFrame is one item of the tail stream.
type TailFrame struct {
	// Type is TailFrameBatch or TailFrameHeartbeat.
	Type string `cbor:"type"`

	// TsMs is the shared timestamp of the batch. Zero on heartbeats.
	TsMs int64 `cbor:"ts_ms,omitempty"`

	// Readings are the samples of one tick, possibly filtered to one
	// machine. Empty on heartbeats.
	Readings []Reading `cbor:"readings,omitempty"`
}

// ErrorResponse is the JSON error envelope of the HTTP API.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
