// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry defines the wire types shared between the
// telemetryd server and its clients: catalog entries, readings,
// history points, simulator status, stats summaries, and the frames
// of the live tail stream.
//
// JSON tags serve the HTTP API; CBOR tags serve the tail and export
// streams. Field names follow the database column names so that rows
// map to wire objects without translation.
package telemetry
