// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

// Telemetryd emulates a fleet of industrial machines emitting periodic
// sensor telemetry, stores the stream in SQLite, and serves it over an
// HTTP JSON API.
//
// The three moving parts are the simulator (one goroutine generating a
// batch of readings per tick), the store (one writer, many readers,
// WAL mode), and the query handlers. The simulator is controlled at
// runtime through the /simulate endpoints; everything else is read
// path.
//
// # HTTP API
//
//   - GET  /machines            machine catalog
//   - GET  /metrics             metric catalog
//   - GET  /latest              newest reading per metric for one machine
//   - GET  /history             time-bounded series for one (machine, metric)
//   - GET  /stats               count/min/max/mean and sketch quantiles
//   - POST /simulate/start      start the simulator
//   - POST /simulate/stop       stop the simulator
//   - GET  /simulate/status     simulator state
//   - GET  /tail                live CBOR sequence of simulator batches
//   - GET  /export              bulk CBOR dump, optionally zstd-compressed
//   - GET  /internal/metrics    Prometheus exposition
//
// # Startup
//
// Configuration comes from a YAML file (--config or TELEMETRYD_CONFIG)
// with flag overrides. Startup order: open the pool, apply migrations
// (fatal on failure), seed the catalogs, start the HTTP server, and
// optionally autostart the simulator. SIGINT/SIGTERM drains the HTTP
// server, stops the simulator, and closes the pool.
package main
