// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool used by the
// telemetry store.
//
// It wraps zombiezen.com/go/sqlite with the pragmas the readings
// workload needs: WAL journal mode so the simulator's batch writes
// never block query reads, NORMAL synchronous for crash durability
// without fsync-per-commit overhead, and a busy timeout so concurrent
// writers wait instead of failing with SQLITE_BUSY.
//
// The pool is built on sqlitex.Pool, which manages a fixed-size set of
// connections. Callers [Pool.Take] a connection, perform work, and
// [Pool.Put] it back. Connections are NOT safe for concurrent use;
// each goroutine holds its own connection for the duration of its
// work.
//
// # Pragmas
//
// Every connection in the pool is initialized with:
//
//   - journal_mode=WAL: concurrent readers and a single writer. The
//     simulator appends batches while query handlers read.
//   - synchronous=NORMAL: transactions survive process crashes. Not
//     durable across power failure, which is acceptable for emulated
//     readings that can be regenerated.
//   - busy_timeout=5000: wait up to 5 seconds for the write lock.
//   - foreign_keys=ON: readings and the latest-value projection
//     reference the machine and metric catalogs; the database enforces
//     those references.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - temp_store=MEMORY: temporary structures for ORDER BY and
//     GROUP BY stay in memory.
//
// The package is intentionally thin: it applies pragmas and exposes
// the zombiezen types directly. The store writes SQL, uses
// sqlitex.Execute for cached statements, and manages transactions with
// sqlitex.ImmediateTransaction.
package sqlitepool
