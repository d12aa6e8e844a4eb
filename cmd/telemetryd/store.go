// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/fleetworks/telemetryd/lib/clock"
	"github.com/fleetworks/telemetryd/lib/schema/telemetry"
	"github.com/fleetworks/telemetryd/lib/sqlitepool"
)

// Store manages SQLite storage for the telemetry fleet: the machine
// and metric catalogs, the append-only readings log, and the
// latest_readings projection.
//
// Write path: the simulator calls AppendReadings once per tick. The
// whole batch is written in a single IMMEDIATE transaction that also
// refreshes the latest_readings projection, so the projection can
// never lag the log by more than one in-flight transaction.
//
// Read path: query methods serve the HTTP handlers. Readers run on
// separate pool connections and, with WAL mode, never block on the
// writer beyond commit duration.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// StoreConfig holds the parameters for creating a telemetry store.
type StoreConfig struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative.
	PoolSize int

	// Clock provides timestamps for the migration log.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// OpenStore creates a telemetry store backed by SQLite. The database
// file is created if it does not exist. Call Migrate before using any
// other method.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("telemetry store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("telemetry store: Logger is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry store: %w", err)
	}

	return &Store{
		pool:   pool,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// AppendReadings writes a batch of readings in a single IMMEDIATE
// transaction. A reading whose (machine_id, metric_key, ts_ms) key
// already exists is silently skipped; the stored value is never
// overwritten. The latest_readings projection is refreshed in the same
// transaction, taking a new row only when its ts_ms is strictly newer
// than the projected one.
func (s *Store) AppendReadings(ctx context.Context, batch []telemetry.Reading) error {
	if len(batch) == 0 {
		return nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("telemetry store: append: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("telemetry store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for i := range batch {
		reading := &batch[i]

		err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO readings
			(machine_id, metric_key, ts_ms, value)
			VALUES (?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{reading.MachineID, reading.MetricKey, reading.TsMs, reading.Value},
		})
		if err != nil {
			return fmt.Errorf("telemetry store: insert reading: %w", err)
		}

		// A duplicate key above means the log kept its first value, so
		// the strict ts_ms comparison here leaves the projection
		// untouched as well.
		err = sqlitex.Execute(conn, `INSERT INTO latest_readings
			(machine_id, metric_key, ts_ms, value)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (machine_id, metric_key) DO UPDATE SET
				ts_ms = excluded.ts_ms,
				value = excluded.value
			WHERE excluded.ts_ms > latest_readings.ts_ms`, &sqlitex.ExecOptions{
			Args: []any{reading.MachineID, reading.MetricKey, reading.TsMs, reading.Value},
		})
		if err != nil {
			return fmt.Errorf("telemetry store: update latest projection: %w", err)
		}
	}

	return nil
}

// QueryLatest returns the newest reading per metric for one machine,
// ordered by metric_key ascending. Machines that have never reported
// get an empty slice.
func (s *Store) QueryLatest(ctx context.Context, machineID string) ([]telemetry.Reading, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("telemetry store: query latest: %w", err)
	}
	defer s.pool.Put(conn)

	readings := []telemetry.Reading{}
	err = sqlitex.Execute(conn, `SELECT machine_id, metric_key, ts_ms, value
		FROM latest_readings
		WHERE machine_id = ?
		ORDER BY metric_key`, &sqlitex.ExecOptions{
		Args: []any{machineID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			readings = append(readings, telemetry.Reading{
				MachineID: stmt.ColumnText(0),
				MetricKey: stmt.ColumnText(1),
				TsMs:      stmt.ColumnInt64(2),
				Value:     stmt.ColumnFloat(3),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry store: query latest: %w", err)
	}
	return readings, nil
}

// QueryHistory returns up to limit readings for one (machine, metric)
// pair within optional inclusive timestamp bounds (nil means
// unbounded). It selects the limit most recent rows and presents them
// in ascending ts_ms order for charting.
func (s *Store) QueryHistory(ctx context.Context, machineID, metricKey string, startMs, endMs *int64, limit int) ([]telemetry.ReadingPoint, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("telemetry store: query history: %w", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT ts_ms, value FROM readings
		WHERE machine_id = ? AND metric_key = ?`
	args := []any{machineID, metricKey}
	if startMs != nil {
		query += " AND ts_ms >= ?"
		args = append(args, *startMs)
	}
	if endMs != nil {
		query += " AND ts_ms <= ?"
		args = append(args, *endMs)
	}
	query += " ORDER BY ts_ms DESC LIMIT ?"
	args = append(args, limit)

	points := []telemetry.ReadingPoint{}
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			points = append(points, telemetry.ReadingPoint{
				TsMs:  stmt.ColumnInt64(0),
				Value: stmt.ColumnFloat(1),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry store: query history: %w", err)
	}

	// Rows arrive newest first; reverse for ascending presentation.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// ListMachines returns the machine catalog ordered by machine_id.
func (s *Store) ListMachines(ctx context.Context) ([]telemetry.Machine, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("telemetry store: list machines: %w", err)
	}
	defer s.pool.Put(conn)

	machines := []telemetry.Machine{}
	err = sqlitex.Execute(conn, `SELECT machine_id, name, location, status
		FROM machines ORDER BY machine_id`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			machine := telemetry.Machine{
				MachineID: stmt.ColumnText(0),
				Name:      stmt.ColumnText(1),
				Status:    stmt.ColumnText(3),
			}
			if !stmt.ColumnIsNull(2) {
				machine.Location = stmt.ColumnText(2)
			}
			machines = append(machines, machine)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry store: list machines: %w", err)
	}
	return machines, nil
}

// ListMetrics returns the metric catalog ordered by metric_key.
func (s *Store) ListMetrics(ctx context.Context) ([]telemetry.Metric, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("telemetry store: list metrics: %w", err)
	}
	defer s.pool.Put(conn)

	metrics := []telemetry.Metric{}
	err = sqlitex.Execute(conn, `SELECT metric_key, display_name, unit
		FROM metrics ORDER BY metric_key`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			metrics = append(metrics, telemetry.Metric{
				MetricKey:   stmt.ColumnText(0),
				DisplayName: stmt.ColumnText(1),
				Unit:        stmt.ColumnText(2),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry store: list metrics: %w", err)
	}
	return metrics, nil
}

// MachineExists reports whether a machine_id is present in the catalog.
func (s *Store) MachineExists(ctx context.Context, machineID string) (bool, error) {
	return s.catalogRowExists(ctx, "SELECT 1 FROM machines WHERE machine_id = ?", machineID)
}

// MetricExists reports whether a metric_key is present in the catalog.
func (s *Store) MetricExists(ctx context.Context, metricKey string) (bool, error) {
	return s.catalogRowExists(ctx, "SELECT 1 FROM metrics WHERE metric_key = ?", metricKey)
}

func (s *Store) catalogRowExists(ctx context.Context, query, key string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("telemetry store: existence check: %w", err)
	}
	defer s.pool.Put(conn)

	exists := false
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("telemetry store: existence check: %w", err)
	}
	return exists, nil
}

// CatalogPairs returns the machine ids and metric keys the simulator
// emits readings for, each sorted ascending.
func (s *Store) CatalogPairs(ctx context.Context) (machineIDs, metricKeys []string, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry store: catalog pairs: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "SELECT machine_id FROM machines ORDER BY machine_id", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			machineIDs = append(machineIDs, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry store: catalog pairs: %w", err)
	}

	err = sqlitex.Execute(conn, "SELECT metric_key FROM metrics ORDER BY metric_key", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			metricKeys = append(metricKeys, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry store: catalog pairs: %w", err)
	}

	return machineIDs, metricKeys, nil
}

// QueryValues streams the raw values of one (machine, metric) series
// within optional inclusive bounds, in ascending ts_ms order, calling
// fn once per value. Used by the stats handler to feed a sketch
// without materializing the series.
func (s *Store) QueryValues(ctx context.Context, machineID, metricKey string, startMs, endMs *int64, fn func(value float64) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("telemetry store: query values: %w", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT value FROM readings
		WHERE machine_id = ? AND metric_key = ?`
	args := []any{machineID, metricKey}
	if startMs != nil {
		query += " AND ts_ms >= ?"
		args = append(args, *startMs)
	}
	if endMs != nil {
		query += " AND ts_ms <= ?"
		args = append(args, *endMs)
	}
	query += " ORDER BY ts_ms"

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			return fn(stmt.ColumnFloat(0))
		},
	})
	if err != nil {
		return fmt.Errorf("telemetry store: query values: %w", err)
	}
	return nil
}

// ExportReadings streams stored readings in (ts_ms, machine_id,
// metric_key) order, calling fn once per reading. An empty machineID
// exports the whole log. Used by the export handler.
func (s *Store) ExportReadings(ctx context.Context, machineID string, fn func(reading telemetry.Reading) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("telemetry store: export: %w", err)
	}
	defer s.pool.Put(conn)

	query := "SELECT machine_id, metric_key, ts_ms, value FROM readings"
	var args []any
	if machineID != "" {
		query += " WHERE machine_id = ?"
		args = append(args, machineID)
	}
	query += " ORDER BY ts_ms, machine_id, metric_key"

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			return fn(telemetry.Reading{
				MachineID: stmt.ColumnText(0),
				MetricKey: stmt.ColumnText(1),
				TsMs:      stmt.ColumnInt64(2),
				Value:     stmt.ColumnFloat(3),
			})
		},
	})
	if err != nil {
		return fmt.Errorf("telemetry store: export: %w", err)
	}
	return nil
}

// CountReadings returns the total number of stored readings.
func (s *Store) CountReadings(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("telemetry store: count: %w", err)
	}
	defer s.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM readings", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("telemetry store: count: %w", err)
	}
	return count, nil
}
