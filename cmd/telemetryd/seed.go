// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/fleetworks/telemetryd/lib/config"
)

// Seed inserts the configured machine and metric catalogs with
// INSERT OR IGNORE: rows already present are kept untouched, so
// seeding is idempotent across restarts.
func (s *Store) Seed(ctx context.Context, catalog config.CatalogConfig) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("seed: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, machine := range catalog.Machines {
		var location any
		if machine.Location != "" {
			location = machine.Location
		}
		status := machine.Status
		if status == "" {
			status = "ok"
		}
		err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO machines
			(machine_id, name, location, status)
			VALUES (?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{machine.ID, machine.Name, location, status},
		})
		if err != nil {
			return fmt.Errorf("seed: machine %s: %w", machine.ID, err)
		}
	}

	for _, metric := range catalog.Metrics {
		err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO metrics
			(metric_key, display_name, unit)
			VALUES (?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{metric.Key, metric.Name, metric.Unit},
		})
		if err != nil {
			return fmt.Errorf("seed: metric %s: %w", metric.Key, err)
		}
	}

	return nil
}
