// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// migrationFiles holds the embedded schema migrations. Each file is
// one migration; the filename is its version. Files are applied in
// lexical filename order, so new migrations sort after existing ones.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies all pending schema migrations. Each migration runs
// inside its own IMMEDIATE transaction together with its
// schema_migrations record: it is either fully applied and recorded,
// or rolled back entirely. Migrations already recorded are skipped, so
// re-running is a no-op. A failing migration aborts with the remaining
// scripts unapplied.
func (s *Store) Migrate(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`, nil)
	if err != nil {
		return fmt.Errorf("migrate: creating schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	err = sqlitex.Execute(conn, "SELECT version FROM schema_migrations", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			applied[stmt.ColumnText(0)] = true
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("migrate: reading schema_migrations: %w", err)
	}

	versions, err := migrationVersions()
	if err != nil {
		return err
	}

	for _, version := range versions {
		if applied[version] {
			continue
		}
		script, err := migrationFiles.ReadFile("migrations/" + version)
		if err != nil {
			return fmt.Errorf("migrate: reading %s: %w", version, err)
		}
		if err := s.applyMigration(conn, version, string(script)); err != nil {
			return err
		}
		s.logger.Info("migration applied", "version", version)
	}

	return nil
}

// applyMigration runs one migration script and records it, atomically.
func (s *Store) applyMigration(conn *sqlite.Conn, version, script string) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("migrate: begin transaction for %s: %w", version, err)
	}
	defer endTransaction(&err)

	if err = sqlitex.ExecuteScript(conn, script, nil); err != nil {
		return fmt.Errorf("migrate: applying %s: %w", version, err)
	}

	appliedAt := s.clock.Now().UTC().Format(time.RFC3339Nano)
	err = sqlitex.Execute(conn, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{version, appliedAt},
	})
	if err != nil {
		return fmt.Errorf("migrate: recording %s: %w", version, err)
	}

	return nil
}

// migrationVersions returns the embedded migration filenames in lexical
// order.
func migrationVersions() ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: listing migrations: %w", err)
	}

	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		versions = append(versions, entry.Name())
	}
	sort.Strings(versions)
	return versions, nil
}
