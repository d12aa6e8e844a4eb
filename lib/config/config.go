// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for telemetryd.
//
// Configuration is loaded from a single YAML file specified by:
//   - TELEMETRYD_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery, and environment
// variables never override file values. This keeps configuration
// deterministic and auditable.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for telemetryd.
type Config struct {
	// Listen is the HTTP listen address, for example ":8080".
	Listen string `yaml:"listen"`

	// Database configures the SQLite store.
	Database DatabaseConfig `yaml:"database"`

	// Simulator configures the reading generator.
	Simulator SimulatorConfig `yaml:"simulator"`

	// History configures query limit bounds.
	History HistoryConfig `yaml:"history"`

	// Catalog configures the seeded machine and metric catalogs.
	Catalog CatalogConfig `yaml:"catalog"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file. The parent directory is
	// created on startup if missing.
	// Default: ${HOME}/.local/share/telemetryd/telemetry.db
	Path string `yaml:"path"`

	// PoolSize is the connection pool size. Zero means the pool's
	// own default (max of NumCPU and 4).
	PoolSize int `yaml:"pool_size"`
}

// SimulatorConfig configures the reading generator.
type SimulatorConfig struct {
	// Interval is the tick interval as a Go duration string.
	// Default: 500ms
	Interval string `yaml:"interval"`

	// StopGrace is how long Stop waits for the tick loop to exit
	// before giving up. Default: 2s
	StopGrace string `yaml:"stop_grace"`

	// Autostart starts the simulator when the service starts.
	// Default: false
	Autostart bool `yaml:"autostart"`
}

// HistoryConfig configures query limit bounds. A request with no limit
// gets DefaultLimit; a limit outside [MinLimit, MaxLimit] is rejected.
type HistoryConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MinLimit     int `yaml:"min_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// CatalogConfig lists the machines and metrics seeded into the store
// on startup. Seeding is idempotent; rows already present are kept.
type CatalogConfig struct {
	Machines []MachineSeed `yaml:"machines"`
	Metrics  []MetricSeed  `yaml:"metrics"`
}

// MachineSeed is one machine catalog row.
type MachineSeed struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
	Status   string `yaml:"status"`
}

// MetricSeed is one metric catalog row.
type MetricSeed struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
	Unit string `yaml:"unit"`
}

// Default returns the default configuration: a three-machine fleet
// reporting temperature, pressure, and vibration every 500ms.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Listen: ":8080",
		Database: DatabaseConfig{
			Path: filepath.Join(homeDir, ".local", "share", "telemetryd", "telemetry.db"),
		},
		Simulator: SimulatorConfig{
			Interval:  "500ms",
			StopGrace: "2s",
			Autostart: false,
		},
		History: HistoryConfig{
			DefaultLimit: 500,
			MinLimit:     1,
			MaxLimit:     5000,
		},
		Catalog: CatalogConfig{
			Machines: []MachineSeed{
				{ID: "m-001", Name: "Press 1", Location: "Plant A", Status: "ok"},
				{ID: "m-002", Name: "CNC 2", Location: "Plant A", Status: "ok"},
				{ID: "m-003", Name: "Oven 1", Location: "Plant B", Status: "ok"},
			},
			Metrics: []MetricSeed{
				{Key: "temperature", Name: "Temperature", Unit: "C"},
				{Key: "pressure", Name: "Pressure", Unit: "kPa"},
				{Key: "vibration", Name: "Vibration", Unit: "mm/s"},
			},
		},
	}
}

// Load loads configuration from the TELEMETRYD_CONFIG environment
// variable. Fails if the variable is not set; use LoadFile with an
// explicit path otherwise.
func Load() (*Config, error) {
	configPath := os.Getenv("TELEMETRYD_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("TELEMETRYD_CONFIG environment variable not set; " +
			"set it to the path of your telemetryd.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging the
// file's values over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return cfg, nil
}

// TickInterval returns the parsed simulator interval. Call Validate
// first; this panics on an unparseable value.
func (c *Config) TickInterval() time.Duration {
	return mustDuration(c.Simulator.Interval)
}

// StopGrace returns the parsed simulator stop grace period. Call
// Validate first; this panics on an unparseable value.
func (c *Config) StopGrace() time.Duration {
	return mustDuration(c.Simulator.StopGrace)
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated duration %q: %v", s, err))
	}
	return d
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("listen is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}

	if d, err := time.ParseDuration(c.Simulator.Interval); err != nil {
		errs = append(errs, fmt.Errorf("simulator.interval: %w", err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("simulator.interval must be positive, got %s", d))
	}
	if d, err := time.ParseDuration(c.Simulator.StopGrace); err != nil {
		errs = append(errs, fmt.Errorf("simulator.stop_grace: %w", err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("simulator.stop_grace must be positive, got %s", d))
	}

	if c.History.MinLimit < 1 {
		errs = append(errs, fmt.Errorf("history.min_limit must be at least 1, got %d", c.History.MinLimit))
	}
	if c.History.MaxLimit < c.History.MinLimit {
		errs = append(errs, fmt.Errorf("history.max_limit (%d) must be at least history.min_limit (%d)",
			c.History.MaxLimit, c.History.MinLimit))
	}
	if c.History.DefaultLimit < c.History.MinLimit || c.History.DefaultLimit > c.History.MaxLimit {
		errs = append(errs, fmt.Errorf("history.default_limit (%d) must be within [%d, %d]",
			c.History.DefaultLimit, c.History.MinLimit, c.History.MaxLimit))
	}

	if len(c.Catalog.Machines) == 0 {
		errs = append(errs, fmt.Errorf("catalog.machines must not be empty"))
	}
	for i, machine := range c.Catalog.Machines {
		if machine.ID == "" {
			errs = append(errs, fmt.Errorf("catalog.machines[%d].id is required", i))
		}
	}
	if len(c.Catalog.Metrics) == 0 {
		errs = append(errs, fmt.Errorf("catalog.metrics must not be empty"))
	}
	for i, metric := range c.Catalog.Metrics {
		if metric.Key == "" {
			errs = append(errs, fmt.Errorf("catalog.metrics[%d].key is required", i))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDatabaseDir creates the parent directory of the database file
// if it does not exist.
func (c *Config) EnsureDatabaseDir() error {
	dir := filepath.Dir(c.Database.Path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}
