// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/fleetworks/telemetryd/lib/clock"
	"github.com/fleetworks/telemetryd/lib/config"
	"github.com/fleetworks/telemetryd/lib/process"
	"github.com/fleetworks/telemetryd/lib/version"
)

// httpDrainTimeout bounds how long shutdown waits for in-flight HTTP
// requests. Tail streams are cut off at this point.
const httpDrainTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	flags := pflag.NewFlagSet("telemetryd", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to telemetryd.yaml (default: $TELEMETRYD_CONFIG)")
	listen := flags.String("listen", "", "HTTP listen address (overrides config)")
	dbPath := flags.String("db", "", "SQLite database path (overrides config)")
	autostart := flags.Bool("autostart", false, "start the simulator immediately")
	showVersion := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if *showVersion {
		fmt.Printf("telemetryd %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *autostart {
		cfg.Simulator.Autostart = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDatabaseDir(); err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if os.Getenv("TELEMETRYD_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// loadConfig resolves the configuration: the explicit --config path
// wins, then TELEMETRYD_CONFIG, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("TELEMETRYD_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// serve wires the store, simulator, and HTTP server together and runs
// until ctx is cancelled. Shutdown order: drain HTTP, stop the
// simulator, close the pool.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	clk := clock.Real()

	store, err := OpenStore(StoreConfig{
		Path:     cfg.Database.Path,
		PoolSize: cfg.Database.PoolSize,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	// A failed migration is fatal: serving queries against a
	// half-migrated schema helps nobody.
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if err := store.Seed(ctx, cfg.Catalog); err != nil {
		return err
	}

	metrics := newInstrumentation()
	tails := newTailHub(clk, logger)

	sim, err := NewSimulator(SimulatorConfig{
		Store:     store,
		Clock:     clk,
		Logger:    logger,
		Metrics:   metrics,
		Interval:  cfg.TickInterval(),
		StopGrace: cfg.StopGrace(),
		OnBatch:   tails.Publish,
	})
	if err != nil {
		return err
	}
	defer sim.Stop()

	api := &apiServer{
		store:   store,
		sim:     sim,
		tails:   tails,
		logger:  logger,
		metrics: metrics,
		limits:  cfg.History,
	}

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.routes(),
	}

	if cfg.Simulator.Autostart {
		if err := sim.Start(ctx); err != nil {
			return err
		}
	}

	logger.Info("telemetryd running",
		"listen", cfg.Listen,
		"database", cfg.Database.Path,
		"autostart", cfg.Simulator.Autostart,
		"version", version.Info(),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		drainCtx, cancel := context.WithTimeout(context.Background(), httpDrainTimeout)
		defer cancel()
		return server.Shutdown(drainCtx)
	})

	return group.Wait()
}
