// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/fleetworks/telemetryd/lib/clock"
	"github.com/fleetworks/telemetryd/lib/schema/telemetry"
)

// Simulator generates synthetic sensor readings for every
// (machine, metric) pair in the catalog. One goroutine ticks at the
// configured interval; each tick produces one batch sharing a single
// timestamp, appended atomically via Store.AppendReadings.
//
// State transitions (Stopped ⇄ Running) are guarded by mu: concurrent
// Start calls produce exactly one tick loop, concurrent Stop calls are
// idempotent. Ticks never overlap; a slow tick delays the next one
// rather than skipping or queueing.
type Simulator struct {
	store     *Store
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *instrumentation
	interval  time.Duration
	stopGrace time.Duration

	// onBatch, when set, receives each successfully appended batch.
	// Used to fan batches out to tail subscribers.
	onBatch func(batch []telemetry.Reading)

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// SimulatorConfig holds the parameters for creating a simulator.
type SimulatorConfig struct {
	Store   *Store
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *instrumentation

	// Interval is the tick period. Required, must be positive.
	Interval time.Duration

	// StopGrace is how long Stop waits for the tick loop to exit.
	StopGrace time.Duration

	// OnBatch receives each successfully appended batch. Optional.
	OnBatch func(batch []telemetry.Reading)
}

// NewSimulator creates a stopped simulator.
func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("simulator: Store is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("simulator: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("simulator: Logger is required")
	}
	if cfg.Metrics == nil {
		return nil, fmt.Errorf("simulator: Metrics is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("simulator: Interval must be positive, got %s", cfg.Interval)
	}
	stopGrace := cfg.StopGrace
	if stopGrace <= 0 {
		stopGrace = 2 * time.Second
	}

	return &Simulator{
		store:     cfg.Store,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		interval:  cfg.Interval,
		stopGrace: stopGrace,
		onBatch:   cfg.OnBatch,
	}, nil
}

// Start transitions the simulator to Running and spawns the tick loop.
// A no-op when already Running. The catalog and the per-machine and
// per-metric phase offsets are loaded once per run, so machines keep
// their waveform identity for the lifetime of the run.
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	machineIDs, metricKeys, err := s.store.CatalogPairs(ctx)
	if err != nil {
		return fmt.Errorf("simulator: loading catalog: %w", err)
	}

	// Phase offsets keep machines from reporting identical waveforms.
	machinePhases := make(map[string]float64, len(machineIDs))
	for _, machineID := range machineIDs {
		machinePhases[machineID] = rand.Float64() * 10
	}
	metricPhases := make(map[string]float64, len(metricKeys))
	for _, metricKey := range metricKeys {
		metricPhases[metricKey] = rand.Float64() * 10
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.loop(machineIDs, metricKeys, machinePhases, metricPhases, s.stop, s.done)

	s.logger.Info("simulator started",
		"machines", len(machineIDs),
		"metrics", len(metricKeys),
		"interval", s.interval,
	)
	return nil
}

// Stop signals the tick loop and waits up to the grace period for it
// to exit. A no-op when already Stopped. Returns regardless once the
// grace period elapses; the loop cannot block indefinitely because its
// only waits are the clock and the batch write.
func (s *Simulator) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stop)
	done := s.done
	s.running = false
	s.mu.Unlock()

	select {
	case <-done:
		s.logger.Info("simulator stopped")
	case <-s.clock.After(s.stopGrace):
		s.logger.Warn("simulator loop did not exit within grace period",
			"grace", s.stopGrace,
		)
	}
}

// Running reports the current state. Safe from any goroutine.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// loop emits one batch immediately, then one per interval until
// stopped. The only blocking point between ticks is the clock wait,
// interruptible by the stop signal. The loop outlives the Start
// caller's context; Stop is the only way to end it.
func (s *Simulator) loop(machineIDs, metricKeys []string, machinePhases, metricPhases map[string]float64, stop, done chan struct{}) {
	defer close(done)

	for {
		s.tick(machineIDs, metricKeys, machinePhases, metricPhases)

		select {
		case <-stop:
			return
		case <-s.clock.After(s.interval):
		}
	}
}

// tick generates and appends one batch. A failed append is logged and
// counted; the tick's readings are lost and the loop continues. A
// write fault never crashes the process.
func (s *Simulator) tick(machineIDs, metricKeys []string, machinePhases, metricPhases map[string]float64) {
	started := s.clock.Now()
	tsMs := started.UnixMilli()
	t := float64(started.UnixNano()) / float64(time.Second)

	batch := make([]telemetry.Reading, 0, len(machineIDs)*len(metricKeys))
	for _, machineID := range machineIDs {
		machinePhase := machinePhases[machineID]
		for _, metricKey := range metricKeys {
			batch = append(batch, telemetry.Reading{
				MachineID: machineID,
				MetricKey: metricKey,
				TsMs:      tsMs,
				Value:     sampleValue(metricKey, t, machinePhase, metricPhases[metricKey]),
			})
		}
	}

	// Batch writes are never cancelled mid-flight; the store's busy
	// timeout bounds how long a write can stall.
	if err := s.store.AppendReadings(context.Background(), batch); err != nil {
		s.metrics.appendFailures.Inc()
		s.logger.Error("simulator batch write failed",
			"ts_ms", tsMs,
			"readings", len(batch),
			"error", err,
		)
		return
	}

	s.metrics.ticksTotal.Inc()
	s.metrics.readingsAppended.Add(float64(len(batch)))
	s.metrics.tickDuration.Observe(s.clock.Now().Sub(started).Seconds())

	if s.onBatch != nil {
		s.onBatch(batch)
	}
}

// sampleValue computes one synthetic sensor value: a smooth wave over
// wall-clock seconds t, shifted by the machine and metric phase
// offsets, plus uniform noise. Ranges are tuned per metric.
func sampleValue(metricKey string, t, machinePhase, metricPhase float64) float64 {
	noise := rand.Float64() - 0.5 // uniform in [-0.5, 0.5)

	switch metricKey {
	case "temperature":
		return 70 + 5*math.Sin(t/6+machinePhase+metricPhase) + noise
	case "pressure":
		return 101.3 + 2*math.Sin(t/4+machinePhase*0.7+metricPhase) + noise*0.3
	case "vibration":
		return 3 + 1.5*math.Abs(math.Sin(t/2+machinePhase+metricPhase)) + noise*0.2
	default:
		return 10 + math.Sin(t+machinePhase+metricPhase) + noise
	}
}
