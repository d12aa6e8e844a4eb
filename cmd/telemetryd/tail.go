// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fleetworks/telemetryd/lib/clock"
	"github.com/fleetworks/telemetryd/lib/codec"
	"github.com/fleetworks/telemetryd/lib/schema/telemetry"
)

const (
	// tailHeartbeatInterval is how often an idle tail connection gets
	// a heartbeat frame. Keeps intermediaries from timing out the
	// response and lets clients detect a dead server.
	tailHeartbeatInterval = 10 * time.Second

	// tailFrameBufferSize is the channel capacity per subscriber. At
	// the default 500ms tick, 64 slots is ~30 seconds of backlog
	// before frames are dropped.
	tailFrameBufferSize = 64
)

// tailHub fans simulator batches out to connected tail subscribers.
// The simulator publishes via the onBatch hook; each HTTP tail handler
// registers one subscriber. Sends are non-blocking: a slow subscriber
// drops frames, never the write path.
type tailHub struct {
	clock  clock.Clock
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers []*tailSubscriber
}

// tailSubscriber is one connected tail client. machineID, when
// non-empty, filters the stream to a single machine.
type tailSubscriber struct {
	machineID string
	frames    chan telemetry.TailFrame
}

func newTailHub(clk clock.Clock, logger *slog.Logger) *tailHub {
	return &tailHub{clock: clk, logger: logger}
}

// Publish fans one appended batch out to all subscribers. Called from
// the simulator's tick goroutine after a successful append.
func (h *tailHub) Publish(batch []telemetry.Reading) {
	if len(batch) == 0 {
		return
	}
	tsMs := batch[0].TsMs

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, subscriber := range h.subscribers {
		readings := batch
		if subscriber.machineID != "" {
			readings = filterReadings(batch, subscriber.machineID)
			if len(readings) == 0 {
				continue
			}
		}
		frame := telemetry.TailFrame{
			Type:     telemetry.TailFrameBatch,
			TsMs:     tsMs,
			Readings: readings,
		}
		select {
		case subscriber.frames <- frame:
		default:
			// Subscriber is slow. Drop the frame; clients detect gaps
			// via ts_ms discontinuity.
		}
	}
}

// filterReadings returns the readings of one machine. The batch is
// grouped by machine, so the result is a contiguous subslice in the
// common case; copying keeps the frame independent of the batch.
func filterReadings(batch []telemetry.Reading, machineID string) []telemetry.Reading {
	var filtered []telemetry.Reading
	for i := range batch {
		if batch[i].MachineID == machineID {
			filtered = append(filtered, batch[i])
		}
	}
	return filtered
}

// subscribe registers a subscriber for fan-out.
func (h *tailHub) subscribe(subscriber *tailSubscriber) {
	h.mu.Lock()
	h.subscribers = append(h.subscribers, subscriber)
	h.mu.Unlock()
}

// unsubscribe deregisters a subscriber.
func (h *tailHub) unsubscribe(subscriber *tailSubscriber) {
	h.mu.Lock()
	for i, existing := range h.subscribers {
		if existing == subscriber {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
}

// handleTail serves GET /tail: a CBOR sequence of TailFrame items,
// batch frames as the simulator appends them plus periodic heartbeats.
// The stream stays open until the client disconnects. An optional
// machine_id parameter filters the stream; an unknown machine_id is a
// 404 so clients notice typos instead of watching a silent stream.
func (a *apiServer) handleTail(w http.ResponseWriter, r *http.Request) {
	machineID := r.URL.Query().Get("machine_id")
	if machineID != "" {
		exists, err := a.store.MachineExists(r.Context(), machineID)
		if err != nil {
			a.writeError(w, http.StatusInternalServerError, "querying machine catalog")
			return
		}
		if !exists {
			a.writeError(w, http.StatusNotFound, "unknown machine_id")
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	subscriber := &tailSubscriber{
		machineID: machineID,
		frames:    make(chan telemetry.TailFrame, tailFrameBufferSize),
	}
	a.tails.subscribe(subscriber)
	defer a.tails.unsubscribe(subscriber)

	w.Header().Set("Content-Type", "application/cbor-seq")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	a.logger.Info("tail stream started", "machine_id", machineID)
	defer a.logger.Info("tail stream ended", "machine_id", machineID)

	encoder := codec.NewEncoder(w)
	heartbeat := a.tails.clock.NewTicker(tailHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case frame := <-subscriber.frames:
			if err := encoder.Encode(frame); err != nil {
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if err := encoder.Encode(telemetry.TailFrame{Type: telemetry.TailFrameHeartbeat}); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
