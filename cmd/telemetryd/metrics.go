// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// instrumentation holds the Prometheus collectors for the process,
// registered on a private registry so that tests can construct
// independent instances without collector name collisions.
type instrumentation struct {
	registry *prometheus.Registry

	// Simulator counters.
	ticksTotal       prometheus.Counter
	readingsAppended prometheus.Counter
	appendFailures   prometheus.Counter
	tickDuration     prometheus.Histogram

	// HTTP request counts by route pattern and status class.
	httpRequests *prometheus.CounterVec
}

func newInstrumentation() *instrumentation {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &instrumentation{
		registry: registry,
		ticksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "telemetryd_simulator_ticks_total",
			Help: "Simulator ticks executed.",
		}),
		readingsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "telemetryd_readings_appended_total",
			Help: "Readings written to the store.",
		}),
		appendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "telemetryd_append_failures_total",
			Help: "Simulator batch writes that failed.",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetryd_tick_duration_seconds",
			Help:    "Wall time of one simulator tick including the batch write.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetryd_http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "status"}),
	}
}

// handler returns the Prometheus exposition handler for the private
// registry, served at /internal/metrics.
func (m *instrumentation) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
