// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// recall service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring cascading
// recall operations. Metrics include:
//   - Recall counters (by query class and final status)
//   - Tier latency histograms (tier1, tier2, tier3, total)
//   - Source failure counters
//   - Active recall gauges
//   - Auto-tuning adjustment counters
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for recall metrics
const recallSubsystem = "recall"

// Tier names used as histogram labels.
const (
	TierOne   = "tier1"
	TierTwo   = "tier2"
	TierThree = "tier3"
	TierTotal = "total"
)

// RecallMetrics holds all Prometheus metrics for cascading recall
// operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring recall
// performance. Create once at startup via NewMetrics() with the
// process registry; tests pass a private registry so parallel test
// packages never collide on registration.
//
// # Thread Safety
//
// All operations are thread-safe.
type RecallMetrics struct {
	// RecallsTotal counts recall requests by query class and status.
	// Labels: class (episodic, procedural, graph, general), status
	// (success, partial, error)
	RecallsTotal *prometheus.CounterVec

	// TierDurationSeconds measures per-tier latency.
	// Labels: tier (tier1, tier2, tier3, total)
	TierDurationSeconds *prometheus.HistogramVec

	// SourceFailuresTotal counts failed source calls.
	// Labels: source, outcome (timeout, error)
	SourceFailuresTotal *prometheus.CounterVec

	// ActiveRecalls tracks in-flight recall requests.
	ActiveRecalls prometheus.Gauge

	// TuningAdjustments counts accepted auto-tuning recomputations.
	// Labels: class, strategy
	TuningAdjustments *prometheus.CounterVec

	// MetricsDropped counts profiler entries evicted before expiry.
	MetricsDropped prometheus.Counter
}

// NewMetrics creates and registers all recall metrics on reg.
//
// # Inputs
//
//   - reg: Registry to register on. Pass prometheus.DefaultRegisterer
//     in production and prometheus.NewRegistry() in tests.
//
// # Outputs
//
//   - *RecallMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if the same metrics are registered twice on one registry.
func NewMetrics(reg prometheus.Registerer) *RecallMetrics {
	factory := promauto.With(reg)

	return &RecallMetrics{
		RecallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: recallSubsystem,
				Name:      "requests_total",
				Help:      "Total recall requests by query class and status",
			},
			[]string{"class", "status"},
		),

		TierDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: recallSubsystem,
				Name:      "tier_duration_seconds",
				Help:      "Recall latency per cascade tier in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"tier"},
		),

		SourceFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: recallSubsystem,
				Name:      "source_failures_total",
				Help:      "Failed source calls by source name and outcome",
			},
			[]string{"source", "outcome"},
		),

		ActiveRecalls: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: recallSubsystem,
				Name:      "active_requests",
				Help:      "Number of in-flight recall requests",
			},
		),

		TuningAdjustments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: recallSubsystem,
				Name:      "tuning_adjustments_total",
				Help:      "Accepted auto-tuning recomputations by class and strategy",
			},
			[]string{"class", "strategy"},
		),

		MetricsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: recallSubsystem,
				Name:      "profiler_entries_dropped_total",
				Help:      "Profiler entries evicted by the count cap before window expiry",
			},
		),
	}
}

// RecordRecall records a completed recall request.
//
// # Inputs
//
//   - class: The classified query class.
//   - status: Final request status (success, partial, error).
func (m *RecallMetrics) RecordRecall(class, status string) {
	m.RecallsTotal.WithLabelValues(class, status).Inc()
}

// RecordTier records one tier's latency.
func (m *RecallMetrics) RecordTier(tier string, seconds float64) {
	m.TierDurationSeconds.WithLabelValues(tier).Observe(seconds)
}

// RecordSourceFailure records a failed source call.
//
// # Inputs
//
//   - source: The source name.
//   - outcome: "timeout" or "error".
func (m *RecallMetrics) RecordSourceFailure(source, outcome string) {
	m.SourceFailuresTotal.WithLabelValues(source, outcome).Inc()
}

// RecallStarted increments the active requests gauge.
func (m *RecallMetrics) RecallStarted() {
	m.ActiveRecalls.Inc()
}

// RecallEnded decrements the active requests gauge.
func (m *RecallMetrics) RecallEnded() {
	m.ActiveRecalls.Dec()
}

// RecordTuningAdjustment records one accepted tuning recomputation.
func (m *RecallMetrics) RecordTuningAdjustment(class, strategy string) {
	m.TuningAdjustments.WithLabelValues(class, strategy).Inc()
}
