// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

// Package metrics provides Prometheus instrumentation for the tracker.
//
// The host application decides whether and where to expose these; the
// tracker only records. Collectors cover telemetry batching, the view
// ledger, reaction toggles, and the circuit breaker guarding the batch
// endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Telemetry Batcher Metrics
	TelemetryEventsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewmark_telemetry_events_enqueued_total",
			Help: "Total number of telemetry events accepted by the batcher",
		},
	)

	TelemetryBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewmark_telemetry_batches_total",
			Help: "Total number of batched telemetry requests",
		},
		[]string{"status"}, // "success", "failure"
	)

	TelemetryBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "viewmark_telemetry_batch_size",
			Help:    "Number of events per flushed batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		},
	)

	TelemetryFallbackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewmark_telemetry_fallback_events_total",
			Help: "Total number of per-event fallback deliveries after a failed batch",
		},
		[]string{"status"}, // "success", "failure"
	)

	// View Ledger Metrics
	ViewRecordsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewmark_view_records_written_total",
			Help: "Total number of view records appended to the durable ledger",
		},
	)

	ViewRecordsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewmark_view_records_expired_total",
			Help: "Total number of view records dropped by TTL filtering",
		},
	)

	LedgerCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewmark_ledger_cache_hits_total",
			Help: "Total number of ledger cache hits",
		},
		[]string{"cache"}, // "records", "actor"
	)

	LedgerCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewmark_ledger_cache_misses_total",
			Help: "Total number of ledger cache misses",
		},
		[]string{"cache"},
	)

	// Reaction Metrics
	ReactionToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewmark_reaction_toggles_total",
			Help: "Total number of reaction toggle attempts",
		},
		[]string{"kind", "status"}, // kind: "like", "dislike"; status: "success", "failure", "unauthenticated"
	)

	ReactionReloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewmark_reaction_reloads_total",
			Help: "Total number of full content refetches triggered by failed toggles",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viewmark_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewmark_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// RecordBatch records the outcome of one batched telemetry request.
func RecordBatch(size int, err error) {
	TelemetryBatchSize.Observe(float64(size))
	if err != nil {
		TelemetryBatches.WithLabelValues("failure").Inc()
		return
	}
	TelemetryBatches.WithLabelValues("success").Inc()
}

// RecordFallback records the outcome of one per-event fallback delivery.
func RecordFallback(err error) {
	if err != nil {
		TelemetryFallbackEvents.WithLabelValues("failure").Inc()
		return
	}
	TelemetryFallbackEvents.WithLabelValues("success").Inc()
}

// RecordCacheLookup records a ledger cache hit or miss.
func RecordCacheLookup(cache string, hit bool) {
	if hit {
		LedgerCacheHits.WithLabelValues(cache).Inc()
		return
	}
	LedgerCacheMisses.WithLabelValues(cache).Inc()
}
