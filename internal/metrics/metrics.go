// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup results.
const (
	LookupHit         = "hit"
	LookupMiss        = "miss"
	LookupError       = "error"
	LookupRemote      = "remote"
	LookupLocal       = "local"
	LookupUnavailable = "unavailable"
)

var (
	// Analysis cache

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_cache_lookups_total",
			Help: "Analysis lookups by outcome (hit, miss, error, remote, local, unavailable)",
		},
		[]string{"mode", "result"},
	)

	CachePuts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verdant_cache_puts_total",
			Help: "Analyses written to the local store",
		},
	)

	CachePutFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verdant_cache_put_failures_total",
			Help: "Analysis writes that failed and were discarded",
		},
	)

	CachePurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_cache_purged_total",
			Help: "Records deleted by retention sweeps and clears",
		},
		[]string{"collection", "reason"},
	)

	StoreEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verdant_store_analyses",
			Help: "Number of cached analyses at the last stats call",
		},
	)

	StoreSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verdant_store_size_bytes",
			Help: "Approximate size of the analysis collection",
		},
	)

	StoreDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verdant_store_degraded",
			Help: "1 when the store fell back to in-memory session-only mode",
		},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verdant_store_operation_duration_seconds",
			Help:    "Duration of store operations",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// Patterns and suggestions

	PatternUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_pattern_upserts_total",
			Help: "Usage pattern upserts by kind (created, updated)",
		},
		[]string{"kind"},
	)

	PatternsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verdant_patterns_evicted_total",
			Help: "Patterns removed by the size cap",
		},
	)

	SuggestionsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verdant_suggestions_generated_total",
			Help: "Suggestions emitted by regeneration passes",
		},
	)

	SuggestionsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verdant_suggestions_pruned_total",
			Help: "Stale suggestions deleted",
		},
	)

	// Model registry

	ModelAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_model_acquisitions_total",
			Help: "Model acquisitions by outcome (completed, failed, joined, rejected)",
		},
		[]string{"model", "outcome"},
	)

	ModelState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "verdant_model_state",
			Help: "Model lifecycle state: 0 uncached, 1 acquiring, 2 cached",
		},
		[]string{"model"},
	)

	ModelProcessCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_model_process_total",
			Help: "Local inference calls by outcome (ok, not_cached, cached_result, error)",
		},
		[]string{"model", "outcome"},
	)

	// Connectivity

	OfflineMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verdant_offline_mode",
			Help: "1 while the coordinator considers the device offline",
		},
	)

	ConnectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_connectivity_transitions_total",
			Help: "Online/offline transitions by new state",
		},
		[]string{"state"},
	)

	// Remote inference

	InferenceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_inference_requests_total",
			Help: "Remote inference calls by status (success, failure, rejected)",
		},
		[]string{"status"},
	)

	InferenceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verdant_inference_duration_seconds",
			Help:    "Latency of successful remote inference calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	InferenceBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verdant_inference_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
	)

	InferenceBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_inference_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)

	// Event router

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_events_published_total",
			Help: "Events published to the in-process bus",
		},
		[]string{"topic"},
	)

	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_events_handled_total",
			Help: "Event handler executions by outcome (success, error, duplicate)",
		},
		[]string{"handler", "outcome"},
	)

	// HTTP API

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verdant_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordLookup counts an analysis lookup.
func RecordLookup(mode, result string) {
	CacheLookups.WithLabelValues(mode, result).Inc()
}

// RecordStoreOperation observes how long a store call took.
func RecordStoreOperation(operation string, started time.Time) {
	StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// RecordPurge counts deleted rows.
func RecordPurge(collection, reason string, n int) {
	if n > 0 {
		CachePurged.WithLabelValues(collection, reason).Add(float64(n))
	}
}

// SetStoreStats publishes the latest store population.
func SetStoreStats(count, sizeBytes int64) {
	StoreEntries.Set(float64(count))
	StoreSizeBytes.Set(float64(sizeBytes))
}

// SetBool sets g to 1 or 0.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// RecordInference records a remote inference attempt.
func RecordInference(status string, d time.Duration) {
	InferenceRequests.WithLabelValues(status).Inc()
	if status == "success" {
		InferenceDuration.Observe(d.Seconds())
	}
}

// RecordAPIRequest records an HTTP request.
func RecordAPIRequest(method, route, status string, d time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
