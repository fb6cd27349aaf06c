// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch Metrics
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_total",
			Help: "Total number of source fetch attempts",
		},
		[]string{"source_id", "result"}, // result: "success", "failure"
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Duration of source fetches in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"source_id"},
	)

	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_retries_total",
			Help: "Total number of HTTP fetch retries",
		},
		[]string{"host"},
	)

	FetchItemsReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_items_returned",
			Help:    "Number of items returned per fetch",
			Buckets: []float64{0, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"source_id"},
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"tier"}, // "memory", "remote"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"tier"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"tier"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of cache evictions (TTL expiry or capacity)",
		},
		[]string{"tier"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"tier", "operation"},
	)

	// Scheduler Metrics
	SchedulerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_queue_depth",
			Help: "Number of sources currently due for fetching",
		},
	)

	SchedulerActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_active_workers",
			Help: "Number of worker slots currently executing fetches",
		},
	)

	SchedulerJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_total",
			Help: "Total number of scheduled fetch jobs",
		},
		[]string{"result"}, // "success", "failure", "skipped"
	)

	SchedulerSourceInterval = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_source_interval_seconds",
			Help: "Current adaptive fetch interval per source",
		},
		[]string{"source_id"},
	)

	// Deduplication Metrics
	DedupDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_dropped_total",
			Help: "Total number of items dropped as duplicates",
		},
		[]string{"source_id"},
	)

	DedupFingerprints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_fingerprints",
			Help: "Current number of tracked deduplication fingerprints",
		},
	)

	// Aggregator Metrics
	AggregatorClusters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aggregator_clusters",
			Help: "Current number of hot-topic clusters",
		},
	)

	AggregatorUpdateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregator_update_duration_seconds",
			Help:    "Duration of cluster rebuild passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Proxy Metrics
	ProxyHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxy_healthy",
			Help: "Proxy health state (1=healthy, 0=unhealthy)",
		},
		[]string{"group"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_failures_total",
			Help: "Total number of proxy request failures",
		},
		[]string{"group"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"host"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"host", "from_state", "to_state"},
	)

	// Catalog Metrics
	CatalogQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_query_duration_seconds",
			Help:    "Duration of catalog database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CatalogQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_query_errors_total",
			Help: "Total number of catalog database query errors",
		},
		[]string{"operation"},
	)

	// Stats Flush Metrics
	StatsFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_flush_total",
			Help: "Total number of stats flush attempts",
		},
		[]string{"result"}, // "success", "failure"
	)

	StatsPendingSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stats_pending_sources",
			Help: "Number of sources with unflushed stats accumulators",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)
)

// RecordFetch records a completed source fetch.
func RecordFetch(sourceID string, duration time.Duration, itemCount int, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	FetchTotal.WithLabelValues(sourceID, result).Inc()
	FetchDuration.WithLabelValues(sourceID).Observe(duration.Seconds())
	if err == nil {
		FetchItemsReturned.WithLabelValues(sourceID).Observe(float64(itemCount))
	}
}

// RecordCacheHit records a hit on the given cache tier.
func RecordCacheHit(tier string) {
	CacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a miss on the given cache tier.
func RecordCacheMiss(tier string) {
	CacheMisses.WithLabelValues(tier).Inc()
}

// RecordCacheError records a backend error on the given cache tier.
func RecordCacheError(tier, operation string) {
	CacheErrors.WithLabelValues(tier, operation).Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCatalogQuery records a catalog database query.
func RecordCatalogQuery(operation string, duration time.Duration, err error) {
	CatalogQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		CatalogQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordStatsFlush records a stats flush attempt.
func RecordStatsFlush(err error) {
	if err != nil {
		StatsFlushTotal.WithLabelValues("failure").Inc()
		return
	}
	StatsFlushTotal.WithLabelValues("success").Inc()
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// SetBreakerState records a circuit breaker state change.
func SetBreakerState(host string, state int) {
	CircuitBreakerState.WithLabelValues(host).Set(float64(state))
}
