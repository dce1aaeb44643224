package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Propagation metrics
	propagatedEdgesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustweave_propagated_edges_total",
		Help: "Total number of propagated trust edges written",
	})

	// Summary cache metrics
	cacheEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustweave_summary_cache_events_total",
		Help: "Summary cache hits, misses, and evictions",
	}, []string{"event"})

	// Detection metrics
	manipulationDetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustweave_manipulation_detections_total",
		Help: "Total number of manipulation detections by type",
	}, []string{"type"})

	sybilAuditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustweave_sybil_audits_total",
		Help: "Total number of sybil audits by verdict",
	}, []string{"verdict"})

	// Gauge metrics
	flaggedAddressesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trustweave_flagged_addresses",
		Help: "Current number of flagged addresses",
	})

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustweave_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trustweave_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordPropagatedEdges records how many propagated edges one operation wrote
func RecordPropagatedEdges(count int) {
	if count > 0 {
		propagatedEdgesTotal.Add(float64(count))
	}
}

// RecordCacheHit records a summary cache hit
func RecordCacheHit() {
	cacheEventsTotal.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records a summary cache miss
func RecordCacheMiss() {
	cacheEventsTotal.WithLabelValues("miss").Inc()
}

// RecordCacheEviction records a summary cache eviction
func RecordCacheEviction() {
	cacheEventsTotal.WithLabelValues("eviction").Inc()
}

// RecordManipulationDetection records a manipulation detection event
func RecordManipulationDetection(kind string) {
	manipulationDetectionsTotal.WithLabelValues(kind).Inc()
}

// RecordSybilAudit records a sybil audit with its verdict
func RecordSybilAudit(sybil bool) {
	verdict := "clean"
	if sybil {
		verdict = "sybil"
	}
	sybilAuditsTotal.WithLabelValues(verdict).Inc()
}

// SetFlaggedAddressCount updates the flagged address gauge
func SetFlaggedAddressCount(count int) {
	flaggedAddressesGauge.Set(float64(count))
}
