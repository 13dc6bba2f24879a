// Package telemetry provides observability primitives for the mason API.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ActiveRequests     prometheus.Gauge
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheStores        *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec
	CacheErrors        *prometheus.CounterVec
	CacheEntries       prometheus.Gauge
	CacheSwept         prometheus.Counter
	RateLimitRejects   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mason",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "mason",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds, split by cache outcome.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path", "cache"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mason",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mason",
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		}, []string{"namespace"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mason",
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		}, []string{"namespace"}),

		CacheStores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mason",
			Name:      "cache_stores_total",
			Help:      "Total responses captured into the cache.",
		}, []string{"namespace"}),

		CacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mason",
			Name:      "cache_invalidations_total",
			Help:      "Total namespace invalidations.",
		}, []string{"namespace"}),

		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mason",
			Name:      "cache_errors_total",
			Help:      "Total cache backend failures, by operation.",
		}, []string{"op"}),

		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mason",
			Name:      "cache_entries",
			Help:      "Current number of stored cache entries, including unswept expired ones.",
		}),

		CacheSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mason",
			Name:      "cache_swept_total",
			Help:      "Total expired entries removed by the sweeper.",
		}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mason",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.CacheStores,
		m.CacheInvalidations,
		m.CacheErrors,
		m.CacheEntries,
		m.CacheSwept,
		m.RateLimitRejects,
	)

	return m
}
