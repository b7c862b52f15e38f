package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nos_analytics_events_total",
			Help: "Total number of events received, by destination",
		},
		[]string{"destination"},
	)

	IngestRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nos_analytics_ingest_rejections_total",
			Help: "Total number of rejected collection requests, by reason",
		},
		[]string{"reason"},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nos_analytics_rate_limit_hits_total",
			Help: "Total number of requests denied by the rate gate",
		},
	)

	RateLimitFailOpen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nos_analytics_rate_limit_fail_open_total",
			Help: "Total number of requests admitted because the counter store failed",
		},
	)

	// Storage metrics
	StorageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nos_analytics_storage_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nos_analytics_storage_errors_total",
			Help: "Total number of storage errors",
		},
		[]string{"operation"},
	)

	// Query metrics
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nos_analytics_query_duration_seconds",
			Help:    "Duration of dashboard queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Geo metrics
	GeoCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nos_analytics_geo_cache_hits_total",
			Help: "Total number of geo lookups served from cache",
		},
	)

	GeoCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nos_analytics_geo_cache_misses_total",
			Help: "Total number of geo lookups that reached the locator",
		},
	)

	GeoFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nos_analytics_geo_failures_total",
			Help: "Total number of geo lookups that degraded to Unknown",
		},
	)

	// Auth metrics
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nos_analytics_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"strategy", "result"},
	)

	// Maintenance metrics
	CleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nos_analytics_cleanup_deleted_total",
			Help: "Total number of records removed by retention cleanup",
		},
	)

	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nos_analytics_dlq_writes_total",
			Help: "Total number of events written to the dead-letter queue",
		},
		[]string{"reason"},
	)
)
