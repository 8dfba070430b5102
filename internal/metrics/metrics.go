package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRegistry holds all Prometheus metrics for the settings service
type MetricsRegistry struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Cache Metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Business Metrics
	ConnectivityTestsTotal   *prometheus.CounterVec
	ConnectivityTestDuration *prometheus.HistogramVec
	StoreMutationsTotal      *prometheus.CounterVec
	StoreConflictsTotal      *prometheus.CounterVec
	InvalidationsTotal       *prometheus.CounterVec
	ReverifyJobDuration      prometheus.Histogram
}

// NewMetricsRegistry registers every metric against reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global registry.
func NewMetricsRegistry(reg prometheus.Registerer) *MetricsRegistry {
	factory := promauto.With(reg)

	return &MetricsRegistry{
		// HTTP Metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settings_http_requests_total",
				Help: "Total HTTP requests processed by endpoint, method, and status code",
			},
			[]string{"endpoint", "method", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "settings_http_request_duration_seconds",
				Help:    "HTTP request latency distribution in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint", "method"},
		),
		HTTPRequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "settings_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed, by method",
			},
			[]string{"method"},
		),

		// Cache Metrics
		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settings_cache_hits_total",
				Help: "Total status cache hits by family",
			},
			[]string{"family"},
		),
		CacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settings_cache_misses_total",
				Help: "Total status cache misses by family",
			},
			[]string{"family"},
		),

		// Business Metrics
		ConnectivityTestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settings_connectivity_tests_total",
				Help: "Connectivity tests by family, provider and outcome",
			},
			[]string{"family", "provider", "outcome"},
		),
		ConnectivityTestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "settings_connectivity_test_duration_seconds",
				Help:    "Connectivity test round-trip time in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			},
			[]string{"family", "provider"},
		),
		StoreMutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settings_store_mutations_total",
				Help: "Configuration store mutations by operation",
			},
			[]string{"operation"},
		),
		StoreConflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settings_store_conflicts_total",
				Help: "Optimistic-concurrency conflicts by operation",
			},
			[]string{"operation"},
		),
		InvalidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settings_cache_invalidations_total",
				Help: "Status cache invalidations by origin (local or remote)",
			},
			[]string{"origin"},
		),
		ReverifyJobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "settings_reverify_job_duration_seconds",
				Help:    "Scheduled re-verification run time in seconds",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
	}
}
