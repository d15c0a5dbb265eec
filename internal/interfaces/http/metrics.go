// Package http exposes the orchestration core's operator-facing metrics
// surface: a Prometheus registry of provider, job, and gap-detection
// counters/gauges/histograms, served over /metrics.
package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry holds every Prometheus metric the orchestration core emits.
type MetricsRegistry struct {
	ProviderRequests     *prometheus.CounterVec
	ProviderErrors       *prometheus.CounterVec
	ProviderLatency      *prometheus.HistogramVec
	RateLimitWaitSeconds *prometheus.HistogramVec
	RateLimitRejections  *prometheus.CounterVec
	BudgetUtilization    *prometheus.GaugeVec
	CircuitState         *prometheus.GaugeVec // 0=closed, 1=half-open, 2=open

	JobRunDuration *prometheus.HistogramVec
	JobRuns        *prometheus.CounterVec

	QuotesRefreshed *prometheus.CounterVec
	BarsCollected   *prometheus.CounterVec
	GapsFound       *prometheus.CounterVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// NewMetricsRegistry builds and registers every metric against the default
// Prometheus registerer.
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "marketfeed_provider_requests_total", Help: "Requests issued per provider and data type"},
			[]string{"provider", "data_type"},
		),
		ProviderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "marketfeed_provider_errors_total", Help: "Failed requests per provider and data type"},
			[]string{"provider", "data_type"},
		),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketfeed_provider_latency_seconds",
				Help:    "Provider call latency",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider", "data_type"},
		),
		RateLimitWaitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketfeed_ratelimit_wait_seconds",
				Help:    "Time spent waiting for a rate-limit token",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		RateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "marketfeed_ratelimit_rejections_total", Help: "Calls rejected because a rate-limit window was exhausted"},
			[]string{"provider", "window"},
		),
		BudgetUtilization: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "marketfeed_budget_utilization_ratio", Help: "Fraction of configured budget spent"},
			[]string{"provider", "kind"},
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "marketfeed_circuit_state", Help: "Circuit breaker state per provider (0=closed,1=half-open,2=open)"},
			[]string{"provider"},
		),
		JobRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketfeed_job_run_duration_seconds",
				Help:    "Duration of one scheduled job run",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"job"},
		),
		JobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "marketfeed_job_runs_total", Help: "Job runs per outcome"},
			[]string{"job", "outcome"},
		),
		QuotesRefreshed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "marketfeed_quotes_refreshed_total", Help: "Symbols refreshed per quote-refresh run outcome"},
			[]string{"outcome"},
		),
		BarsCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "marketfeed_bars_collected_total", Help: "Symbols collected per EOD-collection run outcome"},
			[]string{"outcome"},
		),
		GapsFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "marketfeed_gaps_found_total", Help: "Gaps surfaced by the gap detector"},
			[]string{"symbol"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "marketfeed_cache_hits_total", Help: "Cache hits per key kind"},
			[]string{"kind"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "marketfeed_cache_misses_total", Help: "Cache misses per key kind"},
			[]string{"kind"},
		),
	}

	prometheus.MustRegister(
		registry.ProviderRequests, registry.ProviderErrors, registry.ProviderLatency,
		registry.RateLimitWaitSeconds, registry.RateLimitRejections, registry.BudgetUtilization,
		registry.CircuitState, registry.JobRunDuration, registry.JobRuns,
		registry.QuotesRefreshed, registry.BarsCollected, registry.GapsFound,
		registry.CacheHits, registry.CacheMisses,
	)
	return registry
}

// MetricsHandler serves the registered metrics in the Prometheus exposition format.
func (m *MetricsRegistry) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the process-wide registry, initialized once at startup.
var DefaultMetrics *MetricsRegistry

// InitializeMetrics builds and installs the default metrics registry.
func InitializeMetrics() {
	DefaultMetrics = NewMetricsRegistry()
}
