package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tool surface metrics
	ToolRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guichet_tool_requests_total",
			Help: "Total number of tool invocations by tool and status",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guichet_tool_duration_seconds",
			Help:    "Tool invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Upstream provider metrics
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guichet_provider_requests_total",
			Help: "Total number of upstream requests by provider and HTTP status",
		},
		[]string{"provider", "status"},
	)

	ProviderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guichet_provider_failures_total",
			Help: "Total number of upstream failures by provider and error kind",
		},
		[]string{"provider", "kind"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guichet_provider_request_duration_seconds",
			Help:    "Upstream request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Resilience metrics
	RateLimitDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guichet_ratelimit_denials_total",
			Help: "Total number of requests denied by the local rate limiter",
		},
		[]string{"provider"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guichet_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)

	// Credential metrics
	TokenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guichet_token_refreshes_total",
			Help: "Total number of credential refreshes by service and outcome",
		},
		[]string{"service", "status"},
	)

	// Cache metrics
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guichet_cache_hits_total",
			Help: "Total number of cache hits by namespace",
		},
		[]string{"namespace"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guichet_cache_misses_total",
			Help: "Total number of cache misses by namespace",
		},
		[]string{"namespace"},
	)

	// Fusion metrics
	FusionSharedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guichet_fusion_shared_total",
			Help: "Total number of requests served by an in-flight identical computation",
		},
	)

	FusionCompleteness = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guichet_fusion_completeness",
			Help:    "Share of fan-out tasks that succeeded per merged response",
			Buckets: prometheus.LinearBuckets(0, 0.25, 5),
		},
	)

	// Ingestion metrics
	IngestRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guichet_ingest_runs_total",
			Help: "Total number of ingest job runs by job and outcome",
		},
		[]string{"job", "status"},
	)

	IngestRowsLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guichet_ingest_rows_loaded",
			Help: "Rows loaded by the last successful ingest per table",
		},
		[]string{"table"},
	)

	// Audit metrics
	AuditEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guichet_audit_entries_total",
			Help: "Total number of audit entries recorded",
		},
	)

	AuditFlushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guichet_audit_flushes_total",
			Help: "Total number of audit buffer flushes",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ToolRequestsTotal)
	prometheus.MustRegister(ToolDuration)
	prometheus.MustRegister(ProviderRequestsTotal)
	prometheus.MustRegister(ProviderFailuresTotal)
	prometheus.MustRegister(ProviderRequestDuration)
	prometheus.MustRegister(RateLimitDenialsTotal)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(TokenRefreshesTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(FusionSharedTotal)
	prometheus.MustRegister(FusionCompleteness)
	prometheus.MustRegister(IngestRunsTotal)
	prometheus.MustRegister(IngestRowsLoaded)
	prometheus.MustRegister(AuditEntriesTotal)
	prometheus.MustRegister(AuditFlushesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
