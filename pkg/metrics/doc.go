/*
Package metrics provides Prometheus instrumentation for Guichet.

The metrics package exposes counters, gauges, and histograms covering the
gateway's tool surface, upstream providers, resilience layers, caches,
ingestion pipeline, and audit ledger. All metrics carry the guichet_ prefix
and are registered at package initialization.

# Metric Catalog

Tool surface:
  - guichet_tool_requests_total{tool, status}
  - guichet_tool_duration_seconds{tool}

Upstream providers:
  - guichet_provider_requests_total{provider, status}
  - guichet_provider_failures_total{provider, kind}
  - guichet_provider_request_duration_seconds{provider}

Resilience:
  - guichet_ratelimit_denials_total{provider}
  - guichet_breaker_state{provider} (0 closed, 1 half-open, 2 open)

Cache:
  - guichet_cache_hits_total{namespace}
  - guichet_cache_misses_total{namespace}

Fusion:
  - guichet_fusion_shared_total
  - guichet_fusion_completeness

Ingestion:
  - guichet_ingest_runs_total{job, status}
  - guichet_ingest_rows_loaded{table}

Audit:
  - guichet_audit_entries_total
  - guichet_audit_flushes_total

# Health Endpoints

The package also tracks component health for the /healthz and /ready
endpoints. Components register their status at boot and update it as
conditions change; readiness requires redis, store, and gateway to be
healthy.

	metrics.RegisterComponent("redis", true, "")
	metrics.UpdateComponent("store", false, "database locked")

# Usage

Counting and timing:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ToolDuration, "search_entities")

	metrics.ToolRequestsTotal.WithLabelValues("search_entities", "ok").Inc()

Exposing the endpoint:

	mux.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/gateway: Tool request metrics and health endpoints
  - pkg/httpcall: Provider request metrics
  - pkg/resilience: Breaker state gauge (pushed on state change)
  - pkg/cache: Hit and miss counters
  - pkg/fusion: Single-flight and completeness metrics
  - pkg/ingest: Job run metrics
  - pkg/audit: Ledger metrics
*/
package metrics
