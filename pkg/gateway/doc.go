/*
Package gateway is the tool surface of the service: thirteen typed
tools over the registries, and an HTTP facade that exposes each one as
a POST route.

The tools own input validation, per-tool caching, not-found
normalization and audit entries. Entity search and profile assembly
delegate to the fusion orchestrator; everything else speaks to one
provider adapter and shapes its answer.

# Architecture

	POST /v1/tools/<name>
	      │
	   Server ── decode ── Tools.<Tool> ── validate
	      │                    │
	      │                 cache? ── hit ──► answer
	      │                    │ miss
	      │                 adapter / orchestrator
	      │                    │
	      │                 cache write, audit
	      ◄── status map ──────┘

Error kinds map onto transport codes in one place: validation 400,
privacy_denied 403, rate_limited 429 with a Retry-After header, and
every upstream or auth failure 502. A missing record is not an error:
each tool folds not_found into its empty answer before the transport
sees it.

# Core Components

Tools carries the fusion orchestrator, the provider registry, the bulk
store, the cache manager, the ingestion scheduler and the audit
ledger. One method per tool:

  - SearchEntities, EntityProfile: fused answers via pkg/fusion, which
    owns their caching, single-flight and audit.
  - SearchAnnouncements, EntityTimeline, FinancialHealth: the
    announcements register, with the search window cached.
  - DownloadDocument, ListDocuments: acts and statutes through the
    trade register, extracts, accounts and attestations through the
    documents API; byte deliveries cached per entity and kind.
  - SearchAssociations, AssociationDetails: the associations register.
  - Certifications: the environmental register, cached per entity,
    with force_refresh to bypass a stale answer.
  - ExportData: search results or profiles rendered as JSON or CSV,
    capped at 1000 rows; size always reports the content length.
  - UpdateStaticData, PipelineStatus: the ingestion scheduler.

Server routes the tools under /v1/tools and serves /healthz, /readyz,
/livez and /metrics. Handler is exposed for httptest.

A cancelled request returns before the cache write and audit append,
so a caller that gave up never creates a retrieval record.

# Usage

	tools := gateway.NewTools(orch, registry, store, cacheManager, scheduler, ledger)
	srv := gateway.NewServer(":8080", tools)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("gateway failed")
		}
	}()
	defer srv.Shutdown(ctx)

# Integration Points

  - pkg/fusion: entity search and profile assembly.
  - pkg/providers: the register adapters behind the remaining tools.
  - pkg/cache: fingerprints and per-namespace TTLs; document and
    certification keys embed the business key so entity invalidation
    reaches them.
  - pkg/ingest: the scheduler behind the admin tools.
  - pkg/audit: one entry per terminal tool outcome.
  - pkg/metrics: request counters and latency histograms per tool,
    plus the health and readiness handlers.

# Troubleshooting

A 400 naming a 14-digit key means the caller sent an establishment key
where the 9-digit business key belongs; the message says so verbatim.

A tool answering from cache when fresh data is expected: check the
namespace TTLs in pkg/cache, or pass force_refresh where the tool
offers it.

# See Also

  - pkg/fusion for the aggregation behind the entity tools
  - cmd/guichet for boot order and shutdown
*/
package gateway
