/*
Package fusion assembles answers no single registry can give: it fans
one request out across the provider adapters and the bulk analytic
tables, merges the partial answers by a fixed precedence ladder, and
returns one canonical record with assembly metadata.

The package owns the aggregation semantics of the gateway. Everything
below it speaks one registry at a time; everything above it receives
merged entities and never learns which upstream contributed which
field.

# Architecture

	             ┌───────────────────────────────────────┐
	  gateway    │             Orchestrator              │
	──────────►  │                                       │
	             │ cache lookup ── hit ──► answer        │
	             │      │ miss                           │
	             │ singleflight (one flight per          │
	             │      │        fingerprint)            │
	             │ fan-out: errgroup + semaphore(5)      │
	             │   rne  sirene  recherche  static …    │
	             │      │                                │
	             │ merge by ladder, redact, cache, audit │
	             └───────────────────────────────────────┘

The precedence ladder is rne > sirene > recherche > rna > static. The
highest-ranked source present sets a field; lower sources only fill
what is still empty. Source tags accumulate, so a merged record names
everyone who contributed.

# Core Components

Orchestrator carries the provider registry, the bulk store, the cache
manager, the redactor and the audit ledger. It exposes Profile for
single-entity assembly and Search for fused multi-source search.

Profile probes the registry of record for the diffusion status first,
then fetches the trade register, the registry of record and the open
index in parallel, plus establishments, documents and certifications
when the request selects them. The bulk tables are consulted only
when no live registry identified the entity, so live data always
outranks the stock. Partial failure degrades completeness; only all
sources failing fails the call.

Search queries the open index always, the registry of record when
activity or size filters are present, the bulk tables always, and the
associations register on request. Results dedupe by business key with
ladder precedence, score by query relevance and sort by score then
name.

Identical in-flight requests share one fan-out through a singleflight
group keyed by the request fingerprint. Flights run under the
orchestrator's own context: a caller that gives up detaches without
aborting the flight other callers are joined on, and Close aborts all
of them at shutdown.

Profile metadata reports the contributing sources in fixed order, the
assembly time, data_freshness (current when any live registry
answered, stale when only the bulk tables did) and completeness as
the ratio of contributing sources to attempted ones.

# Usage

	orch := fusion.New(registry, store, cacheManager, redactor, ledger)
	defer orch.Close()

	profile, err := orch.Profile(ctx, fusion.ProfileRequest{
		BusinessKey:           "552032534",
		IncludeEstablishments: true,
	})

	results, err := orch.Search(ctx, fusion.SearchRequest{
		Query:               "boulangerie",
		IncludeAssociations: true,
	})

# Integration Points

  - pkg/providers: the Registry whose adapters the fan-out calls.
  - pkg/analytic: the bulk tables behind the static source.
  - pkg/cache: fingerprints via cache.Key, lookups and stores via the
    Manager, which also owns the TTL per namespace.
  - pkg/privacy: every merged record passes through the redactor
    before it is cached or returned.
  - pkg/audit: one entry per caller, after the flight resolves, with
    cache_hit and shared flags in the metadata.

# Troubleshooting

A profile with completeness below 1.0 lost at least one source; the
per-source warning Profile source failed names which one and why. The
answer is still served.

Two identical concurrent requests producing two upstream fan-outs
means their fingerprints differ: compare the canonical request JSON,
a field excluded from the fingerprint must carry the json:"-" tag.

data_freshness stale on a well-known entity means every live registry
failed or missed and the bulk tables answered; check the breaker
states before suspecting the merge.

# See Also

  - pkg/providers for the adapters the fan-out calls
  - pkg/privacy for the redaction rules applied after merging
  - pkg/gateway for the tool surface over this package
*/
package fusion
