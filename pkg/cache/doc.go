/*
Package cache provides Redis-backed response caching and rate limiting for
the gateway.

The cache package wraps a Redis client with namespaced JSON caching, derives
deterministic cache keys from request parameters, enforces per-provider rate
budgets with fixed windows, and keeps cached entries coherent when the bulk
tables behind them are reloaded.

# Architecture

The package layers three components over one Redis connection:

	┌───────────────────── CACHE LAYER ─────────────────────────┐
	│                                                             │
	│  ┌────────────────────────────────────────────┐           │
	│  │                 Manager                     │           │
	│  │  - Namespace TTL policy                    │           │
	│  │  - Hit/miss metrics                        │           │
	│  │  - Entity invalidation                     │           │
	│  │  - Event-driven flush (table.loaded)       │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                       │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │                  Cache                      │           │
	│  │  - Get/Set, GetJSON/SetJSON                │           │
	│  │  - Scan/Flush by pattern (never KEYS)      │           │
	│  │  - MGet/MSet, Incr, TTL                    │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                       │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │               RateLimiter                   │           │
	│  │  - Fixed window per provider and client    │           │
	│  │  - SETNX + INCR counters                   │           │
	│  │  - Fails open on backend errors            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                       │
	│                ┌────▼────┐                                 │
	│                │  Redis  │                                 │
	│                └─────────┘                                 │
	└─────────────────────────────────────────────────────────┘

# Key Derivation

Cache keys are "<namespace>:<hex(md5(canonical JSON))>". The canonical
form sorts object keys, so two requests that differ only in JSON field
order share one entry:

	{"query":"boulangerie","page":2}  ─┐
	                                    ├─→ search:7a3f19c2...
	{"page":2,"query":"boulangerie"}  ─┘

Entity-scoped namespaces insert the business key between the namespace
and the digest ("profile:552100554:<hash>") so that invalidation can
match every entry for one entity with a single pattern.

Namespaces:

	search    Search result pages            (TTL 5m)
	profile   Assembled entity profiles      (TTL 1h)
	doc       Document listings and URLs     (TTL 24h)
	announce  Legal announcement queries     (TTL 5m)
	cert      Certification lookups          (TTL 1h)
	assoc     Association lookups            (TTL 5m)
	rl        Rate limit counters            (window-bound)

# Core Components

Cache:
  - Thin wrapper over go-redis with string and JSON helpers
  - Get returns (value, found, error); a missing key is not an error
  - Scan iterates with cursors in batches of 100, never KEYS
  - Flush deletes every key matching a pattern and reports the count

Manager:
  - Applies the TTL policy by key namespace
  - Lookup/Store record cache_hits_total and cache_misses_total
  - Backend failures degrade to misses; responses never fail on cache
  - InvalidateEntity removes profile and document entries for one key
  - Watch subscribes to the event broker and flushes search entries
    when the entities table is reloaded

RateLimiter:
  - Admit(ctx, provider, clientID, limit) returns (admitted,
    retryAfter, err)
  - Fixed window: SETNX creates the counter with the window TTL, INCR
    counts subsequent calls, the remaining TTL becomes Retry-After
  - Fails open when Redis is unreachable so provider calls continue

# Usage

Connecting:

	c, err := cache.Connect("redis://localhost:6379/0", "")
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer c.Close()

Caching a search response:

	key, err := cache.Key(cache.NSSearch, params)
	if err != nil {
		return err
	}

	var cached SearchResponse
	if manager.Lookup(ctx, key, &cached) {
		return &cached, nil
	}

	resp, err := runSearch(ctx, params)
	if err != nil {
		return nil, err
	}
	manager.Store(ctx, key, resp)

Rate limiting a provider call:

	admitted, retryAfter, err := limiter.Admit(ctx, "sirene", "default", cache.Limit{
		Requests: 30,
		Window:   time.Minute,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Rate limiter degraded")
	}
	if !admitted {
		return guicherr.RateLimited("sirene", retryAfter)
	}

Invalidation after a bulk load:

	manager := cache.NewManager(c, policy)
	manager.Watch(broker)
	defer manager.Stop()

# Invalidation Model

Three forces bound staleness:

 1. Namespace TTLs age every entry out unconditionally.
 2. InvalidateEntity drops the profile and document entries for one
    business key, used when a caller needs fresh data now.
 3. table.loaded events flush the namespaces derived from a bulk
    table (entities → search, events → announce). Event delivery is
    best effort; a missed event only extends staleness to the TTL.

# Integration Points

This package integrates with:

  - pkg/fusion: Caches assembled profiles and fused search results
  - pkg/httpcall: Admits each provider call against its rate budget
  - pkg/events: Subscribes to table.loaded for coherence flushes
  - pkg/ingest: Indirectly, through the events it publishes
  - pkg/metrics: Hit/miss counters and rate limit denial counters
  - pkg/config: TTL seconds and provider budgets come from Config

# Troubleshooting

Low hit rates:
  - Symptom: cache_misses_total grows much faster than hits
  - Check: TTLs not too short for the traffic pattern
  - Check: Request canonicalization (same query, same key)
  - Solution: Inspect keys with SCAN, compare digests for equal inputs

Rate limits never resetting:
  - Symptom: 429 responses continue past the window
  - Cause: Counter key without TTL (created before a crash)
  - Check: TTL rl:<provider>:<client> in redis-cli
  - Solution: Delete the counter; Admit recreates it with the window

Stale profiles after an ingestion run:
  - Symptom: Old data served after a bulk table reload
  - Check: Manager.Watch started and broker running
  - Check: table.loaded published by the pipeline (see ingest logs)
  - Solution: Entries age out at the namespace TTL regardless

Redis down:
  - Symptom: "Cache lookup failed" warnings, higher upstream traffic
  - Behavior: Lookups degrade to misses, rate limiter fails open
  - Solution: Restore Redis; no gateway restart required

# See Also

  - pkg/fusion for the read paths that populate the cache
  - pkg/ingest for the pipeline that triggers coherence flushes
  - pkg/config for TTL and budget configuration
*/
package cache
