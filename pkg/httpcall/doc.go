/*
Package httpcall is the single entry point for every upstream provider
request.

The httpcall package composes the gateway's protection layers around one
HTTP exchange and maps each provider's status codes onto the shared error
kinds, so adapters deal in typed errors instead of raw responses.

# Architecture

Composition order, outermost first:

	┌────────────────────── HTTP CALLER ────────────────────────┐
	│                                                             │
	│  Do(ctx, Request)                                           │
	│       │                                                     │
	│  ┌────▼────────────┐   denied → RateLimited(retry_after)   │
	│  │   Rate Limit    │   (authoritative backpressure)        │
	│  └────┬────────────┘                                        │
	│  ┌────▼────────────┐   open → CircuitOpen                  │
	│  │ Circuit Breaker │   (fail fast, budget preserved)       │
	│  └────┬────────────┘                                        │
	│  ┌────▼────────────┐   transient → backoff and retry       │
	│  │   Retry Loop    │   terminal → surface immediately      │
	│  └────┬────────────┘                                        │
	│  ┌────▼────────────┐   auth headers, User-Agent,           │
	│  │    Transport    │   per-call timeout, pooled client     │
	│  └────┬────────────┘                                        │
	│       ▼                                                     │
	│   status mapping → Response or typed error                 │
	└──────────────────────────────────────────────────────────┘

Each provider gets its own pooled http.Client; requests to one slow
provider cannot exhaust another's connections.

# Status Mapping

	2xx            Response passes through
	401            credential invalidated, one in-place re-issue with
	               fresh headers; a second 401 → AuthUnavailable
	404            NotFound (the tool surface renders an empty result)
	429            RateLimited with the upstream's Retry-After
	               (default 60s when absent)
	other 4xx      Upstream, terminal (no retry)
	5xx            Upstream, retryable
	network error  Upstream without status, retryable
	call timeout   Upstream without status, retryable; the caller's
	               own cancellation is never retried

# Timeouts and Budgets

Each ProviderProfile declares a JSON timeout (default 30s) and a
document timeout (default 300s). Document downloads (Request.Download)
switch to the document timeout and, when the profile declares a
PDFLimit, draw from a separate rate budget, so bulk PDF fetches cannot
starve JSON queries against the same provider.

# Usage

Declaring a provider:

	profile := httpcall.ProviderProfile{
		Name:        "sirene",
		AuthService: auth.ServiceINSEE,
		Limit:       cache.Limit{Requests: 30, Window: time.Minute},
		Timeout:     30 * time.Second,
		Retry:       resilience.RetryConfig{Attempts: 3},
	}

One call:

	resp, err := caller.Do(ctx, httpcall.Request{
		Provider: "sirene",
		URL:      baseURL + "/siren/" + businessKey,
	})
	if err != nil {
		return nil, err
	}
	var envelope sireneEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode sirene response: %w", err)
	}

Walking pages:

	err := caller.GetPages(ctx, req, "page", 1, 10, func(page int, body []byte) (bool, error) {
		var envelope searchEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return false, err
		}
		results = append(results, envelope.Results...)
		return envelope.TotalPages > page, nil
	})

Pages are fetched sequentially with a 100ms delay; the page cap stops
upstreams that never report a last page.

# Integration Points

This package integrates with:

  - pkg/providers: Every adapter operation goes through Do/GetPages
  - pkg/auth: Headers before each call, invalidation after a 401
  - pkg/cache: The rate limiter's fixed windows live in Redis
  - pkg/resilience: Breaker and retry policies
  - pkg/guicherr: The typed errors this package produces
  - pkg/metrics: Request counts, durations, and failure kinds

# Troubleshooting

Everything rate limited:
  - Symptom: rate_limited errors with no upstream requests
  - Check: ratelimit_denials_total per provider; the local budget is
    denying before the call leaves the gateway
  - Solution: Raise the provider's rate_limit, or wait for the window

Persistent auth_unavailable:
  - Symptom: Calls fail after two 401s
  - Cause: The upstream rejects tokens the credential service just
    issued (scope or subscription mismatch)
  - Check: Provider subscription status, configured scopes

Slow downloads timing out:
  - Symptom: "request timed out after 5m0s" on document fetches
  - Solution: Raise the provider's pdf_timeout_seconds

# See Also

  - pkg/providers for the adapters built on this caller
  - pkg/resilience for breaker and retry behavior
  - pkg/auth for the credential lifecycle
*/
package httpcall
