/*
Package resilience provides circuit breaking and retry policies for upstream
provider calls.

The resilience package isolates the gateway from misbehaving registries. Each
provider gets its own three-state circuit breaker so one outage cannot drag
the others down, and transient failures are retried with jittered exponential
backoff before they surface to callers.

# Architecture

	┌──────────────────── RESILIENCE LAYER ─────────────────────┐
	│                                                             │
	│  provider call                                              │
	│       │                                                     │
	│  ┌────▼───────────────────────────────────────┐            │
	│  │              Circuit Breaker                │            │
	│  │                                             │            │
	│  │   CLOSED ──(N consecutive failures)──→ OPEN │            │
	│  │     ▲                                    │  │            │
	│  │     │                              (recovery│            │
	│  │     │                                elapsed)            │
	│  │  (probe                                  │  │            │
	│  │   succeeds)                              ▼  │            │
	│  │     └──────────────────────────── HALF-OPEN │            │
	│  │                  (probe fails → OPEN again) │            │
	│  └────┬───────────────────────────────────────┘            │
	│       │                                                     │
	│  ┌────▼───────────────────────────────────────┐            │
	│  │               Retry Loop                    │            │
	│  │  attempt 1 ── fail ── wait ~1s              │            │
	│  │  attempt 2 ── fail ── wait ~2s              │            │
	│  │  attempt 3 ── fail ── surface error         │            │
	│  │  (10% jitter, 30s interval cap)             │            │
	│  └────┬───────────────────────────────────────┘            │
	│       │                                                     │
	│   transport                                                 │
	└─────────────────────────────────────────────────────────┘

# Core Components

Breaker:
  - One per provider, created lazily by BreakerSet
  - Opens after N consecutive counted failures (default 5)
  - Open circuits fail fast with KindCircuitOpen, preserving the
    provider's rate budget for when it recovers
  - After the recovery window, up to 3 half-open probes decide
    whether to close or reopen
  - State transitions drive the breaker_state gauge and a warn log

Failure counting:
  - Counted: connection failures, 5xx responses, upstream 429s
  - Not counted: 404s, other 4xx, validation and auth errors,
    context cancellation
  - A provider returning 404s is answering; only infrastructure
    trouble should open the circuit

Retry:
  - Exponential backoff starting at 1s, doubling to a 30s cap,
    with 10% randomization
  - Three attempts total by default
  - Terminal errors stop the loop immediately
  - Upstream Retry-After hints larger than the backoff ceiling are
    terminal: waiting a minute inside a 30s request is pointless
  - Context cancellation aborts mid-wait

# Usage

Per-provider breakers:

	set := resilience.NewBreakerSet(
		resilience.BreakerConfig{Threshold: 5, Recovery: time.Minute},
		map[string]resilience.BreakerConfig{
			"sirene": {Threshold: 3, Recovery: 2 * time.Minute},
		},
	)

	result, err := set.For("sirene").Execute(func() (interface{}, error) {
		return client.Do(req)
	})

Retrying a call:

	err := resilience.Retry(ctx, "sirene", resilience.RetryConfig{Attempts: 3}, func() error {
		resp, err = transport.RoundTrip(ctx, req)
		return err
	})

Composition order (see pkg/httpcall): the breaker wraps the retry loop
so that each external attempt counts once toward the failure threshold,
and an open circuit skips retrying entirely.

# Integration Points

This package integrates with:

  - pkg/httpcall: Wraps every provider transport call
  - pkg/guicherr: Failure classification via error kinds
  - pkg/metrics: breaker_state gauge per provider
  - pkg/config: Threshold and recovery overrides per provider
  - pkg/gateway: BreakerSet.States feeds the readiness payload

# Troubleshooting

Circuit stuck open:
  - Symptom: KindCircuitOpen errors continue past recovery
  - Cause: Half-open probes keep failing
  - Check: Provider reachable (curl its base URL), breaker_state gauge
  - Solution: The circuit closes on its own once probes succeed

Circuit never opens despite failures:
  - Symptom: Slow failing calls instead of fast failures
  - Cause: Failures not consecutive (successes reset the count), or
    errors are 4xx which do not count
  - Check: provider_failures_total by kind

Retries amplifying load:
  - Symptom: Provider sees 3x traffic during incidents
  - Cause: Every caller retrying a 5xx three times
  - Mitigation: The breaker opens after the threshold and stops the
    amplification; tune Threshold lower for fragile providers

# See Also

  - pkg/httpcall for where both policies compose
  - pkg/guicherr for the error kinds that drive classification
  - https://pkg.go.dev/github.com/sony/gobreaker
  - https://pkg.go.dev/github.com/cenkalti/backoff/v4
*/
package resilience
