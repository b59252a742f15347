/*
Package auth provides the credential store for upstream registry services.

The auth package owns every provider credential: it obtains tokens through
three different exchange schemes, caches them per service, renews them ahead
of expiry, and serializes renewal so concurrent callers never stampede a
token endpoint.

# Architecture

	┌───────────────────── CREDENTIAL STORE ────────────────────┐
	│                                                             │
	│  HeadersFor(ctx, service)                                   │
	│       │                                                     │
	│  ┌────▼───────────────────────────────────────┐            │
	│  │              Token Cache                    │            │
	│  │  - One token per service                   │            │
	│  │  - expired = now ≥ expiry − skew (300s)    │            │
	│  │  - Dropped on Invalidate (after a 401)     │            │
	│  └────┬───────────────────────────────────────┘            │
	│       │ expired or absent                                   │
	│  ┌────▼───────────────────────────────────────┐            │
	│  │         Single-Flight Refresh               │            │
	│  │  - One exchange per service at a time       │            │
	│  │  - Waiting callers share the result         │            │
	│  └────┬───────────────────────────────────────┘            │
	│       │                                                     │
	│  ┌────▼───────────────────────────────────────┐            │
	│  │            Authenticators                   │            │
	│  │                                             │            │
	│  │  insee, dgfip   OAuth2 client credentials   │            │
	│  │  inpi           JSON username/password      │            │
	│  │  entreprise     Static long-lived bearer    │            │
	│  └────┬───────────────────────────────────────┘            │
	│       │ dedicated HTTP client (15s timeout)                 │
	│       ▼                                                     │
	│  token endpoints                                            │
	└──────────────────────────────────────────────────────────┘

# Credential Schemes

Client credentials (insee, dgfip):
  - POST form grant to the token endpoint via golang.org/x/oauth2
  - Expiry from expires_in
  - Refresh prefers the refresh_token grant when one was issued,
    falling back to a full exchange

Password login (inpi):
  - POST JSON {username, password}, response carries a bearer token
  - Expiry read from the token's exp claim when it is a JWT,
    else 24 hours
  - Refresh is a re-login; the scheme has no cheaper path

Static bearer (entreprise):
  - Token supplied at boot through configuration
  - Expiry from the exp claim, else six months
  - An expired static token is a configuration error; there is
    nothing the gateway can renew

JWT expiry is read without signature verification: the gateway consumes
these tokens, it does not accept them, and the claim only schedules
renewal.

# Failure Modes

  - Token endpoint unreachable or 5xx → AuthUnavailable (retryable;
    the endpoint may recover)
  - Token endpoint 4xx → AuthConfig (fatal until credentials are
    fixed; retrying the same secret cannot succeed)
  - Provider 401 at request time → the HTTP layer calls Invalidate;
    the next HeadersFor re-authenticates

# Credential Safety

Token values never reach logs, events, or metrics. Refresh logging
records the service name and expiry only. The token.refreshed and
token.invalidated events carry the same two fields.

# Usage

Boot wiring:

	store := auth.NewStore(cfg.Credentials, broker)

	// Fail fast when a required provider cannot authenticate.
	if err := store.Prime(ctx, cfg.RequireAuthAtBoot...); err != nil {
		return err
	}

Per-request headers:

	headers, err := store.HeadersFor(ctx, "insee")
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

Anonymous providers (recherche, bodacc, rna, rge) pass an empty service
name and receive an empty map.

After a 401:

	store.Invalidate("insee")

API Entreprise requests additionally carry the configured
Recipient, Object, and Context headers
that identify the requesting administration and its legal ground.

# Concurrency

Refreshes are single-flighted per service: ten concurrent HeadersFor
calls against an expired token produce exactly one exchange, and all
ten receive the new value. Tokens are value types; callers hold copies
that stay valid until their expiry even if the store refreshes behind
them.

The refresh path uses its own HTTP client so credential renewal never
competes with, or depends on, a provider adapter's connection pool.

# Integration Points

This package integrates with:

  - pkg/httpcall: Fetches headers before each request, invalidates
    after a 401
  - pkg/config: Credential material and the RequireAuthAtBoot list
  - pkg/events: token.refreshed / token.invalidated notifications
  - pkg/metrics: token_refreshes_total by service and outcome
  - cmd/guichet: Prime at boot; exit code 3 on required-auth failure

# Troubleshooting

AuthConfig at boot:
  - Symptom: Process exits with code 3
  - Cause: A service in require_auth_at_boot rejected its credentials
  - Check: Client id/secret (insee, dgfip), username/password (inpi),
    token validity (entreprise)

Tokens refreshing too often:
  - Symptom: token_refreshes_total climbing fast
  - Cause: Upstream issuing very short expiries, or expiry inside the
    300s skew on every call
  - Check: "Credential refreshed" log lines and their expires_at

401s despite fresh tokens:
  - Symptom: auth_expired errors recurring per request
  - Cause: Upstream rejecting a token it just issued (scope mismatch)
  - Check: Scope configuration for the service

# See Also

  - pkg/httpcall for where headers are applied and 401s handled
  - pkg/config for credential configuration shapes
  - https://pkg.go.dev/golang.org/x/oauth2/clientcredentials
*/
package auth
