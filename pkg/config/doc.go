/*
Package config loads and validates the Guichet gateway configuration.

Configuration comes from three layers, later layers winning:

 1. Built-in defaults (Default) carrying the public registry endpoints,
    their documented rate budgets, cache TTLs and breaker settings.
 2. An optional YAML file. Unknown keys are rejected so typos fail fast
    instead of being silently ignored.
 3. GUICHET_* environment variables for deployment-specific values,
    credentials in particular.

The merged result is validated with struct tags; an invalid configuration
aborts startup with exit code 2.

# Configuration File

	listen: "localhost:8090"
	log_level: info
	log_json: true

	redis:
	  url: "redis://localhost:6379/0"

	store:
	  path: "/var/lib/guichet/guichet.db"

	audit:
	  dir: "/var/lib/guichet/audit"
	  buffer_size: 100
	  flush_interval_seconds: 60

	providers:
	  sirene:
	    rate_limit: 30
	    window_seconds: 60
	    breaker_threshold: 3
	    breaker_recovery_seconds: 120

	credentials:
	  insee:
	    client_id: "..."
	    client_secret: "..."
	  inpi:
	    username: "..."
	    password: "..."
	  entreprise:
	    token: "..."
	    recipient_id: "..."

# Environment Overrides

	GUICHET_LISTEN                   listen address
	GUICHET_LOG_LEVEL                debug | info | warn | error
	GUICHET_REDIS_URL                redis connection URL
	GUICHET_REDIS_PASSWORD           redis password
	GUICHET_STORE_PATH               analytic store file
	GUICHET_AUDIT_DIR                audit ledger directory
	GUICHET_SCRATCH_DIR              ingest download directory
	GUICHET_INSEE_CLIENT_ID          INSEE OAuth2 client id
	GUICHET_INSEE_CLIENT_SECRET      INSEE OAuth2 client secret
	GUICHET_DGFIP_CLIENT_ID          DGFIP OAuth2 client id
	GUICHET_DGFIP_CLIENT_SECRET      DGFIP OAuth2 client secret
	GUICHET_INPI_USERNAME            INPI account
	GUICHET_INPI_PASSWORD            INPI password
	GUICHET_ENTREPRISE_TOKEN         API Entreprise bearer
	GUICHET_ENTREPRISE_RECIPIENT_ID  API Entreprise recipient id

# Per-Provider Budgets

Every provider entry declares its base URL, a fixed-window rate budget,
a call timeout and an optional circuit-breaker override. The documents
provider carries a second budget for PDF downloads, which the rate
limiter tracks separately from JSON calls.

# Usage

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
*/
package config
