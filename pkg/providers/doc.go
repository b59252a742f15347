/*
Package providers holds one adapter per upstream registry and
translates each registry's wire dialect into the canonical entities
of pkg/types.

Adapters own everything provider-specific: endpoint paths, query
dialects, envelope shapes, pagination parameters, and field names.
Nothing above this package ever sees an upstream JSON tag; the fusion
and gateway layers work with BusinessEntity, Announcement,
Association, Certification and Document exclusively.

# Architecture

	                     ┌────────────────────────────┐
	   fusion / gateway  │         Registry           │
	──────────────────►  │                            │
	                     │ Recherche  open, search    │
	                     │ Sirene     OAuth2, registry│
	                     │ RNE        login, register │
	                     │ BODACC     open, notices   │
	                     │ RNA        open, nonprofits│
	                     │ RGE        open, labels    │
	                     │ Entreprise bearer, PDFs    │
	                     └──────────┬─────────────────┘
	                                │ httpcall.Request
	                     ┌──────────▼─────────────────┐
	                     │      httpcall.Caller       │
	                     │ limits, breakers, retry,   │
	                     │ credentials, status → kind │
	                     └────────────────────────────┘

All seven adapters share one Caller. Per-provider budgets and
credential services are declared once in Profiles and enforced below
this package, so an adapter method body is wire mapping and nothing
else.

# Core Components

Registry bundles the adapters for injection. Profiles and
BreakerOverrides translate the provider configuration into the call
profiles and circuit settings the HTTP layer consumes.

Recherche is the primary free-text search. It carries the richest
search filters (activity, postal code, department, size bucket,
status) and the label complements (ess, bio, qualiopi), which are
lifted into Certification entries on the results.

Sirene is the registry of record for identity and privacy status.
Every response carries a {statut, message} envelope that is checked
before the payload is trusted; a protected diffusion status reduces
addresses to postal code and city at the adapter boundary already.

RNE is the trade register: executives, share capital, filings. Birth
dates of natural persons are truncated to year-month before they
leave the adapter, so no caller ever holds a full birth date.

BODACC queries legal announcements through an AND-joined where DSL
with inclusive date bounds. Its section letters map to announcement
kinds as A=sale, B=creation, C=collective-procedure,
D=accounts-filing, P=correction. FinancialHealth grades an entity
HIGH when a collective procedure was published within the last year,
MEDIUM when only older ones exist, LOW otherwise.

RNA resolves associations by registry id (W + nine digits), by
business key, or by free text.

RGE lists environmental certifications. A certification is valid iff
its end date lies strictly in the future; Summary digests lines into
the certified/domains/next-expiry verdict.

Entreprise serves official documents (extract, yearly accounts,
fiscal and social certificates) either as raw PDF bytes or as a
temporary signed URL, and probes availability with HEAD requests.
PDF retrieval runs under the provider's separate document budget.

# Usage

Wiring at boot:

	profiles := providers.Profiles(cfg.Providers)
	breakers := resilience.NewBreakerSet(defaults, providers.BreakerOverrides(cfg.Providers))
	caller := httpcall.New(profiles, limiter, breakers, store, version)
	registry := providers.NewRegistry(caller, cfg.Providers)

	entity, err := registry.Sirene.Entity(ctx, "552032534")

Fetching a document as bytes:

	doc, err := registry.Entreprise.Download(ctx, key, types.DocumentExtract, 0, providers.FormatBytes)

# Integration Points

  - pkg/httpcall: every adapter call goes through the shared Caller;
    adapters never hold an http.Client.
  - pkg/fusion: consumes Registry for fan-out and merges adapter
    results by the source precedence ladder.
  - pkg/auth: Profiles binds sirene to the INSEE service, rne to the
    INPI service and entreprise to its bearer; the other four
    registries are anonymous.
  - pkg/types: the only vocabulary adapters are allowed to return.

# Troubleshooting

An entity that exists upstream but comes back NotFound from sirene
usually failed the envelope check: the registry answers 200 with a
non-200 statut in the header. Log the header message; "aucun" or
"non trouvé" is a genuine miss, anything else is an upstream fault.

Empty search results with a 200 from BODACC most often mean the where
clause filtered everything out; reproduce with the logged where
string against the catalog console before suspecting the adapter.

RGE lines arrive one per certificate and work domain, so raw result
counts exceed the number of distinct certifications; the adapter
dedupes by certificate code and work domain.

# See Also

  - pkg/httpcall for budgets, breakers and status mapping
  - pkg/fusion for how adapter results are merged
  - pkg/privacy for the redaction applied after merging
*/
package providers
