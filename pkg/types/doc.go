/*
Package types defines the canonical data model shared across Guichet.

Every upstream registry speaks its own field vocabulary; provider adapters
normalize raw payloads into these types before anything else sees them. The
fusion layer, the privacy redactor, the cache, and the tool surface all
exchange values of this package and never provider-specific shapes.

# Core Entities

BusinessEntity:
  - Canonical merged company record keyed by the 9-digit business key
  - Carries the establishment key (14 digits) when a site is addressed
  - Holds executives, establishments, financials, certifications
  - Sources lists every provider that contributed a field
  - Privacy ∈ {open, protected} drives redaction downstream

Executive:
  - Company officer, natural or legal person
  - BirthDate holds at most YYYY-MM precision for natural persons

Establishment:
  - One site; at most one establishment per entity has Headquarters=true

Address:
  - Street, HouseNumber and Geo are stripped on protected records

Announcement:
  - One legal notice with its register section kind:
    sale, creation, collective-procedure, accounts-filing, correction

Certification:
  - Environmental or quality label; Valid means the end date is
    strictly in the future

Document:
  - Official document delivered either as raw bytes or as a temporary
    URL carrying an expiry

Association:
  - Declared non-profit, keyed by the W + 9 digits register id

AuditEntry:
  - Append-only audit record written by the ledger

# Identifier Conventions

Business key:       9 numeric characters (company level)
Establishment key:  14 numeric characters (site level)
Association id:     "W" + 9 numeric characters

Dates are civil dates serialized as YYYY-MM-DD strings; masked birth
dates carry YYYY-MM only. Timestamps are UTC time.Time values.

# Usage

	entity := types.BusinessEntity{
		BusinessKey: "123456789",
		Name:        "ACME SAS",
		LegalForm:   &types.LegalForm{Code: "5710", Label: "SAS"},
		Active:      true,
		Privacy:     types.PrivacyOpen,
	}

	if entity.Privacy == types.PrivacyProtected {
		// privacy redaction applies before the record leaves the gateway
	}

# Invariants

  - Business keys are unique within one response
  - Protected entities never expose street or geo fields after redaction
  - At most one establishment per entity has Headquarters=true
  - Natural-person birth dates never exceed month precision

# See Also

  - pkg/providers for the normalization into these types
  - pkg/fusion for merge precedence across sources
  - pkg/privacy for the redaction rules
*/
package types
