/*
Package privacy applies the registry redaction rules to canonical
records before they leave the gateway. French registries flag records
whose holder requested non-diffusion; this package is the single place
where that flag turns into removed and masked fields, so every tool
response is redacted the same way no matter which providers fed it.

# Rule Model

A rule is {condition, applies_to, remove, mask}:

	Rule{
	    Name:      "protected-address",
	    Condition: Condition{Field: "privacy", Value: "protected"},
	    AppliesTo: []Target{TargetAddress},
	    Remove:    []Field{FieldHouseNumber, FieldStreet, FieldGeo},
	}

Conditions match flags on the record or an ancestor: executives
inherit the entity's privacy flag, establishments inherit it for their
addresses. The built-in set is:

	protected-address  privacy=protected  remove house number, street, geo
	protected-person   privacy=protected  remove birth place, mask birth date
	natural-person     kind=natural       remove birth place, mask birth date

natural-person fires regardless of the privacy flag: birth dates of
natural persons never leave the gateway at more than YYYY-MM
precision.

# Application Order

RedactEntity walks the record depth-first:

	entity
	 |- address
	 |- establishments[i].address
	 '- executives[i]

Within one record, removals run before masks. The walk is idempotent:
a second pass finds nothing left to change, so redact(redact(E))
equals redact(E). Protected records and records where a rule removed
or masked something carry DefaultNotice in privacy_notice, explaining
the gaps to the caller.

# Usage

	redactor := privacy.NewRedactor()
	redactor.RedactEntity(entity)

Fusion calls the redactor after merging, right before caching, so both
cached and fresh responses are redacted. Custom rule sets can be
passed to NewRedactor for tests or stricter deployments.

# Integration Points

  - pkg/fusion applies RedactEntity to every merged profile and every
    search hit before the response is cached and returned.
  - pkg/providers/sirene maps the upstream diffusion flag to
    types.PrivacyProtected; this package only trusts the canonical
    flag, never provider payloads.
  - pkg/gateway surfaces privacy_notice untouched; a PrivacyDenied
    error is returned at the tool layer when a request asks for data
    this package would strip.

# See Also

  - pkg/types for the canonical record shapes and the Privacy flag
  - pkg/fusion for where redaction sits in the response pipeline
*/
package privacy
