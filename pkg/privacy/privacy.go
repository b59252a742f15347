package privacy

import (
	"github.com/opengreffe/guichet/pkg/types"
)

// DefaultNotice is attached to records that had fields withheld or
// reduced in precision.
const DefaultNotice = "Certain fields of this record were withheld or reduced in precision under a privacy protection request (non-diffusible record)."

// Target names the record kinds a rule can touch.
type Target string

const (
	TargetAddress   Target = "address"
	TargetExecutive Target = "executive"
)

// Field names the redactable fields of the canonical records.
type Field string

const (
	FieldHouseNumber Field = "house_number"
	FieldStreet      Field = "street"
	FieldGeo         Field = "geo"
	FieldBirthDate   Field = "birth_date"
	FieldBirthPlace  Field = "birth_place"
)

// MaskSpec names a precision-reducing transform.
type MaskSpec string

// MaskYearMonth truncates a civil date to YYYY-MM.
const MaskYearMonth MaskSpec = "year-month"

// Condition matches a flag on the record or on one of its ancestors.
// Executives inherit the entity's privacy flag.
type Condition struct {
	Field string
	Value string
}

// Rule removes or masks fields on the record kinds it applies to when
// its condition matches.
type Rule struct {
	Name      string
	Condition Condition
	AppliesTo []Target
	Remove    []Field
	Mask      map[Field]MaskSpec
}

func (r Rule) applies(target Target) bool {
	for _, t := range r.AppliesTo {
		if t == target {
			return true
		}
	}
	return false
}

// BuiltinRules returns the registry-mandated redaction rules. The
// partial-diffusion regime withholds the house number along with the
// street, so the address rule strips both.
func BuiltinRules() []Rule {
	return []Rule{
		{
			Name:      "protected-address",
			Condition: Condition{Field: "privacy", Value: string(types.PrivacyProtected)},
			AppliesTo: []Target{TargetAddress},
			Remove:    []Field{FieldHouseNumber, FieldStreet, FieldGeo},
		},
		{
			Name:      "protected-person",
			Condition: Condition{Field: "privacy", Value: string(types.PrivacyProtected)},
			AppliesTo: []Target{TargetExecutive},
			Remove:    []Field{FieldBirthPlace},
			Mask:      map[Field]MaskSpec{FieldBirthDate: MaskYearMonth},
		},
		{
			Name:      "natural-person",
			Condition: Condition{Field: "kind", Value: string(types.PersonNatural)},
			AppliesTo: []Target{TargetExecutive},
			Remove:    []Field{FieldBirthPlace},
			Mask:      map[Field]MaskSpec{FieldBirthDate: MaskYearMonth},
		},
	}
}

// Redactor applies a fixed rule set to canonical records. It is
// stateless and safe for concurrent use.
type Redactor struct {
	rules []Rule
}

// NewRedactor builds a redactor over the given rules, defaulting to
// BuiltinRules when none are given.
func NewRedactor(rules ...Rule) *Redactor {
	if len(rules) == 0 {
		rules = BuiltinRules()
	}
	return &Redactor{rules: rules}
}

// RedactEntity walks the record depth-first, applying matching rules
// to the entity address, each establishment address and each
// executive. Within one record removals run before masks. The call is
// idempotent and reports whether this pass changed anything; records
// that are protected or that had fields redacted carry DefaultNotice
// afterward.
func (r *Redactor) RedactEntity(e *types.BusinessEntity) bool {
	if e == nil {
		return false
	}

	entityCond := func(field string) string {
		if field == "privacy" {
			return string(e.Privacy)
		}
		return ""
	}

	changed := r.redactAddress(e.Address, entityCond)
	for i := range e.Establishments {
		if r.redactAddress(e.Establishments[i].Address, entityCond) {
			changed = true
		}
	}
	for i := range e.Executives {
		x := &e.Executives[i]
		execCond := func(field string) string {
			if field == "kind" {
				return string(x.Kind)
			}
			return entityCond(field)
		}
		if r.redactExecutive(x, execCond) {
			changed = true
		}
	}

	if changed || e.Privacy == types.PrivacyProtected {
		e.PrivacyNotice = DefaultNotice
		return changed
	}
	return changed
}

func (r *Redactor) matching(target Target, cond func(string) string) []Rule {
	var out []Rule
	for _, rule := range r.rules {
		if rule.applies(target) && cond(rule.Condition.Field) == rule.Condition.Value {
			out = append(out, rule)
		}
	}
	return out
}

func (r *Redactor) redactAddress(addr *types.Address, cond func(string) string) bool {
	if addr == nil {
		return false
	}
	changed := false
	matched := r.matching(TargetAddress, cond)
	for _, rule := range matched {
		for _, f := range rule.Remove {
			switch f {
			case FieldHouseNumber:
				if addr.HouseNumber != "" {
					addr.HouseNumber = ""
					changed = true
				}
			case FieldStreet:
				if addr.Street != "" {
					addr.Street = ""
					changed = true
				}
			case FieldGeo:
				if addr.Geo != nil {
					addr.Geo = nil
					changed = true
				}
			}
		}
	}
	// No address masks are defined today; removals cover the field set.
	return changed
}

func (r *Redactor) redactExecutive(x *types.Executive, cond func(string) string) bool {
	changed := false
	matched := r.matching(TargetExecutive, cond)
	for _, rule := range matched {
		for _, f := range rule.Remove {
			if f == FieldBirthPlace && x.BirthPlace != "" {
				x.BirthPlace = ""
				changed = true
			}
		}
	}
	for _, rule := range matched {
		if spec, ok := rule.Mask[FieldBirthDate]; ok && spec == MaskYearMonth {
			if masked := maskYearMonth(x.BirthDate); masked != x.BirthDate {
				x.BirthDate = masked
				changed = true
			}
		}
	}
	return changed
}

// maskYearMonth truncates YYYY-MM-DD (or longer) to YYYY-MM. Shorter
// values pass through, so masking is idempotent.
func maskYearMonth(date string) string {
	if len(date) > 7 {
		return date[:7]
	}
	return date
}
