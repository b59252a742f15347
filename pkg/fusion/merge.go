package fusion

import (
	"fmt"
	"slices"
	"strings"

	"github.com/opengreffe/guichet/pkg/providers"
	"github.com/opengreffe/guichet/pkg/types"
)

// sourceRanks orders the precedence ladder; the higher rank wins a
// merge conflict and the lower one fills the winner's gaps.
var sourceRanks = map[string]int{
	providers.NameRNE:       5,
	providers.NameSirene:    4,
	providers.NameRecherche: 3,
	providers.NameRNA:       2,
	SourceStatic:            1,
}

func rankOf(entity *types.BusinessEntity) int {
	best := 0
	for _, s := range entity.Sources {
		if r := sourceRanks[s]; r > best {
			best = r
		}
	}
	return best
}

// fillEntity copies src's fields into dst wherever dst is still
// empty; populated fields keep their higher-precedence value. The
// first source applied decides Active, and any source claiming
// protected diffusion makes the merged record protected. Source tags
// accumulate across calls.
func fillEntity(dst, src *types.BusinessEntity) {
	if len(dst.Sources) == 0 {
		dst.Active = src.Active
	}
	if dst.BusinessKey == "" {
		dst.BusinessKey = src.BusinessKey
	}
	if dst.EstablishmentKey == "" {
		dst.EstablishmentKey = src.EstablishmentKey
	}
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Acronym == "" {
		dst.Acronym = src.Acronym
	}
	if dst.LegalForm == nil {
		dst.LegalForm = src.LegalForm
	}
	if dst.ActivityCode == "" {
		dst.ActivityCode = src.ActivityCode
	}
	if dst.SizeBucket == "" {
		dst.SizeBucket = src.SizeBucket
	}
	if dst.CreationDate == "" {
		dst.CreationDate = src.CreationDate
	}
	if dst.CessationDate == "" {
		dst.CessationDate = src.CessationDate
	}
	if dst.Privacy == "" {
		dst.Privacy = src.Privacy
	}
	if src.Privacy == types.PrivacyProtected {
		dst.Privacy = types.PrivacyProtected
	}
	if dst.Address == nil {
		dst.Address = src.Address
	}
	if len(dst.Executives) == 0 {
		dst.Executives = src.Executives
	}
	if len(dst.Establishments) == 0 {
		dst.Establishments = src.Establishments
	}
	if dst.EstablishmentCount == 0 {
		dst.EstablishmentCount = src.EstablishmentCount
	}
	if dst.Financials == nil {
		dst.Financials = src.Financials
	}
	if len(dst.Certifications) == 0 {
		dst.Certifications = src.Certifications
	}
	for _, s := range src.Sources {
		if !slices.Contains(dst.Sources, s) {
			dst.Sources = append(dst.Sources, s)
		}
	}
}

// mergeEstablishments keeps the registry listing first and appends
// entries from other sources whose establishment key is unseen.
func mergeEstablishments(primary, extra []types.Establishment) []types.Establishment {
	merged := make([]types.Establishment, 0, len(primary)+len(extra))
	seen := make(map[string]bool, len(primary))
	for _, list := range [][]types.Establishment{primary, extra} {
		for _, e := range list {
			if e.EstablishmentKey != "" && seen[e.EstablishmentKey] {
				continue
			}
			seen[e.EstablishmentKey] = true
			merged = append(merged, e)
		}
	}
	return merged
}

// mergeCertifications keeps the certification source's entries first
// and appends label certifications of a type it did not cover.
func mergeCertifications(primary, extra []types.Certification) []types.Certification {
	merged := make([]types.Certification, 0, len(primary)+len(extra))
	seen := make(map[string]bool, len(primary))
	for _, list := range [][]types.Certification{primary, extra} {
		for _, c := range list {
			id := c.Type + "|" + c.Code
			if seen[id] {
				continue
			}
			seen[id] = true
			merged = append(merged, c)
		}
	}
	return merged
}

// mergeSearchResults dedupes source lists by business key: the
// higher-ranked source keeps the record, the other fills its gaps,
// and source tags accumulate in arrival order. Keyless records (some
// associations) cannot collide and pass through. The merged list is
// sorted by relevance, ties broken by display name.
func mergeSearchResults(query string, sourceLists ...[]types.BusinessEntity) []types.BusinessEntity {
	byKey := make(map[string]*types.BusinessEntity)
	order := make([]string, 0)
	var keyless []types.BusinessEntity

	for _, list := range sourceLists {
		for i := range list {
			entity := list[i]
			if entity.BusinessKey == "" {
				keyless = append(keyless, entity)
				continue
			}
			existing, ok := byKey[entity.BusinessKey]
			if !ok {
				kept := entity
				byKey[entity.BusinessKey] = &kept
				order = append(order, entity.BusinessKey)
				continue
			}

			sources := existing.Sources
			for _, s := range entity.Sources {
				if !slices.Contains(sources, s) {
					sources = append(sources, s)
				}
			}
			if rankOf(&entity) > rankOf(existing) {
				winner := entity
				fillEntity(&winner, existing)
				winner.Sources = sources
				byKey[entity.BusinessKey] = &winner
			} else {
				fillEntity(existing, &entity)
				existing.Sources = sources
			}
		}
	}

	merged := make([]types.BusinessEntity, 0, len(order)+len(keyless))
	for _, k := range order {
		merged = append(merged, *byKey[k])
	}
	merged = append(merged, keyless...)

	slices.SortStableFunc(merged, func(a, b types.BusinessEntity) int {
		ra, rb := relevance(&a, query), relevance(&b, query)
		if ra != rb {
			return rb - ra
		}
		return strings.Compare(a.Name, b.Name)
	})
	return merged
}

// relevance scores a result against the query: a name substring
// scores 10, a business-key prefix 5, both together 15.
func relevance(entity *types.BusinessEntity, query string) int {
	if query == "" {
		return 0
	}
	score := 0
	if entity.Name != "" && strings.Contains(strings.ToLower(entity.Name), strings.ToLower(query)) {
		score += 10
	}
	if entity.BusinessKey != "" && strings.HasPrefix(entity.BusinessKey, query) {
		score += 5
	}
	return score
}

// staticEntity lifts a bulk entities row into the canonical model at
// the ladder's lowest rung.
func staticEntity(row map[string]interface{}) *types.BusinessEntity {
	entity := &types.BusinessEntity{
		BusinessKey:   rowString(row, "business_key"),
		Name:          rowString(row, "name"),
		ActivityCode:  rowString(row, "activity_code"),
		SizeBucket:    rowString(row, "size_bucket"),
		CreationDate:  rowString(row, "creation_date"),
		CessationDate: rowString(row, "cessation_date"),
		Active:        rowBool(row, "active"),
		Sources:       []string{SourceStatic},
	}
	if code := rowString(row, "legal_form_code"); code != "" {
		entity.LegalForm = &types.LegalForm{Code: code, Label: providers.LegalFormLabel(code)}
	}
	postal := rowString(row, "postal_code")
	city := rowString(row, "city")
	if postal != "" || city != "" {
		entity.Address = &types.Address{PostalCode: postal, City: city}
	}
	return entity
}

// associationEntity projects a nonprofit register record onto the
// search result shape.
func associationEntity(a types.Association) types.BusinessEntity {
	return types.BusinessEntity{
		BusinessKey:   a.BusinessKey,
		Name:          a.Name,
		LegalForm:     &types.LegalForm{Label: "Association"},
		CreationDate:  a.CreationDate,
		CessationDate: a.DissolutionDate,
		Active:        a.Active,
		Address:       a.Address,
		Sources:       []string{providers.NameRNA},
	}
}

func rowString(row map[string]interface{}, column string) string {
	switch v := row[column].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func rowBool(row map[string]interface{}, column string) bool {
	switch v := row[column].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case string:
		return v == "1" || strings.EqualFold(v, "true")
	default:
		return false
	}
}
