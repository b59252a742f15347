package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengreffe/guichet/pkg/providers"
	"github.com/opengreffe/guichet/pkg/types"
)

func TestFillEntityKeepsPopulatedFields(t *testing.T) {
	dst := types.BusinessEntity{
		BusinessKey: testKey,
		Name:        "DANONE SOCIETE ANONYME",
		LegalForm:   &types.LegalForm{Code: "5710", Label: "SA à conseil d'administration"},
		Active:      true,
		Sources:     []string{providers.NameRNE},
	}
	src := types.BusinessEntity{
		BusinessKey:  testKey,
		Name:         "DANONE",
		Acronym:      "DNN",
		SizeBucket:   "53",
		ActivityCode: "70.10Z",
		Active:       false,
		Sources:      []string{providers.NameSirene},
	}

	fillEntity(&dst, &src)

	assert.Equal(t, "DANONE SOCIETE ANONYME", dst.Name)
	assert.Equal(t, "SA à conseil d'administration", dst.LegalForm.Label)
	assert.Equal(t, "DNN", dst.Acronym)
	assert.Equal(t, "53", dst.SizeBucket)
	assert.Equal(t, "70.10Z", dst.ActivityCode)
	assert.True(t, dst.Active, "a later source must not flip the administrative state")
	assert.Equal(t, []string{providers.NameRNE, providers.NameSirene}, dst.Sources)
}

func TestFillEntityActiveFollowsFirstSource(t *testing.T) {
	var dst types.BusinessEntity
	src := types.BusinessEntity{
		BusinessKey: testKey,
		Active:      false,
		Sources:     []string{providers.NameSirene},
	}

	fillEntity(&dst, &src)
	assert.False(t, dst.Active)

	later := types.BusinessEntity{Active: true, Sources: []string{SourceStatic}}
	fillEntity(&dst, &later)
	assert.False(t, dst.Active)
}

func TestFillEntityProtectedAlwaysWins(t *testing.T) {
	dst := types.BusinessEntity{Privacy: types.PrivacyOpen, Sources: []string{providers.NameRNE}}
	src := types.BusinessEntity{Privacy: types.PrivacyProtected, Sources: []string{providers.NameSirene}}

	fillEntity(&dst, &src)
	assert.Equal(t, types.PrivacyProtected, dst.Privacy)

	open := types.BusinessEntity{Privacy: types.PrivacyOpen, Sources: []string{providers.NameRecherche}}
	fillEntity(&dst, &open)
	assert.Equal(t, types.PrivacyProtected, dst.Privacy, "protection never downgrades")
}

func TestRankOf(t *testing.T) {
	tests := []struct {
		name    string
		sources []string
		want    int
	}{
		{"trade register tops the ladder", []string{providers.NameRNE}, 5},
		{"highest source wins", []string{SourceStatic, providers.NameSirene}, 4},
		{"unranked source", []string{providers.NameBODACC}, 0},
		{"no sources", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entity := types.BusinessEntity{Sources: tt.sources}
			assert.Equal(t, tt.want, rankOf(&entity))
		})
	}
}

func TestRelevance(t *testing.T) {
	tests := []struct {
		name   string
		entity types.BusinessEntity
		query  string
		want   int
	}{
		{"name and key match", types.BusinessEntity{BusinessKey: "552032534", Name: "GROUPE 552"}, "552", 15},
		{"name substring", types.BusinessEntity{BusinessKey: "111222333", Name: "Danone SA"}, "DANONE", 10},
		{"key prefix", types.BusinessEntity{BusinessKey: "552032534", Name: "AUTRE"}, "5520", 5},
		{"no match", types.BusinessEntity{BusinessKey: "111222333", Name: "AUTRE"}, "danone", 0},
		{"empty query", types.BusinessEntity{BusinessKey: "552032534", Name: "DANONE"}, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relevance(&tt.entity, tt.query))
		})
	}
}

func TestMergeSearchResultsHigherRankArrivingSecond(t *testing.T) {
	recherche := []types.BusinessEntity{{
		BusinessKey: testKey,
		Name:        "DANONE",
		Address:     &types.Address{PostalCode: "75009", City: "PARIS"},
		Active:      true,
		Sources:     []string{providers.NameRecherche},
	}}
	sirene := []types.BusinessEntity{{
		BusinessKey: testKey,
		Name:        "DANONE SA",
		SizeBucket:  "53",
		Active:      true,
		Sources:     []string{providers.NameSirene},
	}}

	merged := mergeSearchResults("danone", recherche, sirene)
	require.Len(t, merged, 1)

	got := merged[0]
	assert.Equal(t, "DANONE SA", got.Name, "higher rank keeps the record even when it arrives later")
	assert.Equal(t, "53", got.SizeBucket)
	require.NotNil(t, got.Address)
	assert.Equal(t, "PARIS", got.Address.City)
	assert.Equal(t, []string{providers.NameRecherche, providers.NameSirene}, got.Sources,
		"tags keep arrival order regardless of who wins")
}

func TestMergeSearchResultsLowerRankFillsInPlace(t *testing.T) {
	sirene := []types.BusinessEntity{{
		BusinessKey: testKey,
		Name:        "DANONE SA",
		Active:      true,
		Sources:     []string{providers.NameSirene},
	}}
	static := []types.BusinessEntity{{
		BusinessKey:  testKey,
		Name:         "DANONE",
		CreationDate: "1908-02-25",
		Sources:      []string{SourceStatic},
	}}

	merged := mergeSearchResults("", sirene, static)
	require.Len(t, merged, 1)
	assert.Equal(t, "DANONE SA", merged[0].Name)
	assert.Equal(t, "1908-02-25", merged[0].CreationDate)
	assert.Equal(t, []string{providers.NameSirene, SourceStatic}, merged[0].Sources)
}

func TestMergeSearchResultsKeylessPassThrough(t *testing.T) {
	associations := []types.BusinessEntity{
		{Name: "CLUB SANS SIRET", Sources: []string{providers.NameRNA}},
		{Name: "AUTRE CLUB SANS SIRET", Sources: []string{providers.NameRNA}},
	}

	merged := mergeSearchResults("club", associations)
	require.Len(t, merged, 2, "records without a business key never collide")
	assert.Equal(t, "AUTRE CLUB SANS SIRET", merged[0].Name)
	assert.Equal(t, "CLUB SANS SIRET", merged[1].Name)
}

func TestMergeEstablishments(t *testing.T) {
	primary := []types.Establishment{
		{EstablishmentKey: "55203253400646", Headquarters: true},
		{EstablishmentKey: "55203253400010"},
	}
	extra := []types.Establishment{
		{EstablishmentKey: "55203253400646", SizeBucket: "41"},
		{EstablishmentKey: "55203253400028"},
	}

	merged := mergeEstablishments(primary, extra)
	require.Len(t, merged, 3)
	assert.True(t, merged[0].Headquarters, "registry listing stays in front")
	assert.Empty(t, merged[0].SizeBucket, "duplicate keys keep the registry entry")
	assert.Equal(t, "55203253400028", merged[2].EstablishmentKey)
}

func TestMergeCertifications(t *testing.T) {
	primary := []types.Certification{
		{Type: "RGE", Code: "QB-1234", Valid: true},
	}
	extra := []types.Certification{
		{Type: "RGE", Code: "QB-1234"},
		{Type: "ESS", Valid: true},
	}

	merged := mergeCertifications(primary, extra)
	require.Len(t, merged, 2)
	assert.True(t, merged[0].Valid, "first occurrence of a type and code pair wins")
	assert.Equal(t, "ESS", merged[1].Type)
}

func TestStaticEntityRow(t *testing.T) {
	row := map[string]interface{}{
		"business_key":    testKey,
		"name":            []byte("DANONE"),
		"legal_form_code": "5710",
		"activity_code":   "70.10Z",
		"postal_code":     "75009",
		"city":            "PARIS",
		"creation_date":   "1908-02-25",
		"active":          int64(1),
	}

	entity := staticEntity(row)

	assert.Equal(t, testKey, entity.BusinessKey)
	assert.Equal(t, "DANONE", entity.Name)
	require.NotNil(t, entity.LegalForm)
	assert.Equal(t, "SAS", entity.LegalForm.Label)
	require.NotNil(t, entity.Address)
	assert.Equal(t, "75009", entity.Address.PostalCode)
	assert.Equal(t, "PARIS", entity.Address.City)
	assert.True(t, entity.Active)
	assert.Equal(t, []string{SourceStatic}, entity.Sources)
}

func TestStaticEntityBareRow(t *testing.T) {
	entity := staticEntity(map[string]interface{}{
		"business_key": "111222333",
		"name":         "ACME",
		"active":       "1",
	})

	assert.True(t, entity.Active)
	assert.Nil(t, entity.LegalForm)
	assert.Nil(t, entity.Address)
}

func TestAssociationEntity(t *testing.T) {
	entity := associationEntity(types.Association{
		RNAID:           "W751000001",
		BusinessKey:     "443061841",
		Name:            "LES RESTAURANTS DU COEUR",
		CreationDate:    "1985-10-01",
		DissolutionDate: "2020-01-15",
		Active:          false,
		Address:         &types.Address{PostalCode: "75009", City: "PARIS"},
	})

	assert.Equal(t, "443061841", entity.BusinessKey)
	require.NotNil(t, entity.LegalForm)
	assert.Equal(t, "Association", entity.LegalForm.Label)
	assert.Equal(t, "2020-01-15", entity.CessationDate)
	assert.False(t, entity.Active)
	assert.Equal(t, []string{providers.NameRNA}, entity.Sources)
}
