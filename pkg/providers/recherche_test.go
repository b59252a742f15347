package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengreffe/guichet/pkg/types"
)

const rechercheSearchBody = `{
	"results": [
		{
			"siren": "552032534",
			"nom_complet": "DANONE",
			"sigle": "",
			"nature_juridique": "5710",
			"activite_principale": "70.10Z",
			"tranche_effectif": "52",
			"date_creation": "1908-02-13",
			"etat_administratif": "A",
			"nombre_etablissements": 12,
			"siege": {
				"siret": "55203253400646",
				"adresse": "17 BOULEVARD HAUSSMANN",
				"code_postal": "75009",
				"commune": "PARIS",
				"latitude": "48.873",
				"longitude": "2.332"
			},
			"complements": {"est_ess": false, "est_bio": true, "est_qualiopi": false}
		},
		{
			"siren": "123456789",
			"nom_raison_sociale": "BOULANGERIE MARTIN",
			"etat_administratif": "C"
		}
	],
	"total_results": 2,
	"page": 1,
	"per_page": 20,
	"total_pages": 1
}`

func TestRechercheSearch(t *testing.T) {
	var gotPath string
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(rechercheSearchBody))
	}))
	defer server.Close()

	caller := newTestCaller(t, testProfile(NameRecherche, ""))
	adapter := NewRecherche(caller, server.URL)

	entities, pagination, err := adapter.Search(context.Background(), "danone", 1, 20, types.SearchFilters{})
	require.NoError(t, err)

	assert.Equal(t, "/search", gotPath)
	assert.Equal(t, "danone", gotQuery.Get("q"))
	assert.Equal(t, "1", gotQuery.Get("page"))
	assert.Equal(t, "20", gotQuery.Get("per_page"))

	require.Len(t, entities, 2)
	first := entities[0]
	assert.Equal(t, "552032534", first.BusinessKey)
	assert.Equal(t, "DANONE", first.Name)
	require.NotNil(t, first.LegalForm)
	assert.Equal(t, "5710", first.LegalForm.Code)
	assert.Equal(t, "SAS", first.LegalForm.Label)
	assert.Equal(t, "70.10Z", first.ActivityCode)
	assert.Equal(t, "52", first.SizeBucket)
	assert.True(t, first.Active)
	assert.Equal(t, 12, first.EstablishmentCount)
	assert.Equal(t, "55203253400646", first.EstablishmentKey)
	require.NotNil(t, first.Address)
	assert.Equal(t, "17 BOULEVARD HAUSSMANN", first.Address.Street)
	assert.Equal(t, "75009", first.Address.PostalCode)
	assert.Equal(t, "PARIS", first.Address.City)
	require.NotNil(t, first.Address.Geo)
	assert.InDelta(t, 48.873, first.Address.Geo.Lat, 0.001)
	require.Len(t, first.Certifications, 1)
	assert.Equal(t, "bio", first.Certifications[0].Type)
	assert.True(t, first.Certifications[0].Valid)
	assert.Equal(t, []string{NameRecherche}, first.Sources)

	second := entities[1]
	assert.Equal(t, "BOULANGERIE MARTIN", second.Name)
	assert.False(t, second.Active)
	assert.Nil(t, second.Address)

	assert.Equal(t, types.Pagination{Total: 2, Page: 1, PerPage: 20, TotalPages: 1}, pagination)
}

func TestRechercheSearchFilters(t *testing.T) {
	tests := []struct {
		name    string
		filters types.SearchFilters
		expect  map[string]string
		absent  []string
	}{
		{
			name: "all filters",
			filters: types.SearchFilters{
				ActivityCode: "62.01Z",
				PostalCode:   "75001",
				Department:   "75",
				SizeBucket:   "12",
				Status:       "active",
			},
			expect: map[string]string{
				"naf":                "62.01Z",
				"code_postal":        "75001",
				"departement":        "75",
				"tranche_effectif":   "12",
				"etat_administratif": "A",
			},
		},
		{
			name:    "ceased status",
			filters: types.SearchFilters{Status: "ceased"},
			expect:  map[string]string{"etat_administratif": "C"},
		},
		{
			name:    "all status means no filter",
			filters: types.SearchFilters{Status: "all"},
			absent:  []string{"etat_administratif", "naf", "code_postal"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotQuery url.Values
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.Query()
				_, _ = w.Write([]byte(`{"results": [], "total_results": 0}`))
			}))
			defer server.Close()

			caller := newTestCaller(t, testProfile(NameRecherche, ""))
			adapter := NewRecherche(caller, server.URL)

			_, _, err := adapter.Search(context.Background(), "x", 1, 10, tt.filters)
			require.NoError(t, err)

			for key, want := range tt.expect {
				assert.Equal(t, want, gotQuery.Get(key), "param %s", key)
			}
			for _, key := range tt.absent {
				assert.False(t, gotQuery.Has(key), "param %s should be absent", key)
			}
		})
	}
}

func TestRechercheSearchClampsPaging(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"results": [], "total_results": 0}`))
	}))
	defer server.Close()

	caller := newTestCaller(t, testProfile(NameRecherche, ""))
	adapter := NewRecherche(caller, server.URL)

	_, pagination, err := adapter.Search(context.Background(), "x", 0, 500, types.SearchFilters{})
	require.NoError(t, err)
	assert.Equal(t, "1", gotQuery.Get("page"))
	assert.Equal(t, "25", gotQuery.Get("per_page"))
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 25, pagination.PerPage)
}

func TestRechercheEntityByKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rechercheSearchBody))
	}))
	defer server.Close()

	caller := newTestCaller(t, testProfile(NameRecherche, ""))
	adapter := NewRecherche(caller, server.URL)

	entity, err := adapter.EntityByKey(context.Background(), "123456789")
	require.NoError(t, err)
	require.NotNil(t, entity)
	assert.Equal(t, "BOULANGERIE MARTIN", entity.Name)

	entity, err = adapter.EntityByKey(context.Background(), "999999999")
	require.NoError(t, err)
	assert.Nil(t, entity)
}
