package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengreffe/guichet/pkg/types"
)

func TestRGECertifications(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{
			"total": 3,
			"results": [
				{
					"siret": "55203253400646",
					"nom_entreprise": "DANONE",
					"certificat": "QUALIBAT-RGE",
					"nom_certificat": "Qualibat RGE",
					"organisme": "QUALIBAT",
					"date_validite": "2026-12-31",
					"domaine_travaux": "ISOLATION DES MURS",
					"meta_domaine": "ISOLATION",
					"code_travaux": "ISO-1,ISO-2",
					"libelle_travaux": "Isolation par l'extérieur|Isolation par l'intérieur"
				},
				{
					"siret": "55203253400646",
					"certificat": "QUALIBAT-RGE",
					"date_validite": "2026-12-31",
					"domaine_travaux": "ISOLATION DES MURS",
					"meta_domaine": "ISOLATION"
				},
				{
					"siret": "55203253400646",
					"certificat": "QUALIPAC",
					"nom_certificat": "QualiPAC",
					"organisme": "QUALIT'ENR",
					"date_validite": "2020-01-01",
					"domaine_travaux": "POMPE A CHALEUR"
				}
			]
		}`))
	}))
	defer server.Close()

	caller := newTestCaller(t, testProfile(NameRGE, ""))
	adapter := NewRGE(caller, server.URL)
	adapter.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	certifications, err := adapter.Certifications(context.Background(), "552032534")
	require.NoError(t, err)
	assert.Equal(t, `siret:"552032534*"`, gotQuery.Get("qs"))
	assert.Equal(t, "100", gotQuery.Get("size"))

	// The duplicate certificate line collapses.
	require.Len(t, certifications, 2)

	qualibat := certifications[0]
	assert.Equal(t, "RGE", qualibat.Type)
	assert.Equal(t, "QUALIBAT-RGE", qualibat.Code)
	assert.Equal(t, "Qualibat RGE", qualibat.Name)
	assert.Equal(t, "QUALIBAT", qualibat.Issuer)
	assert.Equal(t, "ISOLATION", qualibat.Domain)
	assert.True(t, qualibat.Valid)
	require.Len(t, qualibat.Competencies, 2)
	assert.Equal(t, types.Competency{Code: "ISO-1", Label: "Isolation par l'extérieur"}, qualibat.Competencies[0])

	qualipac := certifications[1]
	assert.Equal(t, "QUALIPAC", qualipac.Code)
	assert.False(t, qualipac.Valid)
	// No meta domain published: the specific work domain stands in.
	assert.Equal(t, "POMPE A CHALEUR", qualipac.Domain)
}

func TestRGEValidityIsStrict(t *testing.T) {
	caller := newTestCaller(t, testProfile(NameRGE, ""))
	adapter := NewRGE(caller, "http://unused.example")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return now }

	tests := []struct {
		date string
		want bool
	}{
		{"2025-06-02", true},
		{"2025-06-01", false},
		{"2025-05-31", false},
		{"2026-01-01T00:00:00Z", true},
		{"not a date", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, adapter.validAt(tt.date), "date %q", tt.date)
	}
}

func TestRGESummary(t *testing.T) {
	certifications := []types.Certification{
		{Code: "A", Valid: true, Domain: "ISOLATION", ValidUntil: "2026-12-31"},
		{Code: "B", Valid: true, Domain: "ISOLATION", ValidUntil: "2025-08-01"},
		{Code: "C", Valid: true, Domain: "CHAUFFAGE", ValidUntil: "2027-03-01"},
		{Code: "D", Valid: false, Domain: "VENTILATION", ValidUntil: "2020-01-01"},
	}

	summary := Summary(certifications)
	assert.True(t, summary.Certified)
	assert.Equal(t, 3, summary.ActiveCount)
	assert.Equal(t, []string{"ISOLATION", "CHAUFFAGE"}, summary.Domains)
	assert.Equal(t, "2025-08-01", summary.NextExpiry)
}

func TestRGESummaryEmpty(t *testing.T) {
	summary := Summary(nil)
	assert.False(t, summary.Certified)
	assert.Zero(t, summary.ActiveCount)
	assert.Empty(t, summary.Domains)
	assert.Empty(t, summary.NextExpiry)
}

func TestRGECompetencyPairing(t *testing.T) {
	tests := []struct {
		name   string
		codes  string
		labels string
		want   []types.Competency
	}{
		{"empty", "", "", nil},
		{
			"paired",
			"ISO-1, ISO-2",
			"Murs|Combles",
			[]types.Competency{{Code: "ISO-1", Label: "Murs"}, {Code: "ISO-2", Label: "Combles"}},
		},
		{
			"more codes than labels",
			"A,B",
			"Seul",
			[]types.Competency{{Code: "A", Label: "Seul"}, {Code: "B"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, competencies(tt.codes, tt.labels))
		})
	}
}
