package providers

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/httpcall"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/types"
)

const (
	defaultAssociationsPerPage = 20
	maxAssociationsPerPage     = 100
)

// Association identifiers are a W followed by nine digits.
var rnaIDPattern = regexp.MustCompile(`^W\d{9}$`)

// RNA is the associations-registry adapter.
type RNA struct {
	caller *httpcall.Caller
	base   string
	logger zerolog.Logger
}

func NewRNA(caller *httpcall.Caller, base string) *RNA {
	return &RNA{caller: caller, base: base, logger: log.WithProvider(NameRNA)}
}

type rnaSearchEnvelope struct {
	Associations []rnaAssociation `json:"association"`
	TotalResults int              `json:"total_results"`
	TotalPages   int              `json:"total_pages"`
	Page         int              `json:"page"`
	PerPage      int              `json:"per_page"`
}

type rnaDetailEnvelope struct {
	Association *rnaAssociation `json:"association"`
}

type rnaAssociation struct {
	IDAssociation   string `json:"id_association"`
	Siret           string `json:"siret"`
	Titre           string `json:"titre"`
	Objet           string `json:"objet"`
	Nature          string `json:"nature"`
	DateCreation    string `json:"date_creation"`
	DateDissolution string `json:"date_dissolution"`
	// The registry omits the flag for active associations.
	Actif *bool `json:"actif"`

	GestionVoie       string `json:"adresse_gestion_libelle_voie"`
	GestionCodePostal string `json:"adresse_gestion_code_postal"`
	GestionCommune    string `json:"adresse_gestion_commune"`
	SiegeVoie         string `json:"adresse_siege_libelle_voie"`
	SiegeCodePostal   string `json:"adresse_siege_code_postal"`
	SiegeCommune      string `json:"adresse_siege_commune"`
}

var natureLabels = map[string]string{
	"D": "Déclarée",
	"S": "Simplement déclarée",
	"R": "Reconnue d'utilité publique",
	"F": "Fondation",
	"E": "Entreprise d'insertion",
	"C": "Congrégation",
	"A": "Association de droit local (Alsace-Moselle)",
}

// Search queries associations by free text, optionally narrowed to a
// postal code.
func (r *RNA) Search(ctx context.Context, query, postalCode string, page, perPage int) (int, []types.Association, types.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultAssociationsPerPage
	}
	if perPage > maxAssociationsPerPage {
		perPage = maxAssociationsPerPage
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))
	if postalCode != "" {
		params.Set("postal_code", postalCode)
	}

	resp, err := r.caller.Do(ctx, httpcall.Request{
		Provider: NameRNA,
		URL:      r.base + "/full_text",
		Query:    params,
	})
	if err != nil {
		return 0, nil, types.Pagination{}, err
	}

	var envelope rnaSearchEnvelope
	if err := decode(NameRNA, resp.Body, &envelope); err != nil {
		return 0, nil, types.Pagination{}, err
	}

	associations := make([]types.Association, 0, len(envelope.Associations))
	for _, a := range envelope.Associations {
		associations = append(associations, a.toAssociation())
	}

	pagination := types.Pagination{
		Total:      envelope.TotalResults,
		Page:       envelope.Page,
		PerPage:    envelope.PerPage,
		TotalPages: envelope.TotalPages,
	}
	if pagination.Page == 0 {
		pagination.Page = page
	}
	if pagination.PerPage == 0 {
		pagination.PerPage = perPage
	}
	return envelope.TotalResults, associations, pagination, nil
}

// ByID fetches one association by its registry identifier.
func (r *RNA) ByID(ctx context.Context, rnaID string) (*types.Association, error) {
	if !rnaIDPattern.MatchString(rnaID) {
		return nil, guicherr.New(guicherr.KindValidation, NameRNA, fmt.Sprintf("malformed association id %q", rnaID))
	}
	return r.detail(ctx, r.base+"/id/"+rnaID)
}

// ByKey fetches the association registered under a business key. The
// registry indexes by establishment key, so the lookup uses a prefix
// wildcard.
func (r *RNA) ByKey(ctx context.Context, businessKey string) (*types.Association, error) {
	return r.detail(ctx, r.base+"/siret/"+businessKey+"*")
}

func (r *RNA) detail(ctx context.Context, u string) (*types.Association, error) {
	resp, err := r.caller.Do(ctx, httpcall.Request{Provider: NameRNA, URL: u})
	if err != nil {
		return nil, err
	}

	var envelope rnaDetailEnvelope
	if err := decode(NameRNA, resp.Body, &envelope); err != nil {
		return nil, err
	}
	if envelope.Association == nil {
		return nil, nil
	}
	association := envelope.Association.toAssociation()
	return &association, nil
}

func (a rnaAssociation) toAssociation() types.Association {
	association := types.Association{
		RNAID:           a.IDAssociation,
		Name:            a.Titre,
		Object:          a.Objet,
		Nature:          natureLabel(a.Nature),
		CreationDate:    a.DateCreation,
		DissolutionDate: a.DateDissolution,
		Active:          a.Actif == nil || *a.Actif,
	}
	if len(a.Siret) >= 9 {
		association.BusinessKey = a.Siret[:9]
	}

	street, postal, city := a.SiegeVoie, a.SiegeCodePostal, a.SiegeCommune
	if street == "" && postal == "" && city == "" {
		street, postal, city = a.GestionVoie, a.GestionCodePostal, a.GestionCommune
	}
	if street != "" || postal != "" || city != "" {
		association.Address = &types.Address{Street: street, PostalCode: postal, City: city}
	}
	return association
}

func natureLabel(code string) string {
	if label, ok := natureLabels[code]; ok {
		return label
	}
	return code
}
