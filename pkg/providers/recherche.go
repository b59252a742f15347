package providers

import (
	"context"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/httpcall"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/types"
)

const (
	// maxSearchPerPage is the upstream's hard page-size cap.
	maxSearchPerPage     = 25
	defaultSearchPerPage = 20
)

// Recherche queries the public full-text company search. Anonymous,
// generous budget, the first stop for every search.
type Recherche struct {
	caller *httpcall.Caller
	base   string
	logger zerolog.Logger
}

func NewRecherche(caller *httpcall.Caller, base string) *Recherche {
	return &Recherche{caller: caller, base: base, logger: log.WithProvider(NameRecherche)}
}

type rechercheEnvelope struct {
	Results      []rechercheResult `json:"results"`
	TotalResults int               `json:"total_results"`
	Page         int               `json:"page"`
	PerPage      int               `json:"per_page"`
	TotalPages   int               `json:"total_pages"`
}

type rechercheResult struct {
	Siren                string                `json:"siren"`
	NomComplet           string                `json:"nom_complet"`
	NomRaisonSociale     string                `json:"nom_raison_sociale"`
	Sigle                string                `json:"sigle"`
	NatureJuridique      string                `json:"nature_juridique"`
	ActivitePrincipale   string                `json:"activite_principale"`
	TrancheEffectif      string                `json:"tranche_effectif"`
	DateCreation         string                `json:"date_creation"`
	EtatAdministratif    string                `json:"etat_administratif"`
	NombreEtablissements int                   `json:"nombre_etablissements"`
	Siege                *rechercheSiege       `json:"siege"`
	Complements          *rechercheComplements `json:"complements"`
}

type rechercheSiege struct {
	Siret      string `json:"siret"`
	Adresse    string `json:"adresse"`
	CodePostal string `json:"code_postal"`
	Commune    string `json:"commune"`
	Latitude   string `json:"latitude"`
	Longitude  string `json:"longitude"`
}

type rechercheComplements struct {
	EstESS      bool `json:"est_ess"`
	EstBio      bool `json:"est_bio"`
	EstQualiopi bool `json:"est_qualiopi"`
}

// Search runs a full-text query with optional filters. The status
// filter maps active to A and ceased to C; all means no filter. Page
// size is clamped to the upstream cap.
func (r *Recherche) Search(ctx context.Context, query string, page, perPage int, filters types.SearchFilters) ([]types.BusinessEntity, types.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultSearchPerPage
	}
	if perPage > maxSearchPerPage {
		perPage = maxSearchPerPage
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	if filters.ActivityCode != "" {
		q.Set("naf", filters.ActivityCode)
	}
	if filters.PostalCode != "" {
		q.Set("code_postal", filters.PostalCode)
	}
	if filters.Department != "" {
		q.Set("departement", filters.Department)
	}
	if filters.SizeBucket != "" {
		q.Set("tranche_effectif", filters.SizeBucket)
	}
	switch filters.Status {
	case types.StatusActive:
		q.Set("etat_administratif", "A")
	case types.StatusCeased:
		q.Set("etat_administratif", "C")
	}

	resp, err := r.caller.Do(ctx, httpcall.Request{
		Provider: NameRecherche,
		URL:      r.base + "/search",
		Query:    q,
	})
	if err != nil {
		return nil, types.Pagination{}, err
	}

	var envelope rechercheEnvelope
	if err := decode(NameRecherche, resp.Body, &envelope); err != nil {
		return nil, types.Pagination{}, err
	}

	entities := make([]types.BusinessEntity, 0, len(envelope.Results))
	for _, item := range envelope.Results {
		entities = append(entities, item.toEntity())
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
	return entities, pagination, nil
}

// EntityByKey looks an entity up through the search endpoint and
// returns the exact-key match, if any.
func (r *Recherche) EntityByKey(ctx context.Context, businessKey string) (*types.BusinessEntity, error) {
	results, _, err := r.Search(ctx, businessKey, 1, 5, types.SearchFilters{})
	if err != nil {
		return nil, err
	}
	for i := range results {
		if results[i].BusinessKey == businessKey {
			return &results[i], nil
		}
	}
	return nil, nil
}

func (item rechercheResult) toEntity() types.BusinessEntity {
	name := item.NomComplet
	if name == "" {
		name = item.NomRaisonSociale
	}

	entity := types.BusinessEntity{
		BusinessKey:        item.Siren,
		Name:               name,
		Acronym:            item.Sigle,
		ActivityCode:       item.ActivitePrincipale,
		SizeBucket:         item.TrancheEffectif,
		CreationDate:       item.DateCreation,
		Active:             item.EtatAdministratif == "A",
		EstablishmentCount: item.NombreEtablissements,
		Sources:            []string{NameRecherche},
	}
	if item.NatureJuridique != "" {
		entity.LegalForm = &types.LegalForm{
			Code:  item.NatureJuridique,
			Label: LegalFormLabel(item.NatureJuridique),
		}
	}
	if item.Siege != nil {
		entity.EstablishmentKey = item.Siege.Siret
		entity.Address = item.Siege.toAddress()
	}
	if item.Complements != nil {
		entity.Certifications = append(entity.Certifications, item.Complements.toCertifications()...)
	}
	return entity
}

func (s *rechercheSiege) toAddress() *types.Address {
	addr := &types.Address{
		Street:     s.Adresse,
		PostalCode: s.CodePostal,
		City:       s.Commune,
	}
	lat, latErr := strconv.ParseFloat(s.Latitude, 64)
	lon, lonErr := strconv.ParseFloat(s.Longitude, 64)
	if latErr == nil && lonErr == nil {
		addr.Geo = &types.GeoPoint{Lat: lat, Lon: lon}
	}
	return addr
}

// toCertifications lifts the search complements into label-style
// certifications so the merged record carries them uniformly.
func (c *rechercheComplements) toCertifications() []types.Certification {
	var certs []types.Certification
	if c.EstESS {
		certs = append(certs, types.Certification{Type: "ess", Name: "Économie sociale et solidaire", Valid: true})
	}
	if c.EstBio {
		certs = append(certs, types.Certification{Type: "bio", Name: "Agriculture biologique", Valid: true})
	}
	if c.EstQualiopi {
		certs = append(certs, types.Certification{Type: "qualiopi", Name: "Qualiopi", Valid: true})
	}
	return certs
}
