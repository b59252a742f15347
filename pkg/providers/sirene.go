package providers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/httpcall"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/types"
)

// Sirene is the national registry adapter: legal units,
// establishments and the privacy flag come from here.
type Sirene struct {
	caller *httpcall.Caller
	base   string
	logger zerolog.Logger
}

func NewSirene(caller *httpcall.Caller, base string) *Sirene {
	return &Sirene{caller: caller, base: base, logger: log.WithProvider(NameSirene)}
}

// sireneHeader is the envelope every registry response carries.
type sireneHeader struct {
	Statut  int    `json:"statut"`
	Message string `json:"message"`
	Total   int    `json:"total"`
}

// check maps envelope failures. A non-200 statut means not-found only
// when the message says so; anything else is an upstream fault.
func (h sireneHeader) check() error {
	if h.Statut == 0 || h.Statut == http.StatusOK {
		return nil
	}
	msg := strings.ToLower(h.Message)
	if strings.Contains(msg, "non trouv") || strings.Contains(msg, "not found") || strings.Contains(msg, "aucun") {
		return guicherr.NotFound(NameSirene, h.Message)
	}
	return guicherr.Upstream(NameSirene, h.Statut, h.Message)
}

type sireneLegalUnitEnvelope struct {
	Header      sireneHeader      `json:"header"`
	UniteLegale sireneUniteLegale `json:"uniteLegale"`
}

type sireneUniteLegale struct {
	Siren              string `json:"siren"`
	StatutDiffusion    string `json:"statutDiffusionUniteLegale"`
	Denomination       string `json:"denominationUniteLegale"`
	Sigle              string `json:"sigleUniteLegale"`
	DateCreation       string `json:"dateCreationUniteLegale"`
	CategorieJuridique string `json:"categorieJuridiqueUniteLegale"`
	ActivitePrincipale string `json:"activitePrincipaleUniteLegale"`
	TrancheEffectifs   string `json:"trancheEffectifsUniteLegale"`
	EtatAdministratif  string `json:"etatAdministratifUniteLegale"`
	NicSiege           string `json:"nicSiegeUniteLegale"`
}

type sireneLegalUnitsEnvelope struct {
	Header        sireneHeader        `json:"header"`
	UnitesLegales []sireneUniteLegale `json:"unitesLegales"`
}

type sireneEstablishmentEnvelope struct {
	Header        sireneHeader        `json:"header"`
	Etablissement sireneEtablissement `json:"etablissement"`
}

type sireneEstablishmentsEnvelope struct {
	Header         sireneHeader          `json:"header"`
	Etablissements []sireneEtablissement `json:"etablissements"`
}

type sireneEtablissement struct {
	Siret              string `json:"siret"`
	Siege              bool   `json:"etablissementSiege"`
	StatutDiffusion    string `json:"statutDiffusionEtablissement"`
	TrancheEffectifs   string `json:"trancheEffectifsEtablissement"`
	EtatAdministratif  string `json:"etatAdministratifEtablissement"`
	ActivitePrincipale string `json:"activitePrincipaleEtablissement"`
	NumeroVoie         string `json:"numeroVoieEtablissement"`
	TypeVoie           string `json:"typeVoieEtablissement"`
	LibelleVoie        string `json:"libelleVoieEtablissement"`
	CodePostal         string `json:"codePostalEtablissement"`
	LibelleCommune     string `json:"libelleCommuneEtablissement"`
}

// Entity fetches a legal unit by business key.
func (s *Sirene) Entity(ctx context.Context, businessKey string) (*types.BusinessEntity, error) {
	resp, err := s.caller.Do(ctx, httpcall.Request{
		Provider: NameSirene,
		URL:      s.base + "/siren/" + businessKey,
	})
	if err != nil {
		return nil, err
	}

	var envelope sireneLegalUnitEnvelope
	if err := decode(NameSirene, resp.Body, &envelope); err != nil {
		return nil, err
	}
	if err := envelope.Header.check(); err != nil {
		return nil, err
	}
	return envelope.UniteLegale.toEntity(), nil
}

// Search queries legal units through the registry's q dialect. The
// name term and any activity or size filters are AND-joined the way
// the registry expects. An empty result set is not an error.
func (s *Sirene) Search(ctx context.Context, query string, page, perPage int, filters types.SearchFilters) ([]types.BusinessEntity, types.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultSearchPerPage
	}
	if perPage > maxSearchPerPage {
		perPage = maxSearchPerPage
	}

	terms := []string{`denominationUniteLegale:"` + query + `"`}
	if filters.ActivityCode != "" {
		terms = append(terms, "activitePrincipaleUniteLegale:"+filters.ActivityCode)
	}
	if filters.SizeBucket != "" {
		terms = append(terms, "trancheEffectifsUniteLegale:"+filters.SizeBucket)
	}

	q := url.Values{}
	q.Set("q", strings.Join(terms, " AND "))
	q.Set("nombre", strconv.Itoa(perPage))
	q.Set("debut", strconv.Itoa((page-1)*perPage))

	resp, err := s.caller.Do(ctx, httpcall.Request{
		Provider: NameSirene,
		URL:      s.base + "/siren",
		Query:    q,
	})
	if err != nil {
		if guicherr.KindOf(err) == guicherr.KindNotFound {
			return nil, types.Pagination{Page: page, PerPage: perPage}, nil
		}
		return nil, types.Pagination{}, err
	}

	var envelope sireneLegalUnitsEnvelope
	if err := decode(NameSirene, resp.Body, &envelope); err != nil {
		return nil, types.Pagination{}, err
	}
	if err := envelope.Header.check(); err != nil {
		if guicherr.KindOf(err) == guicherr.KindNotFound {
			return nil, types.Pagination{Page: page, PerPage: perPage}, nil
		}
		return nil, types.Pagination{}, err
	}

	entities := make([]types.BusinessEntity, 0, len(envelope.UnitesLegales))
	for _, u := range envelope.UnitesLegales {
		entities = append(entities, *u.toEntity())
	}

	total := envelope.Header.Total
	pagination := types.Pagination{
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (total + perPage - 1) / perPage,
	}
	if pagination.TotalPages < 1 {
		pagination.TotalPages = 1
	}
	return entities, pagination, nil
}

// PrivacyStatus probes whether a business key's records are publicly
// diffusible. Fusion calls this before fan-out to parameterize
// redaction.
func (s *Sirene) PrivacyStatus(ctx context.Context, businessKey string) (types.Privacy, error) {
	entity, err := s.Entity(ctx, businessKey)
	if err != nil {
		return types.PrivacyOpen, err
	}
	return entity.Privacy, nil
}

// Establishment fetches one establishment by its fourteen-digit key.
func (s *Sirene) Establishment(ctx context.Context, establishmentKey string) (*types.Establishment, error) {
	resp, err := s.caller.Do(ctx, httpcall.Request{
		Provider: NameSirene,
		URL:      s.base + "/siret/" + establishmentKey,
	})
	if err != nil {
		return nil, err
	}

	var envelope sireneEstablishmentEnvelope
	if err := decode(NameSirene, resp.Body, &envelope); err != nil {
		return nil, err
	}
	if err := envelope.Header.check(); err != nil {
		return nil, err
	}
	est := envelope.Etablissement.toEstablishment()
	return &est, nil
}

// Establishments lists the establishments of a business key, at most
// one hundred, optionally restricted to active ones.
func (s *Sirene) Establishments(ctx context.Context, businessKey string, onlyActive bool) ([]types.Establishment, error) {
	query := "siren:" + businessKey
	if onlyActive {
		query += " AND etatAdministratifEtablissement:A"
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("nombre", "100")

	resp, err := s.caller.Do(ctx, httpcall.Request{
		Provider: NameSirene,
		URL:      s.base + "/siret",
		Query:    q,
	})
	if err != nil {
		return nil, err
	}

	var envelope sireneEstablishmentsEnvelope
	if err := decode(NameSirene, resp.Body, &envelope); err != nil {
		return nil, err
	}
	if err := envelope.Header.check(); err != nil {
		return nil, err
	}

	establishments := make([]types.Establishment, 0, len(envelope.Etablissements))
	for _, e := range envelope.Etablissements {
		establishments = append(establishments, e.toEstablishment())
	}
	return establishments, nil
}

func (u sireneUniteLegale) toEntity() *types.BusinessEntity {
	privacy := types.PrivacyOpen
	if u.StatutDiffusion == "P" {
		privacy = types.PrivacyProtected
	}

	entity := &types.BusinessEntity{
		BusinessKey:  u.Siren,
		Name:         u.Denomination,
		Acronym:      u.Sigle,
		CreationDate: u.DateCreation,
		ActivityCode: u.ActivitePrincipale,
		SizeBucket:   u.TrancheEffectifs,
		Active:       u.EtatAdministratif == "A",
		Privacy:      privacy,
		Sources:      []string{NameSirene},
	}
	if u.CategorieJuridique != "" {
		entity.LegalForm = &types.LegalForm{
			Code:  u.CategorieJuridique,
			Label: LegalFormLabel(u.CategorieJuridique),
		}
	}
	if u.NicSiege != "" {
		entity.EstablishmentKey = u.Siren + u.NicSiege
	}
	return entity
}

func (e sireneEtablissement) toEstablishment() types.Establishment {
	return types.Establishment{
		EstablishmentKey: e.Siret,
		Headquarters:     e.Siege,
		SizeBucket:       e.TrancheEffectifs,
		ActivityCode:     e.ActivitePrincipale,
		Active:           e.EtatAdministratif == "A",
		Address:          e.toAddress(),
	}
}

// toAddress keeps only the postal code and city when the
// establishment's diffusion is restricted.
func (e sireneEtablissement) toAddress() *types.Address {
	if e.StatutDiffusion == "P" {
		return &types.Address{PostalCode: e.CodePostal, City: e.LibelleCommune}
	}
	street := strings.TrimSpace(e.TypeVoie + " " + e.LibelleVoie)
	return &types.Address{
		HouseNumber: e.NumeroVoie,
		Street:      street,
		PostalCode:  e.CodePostal,
		City:        e.LibelleCommune,
	}
}

// legalFormLabels maps the registry's legal category codes to short
// labels. Unknown codes fall back to a generic label.
var legalFormLabels = map[string]string{
	"1000": "Entrepreneur individuel",
	"5307": "SNC",
	"5308": "SCI",
	"5498": "EURL",
	"5499": "SARL",
	"5599": "SA",
	"5710": "SAS",
	"5720": "SASU",
	"9220": "Association déclarée",
}

// LegalFormLabel resolves a legal category code to its short label.
// Unknown codes fall back to a generic label carrying the code.
func LegalFormLabel(code string) string {
	if label, ok := legalFormLabels[code]; ok {
		return label
	}
	return "Forme juridique " + code
}
