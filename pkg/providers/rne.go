package providers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/httpcall"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/types"
)

// RNE is the trade-register adapter. It carries the richest company
// records (executives, capital, filings) behind a login-issued
// bearer.
type RNE struct {
	caller *httpcall.Caller
	base   string
	logger zerolog.Logger
}

func NewRNE(caller *httpcall.Caller, base string) *RNE {
	return &RNE{caller: caller, base: base, logger: log.WithProvider(NameRNE)}
}

type rneEnvelope struct {
	Siren     string       `json:"siren"`
	Formality rneFormality `json:"formality"`
}

type rneFormality struct {
	Content rneContent `json:"content"`
}

type rneContent struct {
	Denomination        string             `json:"denomination"`
	DenominationSociale string             `json:"denominationSociale"`
	RaisonSociale       string             `json:"raisonSociale"`
	Nom                 string             `json:"nom"`
	NomCommercial       string             `json:"nomCommercial"`
	FormeJuridique      rneCodeLabel       `json:"formeJuridique"`
	Capital             rneCapital         `json:"capital"`
	DateImmatriculation string             `json:"dateImmatriculation"`
	DateRadiation       string             `json:"dateRadiation"`
	Representants       []rneRepresentant  `json:"representants"`
	Etablissements      []rneEtablissement `json:"etablissements"`
	ActivitePrincipale  rneCodeLabel       `json:"activitePrincipale"`
}

type rneCodeLabel struct {
	Code    string `json:"code"`
	Libelle string `json:"libelle"`
}

type rneCapital struct {
	Montant float64 `json:"montant"`
	Devise  string  `json:"devise"`
}

type rneRepresentant struct {
	Qualite  string      `json:"qualite"`
	Personne rnePersonne `json:"personne"`
}

type rnePersonne struct {
	TypePersonne  string `json:"typePersonne"`
	Nom           string `json:"nom"`
	Prenom        string `json:"prenom"`
	DateNaissance string `json:"dateNaissance"`
	Nationalite   string `json:"nationalite"`
	Denomination  string `json:"denomination"`
	Siren         string `json:"siren"`
}

type rneEtablissement struct {
	Siret              string     `json:"siret"`
	EstSiege           bool       `json:"estSiege"`
	EtatAdministratif  string     `json:"etatAdministratif"`
	Adresse            rneAdresse `json:"adresse"`
	ActivitePrincipale string     `json:"activitePrincipale"`
}

type rneAdresse struct {
	Voie       string `json:"voie"`
	CodePostal string `json:"codePostal"`
	Commune    string `json:"commune"`
}

type rneDocumentsEnvelope struct {
	Documents []rneDocument `json:"documents"`
}

type rneDocument struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
	Date string `json:"date"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Company fetches the trade-register record for a business key.
func (r *RNE) Company(ctx context.Context, businessKey string) (*types.BusinessEntity, error) {
	resp, err := r.caller.Do(ctx, httpcall.Request{
		Provider: NameRNE,
		URL:      r.base + "/companies/" + businessKey,
	})
	if err != nil {
		return nil, err
	}

	var envelope rneEnvelope
	if err := decode(NameRNE, resp.Body, &envelope); err != nil {
		return nil, err
	}
	return envelope.toEntity(), nil
}

// Documents lists the register's filings (acts, yearly accounts,
// statutes) for a business key, with direct download URLs.
func (r *RNE) Documents(ctx context.Context, businessKey string) ([]types.Document, error) {
	resp, err := r.caller.Do(ctx, httpcall.Request{
		Provider: NameRNE,
		URL:      r.base + "/companies/" + businessKey + "/documents",
	})
	if err != nil {
		return nil, err
	}

	var envelope rneDocumentsEnvelope
	if err := decode(NameRNE, resp.Body, &envelope); err != nil {
		return nil, err
	}

	documents := make([]types.Document, 0, len(envelope.Documents))
	for _, d := range envelope.Documents {
		doc := types.Document{
			ID:          d.ID,
			BusinessKey: businessKey,
			Kind:        rneDocumentKind(d.Type),
			Name:        d.Name,
			Date:        d.Date,
			Size:        d.Size,
			URL:         d.URL,
			Provider:    NameRNE,
		}
		if doc.Kind == types.DocumentAccounts && len(d.Date) >= 4 {
			if year, err := strconv.Atoi(d.Date[:4]); err == nil {
				doc.Year = year
			}
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

// Fetch downloads a listed filing's PDF bytes through the register's
// direct URL. The document returned by Documents is filled in place
// with content, size, and a client-facing filename.
func (r *RNE) Fetch(ctx context.Context, document *types.Document) (*types.Document, error) {
	if document.URL == "" {
		return nil, guicherr.New(guicherr.KindValidation, NameRNE, "document carries no download URL")
	}

	resp, err := r.caller.Do(ctx, httpcall.Request{
		Provider: NameRNE,
		URL:      document.URL,
		Accept:   "application/pdf",
		Download: true,
	})
	if err != nil {
		return nil, err
	}

	document.Content = resp.Body
	document.Size = int64(len(resp.Body))
	document.MimeType = "application/pdf"
	document.Filename = pdfFilename(document.Kind, document.BusinessKey, document.Year, time.Now())
	return document, nil
}

func (e rneEnvelope) toEntity() *types.BusinessEntity {
	content := e.Formality.Content

	entity := &types.BusinessEntity{
		BusinessKey:   e.Siren,
		Name:          content.denomination(),
		ActivityCode:  content.ActivitePrincipale.Code,
		CreationDate:  content.DateImmatriculation,
		CessationDate: content.DateRadiation,
		Active:        content.DateRadiation == "",
		Sources:       []string{NameRNE},
	}
	if content.FormeJuridique.Code != "" {
		label := content.FormeJuridique.Libelle
		if label == "" {
			label = LegalFormLabel(content.FormeJuridique.Code)
		}
		entity.LegalForm = &types.LegalForm{Code: content.FormeJuridique.Code, Label: label}
	}
	if content.Capital.Montant > 0 {
		currency := content.Capital.Devise
		if currency == "" {
			currency = "EUR"
		}
		entity.Financials = &types.Financials{ShareCapital: content.Capital.Montant, Currency: currency}
	}
	for _, rep := range content.Representants {
		entity.Executives = append(entity.Executives, rep.toExecutive())
	}
	for _, est := range content.Etablissements {
		entity.Establishments = append(entity.Establishments, est.toEstablishment())
	}
	entity.EstablishmentCount = len(entity.Establishments)
	return entity
}

// denomination resolves the register's name fields in order of
// preference. An empty result lets lower-precedence sources fill the
// name during fusion.
func (c rneContent) denomination() string {
	for _, name := range []string{c.Denomination, c.DenominationSociale, c.RaisonSociale, c.Nom, c.NomCommercial} {
		if name != "" {
			return name
		}
	}
	return ""
}

// toExecutive maps one register representative. Natural-person birth
// dates never leave the adapter with more than year-month precision.
func (rep rneRepresentant) toExecutive() types.Executive {
	person := rep.Personne
	if person.TypePersonne == "PHYSIQUE" {
		return types.Executive{
			Role:        rep.Qualite,
			Surname:     person.Nom,
			GivenName:   person.Prenom,
			BirthDate:   birthMonth(person.DateNaissance),
			Nationality: person.Nationalite,
			Kind:        types.PersonNatural,
		}
	}
	return types.Executive{
		Role:        rep.Qualite,
		CompanyName: person.Denomination,
		Kind:        types.PersonLegal,
	}
}

func (e rneEtablissement) toEstablishment() types.Establishment {
	return types.Establishment{
		EstablishmentKey: e.Siret,
		Headquarters:     e.EstSiege,
		ActivityCode:     e.ActivitePrincipale,
		Active:           e.EtatAdministratif == "A",
		Address: &types.Address{
			Street:     e.Adresse.Voie,
			PostalCode: e.Adresse.CodePostal,
			City:       e.Adresse.Commune,
		},
	}
}

func birthMonth(date string) string {
	if len(date) > 7 {
		return date[:7]
	}
	return date
}

func rneDocumentKind(raw string) types.DocumentKind {
	switch kind := strings.ToLower(raw); {
	case strings.Contains(kind, "bilan"), strings.Contains(kind, "compte"):
		return types.DocumentAccounts
	case strings.Contains(kind, "statut"):
		return types.DocumentStatutes
	default:
		return types.DocumentAct
	}
}
