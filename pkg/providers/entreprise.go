package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/httpcall"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/types"
)

// DocumentFormat selects how a document is delivered.
type DocumentFormat string

const (
	// FormatBytes streams the PDF through the gateway.
	FormatBytes DocumentFormat = "bytes"
	// FormatURL returns an upstream-signed temporary link.
	FormatURL DocumentFormat = "url"
)

// Accounts filings are checked this many years back when listing.
const accountsYearsBack = 4

// Entreprise is the official-documents adapter. Every call carries
// the recipient headers injected by the credential store; PDF
// retrieval runs under a tighter rate limit than the JSON endpoints.
type Entreprise struct {
	caller *httpcall.Caller
	base   string
	now    func() time.Time
	logger zerolog.Logger
}

func NewEntreprise(caller *httpcall.Caller, base string) *Entreprise {
	return &Entreprise{caller: caller, base: base, now: time.Now, logger: log.WithProvider(NameEntreprise)}
}

type entrepriseDocumentSpec struct {
	path   string
	name   string
	yearly bool
}

var entrepriseDocuments = map[types.DocumentKind]entrepriseDocumentSpec{
	types.DocumentExtract:    {path: "extrait_kbis", name: "Extrait KBIS"},
	types.DocumentAccounts:   {path: "bilans_bdf", name: "Bilans Banque de France", yearly: true},
	types.DocumentFiscalCert: {path: "attestations_fiscales_dgfip", name: "Attestation fiscale DGFIP"},
	types.DocumentSocialCert: {path: "attestations_sociales_acoss", name: "Attestation sociale ACOSS"},
}

type entrepriseURLEnvelope struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

// Download fetches one document, either as raw PDF bytes or as a
// temporary signed URL. Year is required for yearly filings and
// ignored otherwise.
func (e *Entreprise) Download(ctx context.Context, businessKey string, kind types.DocumentKind, year int, format DocumentFormat) (*types.Document, error) {
	spec, ok := entrepriseDocuments[kind]
	if !ok {
		return nil, guicherr.New(guicherr.KindValidation, NameEntreprise, fmt.Sprintf("document kind %q is not served by this provider", kind))
	}

	if !spec.yearly {
		year = 0
	}
	endpoint := e.base + "/entreprises/" + businessKey + "/" + spec.path
	document := &types.Document{
		ID:          documentID(kind, businessKey, year),
		BusinessKey: businessKey,
		Kind:        kind,
		Name:        spec.name,
		Provider:    NameEntreprise,
	}
	if spec.yearly {
		if year == 0 {
			year = e.now().Year() - 1
		}
		endpoint += "/" + fmt.Sprint(year)
		document.ID = documentID(kind, businessKey, year)
		document.Name = fmt.Sprintf("%s %d", spec.name, year)
		document.Year = year
	}

	switch format {
	case FormatURL:
		return e.temporaryURL(ctx, endpoint, document)
	case FormatBytes, "":
		return e.pdf(ctx, endpoint, document)
	default:
		return nil, guicherr.New(guicherr.KindValidation, NameEntreprise, fmt.Sprintf("unknown document format %q", format))
	}
}

// Available probes which documents exist for an entity. Yearly
// filings are probed per year, newest first.
func (e *Entreprise) Available(ctx context.Context, businessKey string) ([]types.Document, error) {
	var documents []types.Document
	for _, kind := range []types.DocumentKind{
		types.DocumentExtract,
		types.DocumentAccounts,
		types.DocumentFiscalCert,
		types.DocumentSocialCert,
	} {
		spec := entrepriseDocuments[kind]
		endpoint := e.base + "/entreprises/" + businessKey + "/" + spec.path

		exists, err := e.exists(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		if !spec.yearly {
			documents = append(documents, types.Document{
				ID:          documentID(kind, businessKey, 0),
				BusinessKey: businessKey,
				Kind:        kind,
				Name:        spec.name,
				Provider:    NameEntreprise,
			})
			continue
		}

		latest := e.now().Year() - 1
		for year := latest; year > latest-accountsYearsBack; year-- {
			exists, err := e.exists(ctx, fmt.Sprintf("%s/%d", endpoint, year))
			if err != nil {
				return nil, err
			}
			if !exists {
				continue
			}
			documents = append(documents, types.Document{
				ID:          documentID(kind, businessKey, year),
				BusinessKey: businessKey,
				Kind:        kind,
				Name:        fmt.Sprintf("%s %d", spec.name, year),
				Year:        year,
				Provider:    NameEntreprise,
			})
		}
	}
	return documents, nil
}

func (e *Entreprise) temporaryURL(ctx context.Context, endpoint string, document *types.Document) (*types.Document, error) {
	resp, err := e.caller.Do(ctx, httpcall.Request{
		Provider: NameEntreprise,
		URL:      endpoint + "/url",
	})
	if err != nil {
		return nil, err
	}

	var envelope entrepriseURLEnvelope
	if err := decode(NameEntreprise, resp.Body, &envelope); err != nil {
		return nil, err
	}

	document.URL = envelope.URL
	document.MimeType = "application/pdf"
	if expires, err := time.Parse(time.RFC3339, envelope.ExpiresAt); err == nil {
		document.URLExpiresAt = expires
	} else {
		// Upstream links live one hour when no expiry is declared.
		document.URLExpiresAt = e.now().UTC().Add(time.Hour)
	}
	return document, nil
}

func (e *Entreprise) pdf(ctx context.Context, endpoint string, document *types.Document) (*types.Document, error) {
	resp, err := e.caller.Do(ctx, httpcall.Request{
		Provider: NameEntreprise,
		URL:      endpoint,
		Accept:   "application/pdf",
		Download: true,
	})
	if err != nil {
		return nil, err
	}

	document.Content = resp.Body
	document.Size = int64(len(resp.Body))
	document.MimeType = "application/pdf"
	document.Filename = pdfFilename(document.Kind, document.BusinessKey, document.Year, e.now())
	return document, nil
}

// exists probes an endpoint with HEAD. A 404 means the document is
// not held for this entity; other failures propagate.
func (e *Entreprise) exists(ctx context.Context, endpoint string) (bool, error) {
	_, err := e.caller.Do(ctx, httpcall.Request{
		Provider: NameEntreprise,
		Method:   http.MethodHead,
		URL:      endpoint,
	})
	if err != nil {
		if guicherr.KindOf(err) == guicherr.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func documentID(kind types.DocumentKind, businessKey string, year int) string {
	if year > 0 {
		return fmt.Sprintf("%s_%s_%d", kind, businessKey, year)
	}
	return fmt.Sprintf("%s_%s", kind, businessKey)
}

// pdfFilename builds the download name served to clients:
// <kind>_<key>[_<year>]_<YYYYMMDD>.pdf.
func pdfFilename(kind types.DocumentKind, businessKey string, year int, now time.Time) string {
	stamp := now.UTC().Format("20060102")
	if year > 0 {
		return fmt.Sprintf("%s_%s_%d_%s.pdf", kind, businessKey, year, stamp)
	}
	return fmt.Sprintf("%s_%s_%s.pdf", kind, businessKey, stamp)
}
