package providers

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/httpcall"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/types"
)

// One entity rarely holds more than a handful of labels, but each
// work domain is a separate line upstream.
const rgeFetchLimit = 100

// RGE is the environmental-certifications adapter over the open
// ADEME dataset.
type RGE struct {
	caller *httpcall.Caller
	base   string
	now    func() time.Time
	logger zerolog.Logger
}

func NewRGE(caller *httpcall.Caller, base string) *RGE {
	return &RGE{caller: caller, base: base, now: time.Now, logger: log.WithProvider(NameRGE)}
}

type rgeEnvelope struct {
	Total   int       `json:"total"`
	Results []rgeLine `json:"results"`
}

type rgeLine struct {
	Siret          string `json:"siret"`
	NomEntreprise  string `json:"nom_entreprise"`
	Certificat     string `json:"certificat"`
	NomCertificat  string `json:"nom_certificat"`
	Organisme      string `json:"organisme"`
	DateValidite   string `json:"date_validite"`
	DomaineTravaux string `json:"domaine_travaux"`
	MetaDomaine    string `json:"meta_domaine"`
	CodeTravaux    string `json:"code_travaux"`
	LibelleTravaux string `json:"libelle_travaux"`
}

// Certifications returns the entity's certification lines, one per
// certificate and work domain, newest validity first.
func (r *RGE) Certifications(ctx context.Context, businessKey string) ([]types.Certification, error) {
	params := url.Values{}
	params.Set("size", strconv.Itoa(rgeFetchLimit))
	params.Set("skip", "0")
	params.Set("qs", fmt.Sprintf("siret:%q", businessKey+"*"))

	resp, err := r.caller.Do(ctx, httpcall.Request{
		Provider: NameRGE,
		URL:      r.base + "/lines",
		Query:    params,
	})
	if err != nil {
		return nil, err
	}

	var envelope rgeEnvelope
	if err := decode(NameRGE, resp.Body, &envelope); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	certifications := make([]types.Certification, 0, len(envelope.Results))
	for _, line := range envelope.Results {
		if line.Certificat == "" {
			continue
		}
		key := line.Certificat + "_" + line.DomaineTravaux
		if seen[key] {
			continue
		}
		seen[key] = true
		certifications = append(certifications, r.toCertification(line))
	}

	sort.Slice(certifications, func(i, j int) bool {
		return certifications[i].ValidUntil > certifications[j].ValidUntil
	})
	return certifications, nil
}

// Summary digests certification lines into the per-entity
// certification verdict.
func Summary(certifications []types.Certification) types.RGESummary {
	summary := types.RGESummary{}
	seen := make(map[string]bool)
	for _, cert := range certifications {
		if !cert.Valid {
			continue
		}
		summary.ActiveCount++
		if cert.Domain != "" && !seen[cert.Domain] {
			seen[cert.Domain] = true
			summary.Domains = append(summary.Domains, cert.Domain)
		}
		if summary.NextExpiry == "" || cert.ValidUntil < summary.NextExpiry {
			summary.NextExpiry = cert.ValidUntil
		}
	}
	summary.Certified = summary.ActiveCount > 0
	return summary
}

func (r *RGE) toCertification(line rgeLine) types.Certification {
	domain := line.MetaDomaine
	if domain == "" {
		domain = line.DomaineTravaux
	}
	return types.Certification{
		Type:         "RGE",
		Code:         line.Certificat,
		Name:         line.NomCertificat,
		Issuer:       line.Organisme,
		ValidUntil:   line.DateValidite,
		Valid:        r.validAt(line.DateValidite),
		Domain:       domain,
		Competencies: competencies(line.CodeTravaux, line.LibelleTravaux),
	}
}

// validAt holds iff the end date parses and lies strictly in the
// future.
func (r *RGE) validAt(validUntil string) bool {
	if validUntil == "" {
		return false
	}
	end, err := time.Parse(time.RFC3339, validUntil)
	if err != nil {
		end, err = time.Parse("2006-01-02", validUntil)
	}
	if err != nil {
		return false
	}
	return end.After(r.now())
}

// competencies pairs comma-separated work codes with pipe-separated
// labels. Codes beyond the label list keep an empty label.
func competencies(codes, labels string) []types.Competency {
	if codes == "" {
		return nil
	}
	codeList := strings.Split(codes, ",")
	labelList := []string{}
	if labels != "" {
		labelList = strings.Split(labels, "|")
	}

	out := make([]types.Competency, 0, len(codeList))
	for i, code := range codeList {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		competency := types.Competency{Code: code}
		if i < len(labelList) {
			competency.Label = strings.TrimSpace(labelList[i])
		}
		out = append(out, competency)
	}
	return out
}
