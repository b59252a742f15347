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

	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/httpcall"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/types"
)

const (
	defaultAnnouncementsPerPage = 20
	maxAnnouncementsPerPage     = 100
	timelineFetchLimit          = 50
	healthFetchLimit            = 100
)

// BODACC is the legal-announcements adapter. The upstream exposes an
// open-data catalog queried with a SQL-ish where DSL; no credentials
// are required.
type BODACC struct {
	caller *httpcall.Caller
	base   string
	logger zerolog.Logger
}

func NewBODACC(caller *httpcall.Caller, base string) *BODACC {
	return &BODACC{caller: caller, base: base, logger: log.WithProvider(NameBODACC)}
}

// AnnouncementQuery narrows an announcement search. Zero fields are
// omitted from the upstream query. Date bounds are inclusive.
type AnnouncementQuery struct {
	BusinessKey string
	Name        string
	Kind        types.AnnouncementKind
	DateFrom    string
	DateTo      string
	Page        int
	PerPage     int
}

// Announcement sections are published under single-letter type codes.
var announcementLetters = map[types.AnnouncementKind]string{
	types.AnnouncementSale:                "A",
	types.AnnouncementCreation:            "B",
	types.AnnouncementCollectiveProcedure: "C",
	types.AnnouncementAccountsFiling:      "D",
	types.AnnouncementCorrection:          "P",
}

var announcementKinds = map[string]types.AnnouncementKind{
	"A": types.AnnouncementSale,
	"B": types.AnnouncementCreation,
	"C": types.AnnouncementCollectiveProcedure,
	"D": types.AnnouncementAccountsFiling,
	"P": types.AnnouncementCorrection,
}

type bodaccEnvelope struct {
	TotalCount int            `json:"total_count"`
	Records    []bodaccRecord `json:"records"`
}

type bodaccRecord struct {
	ID     string       `json:"id"`
	Fields bodaccFields `json:"fields"`
}

type bodaccFields struct {
	TypeAvis       string `json:"typeavis"`
	DateParution   string `json:"dateparution"`
	Tribunal       string `json:"tribunal"`
	Registre       string `json:"registre_numero_dossier_greffe_debiteur"`
	Denomination   string `json:"denomination"`
	PersonneMorale string `json:"personne_morale_denomination"`
	Titre          string `json:"titre"`
	Contenu        string `json:"contenu"`
	Jugement       string `json:"jugement"`
	PDFURL         string `json:"publicationavis_facette"`
}

// Search queries the announcements catalog and returns the upstream
// total alongside the requested page.
func (b *BODACC) Search(ctx context.Context, q AnnouncementQuery) (int, []types.Announcement, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	perPage := q.PerPage
	if perPage < 1 {
		perPage = defaultAnnouncementsPerPage
	}
	if perPage > maxAnnouncementsPerPage {
		perPage = maxAnnouncementsPerPage
	}

	where, err := buildAnnouncementWhere(q)
	if err != nil {
		return 0, nil, err
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(perPage))
	params.Set("offset", strconv.Itoa((page-1)*perPage))
	params.Set("order_by", "dateparution desc")
	if where != "" {
		params.Set("where", where)
	}

	resp, err := b.caller.Do(ctx, httpcall.Request{
		Provider: NameBODACC,
		URL:      b.base + "/catalog/datasets/annonces-commerciales/records",
		Query:    params,
	})
	if err != nil {
		return 0, nil, err
	}

	var envelope bodaccEnvelope
	if err := decode(NameBODACC, resp.Body, &envelope); err != nil {
		return 0, nil, err
	}

	announcements := make([]types.Announcement, 0, len(envelope.Records))
	for _, record := range envelope.Records {
		announcements = append(announcements, record.toAnnouncement())
	}
	return envelope.TotalCount, announcements, nil
}

// Timeline fetches an entity's announcements newest first, capped at
// a fixed window large enough for any realistic register history.
func (b *BODACC) Timeline(ctx context.Context, businessKey string) ([]types.Announcement, error) {
	_, announcements, err := b.Search(ctx, AnnouncementQuery{
		BusinessKey: businessKey,
		PerPage:     timelineFetchLimit,
	})
	return announcements, err
}

// FinancialHealth grades an entity by its collective-procedure
// announcements. A procedure published within the last year grades
// HIGH, an older one MEDIUM, none LOW.
func (b *BODACC) FinancialHealth(ctx context.Context, businessKey string) (*types.FinancialHealth, error) {
	_, procedures, err := b.Search(ctx, AnnouncementQuery{
		BusinessKey: businessKey,
		Kind:        types.AnnouncementCollectiveProcedure,
		PerPage:     healthFetchLimit,
	})
	if err != nil {
		return nil, err
	}

	health := &types.FinancialHealth{ProceduresCount: len(procedures), Risk: types.RiskLow}
	if len(procedures) == 0 {
		return health, nil
	}
	health.Risk = types.RiskMedium

	// Results arrive newest first, so the first parseable date decides.
	for _, procedure := range procedures {
		published, err := time.Parse("2006-01-02", procedure.PublicationDate)
		if err != nil {
			continue
		}
		if time.Since(published) < 365*24*time.Hour {
			health.HasRecent = true
			health.Risk = types.RiskHigh
		}
		break
	}
	return health, nil
}

// GroupByYear buckets announcements into descending publication
// years. Undated announcements land under an empty year label at the
// end.
func GroupByYear(announcements []types.Announcement) []types.TimelineYear {
	buckets := make(map[string][]types.Announcement)
	for _, a := range announcements {
		year := ""
		if len(a.PublicationDate) >= 4 {
			year = a.PublicationDate[:4]
		}
		buckets[year] = append(buckets[year], a)
	}

	years := make([]string, 0, len(buckets))
	for year := range buckets {
		years = append(years, year)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(years)))

	timeline := make([]types.TimelineYear, 0, len(years))
	for _, year := range years {
		timeline = append(timeline, types.TimelineYear{Year: year, Announcements: buckets[year]})
	}
	return timeline
}

func buildAnnouncementWhere(q AnnouncementQuery) (string, error) {
	var clauses []string
	if q.BusinessKey != "" {
		clauses = append(clauses, fmt.Sprintf("registre_numero_dossier_greffe_debiteur=%q", q.BusinessKey))
	}
	if q.Name != "" {
		name := sanitizeDSL(q.Name)
		clauses = append(clauses, fmt.Sprintf(
			"(denomination like %q OR nom_personne_physique like %q OR personne_morale_denomination like %q)",
			name, name, name))
	}
	if q.Kind != "" {
		letter, ok := announcementLetters[q.Kind]
		if !ok {
			return "", guicherr.New(guicherr.KindValidation, NameBODACC, fmt.Sprintf("unknown announcement kind %q", q.Kind))
		}
		clauses = append(clauses, fmt.Sprintf("typeavis=%q", letter))
	}
	if q.DateFrom != "" {
		clauses = append(clauses, fmt.Sprintf("dateparution>=%q", q.DateFrom))
	}
	if q.DateTo != "" {
		clauses = append(clauses, fmt.Sprintf("dateparution<=%q", q.DateTo))
	}
	return strings.Join(clauses, " AND "), nil
}

// sanitizeDSL strips characters that would terminate a where-clause
// string literal.
func sanitizeDSL(s string) string {
	return strings.NewReplacer(`"`, "", `\`, "").Replace(s)
}

func (r bodaccRecord) toAnnouncement() types.Announcement {
	fields := r.Fields

	title := fields.Titre
	if title == "" {
		title = fields.Denomination
		if title == "" {
			title = fields.PersonneMorale
		}
	}
	text := fields.Contenu
	if text == "" {
		text = fields.Jugement
	}

	return types.Announcement{
		ID:              r.ID,
		Kind:            announcementKinds[fields.TypeAvis],
		PublicationDate: fields.DateParution,
		Court:           fields.Tribunal,
		BusinessKey:     fields.Registre,
		Title:           title,
		Text:            text,
		PDFURL:          fields.PDFURL,
	}
}
