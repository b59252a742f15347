package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opengreffe/guichet/pkg/cache"
	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/providers"
	"github.com/opengreffe/guichet/pkg/types"
)

// AnnouncementSearchRequest narrows a legal-announcement search. All
// filters are optional; date bounds are inclusive.
type AnnouncementSearchRequest struct {
	BusinessKey string                 `json:"business_key,omitempty"`
	Name        string                 `json:"name,omitempty"`
	Kind        types.AnnouncementKind `json:"kind,omitempty"`
	DateFrom    string                 `json:"date_from,omitempty"`
	DateTo      string                 `json:"date_to,omitempty"`
	Page        int                    `json:"page,omitempty"`
	PerPage     int                    `json:"per_page,omitempty"`
}

// AnnouncementSearchResponse is one announcement result window.
type AnnouncementSearchResponse struct {
	Total         int                  `json:"total"`
	Announcements []types.Announcement `json:"announcements"`
	Pagination    types.Pagination     `json:"pagination"`
}

// SearchAnnouncements queries the announcements register. Result
// windows are cached briefly under the announce namespace.
func (t *Tools) SearchAnnouncements(ctx context.Context, caller Caller, req AnnouncementSearchRequest) (*AnnouncementSearchResponse, error) {
	start := time.Now()

	if req.BusinessKey != "" {
		if err := validBusinessKey(req.BusinessKey); err != nil {
			return nil, err
		}
	}
	if err := validDate("date_from", req.DateFrom); err != nil {
		return nil, err
	}
	if err := validDate("date_to", req.DateTo); err != nil {
		return nil, err
	}
	page, perPage, err := normalizePaging(req.Page, req.PerPage, maxRegisterPerPage)
	if err != nil {
		return nil, err
	}
	req.Page, req.PerPage = page, perPage

	fp, err := cache.Key(cache.NSAnnounce, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint announcement search: %w", err)
	}
	var cached AnnouncementSearchResponse
	if t.cache.Lookup(ctx, fp, &cached) {
		t.auditAnnouncements(req, &cached, caller, start, true)
		return &cached, nil
	}

	total, announcements, err := t.registry.BODACC.Search(ctx, providers.AnnouncementQuery{
		BusinessKey: req.BusinessKey,
		Name:        req.Name,
		Kind:        req.Kind,
		DateFrom:    req.DateFrom,
		DateTo:      req.DateTo,
		Page:        page,
		PerPage:     perPage,
	})
	if err != nil {
		if guicherr.KindOf(err) != guicherr.KindNotFound {
			return nil, err
		}
		total, announcements = 0, nil
	}
	if announcements == nil {
		announcements = []types.Announcement{}
	}

	resp := &AnnouncementSearchResponse{
		Total:         total,
		Announcements: announcements,
		Pagination: types.Pagination{
			Total:      total,
			Page:       page,
			PerPage:    perPage,
			TotalPages: totalPages(total, perPage),
		},
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	t.cache.Store(ctx, fp, resp)
	t.auditAnnouncements(req, resp, caller, start, false)
	return resp, nil
}

func (t *Tools) auditAnnouncements(req AnnouncementSearchRequest, resp *AnnouncementSearchResponse, caller Caller, start time.Time, cacheHit bool) {
	t.audit("search_announcements", "search", req.BusinessKey, caller, start, 200, map[string]string{
		"results":   strconv.Itoa(len(resp.Announcements)),
		"cache_hit": strconv.FormatBool(cacheHit),
	})
}

// TimelineRequest asks for the full announcement history of one entity.
type TimelineRequest struct {
	BusinessKey string `json:"business_key"`
}

// TimelineResponse is the announcement history, newest first, with a
// by-year grouping alongside the flat list.
type TimelineResponse struct {
	BusinessKey             string               `json:"business_key"`
	Total                   int                  `json:"total"`
	Timeline                []types.Announcement `json:"timeline"`
	ByYear                  []types.TimelineYear `json:"by_year"`
	HasCollectiveProcedures bool                 `json:"has_collective_procedures"`
}

// EntityTimeline returns every announcement published for one business
// key and flags whether any of them opened a collective procedure.
func (t *Tools) EntityTimeline(ctx context.Context, caller Caller, req TimelineRequest) (*TimelineResponse, error) {
	start := time.Now()
	if err := validBusinessKey(req.BusinessKey); err != nil {
		return nil, err
	}

	announcements, err := t.registry.BODACC.Timeline(ctx, req.BusinessKey)
	if err != nil {
		if guicherr.KindOf(err) != guicherr.KindNotFound {
			return nil, err
		}
		announcements = nil
	}
	if announcements == nil {
		announcements = []types.Announcement{}
	}

	resp := &TimelineResponse{
		BusinessKey: req.BusinessKey,
		Total:       len(announcements),
		Timeline:    announcements,
		ByYear:      providers.GroupByYear(announcements),
	}
	for _, a := range announcements {
		if a.Kind == types.AnnouncementCollectiveProcedure {
			resp.HasCollectiveProcedures = true
			break
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	t.audit("get_entity_timeline", "retrieve", req.BusinessKey, caller, start, 200, map[string]string{
		"announcements":             strconv.Itoa(resp.Total),
		"has_collective_procedures": strconv.FormatBool(resp.HasCollectiveProcedures),
	})
	return resp, nil
}

// FinancialHealthRequest grades one entity's procedure exposure.
type FinancialHealthRequest struct {
	BusinessKey string `json:"business_key"`
}

// FinancialHealthResponse is the collective-procedure risk summary.
type FinancialHealthResponse struct {
	BusinessKey string `json:"business_key"`
	types.FinancialHealth
}

// FinancialHealth summarizes the collective procedures published for
// one business key into a LOW/MEDIUM/HIGH risk grade.
func (t *Tools) FinancialHealth(ctx context.Context, caller Caller, req FinancialHealthRequest) (*FinancialHealthResponse, error) {
	start := time.Now()
	if err := validBusinessKey(req.BusinessKey); err != nil {
		return nil, err
	}

	health, err := t.registry.BODACC.FinancialHealth(ctx, req.BusinessKey)
	if err != nil {
		if guicherr.KindOf(err) != guicherr.KindNotFound {
			return nil, err
		}
		health = &types.FinancialHealth{Risk: types.RiskLow}
	}

	resp := &FinancialHealthResponse{BusinessKey: req.BusinessKey, FinancialHealth: *health}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	t.audit("check_financial_health", "retrieve", req.BusinessKey, caller, start, 200, map[string]string{
		"procedures": strconv.Itoa(health.ProceduresCount),
		"risk":       string(health.Risk),
	})
	return resp, nil
}
