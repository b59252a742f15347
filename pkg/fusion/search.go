package fusion

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/opengreffe/guichet/pkg/cache"
	"github.com/opengreffe/guichet/pkg/metrics"
	"github.com/opengreffe/guichet/pkg/providers"
	"github.com/opengreffe/guichet/pkg/types"
)

const (
	defaultSearchPerPage = 20
	maxSearchPerPage     = 25
)

// SearchRequest is a fused entity search. Caller identity is
// audit-only and excluded from the fingerprint.
type SearchRequest struct {
	Query               string              `json:"query"`
	Page                int                 `json:"page"`
	PerPage             int                 `json:"per_page"`
	Filters             types.SearchFilters `json:"filters"`
	IncludeAssociations bool                `json:"include_associations,omitempty"`

	CallerID string `json:"-"`
	IP       string `json:"-"`
}

// normalize applies paging defaults before fingerprinting so that
// equivalent requests share one cache entry and one flight.
func (r *SearchRequest) normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PerPage < 1 {
		r.PerPage = defaultSearchPerPage
	}
	if r.PerPage > maxSearchPerPage {
		r.PerPage = maxSearchPerPage
	}
}

// SearchResponse is one fused result window.
type SearchResponse struct {
	Results    []types.BusinessEntity `json:"results"`
	Pagination types.Pagination       `json:"pagination"`
}

// Search fans one query out across the configured sources and fuses
// the answers: cache first, then a shared single-flight fan-out.
func (o *Orchestrator) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	req.normalize()

	fp, err := cache.Key(cache.NSSearch, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint search request: %w", err)
	}

	var cached SearchResponse
	if o.cache.Lookup(ctx, fp, &cached) {
		o.auditSearch(req, &cached, start, true, false)
		return &cached, nil
	}

	ch := o.flight.DoChan(fp, func() (interface{}, error) {
		return o.fanOutSearch(o.baseCtx, fp, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			metrics.FusionSharedTotal.Inc()
		}
		resp := res.Val.(*SearchResponse)
		o.auditSearch(req, resp, start, false, res.Shared)
		return resp, nil
	}
}

// searchParts collects fan-out results. Each slice is written by
// exactly one task and read only after Wait.
type searchParts struct {
	tally

	recherche     []types.BusinessEntity
	recherchePage types.Pagination
	sirene        []types.BusinessEntity
	static        []types.BusinessEntity
	associations  []types.BusinessEntity
}

// fanOutSearch queries the open search index always, the registry of
// record when activity or size filters ask for it, the bulk tables
// always, and the associations register on request. A failed source
// degrades the answer instead of failing it; only all sources failing
// is an error.
func (o *Orchestrator) fanOutSearch(ctx context.Context, fp string, req SearchRequest) (*SearchResponse, error) {
	logger := o.logger.With().Str("query", req.Query).Logger()

	parts := &searchParts{}
	sem := semaphore.NewWeighted(o.parallel)
	g, gctx := errgroup.WithContext(ctx)

	run := func(name string, task func(context.Context) error) {
		parts.attempts++
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			if err := task(gctx); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				parts.fail(err)
				logger.Warn().Err(err).Str("source", name).Msg("Search source failed")
			}
			return nil
		})
	}

	run(providers.NameRecherche, func(ctx context.Context) error {
		results, pagination, err := o.registry.Recherche.Search(ctx, req.Query, req.Page, req.PerPage, req.Filters)
		if err != nil {
			return err
		}
		parts.recherche = results
		parts.recherchePage = pagination
		return nil
	})

	if req.Filters.ActivityCode != "" || req.Filters.SizeBucket != "" {
		run(providers.NameSirene, func(ctx context.Context) error {
			results, _, err := o.registry.Sirene.Search(ctx, req.Query, req.Page, req.PerPage, req.Filters)
			if err != nil {
				return err
			}
			parts.sirene = results
			return nil
		})
	}

	run(SourceStatic, func(ctx context.Context) error {
		rows, err := o.store.SearchEntities(ctx, req.Query, req.PerPage)
		if err != nil {
			return err
		}
		static := make([]types.BusinessEntity, 0, len(rows))
		for _, row := range rows {
			static = append(static, *staticEntity(row))
		}
		parts.static = static
		return nil
	})

	if req.IncludeAssociations {
		run(providers.NameRNA, func(ctx context.Context) error {
			_, associations, _, err := o.registry.RNA.Search(ctx, req.Query, req.Filters.PostalCode, req.Page, req.PerPage)
			if err != nil {
				return err
			}
			converted := make([]types.BusinessEntity, 0, len(associations))
			for _, a := range associations {
				converted = append(converted, associationEntity(a))
			}
			parts.associations = converted
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if parts.attempts > 0 && parts.failed == parts.attempts {
		return nil, fmt.Errorf("all search sources failed: %w", parts.firstErr)
	}

	merged := mergeSearchResults(req.Query, parts.recherche, parts.sirene, parts.static, parts.associations)
	for i := range merged {
		o.redactor.RedactEntity(&merged[i])
	}
	if len(merged) > req.PerPage {
		merged = merged[:req.PerPage]
	}

	resp := &SearchResponse{
		Results:    merged,
		Pagination: searchPagination(req, parts.recherchePage, len(merged)),
	}

	if ctx.Err() == nil {
		o.cache.Store(ctx, fp, resp)
	}

	logger.Debug().
		Int("results", len(merged)).
		Int("sources", parts.attempts).
		Msg("Search fused")
	return resp, nil
}

// searchPagination reports the primary source's total when it knows
// one; the fused window itself is the floor.
func searchPagination(req SearchRequest, primary types.Pagination, merged int) types.Pagination {
	total := merged
	if primary.Total > total {
		total = primary.Total
	}
	pages := (total + req.PerPage - 1) / req.PerPage
	if pages < 1 {
		pages = 1
	}
	return types.Pagination{
		Total:      total,
		Page:       req.Page,
		PerPage:    req.PerPage,
		TotalPages: pages,
	}
}

func (o *Orchestrator) auditSearch(req SearchRequest, resp *SearchResponse, start time.Time, cacheHit, shared bool) {
	o.ledger.Log(types.AuditEntry{
		Tool:           "search_entities",
		Operation:      "search",
		CallerID:       req.CallerID,
		IP:             req.IP,
		ResponseTimeMS: time.Since(start).Milliseconds(),
		StatusCode:     200,
		Metadata: map[string]string{
			"query":     req.Query,
			"results":   strconv.Itoa(len(resp.Results)),
			"cache_hit": strconv.FormatBool(cacheHit),
			"shared":    strconv.FormatBool(shared),
		},
	})
}
