package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opengreffe/guichet/pkg/cache"
	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/types"
)

// Association identifier shapes accepted by the details tool.
const (
	IdentifierRNA         = "rna"
	IdentifierBusinessKey = "business_key"
)

// AssociationSearchRequest queries the associations register by name,
// optionally narrowed to a postal code.
type AssociationSearchRequest struct {
	Query      string `json:"query"`
	PostalCode string `json:"postal_code,omitempty"`
	Page       int    `json:"page,omitempty"`
	PerPage    int    `json:"per_page,omitempty"`
}

// AssociationSearchResponse is one association result window.
type AssociationSearchResponse struct {
	Total        int                 `json:"total"`
	Associations []types.Association `json:"associations"`
	Pagination   types.Pagination    `json:"pagination"`
}

// SearchAssociations queries the associations register. Result windows
// are cached briefly under the assoc namespace.
func (t *Tools) SearchAssociations(ctx context.Context, caller Caller, req AssociationSearchRequest) (*AssociationSearchResponse, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, guicherr.New(guicherr.KindValidation, "", "query must not be empty")
	}
	page, perPage, err := normalizePaging(req.Page, req.PerPage, maxRegisterPerPage)
	if err != nil {
		return nil, err
	}
	req.Page, req.PerPage = page, perPage

	fp, err := cache.Key(cache.NSAssoc, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint association search: %w", err)
	}
	var cached AssociationSearchResponse
	if t.cache.Lookup(ctx, fp, &cached) {
		t.auditAssociations(req, &cached, caller, start, true)
		return &cached, nil
	}

	total, associations, pagination, err := t.registry.RNA.Search(ctx, req.Query, req.PostalCode, page, perPage)
	if err != nil {
		if guicherr.KindOf(err) != guicherr.KindNotFound {
			return nil, err
		}
		total, associations = 0, nil
		pagination = types.Pagination{Page: page, PerPage: perPage}
	}
	if associations == nil {
		associations = []types.Association{}
	}

	resp := &AssociationSearchResponse{
		Total:        total,
		Associations: associations,
		Pagination:   pagination,
	}
	if resp.Pagination.TotalPages == 0 {
		resp.Pagination.TotalPages = totalPages(total, perPage)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	t.cache.Store(ctx, fp, resp)
	t.auditAssociations(req, resp, caller, start, false)
	return resp, nil
}

func (t *Tools) auditAssociations(req AssociationSearchRequest, resp *AssociationSearchResponse, caller Caller, start time.Time, cacheHit bool) {
	t.audit("search_associations", "search", "", caller, start, 200, map[string]string{
		"query":     req.Query,
		"results":   strconv.Itoa(len(resp.Associations)),
		"cache_hit": strconv.FormatBool(cacheHit),
	})
}

// AssociationDetailsRequest resolves one association by its registry
// identifier (W followed by nine digits) or by its business key.
type AssociationDetailsRequest struct {
	Identifier     string `json:"identifier"`
	IdentifierType string `json:"identifier_type,omitempty"`
}

// AssociationDetailsResponse carries the resolved association. Found
// false with a null association is the not-found shape; a well-formed
// identifier never yields a transport error for a missing record.
type AssociationDetailsResponse struct {
	Association *types.Association `json:"association"`
	Found       bool               `json:"found"`
}

// AssociationDetails resolves one association. The identifier type
// defaults to the registry identifier.
func (t *Tools) AssociationDetails(ctx context.Context, caller Caller, req AssociationDetailsRequest) (*AssociationDetailsResponse, error) {
	start := time.Now()

	idType := req.IdentifierType
	if idType == "" {
		idType = IdentifierRNA
	}

	var (
		association *types.Association
		err         error
	)
	switch idType {
	case IdentifierRNA:
		association, err = t.registry.RNA.ByID(ctx, req.Identifier)
	case IdentifierBusinessKey:
		if err := validBusinessKey(req.Identifier); err != nil {
			return nil, err
		}
		association, err = t.registry.RNA.ByKey(ctx, req.Identifier)
	default:
		return nil, guicherr.New(guicherr.KindValidation, "",
			fmt.Sprintf("identifier_type must be %q or %q", IdentifierRNA, IdentifierBusinessKey))
	}
	if err != nil {
		if guicherr.KindOf(err) != guicherr.KindNotFound {
			return nil, err
		}
		association = nil
	}

	resp := &AssociationDetailsResponse{Association: association, Found: association != nil}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	t.audit("get_association_details", "retrieve", "", caller, start, 200, map[string]string{
		"identifier_type": idType,
		"found":           strconv.FormatBool(resp.Found),
	})
	return resp, nil
}
