package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/analytic"
	"github.com/opengreffe/guichet/pkg/audit"
	"github.com/opengreffe/guichet/pkg/cache"
	"github.com/opengreffe/guichet/pkg/fusion"
	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/ingest"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/providers"
	"github.com/opengreffe/guichet/pkg/types"
)

// Caller identifies who is invoking a tool. It feeds the audit ledger
// and never influences caching or fusion.
type Caller struct {
	ID string
	IP string
}

// Tools is the typed tool surface of the gateway. Entity search and
// profile assembly delegate to the fusion orchestrator; the register
// feeds (announcements, associations, certifications, documents) go
// through their adapters directly, with caching and auditing handled
// here.
type Tools struct {
	orchestrator *fusion.Orchestrator
	registry     *providers.Registry
	store        *analytic.Store
	cache        *cache.Manager
	scheduler    *ingest.Scheduler
	ledger       *audit.Ledger
	logger       zerolog.Logger
}

// NewTools assembles the tool surface over the fusion orchestrator,
// the provider registry, the bulk store, the cache manager, the
// ingestion scheduler and the audit ledger.
func NewTools(orchestrator *fusion.Orchestrator, registry *providers.Registry, store *analytic.Store, manager *cache.Manager, scheduler *ingest.Scheduler, ledger *audit.Ledger) *Tools {
	return &Tools{
		orchestrator: orchestrator,
		registry:     registry,
		store:        store,
		cache:        manager,
		scheduler:    scheduler,
		ledger:       ledger,
		logger:       log.WithComponent("gateway"),
	}
}

// SearchEntities runs a fused entity search. Paging normalization and
// auditing belong to the fusion layer; this layer rejects inputs the
// fan-out should never see.
func (t *Tools) SearchEntities(ctx context.Context, caller Caller, req fusion.SearchRequest) (*fusion.SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, guicherr.New(guicherr.KindValidation, "", "query must not be empty")
	}
	if req.PerPage > maxEntityPerPage {
		return nil, guicherr.New(guicherr.KindValidation, "", perPageMessage(maxEntityPerPage))
	}
	req.CallerID, req.IP = caller.ID, caller.IP
	return t.orchestrator.Search(ctx, req)
}

// EntityProfile assembles the merged record for one business key.
func (t *Tools) EntityProfile(ctx context.Context, caller Caller, req fusion.ProfileRequest) (*fusion.ProfileResponse, error) {
	if err := validBusinessKey(req.BusinessKey); err != nil {
		return nil, err
	}
	req.CallerID, req.IP = caller.ID, caller.IP
	return t.orchestrator.Profile(ctx, req)
}

// audit records one successful or terminal tool outcome.
func (t *Tools) audit(tool, operation, businessKey string, caller Caller, start time.Time, status int, metadata map[string]string) {
	t.ledger.Log(types.AuditEntry{
		Tool:           tool,
		Operation:      operation,
		BusinessKey:    businessKey,
		CallerID:       caller.ID,
		IP:             caller.IP,
		ResponseTimeMS: time.Since(start).Milliseconds(),
		StatusCode:     status,
		Metadata:       metadata,
	})
}

func totalPages(total, perPage int) int {
	if perPage < 1 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
