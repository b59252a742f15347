package fusion

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/opengreffe/guichet/pkg/analytic"
	"github.com/opengreffe/guichet/pkg/audit"
	"github.com/opengreffe/guichet/pkg/cache"
	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/metrics"
	"github.com/opengreffe/guichet/pkg/privacy"
	"github.com/opengreffe/guichet/pkg/providers"
	"github.com/opengreffe/guichet/pkg/types"
)

const (
	// defaultParallel bounds concurrent upstream tasks per request.
	defaultParallel = 5

	// SourceStatic tags results that came from the bulk analytic
	// tables rather than a live registry.
	SourceStatic = "static"
)

// Freshness values reported in profile metadata.
const (
	FreshnessCurrent = "current"
	FreshnessStale   = "stale"
)

// ProfileRequest selects what a profile assembly fetches. Caller
// identity is audit-only and excluded from the fingerprint.
type ProfileRequest struct {
	BusinessKey           string `json:"business_key"`
	IncludeEstablishments bool   `json:"include_establishments"`
	IncludeDocuments      bool   `json:"include_documents"`
	IncludeFinancials     bool   `json:"include_financials"`
	IncludeCertifications bool   `json:"include_certifications"`
	IncludeBankInfo       bool   `json:"include_bank_info"`

	CallerID string `json:"-"`
	IP       string `json:"-"`
}

// ProfileResponse is the merged record plus assembly metadata.
// Documents ride alongside the entity rather than inside it.
type ProfileResponse struct {
	Entity    types.BusinessEntity  `json:"entity"`
	Documents []types.Document      `json:"documents,omitempty"`
	Metadata  types.ProfileMetadata `json:"metadata"`
}

// Orchestrator fans requests out across the provider adapters and
// fuses the answers into one canonical record. Identical in-flight
// requests share a single fan-out; finished assemblies are cached.
type Orchestrator struct {
	registry *providers.Registry
	store    *analytic.Store
	cache    *cache.Manager
	redactor *privacy.Redactor
	ledger   *audit.Ledger
	logger   zerolog.Logger

	flight   singleflight.Group
	parallel int64

	// baseCtx owns running fan-outs: a caller leaving does not abort
	// a flight other callers are joined on, shutdown does.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates an orchestrator over the provider registry, the bulk
// store, the cache manager, the redactor and the audit ledger.
func New(registry *providers.Registry, store *analytic.Store, manager *cache.Manager, redactor *privacy.Redactor, ledger *audit.Ledger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		registry: registry,
		store:    store,
		cache:    manager,
		redactor: redactor,
		ledger:   ledger,
		logger:   log.WithComponent("fusion"),
		parallel: defaultParallel,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Close aborts every running fan-out. Callers blocked on a shared
// flight receive the cancellation error.
func (o *Orchestrator) Close() {
	o.cancel()
}

// Profile assembles the merged record for one business key: cache
// first, then a shared single-flight fan-out across the registries.
// A cancelled caller detaches without an audit entry; the flight
// itself keeps running for whoever else is joined on it.
func (o *Orchestrator) Profile(ctx context.Context, req ProfileRequest) (*ProfileResponse, error) {
	start := time.Now()

	if req.IncludeBankInfo {
		return nil, guicherr.New(guicherr.KindPrivacyDenied, "", "bank information requires an authorization this caller does not hold")
	}

	fp, err := cache.Key(cache.NSProfile+":"+req.BusinessKey, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint profile request: %w", err)
	}

	var cached ProfileResponse
	if o.cache.Lookup(ctx, fp, &cached) {
		o.auditProfile(req, &cached, start, true, false)
		return &cached, nil
	}

	ch := o.flight.DoChan(fp, func() (interface{}, error) {
		return o.assemble(o.baseCtx, fp, req)
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
		resp := res.Val.(*ProfileResponse)
		o.auditProfile(req, resp, start, false, res.Shared)
		return resp, nil
	}
}

// tally is the shared fan-out accounting: attempts are registered
// before the goroutines start, failures under the lock.
type tally struct {
	mu       sync.Mutex
	attempts int
	failed   int
	firstErr error
}

func (t *tally) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
	if t.firstErr == nil {
		t.firstErr = err
	}
}

// profileParts collects fan-out results. Result fields are each
// written by exactly one task and read only after Wait; the lock
// covers the shared accounting.
type profileParts struct {
	tally
	contrib map[string]bool

	rne            *types.BusinessEntity
	sirene         *types.BusinessEntity
	recherche      *types.BusinessEntity
	establishments []types.Establishment
	documents      []types.Document
	certifications []types.Certification
}

func (p *profileParts) succeed(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contrib[name] = true
}

// assemble runs the fan-out for one fingerprint: probe privacy, fetch
// every selected source in parallel, merge by precedence, redact,
// cache. It runs under the orchestrator's own context so that a
// single departing caller cannot abort a shared flight.
func (o *Orchestrator) assemble(ctx context.Context, fp string, req ProfileRequest) (*ProfileResponse, error) {
	start := time.Now()
	logger := o.logger.With().Str("business_key", req.BusinessKey).Logger()

	probed := o.probePrivacy(ctx, req.BusinessKey)

	parts := &profileParts{contrib: make(map[string]bool)}
	sem := semaphore.NewWeighted(o.parallel)
	g, gctx := errgroup.WithContext(ctx)

	run := func(name string, task func(context.Context) (bool, error)) {
		parts.attempts++
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			contributed, err := task(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				parts.fail(err)
				logger.Warn().Err(err).Str("source", name).Msg("Profile source failed")
				return nil
			}
			if contributed {
				parts.succeed(name)
			}
			return nil
		})
	}

	run(providers.NameRNE, func(ctx context.Context) (bool, error) {
		entity, err := o.registry.RNE.Company(ctx, req.BusinessKey)
		if err != nil {
			if guicherr.KindOf(err) == guicherr.KindNotFound {
				return false, nil
			}
			return false, err
		}
		parts.rne = entity
		return entity != nil, nil
	})

	run(providers.NameSirene, func(ctx context.Context) (bool, error) {
		entity, err := o.registry.Sirene.Entity(ctx, req.BusinessKey)
		if err != nil {
			if guicherr.KindOf(err) == guicherr.KindNotFound {
				return false, nil
			}
			return false, err
		}
		parts.sirene = entity
		return entity != nil, nil
	})

	run(providers.NameRecherche, func(ctx context.Context) (bool, error) {
		entity, err := o.registry.Recherche.EntityByKey(ctx, req.BusinessKey)
		if err != nil {
			return false, err
		}
		parts.recherche = entity
		return entity != nil, nil
	})

	if req.IncludeEstablishments {
		run("establishments", func(ctx context.Context) (bool, error) {
			establishments, err := o.registry.Sirene.Establishments(ctx, req.BusinessKey, false)
			if err != nil {
				// An entity without establishments is an answer, not
				// a failure.
				if guicherr.KindOf(err) == guicherr.KindNotFound {
					return true, nil
				}
				return false, err
			}
			parts.establishments = establishments
			return true, nil
		})
	}

	if req.IncludeDocuments {
		run("documents", func(ctx context.Context) (bool, error) {
			documents, err := o.registry.RNE.Documents(ctx, req.BusinessKey)
			if err != nil {
				if guicherr.KindOf(err) == guicherr.KindNotFound {
					return true, nil
				}
				return false, err
			}
			parts.documents = documents
			return true, nil
		})
	}

	if req.IncludeCertifications {
		run("certifications", func(ctx context.Context) (bool, error) {
			certifications, err := o.registry.RGE.Certifications(ctx, req.BusinessKey)
			if err != nil {
				return false, err
			}
			parts.certifications = certifications
			return true, nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	liveFailed := parts.attempts > 0 && parts.failed == parts.attempts

	// Bulk fallback: consulted only when no live registry identified
	// the entity, so live data always outranks the stock.
	var static *types.BusinessEntity
	if parts.rne == nil && parts.sirene == nil && parts.recherche == nil {
		parts.attempts++
		row, found, err := o.store.EntityByKey(ctx, req.BusinessKey)
		switch {
		case err != nil:
			parts.fail(err)
			logger.Warn().Err(err).Str("source", SourceStatic).Msg("Profile source failed")
		case found:
			static = staticEntity(row)
			parts.contrib[SourceStatic] = true
		}
	}

	// A bulk-store miss cannot vouch for a key the live registries
	// never got to check, so it does not soften a total outage.
	if static == nil && liveFailed {
		return nil, fmt.Errorf("all profile sources failed for %s: %w", req.BusinessKey, parts.firstErr)
	}
	if parts.rne == nil && parts.sirene == nil && parts.recherche == nil && static == nil {
		return nil, guicherr.NotFound("", "no source holds business key "+req.BusinessKey)
	}

	entity := o.merge(req, parts, static, probed)
	fired := o.redactor.RedactEntity(entity)

	meta := types.ProfileMetadata{
		Sources:        contributedSources(parts),
		ResponseTimeMS: time.Since(start).Milliseconds(),
		DataFreshness:  freshness(parts),
		Completeness:   completeness(parts),
	}
	metrics.FusionCompleteness.Observe(meta.Completeness)

	resp := &ProfileResponse{Entity: *entity, Documents: parts.documents, Metadata: meta}

	if ctx.Err() == nil {
		o.cache.Store(ctx, fp, resp)
	}

	logger.Debug().
		Strs("sources", meta.Sources).
		Float64("completeness", meta.Completeness).
		Bool("redacted", fired).
		Msg("Profile assembled")
	return resp, nil
}

// probePrivacy asks the registry of record for the diffusion status
// before the fan-out so redaction applies even on partial answers. A
// failed probe defaults to open; a protected source in the merge can
// still tighten the verdict later.
func (o *Orchestrator) probePrivacy(ctx context.Context, businessKey string) types.Privacy {
	status, err := o.registry.Sirene.PrivacyStatus(ctx, businessKey)
	if err != nil {
		if guicherr.KindOf(err) != guicherr.KindNotFound {
			o.logger.Warn().Err(err).Str("business_key", businessKey).Msg("Privacy probe failed, defaulting to open")
		}
		return types.PrivacyOpen
	}
	return status
}

// merge folds the fan-out results into one record along the ladder
// rne > sirene > recherche > static: the highest source present sets
// a field, lower ones only fill what is still empty.
func (o *Orchestrator) merge(req ProfileRequest, parts *profileParts, static *types.BusinessEntity, probed types.Privacy) *types.BusinessEntity {
	merged := &types.BusinessEntity{BusinessKey: req.BusinessKey}

	for _, src := range []*types.BusinessEntity{parts.rne, parts.sirene, parts.recherche, static} {
		if src == nil {
			continue
		}
		fillEntity(merged, src)
	}

	if probed == types.PrivacyProtected {
		merged.Privacy = types.PrivacyProtected
	} else if merged.Privacy == "" {
		merged.Privacy = probed
	}

	if len(parts.establishments) > 0 {
		merged.Establishments = mergeEstablishments(parts.establishments, merged.Establishments)
	}
	if len(merged.Establishments) > 0 {
		merged.EstablishmentCount = len(merged.Establishments)
	}

	if len(parts.certifications) > 0 {
		merged.Certifications = mergeCertifications(parts.certifications, merged.Certifications)
	}
	if !req.IncludeFinancials {
		merged.Financials = nil
	}
	if merged.Name == "" {
		merged.Name = req.BusinessKey
	}
	merged.UpdatedAt = time.Now().UTC()
	return merged
}

// profileTaskOrder fixes the metadata source order regardless of task
// completion order.
var profileTaskOrder = []string{
	providers.NameRNE,
	providers.NameSirene,
	providers.NameRecherche,
	"establishments",
	"documents",
	"certifications",
	SourceStatic,
}

func contributedSources(parts *profileParts) []string {
	sources := make([]string, 0, len(parts.contrib))
	for _, name := range profileTaskOrder {
		if parts.contrib[name] {
			sources = append(sources, name)
		}
	}
	return sources
}

func completeness(parts *profileParts) float64 {
	if parts.attempts == 0 {
		return 0
	}
	return float64(len(parts.contrib)) / float64(parts.attempts)
}

func freshness(parts *profileParts) string {
	if parts.contrib[providers.NameRNE] || parts.contrib[providers.NameSirene] || parts.contrib[providers.NameRecherche] {
		return FreshnessCurrent
	}
	return FreshnessStale
}

func (o *Orchestrator) auditProfile(req ProfileRequest, resp *ProfileResponse, start time.Time, cacheHit, shared bool) {
	o.ledger.Log(types.AuditEntry{
		Tool:           "get_entity_profile",
		Operation:      "retrieve",
		BusinessKey:    req.BusinessKey,
		CallerID:       req.CallerID,
		IP:             req.IP,
		ResponseTimeMS: time.Since(start).Milliseconds(),
		StatusCode:     200,
		Metadata: map[string]string{
			"sources":          strings.Join(resp.Metadata.Sources, ","),
			"cache_hit":        strconv.FormatBool(cacheHit),
			"shared":           strconv.FormatBool(shared),
			"privacy_filtered": strconv.FormatBool(resp.Entity.Privacy == types.PrivacyProtected),
		},
	})
}
