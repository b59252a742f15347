package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opengreffe/guichet/pkg/cache"
	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/providers"
	"github.com/opengreffe/guichet/pkg/types"
)

// Trade-register download links outlive the signed URLs of the
// documents API by a wide margin.
const registerURLLifetime = 7 * 24 * time.Hour

// DocumentRequest asks for one official document. Year selects a
// specific filing for yearly kinds; zero means the most recent one.
type DocumentRequest struct {
	BusinessKey string                   `json:"business_key"`
	Kind        types.DocumentKind       `json:"kind"`
	Year        int                      `json:"year,omitempty"`
	Format      providers.DocumentFormat `json:"format,omitempty"`
}

// DownloadDocument fetches one document from the register that serves
// its kind: acts and statutes from the trade register, extracts,
// yearly accounts and attestations from the documents API. Byte
// deliveries are cached under the document namespace; URL deliveries
// are not, their expiry belongs to the issuer.
func (t *Tools) DownloadDocument(ctx context.Context, caller Caller, req DocumentRequest) (*types.Document, error) {
	start := time.Now()
	if err := validBusinessKey(req.BusinessKey); err != nil {
		return nil, err
	}
	if err := validDocumentKind(req.Kind); err != nil {
		return nil, err
	}
	format := req.Format
	if format == "" {
		format = providers.FormatBytes
	}
	if format != providers.FormatBytes && format != providers.FormatURL {
		return nil, guicherr.New(guicherr.KindValidation, "", fmt.Sprintf("unknown document format %q", format))
	}

	key := documentCacheKey(req.BusinessKey, req.Kind, req.Year)
	if format == providers.FormatBytes {
		var cached types.Document
		if t.cache.Lookup(ctx, key, &cached) {
			t.audit("download_document", "cache_hit", req.BusinessKey, caller, start, 200, map[string]string{
				"kind": string(req.Kind),
			})
			return &cached, nil
		}
	}

	var (
		document *types.Document
		err      error
	)
	switch req.Kind {
	case types.DocumentAct, types.DocumentStatutes:
		document, err = t.registerDocument(ctx, req.BusinessKey, req.Kind, req.Year, format)
	default:
		document, err = t.registry.Entreprise.Download(ctx, req.BusinessKey, req.Kind, req.Year, format)
	}
	if err != nil {
		t.audit("download_document", "download_failed", req.BusinessKey, caller, start, statusFor(err), map[string]string{
			"kind":  string(req.Kind),
			"error": err.Error(),
		})
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if format == providers.FormatBytes {
		t.cache.Store(ctx, key, document)
	}
	t.audit("download_document", "download", req.BusinessKey, caller, start, 200, map[string]string{
		"kind":     string(req.Kind),
		"format":   string(format),
		"provider": document.Provider,
		"size":     strconv.FormatInt(document.Size, 10),
	})
	return document, nil
}

// registerDocument resolves an act or statutes filing through the
// trade register: list the filings, pick the match, then serve either
// the register's own link or the fetched bytes.
func (t *Tools) registerDocument(ctx context.Context, businessKey string, kind types.DocumentKind, year int, format providers.DocumentFormat) (*types.Document, error) {
	documents, err := t.registry.RNE.Documents(ctx, businessKey)
	if err != nil {
		return nil, err
	}

	match := pickDocument(documents, kind, year)
	if match == nil {
		return nil, guicherr.NotFound(providers.NameRNE,
			fmt.Sprintf("no %s filing held for %s", kind, businessKey))
	}

	if format == providers.FormatURL {
		match.MimeType = "application/pdf"
		match.URLExpiresAt = time.Now().UTC().Add(registerURLLifetime)
		return match, nil
	}
	return t.registry.RNE.Fetch(ctx, match)
}

// pickDocument selects the filing matching kind and, when given, year.
// Without a year the most recently deposited filing wins.
func pickDocument(documents []types.Document, kind types.DocumentKind, year int) *types.Document {
	var best *types.Document
	for i := range documents {
		doc := &documents[i]
		if doc.Kind != kind {
			continue
		}
		if year != 0 && doc.Year != year {
			continue
		}
		if best == nil || doc.Date > best.Date {
			best = doc
		}
	}
	return best
}

// documentCacheKey lays document entries out as doc:<key>:<kind>[:<year>]
// so entity invalidation can flush them by prefix.
func documentCacheKey(businessKey string, kind types.DocumentKind, year int) string {
	key := cache.NSDocument + ":" + businessKey + ":" + string(kind)
	if year > 0 {
		key += ":" + strconv.Itoa(year)
	}
	return key
}

// DocumentListRequest inventories one entity's documents.
type DocumentListRequest struct {
	BusinessKey string `json:"business_key"`
}

// DocumentListResponse lists the documents held across the registers,
// metadata only.
type DocumentListResponse struct {
	BusinessKey string           `json:"business_key"`
	Documents   []types.Document `json:"documents"`
	Total       int              `json:"total"`
}

// ListDocuments merges the trade register's filings with the holdings
// of the documents API. One source failing degrades the inventory;
// both failing fails the call.
func (t *Tools) ListDocuments(ctx context.Context, caller Caller, req DocumentListRequest) (*DocumentListResponse, error) {
	start := time.Now()
	if err := validBusinessKey(req.BusinessKey); err != nil {
		return nil, err
	}

	var (
		register    []types.Document
		registerErr error
		official    []types.Document
		officialErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		register, registerErr = t.registry.RNE.Documents(gctx, req.BusinessKey)
		return nil
	})
	g.Go(func() error {
		official, officialErr = t.registry.Entreprise.Available(gctx, req.BusinessKey)
		return nil
	})
	_ = g.Wait()

	if guicherr.KindOf(registerErr) == guicherr.KindNotFound {
		register, registerErr = nil, nil
	}
	if guicherr.KindOf(officialErr) == guicherr.KindNotFound {
		official, officialErr = nil, nil
	}
	if registerErr != nil && officialErr != nil {
		return nil, registerErr
	}
	for source, err := range map[string]error{
		providers.NameRNE:        registerErr,
		providers.NameEntreprise: officialErr,
	} {
		if err != nil {
			t.logger.Warn().Err(err).Str("provider", source).Str("business_key", req.BusinessKey).
				Msg("Document source failed, inventory is partial")
		}
	}

	documents := make([]types.Document, 0, len(register)+len(official))
	documents = append(documents, register...)
	documents = append(documents, official...)

	resp := &DocumentListResponse{
		BusinessKey: req.BusinessKey,
		Documents:   documents,
		Total:       len(documents),
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	t.audit("list_documents", "list", req.BusinessKey, caller, start, 200, map[string]string{
		"documents": strconv.Itoa(resp.Total),
	})
	return resp, nil
}
