package gateway

import (
	"context"
	"strconv"
	"time"

	"github.com/opengreffe/guichet/pkg/cache"
	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/providers"
	"github.com/opengreffe/guichet/pkg/types"
)

// CertificationsRequest checks the environmental certifications held
// by one entity. ForceRefresh bypasses the cached answer but still
// replaces it.
type CertificationsRequest struct {
	BusinessKey  string `json:"business_key"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
}

// CertificationsMetadata describes how a certification answer was
// produced.
type CertificationsMetadata struct {
	Source         string `json:"source"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	CacheHit       bool   `json:"cache_hit"`
}

// CertificationsResponse is the certification check result.
type CertificationsResponse struct {
	BusinessKey    string                     `json:"business_key"`
	Has            bool                       `json:"has"`
	Certifications []types.Certification      `json:"certifications"`
	Summary        types.CertificationSummary `json:"summary"`
	Metadata       CertificationsMetadata     `json:"metadata"`
}

// Certifications checks the environmental register for one business
// key. Answers are cached per entity; metadata always reflects this
// call, not the one that filled the cache.
func (t *Tools) Certifications(ctx context.Context, caller Caller, req CertificationsRequest) (*CertificationsResponse, error) {
	start := time.Now()
	if err := validBusinessKey(req.BusinessKey); err != nil {
		return nil, err
	}

	key := cache.NSCert + ":" + req.BusinessKey
	if !req.ForceRefresh {
		var cached CertificationsResponse
		if t.cache.Lookup(ctx, key, &cached) {
			cached.Metadata.CacheHit = true
			cached.Metadata.ResponseTimeMS = time.Since(start).Milliseconds()
			t.auditCertifications(req, &cached, caller, start, true)
			return &cached, nil
		}
	}

	certifications, err := t.registry.RGE.Certifications(ctx, req.BusinessKey)
	if err != nil {
		if guicherr.KindOf(err) != guicherr.KindNotFound {
			return nil, err
		}
		certifications = nil
	}
	if certifications == nil {
		certifications = []types.Certification{}
	}

	resp := &CertificationsResponse{
		BusinessKey:    req.BusinessKey,
		Has:            len(certifications) > 0,
		Certifications: certifications,
		Summary:        types.CertificationSummary{RGE: providers.Summary(certifications)},
		Metadata: CertificationsMetadata{
			Source:         providers.NameRGE,
			ResponseTimeMS: time.Since(start).Milliseconds(),
		},
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	t.cache.Store(ctx, key, resp)
	t.auditCertifications(req, resp, caller, start, false)
	return resp, nil
}

func (t *Tools) auditCertifications(req CertificationsRequest, resp *CertificationsResponse, caller Caller, start time.Time, cacheHit bool) {
	t.audit("check_certifications", "retrieve", req.BusinessKey, caller, start, 200, map[string]string{
		"has":            strconv.FormatBool(resp.Has),
		"certifications": strconv.Itoa(len(resp.Certifications)),
		"cache_hit":      strconv.FormatBool(cacheHit),
	})
}
