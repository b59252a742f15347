package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opengreffe/guichet/pkg/analytic"
	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/ingest"
)

// UpdateRequest triggers ingest runs. An empty dataset runs every
// registered job; Force re-downloads even when the scratch copy is
// fresh.
type UpdateRequest struct {
	Dataset string `json:"dataset,omitempty"`
	Force   bool   `json:"force,omitempty"`
}

// UpdateResponse reports one result per triggered job.
type UpdateResponse struct {
	Results []ingest.Result `json:"results"`
}

// UpdateStaticData runs one named ingest job, or all of them, and
// waits for the results. Loaded tables invalidate their dependent
// cache namespaces through the event broker.
func (t *Tools) UpdateStaticData(ctx context.Context, caller Caller, req UpdateRequest) (*UpdateResponse, error) {
	start := time.Now()

	var results []ingest.Result
	switch {
	case req.Dataset != "":
		if _, ok := t.scheduler.JobStatus(req.Dataset); !ok {
			return nil, guicherr.New(guicherr.KindValidation, "", fmt.Sprintf("unknown dataset %q", req.Dataset))
		}
		result, err := t.scheduler.RunJob(ctx, req.Dataset, req.Force)
		if err != nil {
			return nil, err
		}
		results = []ingest.Result{result}
	case req.Force:
		results = t.scheduler.ForceUpdateAll(ctx)
	default:
		for _, status := range t.scheduler.Jobs() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			result, err := t.scheduler.RunJob(ctx, status.Name, false)
			if err != nil {
				return nil, err
			}
			results = append(results, result)
		}
	}

	failed := 0
	for _, result := range results {
		if result.Status == ingest.StatusFailed {
			failed++
		}
	}
	t.audit("update_static_data", "ingest", "", caller, start, 200, map[string]string{
		"dataset": req.Dataset,
		"jobs":    strconv.Itoa(len(results)),
		"failed":  strconv.Itoa(failed),
		"force":   strconv.FormatBool(req.Force),
	})
	return &UpdateResponse{Results: results}, nil
}

// PipelineStatusResponse reports the ingest schedule alongside the
// bulk tables' load metadata.
type PipelineStatusResponse struct {
	Jobs   []ingest.Status      `json:"jobs"`
	Tables []analytic.TableMeta `json:"tables"`
}

// PipelineStatus inspects the ingestion pipeline. Read-only, so it is
// not audited.
func (t *Tools) PipelineStatus(ctx context.Context) (*PipelineStatusResponse, error) {
	tables, err := t.store.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	return &PipelineStatusResponse{Jobs: t.scheduler.Jobs(), Tables: tables}, nil
}
