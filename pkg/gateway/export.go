package gateway

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opengreffe/guichet/pkg/fusion"
	"github.com/opengreffe/guichet/pkg/guicherr"
)

// Export bounds. One export is delivered inline, so the row count is
// capped and search pages stay at the fusion window size.
const (
	maxExportRows    = 1000
	exportSearchPage = 25
)

// Export data types and encodings.
const (
	ExportSearchResults  = "search_results"
	ExportEntityProfiles = "entity_profiles"

	ExportJSON = "json"
	ExportCSV  = "csv"
)

// ExportRequest selects what to export and how to encode it. Limit
// bounds the row count; zero means the maximum.
type ExportRequest struct {
	DataType string   `json:"data_type"`
	Format   string   `json:"format,omitempty"`
	Query    string   `json:"query,omitempty"`
	Keys     []string `json:"keys,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// ExportError records one profile that could not be exported.
type ExportError struct {
	BusinessKey string `json:"business_key"`
	Error       string `json:"error"`
}

// ExportResponse carries the encoded rows inline. Size is always the
// byte length of Content, including when the export matched nothing.
type ExportResponse struct {
	ExportID string        `json:"export_id"`
	DataType string        `json:"data_type"`
	Format   string        `json:"format"`
	RowCount int           `json:"row_count"`
	Size     int64         `json:"size"`
	Content  string        `json:"content"`
	MimeType string        `json:"mime_type"`
	Errors   []ExportError `json:"errors,omitempty"`
}

// ExportData renders search results or entity profiles as a JSON or
// CSV payload. Profile exports keep going past individual failures and
// report them per key.
func (t *Tools) ExportData(ctx context.Context, caller Caller, req ExportRequest) (*ExportResponse, error) {
	start := time.Now()

	format := req.Format
	if format == "" {
		format = ExportJSON
	}
	if format != ExportJSON && format != ExportCSV {
		return nil, guicherr.New(guicherr.KindValidation, "", fmt.Sprintf("unknown export format %q", format))
	}
	limit := req.Limit
	if limit == 0 {
		limit = maxExportRows
	}
	if limit < 1 || limit > maxExportRows {
		return nil, guicherr.New(guicherr.KindValidation, "", fmt.Sprintf("limit must be between 1 and %d", maxExportRows))
	}

	var (
		rows       []map[string]interface{}
		exportErrs []ExportError
		err        error
	)
	switch req.DataType {
	case ExportSearchResults:
		rows, err = t.exportSearchRows(ctx, caller, req.Query, limit)
	case ExportEntityProfiles:
		rows, exportErrs, err = t.exportProfileRows(ctx, caller, req.Keys, limit)
	default:
		return nil, guicherr.New(guicherr.KindValidation, "",
			fmt.Sprintf("data_type must be %q or %q", ExportSearchResults, ExportEntityProfiles))
	}
	if err != nil {
		return nil, err
	}

	content, mimeType, err := encodeExport(format, rows)
	if err != nil {
		return nil, err
	}

	resp := &ExportResponse{
		ExportID: ulid.Make().String(),
		DataType: req.DataType,
		Format:   format,
		RowCount: len(rows),
		Size:     int64(len(content)),
		Content:  content,
		MimeType: mimeType,
		Errors:   exportErrs,
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	t.audit("export_data", "export", "", caller, start, 200, map[string]string{
		"data_type": req.DataType,
		"format":    format,
		"rows":      strconv.Itoa(resp.RowCount),
		"failed":    strconv.Itoa(len(exportErrs)),
	})
	return resp, nil
}

// exportSearchRows pages through the fused search until the limit is
// reached or the results run out.
func (t *Tools) exportSearchRows(ctx context.Context, caller Caller, query string, limit int) ([]map[string]interface{}, error) {
	if strings.TrimSpace(query) == "" {
		return nil, guicherr.New(guicherr.KindValidation, "", "query is required for a search_results export")
	}

	perPage := exportSearchPage
	if limit < perPage {
		perPage = limit
	}
	rows := make([]map[string]interface{}, 0, limit)
	for page := 1; len(rows) < limit; page++ {
		resp, err := t.orchestrator.Search(ctx, fusion.SearchRequest{
			Query:    query,
			Page:     page,
			PerPage:  perPage,
			CallerID: caller.ID,
			IP:       caller.IP,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Results) == 0 {
			break
		}
		for _, entity := range resp.Results {
			if len(rows) == limit {
				break
			}
			row, err := toRow(entity)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		if page >= resp.Pagination.TotalPages {
			break
		}
	}
	return rows, nil
}

// exportProfileRows assembles one profile per key, sequentially. A key
// that fails, malformed or upstream, lands in the error list and the
// export moves on.
func (t *Tools) exportProfileRows(ctx context.Context, caller Caller, keys []string, limit int) ([]map[string]interface{}, []ExportError, error) {
	if len(keys) == 0 {
		return nil, nil, guicherr.New(guicherr.KindValidation, "", "keys are required for an entity_profiles export")
	}
	if len(keys) > limit {
		return nil, nil, guicherr.New(guicherr.KindValidation, "",
			fmt.Sprintf("%d keys exceed the export limit of %d", len(keys), limit))
	}

	rows := make([]map[string]interface{}, 0, len(keys))
	var exportErrs []ExportError
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if err := validBusinessKey(key); err != nil {
			exportErrs = append(exportErrs, ExportError{BusinessKey: key, Error: err.Error()})
			continue
		}
		profile, err := t.orchestrator.Profile(ctx, fusion.ProfileRequest{
			BusinessKey: key,
			CallerID:    caller.ID,
			IP:          caller.IP,
		})
		if err != nil {
			exportErrs = append(exportErrs, ExportError{BusinessKey: key, Error: err.Error()})
			continue
		}
		row, err := toRow(profile)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, row)
	}
	return rows, exportErrs, nil
}

// toRow renders an exportable value as a generic JSON object, the
// shape both encoders consume.
func toRow(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode export row: %w", err)
	}
	var row map[string]interface{}
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("failed to shape export row: %w", err)
	}
	return row, nil
}

func encodeExport(format string, rows []map[string]interface{}) (string, string, error) {
	if format == ExportCSV {
		content, err := encodeCSV(rows)
		return content, "text/csv", err
	}
	raw, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode export: %w", err)
	}
	return string(raw), "application/json", nil
}

// encodeCSV writes one line per row under a header that is the sorted
// union of every column seen. Nested objects become dotted columns;
// lists keep their compact JSON encoding so a row stays one line.
func encodeCSV(rows []map[string]interface{}) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}

	flat := make([]map[string]string, len(rows))
	seen := make(map[string]bool)
	for i, row := range rows {
		flat[i] = make(map[string]string)
		flattenRow("", row, flat[i])
		for column := range flat[i] {
			seen[column] = true
		}
	}

	columns := make([]string, 0, len(seen))
	for column := range seen {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	var buf strings.Builder
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return "", fmt.Errorf("failed to write export header: %w", err)
	}
	record := make([]string, len(columns))
	for _, row := range flat {
		for i, column := range columns {
			record[i] = row[column]
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("failed to write export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush export: %w", err)
	}
	return buf.String(), nil
}

func flattenRow(prefix string, value map[string]interface{}, into map[string]string) {
	for key, v := range value {
		column := key
		if prefix != "" {
			column = prefix + "." + key
		}
		switch typed := v.(type) {
		case map[string]interface{}:
			flattenRow(column, typed, into)
		case nil:
			into[column] = ""
		case string:
			into[column] = typed
		default:
			raw, err := json.Marshal(typed)
			if err != nil {
				into[column] = fmt.Sprint(typed)
				continue
			}
			into[column] = string(raw)
		}
	}
}
