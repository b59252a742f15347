package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengreffe/guichet/pkg/analytic"
	"github.com/opengreffe/guichet/pkg/audit"
	"github.com/opengreffe/guichet/pkg/config"
	"github.com/opengreffe/guichet/pkg/fusion"
	"github.com/opengreffe/guichet/pkg/ingest"
)

func newTestServer(t *testing.T, cfg config.ProvidersConfig) (*httptest.Server, *Tools) {
	t.Helper()
	tools := newTestTools(t, cfg)
	server := httptest.NewServer(NewServer("127.0.0.1:0", tools).Handler())
	t.Cleanup(server.Close)
	return server, tools
}

func postTool(t *testing.T, server *httptest.Server, tool, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/tools/"+tool, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestServerValidationError(t *testing.T) {
	server, _ := newTestServer(t, config.ProvidersConfig{})

	resp := postTool(t, server, "get_entity_profile", `{"business_key": "12"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Equal(t, "validation", detail.Kind)
	assert.Contains(t, detail.Message, "9 digits")
}

func TestServerPrivacyDenied(t *testing.T) {
	server, _ := newTestServer(t, config.ProvidersConfig{})

	resp := postTool(t, server, "get_entity_profile", `{"business_key": "552032534", "include_bank_info": true}`, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Equal(t, "privacy_denied", detail.Kind)
	assert.Contains(t, detail.Message, "bank information")
}

func TestServerRateLimited(t *testing.T) {
	bodacc := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	server, _ := newTestServer(t, config.ProvidersConfig{BODACC: providerCfg(bodacc.URL)})

	resp := postTool(t, server, "search_announcements", `{}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "7", resp.Header.Get("Retry-After"), "the upstream retry hint is passed through")

	detail := decodeError(t, resp)
	assert.Equal(t, "rate_limited", detail.Kind)
}

func TestServerNotFoundStatus(t *testing.T) {
	rne := startServer(t, serveJSON(`{"documents": [
		{"id": "act-1", "type": "Acte", "date": "2020-01-01", "url": "https://register.example/act-1"}
	]}`))
	server, _ := newTestServer(t, config.ProvidersConfig{RNE: providerCfg(rne.URL)})

	resp := postTool(t, server, "download_document", `{"business_key": "552032534", "kind": "statutes"}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Equal(t, "not_found", detail.Kind)
	assert.Contains(t, detail.Message, "no statutes filing")
}

func TestServerUpstreamError(t *testing.T) {
	bodacc := startServer(t, serveStatus(http.StatusInternalServerError))
	server, _ := newTestServer(t, config.ProvidersConfig{BODACC: providerCfg(bodacc.URL)})

	resp := postTool(t, server, "search_announcements", `{"business_key": "552032534"}`, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Equal(t, "upstream", detail.Kind)
}

func TestServerRejectsMalformedJSON(t *testing.T) {
	server, _ := newTestServer(t, config.ProvidersConfig{})

	resp := postTool(t, server, "search_entities", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Equal(t, "validation", detail.Kind)
	assert.Contains(t, detail.Message, "request body is not valid JSON")
}

func TestServerToleratesEmptyBody(t *testing.T) {
	server, _ := newTestServer(t, config.ProvidersConfig{})

	resp := postTool(t, server, "get_pipeline_status", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status PipelineStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.NotEmpty(t, status.Jobs, "the builtin feeds are always scheduled")
}

func TestServerUnknownTool(t *testing.T) {
	server, _ := newTestServer(t, config.ProvidersConfig{})

	resp := postTool(t, server, "forge_documents", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerHealthEndpoints(t *testing.T) {
	server, _ := newTestServer(t, config.ProvidersConfig{})

	for _, path := range []string{"/healthz", "/livez"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		_ = resp.Body.Close()
	}
}

func TestServerExposesMetrics(t *testing.T) {
	server, _ := newTestServer(t, config.ProvidersConfig{})

	resp := postTool(t, server, "get_pipeline_status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	metricsResp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	require.Equal(t, http.StatusOK, metricsResp.StatusCode)

	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "guichet_tool_requests_total")
}

func TestServerUpdateStaticData(t *testing.T) {
	feed := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "business_key,name,legal_form_code,activity_code,postal_code,city,creation_date,active\n"+
			"552032534,DANONE,5710,70.10Z,75009,PARIS,1908-02-13,1\n"+
			"775665019,CARREFOUR,5710,47.11F,91300,MASSY,1959-07-11,1")
	}))
	server, tools := newTestServer(t, config.ProvidersConfig{})
	require.NoError(t, tools.scheduler.Register(ingest.Job{
		Name:        "test-entities",
		Cron:        "0 3 * * *",
		SourceURL:   feed.URL,
		TargetTable: analytic.TableEntities,
	}))

	resp := postTool(t, server, "update_static_data", `{"dataset": "test-entities", "force": true}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var update UpdateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&update))
	require.Len(t, update.Results, 1)
	assert.Equal(t, "test-entities", update.Results[0].Job)
	assert.Equal(t, ingest.StatusSuccess, update.Results[0].Status)
	assert.EqualValues(t, 2, update.Results[0].Rows)

	bad := postTool(t, server, "update_static_data", `{"dataset": "bogus"}`, nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
	detail := decodeError(t, bad)
	assert.Equal(t, "validation", detail.Kind)
	assert.Contains(t, detail.Message, "unknown dataset")
}

func TestServerCallerFlowsToAudit(t *testing.T) {
	bodacc := startServer(t, serveJSON(gatewayBODACCBody))
	server, tools := newTestServer(t, config.ProvidersConfig{BODACC: providerCfg(bodacc.URL)})

	resp := postTool(t, server, "search_announcements", `{"business_key": "552032534"}`,
		map[string]string{"X-Caller-ID": "agent-7"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries, err := tools.ledger.Query(audit.Filter{CallerID: "agent-7"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "search_announcements", entries[0].Tool)
	assert.Equal(t, "552032534", entries[0].BusinessKey)
	assert.Equal(t, "127.0.0.1", entries[0].IP)
}

func TestServerSearchEntitiesEndToEnd(t *testing.T) {
	recherche := startServer(t, serveJSON(gatewayRechercheBody))
	server, _ := newTestServer(t, config.ProvidersConfig{Recherche: providerCfg(recherche.URL)})

	resp := postTool(t, server, "search_entities", `{"query": "danone"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out fusion.SearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, testKey, out.Results[0].BusinessKey)
	assert.Equal(t, "DANONE", out.Results[0].Name)
}
