package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MSubhan6/open-moniker/internal/auth"
	"github.com/MSubhan6/open-moniker/internal/cache"
	"github.com/MSubhan6/open-moniker/internal/catalog"
	"github.com/MSubhan6/open-moniker/internal/domains"
	"github.com/MSubhan6/open-moniker/internal/governance"
	"github.com/MSubhan6/open-moniker/internal/service"
)

const (
	submitToken  = "submit-secret"
	approveToken = "approve-secret"
)

func strPtr(s string) *string { return &s }

func fixtureNodes() map[string]*catalog.CatalogNode {
	return map[string]*catalog.CatalogNode{
		"prices.equity": {
			Path:   "prices.equity",
			Status: catalog.NodeStatusActive,
			Ownership: &catalog.Ownership{
				AccountableOwner: strPtr("market-data-team"),
			},
			SourceBinding: &catalog.SourceBinding{
				SourceType: catalog.SourceTypeSnowflake,
				Config: map[string]any{
					"account": "acme",
					"query":   "SELECT s,p FROM E WHERE {filter[0]:symbol} AND trade_date = {version_date}",
				},
				ReadOnly: true,
			},
		},
		"prices.equity/AAPL": {
			Path:   "prices.equity/AAPL",
			Status: catalog.NodeStatusActive,
			IsLeaf: true,
		},
		"rates.libor/usd": {
			Path:               "rates.libor/usd",
			Status:             catalog.NodeStatusDeprecated,
			DeprecationMessage: strPtr("LIBOR ceased publication"),
			Successor:          strPtr("rates.sofr/usd"),
		},
		"rates.sofr/usd": {
			Path:   "rates.sofr/usd",
			Status: catalog.NodeStatusActive,
			SourceBinding: &catalog.SourceBinding{
				SourceType: catalog.SourceTypeSnowflake,
				Config: map[string]any{
					"account": "acme",
					"query":   "SELECT rate FROM SOFR WHERE d = {version_date}",
				},
				ReadOnly: true,
			},
		},
		"reference": {
			Path:   "reference",
			Status: catalog.NodeStatusActive,
		},
	}
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	reg := catalog.NewRegistry(zap.NewNop())
	reg.AtomicReplace(fixtureNodes())

	dom := domains.NewRegistry()
	dom.Register(&domains.Domain{Name: "prices", DisplayName: "Market Prices", Owner: "prices-lead"})

	svc := service.New(reg, dom, nil, cache.NewMemory(100, time.Minute), nil,
		service.Options{DeprecationEnabled: true}, zap.NewNop())
	ctrl := governance.NewController(reg, governance.NewRequestStore(), svc, true, zap.NewNop())
	gate := auth.NewGate(submitToken, approveToken, "", zap.NewNop())

	s := New(svc, ctrl, gate, dom, nil, prometheus.NewRegistry(), zap.NewNop())
	return s, s.Router()
}

func doJSON(t *testing.T, h http.Handler, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestResolveEndpoint(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/resolve/prices.equity/AAPL@20260115", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[service.ResolveResult](t, rec)
	assert.Equal(t, "prices.equity/AAPL", res.Path)
	assert.Equal(t, "snowflake", res.SourceType)
	require.NotNil(t, res.Query)
	assert.Equal(t,
		"SELECT s,p FROM E WHERE symbol = 'AAPL' AND trade_date = TO_DATE('20260115','YYYYMMDD')",
		*res.Query)
}

func TestResolveQueryParamsJoinMoniker(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/resolve/prices.equity/AAPL@latest?window=30d", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[service.ResolveResult](t, rec)
	assert.Contains(t, res.Moniker, "window=30d")
}

func TestResolveDeprecationHeaders(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/resolve/rates.libor/usd", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get("X-Moniker-Deprecated"))
	assert.Equal(t, "rates.sofr/usd", rec.Header().Get("X-Moniker-Successor"))
	assert.Equal(t, "rates.libor/usd", rec.Header().Get("X-Moniker-Redirected-From"))

	res := decode[service.ResolveResult](t, rec)
	assert.Contains(t, *res.Query, "FROM SOFR")
}

func TestResolveErrorStatuses(t *testing.T) {
	_, h := newTestServer(t)

	cases := []struct {
		target string
		status int
		kind   string
	}{
		{"/resolve/no.such/path", http.StatusNotFound, "not_found"},
		{"/resolve/reference", http.StatusUnprocessableEntity, "no_binding"},
		{"/resolve/prices.equity/AAPL@2026011", http.StatusBadRequest, "invalid_moniker"},
	}
	for _, tc := range cases {
		rec := doJSON(t, h, http.MethodGet, tc.target, "", nil)
		assert.Equal(t, tc.status, rec.Code, tc.target)
		body := decode[errorBody](t, rec)
		assert.Equal(t, tc.kind, body.Error, tc.target)
	}
}

func TestResolveBatch(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/resolve/batch", "", map[string]any{
		"monikers": []string{"prices.equity/AAPL@latest", "no.such/path"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Results []struct {
			Moniker string          `json:"moniker"`
			Result  json.RawMessage `json:"result"`
			Error   *errorBody      `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Results, 2)
	assert.NotNil(t, out.Results[0].Result)
	assert.Nil(t, out.Results[0].Error)
	require.NotNil(t, out.Results[1].Error)
	assert.Equal(t, "not_found", out.Results[1].Error.Error)
}

func TestResolveBatchLimits(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/resolve/batch", "", map[string]any{"monikers": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := make([]string, maxBatchSize+1)
	for i := range big {
		big[i] = "prices.equity/AAPL"
	}
	rec = doJSON(t, h, http.MethodPost, "/resolve/batch", "", map[string]any{"monikers": big})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDescribeListLineageTree(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/describe/prices.equity", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode[service.DescribeResult](t, rec)
	assert.Equal(t, []string{"prices.equity/AAPL"}, d.Children)

	rec = doJSON(t, h, http.MethodGet, "/list/prices.equity", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Entries []service.ListEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Entries, 1)
	assert.Equal(t, "prices.equity/AAPL", listed.Entries[0].Path)

	rec = doJSON(t, h, http.MethodGet, "/list/prices", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	listed.Entries = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Entries, 1)
	assert.Equal(t, "prices.equity", listed.Entries[0].Path)

	rec = doJSON(t, h, http.MethodGet, "/lineage/prices.equity/AAPL", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var lin struct {
		Lineage []service.LineageHop `json:"lineage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lin))
	require.Len(t, lin.Lineage, 3)
	assert.Equal(t, "prices.equity/AAPL", lin.Lineage[0].Path)

	rec = doJSON(t, h, http.MethodGet, "/tree", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCatalogSearchAndStats(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/catalog/search?q=sofr", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var found struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	assert.Equal(t, 1, found.Count)

	rec = doJSON(t, h, http.MethodGet, "/catalog/search", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/catalog/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[service.CatalogStats](t, rec)
	assert.Equal(t, 5, stats.TotalNodes)
}

func TestStatusUpdateRequiresApprover(t *testing.T) {
	_, h := newTestServer(t)
	body := map[string]any{"status": "deprecated", "actor": "gov", "successor": "rates.sofr/usd"}

	rec := doJSON(t, h, http.MethodPut, "/catalog/prices.equity/status", "", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Submit lane is not enough for governance actions.
	rec = doJSON(t, h, http.MethodPut, "/catalog/prices.equity/status", submitToken, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/catalog/prices.equity/status", approveToken, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	node := decode[catalog.CatalogNode](t, rec)
	assert.Equal(t, catalog.NodeStatusDeprecated, node.Status)

	// deprecated -> active is not a legal transition.
	rec = doJSON(t, h, http.MethodPut, "/catalog/prices.equity/status", approveToken,
		map[string]any{"status": "active", "actor": "gov"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuditEndpoint(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPut, "/catalog/rates.sofr/usd/status", approveToken,
		map[string]any{"status": "deprecated", "actor": "gov", "reason": "consolidating"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/catalog/rates.sofr/usd/audit", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Path    string                `json:"path"`
		Entries []*catalog.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "rates.sofr/usd", out.Path)
	require.NotEmpty(t, out.Entries)
}

func writeCatalogFile(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestReloadBlocksBreakingChanges(t *testing.T) {
	_, h := newTestServer(t)

	// Candidate drops every fixture path except one with a changed binding.
	file := writeCatalogFile(t, strings.TrimSpace(`
prices.equity:
  status: active
  source_binding:
    type: snowflake
    config:
      query: SELECT changed
`))

	rec := doJSON(t, h, http.MethodPost, "/catalog/reload", approveToken,
		map[string]any{"file": file, "actor": "ops", "block_breaking": true})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	res := decode[governance.ReloadResult](t, rec)
	assert.False(t, res.Applied)
	assert.True(t, res.HasBreakingChanges)
	assert.Equal(t, 4, res.RemovedCount)
	assert.Equal(t, 1, res.BindingChangeCount)

	var kind struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kind))
	assert.Equal(t, "breaking_reload_rejected", kind.Error)
}

func TestReloadApplies(t *testing.T) {
	s, h := newTestServer(t)

	file := writeCatalogFile(t, strings.TrimSpace(`
prices.crypto:
  status: active
  is_leaf: true
  source_binding:
    type: rest
    config:
      url: https://api.example.com/crypto
`))

	rec := doJSON(t, h, http.MethodPost, "/catalog/reload", approveToken,
		map[string]any{"file": file, "actor": "ops", "block_breaking": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[governance.ReloadResult](t, rec)
	assert.True(t, res.Applied)
	assert.Equal(t, 1, res.AddedCount)
	assert.True(t, s.svc.Registry().Exists("prices.crypto"))
}

func TestRequestWorkflow(t *testing.T) {
	_, h := newTestServer(t)

	submission := map[string]any{
		"path":         "prices.fx/EURUSD",
		"display_name": "EUR/USD Spot",
		"requester":    map[string]any{"name": "Dana", "email": "dana@example.com"},
		"source_binding_type": "snowflake",
		"source_binding_config": map[string]any{"query": "SELECT mid FROM FX"},
	}

	// Anonymous submission is rejected.
	rec := doJSON(t, h, http.MethodPost, "/requests/", "", submission)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/requests/", submitToken, submission)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[governance.MonikerRequest](t, rec)
	assert.Equal(t, governance.RequestPending, created.Status)

	// Submitters cannot approve.
	rec = doJSON(t, h, http.MethodPost, "/requests/"+created.RequestID+"/approve", submitToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/requests/"+created.RequestID+"/approve", approveToken,
		map[string]any{"actor": "approver@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The approved path now resolves through its own binding.
	rec = doJSON(t, h, http.MethodGet, "/resolve/prices.fx/EURUSD", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[service.ResolveResult](t, rec)
	assert.Equal(t, "SELECT mid FROM FX", *res.Query)

	// A second approval conflicts.
	rec = doJSON(t, h, http.MethodPost, "/requests/"+created.RequestID+"/approve", approveToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequestRejection(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/requests/", submitToken,
		map[string]any{"path": "prices.fx/GBPUSD"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[governance.MonikerRequest](t, rec)

	// Reason is mandatory for rejections.
	rec = doJSON(t, h, http.MethodPost, "/requests/"+created.RequestID+"/reject", approveToken,
		map[string]any{"actor": "approver"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/requests/"+created.RequestID+"/reject", approveToken,
		map[string]any{"actor": "approver", "reason": "duplicate"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rejected := decode[governance.MonikerRequest](t, rec)
	assert.Equal(t, governance.RequestRejected, rejected.Status)

	rec = doJSON(t, h, http.MethodGet, "/requests/?status=rejected", submitToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.Count)
}

func TestSubmitExistingPathConflicts(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/requests/", submitToken,
		map[string]any{"path": "prices.equity"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTelemetryAccessEndpoint(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/telemetry/access", "",
		map[string]any{"moniker": "prices.equity/AAPL", "operation": "READ"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/telemetry/access", "", map[string]any{"moniker": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndDomains(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status  string               `json:"status"`
		Catalog service.CatalogStats `json:"catalog"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 5, health.Catalog.TotalNodes)

	rec = doJSON(t, h, http.MethodGet, "/domains", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doms struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doms))
	assert.Equal(t, 1, doms.Count)

	rec = doJSON(t, h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
