package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/execution/executiontest"
	"github.com/ggonzalez94/sonic-agent/internal/gateway"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/model"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
	"github.com/ggonzalez94/sonic-agent/internal/providers/providertest"
	"github.com/ggonzalez94/sonic-agent/internal/resolver"
	"github.com/ggonzalez94/sonic-agent/internal/strategy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sonic = id.Chain{Name: "Sonic", Slug: "sonic", CAIP2: "eip155:146", EVMChainID: 146}

func newTestHandler(t *testing.T) (http.Handler, *providertest.Provider, *executiontest.Wallet) {
	t.Helper()
	native := providertest.New("native").
		Op("wrapS", func(_ context.Context, _ execution.Wallet, params providers.Params) (providers.Result, error) {
			return providers.Result{Message: "wrapped " + params.Values()["amount"].(string) + " S", TxHashes: []string{"0x01"}}, nil
		})
	reg, err := providers.NewRegistry(native)
	require.NoError(t, err)
	res := resolver.New(reg, sonic, nil)
	orch := strategy.New(res, nil)
	w := executiontest.New()
	h := NewHandler(Deps{
		Gateway:      gateway.New(res, orch, w),
		Orchestrator: orch,
		Registry:     reg,
		Chain:        sonic,
		Logger:       zerolog.Nop(),
	})
	return h, native, w
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestExecuteExplicitAction(t *testing.T) {
	h, native, _ := newTestHandler(t)
	rec := post(t, h, "/v1/execute", `{"action_id":"wrap-s","params":"2","source":"command"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp gateway.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "wrapped 2 S\nTransactions: 0x01", resp.Text)
	assert.Len(t, native.Calls(), 1)
}

func TestExecuteImplicitStrategyIsRefused(t *testing.T) {
	h, native, w := newTestHandler(t)
	rec := post(t, h, "/v1/execute", `{"action_id":"execute-wrap-and-deposit","params":"1","source":"button"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp gateway.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Blocked)
	assert.Contains(t, resp.Text, "/do execute-wrap-and-deposit 1")
	assert.Empty(t, native.Calls())
	assert.Empty(t, w.Sent)
}

func TestExecuteRejectsBadBodies(t *testing.T) {
	h, _, _ := newTestHandler(t)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/v1/execute", `{"action_id":`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/v1/execute", `{"params":"1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/v1/execute", `{"action_id":"wrap-s","wallet":"0x1"}`).Code)
}

func TestResolveIsDryRun(t *testing.T) {
	h, native, _ := newTestHandler(t)
	rec := post(t, h, "/v1/resolve", `{"action_id":"wrap-s","params":"2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resolution model.Resolution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolution))
	assert.Equal(t, "native", resolution.Provider)
	assert.Equal(t, "direct", resolution.Tier)
	assert.Empty(t, native.Calls())
}

func TestListingsAndHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/strategies", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var strategies []model.StrategyListing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &strategies))
	require.Len(t, strategies, 2)
	assert.Equal(t, "execute-machfi-delta-neutral", strategies[0].ActionID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/providers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listings []model.ProviderListing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, "native", listings[0].Name)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "eip155:146")
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)
	post(t, h, "/v1/execute", `{"action_id":"wrap-s","params":"1","source":"cli"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sonic_agent_requests_total")
	assert.Contains(t, rec.Body.String(), "sonic_agent_resolutions_total")
}
