package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"platmarket/internal/analysis"
	"platmarket/internal/app"
	"platmarket/internal/store"
	"platmarket/internal/store/rollup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	items    []store.Item
	analysis analysis.MarketAnalysis
	haveData bool
	summary  rollup.StatRow
	active   int64
	report   app.CycleReport
	err      error
}

func (f *fakePipeline) Items(context.Context) ([]store.Item, error) {
	return f.items, f.err
}

func (f *fakePipeline) Analyze(_ context.Context, name, rangeStr string) (analysis.MarketAnalysis, bool, error) {
	return f.analysis, f.haveData, f.err
}

func (f *fakePipeline) LatestSummary(context.Context, string) (rollup.StatRow, bool, error) {
	return f.summary, f.haveData, f.err
}

func (f *fakePipeline) OrderBook(_ context.Context, name string) (app.OrderBookView, error) {
	if f.err != nil {
		return app.OrderBookView{}, f.err
	}
	if !f.haveData {
		return app.OrderBookView{}, store.ErrNotFound
	}
	return app.OrderBookView{Item: name}, nil
}

func (f *fakePipeline) ActiveOrders(context.Context) (int64, error) {
	return f.active, f.err
}

func (f *fakePipeline) RunFullCycle(context.Context) (app.CycleReport, error) {
	return f.report, f.err
}

func newTestServer(t *testing.T, p Pipeline) http.Handler {
	t.Helper()
	srv, err := NewServer(ServerConfig{Pipeline: p})
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServerRequiresPipeline(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, &fakePipeline{})
	rec := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListItems(t *testing.T) {
	h := newTestServer(t, &fakePipeline{items: []store.Item{
		{ID: 1, Name: "ash_prime_set"},
		{ID: 2, Name: "bo_prime_set"},
	}})
	rec := do(t, h, http.MethodGet, "/api/items")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestItemAnalysis(t *testing.T) {
	h := newTestServer(t, &fakePipeline{
		haveData: true,
		analysis: analysis.MarketAnalysis{DemandStrength: 1.5},
	})
	rec := do(t, h, http.MethodGet, "/api/items/ash_prime_set/analysis?range=week")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Item     string                  `json:"item"`
		Analysis analysis.MarketAnalysis `json:"analysis"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ash_prime_set", body.Item)
	assert.Equal(t, 1.5, body.Analysis.DemandStrength)
}

func TestItemAnalysisNoData(t *testing.T) {
	h := newTestServer(t, &fakePipeline{haveData: false})
	rec := do(t, h, http.MethodGet, "/api/items/unknown/analysis")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestItemAnalysisBadRange(t *testing.T) {
	h := newTestServer(t, &fakePipeline{haveData: true})
	rec := do(t, h, http.MethodGet, "/api/items/ash_prime_set/analysis?range=fortnight")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestItemSummary(t *testing.T) {
	h := newTestServer(t, &fakePipeline{
		haveData: true,
		summary:  rollup.StatRow{ItemID: 1, Date: "2026-08-30", Hour: 14, AvgPrice: 42},
	})
	rec := do(t, h, http.MethodGet, "/api/items/ash_prime_set/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2026-08-30")
}

func TestItemOrderBook(t *testing.T) {
	h := newTestServer(t, &fakePipeline{haveData: true})
	rec := do(t, h, http.MethodGet, "/api/items/ash_prime_set/orderbook")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"item":"ash_prime_set"`)

	rec = do(t, h, http.MethodGet, "/api/items/unknown/orderbook")
	assert.Equal(t, http.StatusOK, rec.Code)

	h = newTestServer(t, &fakePipeline{haveData: false})
	rec = do(t, h, http.MethodGet, "/api/items/unknown/orderbook")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActiveOrders(t *testing.T) {
	h := newTestServer(t, &fakePipeline{active: 7})
	rec := do(t, h, http.MethodGet, "/api/orders/active")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active_orders":7`)
}

func TestRunCycle(t *testing.T) {
	h := newTestServer(t, &fakePipeline{report: app.CycleReport{Items: 12, Succeeded: 11, Failed: 1}})
	rec := do(t, h, http.MethodPost, "/api/cycle")
	require.Equal(t, http.StatusOK, rec.Code)

	var report app.CycleReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 12, report.Items)
	assert.Equal(t, 1, report.Failed)
}

func TestPipelineErrorsBecome500(t *testing.T) {
	h := newTestServer(t, &fakePipeline{err: errors.New("db gone")})
	for _, path := range []string{"/api/items", "/api/orders/active"} {
		rec := do(t, h, http.MethodGet, path)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
	}
	rec := do(t, h, http.MethodPost, "/api/cycle")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
