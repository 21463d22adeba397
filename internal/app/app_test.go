package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"platmarket/internal/config"
	"platmarket/internal/store"
	"platmarket/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upstream fakes the catalog service with one discoverable set and a small
// order book.
func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	lastSeen := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	mux := http.NewServeMux()
	mux.HandleFunc("/items", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"payload":{"items":[
			{"id":"a1","item_name":"Ash Prime Set","url_name":"ash_prime_set"},
			{"id":"m1","item_name":"Morphics","url_name":"morphics"}
		]}}`)
	})
	mux.HandleFunc("/items/ash_prime_set", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"payload":{"item":{"id":"a1","url_name":"ash_prime_set","items_in_set":[
			{"url_name":"ash_prime_blueprint","tags":["prime","warframe"]}
		]}}}`)
	})
	mux.HandleFunc("/items/ash_prime_set/orders", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"payload":{"orders":[
			{"id":"o1","platinum":45,"quantity":1,"order_type":"sell","visible":true,
			 "user":{"id":"u1","ingame_name":"SellerOne"},"last_seen":%q},
			{"id":"o2","platinum":40,"quantity":2,"order_type":"buy","visible":true,
			 "user":{"id":"u2","ingame_name":"BuyerTwo"},"last_seen":%q}
		]}}`, lastSeen, lastSeen)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.App.LogLevel = "error"
	cfg.Market.BaseURL = baseURL
	cfg.Market.RatePerSecond = 10
	cfg.Market.MaxRetries = 1
	cfg.Market.RetryDelaySeconds = 0.01
	cfg.Store.DBPath = filepath.Join(dir, "main.db")
	cfg.Store.RollupDBPath = filepath.Join(dir, "rollup.db")
	cfg.Catalog.SetKeyword = "set"
	cfg.Catalog.ItemTag = "warframe"
	cfg.Pipeline.CycleInterval = "1h"
	cfg.Pipeline.StaleDays = 30
	cfg.Pipeline.PurgeMonths = 12
	cfg.Pipeline.Concurrency = 2
	return cfg
}

func newTestApp(t *testing.T, baseURL string) *App {
	t.Helper()
	a, err := New(testConfig(t, baseURL))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestRunFullCycleDiscoversAndIngests(t *testing.T) {
	srv := upstream(t)
	a := newTestApp(t, srv.URL)
	ctx := context.Background()

	report, err := a.RunFullCycle(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, report.CycleID)
	assert.Equal(t, 1, report.Discovered, "only the tagged set passes discovery")
	assert.Equal(t, 1, report.Items)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 0, report.Failed)

	items, err := a.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ash_prime_set", items[0].Name)

	active, err := a.ActiveOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), active)
}

func TestRunFullCycleIsIdempotentAcrossRuns(t *testing.T) {
	srv := upstream(t)
	a := newTestApp(t, srv.URL)
	ctx := context.Background()

	_, err := a.RunFullCycle(ctx)
	require.NoError(t, err)
	report, err := a.RunFullCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Discovered, "second cycle discovers nothing new")
	assert.Equal(t, 1, report.Succeeded)

	active, err := a.ActiveOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), active, "replayed orders must not duplicate")
}

func TestAnalyzeAfterCycle(t *testing.T) {
	srv := upstream(t)
	a := newTestApp(t, srv.URL)
	ctx := context.Background()

	_, err := a.RunFullCycle(ctx)
	require.NoError(t, err)

	result, ok, err := a.Analyze(ctx, "ash_prime_set", "week")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, result.DemandStrength, "buy qty 2 over sell qty 1")
	require.Len(t, result.PriceTrends, 1)
	assert.Equal(t, int64(40), result.PriceTrends[0].BestBuyPrice)
	assert.Equal(t, int64(45), result.PriceTrends[0].BestSellPrice)
}

func TestAnalyzeUnknownItem(t *testing.T) {
	srv := upstream(t)
	a := newTestApp(t, srv.URL)

	_, ok, err := a.Analyze(context.Background(), "no_such_item", "week")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = a.Analyze(context.Background(), "ash_prime_set", "fortnight")
	assert.Error(t, err)
}

func TestRebuildRollupAndSummary(t *testing.T) {
	srv := upstream(t)
	a := newTestApp(t, srv.URL)
	ctx := context.Background()

	_, err := a.RunFullCycle(ctx)
	require.NoError(t, err)
	require.NoError(t, a.RebuildRollup(ctx))

	row, ok, err := a.LatestSummary(ctx, "ash_prime_set")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, []model.MarketSide{model.SideBuy, model.SideSell}, row.Side)
	assert.NotZero(t, row.AvgPrice)

	_, ok, err = a.LatestSummary(ctx, "no_such_item")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrderBookAggregation(t *testing.T) {
	srv := upstream(t)
	a := newTestApp(t, srv.URL)
	ctx := context.Background()

	_, err := a.RunFullCycle(ctx)
	require.NoError(t, err)

	view, err := a.OrderBook(ctx, "ash_prime_set")
	require.NoError(t, err)
	assert.Equal(t, "ash_prime_set", view.Item)
	require.Len(t, view.Entries, 2)
	require.NotNil(t, view.BestBuy)
	require.NotNil(t, view.BestSell)
	assert.Equal(t, int64(40), view.BestBuy.Price)
	assert.Equal(t, int64(45), view.BestSell.Price)

	_, err = a.OrderBook(ctx, "no_such_item")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDiscoveryFailureIsNotFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/items", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a := newTestApp(t, srv.URL)
	report, err := a.RunFullCycle(context.Background())
	require.NoError(t, err, "catalog outage must not abort the cycle")
	assert.Equal(t, 0, report.Discovered)
	assert.Equal(t, 0, report.Items)
}
