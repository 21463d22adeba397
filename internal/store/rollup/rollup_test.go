package rollup

import (
	"context"
	"testing"
	"time"

	"platmarket/internal/store"
	"platmarket/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleAt(ts time.Time, price, qty int64, side model.MarketSide) store.PriceSample {
	return store.PriceSample{ItemID: 1, RecordedAt: ts, Price: price, Quantity: qty, Side: side}
}

func TestRebuildAggregatesHourlyCells(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hour := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	err := s.Rebuild(ctx, 1, []store.PriceSample{
		sampleAt(hour.Add(5*time.Minute), 40, 2, model.SideSell),
		sampleAt(hour.Add(20*time.Minute), 50, 1, model.SideSell),
		sampleAt(hour.Add(40*time.Minute), 60, 1, model.SideSell),
	})
	require.NoError(t, err)

	row, ok, err := s.LatestSummary(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2026-08-30", row.Date)
	assert.Equal(t, 14, row.Hour)
	assert.Equal(t, model.SideSell, row.Side)
	assert.Equal(t, 50.0, row.AvgPrice)
	assert.Equal(t, 50.0, row.MedianPrice)
	assert.Equal(t, int64(40), row.MinPrice)
	assert.Equal(t, int64(60), row.MaxPrice)
	assert.Equal(t, int64(4), row.Volume)
	assert.Equal(t, int64(3), row.NumTrades)
	assert.InDelta(t, 8.165, row.Volatility, 0.001)
}

func TestRebuildReplacesPreviousRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hour := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	require.NoError(t, s.Rebuild(ctx, 1, []store.PriceSample{
		sampleAt(hour, 40, 1, model.SideSell),
	}))
	require.NoError(t, s.Rebuild(ctx, 1, []store.PriceSample{
		sampleAt(hour, 55, 2, model.SideSell),
	}))

	row, ok, err := s.LatestSummary(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 55.0, row.AvgPrice)
	assert.Equal(t, int64(2), row.Volume)
}

func TestRebuildSeparatesSides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hour := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	require.NoError(t, s.Rebuild(ctx, 1, []store.PriceSample{
		sampleAt(hour, 35, 1, model.SideBuy),
		sampleAt(hour, 45, 1, model.SideSell),
	}))

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM price_statistics WHERE item_id = 1`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRebuildMovingAverages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Ten consecutive days of sells: enough history for the 7d average,
	// not for the 30d one.
	var samples []store.PriceSample
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		samples = append(samples, sampleAt(start.AddDate(0, 0, i), int64(40+i), 1, model.SideSell))
	}
	require.NoError(t, s.Rebuild(ctx, 1, samples))

	row, ok, err := s.LatestSummary(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	// Last day's 7d SMA covers prices 43..49.
	assert.InDelta(t, 46.0, row.MovingAvg7d, 0.001)
	assert.Zero(t, row.MovingAvg30d)
}

func TestPurgeBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Rebuild(ctx, 1, []store.PriceSample{
		sampleAt(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), 40, 1, model.SideSell),
		sampleAt(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), 44, 1, model.SideSell),
	}))

	dropped, err := s.PurgeBefore(ctx, "2026-01-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), dropped)

	row, ok, err := s.LatestSummary(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2026-08-30", row.Date)
}

func TestLatestSummaryEmpty(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.LatestSummary(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLatestSummaryPicksNewestCell(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Rebuild(ctx, 1, []store.PriceSample{
		sampleAt(time.Date(2026, 8, 29, 23, 0, 0, 0, time.UTC), 40, 1, model.SideSell),
		sampleAt(time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC), 44, 1, model.SideSell),
		sampleAt(time.Date(2026, 8, 30, 16, 0, 0, 0, time.UTC), 48, 1, model.SideSell),
	}))

	row, ok, err := s.LatestSummary(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2026-08-30", row.Date)
	assert.Equal(t, 16, row.Hour)
	assert.Equal(t, 48.0, row.AvgPrice)
}

func TestRebuildAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	catalog := &fakeCatalog{items: []store.Item{{ID: 1, Name: "ash_prime_set"}, {ID: 2, Name: "bo_prime_set"}}}
	series := &fakeSeries{samples: map[int64][]store.PriceSample{
		1: {sampleAt(time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC), 40, 1, model.SideSell)},
		// Item 2 has no samples and is skipped.
	}}

	require.NoError(t, RebuildAll(ctx, s, catalog, series))

	_, ok, err := s.LatestSummary(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = s.LatestSummary(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

type fakeCatalog struct {
	items []store.Item
}

func (f *fakeCatalog) UpsertItem(_ context.Context, name string) (store.Item, error) {
	return store.Item{Name: name}, nil
}
func (f *fakeCatalog) ListItems(context.Context) ([]store.Item, error) { return f.items, nil }
func (f *fakeCatalog) GetItemByName(_ context.Context, name string) (store.Item, error) {
	for _, it := range f.items {
		if it.Name == name {
			return it, nil
		}
	}
	return store.Item{}, store.ErrNotFound
}

type fakeSeries struct {
	samples map[int64][]store.PriceSample
}

func (f *fakeSeries) PricesSince(_ context.Context, itemID int64, _ time.Time) ([]store.PriceSample, error) {
	return f.samples[itemID], nil
}
func (f *fakeSeries) RecentSellPrices(context.Context, int64, int) ([]int64, error) {
	return nil, nil
}
