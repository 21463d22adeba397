// Package rollup maintains the price_statistics table: hourly per-side
// aggregates over the price series, with 7d/30d moving averages. The main
// store never writes here; the rollup is rebuilt as a batch job and the
// analyzer only reads the freshest row.
package rollup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	_ "modernc.org/sqlite"

	"platmarket/internal/store"
	"platmarket/internal/store/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS price_statistics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id INTEGER NOT NULL,
	date TEXT NOT NULL,
	hour INTEGER NOT NULL CHECK (hour >= 0 AND hour < 24),
	side TEXT NOT NULL,
	avg_price REAL NOT NULL,
	median_price REAL NOT NULL,
	min_price INTEGER NOT NULL,
	max_price INTEGER NOT NULL,
	volume INTEGER NOT NULL,
	num_trades INTEGER NOT NULL,
	moving_avg_7d REAL,
	moving_avg_30d REAL,
	volatility REAL,
	UNIQUE(item_id, date, hour, side)
);
CREATE INDEX IF NOT EXISTS idx_price_statistics_item ON price_statistics(item_id, date, hour);
`

// StatRow is one hourly per-side rollup row.
type StatRow struct {
	ItemID       int64
	Date         string // 2006-01-02
	Hour         int
	Side         model.MarketSide
	AvgPrice     float64
	MedianPrice  float64
	MinPrice     int64
	MaxPrice     int64
	Volume       int64
	NumTrades    int64
	MovingAvg7d  float64
	MovingAvg30d float64
	Volatility   float64
}

// Store wraps the rollup database. Writes are serialized; SQLite handles
// concurrent readers.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates (or opens) the rollup database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("rollup: db path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("rollup: applying schema failed: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LatestSummary returns the most recent rollup row for an item; ok is false
// when the item has no rollup yet.
func (s *Store) LatestSummary(ctx context.Context, itemID int64) (StatRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_id, date, hour, side, avg_price, median_price, min_price, max_price,
		       volume, num_trades,
		       COALESCE(moving_avg_7d, 0), COALESCE(moving_avg_30d, 0), COALESCE(volatility, 0)
		FROM price_statistics
		WHERE item_id = ?
		ORDER BY date DESC, hour DESC
		LIMIT 1`, itemID)
	var out StatRow
	var side string
	err := row.Scan(&out.ItemID, &out.Date, &out.Hour, &side, &out.AvgPrice, &out.MedianPrice,
		&out.MinPrice, &out.MaxPrice, &out.Volume, &out.NumTrades,
		&out.MovingAvg7d, &out.MovingAvg30d, &out.Volatility)
	if errors.Is(err, sql.ErrNoRows) {
		return StatRow{}, false, nil
	}
	if err != nil {
		return StatRow{}, false, err
	}
	parsed, perr := model.ParseSide(side)
	if perr != nil {
		return StatRow{}, false, fmt.Errorf("rollup: corrupt side column: %w", perr)
	}
	out.Side = parsed
	return out, true, nil
}

type cellKey struct {
	date string
	hour int
	side model.MarketSide
}

// Rebuild replaces the item's rollup with aggregates computed from the given
// samples. The whole replacement is one transaction.
func (s *Store) Rebuild(ctx context.Context, itemID int64, samples []store.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cells := make(map[cellKey][]store.PriceSample)
	var keys []cellKey
	for _, sample := range samples {
		ts := sample.RecordedAt.UTC()
		k := cellKey{date: ts.Format("2006-01-02"), hour: ts.Hour(), side: sample.Side}
		if _, ok := cells[k]; !ok {
			keys = append(keys, k)
		}
		cells[k] = append(cells[k], sample)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		if keys[i].hour != keys[j].hour {
			return keys[i].hour < keys[j].hour
		}
		return keys[i].side < keys[j].side
	})

	rows := make([]StatRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, aggregateCell(itemID, k, cells[k]))
	}
	attachMovingAverages(rows)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM price_statistics WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("rollup: clearing old rows failed: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_statistics
			(item_id, date, hour, side, avg_price, median_price, min_price, max_price,
			 volume, num_trades, moving_avg_7d, moving_avg_30d, volatility)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.ItemID, r.Date, r.Hour, string(r.Side),
			r.AvgPrice, r.MedianPrice, r.MinPrice, r.MaxPrice,
			r.Volume, r.NumTrades, r.MovingAvg7d, r.MovingAvg30d, r.Volatility); err != nil {
			return fmt.Errorf("rollup: inserting row failed: %w", err)
		}
	}
	return tx.Commit()
}

// PurgeBefore removes rollup rows dated strictly before date (2006-01-02).
// Returns the number of rows dropped.
func (s *Store) PurgeBefore(ctx context.Context, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_statistics WHERE date < ?`, date)
	if err != nil {
		return 0, fmt.Errorf("rollup: purge failed: %w", err)
	}
	return res.RowsAffected()
}

func aggregateCell(itemID int64, k cellKey, samples []store.PriceSample) StatRow {
	prices := make([]float64, 0, len(samples))
	row := StatRow{ItemID: itemID, Date: k.date, Hour: k.hour, Side: k.side}
	for _, s := range samples {
		prices = append(prices, float64(s.Price))
		row.Volume += s.Quantity
		if row.MinPrice == 0 || s.Price < row.MinPrice {
			row.MinPrice = s.Price
		}
		if s.Price > row.MaxPrice {
			row.MaxPrice = s.Price
		}
	}
	row.NumTrades = int64(len(samples))
	row.AvgPrice = meanOf(prices)
	row.MedianPrice = medianOf(prices)
	row.Volatility = stddevOf(prices)
	return row
}

// attachMovingAverages computes per-side 7d/30d simple moving averages over
// the daily average-price series and stamps them onto every row of the
// corresponding day.
func attachMovingAverages(rows []StatRow) {
	for _, side := range []model.MarketSide{model.SideBuy, model.SideSell} {
		daySums := make(map[string]float64)
		dayCounts := make(map[string]int)
		var dates []string
		for _, r := range rows {
			if r.Side != side {
				continue
			}
			if _, ok := daySums[r.Date]; !ok {
				dates = append(dates, r.Date)
			}
			daySums[r.Date] += r.AvgPrice
			dayCounts[r.Date]++
		}
		if len(dates) == 0 {
			continue
		}
		sort.Strings(dates)
		daily := make([]float64, len(dates))
		for i, d := range dates {
			daily[i] = daySums[d] / float64(dayCounts[d])
		}
		ma7 := movingAvg(daily, 7)
		ma30 := movingAvg(daily, 30)
		idx := make(map[string]int, len(dates))
		for i, d := range dates {
			idx[d] = i
		}
		for i := range rows {
			if rows[i].Side != side {
				continue
			}
			if j, ok := idx[rows[i].Date]; ok {
				rows[i].MovingAvg7d = ma7[j]
				rows[i].MovingAvg30d = ma30[j]
			}
		}
	}
}

// movingAvg wraps talib.Sma; inputs shorter than the period get zeros, as
// talib panics below its lookback.
func movingAvg(series []float64, period int) []float64 {
	if len(series) < period || period < 2 {
		return make([]float64, len(series))
	}
	return talib.Sma(series, period)
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func stddevOf(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := meanOf(values)
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// RebuildAll refreshes the rollup for every item in the series store.
func RebuildAll(ctx context.Context, s *Store, catalog store.Catalog, series store.PriceSeries) error {
	items, err := catalog.ListItems(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, item := range items {
		samples, err := series.PricesSince(ctx, item.ID, time.Time{})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.Name, err))
			continue
		}
		if len(samples) == 0 {
			continue
		}
		if err := s.Rebuild(ctx, item.ID, samples); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.Name, err))
		}
	}
	return errors.Join(errs...)
}
