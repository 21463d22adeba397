package analysis

import (
	"fmt"
	"strings"
	"time"
)

// TimeRange selects the lookback window for an analysis.
type TimeRange string

const (
	RangeWeek        TimeRange = "week"
	RangeMonth       TimeRange = "month"
	RangeThreeMonths TimeRange = "3months"
	RangeSixMonths   TimeRange = "6months"
	RangeAllTime     TimeRange = "all"
)

// ParseTimeRange maps user input onto the closed range set.
func ParseTimeRange(raw string) (TimeRange, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "week", "1w", "7d":
		return RangeWeek, nil
	case "month", "1m", "30d", "":
		return RangeMonth, nil
	case "3months", "3m", "90d":
		return RangeThreeMonths, nil
	case "6months", "6m", "180d":
		return RangeSixMonths, nil
	case "all", "alltime", "all-time":
		return RangeAllTime, nil
	default:
		return "", fmt.Errorf("unknown time range %q", raw)
	}
}

// Lookback returns the window size; bounded is false for all-time.
func (r TimeRange) Lookback() (d time.Duration, bounded bool) {
	switch r {
	case RangeWeek:
		return 7 * 24 * time.Hour, true
	case RangeMonth:
		return 30 * 24 * time.Hour, true
	case RangeThreeMonths:
		return 90 * 24 * time.Hour, true
	case RangeSixMonths:
		return 180 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// MarketTrend is one calendar day's derived statistics. A zero best price
// means that side had no listings that day, not a literal free price.
type MarketTrend struct {
	Day           time.Time `json:"day"`
	AvgPrice      float64   `json:"avg_price"`
	MinPrice      int64     `json:"min_price"`
	MaxPrice      int64     `json:"max_price"`
	Volatility    float64   `json:"volatility"`
	Volume        int64     `json:"volume"`
	MarketSpread  float64   `json:"market_spread"`
	BestBuyPrice  int64     `json:"best_buy_price"`
	BestSellPrice int64     `json:"best_sell_price"`
}

// MarketAnalysis is the aggregate over a window. Pure query result:
// recomputed on every request, never cached.
type MarketAnalysis struct {
	PriceTrends       []MarketTrend      `json:"price_trends"`
	AvgDailyVolume    float64            `json:"avg_daily_volume"`
	PriceVolatility   float64            `json:"price_volatility"`
	MarketSpreadTrend []float64          `json:"market_spread_trend"`
	BestBuyTime       string             `json:"best_buy_time"`
	BestSellTime      string             `json:"best_sell_time"`
	DemandStrength    float64            `json:"demand_strength"`
	SeasonalPatterns  map[string]float64 `json:"seasonal_patterns"`
}
