// Package analysis derives time-windowed market statistics (trends,
// volatility, spreads, demand pressure, seasonality) from the accumulated
// price series.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"platmarket/internal/store"
	"platmarket/internal/store/model"
)

// Analyzer computes MarketAnalysis aggregates from the price series.
type Analyzer struct {
	series store.PriceSeries
	nowFn  func() time.Time
}

// New builds an analyzer over the given price series.
func New(series store.PriceSeries) *Analyzer {
	return &Analyzer{series: series, nowFn: time.Now}
}

type daySamples struct {
	buyPrices  []float64
	sellPrices []float64
	volume     int64
}

// Analyze computes the aggregate for one item over the given range. ok is
// false when the window holds no samples: no analysis available, not an
// error and not an empty-but-present result.
func (a *Analyzer) Analyze(ctx context.Context, itemID int64, rng TimeRange) (MarketAnalysis, bool, error) {
	var since time.Time
	if lookback, bounded := rng.Lookback(); bounded {
		since = a.nowFn().UTC().Add(-lookback)
	}
	samples, err := a.series.PricesSince(ctx, itemID, since)
	if err != nil {
		return MarketAnalysis{}, false, err
	}
	if len(samples) == 0 {
		return MarketAnalysis{}, false, nil
	}

	days := make(map[time.Time]*daySamples)
	var dayKeys []time.Time
	hourlySums := [24]float64{}
	hourlyCounts := [24]int{}
	weekdaySums := make(map[string]float64)
	weekdayCounts := make(map[string]int)
	var totalBuyQty, totalSellQty int64

	for _, s := range samples {
		ts := s.RecordedAt.UTC()
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		bucket := days[day]
		if bucket == nil {
			bucket = &daySamples{}
			days[day] = bucket
			dayKeys = append(dayKeys, day)
		}
		price := float64(s.Price)
		switch s.Side {
		case model.SideBuy:
			bucket.buyPrices = append(bucket.buyPrices, price)
			totalBuyQty += s.Quantity
		case model.SideSell:
			bucket.sellPrices = append(bucket.sellPrices, price)
			totalSellQty += s.Quantity
		}
		bucket.volume += s.Quantity
		hourlySums[ts.Hour()] += price
		hourlyCounts[ts.Hour()]++
		weekday := ts.Weekday().String()
		weekdaySums[weekday] += price
		weekdayCounts[weekday]++
	}
	sort.Slice(dayKeys, func(i, j int) bool { return dayKeys[i].Before(dayKeys[j]) })

	trends := make([]MarketTrend, 0, len(dayKeys))
	spreadTrend := make([]float64, 0, len(dayKeys))
	dailyVolumes := make([]float64, 0, len(dayKeys))
	dailyAvgs := make([]float64, 0, len(dayKeys))
	for _, day := range dayKeys {
		bucket := days[day]
		trend := dayTrend(day, bucket)
		trends = append(trends, trend)
		spreadTrend = append(spreadTrend, trend.MarketSpread)
		dailyVolumes = append(dailyVolumes, float64(bucket.volume))
		dailyAvgs = append(dailyAvgs, trend.AvgPrice)
	}

	bestBuyHour, bestSellHour := bestHours(hourlySums, hourlyCounts)

	seasonal := make(map[string]float64, len(weekdaySums))
	for day, sum := range weekdaySums {
		seasonal[day] = sum / float64(weekdayCounts[day])
	}

	demand := 0.0
	if totalSellQty > 0 {
		demand = float64(totalBuyQty) / float64(totalSellQty)
	}

	return MarketAnalysis{
		PriceTrends:       trends,
		AvgDailyVolume:    mean(dailyVolumes),
		PriceVolatility:   stddev(dailyAvgs),
		MarketSpreadTrend: spreadTrend,
		BestBuyTime:       fmt.Sprintf("%02d:00 UTC", bestBuyHour),
		BestSellTime:      fmt.Sprintf("%02d:00 UTC", bestSellHour),
		DemandStrength:    demand,
		SeasonalPatterns:  seasonal,
	}, true, nil
}

// dayTrend folds one day's buy+sell samples into a MarketTrend. Missing
// sides leave spread at 0 and that side's best price at the 0 sentinel.
func dayTrend(day time.Time, bucket *daySamples) MarketTrend {
	all := make([]float64, 0, len(bucket.buyPrices)+len(bucket.sellPrices))
	all = append(all, bucket.buyPrices...)
	all = append(all, bucket.sellPrices...)

	trend := MarketTrend{
		Day:        day,
		AvgPrice:   mean(all),
		Volatility: stddev(all),
		Volume:     bucket.volume,
	}
	if len(all) > 0 {
		minP, maxP := all[0], all[0]
		for _, p := range all[1:] {
			if p < minP {
				minP = p
			}
			if p > maxP {
				maxP = p
			}
		}
		trend.MinPrice = int64(minP)
		trend.MaxPrice = int64(maxP)
	}
	if len(bucket.buyPrices) > 0 && len(bucket.sellPrices) > 0 {
		trend.MarketSpread = mean(bucket.sellPrices) - mean(bucket.buyPrices)
	}
	if len(bucket.buyPrices) > 0 {
		// Best buy = the highest price a buyer offered.
		best := bucket.buyPrices[0]
		for _, p := range bucket.buyPrices[1:] {
			if p > best {
				best = p
			}
		}
		trend.BestBuyPrice = int64(best)
	}
	if len(bucket.sellPrices) > 0 {
		// Best sell = the lowest price a seller asked.
		best := bucket.sellPrices[0]
		for _, p := range bucket.sellPrices[1:] {
			if p < best {
				best = p
			}
		}
		trend.BestSellPrice = int64(best)
	}
	return trend
}

// bestHours scans hours in ascending order. The cheapest hour uses strict
// less-than, so ties keep the lowest hour; the dearest uses >=, so ties
// keep the highest.
func bestHours(sums [24]float64, counts [24]int) (buyHour, sellHour int) {
	first := true
	var minAvg, maxAvg float64
	for h := 0; h < 24; h++ {
		if counts[h] == 0 {
			continue
		}
		avg := sums[h] / float64(counts[h])
		if first {
			minAvg, maxAvg = avg, avg
			buyHour, sellHour = h, h
			first = false
			continue
		}
		if avg < minAvg {
			minAvg = avg
			buyHour = h
		}
		if avg >= maxAvg {
			maxAvg = avg
			sellHour = h
		}
	}
	return buyHour, sellHour
}
