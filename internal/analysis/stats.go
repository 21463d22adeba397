package analysis

import (
	"math"
	"sort"
	"time"

	"platmarket/internal/store"
)

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation; 0 for fewer than 2 values.
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// DetectOutliers flags values whose z-score magnitude reaches threshold.
// The comparison is inclusive so a value sitting exactly on the threshold
// counts as an outlier. Empty input yields nil; a flat series flags nothing.
func DetectOutliers(values []float64, threshold float64) []bool {
	if len(values) == 0 {
		return nil
	}
	flags := make([]bool, len(values))
	sd := stddev(values)
	if sd == 0 {
		return flags
	}
	m := mean(values)
	for i, v := range values {
		if math.Abs((v-m)/sd) >= threshold {
			flags[i] = true
		}
	}
	return flags
}

// TrimmedMean sorts the input, drops trimPercent% of entries from each tail
// (count by truncating division) and averages the rest. Fewer than 3 values
// fall back to the plain mean: a tail-trim would leave too little signal.
func TrimmedMean(values []float64, trimPercent float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < 3 {
		return mean(values)
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	trim := int(float64(len(sorted)) * trimPercent / 100)
	if trim > 0 && len(sorted)-2*trim > 0 {
		sorted = sorted[trim : len(sorted)-trim]
	}
	return mean(sorted)
}

// RapidThreshold is the price-change rate, in price units per hour, above
// which an order counts as rapidly repriced.
const RapidThreshold = 10.0

// RapidPriceChange reports whether an order's price moved faster than
// RapidThreshold over its visible lifetime. Orders visible for under an
// hour are never flagged, to avoid dividing by near-zero durations.
func RapidPriceChange(rec store.OrderRecord) (bool, float64) {
	hours := rec.LastSeen.Sub(rec.FirstSeen).Hours()
	if hours < 1 {
		return false, 0
	}
	rate := math.Abs(float64(rec.FinalPrice-rec.InitialPrice)) / hours
	return rate > RapidThreshold, rate
}

// PriceHeatmap groups samples by (weekday, hour-of-day) and returns the mean
// price per cell.
func PriceHeatmap(samples []store.PriceSample) map[string]map[int]float64 {
	type cell struct {
		day  time.Weekday
		hour int
	}
	sums := make(map[cell]float64)
	counts := make(map[cell]int)
	for _, s := range samples {
		ts := s.RecordedAt.UTC()
		c := cell{day: ts.Weekday(), hour: ts.Hour()}
		sums[c] += float64(s.Price)
		counts[c]++
	}
	heatmap := make(map[string]map[int]float64)
	for c, sum := range sums {
		name := c.day.String()
		if heatmap[name] == nil {
			heatmap[name] = make(map[int]float64)
		}
		heatmap[name][c.hour] = sum / float64(counts[c])
	}
	return heatmap
}
