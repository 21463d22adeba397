package reconcile

import (
	"sort"

	"platmarket/internal/store/model"
)

// BucketEntry is the aggregated quantity listed at one price point on one
// side of the book.
type BucketEntry struct {
	Price    int64            `json:"price"`
	Quantity int64            `json:"quantity"`
	Side     model.MarketSide `json:"side"`
}

// OrderBook aggregates listings into per-price buckets per side. Buckets are
// created explicitly on first add; zero-quantity placeholders never exist,
// so reads need no filtering.
type OrderBook struct {
	buckets map[model.MarketSide]map[int64]int64
}

// NewOrderBook returns an empty aggregation.
func NewOrderBook() *OrderBook {
	return &OrderBook{buckets: map[model.MarketSide]map[int64]int64{
		model.SideBuy:  {},
		model.SideSell: {},
	}}
}

// Add merges quantity into the bucket for (side, price). Invalid sides and
// non-positive quantities are ignored.
func (b *OrderBook) Add(side model.MarketSide, price, quantity int64) {
	if !side.Valid() || quantity <= 0 {
		return
	}
	b.buckets[side][price] += quantity
}

// Entries returns all buckets, buys before sells, prices ascending.
func (b *OrderBook) Entries() []BucketEntry {
	var out []BucketEntry
	for _, side := range []model.MarketSide{model.SideBuy, model.SideSell} {
		prices := make([]int64, 0, len(b.buckets[side]))
		for p := range b.buckets[side] {
			prices = append(prices, p)
		}
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
		for _, p := range prices {
			out = append(out, BucketEntry{Price: p, Quantity: b.buckets[side][p], Side: side})
		}
	}
	return out
}

// Best returns the strongest bucket on a side: highest price for buys,
// lowest for sells. ok is false when the side is empty.
func (b *OrderBook) Best(side model.MarketSide) (BucketEntry, bool) {
	bucket := b.buckets[side]
	if len(bucket) == 0 {
		return BucketEntry{}, false
	}
	var best int64
	first := true
	for p := range bucket {
		if first {
			best = p
			first = false
			continue
		}
		if side == model.SideBuy && p > best {
			best = p
		}
		if side == model.SideSell && p < best {
			best = p
		}
	}
	return BucketEntry{Price: best, Quantity: bucket[best], Side: side}, true
}

// Clear drops every bucket.
func (b *OrderBook) Clear() {
	b.buckets = map[model.MarketSide]map[int64]int64{
		model.SideBuy:  {},
		model.SideSell: {},
	}
}
