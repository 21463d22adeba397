package reconcile

import (
	"testing"

	"platmarket/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderBookAddMergesQuantities(t *testing.T) {
	b := NewOrderBook()
	b.Add(model.SideSell, 40, 2)
	b.Add(model.SideSell, 40, 3)
	b.Add(model.SideSell, 45, 1)
	b.Add(model.SideBuy, 38, 4)

	entries := b.Entries()
	require.Len(t, entries, 3)
	// Buys first, then sells ascending by price.
	assert.Equal(t, BucketEntry{Price: 38, Quantity: 4, Side: model.SideBuy}, entries[0])
	assert.Equal(t, BucketEntry{Price: 40, Quantity: 5, Side: model.SideSell}, entries[1])
	assert.Equal(t, BucketEntry{Price: 45, Quantity: 1, Side: model.SideSell}, entries[2])
}

func TestOrderBookIgnoresInvalidInput(t *testing.T) {
	b := NewOrderBook()
	b.Add("short", 40, 1)
	b.Add(model.SideSell, 40, 0)
	b.Add(model.SideSell, 40, -5)
	assert.Empty(t, b.Entries())
}

func TestOrderBookBest(t *testing.T) {
	b := NewOrderBook()

	_, ok := b.Best(model.SideBuy)
	assert.False(t, ok)

	b.Add(model.SideBuy, 35, 1)
	b.Add(model.SideBuy, 38, 2)
	b.Add(model.SideSell, 44, 1)
	b.Add(model.SideSell, 41, 3)

	best, ok := b.Best(model.SideBuy)
	require.True(t, ok)
	assert.Equal(t, int64(38), best.Price, "best buy is the highest bid")

	best, ok = b.Best(model.SideSell)
	require.True(t, ok)
	assert.Equal(t, int64(41), best.Price, "best sell is the lowest ask")
	assert.Equal(t, int64(3), best.Quantity)
}

func TestOrderBookClear(t *testing.T) {
	b := NewOrderBook()
	b.Add(model.SideSell, 40, 2)
	b.Clear()
	assert.Empty(t, b.Entries())

	// Still usable after clearing.
	b.Add(model.SideBuy, 30, 1)
	assert.Len(t, b.Entries(), 1)
}
