package store

import (
	"context"
	"time"

	"platmarket/internal/store/model"
)

// OrderTx is the mutation surface available inside one snapshot transaction.
type OrderTx interface {
	GetOrder(ctx context.Context, orderID string) (OrderRecord, bool, error)
	HasPriorOrder(ctx context.Context, itemID int64, ownerID, excludeOrderID string) (bool, error)
	InsertOrder(ctx context.Context, rec OrderRecord) error
	UpdateOrder(ctx context.Context, orderID string, finalPrice, quantity int64, lastSeen time.Time, priceChanges int64, visibility time.Duration, raw []byte) error
	AppendPrice(ctx context.Context, p PriceSample) error
}

// OrderStore is what the reconciler needs from persistence: transactional
// snapshot merges plus the stale sweep.
type OrderStore interface {
	OrderTx
	Transaction(ctx context.Context, fn func(tx OrderTx) error) error
	MarkStaleOrders(ctx context.Context, cutoff time.Time) (int64, error)
}

// PriceSeries is what the analyzer reads.
type PriceSeries interface {
	PricesSince(ctx context.Context, itemID int64, since time.Time) ([]PriceSample, error)
	RecentSellPrices(ctx context.Context, itemID int64, hours int) ([]int64, error)
}

// Catalog manages the known-item table.
type Catalog interface {
	UpsertItem(ctx context.Context, name string) (Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	GetItemByName(ctx context.Context, name string) (Item, error)
}

// Maintenance groups the housekeeping operations the orchestrator schedules.
type Maintenance interface {
	PurgeOldData(ctx context.Context, months int) error
	CountOrdersByStatus(ctx context.Context, status model.OrderStatus) (int64, error)
}
