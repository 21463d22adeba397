// Package store defines the persistence records and interfaces shared by the
// reconciler, the analyzer, and the Gorm-backed implementation.
package store

import (
	"errors"
	"fmt"
	"time"

	"platmarket/internal/store/model"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("store: record not found")

// PersistenceError wraps a failed write. The enclosing transaction has been
// rolled back by the time the caller sees it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Item is one tradable catalog entry.
type Item struct {
	ID   int64
	Name string
}

// OrderRecord is the reconciled view of one upstream order across snapshots.
type OrderRecord struct {
	ItemID           int64
	OwnerID          string
	OrderID          string
	InitialPrice     int64
	FinalPrice       int64
	Quantity         int64
	Side             model.MarketSide
	FirstSeen        time.Time
	LastSeen         time.Time
	Status           model.OrderStatus
	Visibility       time.Duration
	PriceChangeCount int64
	ListingType      model.ListingType
	RawListing       []byte
	CreatedAt        time.Time
	FulfilledAt      *time.Time
}

// PriceSample is one append-only price/quantity observation.
type PriceSample struct {
	ItemID     int64
	RecordedAt time.Time
	Price      int64
	Quantity   int64
	Side       model.MarketSide
}
