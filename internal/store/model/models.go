// Package model holds the persisted schema for the market pipeline: the item
// catalog, the reconciled order history, and the append-only price series.
package model

import (
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// MarketSide is the side of a listing. Closed set: buy, sell.
type MarketSide string

const (
	SideBuy  MarketSide = "buy"
	SideSell MarketSide = "sell"
)

// ParseSide rejects anything outside the closed set rather than letting an
// unrecognized upstream value through as a bare string.
func ParseSide(raw string) (MarketSide, error) {
	switch MarketSide(strings.ToLower(strings.TrimSpace(raw))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown market side %q", raw)
	}
}

func (s MarketSide) Valid() bool { return s == SideBuy || s == SideSell }

// OrderStatus is the lifecycle state of an order record.
// Fulfilled is reserved by the schema; no pipeline path sets it.
type OrderStatus string

const (
	StatusActive    OrderStatus = "active"
	StatusFulfilled OrderStatus = "fulfilled"
	StatusDead      OrderStatus = "dead"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusActive, StatusFulfilled, StatusDead:
		return true
	}
	return false
}

// ListingType records whether an order was the owner's first listing of an
// item or a relist. Computed once at insert, never revised.
type ListingType string

const (
	ListingNew    ListingType = "new"
	ListingRelist ListingType = "relist"
)

func (t ListingType) Valid() bool { return t == ListingNew || t == ListingRelist }

// ItemModel is one tradable catalog item. Rows are created on discovery and
// never deleted.
type ItemModel struct {
	ID   int64  `gorm:"column:id;primaryKey"`
	Name string `gorm:"column:name;uniqueIndex;not null"`
}

func (ItemModel) TableName() string { return "known_items" }

// OrderHistoryModel is one row per distinct upstream order_id. Timestamps are
// stored as Unix seconds; VisibilitySecs is last_seen - first_seen.
type OrderHistoryModel struct {
	ID               int64          `gorm:"column:id;primaryKey"`
	ItemID           int64          `gorm:"column:item_id;index;index:idx_owner_item,priority:2"`
	OwnerID          string         `gorm:"column:owner_id;index:idx_owner_item,priority:1"`
	OrderID          string         `gorm:"column:order_id;uniqueIndex"`
	InitialPrice     int64          `gorm:"column:initial_price"`
	FinalPrice       int64          `gorm:"column:final_price"`
	Quantity         int64          `gorm:"column:quantity"`
	Side             MarketSide     `gorm:"column:side"`
	FirstSeenUnix    int64          `gorm:"column:first_seen"`
	LastSeenUnix     int64          `gorm:"column:last_seen;index"`
	Status           OrderStatus    `gorm:"column:status;default:active;index"`
	VisibilitySecs   int64          `gorm:"column:visibility_duration"`
	PriceChangeCount int64          `gorm:"column:price_change_count;default:0"`
	ListingType      ListingType    `gorm:"column:listing_type;default:new"`
	RawListing       datatypes.JSON `gorm:"column:raw_listing;type:TEXT"`
	CreatedAtUnix    int64          `gorm:"column:created_at"`
	FulfilledAtUnix  *int64         `gorm:"column:fulfilled_at"`
}

func (OrderHistoryModel) TableName() string { return "order_history" }

// ItemPriceModel is one deduplicated price sample. Duplicate inserts on the
// unique key merge quantity instead of erroring.
type ItemPriceModel struct {
	ID             int64      `gorm:"column:id;primaryKey"`
	ItemID         int64      `gorm:"column:item_id;uniqueIndex:idx_item_price_sample,priority:1"`
	RecordedAtUnix int64      `gorm:"column:recorded_at;uniqueIndex:idx_item_price_sample,priority:2"`
	Price          int64      `gorm:"column:price;uniqueIndex:idx_item_price_sample,priority:3"`
	Quantity       int64      `gorm:"column:quantity"`
	Side           MarketSide `gorm:"column:side;uniqueIndex:idx_item_price_sample,priority:4"`
}

func (ItemPriceModel) TableName() string { return "item_prices" }
