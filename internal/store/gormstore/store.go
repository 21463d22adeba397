// Package gormstore implements the persistent store for the market pipeline
// using Gorm + SQLite.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	basestore "platmarket/internal/store"
	"platmarket/internal/store/model"
)

type (
	Item        = basestore.Item
	OrderRecord = basestore.OrderRecord
	PriceSample = basestore.PriceSample

	PersistenceError = basestore.PersistenceError
)

// ErrNotFound is re-exported for callers that only import this package.
var ErrNotFound = basestore.ErrNotFound

var (
	_ basestore.OrderStore  = (*Store)(nil)
	_ basestore.PriceSeries = (*Store)(nil)
	_ basestore.Catalog     = (*Store)(nil)
	_ basestore.Maintenance = (*Store)(nil)
)

// Store provides the order-history and price-series persistence used by the
// reconciler and the analyzer.
type Store struct {
	db *gorm.DB
}

// Open initializes the SQLite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: db path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := path
	if !strings.HasPrefix(path, "file:") {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.ItemModel{},
		&model.OrderHistoryModel{},
		&model.ItemPriceModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for concurrent reads, low contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// OpenMemory opens a uniquely named in-memory database, used by tests. The
// shared cache keeps both pooled connections on the same database; the
// unique name isolates concurrent tests from each other.
func OpenMemory() (*Store, error) {
	return Open(fmt.Sprintf("file:mem-%s?mode=memory&cache=shared", uuid.NewString()))
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn against a store bound to a single transaction. Any
// error rolls the whole batch back.
func (s *Store) Transaction(ctx context.Context, fn func(tx basestore.OrderTx) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// --------------------------- Items ------------------------------------

// UpsertItem inserts the item if unseen and returns its row either way.
func (s *Store) UpsertItem(ctx context.Context, name string) (Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Item{}, fmt.Errorf("store: item name cannot be empty")
	}
	row := model.ItemModel{Name: name}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return Item{}, &PersistenceError{Op: "upsert item", Err: err}
	}
	// DoNothing leaves row.ID zero when the item already existed.
	if row.ID == 0 {
		if err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error; err != nil {
			return Item{}, &PersistenceError{Op: "upsert item", Err: err}
		}
	}
	return Item{ID: row.ID, Name: row.Name}, nil
}

// ListItems returns every known item ordered by name.
func (s *Store) ListItems(ctx context.Context) ([]Item, error) {
	var rows []model.ItemModel
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, Item{ID: r.ID, Name: r.Name})
	}
	return items, nil
}

// GetItemByName looks one item up by its slug.
func (s *Store) GetItemByName(ctx context.Context, name string) (Item, error) {
	var row model.ItemModel
	err := s.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return Item{ID: row.ID, Name: row.Name}, nil
}

// --------------------------- Order history ----------------------------

// GetOrder fetches an order record by its upstream order_id.
func (s *Store) GetOrder(ctx context.Context, orderID string) (OrderRecord, bool, error) {
	var row model.OrderHistoryModel
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OrderRecord{}, false, nil
		}
		return OrderRecord{}, false, err
	}
	return orderModelToRecord(row), true, nil
}

// HasPriorOrder reports whether (owner, item) already has any order on file
// other than excludeOrderID. Drives the new/relist distinction.
func (s *Store) HasPriorOrder(ctx context.Context, itemID int64, ownerID, excludeOrderID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.OrderHistoryModel{}).
		Where("item_id = ? AND owner_id = ? AND order_id != ?", itemID, ownerID, excludeOrderID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertOrder creates a brand-new order record.
func (s *Store) InsertOrder(ctx context.Context, rec OrderRecord) error {
	row := newOrderModel(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return &PersistenceError{Op: "insert order", Err: err}
	}
	return nil
}

// UpdateOrder applies a later sighting of an existing order: final price,
// quantity, last_seen, the price-change counter, and the recomputed
// visibility duration.
func (s *Store) UpdateOrder(ctx context.Context, orderID string, finalPrice, quantity int64, lastSeen time.Time, priceChanges int64, visibility time.Duration, raw []byte) error {
	updates := map[string]any{
		"final_price":         finalPrice,
		"quantity":            quantity,
		"last_seen":           lastSeen.Unix(),
		"price_change_count":  priceChanges,
		"visibility_duration": int64(visibility.Seconds()),
	}
	if len(raw) > 0 {
		updates["raw_listing"] = raw
	}
	res := s.db.WithContext(ctx).Model(&model.OrderHistoryModel{}).
		Where("order_id = ?", orderID).
		Updates(updates)
	if res.Error != nil {
		return &PersistenceError{Op: "update order", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStaleOrders transitions active orders not seen since cutoff to dead.
// The read and write are a single conditional UPDATE, so a concurrent
// refresh of last_seen cannot race the sweep. Idempotent.
func (s *Store) MarkStaleOrders(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.OrderHistoryModel{}).
		Where("status = ? AND last_seen < ?", model.StatusActive, cutoff.Unix()).
		Update("status", model.StatusDead)
	if res.Error != nil {
		return 0, &PersistenceError{Op: "mark stale orders", Err: res.Error}
	}
	return res.RowsAffected, nil
}

// CountOrdersByStatus is used by the HTTP surface for a cheap health view.
func (s *Store) CountOrdersByStatus(ctx context.Context, status model.OrderStatus) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.OrderHistoryModel{}).
		Where("status = ?", status).Count(&n).Error
	return n, err
}

// --------------------------- Price series -----------------------------

// AppendPrice upserts one sample. On a key collision the quantities merge,
// so replaying a snapshot never duplicates rows.
func (s *Store) AppendPrice(ctx context.Context, p PriceSample) error {
	if !p.Side.Valid() {
		return fmt.Errorf("store: invalid side %q", p.Side)
	}
	row := model.ItemPriceModel{
		ItemID:         p.ItemID,
		RecordedAtUnix: p.RecordedAt.Unix(),
		Price:          p.Price,
		Quantity:       p.Quantity,
		Side:           p.Side,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "item_id"}, {Name: "recorded_at"}, {Name: "price"}, {Name: "side"},
			},
			DoUpdates: clause.Assignments(map[string]any{
				"quantity": gorm.Expr("item_prices.quantity + excluded.quantity"),
			}),
		}).
		Create(&row).Error
	if err != nil {
		return &PersistenceError{Op: "append price", Err: err}
	}
	return nil
}

// PricesSince returns every sample for the item recorded at or after since,
// oldest first. A zero since means the full series.
func (s *Store) PricesSince(ctx context.Context, itemID int64, since time.Time) ([]PriceSample, error) {
	query := s.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("recorded_at ASC, id ASC")
	if !since.IsZero() {
		query = query.Where("recorded_at >= ?", since.Unix())
	}
	var rows []model.ItemPriceModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]PriceSample, 0, len(rows))
	for _, r := range rows {
		out = append(out, PriceSample{
			ItemID:     r.ItemID,
			RecordedAt: time.Unix(r.RecordedAtUnix, 0).UTC(),
			Price:      r.Price,
			Quantity:   r.Quantity,
			Side:       r.Side,
		})
	}
	return out, nil
}

// RecentSellPrices returns sell-side prices recorded in the trailing window,
// the input population for trimmed-mean smoothing.
func (s *Store) RecentSellPrices(ctx context.Context, itemID int64, hours int) ([]int64, error) {
	if hours <= 0 {
		hours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	var prices []int64
	err := s.db.WithContext(ctx).Model(&model.ItemPriceModel{}).
		Where("item_id = ? AND side = ? AND recorded_at > ?", itemID, model.SideSell, cutoff.Unix()).
		Pluck("price", &prices).Error
	if err != nil {
		return nil, err
	}
	return prices, nil
}

// PurgeOldData drops fulfilled orders and price samples older than the
// retention window. Items are never deleted.
func (s *Store) PurgeOldData(ctx context.Context, months int) error {
	if months <= 0 {
		months = 12
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -months*30).Unix()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("fulfilled_at IS NOT NULL AND fulfilled_at < ?", cutoff).
			Delete(&model.OrderHistoryModel{}).Error; err != nil {
			return &PersistenceError{Op: "purge orders", Err: err}
		}
		if err := tx.
			Where("recorded_at < ?", cutoff).
			Delete(&model.ItemPriceModel{}).Error; err != nil {
			return &PersistenceError{Op: "purge prices", Err: err}
		}
		return nil
	})
}

// --------------------------- Conversions ------------------------------

func newOrderModel(rec OrderRecord) model.OrderHistoryModel {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Status == "" {
		rec.Status = model.StatusActive
	}
	if rec.ListingType == "" {
		rec.ListingType = model.ListingNew
	}
	row := model.OrderHistoryModel{
		ItemID:           rec.ItemID,
		OwnerID:          strings.TrimSpace(rec.OwnerID),
		OrderID:          strings.TrimSpace(rec.OrderID),
		InitialPrice:     rec.InitialPrice,
		FinalPrice:       rec.FinalPrice,
		Quantity:         rec.Quantity,
		Side:             rec.Side,
		FirstSeenUnix:    rec.FirstSeen.Unix(),
		LastSeenUnix:     rec.LastSeen.Unix(),
		Status:           rec.Status,
		VisibilitySecs:   int64(rec.Visibility.Seconds()),
		PriceChangeCount: rec.PriceChangeCount,
		ListingType:      rec.ListingType,
		RawListing:       rec.RawListing,
		CreatedAtUnix:    rec.CreatedAt.Unix(),
	}
	if rec.FulfilledAt != nil && !rec.FulfilledAt.IsZero() {
		ts := rec.FulfilledAt.Unix()
		row.FulfilledAtUnix = &ts
	}
	return row
}

func orderModelToRecord(row model.OrderHistoryModel) OrderRecord {
	rec := OrderRecord{
		ItemID:           row.ItemID,
		OwnerID:          row.OwnerID,
		OrderID:          row.OrderID,
		InitialPrice:     row.InitialPrice,
		FinalPrice:       row.FinalPrice,
		Quantity:         row.Quantity,
		Side:             row.Side,
		FirstSeen:        time.Unix(row.FirstSeenUnix, 0).UTC(),
		LastSeen:         time.Unix(row.LastSeenUnix, 0).UTC(),
		Status:           row.Status,
		Visibility:       time.Duration(row.VisibilitySecs) * time.Second,
		PriceChangeCount: row.PriceChangeCount,
		ListingType:      row.ListingType,
		RawListing:       row.RawListing,
		CreatedAt:        time.Unix(row.CreatedAtUnix, 0).UTC(),
	}
	if row.FulfilledAtUnix != nil && *row.FulfilledAtUnix > 0 {
		ts := time.Unix(*row.FulfilledAtUnix, 0).UTC()
		rec.FulfilledAt = &ts
	}
	return rec
}
