// Package reconcile merges order-book snapshots into the persisted order
// history, deriving lifecycle state for every distinct upstream order.
package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"platmarket/internal/gateway/market"
	"platmarket/internal/logger"
	"platmarket/internal/store"
	"platmarket/internal/store/model"
)

// DefaultStaleAfter is the inactivity window after which a listing is noise
// on ingest and an active order is dead on sweep.
const DefaultStaleAfter = 30 * 24 * time.Hour

// IngestResult summarizes one snapshot merge.
type IngestResult struct {
	Item     store.Item
	Inserted int
	Updated  int
	Skipped  int
}

// Reconciler turns repeated snapshots into a consistent order history.
// Merges are idempotent: replaying an unchanged snapshot changes nothing.
type Reconciler struct {
	store      store.OrderStore
	staleAfter time.Duration
	nowFn      func() time.Time
}

// New builds a reconciler over the given store. staleAfter <= 0 selects the
// 30-day default.
func New(st store.OrderStore, staleAfter time.Duration) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Reconciler{store: st, staleAfter: staleAfter, nowFn: time.Now}
}

// IngestSnapshot merges one order-book snapshot for item into history. All
// listing upserts commit in a single transaction; on any persistence error
// the whole batch rolls back and the caller may retry the snapshot.
func (r *Reconciler) IngestSnapshot(ctx context.Context, item store.Item, snap market.OrderBookSnapshot) (IngestResult, error) {
	res := IngestResult{Item: item}
	now := r.nowFn().UTC()
	staleCutoff := now.Add(-r.staleAfter)

	err := r.store.Transaction(ctx, func(tx store.OrderTx) error {
		for _, listing := range snap.Orders {
			lastSeen, ok := listing.LastSeen()
			if !ok || lastSeen.Before(staleCutoff) {
				// Unknown recency or long-dead relays are noise, not history.
				res.Skipped++
				continue
			}
			side, err := model.ParseSide(listing.Side)
			if err != nil {
				logger.Debugf("skipping order %s: %v", listing.OrderID, err)
				res.Skipped++
				continue
			}
			inserted, err := r.mergeListing(ctx, tx, item, listing, side, lastSeen)
			if err != nil {
				return err
			}
			if inserted {
				res.Inserted++
			} else {
				res.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return IngestResult{Item: item}, err
	}
	return res, nil
}

// mergeListing applies one listing inside the snapshot transaction. Returns
// true when a new order record was created.
func (r *Reconciler) mergeListing(ctx context.Context, tx store.OrderTx, item store.Item, listing market.OrderSnapshot, side model.MarketSide, lastSeen time.Time) (bool, error) {
	existing, found, err := tx.GetOrder(ctx, listing.OrderID)
	if err != nil {
		return false, err
	}
	raw, _ := json.Marshal(listing)

	if found {
		priceChanges := existing.PriceChangeCount
		if listing.Price != existing.FinalPrice {
			// Counts genuine value transitions only; an unchanged relay of
			// the same snapshot must not re-count.
			priceChanges++
		}
		visibility := lastSeen.Sub(existing.FirstSeen)
		if visibility < 0 {
			visibility = 0
		}
		err := tx.UpdateOrder(ctx, listing.OrderID, listing.Price, listing.Quantity, lastSeen, priceChanges, visibility, raw)
		return false, err
	}

	// Listing type is decided once, at creation, and never revised: relist
	// iff this owner already listed this item under another order_id.
	listingType := model.ListingNew
	prior, err := tx.HasPriorOrder(ctx, item.ID, listing.Owner.ID, listing.OrderID)
	if err != nil {
		return false, err
	}
	if prior {
		listingType = model.ListingRelist
	}
	rec := store.OrderRecord{
		ItemID:       item.ID,
		OwnerID:      listing.Owner.ID,
		OrderID:      listing.OrderID,
		InitialPrice: listing.Price,
		FinalPrice:   listing.Price,
		Quantity:     listing.Quantity,
		Side:         side,
		FirstSeen:    lastSeen,
		LastSeen:     lastSeen,
		Status:       model.StatusActive,
		ListingType:  listingType,
		RawListing:   raw,
	}
	if err := tx.InsertOrder(ctx, rec); err != nil {
		return false, err
	}
	// First sighting also lands in the price series; the series upsert
	// merges quantity if this (item, time, price, side) key already exists.
	sample := store.PriceSample{
		ItemID:     item.ID,
		RecordedAt: lastSeen,
		Price:      listing.Price,
		Quantity:   listing.Quantity,
		Side:       side,
	}
	if err := tx.AppendPrice(ctx, sample); err != nil {
		return false, err
	}
	return true, nil
}

// MarkStaleOrders sweeps active orders whose last sighting is older than the
// staleness window to dead. Safe on any schedule; running it twice in a row
// is a no-op the second time.
func (r *Reconciler) MarkStaleOrders(ctx context.Context) (int64, error) {
	cutoff := r.nowFn().UTC().Add(-r.staleAfter)
	n, err := r.store.MarkStaleOrders(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Infof("stale sweep: %d orders marked dead (cutoff=%s)", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}
