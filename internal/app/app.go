// Package app wires the pipeline together and drives the
// fetch → reconcile → analyze cycle across the item catalog.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"platmarket/internal/analysis"
	"platmarket/internal/config"
	"platmarket/internal/gateway/market"
	"platmarket/internal/logger"
	"platmarket/internal/reconcile"
	"platmarket/internal/scheduler"
	"platmarket/internal/store"
	"platmarket/internal/store/gormstore"
	"platmarket/internal/store/model"
	"platmarket/internal/store/rollup"
)

// CycleReport summarizes one full pipeline cycle.
type CycleReport struct {
	CycleID    string        `json:"cycle_id"`
	Discovered int           `json:"discovered"`
	Items      int           `json:"items"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Swept      int64         `json:"swept"`
	Elapsed    time.Duration `json:"elapsed"`
}

// App owns the pipeline components and their lifecycles.
type App struct {
	cfg        *config.Config
	store      *gormstore.Store
	rollup     *rollup.Store
	client     *market.Client
	reconciler *reconcile.Reconciler
	analyzer   *analysis.Analyzer

	cycleMu sync.Mutex // one cycle at a time
}

// New builds the application from configuration.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	st, err := gormstore.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("app: opening store failed: %w", err)
	}
	rl, err := rollup.Open(cfg.Store.RollupDBPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: opening rollup store failed: %w", err)
	}
	fetcher := market.NewFetcher(market.FetcherOptions{
		RatePerSecond: cfg.Market.RatePerSecond,
		MaxRetries:    cfg.Market.MaxRetries,
		RetryDelay:    cfg.Market.RetryDelay(),
		Timeout:       cfg.Market.Timeout(),
		Platform:      cfg.Market.Platform,
	})
	client, err := market.NewClient(fetcher, cfg.Market.BaseURL)
	if err != nil {
		st.Close()
		rl.Close()
		return nil, err
	}
	staleAfter := time.Duration(cfg.Pipeline.StaleDays) * 24 * time.Hour
	return &App{
		cfg:        cfg,
		store:      st,
		rollup:     rl,
		client:     client,
		reconciler: reconcile.New(st, staleAfter),
		analyzer:   analysis.New(st),
	}, nil
}

// Close releases both databases.
func (a *App) Close() {
	if a == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		logger.Warnf("closing store: %v", err)
	}
	if err := a.rollup.Close(); err != nil {
		logger.Warnf("closing rollup store: %v", err)
	}
}

// RunFullCycle performs catalog discovery, per-item reconciliation, and the
// stale-order sweep. Per-item failures are counted and logged; one bad item
// never blocks the rest of the catalog.
func (a *App) RunFullCycle(ctx context.Context) (CycleReport, error) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	start := time.Now()
	report := CycleReport{CycleID: uuid.NewString()[:8]}
	logger.Infof("cycle %s: starting", report.CycleID)

	discovered, err := a.discoverItems(ctx)
	if err != nil {
		// Discovery failure is not fatal: already-known items still update.
		logger.Warnf("cycle %s: catalog discovery failed: %v", report.CycleID, err)
	}
	report.Discovered = discovered

	items, err := a.store.ListItems(ctx)
	if err != nil {
		return report, fmt.Errorf("listing items failed: %w", err)
	}
	report.Items = len(items)

	// Concurrency overlaps decode and persistence bookkeeping per item; the
	// fetcher's admission gate still serializes the network calls.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Pipeline.Concurrency)
	for _, item := range items {
		item := item
		g.Go(func() error {
			if err := a.processItem(gctx, item); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warnf("cycle %s: item %s failed: %v", report.CycleID, item.Name, err)
				mu.Lock()
				report.Failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			report.Succeeded++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	swept, err := a.reconciler.MarkStaleOrders(ctx)
	if err != nil {
		logger.Warnf("cycle %s: stale sweep failed: %v", report.CycleID, err)
	}
	report.Swept = swept
	report.Elapsed = time.Since(start)
	logger.Infof("cycle %s: done items=%d ok=%d failed=%d swept=%d elapsed=%s",
		report.CycleID, report.Items, report.Succeeded, report.Failed, report.Swept,
		report.Elapsed.Truncate(time.Millisecond))
	return report, nil
}

// discoverItems pulls the catalog, filters to candidate set slugs, confirms
// the tag on unknown ones, and records confirmed items. Returns the number
// of newly recorded items.
func (a *App) discoverItems(ctx context.Context) (int, error) {
	entries, err := a.client.FetchCatalog(ctx)
	if err != nil {
		return 0, err
	}
	keyword := strings.ToLower(a.cfg.Catalog.SetKeyword)
	var candidates []string
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.URLName), keyword) {
			candidates = append(candidates, e.URLName)
		}
	}
	added := 0
	for _, name := range candidates {
		if _, err := a.store.GetItemByName(ctx, name); err == nil {
			continue // already known, skip the detail fetch
		}
		detail, err := a.client.FetchItemDetail(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return added, err
			}
			logger.Warnf("discovery: detail fetch for %s failed: %v", name, err)
			continue
		}
		if !detail.HasTag(a.cfg.Catalog.ItemTag) {
			continue
		}
		if _, err := a.store.UpsertItem(ctx, name); err != nil {
			logger.Warnf("discovery: recording %s failed: %v", name, err)
			continue
		}
		logger.Infof("discovery: recorded new item %s", name)
		added++
	}
	return added, nil
}

func (a *App) processItem(ctx context.Context, item store.Item) error {
	snap, err := a.client.FetchOrderBook(ctx, item.Name)
	if err != nil {
		return err
	}
	res, err := a.reconciler.IngestSnapshot(ctx, item, snap)
	if err != nil {
		return err
	}
	logger.Debugf("item %s: inserted=%d updated=%d skipped=%d",
		item.Name, res.Inserted, res.Updated, res.Skipped)
	return nil
}

// Items lists the known catalog.
func (a *App) Items(ctx context.Context) ([]store.Item, error) {
	return a.store.ListItems(ctx)
}

// OrderBookView is the aggregated live order book for one item.
type OrderBookView struct {
	Item      string                  `json:"item"`
	FetchedAt time.Time               `json:"fetched_at"`
	Entries   []reconcile.BucketEntry `json:"entries"`
	BestBuy   *reconcile.BucketEntry  `json:"best_buy,omitempty"`
	BestSell  *reconcile.BucketEntry  `json:"best_sell,omitempty"`
}

// OrderBook fetches the item's current listings and aggregates them into
// per-price buckets. Unknown items yield store.ErrNotFound.
func (a *App) OrderBook(ctx context.Context, name string) (OrderBookView, error) {
	item, err := a.store.GetItemByName(ctx, name)
	if err != nil {
		return OrderBookView{}, err
	}
	snap, err := a.client.FetchOrderBook(ctx, item.Name)
	if err != nil {
		return OrderBookView{}, err
	}
	book := reconcile.NewOrderBook()
	for _, o := range snap.Orders {
		side, err := model.ParseSide(o.Side)
		if err != nil {
			continue
		}
		book.Add(side, o.Price, o.Quantity)
	}
	view := OrderBookView{Item: item.Name, FetchedAt: snap.FetchedAt, Entries: book.Entries()}
	if best, ok := book.Best(model.SideBuy); ok {
		view.BestBuy = &best
	}
	if best, ok := book.Best(model.SideSell); ok {
		view.BestSell = &best
	}
	return view, nil
}

// Analyze resolves the item by name and computes its market analysis. ok is
// false when the item is unknown or its window holds no samples.
func (a *App) Analyze(ctx context.Context, name, rangeStr string) (analysis.MarketAnalysis, bool, error) {
	rng, err := analysis.ParseTimeRange(rangeStr)
	if err != nil {
		return analysis.MarketAnalysis{}, false, err
	}
	item, err := a.store.GetItemByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return analysis.MarketAnalysis{}, false, nil
		}
		return analysis.MarketAnalysis{}, false, err
	}
	return a.analyzer.Analyze(ctx, item.ID, rng)
}

// LatestSummary exposes the freshest rollup row for an item, if any.
func (a *App) LatestSummary(ctx context.Context, name string) (rollup.StatRow, bool, error) {
	item, err := a.store.GetItemByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return rollup.StatRow{}, false, nil
		}
		return rollup.StatRow{}, false, err
	}
	return a.rollup.LatestSummary(ctx, item.ID)
}

// ActiveOrders reports the count of active order records.
func (a *App) ActiveOrders(ctx context.Context) (int64, error) {
	return a.store.CountOrdersByStatus(ctx, model.StatusActive)
}

// RebuildRollup refreshes price_statistics for the whole catalog.
func (a *App) RebuildRollup(ctx context.Context) error {
	return rollup.RebuildAll(ctx, a.rollup, a.store, a.store)
}

// Run starts the periodic loops: full cycles at the configured cadence,
// plus a daily maintenance pass (rollup rebuild + retention purge). Blocks
// until ctx is done.
func (a *App) Run(ctx context.Context) error {
	interval, ok := scheduler.ParseInterval(a.cfg.Pipeline.CycleInterval)
	if !ok {
		return fmt.Errorf("app: invalid cycle interval %q", a.cfg.Pipeline.CycleInterval)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner := scheduler.NewIntervalRunner(gctx, "cycle", interval)
		runner.RunImmediately = true
		runner.Start(func(c context.Context) {
			if _, err := a.RunFullCycle(c); err != nil && c.Err() == nil {
				logger.Errorf("cycle failed: %v", err)
			}
		})
		return nil
	})
	g.Go(func() error {
		runner := scheduler.NewIntervalRunner(gctx, "maintenance", 24*time.Hour)
		runner.Start(func(c context.Context) {
			if err := a.RebuildRollup(c); err != nil {
				logger.Warnf("rollup rebuild: %v", err)
			}
			if err := a.store.PurgeOldData(c, a.cfg.Pipeline.PurgeMonths); err != nil {
				logger.Warnf("retention purge: %v", err)
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Pipeline.PurgeMonths*30).Format("2006-01-02")
			if _, err := a.rollup.PurgeBefore(c, cutoff); err != nil {
				logger.Warnf("rollup purge: %v", err)
			}
		})
		return nil
	})
	return g.Wait()
}
