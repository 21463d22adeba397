// Package market talks to the upstream catalog service: a throttled fetch
// layer plus a thin typed client over the three snapshot endpoints.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"platmarket/internal/logger"
)

// ParseError marks a payload whose shape did not match the endpoint's
// contract. Callers skip the record; it never aborts a batch.
type ParseError struct {
	Endpoint string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("market: parsing %s payload failed: %v", e.Endpoint, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProgressFunc receives fractional completion in percent after each item of
// a batch fetch.
type ProgressFunc func(pct float64)

// Client decodes catalog-service payloads into typed snapshots. All
// requests funnel through the shared Fetcher, so batch calls stay inside
// the global rate limit.
type Client struct {
	fetcher *Fetcher
	baseURL string
	nowFn   func() time.Time
}

// NewClient wires a client over the given fetcher.
func NewClient(fetcher *Fetcher, baseURL string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("market: base URL cannot be empty")
	}
	if fetcher == nil {
		return nil, errors.New("market: fetcher is required")
	}
	return &Client{fetcher: fetcher, baseURL: baseURL, nowFn: time.Now}, nil
}

// payload pulls the `payload` envelope field out of the response body.
func payload(endpoint string, body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &ParseError{Endpoint: endpoint, Err: errors.New("response is not valid JSON")}
	}
	p := gjson.GetBytes(body, "payload")
	if !p.Exists() {
		return gjson.Result{}, &ParseError{Endpoint: endpoint, Err: errors.New("missing payload field")}
	}
	return p, nil
}

// FetchCatalog returns the full item catalog.
func (c *Client) FetchCatalog(ctx context.Context) ([]CatalogEntry, error) {
	url := c.baseURL + "/items"
	body, err := c.fetcher.Request(ctx, url)
	if err != nil {
		return nil, err
	}
	p, err := payload("/items", body)
	if err != nil {
		return nil, err
	}
	var entries []CatalogEntry
	if err := json.Unmarshal([]byte(p.Get("items").Raw), &entries); err != nil {
		return nil, &ParseError{Endpoint: "/items", Err: err}
	}
	return entries, nil
}

// FetchItemDetail returns set membership and tags for one item.
func (c *Client) FetchItemDetail(ctx context.Context, name string) (ItemDetail, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ItemDetail{}, errors.New("market: item name cannot be empty")
	}
	url := fmt.Sprintf("%s/items/%s", c.baseURL, name)
	body, err := c.fetcher.Request(ctx, url)
	if err != nil {
		return ItemDetail{}, err
	}
	p, err := payload("/items/{name}", body)
	if err != nil {
		return ItemDetail{}, err
	}
	var detail ItemDetail
	if err := json.Unmarshal([]byte(p.Get("item").Raw), &detail); err != nil {
		return ItemDetail{}, &ParseError{Endpoint: "/items/{name}", Err: err}
	}
	return detail, nil
}

// FetchOrderBook returns the current listings for one item.
func (c *Client) FetchOrderBook(ctx context.Context, name string) (OrderBookSnapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return OrderBookSnapshot{}, errors.New("market: item name cannot be empty")
	}
	url := fmt.Sprintf("%s/items/%s/orders", c.baseURL, name)
	body, err := c.fetcher.Request(ctx, url)
	if err != nil {
		return OrderBookSnapshot{}, err
	}
	p, err := payload("/items/{name}/orders", body)
	if err != nil {
		return OrderBookSnapshot{}, err
	}
	var orders []OrderSnapshot
	if err := json.Unmarshal([]byte(p.Get("orders").Raw), &orders); err != nil {
		return OrderBookSnapshot{}, &ParseError{Endpoint: "/items/{name}/orders", Err: err}
	}
	return OrderBookSnapshot{Item: name, FetchedAt: c.nowFn().UTC(), Orders: orders}, nil
}

// FetchOrderBookBatch fetches order books for each name sequentially (the
// fetcher's gate serializes requests anyway), reporting progress after every
// completion. Per-item failures are collected, not fatal.
func (c *Client) FetchOrderBookBatch(ctx context.Context, names []string, progress ProgressFunc) (map[string]OrderBookSnapshot, error) {
	results := make(map[string]OrderBookSnapshot, len(names))
	var errs []error
	total := len(names)
	for i, name := range names {
		snap, err := c.FetchOrderBook(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return results, err
			}
			logger.Warnf("order book fetch failed for %s: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		} else {
			results[name] = snap
		}
		if progress != nil && total > 0 {
			progress(float64(i+1) / float64(total) * 100)
		}
	}
	return results, errors.Join(errs...)
}

// FetchItemDetailBatch mirrors FetchOrderBookBatch for item details.
func (c *Client) FetchItemDetailBatch(ctx context.Context, names []string, progress ProgressFunc) (map[string]ItemDetail, error) {
	results := make(map[string]ItemDetail, len(names))
	var errs []error
	total := len(names)
	for i, name := range names {
		detail, err := c.FetchItemDetail(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return results, err
			}
			logger.Warnf("item detail fetch failed for %s: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		} else {
			results[name] = detail
		}
		if progress != nil && total > 0 {
			progress(float64(i+1) / float64(total) * 100)
		}
	}
	return results, errors.Join(errs...)
}
