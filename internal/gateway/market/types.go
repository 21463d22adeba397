package market

import (
	"strings"
	"time"
)

// CatalogEntry is one item as listed by the {base}/items endpoint.
type CatalogEntry struct {
	ID      string `json:"id"`
	Name    string `json:"item_name"`
	URLName string `json:"url_name"`
}

// SetMember is one component inside an item set, tagged by the upstream
// service (the tags decide whether the set is tradable for our purposes).
type SetMember struct {
	URLName string   `json:"url_name"`
	Tags    []string `json:"tags"`
}

// ItemDetail is the {base}/items/{name} payload subset the pipeline needs.
type ItemDetail struct {
	ID         string      `json:"id"`
	URLName    string      `json:"url_name"`
	ItemsInSet []SetMember `json:"items_in_set"`
}

// HasTag reports whether any set member carries the given tag.
func (d ItemDetail) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return false
	}
	for _, member := range d.ItemsInSet {
		for _, t := range member.Tags {
			if strings.EqualFold(t, tag) {
				return true
			}
		}
	}
	return false
}

// OwnerRef identifies the party behind a listing.
type OwnerRef struct {
	ID   string `json:"id"`
	Name string `json:"ingame_name"`
}

// OrderSnapshot is one listing as reported at fetch time. Ephemeral: the
// reconciler merges it into order history, it is never persisted as-is.
type OrderSnapshot struct {
	OrderID     string   `json:"id"`
	Price       int64    `json:"platinum"`
	Quantity    int64    `json:"quantity"`
	Side        string   `json:"order_type"`
	Visible     bool     `json:"visible"`
	Owner       OwnerRef `json:"user"`
	LastSeenRaw string   `json:"last_seen"`
}

// LastSeen parses the listing's recency timestamp. The second return is
// false when the upstream value is missing or malformed; such listings must
// be excluded from staleness-sensitive logic, not treated as fresh.
func (o OrderSnapshot) LastSeen() (time.Time, bool) {
	return ParseTimestamp(o.LastSeenRaw)
}

// OrderBookSnapshot is one poll's worth of listings for an item.
type OrderBookSnapshot struct {
	Item      string
	FetchedAt time.Time
	Orders    []OrderSnapshot
}

// timestampLayouts covers the upstream's ISO-8601 variants, strictest first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp leniently parses an ISO-8601-ish timestamp. Malformed input
// yields (zero, false) rather than an error.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
