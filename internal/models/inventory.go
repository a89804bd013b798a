package models

import "strings"

// Zone is a named stock split within one inventory record.
type Zone string

const (
	ZoneInner Zone = "innen"
	ZoneOuter Zone = "aussen"
)

// ZoneFromLocation derives the storage zone from the free-text location of a
// transaction. An outer-storage indicator selects the outer zone, everything
// else defaults to the inner zone.
func ZoneFromLocation(location *string) Zone {
	if location == nil {
		return ZoneInner
	}
	loc := strings.ToLower(*location)
	if strings.Contains(loc, "außen") || strings.Contains(loc, "aussen") {
		return ZoneOuter
	}
	return ZoneInner
}

// InventoryRecord is one resolvable stock entry. The schema is owned by the
// backing store; the resolver and mutator only read and write through it.
type InventoryRecord struct {
	ID             int64   `json:"id" db:"id"`
	InternalSKU    string  `json:"internal_sku" db:"internal_sku"`
	ExternalSKU    string  `json:"external_sku" db:"external_sku"`
	Name           string  `json:"name" db:"name"`
	Manufacturer   string  `json:"manufacturer" db:"manufacturer"`
	StockInner     float64 `json:"stock_inner" db:"stock_inner"`
	StockOuter     float64 `json:"stock_outer" db:"stock_outer"`
	LocationInner  string  `json:"location_inner" db:"location_inner"`
	LocationOuter  string  `json:"location_outer" db:"location_outer"`
	Unit           string  `json:"unit" db:"unit"`
	AlertThreshold float64 `json:"alert_threshold" db:"alert_threshold"`
}

// ZoneStock returns the stock quantity of one zone.
func (r *InventoryRecord) ZoneStock(zone Zone) float64 {
	if zone == ZoneOuter {
		return r.StockOuter
	}
	return r.StockInner
}

// TotalStock returns the stock quantity across all zones.
func (r *InventoryRecord) TotalStock() float64 {
	return r.StockInner + r.StockOuter
}

// ZoneLocation returns the storage location label of one zone.
func (r *InventoryRecord) ZoneLocation(zone Zone) string {
	if zone == ZoneOuter {
		return r.LocationOuter
	}
	return r.LocationInner
}

// MatchMethod tags how a search term was resolved to an inventory record.
type MatchMethod string

const (
	MatchExactSKU         MatchMethod = "exact-sku"
	MatchPartialSKU       MatchMethod = "partial-sku"
	MatchExactName        MatchMethod = "exact-name"
	MatchFuzzyName        MatchMethod = "fuzzy-name"
	MatchSemanticFallback MatchMethod = "semantic-fallback"
)

// MatchResult is the outcome of item resolution. Found is false for the
// normal "not in inventory" business outcome; store read failures are
// reported as errors instead.
type MatchResult struct {
	Found  bool
	Record *InventoryRecord
	Method MatchMethod
	Score  float64
}

// StockAlert is emitted when a mutation leaves a zone at or below the alert
// threshold. Alerts are derived and never persisted by the core.
type StockAlert struct {
	ItemName  string
	SKU       string
	Stock     float64
	Threshold float64
	Unit      string
	Location  string
}
