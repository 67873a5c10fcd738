package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// VenueKind classifies an execution venue
type VenueKind string

const (
	VenueKindExchange VenueKind = "exchange"
	VenueKindDarkPool VenueKind = "dark_pool"
	VenueKindInternal VenueKind = "internal"
	VenueKindOTC      VenueKind = "otc"
	VenueKindDEX      VenueKind = "dex"
	VenueKindCEX      VenueKind = "cex"
)

// VenueStatus is the connectivity state reported for a venue
type VenueStatus string

const (
	VenueOnline   VenueStatus = "online"
	VenueDegraded VenueStatus = "degraded"
	VenueOffline  VenueStatus = "offline"
)

// Valid reports whether s is a known status.
func (s VenueStatus) Valid() bool {
	switch s {
	case VenueOnline, VenueDegraded, VenueOffline:
		return true
	}
	return false
}

// AnyAsset in a venue's supported asset list matches every symbol.
const AnyAsset = "*"

// Fees holds maker/taker fees as fractions of notional (0.001 = 0.1%)
type Fees struct {
	Maker decimal.Decimal `json:"maker" yaml:"maker"`
	Taker decimal.Decimal `json:"taker" yaml:"taker"`
}

// Venue is a place an order can be executed
type Venue struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Kind                VenueKind       `json:"kind"`
	SupportedAssets     []string        `json:"supported_assets"`
	SupportedOrderTypes []OrderType     `json:"supported_order_types,omitempty"`
	AvgLatencyMs        float64         `json:"avg_latency_ms"`
	FillRate            float64         `json:"fill_rate"`    // 0..1
	AvgSlippage         float64         `json:"avg_slippage"` // fraction, 0.0005 = 5 bps
	Uptime              float64         `json:"uptime"`       // 0..1
	Fees                Fees            `json:"fees"`
	MinOrderSize        decimal.Decimal `json:"min_order_size"`
	Status              VenueStatus     `json:"status"`
	LastUpdate          time.Time       `json:"last_update"`
}

// IsDarkPool reports whether the venue hides its order book
func (v *Venue) IsDarkPool() bool {
	return v.Kind == VenueKindDarkPool
}

// SupportsAsset matches the asset case-insensitively against the supported set.
func (v *Venue) SupportsAsset(asset string) bool {
	for _, a := range v.SupportedAssets {
		if a == AnyAsset || strings.EqualFold(a, asset) {
			return true
		}
	}
	return false
}

// SupportsOrderType returns true when the venue has no explicit list.
func (v *Venue) SupportsOrderType(t OrderType) bool {
	if len(v.SupportedOrderTypes) == 0 {
		return true
	}
	for _, st := range v.SupportedOrderTypes {
		if st == t {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out to readers
func (v Venue) Clone() Venue {
	c := v
	c.SupportedAssets = append([]string(nil), v.SupportedAssets...)
	c.SupportedOrderTypes = append([]OrderType(nil), v.SupportedOrderTypes...)
	return c
}
