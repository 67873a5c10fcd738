package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType of an order
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
	OrderTypeIceberg      OrderType = "iceberg"
	OrderTypeTWAP         OrderType = "twap"
	OrderTypeVWAP         OrderType = "vwap"
)

// RequiresLimitPrice reports whether the type needs a limit price
func (t OrderType) RequiresLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// RequiresStopPrice reports whether the type needs a stop price
func (t OrderType) RequiresStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// Strategy selects how the router weighs venues
type Strategy string

const (
	StrategyBestPrice      Strategy = "best_price"
	StrategyFastFill       Strategy = "fast_fill"
	StrategyMinimizeImpact Strategy = "minimize_impact"
	StrategyTWAP           Strategy = "twap"
	StrategyVWAP           Strategy = "vwap"
	StrategyIceberg        Strategy = "iceberg"
	StrategyDarkPoolFirst  Strategy = "dark_pool_first"
	StrategySmart          Strategy = "smart"
	StrategyCustom         Strategy = "custom"
)

// Sliced strategies are executed as several child fills
func (s Strategy) Sliced() bool {
	return s == StrategyTWAP || s == StrategyVWAP || s == StrategyIceberg
}

// Urgency defines how quickly an order should be executed
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyNormal    Urgency = "normal"
	UrgencyPatient   Urgency = "patient"
)

// TimeInForce of an order
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
)

// Order is the aggregate root of the routing pipeline
type Order struct {
	ID               string          `json:"id"`
	ClientOrderID    string          `json:"client_order_id,omitempty"`
	Owner            string          `json:"owner,omitempty"`
	Asset            string          `json:"asset"`
	Side             Side            `json:"side"`
	Type             OrderType       `json:"type"`
	Quantity         decimal.Decimal `json:"quantity"`
	LimitPrice       decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice        decimal.Decimal `json:"stop_price,omitempty"`
	Strategy         Strategy        `json:"strategy"`
	Urgency          Urgency         `json:"urgency"`
	MaxSlippageBps   float64         `json:"max_slippage_bps,omitempty"`
	TimeInForce      TimeInForce     `json:"time_in_force"`
	ExpiresAt        time.Time       `json:"expires_at,omitempty"`
	PreferredVenues  []string        `json:"preferred_venues,omitempty"`
	ExcludedVenues   []string        `json:"excluded_venues,omitempty"`
	AllowDarkPools   bool            `json:"allow_dark_pools"`
	AllowPartialFill bool            `json:"allow_partial_fill"`
	Source           string          `json:"source,omitempty"`

	Status         OrderStatus     `json:"status"`
	RoutedVenue    string          `json:"routed_venue,omitempty"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal `json:"avg_fill_price"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	RejectReason   string          `json:"reject_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Clone returns a copy that shares no slices with o
func (o *Order) Clone() *Order {
	c := *o
	c.PreferredVenues = append([]string(nil), o.PreferredVenues...)
	c.ExcludedVenues = append([]string(nil), o.ExcludedVenues...)
	return &c
}

// RemainingQuantity is the unfilled part of the order
func (o *Order) RemainingQuantity() decimal.Decimal {
	r := o.Quantity.Sub(o.FilledQuantity)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Notional values the order at the given price
func (o *Order) Notional(price decimal.Decimal) decimal.Decimal {
	return o.Quantity.Mul(price)
}

// IsExpired reports whether the order's deadline has passed at now
func (o *Order) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// OrderSpec is what callers submit. Zero values and nil pointers take defaults.
type OrderSpec struct {
	ClientOrderID    string          `json:"client_order_id,omitempty"`
	Owner            string          `json:"owner,omitempty"`
	Asset            string          `json:"asset"`
	Side             Side            `json:"side"`
	Type             OrderType       `json:"type"`
	Quantity         decimal.Decimal `json:"quantity"`
	LimitPrice       decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice        decimal.Decimal `json:"stop_price,omitempty"`
	Strategy         Strategy        `json:"strategy,omitempty"`
	Urgency          Urgency         `json:"urgency,omitempty"`
	MaxSlippageBps   float64         `json:"max_slippage_bps,omitempty"`
	TimeInForce      TimeInForce     `json:"time_in_force,omitempty"`
	ExpiresAt        time.Time       `json:"expires_at,omitempty"`
	PreferredVenues  []string        `json:"preferred_venues,omitempty"`
	ExcludedVenues   []string        `json:"excluded_venues,omitempty"`
	AllowDarkPools   *bool           `json:"allow_dark_pools,omitempty"`
	AllowPartialFill *bool           `json:"allow_partial_fill,omitempty"`
	Source           string          `json:"source,omitempty"`
}

// Bool returns a pointer to b, for OrderSpec literals
func Bool(b bool) *bool {
	return &b
}

// EndOfDayUTC returns midnight UTC following t
func EndOfDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// NewOrder applies defaults to spec and builds a pending order
func NewOrder(id string, spec OrderSpec, now time.Time) *Order {
	o := &Order{
		ID:               id,
		ClientOrderID:    spec.ClientOrderID,
		Owner:            spec.Owner,
		Asset:            spec.Asset,
		Side:             spec.Side,
		Type:             spec.Type,
		Quantity:         spec.Quantity,
		LimitPrice:       spec.LimitPrice,
		StopPrice:        spec.StopPrice,
		Strategy:         spec.Strategy,
		Urgency:          spec.Urgency,
		MaxSlippageBps:   spec.MaxSlippageBps,
		TimeInForce:      spec.TimeInForce,
		ExpiresAt:        spec.ExpiresAt,
		PreferredVenues:  append([]string(nil), spec.PreferredVenues...),
		ExcludedVenues:   append([]string(nil), spec.ExcludedVenues...),
		AllowDarkPools:   true,
		AllowPartialFill: true,
		Source:           spec.Source,
		Status:           OrderStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if o.Type == "" {
		o.Type = OrderTypeMarket
	}
	if o.Strategy == "" {
		o.Strategy = StrategySmart
	}
	if o.Urgency == "" {
		o.Urgency = UrgencyNormal
	}
	if o.TimeInForce == "" {
		o.TimeInForce = TimeInForceDay
	}
	if spec.AllowDarkPools != nil {
		o.AllowDarkPools = *spec.AllowDarkPools
	}
	if spec.AllowPartialFill != nil {
		o.AllowPartialFill = *spec.AllowPartialFill
	}
	if o.TimeInForce == TimeInForceFOK {
		o.AllowPartialFill = false
	}
	if o.ExpiresAt.IsZero() && o.TimeInForce == TimeInForceDay {
		o.ExpiresAt = EndOfDayUTC(now)
	}
	return o
}
