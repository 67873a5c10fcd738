package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Execution is a single fill. Immutable once recorded.
type Execution struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	VenueID       string          `json:"venue_id"`
	Asset         string          `json:"asset"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	ExpectedPrice decimal.Decimal `json:"expected_price"`
	Fee           decimal.Decimal `json:"fee"`
	Rebate        decimal.Decimal `json:"rebate"`
	SlippageAbs   decimal.Decimal `json:"slippage_abs"`
	SlippageBps   float64         `json:"slippage_bps"`
	Latency       time.Duration   `json:"latency"`
	Timestamp     time.Time       `json:"timestamp"`
}

// SlippageFraction is |price-expected|/expected
func (e *Execution) SlippageFraction() float64 {
	return e.SlippageBps / 10000
}

// FillSlippage fills the slippage fields from price and expected price
func (e *Execution) FillSlippage() {
	if e.ExpectedPrice.IsZero() {
		return
	}
	e.SlippageAbs = e.Price.Sub(e.ExpectedPrice).Abs()
	e.SlippageBps = e.SlippageAbs.Div(e.ExpectedPrice).InexactFloat64() * 10000
}

// VenueAnalysis is the router's view of one candidate venue
type VenueAnalysis struct {
	VenueID            string          `json:"venue_id"`
	VenueName          string          `json:"venue_name"`
	DarkPool           bool            `json:"dark_pool"`
	EstimatedPrice     decimal.Decimal `json:"estimated_price"`
	EstimatedFees      decimal.Decimal `json:"estimated_fees"`
	EstimatedLatencyMs float64         `json:"estimated_latency_ms"`
	Liquidity          float64         `json:"liquidity"`
	ExpectedSlippage   float64         `json:"expected_slippage"`
	AssetSpecific      bool            `json:"asset_specific"`

	// RawScore is the unclamped score the router ranks by.
	RawScore float64 `json:"raw_score"`
	// Score is RawScore clamped to [0,100]. Liquidity and strategy bonuses
	// push most healthy venues past 100, so Score saturates and often cannot
	// tell candidates apart; compare RawScore instead.
	Score float64 `json:"score"`
}

// RoutingDecision records why a venue was chosen
type RoutingDecision struct {
	OrderID             string          `json:"order_id"`
	Timestamp           time.Time       `json:"timestamp"`
	Strategy            Strategy        `json:"strategy"`
	Analyses            []VenueAnalysis `json:"analyses"`
	SelectedVenue       string          `json:"selected_venue"`
	Justification       string          `json:"justification"`
	ExpectedSlippageBps float64         `json:"expected_slippage_bps"`
	Confidence          float64         `json:"confidence"`
}

// Selected returns the analysis of the chosen venue
func (d *RoutingDecision) Selected() (VenueAnalysis, bool) {
	for _, a := range d.Analyses {
		if a.VenueID == d.SelectedVenue {
			return a, true
		}
	}
	return VenueAnalysis{}, false
}

// Clone returns a copy with its own analyses slice
func (d *RoutingDecision) Clone() *RoutingDecision {
	c := *d
	c.Analyses = append([]VenueAnalysis(nil), d.Analyses...)
	return &c
}

// ExecutionQuality is the post-trade report for an order
type ExecutionQuality struct {
	OrderID        string          `json:"order_id"`
	Asset          string          `json:"asset"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	VWAP           decimal.Decimal `json:"vwap"`
	ExpectedPrice  decimal.Decimal `json:"expected_price"`
	SlippageBps    float64         `json:"slippage_bps"`
	TotalFees      decimal.Decimal `json:"total_fees"`
	FeeBps         float64         `json:"fee_bps"`
	Venues         []string        `json:"venues"`
	ExecutionTime  time.Duration   `json:"execution_time"`
	QualityScore   float64         `json:"quality_score"`
	VsAverage      float64         `json:"vs_average"`
	Final          bool            `json:"final"`
	Timestamp      time.Time       `json:"timestamp"`
}

// AssetPerformance holds learned statistics for one asset on one venue
type AssetPerformance struct {
	FillCount    int64   `json:"fill_count"`
	AvgSlippage  float64 `json:"avg_slippage"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// VenuePerformance holds learned statistics for one venue
type VenuePerformance struct {
	VenueID      string                       `json:"venue_id"`
	FillCount    int64                        `json:"fill_count"`
	FailureCount int64                        `json:"failure_count"`
	AvgSlippage  float64                      `json:"avg_slippage"`
	AvgLatencyMs float64                      `json:"avg_latency_ms"`
	SuccessRate  float64                      `json:"success_rate"`
	ByAsset      map[string]*AssetPerformance `json:"by_asset"`
	UpdatedAt    time.Time                    `json:"updated_at"`
}

// Clone deep-copies the per-asset map
func (p *VenuePerformance) Clone() *VenuePerformance {
	c := *p
	c.ByAsset = make(map[string]*AssetPerformance, len(p.ByAsset))
	for k, v := range p.ByAsset {
		a := *v
		c.ByAsset[k] = &a
	}
	return &c
}
