package router

import (
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
)

// StatsSource supplies learned per-asset venue statistics
type StatsSource interface {
	AssetStats(venueID, asset string) (types.AssetPerformance, bool)
}

// Analyzer estimates what executing an order on a venue would cost
type Analyzer struct {
	stats StatsSource
}

// NewAnalyzer creates an analyzer. stats may be nil.
func NewAnalyzer(stats StatsSource) *Analyzer {
	return &Analyzer{stats: stats}
}

// Analyze builds the venue analysis for the order at the reference price
func (a *Analyzer) Analyze(v types.Venue, o *types.Order, ref decimal.Decimal) types.VenueAnalysis {
	slippage, latency := v.AvgSlippage, v.AvgLatencyMs
	assetSpecific := false
	if a.stats != nil {
		if ap, ok := a.stats.AssetStats(v.ID, o.Asset); ok {
			slippage, latency = ap.AvgSlippage, ap.AvgLatencyMs
			assetSpecific = true
		}
	}

	adj := decimal.NewFromFloat(slippage)
	var est decimal.Decimal
	if o.Side == types.SideBuy {
		est = ref.Mul(decimal.NewFromInt(1).Add(adj))
	} else {
		est = ref.Mul(decimal.NewFromInt(1).Sub(adj))
	}

	feeRate := v.Fees.Maker
	if o.Type == types.OrderTypeMarket || o.Urgency == types.UrgencyImmediate {
		feeRate = v.Fees.Taker
	}

	return types.VenueAnalysis{
		VenueID:            v.ID,
		VenueName:          v.Name,
		DarkPool:           v.IsDarkPool(),
		EstimatedPrice:     est,
		EstimatedFees:      est.Mul(o.Quantity).Mul(feeRate),
		EstimatedLatencyMs: latency,
		Liquidity:          v.FillRate,
		ExpectedSlippage:   slippage,
		AssetSpecific:      assetSpecific,
	}
}
