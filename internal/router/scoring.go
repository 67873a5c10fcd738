package router

import (
	"math"

	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
)

const (
	baseScore          = 100.0
	priceWeight        = 40.0
	feeWeight          = 20.0
	liquidityWeight    = 20.0
	strategyBonus      = 20.0
	impactDarkBonus    = 15.0
	darkPoolFirstBonus = 25.0
	slicedBonus        = 10.0
)

func latencyWeight(u types.Urgency) float64 {
	switch u {
	case types.UrgencyImmediate:
		return 20
	case types.UrgencyPatient:
		return 5
	default:
		return 10
	}
}

// latencyFactor maps latency to [0,1], saturating at one second
func latencyFactor(ms float64) float64 {
	return math.Min(ms/1000, 1)
}

// scoreAnalysis returns the unclamped score of a venue analysis
func scoreAnalysis(a *types.VenueAnalysis, o *types.Order, ref decimal.Decimal) float64 {
	refF := ref.InexactFloat64()
	notional := ref.Mul(o.Quantity).InexactFloat64()

	devPct := 0.0
	if refF > 0 {
		devPct = math.Abs(a.EstimatedPrice.InexactFloat64()-refF) / refF * 100
	}
	feePct := 0.0
	if notional > 0 {
		feePct = a.EstimatedFees.InexactFloat64() / notional * 100
	}
	lat := latencyFactor(a.EstimatedLatencyMs)

	score := baseScore
	score -= devPct * priceWeight
	score -= feePct * feeWeight
	score -= lat * latencyWeight(o.Urgency)
	score += a.Liquidity * liquidityWeight

	return score + strategyAdjustment(o, a, devPct, lat)
}

func strategyAdjustment(o *types.Order, a *types.VenueAnalysis, devPct, lat float64) float64 {
	strategy := o.Strategy
	if strategy == types.StrategySmart {
		switch o.Urgency {
		case types.UrgencyImmediate:
			strategy = types.StrategyFastFill
		case types.UrgencyPatient:
			strategy = types.StrategyBestPrice
		}
	}

	switch strategy {
	case types.StrategyFastFill:
		return (1 - lat) * strategyBonus
	case types.StrategyBestPrice:
		return (1 - math.Min(devPct, 1)) * strategyBonus
	case types.StrategyMinimizeImpact:
		if a.DarkPool {
			return impactDarkBonus
		}
	case types.StrategyDarkPoolFirst:
		if a.DarkPool {
			return darkPoolFirstBonus
		}
	case types.StrategyTWAP, types.StrategyVWAP, types.StrategyIceberg:
		return a.Liquidity * slicedBonus
	}
	return 0
}

func clampScore(s float64) float64 {
	return math.Max(0, math.Min(100, s))
}
