package router

import (
	"errors"
	"testing"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticVenues []types.Venue

func (s staticVenues) AvailableVenues(asset string) []types.Venue {
	var out []types.Venue
	for _, v := range s {
		if v.Status == types.VenueOnline && v.SupportsAsset(asset) {
			out = append(out, v.Clone())
		}
	}
	return out
}

func venue(id string, latencyMs, slippage float64) types.Venue {
	return types.Venue{
		ID:              id,
		Name:            id,
		Kind:            types.VenueKindExchange,
		SupportedAssets: []string{"X"},
		AvgLatencyMs:    latencyMs,
		FillRate:        0.9,
		AvgSlippage:     slippage,
		Uptime:          0.99,
		Fees: types.Fees{
			Maker: decimal.NewFromFloat(0.001),
			Taker: decimal.NewFromFloat(0.001),
		},
		Status: types.VenueOnline,
	}
}

func order(strategy types.Strategy) *types.Order {
	return types.NewOrder("order-1", types.OrderSpec{
		Asset:    "X",
		Side:     types.SideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(100),
		Strategy: strategy,
	}, time.Now())
}

var ref = decimal.NewFromInt(100)

func TestRouter_FastFillPrefersLatency(t *testing.T) {
	r := NewRouter(staticVenues{
		venue("A", 10, 0.0005),
		venue("B", 100, 0.0002),
	}, nil, nil, nil)

	d, err := r.Route(order(types.StrategyFastFill), ref)
	require.NoError(t, err)
	assert.Equal(t, "A", d.SelectedVenue)
	require.Len(t, d.Analyses, 2)
	assert.InDelta(t, 133.699, d.Analyses[0].RawScore, 1e-6)
	assert.InDelta(t, 132.1996, d.Analyses[1].RawScore, 1e-6)
	assert.InDelta(t, 5.0, d.ExpectedSlippageBps, 1e-9)
}

func TestRouter_BestPricePrefersSlippage(t *testing.T) {
	r := NewRouter(staticVenues{
		venue("A", 50, 0.0005),
		venue("B", 50, 0.0001),
	}, nil, nil, nil)

	d, err := r.Route(order(types.StrategyBestPrice), ref)
	require.NoError(t, err)
	assert.Equal(t, "B", d.SelectedVenue)
}

func TestRouter_ScoresAreClamped(t *testing.T) {
	r := NewRouter(staticVenues{venue("A", 10, 0.0005)}, nil, nil, nil)

	d, err := r.Route(order(types.StrategyFastFill), ref)
	require.NoError(t, err)
	for _, a := range d.Analyses {
		assert.GreaterOrEqual(t, a.Score, 0.0)
		assert.LessOrEqual(t, a.Score, 100.0)
	}
	assert.Greater(t, d.Analyses[0].RawScore, 100.0)
}

func TestRouter_NoEligibleVenue(t *testing.T) {
	r := NewRouter(staticVenues{venue("A", 10, 0.0005)}, nil, nil, nil)

	o := order(types.StrategySmart)
	o.Asset = "Z"
	_, err := r.Route(o, ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNoEligibleVenue))

	_, ok := r.Decision(o.ID)
	assert.False(t, ok)
}

func TestRouter_Filters(t *testing.T) {
	dark := venue("DARK", 5, 0)
	dark.Kind = types.VenueKindDarkPool
	limitOnly := venue("LIMITONLY", 5, 0)
	limitOnly.SupportedOrderTypes = []types.OrderType{types.OrderTypeLimit}
	big := venue("BIG", 5, 0)
	big.MinOrderSize = decimal.NewFromInt(1000)

	venues := staticVenues{venue("A", 50, 0.0005), venue("B", 60, 0.0005), dark, limitOnly, big}

	tests := []struct {
		name   string
		mutate func(o *types.Order)
		want   []string
	}{
		{"all eligible", func(o *types.Order) {}, []string{"A", "B", "DARK"}},
		{"preferred", func(o *types.Order) { o.PreferredVenues = []string{"B", "NOPE"} }, []string{"B"}},
		{"excluded", func(o *types.Order) { o.ExcludedVenues = []string{"A", "DARK"} }, []string{"B"}},
		{"no dark pools", func(o *types.Order) { o.AllowDarkPools = false }, []string{"A", "B"}},
		{"large order", func(o *types.Order) { o.Quantity = decimal.NewFromInt(5000) }, []string{"A", "B", "BIG", "DARK"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(venues, nil, nil, nil)
			o := order(types.StrategyCustom)
			tt.mutate(o)

			d, err := r.Route(o, ref)
			require.NoError(t, err)
			var got []string
			for _, a := range d.Analyses {
				got = append(got, a.VenueID)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestRouter_PreferredAndExcludedEmpty(t *testing.T) {
	r := NewRouter(staticVenues{venue("A", 10, 0)}, nil, nil, nil)
	o := order(types.StrategySmart)
	o.PreferredVenues = []string{"A"}
	o.ExcludedVenues = []string{"A"}

	_, err := r.Route(o, ref)
	assert.True(t, errors.Is(err, types.ErrNoEligibleVenue))
}

func TestRouter_TieBreaks(t *testing.T) {
	// identical venues except for ID tie on score and latency
	r := NewRouter(staticVenues{venue("B", 50, 0.0005), venue("A", 50, 0.0005)}, nil, nil, nil)
	d, err := r.Route(order(types.StrategyCustom), ref)
	require.NoError(t, err)
	assert.Equal(t, "A", d.SelectedVenue)
}

func TestRouter_TieBreaksOnLatency(t *testing.T) {
	// latency stops costing score past one second, so both venues score alike
	r := NewRouter(staticVenues{venue("A", 1500, 0.0005), venue("B", 1200, 0.0005)}, nil, nil, nil)
	d, err := r.Route(order(types.StrategySmart), ref)
	require.NoError(t, err)
	require.Len(t, d.Analyses, 2)
	assert.InDelta(t, d.Analyses[0].RawScore, d.Analyses[1].RawScore, scoreEpsilon)
	assert.Equal(t, "B", d.SelectedVenue)
	assert.Equal(t, "A", d.Analyses[1].VenueID)
}

func TestRouter_ScoreSaturatesWhileRawScoreRanks(t *testing.T) {
	r := NewRouter(staticVenues{venue("A", 10, 0.0005), venue("B", 100, 0.0002)}, nil, nil, nil)
	d, err := r.Route(order(types.StrategySmart), ref)
	require.NoError(t, err)
	require.Len(t, d.Analyses, 2)

	for _, a := range d.Analyses {
		assert.Greater(t, a.RawScore, 100.0, a.VenueID)
		assert.Equal(t, 100.0, a.Score, a.VenueID)
	}
	assert.Greater(t, d.Analyses[0].RawScore, d.Analyses[1].RawScore)
}

func TestRankAnalyses(t *testing.T) {
	analyses := []types.VenueAnalysis{
		{VenueID: "A", RawScore: 90, EstimatedLatencyMs: 40},
		{VenueID: "C", RawScore: 90, EstimatedLatencyMs: 20},
		{VenueID: "B", RawScore: 90, EstimatedLatencyMs: 20},
		{VenueID: "D", RawScore: 95, EstimatedLatencyMs: 90},
	}
	rankAnalyses(analyses)

	var ids []string
	for _, a := range analyses {
		ids = append(ids, a.VenueID)
	}
	assert.Equal(t, []string{"D", "B", "C", "A"}, ids)
}

func TestRouter_DarkPoolFirst(t *testing.T) {
	dark := venue("DARK", 200, 0.0005)
	dark.Kind = types.VenueKindDarkPool
	r := NewRouter(staticVenues{venue("LIT", 50, 0.0005), dark}, nil, nil, nil)

	d, err := r.Route(order(types.StrategyDarkPoolFirst), ref)
	require.NoError(t, err)
	assert.Equal(t, "DARK", d.SelectedVenue)
	assert.Contains(t, d.Justification, "dark pool")

	o := order(types.StrategyDarkPoolFirst)
	o.AllowDarkPools = false
	d, err = r.Route(o, ref)
	require.NoError(t, err)
	assert.Equal(t, "LIT", d.SelectedVenue)
}

func TestRouter_SmartFollowsUrgency(t *testing.T) {
	venues := staticVenues{
		venue("FAST", 10, 0.0008),
		venue("CHEAP", 400, 0.0001),
	}
	r := NewRouter(venues, nil, nil, nil)

	o := order(types.StrategySmart)
	o.Urgency = types.UrgencyImmediate
	d, err := r.Route(o, ref)
	require.NoError(t, err)
	assert.Equal(t, "FAST", d.SelectedVenue)

	o = order(types.StrategySmart)
	o.ID = "order-2"
	o.Urgency = types.UrgencyPatient
	d, err = r.Route(o, ref)
	require.NoError(t, err)
	assert.Equal(t, "CHEAP", d.SelectedVenue)
}

func TestRouter_DecisionStored(t *testing.T) {
	r := NewRouter(staticVenues{venue("A", 10, 0.0005)}, nil, nil, nil)
	o := order(types.StrategySmart)

	d, err := r.Route(o, ref)
	require.NoError(t, err)

	stored, ok := r.Decision(o.ID)
	require.True(t, ok)
	assert.Equal(t, d.SelectedVenue, stored.SelectedVenue)
	assert.NotEmpty(t, stored.Justification)

	_, err = r.Route(o, ref)
	require.NoError(t, err)
	assert.Len(t, r.Decisions(o.ID), 2)
}

func TestRouter_Confidence(t *testing.T) {
	learner := NewLearner(0, nil)
	a := venue("A", 10, 0.0005)
	r := NewRouter(staticVenues{a}, learner, nil, nil)

	d, err := r.Route(order(types.StrategySmart), ref)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, d.Confidence, 1e-9)

	for i := 0; i < DefaultMinSamples; i++ {
		learner.Record(a, fill("A", "X", 5, 10*time.Millisecond))
	}
	d, err = r.Route(order(types.StrategySmart), ref)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d.Confidence, 1e-9)

	r = NewRouter(staticVenues{venue("A", 50, 0.0005), venue("B", 50, 0.0005)}, nil, nil, nil)
	d, err = r.Route(order(types.StrategyCustom), ref)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, d.Confidence, 1e-9)
}

func TestRouter_LearnedStatsShiftSelection(t *testing.T) {
	learner := NewLearner(0, nil)
	a := venue("A", 50, 0.0001)
	b := venue("B", 50, 0.0004)
	r := NewRouter(staticVenues{a, b}, learner, nil, nil)

	d, err := r.Route(order(types.StrategyBestPrice), ref)
	require.NoError(t, err)
	require.Equal(t, "A", d.SelectedVenue)

	// A turns out to slip 30 bps on X in practice
	learner.Record(a, fill("A", "X", 30, 50*time.Millisecond))

	d, err = r.Route(order(types.StrategyBestPrice), ref)
	require.NoError(t, err)
	assert.Equal(t, "B", d.SelectedVenue)
	for _, an := range d.Analyses {
		if an.VenueID == "A" {
			assert.True(t, an.AssetSpecific)
			assert.InDelta(t, 0.003, an.ExpectedSlippage, 1e-12)
		}
	}
}

func TestAnalyzer_PriceAndFees(t *testing.T) {
	v := venue("A", 10, 0.001)
	v.Fees = types.Fees{Maker: decimal.NewFromFloat(0.001), Taker: decimal.NewFromFloat(0.002)}
	an := NewAnalyzer(nil)

	buy := order(types.StrategySmart)
	a := an.Analyze(v, buy, ref)
	assert.True(t, a.EstimatedPrice.Equal(decimal.NewFromFloat(100.1)))
	// market order pays taker: 100.1 * 100 * 0.002
	assert.True(t, a.EstimatedFees.Equal(decimal.NewFromFloat(20.02)), a.EstimatedFees.String())
	assert.Equal(t, 0.9, a.Liquidity)
	assert.False(t, a.AssetSpecific)

	sell := order(types.StrategySmart)
	sell.Side = types.SideSell
	sell.Type = types.OrderTypeLimit
	sell.LimitPrice = ref
	a = an.Analyze(v, sell, ref)
	assert.True(t, a.EstimatedPrice.Equal(decimal.NewFromFloat(99.9)))
	// resting limit pays maker: 99.9 * 100 * 0.001
	assert.True(t, a.EstimatedFees.Equal(decimal.NewFromFloat(9.99)), a.EstimatedFees.String())

	sell.Urgency = types.UrgencyImmediate
	a = an.Analyze(v, sell, ref)
	assert.True(t, a.EstimatedFees.Equal(decimal.NewFromFloat(19.98)), a.EstimatedFees.String())
}

func TestPriceBook(t *testing.T) {
	pb := NewPriceBook(0)
	defer pb.Close()

	pb.Set("btc-usd", decimal.NewFromInt(50000))
	pb.Set("ETH-USD", decimal.Zero)

	p, ok := pb.Get("BTC-USD")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(50000)))
	_, ok = pb.Get("ETH-USD")
	assert.False(t, ok)

	o := &types.Order{Asset: "BTC-USD", LimitPrice: decimal.NewFromInt(49000)}
	p, ok = pb.ReferencePrice(o)
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(49000)))

	o.LimitPrice = decimal.Zero
	p, ok = pb.ReferencePrice(o)
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(50000)))
}

func TestRouter_MaxSlippageFiltersVenues(t *testing.T) {
	r := NewRouter(staticVenues{
		venue("A", 10, 0.0005),
		venue("B", 100, 0.0002),
	}, nil, nil, nil)

	o := order(types.StrategyFastFill)
	o.MaxSlippageBps = 3
	d, err := r.Route(o, ref)
	require.NoError(t, err)
	assert.Equal(t, "B", d.SelectedVenue)
	require.Len(t, d.Analyses, 1)

	o.MaxSlippageBps = 1
	_, err = r.Route(o, ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNoEligibleVenue))
	assert.Contains(t, err.Error(), "A, B")
}

func TestSlippageProtector_NoCeiling(t *testing.T) {
	sp := NewSlippageProtector(nil)
	in := []types.VenueAnalysis{{VenueID: "A", ExpectedSlippage: 0.5}}
	out, dropped := sp.Filter(order(types.StrategySmart), in)
	assert.Equal(t, in, out)
	assert.Empty(t, dropped)
}
