package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVenue() types.Venue {
	return types.Venue{
		ID:              "SIM",
		SupportedAssets: []string{types.AnyAsset},
		AvgLatencyMs:    20,
		FillRate:        1,
		AvgSlippage:     0.001,
		Uptime:          1,
		Fees: types.Fees{
			Maker: decimal.NewFromFloat(0.001),
			Taker: decimal.NewFromFloat(0.002),
		},
		Status: types.VenueOnline,
	}
}

func testOrder(strategy types.Strategy) *types.Order {
	return types.NewOrder("order-1", types.OrderSpec{
		Asset:    "BTC-USDT",
		Side:     types.SideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(10),
		Strategy: strategy,
	}, time.Now())
}

func sumQuantity(execs []types.Execution) decimal.Decimal {
	total := decimal.Zero
	for _, e := range execs {
		total = total.Add(e.Quantity)
	}
	return total
}

var ref = decimal.NewFromInt(100)

func TestSimulator_FullFill(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Seed: 42}, nil)

	execs, err := sim.Execute(context.Background(), testOrder(types.StrategySmart), testVenue(), ref)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	e := execs[0]
	assert.True(t, e.Quantity.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "SIM", e.VenueID)
	assert.Equal(t, "order-1", e.OrderID)
	assert.True(t, e.ExpectedPrice.Equal(ref))
	assert.True(t, e.Price.GreaterThanOrEqual(ref))
	assert.True(t, e.Fee.IsPositive())
	assert.NotEmpty(t, e.ID)
	assert.GreaterOrEqual(t, e.Latency, time.Millisecond)
}

func TestSimulator_SlicedStrategies(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Seed: 7, Slices: 4}, nil)

	for _, s := range []types.Strategy{types.StrategyTWAP, types.StrategyVWAP, types.StrategyIceberg} {
		execs, err := sim.Execute(context.Background(), testOrder(s), testVenue(), ref)
		require.NoError(t, err)
		assert.Len(t, execs, 4, string(s))
		assert.True(t, sumQuantity(execs).Equal(decimal.NewFromInt(10)))
	}
}

func TestSimulator_Deterministic(t *testing.T) {
	v := testVenue()
	v.FillRate = 0.5
	v.Uptime = 0.9

	run := func() []string {
		sim := NewSimulator(SimulatorConfig{Seed: 99, Slices: 3}, nil)
		var out []string
		for i := 0; i < 20; i++ {
			execs, err := sim.Execute(context.Background(), testOrder(types.StrategyTWAP), v, ref)
			if err != nil {
				out = append(out, "err")
				continue
			}
			out = append(out, sumQuantity(execs).String()+"@"+execs[0].Price.String())
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestSimulator_VenueDown(t *testing.T) {
	v := testVenue()
	v.Uptime = 0
	sim := NewSimulator(SimulatorConfig{Seed: 1}, nil)

	_, err := sim.Execute(context.Background(), testOrder(types.StrategySmart), v, ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAdapterFailure))
}

func TestSimulator_SleepHonoursContext(t *testing.T) {
	v := testVenue()
	v.AvgLatencyMs = 5000
	sim := NewSimulator(SimulatorConfig{Seed: 1, Sleep: true}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := sim.Execute(ctx, testOrder(types.StrategySmart), v, ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAdapterFailure))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestScripted(t *testing.T) {
	s := NewScripted()
	s.SetFill("SIM", ScriptedFill{Fraction: 0.4, Slippage: 0.002, Latency: 15 * time.Millisecond})

	execs, err := s.Execute(context.Background(), testOrder(types.StrategySmart), testVenue(), ref)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Quantity.Equal(decimal.NewFromInt(4)))
	assert.True(t, execs[0].Price.Equal(decimal.NewFromFloat(100.2)))
	assert.InDelta(t, 20.0, execs[0].SlippageBps, 1e-9)
	assert.Equal(t, 15*time.Millisecond, execs[0].Latency)

	s.SetError("SIM", errors.New("venue halted"))
	_, err = s.Execute(context.Background(), testOrder(types.StrategySmart), testVenue(), ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAdapterFailure))
	assert.Contains(t, err.Error(), "venue halted")

	assert.Equal(t, []string{"SIM", "SIM"}, s.Calls())
}

func TestScripted_DefaultsFromVenue(t *testing.T) {
	s := NewScripted()
	o := testOrder(types.StrategySmart)
	o.Side = types.SideSell

	execs, err := s.Execute(context.Background(), o, testVenue(), ref)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Price.Equal(decimal.NewFromFloat(99.9)))
	// market order: taker fee 99.9 * 10 * 0.002
	assert.True(t, execs[0].Fee.Equal(decimal.NewFromFloat(1.998)), execs[0].Fee.String())
	assert.Equal(t, 20*time.Millisecond, execs[0].Latency)
}

func TestSlipPriceRespectsLimit(t *testing.T) {
	o := testOrder(types.StrategySmart)
	o.Type = types.OrderTypeLimit
	o.LimitPrice = decimal.NewFromFloat(100.05)

	assert.True(t, slipPrice(o, ref, 0.001).Equal(decimal.NewFromFloat(100.05)))
	assert.True(t, slipPrice(o, ref, 0.0001).Equal(decimal.NewFromFloat(100.01)))

	o.Side = types.SideSell
	o.LimitPrice = decimal.NewFromFloat(99.95)
	assert.True(t, slipPrice(o, ref, 0.001).Equal(decimal.NewFromFloat(99.95)))
}

func TestSplitQuantity(t *testing.T) {
	parts := splitQuantity(decimal.NewFromInt(10), 3)
	require.Len(t, parts, 3)
	assert.True(t, parts[0].Equal(decimal.RequireFromString("3.33333333")))
	assert.True(t, parts[2].Equal(decimal.RequireFromString("3.33333334")))
	assert.True(t, sumQuantity([]types.Execution{{Quantity: parts[0]}, {Quantity: parts[1]}, {Quantity: parts[2]}}).Equal(decimal.NewFromInt(10)))

	assert.Len(t, splitQuantity(decimal.NewFromInt(10), 0), 1)
}

func TestFillsFromResponse(t *testing.T) {
	o := testOrder(types.StrategySmart)
	res := &binance.CreateOrderResponse{
		Symbol:       "BTCUSDT",
		OrderID:      12345,
		TransactTime: 1700000000000,
		Fills: []*binance.Fill{
			{TradeID: 1, Price: "100.10", Quantity: "4", Commission: "0.004"},
			{TradeID: 2, Price: "100.20", Quantity: "6", Commission: "0.006"},
		},
	}

	execs, err := fillsFromResponse(o, testVenue(), ref, res, 30*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "SIM-1", execs[0].ID)
	assert.True(t, execs[1].Price.Equal(decimal.NewFromFloat(100.2)))
	assert.True(t, execs[1].Fee.Equal(decimal.NewFromFloat(0.006)))
	assert.InDelta(t, 20.0, execs[1].SlippageBps, 1e-9)
	assert.Equal(t, time.UnixMilli(1700000000000), execs[0].Timestamp)
	assert.True(t, sumQuantity(execs).Equal(decimal.NewFromInt(10)))

	res.Fills[0].Price = "abc"
	_, err = fillsFromResponse(o, testVenue(), ref, res, 0)
	assert.Error(t, err)
}

func TestBinanceSymbol(t *testing.T) {
	b := NewBinance(BinanceConfig{Symbols: map[string]string{"xbt-usd": "BTCUSDT"}}, nil)
	assert.Equal(t, "ETHUSDT", b.Symbol("eth-usdt"))
	assert.Equal(t, "SOLUSDC", b.Symbol("SOL/USDC"))
	assert.Equal(t, "BTCUSDT", b.Symbol("XBT-USD"))
	assert.Equal(t, binance.TimeInForceTypeIOC, binanceTimeInForce(types.TimeInForceIOC))
	assert.Equal(t, binance.SideTypeSell, binanceSide(types.SideSell))
}

type cancelCall struct {
	symbol  string
	orderID int64
}

func stubCancel(calls *[]cancelCall, executed, quote string, err error) canceller {
	return func(_ context.Context, symbol string, orderID int64) (decimal.Decimal, decimal.Decimal, error) {
		*calls = append(*calls, cancelCall{symbol, orderID})
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		return decimal.RequireFromString(executed), decimal.RequireFromString(quote), nil
	}
}

func TestBinanceSettle_CancelsRestingOrder(t *testing.T) {
	o := testOrder(types.StrategySmart)
	b := NewBinance(BinanceConfig{}, nil)
	var calls []cancelCall
	b.cancel = stubCancel(&calls, "0", "0", nil)

	res := &binance.CreateOrderResponse{Symbol: "BTCUSDT", OrderID: 77, Status: binance.OrderStatusTypeNew}
	execs, err := b.settle(context.Background(), o, testVenue(), ref, "BTCUSDT", res, 0)
	require.NoError(t, err)
	assert.Empty(t, execs)
	assert.Equal(t, []cancelCall{{"BTCUSDT", 77}}, calls)
}

func TestBinanceSettle_BooksFillsSeenOnlyAtCancel(t *testing.T) {
	o := testOrder(types.StrategySmart)
	b := NewBinance(BinanceConfig{}, nil)
	var calls []cancelCall
	b.cancel = stubCancel(&calls, "6", "603", nil)

	res := &binance.CreateOrderResponse{
		Symbol:  "BTCUSDT",
		OrderID: 78,
		Status:  binance.OrderStatusTypePartiallyFilled,
		Fills:   []*binance.Fill{{TradeID: 9, Price: "100", Quantity: "4"}},
	}
	execs, err := b.settle(context.Background(), o, testVenue(), ref, "BTCUSDT", res, 0)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.True(t, sumQuantity(execs).Equal(decimal.NewFromInt(6)))
	assert.True(t, execs[1].Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, execs[1].Price.Equal(decimal.RequireFromString("101.5")), execs[1].Price.String())
	assert.Len(t, calls, 1)
}

func TestBinanceSettle_FailedCancelIsAdapterFailure(t *testing.T) {
	o := testOrder(types.StrategySmart)
	b := NewBinance(BinanceConfig{}, nil)
	var calls []cancelCall
	b.cancel = stubCancel(&calls, "", "", errors.New("timeout"))

	res := &binance.CreateOrderResponse{
		OrderID: 79,
		Status:  binance.OrderStatusTypePartiallyFilled,
		Fills:   []*binance.Fill{{TradeID: 1, Price: "100", Quantity: "4"}},
	}
	execs, err := b.settle(context.Background(), o, testVenue(), ref, "BTCUSDT", res, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAdapterFailure))
	assert.Nil(t, execs)
}

func TestBinanceSettle_FilledOrderIsNotCancelled(t *testing.T) {
	o := testOrder(types.StrategySmart)
	b := NewBinance(BinanceConfig{}, nil)
	var calls []cancelCall
	b.cancel = stubCancel(&calls, "0", "0", nil)

	for _, status := range []binance.OrderStatusType{
		binance.OrderStatusTypeFilled, binance.OrderStatusTypeExpired, binance.OrderStatusTypeCanceled,
	} {
		res := &binance.CreateOrderResponse{
			OrderID: 80,
			Status:  status,
			Fills:   []*binance.Fill{{TradeID: 1, Price: "100", Quantity: "10"}},
		}
		execs, err := b.settle(context.Background(), o, testVenue(), ref, "BTCUSDT", res, 0)
		require.NoError(t, err, status)
		assert.Len(t, execs, 1)
	}
	assert.Empty(t, calls)
}
