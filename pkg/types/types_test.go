package types

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  OrderStatus
		to    OrderStatus
		legal bool
	}{
		{"pending to routing", OrderStatusPending, OrderStatusRouting, true},
		{"pending to rejected", OrderStatusPending, OrderStatusRejected, true},
		{"pending to filled", OrderStatusPending, OrderStatusFilled, false},
		{"routing to submitted", OrderStatusRouting, OrderStatusSubmitted, true},
		{"routing to partial", OrderStatusRouting, OrderStatusPartial, false},
		{"submitted to partial", OrderStatusSubmitted, OrderStatusPartial, true},
		{"submitted to filled", OrderStatusSubmitted, OrderStatusFilled, true},
		{"submitted to cancelled", OrderStatusSubmitted, OrderStatusCancelled, false},
		{"partial to partial", OrderStatusPartial, OrderStatusPartial, true},
		{"partial to cancelled", OrderStatusPartial, OrderStatusCancelled, true},
		{"filled to cancelled", OrderStatusFilled, OrderStatusCancelled, false},
		{"rejected to routing", OrderStatusRejected, OrderStatusRouting, false},
		{"expired to pending", OrderStatusExpired, OrderStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.legal, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatesAbsorb(t *testing.T) {
	all := []OrderStatus{
		OrderStatusPending, OrderStatusRouting, OrderStatusSubmitted, OrderStatusPartial,
		OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired,
	}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestOrderTransitionError(t *testing.T) {
	o := &Order{Status: OrderStatusFilled}
	err := o.Transition(OrderStatusCancelled, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, OrderStatusFilled, o.Status)
}

func TestNewOrderDefaults(t *testing.T) {
	now := time.Date(2024, 3, 5, 15, 30, 0, 0, time.UTC)
	o := NewOrder("o-1", OrderSpec{
		Asset:    "BTC-USD",
		Side:     SideBuy,
		Quantity: decimal.NewFromInt(1),
	}, now)

	assert.Equal(t, OrderTypeMarket, o.Type)
	assert.Equal(t, StrategySmart, o.Strategy)
	assert.Equal(t, UrgencyNormal, o.Urgency)
	assert.Equal(t, TimeInForceDay, o.TimeInForce)
	assert.True(t, o.AllowDarkPools)
	assert.True(t, o.AllowPartialFill)
	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), o.ExpiresAt)
}

func TestNewOrderFOKDisablesPartials(t *testing.T) {
	o := NewOrder("o-2", OrderSpec{
		Asset:            "ETH-USD",
		Side:             SideSell,
		Quantity:         decimal.NewFromInt(2),
		TimeInForce:      TimeInForceFOK,
		AllowPartialFill: Bool(true),
		AllowDarkPools:   Bool(false),
	}, time.Now())

	assert.False(t, o.AllowPartialFill)
	assert.False(t, o.AllowDarkPools)
	assert.True(t, o.ExpiresAt.IsZero())
}

func TestVenueSupportsAsset(t *testing.T) {
	v := Venue{SupportedAssets: []string{"BTC-USD", "eth-usd"}}
	assert.True(t, v.SupportsAsset("btc-usd"))
	assert.True(t, v.SupportsAsset("ETH-USD"))
	assert.False(t, v.SupportsAsset("SOL-USD"))

	wildcard := Venue{SupportedAssets: []string{AnyAsset}}
	assert.True(t, wildcard.SupportsAsset("SOL-USD"))
}

func TestVenueSupportsOrderType(t *testing.T) {
	v := Venue{}
	assert.True(t, v.SupportsOrderType(OrderTypeIceberg))

	v.SupportedOrderTypes = []OrderType{OrderTypeMarket, OrderTypeLimit}
	assert.True(t, v.SupportsOrderType(OrderTypeLimit))
	assert.False(t, v.SupportsOrderType(OrderTypeStop))
}

func TestRejectionError(t *testing.T) {
	cause := errors.New("connection reset")
	err := Reject(ErrAdapterFailure, "venue %s failed", "NYSE").Wrap(cause)

	assert.True(t, errors.Is(err, ErrAdapterFailure))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "adapter_failure", CodeOf(err))
	assert.Contains(t, err.Error(), "venue NYSE failed")
}

func TestExecutionFillSlippage(t *testing.T) {
	e := Execution{
		Price:         decimal.NewFromFloat(100.05),
		ExpectedPrice: decimal.NewFromInt(100),
	}
	e.FillSlippage()
	assert.True(t, e.SlippageAbs.Equal(decimal.NewFromFloat(0.05)))
	assert.InDelta(t, 5.0, e.SlippageBps, 1e-9)
}
