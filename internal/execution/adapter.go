package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
)

// Adapter executes an order on a venue. Implementations return one execution
// per fill; an error means nothing was filled.
type Adapter interface {
	Execute(ctx context.Context, o *types.Order, v types.Venue, ref decimal.Decimal) ([]types.Execution, error)
}

// AdapterFunc lets a plain function act as an Adapter
type AdapterFunc func(ctx context.Context, o *types.Order, v types.Venue, ref decimal.Decimal) ([]types.Execution, error)

func (f AdapterFunc) Execute(ctx context.Context, o *types.Order, v types.Venue, ref decimal.Decimal) ([]types.Execution, error) {
	return f(ctx, o, v, ref)
}

// FeeRate is the taker fee for market or immediate orders, the maker fee otherwise
func FeeRate(o *types.Order, v types.Venue) decimal.Decimal {
	if o.Type == types.OrderTypeMarket || o.Urgency == types.UrgencyImmediate {
		return v.Fees.Taker
	}
	return v.Fees.Maker
}

// slipPrice moves ref against the order by slippage, respecting a limit price
func slipPrice(o *types.Order, ref decimal.Decimal, slippage float64) decimal.Decimal {
	adj := decimal.NewFromFloat(slippage)
	one := decimal.NewFromInt(1)
	if o.Side == types.SideBuy {
		p := ref.Mul(one.Add(adj))
		if o.LimitPrice.IsPositive() && p.GreaterThan(o.LimitPrice) {
			p = o.LimitPrice
		}
		return p
	}
	p := ref.Mul(one.Sub(adj))
	if o.LimitPrice.IsPositive() && p.LessThan(o.LimitPrice) {
		p = o.LimitPrice
	}
	return p
}

func newExecution(o *types.Order, v types.Venue, ref, qty, price decimal.Decimal, latency time.Duration, now time.Time) types.Execution {
	e := types.Execution{
		ID:            uuid.NewString(),
		OrderID:       o.ID,
		VenueID:       v.ID,
		Asset:         o.Asset,
		Side:          o.Side,
		Quantity:      qty,
		Price:         price,
		ExpectedPrice: ref,
		Fee:           price.Mul(qty).Mul(FeeRate(o, v)),
		Latency:       latency,
		Timestamp:     now,
	}
	e.FillSlippage()
	return e
}

// splitQuantity divides qty into n slices at 8 decimal places; the last slice takes the remainder
func splitQuantity(qty decimal.Decimal, n int) []decimal.Decimal {
	if n <= 1 {
		return []decimal.Decimal{qty}
	}
	slice := qty.Div(decimal.NewFromInt(int64(n))).Truncate(8)
	if !slice.IsPositive() {
		return []decimal.Decimal{qty}
	}
	out := make([]decimal.Decimal, 0, n)
	rest := qty
	for i := 0; i < n-1; i++ {
		out = append(out, slice)
		rest = rest.Sub(slice)
	}
	return append(out, rest)
}

func slicesFor(o *types.Order, n int) int {
	if o.Strategy.Sliced() || o.Type == types.OrderTypeTWAP || o.Type == types.OrderTypeVWAP || o.Type == types.OrderTypeIceberg {
		return n
	}
	return 1
}
