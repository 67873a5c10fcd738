package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const binanceTestnetURL = "https://testnet.binance.vision/api"

// BinanceConfig configures the Binance spot adapter
type BinanceConfig struct {
	APIKey    string            `mapstructure:"api_key"`
	SecretKey string            `mapstructure:"secret_key"`
	Testnet   bool              `mapstructure:"testnet"`
	RateLimit float64           `mapstructure:"rate_limit"` // orders per second
	Burst     int               `mapstructure:"burst"`
	Symbols   map[string]string `mapstructure:"symbols"` // asset -> exchange symbol
}

// canceller pulls a resting order off the book and reports the base quantity
// and quote amount it had executed by then
type canceller func(ctx context.Context, symbol string, orderID int64) (executed, quote decimal.Decimal, err error)

// Binance sends market and limit orders to Binance spot. Orders are never
// left resting: whatever the exchange did not fill on placement is cancelled
// before Execute returns.
type Binance struct {
	client  *binance.Client
	limiter *rate.Limiter
	symbols map[string]string
	cancel  canceller
	now     func() time.Time
	logger  *logrus.Entry
}

// NewBinance creates the adapter
func NewBinance(cfg BinanceConfig, logger *logrus.Entry) *Binance {
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.Testnet {
		client.BaseURL = binanceTestnetURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	symbols := make(map[string]string, len(cfg.Symbols))
	for asset, sym := range cfg.Symbols {
		symbols[strings.ToUpper(asset)] = sym
	}

	b := &Binance{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		symbols: symbols,
		now:     time.Now,
		logger:  logger.WithField("exchange", "binance"),
	}
	b.cancel = b.cancelOrder
	return b
}

// Symbol maps an asset such as "BTC-USDT" to the exchange symbol "BTCUSDT"
func (b *Binance) Symbol(asset string) string {
	if sym, ok := b.symbols[strings.ToUpper(asset)]; ok {
		return sym
	}
	r := strings.NewReplacer("-", "", "/", "", "_", "")
	return strings.ToUpper(r.Replace(asset))
}

func (b *Binance) Execute(ctx context.Context, o *types.Order, v types.Venue, ref decimal.Decimal) ([]types.Execution, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, types.Reject(types.ErrAdapterFailure, "binance rate limiter").Wrap(err)
	}

	symbol := b.Symbol(o.Asset)
	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binanceSide(o.Side)).
		Quantity(o.RemainingQuantity().String()).
		NewClientOrderID(o.ID).
		NewOrderRespType(binance.NewOrderRespTypeFULL)

	switch o.Type {
	case types.OrderTypeMarket:
		svc.Type(binance.OrderTypeMarket)
	case types.OrderTypeLimit:
		svc.Type(binance.OrderTypeLimit).
			TimeInForce(binanceTimeInForce(o.TimeInForce)).
			Price(o.LimitPrice.String())
	default:
		return nil, types.Reject(types.ErrAdapterFailure, "binance adapter does not support %s orders", o.Type)
	}

	start := b.now()
	res, err := svc.Do(ctx)
	if err != nil {
		b.logger.WithError(err).WithField("order_id", o.ID).Error("Failed to create order")
		return nil, types.Reject(types.ErrAdapterFailure, "binance rejected order %s", o.ID).Wrap(err)
	}
	latency := b.now().Sub(start)

	execs, err := b.settle(ctx, o, v, ref, symbol, res, latency)
	if err != nil {
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"order_id":    o.ID,
		"exchange_id": res.OrderID,
		"status":      res.Status,
		"fills":       len(execs),
	}).Info("Order executed")
	return execs, nil
}

// settle turns the placement response into executions, cancelling any
// quantity still resting on the book. A failed cancel is an adapter failure
// because the exchange may still fill the order.
func (b *Binance) settle(ctx context.Context, o *types.Order, v types.Venue, ref decimal.Decimal, symbol string, res *binance.CreateOrderResponse, latency time.Duration) ([]types.Execution, error) {
	execs, err := fillsFromResponse(o, v, ref, res, latency)
	if err != nil {
		return nil, types.Reject(types.ErrAdapterFailure, "unreadable binance response").Wrap(err)
	}
	if !resting(res.Status) {
		return execs, nil
	}

	executed, quote, err := b.cancel(ctx, symbol, res.OrderID)
	if err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":    o.ID,
			"exchange_id": res.OrderID,
		}).Error("Failed to cancel resting order")
		return nil, types.Reject(types.ErrAdapterFailure,
			"binance order %d for %s may still be resting", res.OrderID, o.ID).Wrap(err)
	}

	// Fills that landed between placement and cancel are only visible as
	// totals; book them as one execution at their average price.
	reported, reportedQuote := decimal.Zero, decimal.Zero
	for _, e := range execs {
		reported = reported.Add(e.Quantity)
		reportedQuote = reportedQuote.Add(e.Price.Mul(e.Quantity))
	}
	if late := executed.Sub(reported); late.IsPositive() {
		e := types.Execution{
			ID:            fmt.Sprintf("%s-%d-cancel", v.ID, res.OrderID),
			OrderID:       o.ID,
			VenueID:       v.ID,
			Asset:         o.Asset,
			Side:          o.Side,
			Quantity:      late,
			Price:         quote.Sub(reportedQuote).Div(late),
			ExpectedPrice: ref,
			Latency:       latency,
			Timestamp:     b.now(),
		}
		e.FillSlippage()
		execs = append(execs, e)
	}

	b.logger.WithFields(logrus.Fields{
		"order_id":    o.ID,
		"exchange_id": res.OrderID,
		"executed":    executed.String(),
	}).Info("Cancelled unfilled remainder")
	return execs, nil
}

func (b *Binance) cancelOrder(ctx context.Context, symbol string, orderID int64) (decimal.Decimal, decimal.Decimal, error) {
	res, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	executed, err := decimal.NewFromString(res.ExecutedQuantity)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("executed quantity %q: %w", res.ExecutedQuantity, err)
	}
	quote, err := decimal.NewFromString(res.CummulativeQuoteQuantity)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("quote quantity %q: %w", res.CummulativeQuoteQuantity, err)
	}
	return executed, quote, nil
}

// resting reports whether the order is still open on the book
func resting(status binance.OrderStatusType) bool {
	return status == binance.OrderStatusTypeNew || status == binance.OrderStatusTypePartiallyFilled
}

// fillsFromResponse converts a FULL order response into executions.
// Commission is taken as reported, in the exchange's commission asset.
func fillsFromResponse(o *types.Order, v types.Venue, ref decimal.Decimal, res *binance.CreateOrderResponse, latency time.Duration) ([]types.Execution, error) {
	ts := time.UnixMilli(res.TransactTime)
	execs := make([]types.Execution, 0, len(res.Fills))
	for _, f := range res.Fills {
		price, err := decimal.NewFromString(f.Price)
		if err != nil {
			return nil, fmt.Errorf("fill price %q: %w", f.Price, err)
		}
		qty, err := decimal.NewFromString(f.Quantity)
		if err != nil {
			return nil, fmt.Errorf("fill quantity %q: %w", f.Quantity, err)
		}
		fee := decimal.Zero
		if f.Commission != "" {
			if fee, err = decimal.NewFromString(f.Commission); err != nil {
				return nil, fmt.Errorf("fill commission %q: %w", f.Commission, err)
			}
		}

		e := types.Execution{
			ID:            fmt.Sprintf("%s-%d", v.ID, f.TradeID),
			OrderID:       o.ID,
			VenueID:       v.ID,
			Asset:         o.Asset,
			Side:          o.Side,
			Quantity:      qty,
			Price:         price,
			ExpectedPrice: ref,
			Fee:           fee,
			Latency:       latency,
			Timestamp:     ts,
		}
		e.FillSlippage()
		execs = append(execs, e)
	}
	return execs, nil
}

func binanceSide(s types.Side) binance.SideType {
	if s == types.SideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func binanceTimeInForce(tif types.TimeInForce) binance.TimeInForceType {
	switch tif {
	case types.TimeInForceIOC:
		return binance.TimeInForceTypeIOC
	case types.TimeInForceFOK:
		return binance.TimeInForceTypeFOK
	default:
		return binance.TimeInForceTypeGTC
	}
}
