package risk

import (
	"sync"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Limits are the pre-trade notional ceilings
type Limits struct {
	MaxOrderNotional decimal.Decimal
	MaxDailyNotional decimal.Decimal
}

// DefaultLimits allows 1M per order and 10M per day
func DefaultLimits() Limits {
	return Limits{
		MaxOrderNotional: decimal.NewFromInt(1_000_000),
		MaxDailyNotional: decimal.NewFromInt(10_000_000),
	}
}

// VenueSource answers which venues can trade an asset
type VenueSource interface {
	AvailableVenues(asset string) []types.Venue
}

// Validator runs pre-trade checks and tracks today's committed notional
type Validator struct {
	mu     sync.Mutex
	limits Limits
	venues VenueSource
	used   decimal.Decimal
	orders int64
	day    time.Time
	now    func() time.Time
	logger *logrus.Entry
}

// NewValidator creates a validator. Zero limits take the defaults.
func NewValidator(limits Limits, venues VenueSource, logger *logrus.Entry) *Validator {
	def := DefaultLimits()
	if !limits.MaxOrderNotional.IsPositive() {
		limits.MaxOrderNotional = def.MaxOrderNotional
	}
	if !limits.MaxDailyNotional.IsPositive() {
		limits.MaxDailyNotional = def.MaxDailyNotional
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	v := &Validator{
		limits: limits,
		venues: venues,
		now:    time.Now,
		logger: logger.WithField("component", "order-validator"),
	}
	v.day = startOfDay(v.now())
	return v
}

// SetClock replaces the time source
func (v *Validator) SetClock(now func() time.Time) {
	v.mu.Lock()
	v.now = now
	v.day = startOfDay(now())
	v.mu.Unlock()
}

// Validate checks the order against structural rules, venue availability
// and notional ceilings. On success the order's notional is reserved against
// the daily ceiling.
func (v *Validator) Validate(order *types.Order, referencePrice decimal.Decimal) error {
	if err := validateStructure(order); err != nil {
		return err
	}
	if v.venues != nil && len(v.venues.AvailableVenues(order.Asset)) == 0 {
		return types.Reject(types.ErrNoEligibleVenue, "no online venue supports %s", order.Asset)
	}
	if !referencePrice.IsPositive() {
		return types.Reject(types.ErrValidation, "no reference price for %s", order.Asset)
	}

	notional := order.Notional(referencePrice)
	if notional.GreaterThan(v.limits.MaxOrderNotional) {
		return types.Reject(types.ErrValidation,
			"order notional %s exceeds per-order limit of %s",
			notional.StringFixed(2), v.limits.MaxOrderNotional.StringFixed(2))
	}

	v.mu.Lock()
	v.rollLocked()
	projected := v.used.Add(notional)
	if projected.GreaterThan(v.limits.MaxDailyNotional) {
		used := v.used
		v.mu.Unlock()
		return types.Reject(types.ErrValidation,
			"order would exceed daily notional limit of %s (used %s)",
			v.limits.MaxDailyNotional.StringFixed(2), used.StringFixed(2))
	}

	v.used = projected
	v.orders++
	v.mu.Unlock()
	return nil
}

// Release returns notional that was reserved but not traded
func (v *Validator) Release(notional decimal.Decimal) {
	if !notional.IsPositive() {
		return
	}
	v.mu.Lock()
	v.used = v.used.Sub(notional)
	if v.used.IsNegative() {
		v.used = decimal.Zero
	}
	v.mu.Unlock()
}

// Usage returns today's committed notional and accepted order count
func (v *Validator) Usage() (decimal.Decimal, int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rollLocked()
	return v.used, v.orders
}

// ResetDaily clears the daily counters
func (v *Validator) ResetDaily() {
	v.mu.Lock()
	v.used = decimal.Zero
	v.orders = 0
	v.day = startOfDay(v.now())
	v.mu.Unlock()
	v.logger.Info("Daily notional counters reset")
}

func (v *Validator) rollLocked() {
	today := startOfDay(v.now())
	if today.After(v.day) {
		v.used = decimal.Zero
		v.orders = 0
		v.day = today
	}
}

func validateStructure(o *types.Order) error {
	if o.Asset == "" {
		return types.Reject(types.ErrValidation, "asset is required")
	}
	if o.Side != types.SideBuy && o.Side != types.SideSell {
		return types.Reject(types.ErrValidation, "invalid side %q", o.Side)
	}
	if !o.Quantity.IsPositive() {
		return types.Reject(types.ErrValidation, "quantity must be positive")
	}
	if o.Type.RequiresLimitPrice() && !o.LimitPrice.IsPositive() {
		return types.Reject(types.ErrValidation, "%s order requires a limit price", o.Type)
	}
	if o.Type.RequiresStopPrice() && !o.StopPrice.IsPositive() {
		return types.Reject(types.ErrValidation, "%s order requires a stop price", o.Type)
	}
	if o.MaxSlippageBps < 0 {
		return types.Reject(types.ErrValidation, "max slippage cannot be negative")
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
