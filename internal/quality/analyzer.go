package quality

import (
	"math"
	"sync"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config tunes quality scoring
type Config struct {
	AlertThreshold float64 `mapstructure:"alert_threshold"`
	HistorySize    int     `mapstructure:"history_size"`
}

// DefaultConfig alerts below a score of 70 and keeps 1000 reports
func DefaultConfig() Config {
	return Config{AlertThreshold: 70, HistorySize: 1000}
}

const averageDecay = 0.95

// Alert is raised when a report scores below the threshold
type Alert struct {
	Report    types.ExecutionQuality
	Threshold float64
}

// Analyzer scores completed executions and tracks a running average
type Analyzer struct {
	mu      sync.RWMutex
	cfg     Config
	average float64
	seeded  bool
	history []*types.ExecutionQuality
	byOrder map[string]*types.ExecutionQuality

	now     func() time.Time
	onAlert func(Alert)
	logger  *logrus.Entry
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(cfg Config, logger *logrus.Entry) *Analyzer {
	def := DefaultConfig()
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = def.AlertThreshold
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Analyzer{
		cfg:     cfg,
		byOrder: make(map[string]*types.ExecutionQuality),
		now:     time.Now,
		logger:  logger.WithField("component", "quality-analyzer"),
	}
}

// SetClock replaces the time source
func (a *Analyzer) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// OnAlert registers the low-quality listener
func (a *Analyzer) OnAlert(fn func(Alert)) {
	a.mu.Lock()
	a.onAlert = fn
	a.mu.Unlock()
}

// VWAP is Σ(price×qty)/Σqty
func VWAP(execs []types.Execution) decimal.Decimal {
	notional, qty := decimal.Zero, decimal.Zero
	for _, e := range execs {
		notional = notional.Add(e.Price.Mul(e.Quantity))
		qty = qty.Add(e.Quantity)
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return notional.Div(qty)
}

// Score combines slippage, fees and time into a 0..100 figure
func Score(slippageBps, feeBps float64, elapsed time.Duration) float64 {
	ms := float64(elapsed) / float64(time.Millisecond)
	s := 100 - slippageBps/10 - feeBps/5 - math.Min(ms/1000, 1)*10
	return math.Max(0, math.Min(100, s))
}

// Assess builds the quality report for an order's executions
func (a *Analyzer) Assess(o *types.Order, execs []types.Execution) (*types.ExecutionQuality, error) {
	if len(execs) == 0 {
		return nil, types.Reject(types.ErrValidation, "no executions for order %s", o.ID)
	}

	filled, expectedNotional, fees := decimal.Zero, decimal.Zero, decimal.Zero
	var elapsed time.Duration
	var venues []string
	seen := make(map[string]bool)
	for _, e := range execs {
		filled = filled.Add(e.Quantity)
		expectedNotional = expectedNotional.Add(e.ExpectedPrice.Mul(e.Quantity))
		fees = fees.Add(e.Fee.Sub(e.Rebate))
		elapsed += e.Latency
		if !seen[e.VenueID] {
			seen[e.VenueID] = true
			venues = append(venues, e.VenueID)
		}
	}
	if !filled.IsPositive() {
		return nil, types.Reject(types.ErrValidation, "executions for order %s have no quantity", o.ID)
	}

	vwap := VWAP(execs)
	expected := expectedNotional.Div(filled)

	var slippageBps, feeBps float64
	if expected.IsPositive() {
		slippageBps = vwap.Sub(expected).Abs().Div(expected).InexactFloat64() * 10000
	}
	if traded := vwap.Mul(filled); traded.IsPositive() {
		feeBps = fees.Div(traded).InexactFloat64() * 10000
	}

	q := &types.ExecutionQuality{
		OrderID:        o.ID,
		Asset:          o.Asset,
		FilledQuantity: filled,
		VWAP:           vwap,
		ExpectedPrice:  expected,
		SlippageBps:    slippageBps,
		TotalFees:      fees,
		FeeBps:         feeBps,
		Venues:         venues,
		ExecutionTime:  elapsed,
		QualityScore:   Score(slippageBps, feeBps, elapsed),
		Final:          o.Status.IsTerminal(),
	}

	a.mu.Lock()
	q.Timestamp = a.now()
	if a.seeded {
		q.VsAverage = q.QualityScore - a.average
		a.average = averageDecay*a.average + (1-averageDecay)*q.QualityScore
	} else {
		a.average = q.QualityScore
		a.seeded = true
	}
	a.storeLocked(q)
	fn := a.onAlert
	threshold := a.cfg.AlertThreshold
	a.mu.Unlock()

	entry := a.logger.WithFields(logrus.Fields{
		"order_id":     o.ID,
		"score":        q.QualityScore,
		"slippage_bps": q.SlippageBps,
		"fee_bps":      q.FeeBps,
	})
	if q.QualityScore < threshold {
		entry.Warn("Execution quality below threshold")
		if fn != nil {
			fn(Alert{Report: *q, Threshold: threshold})
		}
	} else {
		entry.Debug("Execution quality assessed")
	}

	c := *q
	c.Venues = append([]string(nil), q.Venues...)
	return &c, nil
}

func (a *Analyzer) storeLocked(q *types.ExecutionQuality) {
	if len(a.history) >= a.cfg.HistorySize {
		old := a.history[0]
		a.history = a.history[1:]
		if a.byOrder[old.OrderID] == old {
			delete(a.byOrder, old.OrderID)
		}
	}
	a.history = append(a.history, q)
	a.byOrder[q.OrderID] = q
}

// Report returns the stored report for an order
func (a *Analyzer) Report(orderID string) (*types.ExecutionQuality, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	q, ok := a.byOrder[orderID]
	if !ok {
		return nil, false
	}
	c := *q
	c.Venues = append([]string(nil), q.Venues...)
	return &c, true
}

// Average returns the running average score and whether any report exists
func (a *Analyzer) Average() (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.average, a.seeded
}
