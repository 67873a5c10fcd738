package execution

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SimulatorConfig tunes the simulated venue behaviour
type SimulatorConfig struct {
	Seed           int64   `mapstructure:"seed"`
	Sleep          bool    `mapstructure:"sleep"`
	Slices         int     `mapstructure:"slices"`
	LatencyJitter  float64 `mapstructure:"latency_jitter"`
	SlippageJitter float64 `mapstructure:"slippage_jitter"`
}

// DefaultSimulatorConfig returns moderate jitter and five child slices
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Seed:           time.Now().UnixNano(),
		Slices:         5,
		LatencyJitter:  0.2,
		SlippageJitter: 0.5,
	}
}

// Simulator fills orders using the venue's own statistics plus random jitter
type Simulator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	cfg    SimulatorConfig
	now    func() time.Time
	logger *logrus.Entry
}

// NewSimulator creates a simulator
func NewSimulator(cfg SimulatorConfig, logger *logrus.Entry) *Simulator {
	if cfg.Slices <= 0 {
		cfg.Slices = 5
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Simulator{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		now:    time.Now,
		logger: logger.WithField("component", "simulator"),
	}
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// jitter returns base scaled by a uniform factor in [1-j, 1+j]
func (s *Simulator) jitter(base, j float64) float64 {
	return base * (1 + j*(2*s.float()-1))
}

// Execute simulates the order on the venue
func (s *Simulator) Execute(ctx context.Context, o *types.Order, v types.Venue, ref decimal.Decimal) ([]types.Execution, error) {
	if s.float() > v.Uptime {
		return nil, types.Reject(types.ErrAdapterFailure, "venue %s did not acknowledge order %s", v.ID, o.ID)
	}

	qty := o.RemainingQuantity()
	if s.float() > v.FillRate {
		frac := 0.1 + 0.8*s.float()
		qty = qty.Mul(decimal.NewFromFloat(frac)).Truncate(8)
	}
	if !qty.IsPositive() {
		return nil, types.Reject(types.ErrAdapterFailure, "venue %s returned no liquidity", v.ID)
	}

	parts := splitQuantity(qty, slicesFor(o, s.cfg.Slices))
	execs := make([]types.Execution, 0, len(parts))
	for _, part := range parts {
		latencyMs := math.Max(1, s.jitter(v.AvgLatencyMs, s.cfg.LatencyJitter))
		latency := time.Duration(latencyMs * float64(time.Millisecond))
		if s.cfg.Sleep {
			select {
			case <-ctx.Done():
				if len(execs) > 0 {
					return execs, nil
				}
				return nil, types.Reject(types.ErrAdapterFailure, "execution on %s interrupted", v.ID).Wrap(ctx.Err())
			case <-time.After(latency):
			}
		}

		slippage := math.Max(0, s.jitter(v.AvgSlippage, s.cfg.SlippageJitter))
		price := slipPrice(o, ref, slippage)
		execs = append(execs, newExecution(o, v, ref, part, price, latency, s.now()))
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": o.ID,
		"venue":    v.ID,
		"fills":    len(execs),
		"quantity": qty.String(),
	}).Debug("Simulated execution")
	return execs, nil
}
