package router

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const scoreEpsilon = 1e-9

// VenueSource lists online venues that trade an asset
type VenueSource interface {
	AvailableVenues(asset string) []types.Venue
}

// Router picks the best venue for an order
type Router struct {
	venues    VenueSource
	analyzer  *Analyzer
	slippage  *SlippageProtector
	learner   *Learner
	decisions DecisionStore
	now       func() time.Time
	logger    *logrus.Entry
}

// NewRouter creates a router. A nil store keeps decisions in memory.
func NewRouter(venues VenueSource, learner *Learner, store DecisionStore, logger *logrus.Entry) *Router {
	if store == nil {
		store = NewMemoryDecisionStore()
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	var stats StatsSource
	if learner != nil {
		stats = learner
	}
	return &Router{
		venues:    venues,
		analyzer:  NewAnalyzer(stats),
		slippage:  NewSlippageProtector(logger),
		learner:   learner,
		decisions: store,
		now:       time.Now,
		logger:    logger.WithField("component", "smart-router"),
	}
}

// SetClock replaces the time source
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// Route scores every eligible venue and records the decision
func (r *Router) Route(o *types.Order, ref decimal.Decimal) (*types.RoutingDecision, error) {
	candidates := r.eligibleVenues(o)
	if len(candidates) == 0 {
		return nil, types.Reject(types.ErrNoEligibleVenue, "no eligible venue for %s %s", o.Side, o.Asset)
	}

	analyses := make([]types.VenueAnalysis, 0, len(candidates))
	for _, v := range candidates {
		a := r.analyzer.Analyze(v, o, ref)
		a.RawScore = scoreAnalysis(&a, o, ref)
		a.Score = clampScore(a.RawScore)
		analyses = append(analyses, a)
	}
	analyses, dropped := r.slippage.Filter(o, analyses)
	if len(analyses) == 0 {
		return nil, types.Reject(types.ErrNoEligibleVenue,
			"no venue within %.2f bps max slippage for %s (over limit: %s)",
			o.MaxSlippageBps, o.Asset, strings.Join(dropped, ", "))
	}
	rankAnalyses(analyses)

	best := analyses[0]
	d := &types.RoutingDecision{
		OrderID:             o.ID,
		Timestamp:           r.now(),
		Strategy:            o.Strategy,
		Analyses:            analyses,
		SelectedVenue:       best.VenueID,
		ExpectedSlippageBps: best.ExpectedSlippage * 10000,
		Confidence:          r.confidence(analyses),
	}
	d.Justification = justify(o, best, len(analyses))

	if err := r.decisions.Save(d); err != nil {
		return nil, fmt.Errorf("failed to store routing decision: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"order_id":   o.ID,
		"asset":      o.Asset,
		"venue":      best.VenueID,
		"score":      best.Score,
		"candidates": len(analyses),
		"confidence": d.Confidence,
	}).Debug("Order routed")

	return d.Clone(), nil
}

// Decision returns the latest routing decision for an order
func (r *Router) Decision(orderID string) (*types.RoutingDecision, bool) {
	return r.decisions.Latest(orderID)
}

// Decisions returns every routing attempt for an order
func (r *Router) Decisions(orderID string) []*types.RoutingDecision {
	return r.decisions.History(orderID)
}

func (r *Router) eligibleVenues(o *types.Order) []types.Venue {
	preferred := toSet(o.PreferredVenues)
	excluded := toSet(o.ExcludedVenues)

	var out []types.Venue
	for _, v := range r.venues.AvailableVenues(o.Asset) {
		if len(preferred) > 0 && !preferred[v.ID] {
			continue
		}
		if excluded[v.ID] {
			continue
		}
		if v.IsDarkPool() && !o.AllowDarkPools {
			continue
		}
		if !v.SupportsOrderType(o.Type) {
			continue
		}
		if v.MinOrderSize.IsPositive() && o.Quantity.LessThan(v.MinOrderSize) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// rankAnalyses orders by raw score, then lower latency, then venue ID
func rankAnalyses(analyses []types.VenueAnalysis) {
	sort.SliceStable(analyses, func(i, j int) bool {
		a, b := analyses[i], analyses[j]
		if math.Abs(a.RawScore-b.RawScore) > scoreEpsilon {
			return a.RawScore > b.RawScore
		}
		if a.EstimatedLatencyMs != b.EstimatedLatencyMs {
			return a.EstimatedLatencyMs < b.EstimatedLatencyMs
		}
		return a.VenueID < b.VenueID
	})
}

// confidence grows with the winner's margin and with how much history backs it
func (r *Router) confidence(ranked []types.VenueAnalysis) float64 {
	c := 0.6
	if len(ranked) > 1 {
		c += math.Min((ranked[0].RawScore-ranked[1].RawScore)/10, 0.3)
	} else {
		c += 0.3
	}
	if r.learner != nil && r.learner.FillCount(ranked[0].VenueID) >= DefaultMinSamples {
		c += 0.1
	}
	return math.Max(0, math.Min(1, c))
}

func justify(o *types.Order, best types.VenueAnalysis, candidates int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "selected %s (score %.1f) from %d candidate(s) using %s strategy",
		best.VenueID, best.Score, candidates, o.Strategy)
	fmt.Fprintf(&b, "; est. price %s, est. fees %s, latency %.0fms, fill rate %.0f%%",
		best.EstimatedPrice.StringFixed(4), best.EstimatedFees.StringFixed(4),
		best.EstimatedLatencyMs, best.Liquidity*100)
	if best.DarkPool {
		b.WriteString("; dark pool")
	}
	if best.AssetSpecific {
		b.WriteString("; learned asset statistics")
	}
	return b.String()
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
