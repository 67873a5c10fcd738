package router

import (
	"strings"
	"sync"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/sirupsen/logrus"
)

// DefaultLearningRate gives each new sample 10% weight
const DefaultLearningRate = 0.1

// DefaultMinSamples is the fill count before learned values replace venue defaults
const DefaultMinSamples = 10

// LearnedSink receives learned averages during a learning pass
type LearnedSink interface {
	ApplyLearned(id string, avgSlippage, avgLatencyMs float64) error
}

type venueStats struct {
	mu     sync.Mutex
	seeded bool
	perf   types.VenuePerformance
}

// Learner tracks realised slippage and latency per venue and per asset
type Learner struct {
	mu     sync.RWMutex
	venues map[string]*venueStats
	alpha  float64
	now    func() time.Time
	logger *logrus.Entry
}

// NewLearner creates a learner. alpha outside (0,1) falls back to DefaultLearningRate.
func NewLearner(alpha float64, logger *logrus.Entry) *Learner {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultLearningRate
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Learner{
		venues: make(map[string]*venueStats),
		alpha:  alpha,
		now:    time.Now,
		logger: logger.WithField("component", "venue-learner"),
	}
}

// SetClock replaces the time source
func (l *Learner) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

func (l *Learner) stats(venueID string) *venueStats {
	l.mu.RLock()
	s, ok := l.venues[venueID]
	l.mu.RUnlock()
	if ok {
		return s
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok = l.venues[venueID]; ok {
		return s
	}
	s = &venueStats{perf: types.VenuePerformance{
		VenueID: venueID,
		ByAsset: make(map[string]*types.AssetPerformance),
	}}
	l.venues[venueID] = s
	return s
}

func (l *Learner) ewma(prev, sample float64) float64 {
	return prev*(1-l.alpha) + sample*l.alpha
}

// Record folds one execution into the venue's statistics. The venue-wide
// averages start from the venue's configured defaults; per-asset averages
// start from the first sample.
func (l *Learner) Record(v types.Venue, e types.Execution) {
	slippage := e.SlippageFraction()
	latency := float64(e.Latency) / float64(time.Millisecond)
	asset := strings.ToUpper(e.Asset)

	s := l.stats(v.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &s.perf
	if !s.seeded {
		p.AvgSlippage = v.AvgSlippage
		p.AvgLatencyMs = v.AvgLatencyMs
		s.seeded = true
	}
	p.AvgSlippage = l.ewma(p.AvgSlippage, slippage)
	p.AvgLatencyMs = l.ewma(p.AvgLatencyMs, latency)
	p.FillCount++
	p.SuccessRate = successRate(p.FillCount, p.FailureCount)
	p.UpdatedAt = l.now()

	ap, ok := p.ByAsset[asset]
	if !ok {
		p.ByAsset[asset] = &types.AssetPerformance{
			FillCount:    1,
			AvgSlippage:  slippage,
			AvgLatencyMs: latency,
		}
		return
	}
	ap.AvgSlippage = l.ewma(ap.AvgSlippage, slippage)
	ap.AvgLatencyMs = l.ewma(ap.AvgLatencyMs, latency)
	ap.FillCount++
}

// RecordFailure counts a failed execution attempt on the venue
func (l *Learner) RecordFailure(venueID string) {
	s := l.stats(venueID)
	s.mu.Lock()
	s.perf.FailureCount++
	s.perf.SuccessRate = successRate(s.perf.FillCount, s.perf.FailureCount)
	s.perf.UpdatedAt = l.now()
	s.mu.Unlock()
}

// AssetStats returns learned stats for the asset on the venue once at least one fill exists
func (l *Learner) AssetStats(venueID, asset string) (types.AssetPerformance, bool) {
	l.mu.RLock()
	s, ok := l.venues[venueID]
	l.mu.RUnlock()
	if !ok {
		return types.AssetPerformance{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ap, ok := s.perf.ByAsset[strings.ToUpper(asset)]
	if !ok || ap.FillCount < 1 {
		return types.AssetPerformance{}, false
	}
	return *ap, true
}

// FillCount returns the number of fills recorded for the venue
func (l *Learner) FillCount(venueID string) int64 {
	l.mu.RLock()
	s, ok := l.venues[venueID]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perf.FillCount
}

// VenueStats returns a copy of the venue's statistics
func (l *Learner) VenueStats(venueID string) (*types.VenuePerformance, bool) {
	l.mu.RLock()
	s, ok := l.venues[venueID]
	l.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perf.Clone(), true
}

// Snapshot copies every venue's statistics
func (l *Learner) Snapshot() map[string]*types.VenuePerformance {
	l.mu.RLock()
	ids := make([]string, 0, len(l.venues))
	all := make([]*venueStats, 0, len(l.venues))
	for id, s := range l.venues {
		ids = append(ids, id)
		all = append(all, s)
	}
	l.mu.RUnlock()

	out := make(map[string]*types.VenuePerformance, len(all))
	for i, s := range all {
		s.mu.Lock()
		out[ids[i]] = s.perf.Clone()
		s.mu.Unlock()
	}
	return out
}

// Restore replaces the learner's state with a snapshot
func (l *Learner) Restore(snapshot map[string]*types.VenuePerformance) {
	venues := make(map[string]*venueStats, len(snapshot))
	for id, p := range snapshot {
		if p == nil {
			continue
		}
		c := p.Clone()
		c.VenueID = id
		venues[id] = &venueStats{seeded: c.FillCount > 0, perf: *c}
	}

	l.mu.Lock()
	l.venues = venues
	l.mu.Unlock()
	l.logger.WithField("venues", len(venues)).Info("Learner state restored")
}

// ApplyToRegistry copies learned averages onto venues with at least minSamples fills
func (l *Learner) ApplyToRegistry(sink LearnedSink, minSamples int64) int {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	applied := 0
	for id, p := range l.Snapshot() {
		if p.FillCount < minSamples {
			continue
		}
		if err := sink.ApplyLearned(id, p.AvgSlippage, p.AvgLatencyMs); err != nil {
			l.logger.WithError(err).WithField("venue", id).Warn("Failed to apply learned stats")
			continue
		}
		applied++
	}
	if applied > 0 {
		l.logger.WithField("venues", applied).Debug("Applied learned venue statistics")
	}
	return applied
}

func successRate(fills, failures int64) float64 {
	total := fills + failures
	if total == 0 {
		return 0
	}
	return float64(fills) / float64(total)
}
