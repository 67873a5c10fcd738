package quality

import (
	"math"
	"time"
)

// Trend summarises reports within a time window
type Trend struct {
	Window          time.Duration `json:"window"`
	Count           int           `json:"count"`
	MeanScore       float64       `json:"mean_score"`
	MinScore        float64       `json:"min_score"`
	MaxScore        float64       `json:"max_score"`
	MeanSlippageBps float64       `json:"mean_slippage_bps"`
	Alerts          int           `json:"alerts"`
	RunningAverage  float64       `json:"running_average"`
}

// Trend aggregates the reports produced in the last window
func (a *Analyzer) Trend(window time.Duration) Trend {
	a.mu.RLock()
	defer a.mu.RUnlock()

	t := Trend{Window: window, RunningAverage: a.average}
	cutoff := a.now().Add(-window)
	var scoreSum, slipSum float64
	t.MinScore = math.Inf(1)
	for i := len(a.history) - 1; i >= 0; i-- {
		q := a.history[i]
		if q.Timestamp.Before(cutoff) {
			break
		}
		t.Count++
		scoreSum += q.QualityScore
		slipSum += q.SlippageBps
		t.MinScore = math.Min(t.MinScore, q.QualityScore)
		t.MaxScore = math.Max(t.MaxScore, q.QualityScore)
		if q.QualityScore < a.cfg.AlertThreshold {
			t.Alerts++
		}
	}
	if t.Count == 0 {
		t.MinScore = 0
		return t
	}
	t.MeanScore = scoreSum / float64(t.Count)
	t.MeanSlippageBps = slipSum / float64(t.Count)
	return t
}
