package engine

import (
	"github.com/mExOms/sor/internal/breaker"
	"github.com/shopspring/decimal"
)

// Stats is the operational summary of the engine
type Stats struct {
	Venues         int             `json:"venues"`
	OnlineVenues   int             `json:"online_venues"`
	OrdersToday    int64           `json:"orders_today"`
	VolumeToday    decimal.Decimal `json:"volume_today"`
	NotionalUsed   decimal.Decimal `json:"notional_used"`
	AverageQuality float64         `json:"average_quality"`
	Breaker        breaker.Status  `json:"breaker"`
}

// Stats returns venue counts, today's order count and filled volume, the
// running quality average and the breaker state
func (e *Engine) Stats() Stats {
	total, online := e.registry.Counts()
	used, _ := e.validator.Usage()
	avg, _ := e.quality.Average()

	e.statsMu.Lock()
	e.rollStatsLocked()
	orders, volume := e.ordersToday, e.volumeToday
	e.statsMu.Unlock()

	return Stats{
		Venues:         total,
		OnlineVenues:   online,
		OrdersToday:    orders,
		VolumeToday:    volume,
		NotionalUsed:   used,
		AverageQuality: avg,
		Breaker:        e.breaker.Status(),
	}
}

// ResetDailyCounters zeroes today's order count, volume and notional usage
func (e *Engine) ResetDailyCounters() {
	e.statsMu.Lock()
	e.ordersToday = 0
	e.volumeToday = decimal.Zero
	e.statsDay = startOfDay(e.now())
	e.statsMu.Unlock()

	e.validator.ResetDaily()
	e.logger.Info("Daily counters reset")
}

func (e *Engine) countOrder() {
	e.statsMu.Lock()
	e.rollStatsLocked()
	e.ordersToday++
	e.statsMu.Unlock()
}

func (e *Engine) addVolume(notional decimal.Decimal) {
	e.statsMu.Lock()
	e.rollStatsLocked()
	e.volumeToday = e.volumeToday.Add(notional)
	e.statsMu.Unlock()
}

func (e *Engine) rollStatsLocked() {
	if day := startOfDay(e.now()); day.After(e.statsDay) {
		e.statsDay = day
		e.ordersToday = 0
		e.volumeToday = decimal.Zero
	}
}
