package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sor"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted  *prometheus.CounterVec
	ordersRejected   *prometheus.CounterVec
	ordersCompleted  *prometheus.CounterVec
	executions       *prometheus.CounterVec
	slippageBps      *prometheus.HistogramVec
	executionLatency *prometheus.HistogramVec
	qualityScore     prometheus.Histogram
	qualityAverage   prometheus.Gauge
	breakerOpen      prometheus.Gauge
	venuesOnline     prometheus.Gauge
	notifyErrors     *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders accepted for routing, by strategy",
		}, []string{"strategy"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Orders refused or rejected, by code",
		}, []string{"code"}),
		ordersCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_completed_total",
			Help:      "Orders reaching a final or resting state, by status",
		}, []string{"status"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Fills recorded, by venue",
		}, []string{"venue"}),
		slippageBps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_slippage_bps",
			Help:      "Per-fill slippage in basis points, by venue",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 50, 100},
		}, []string{"venue"}),
		executionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_latency_seconds",
			Help:      "Per-fill venue latency, by venue",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"venue"}),
		qualityScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_quality_score",
			Help:      "Execution quality score per order",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		qualityAverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "execution_quality_average",
			Help:      "Running average execution quality",
		}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_open",
			Help:      "1 while the circuit breaker refuses orders",
		}),
		venuesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "venues_online",
			Help:      "Number of venues currently online",
		}),
		notifyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_errors_total",
			Help:      "Failed event publications, by event type",
		}, []string{"event"}),
	}

	m.registry.MustRegister(
		m.ordersSubmitted, m.ordersRejected, m.ordersCompleted,
		m.executions, m.slippageBps, m.executionLatency,
		m.qualityScore, m.qualityAverage, m.breakerOpen, m.venuesOnline,
		m.notifyErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderSubmitted(strategy string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(strategy).Inc()
}

func (m *Metrics) OrderRejected(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.ordersRejected.WithLabelValues(code).Inc()
}

func (m *Metrics) OrderCompleted(status string) {
	if m == nil {
		return
	}
	m.ordersCompleted.WithLabelValues(status).Inc()
}

func (m *Metrics) Execution(venue string, slippageBps float64, latency time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(venue).Inc()
	m.slippageBps.WithLabelValues(venue).Observe(slippageBps)
	m.executionLatency.WithLabelValues(venue).Observe(latency.Seconds())
}

func (m *Metrics) Quality(score, average float64) {
	if m == nil {
		return
	}
	m.qualityScore.Observe(score)
	m.qualityAverage.Set(average)
}

func (m *Metrics) BreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerOpen.Set(1)
	} else {
		m.breakerOpen.Set(0)
	}
}

func (m *Metrics) VenuesOnline(n int) {
	if m == nil {
		return
	}
	m.venuesOnline.Set(float64(n))
}

func (m *Metrics) NotifyError(event string) {
	if m == nil {
		return
	}
	m.notifyErrors.WithLabelValues(event).Inc()
}
