package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mExOms/sor/internal/breaker"
	"github.com/mExOms/sor/internal/execution"
	"github.com/mExOms/sor/internal/monitor"
	"github.com/mExOms/sor/internal/notify"
	"github.com/mExOms/sor/internal/quality"
	"github.com/mExOms/sor/internal/risk"
	"github.com/mExOms/sor/internal/router"
	"github.com/mExOms/sor/internal/venue"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config holds engine settings
type Config struct {
	Limits           risk.Limits
	Breaker          breaker.Config
	Quality          quality.Config
	LearningRate     float64
	PriceTTL         time.Duration
	ExecutionTimeout time.Duration
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		Limits:           risk.DefaultLimits(),
		Breaker:          breaker.DefaultConfig(),
		Quality:          quality.DefaultConfig(),
		LearningRate:     router.DefaultLearningRate,
		PriceTTL:         time.Minute,
		ExecutionTimeout: 30 * time.Second,
	}
}

// Engine accepts orders, routes them to venues, executes them and tracks
// their lifecycle. Submissions run concurrently; each order is guarded by
// its own lock.
type Engine struct {
	cfg Config

	registry  *venue.Registry
	validator *risk.Validator
	learner   *router.Learner
	router    *router.Router
	adapter   execution.Adapter
	quality   *quality.Analyzer
	breaker   *breaker.Breaker
	prices    *router.PriceBook

	orders     OrderRepository
	executions ExecutionRepository
	locks      sync.Map

	notifier notify.Notifier
	metrics  *monitor.Metrics

	venueRepo     venue.Repository
	decisionStore router.DecisionStore

	statsMu     sync.Mutex
	statsDay    time.Time
	ordersToday int64
	volumeToday decimal.Decimal

	now    func() time.Time
	logger *logrus.Entry
}

// Option customises an Engine
type Option func(*Engine)

// WithNotifier sets the outbound event sink
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *monitor.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRepositories replaces the in-memory order and execution stores
func WithRepositories(orders OrderRepository, execs ExecutionRepository) Option {
	return func(e *Engine) {
		if orders != nil {
			e.orders = orders
		}
		if execs != nil {
			e.executions = execs
		}
	}
}

// WithVenueRepository replaces the in-memory venue store
func WithVenueRepository(repo venue.Repository) Option {
	return func(e *Engine) { e.venueRepo = repo }
}

// WithDecisionStore replaces the in-memory routing decision store
func WithDecisionStore(store router.DecisionStore) Option {
	return func(e *Engine) { e.decisionStore = store }
}

// WithClock replaces the time source of the engine and its components
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine around the given execution adapter
func New(cfg Config, adapter execution.Adapter, logger *logrus.Entry, opts ...Option) (*Engine, error) {
	if adapter == nil {
		return nil, fmt.Errorf("execution adapter is required")
	}
	def := DefaultConfig()
	if cfg.Limits.MaxOrderNotional.IsZero() {
		cfg.Limits.MaxOrderNotional = def.Limits.MaxOrderNotional
	}
	if cfg.Limits.MaxDailyNotional.IsZero() {
		cfg.Limits.MaxDailyNotional = def.Limits.MaxDailyNotional
	}
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = def.PriceTTL
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	e := &Engine{
		cfg:        cfg,
		adapter:    adapter,
		orders:     NewMemoryOrderRepository(),
		executions: NewMemoryExecutionRepository(),
		notifier:   notify.Nop{},
		venueRepo:  venue.NewMemoryRepository(),
		now:        time.Now,
		logger:     logger.WithField("component", "sor-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = notify.Nop{}
	}

	e.registry = venue.NewRegistry(e.venueRepo, logger)
	e.learner = router.NewLearner(cfg.LearningRate, logger)
	e.router = router.NewRouter(e.registry, e.learner, e.decisionStore, logger)
	e.validator = risk.NewValidator(cfg.Limits, e.registry, logger)
	e.quality = quality.NewAnalyzer(cfg.Quality, logger)
	e.breaker = breaker.New(cfg.Breaker, logger)
	e.prices = router.NewPriceBook(cfg.PriceTTL)

	e.registry.SetClock(e.now)
	e.validator.SetClock(e.now)
	e.router.SetClock(e.now)
	e.learner.SetClock(e.now)
	e.quality.SetClock(e.now)
	e.breaker.SetClock(e.now)
	e.statsDay = startOfDay(e.now())
	e.volumeToday = decimal.Zero

	e.registry.OnStatusChange(e.onVenueStatus)
	e.breaker.OnChange(e.onBreakerChange)
	e.quality.OnAlert(e.onQualityAlert)

	return e, nil
}

// Registry returns the venue registry
func (e *Engine) Registry() *venue.Registry { return e.registry }

// Learner returns the venue performance learner
func (e *Engine) Learner() *router.Learner { return e.learner }

// Breaker returns the circuit breaker
func (e *Engine) Breaker() *breaker.Breaker { return e.breaker }

// QualityAnalyzer returns the execution quality analyzer
func (e *Engine) QualityAnalyzer() *quality.Analyzer { return e.quality }

// Close releases background resources
func (e *Engine) Close() {
	e.prices.Close()
}

// RegisterVenue adds or replaces a venue
func (e *Engine) RegisterVenue(v types.Venue) error {
	if err := e.registry.Register(v); err != nil {
		return err
	}
	_, online := e.registry.Counts()
	e.metrics.VenuesOnline(online)
	return nil
}

// UpdateVenueStatus records a venue health report
func (e *Engine) UpdateVenueStatus(id string, status types.VenueStatus) error {
	return e.registry.UpdateStatus(id, status)
}

// SetReferencePrice publishes the current reference price for an asset
func (e *Engine) SetReferencePrice(asset string, price decimal.Decimal) {
	e.prices.Set(asset, price)
}

// Decision returns the latest routing decision for an order
func (e *Engine) Decision(orderID string) (*types.RoutingDecision, error) {
	d, ok := e.router.Decision(orderID)
	if !ok {
		return nil, types.Reject(types.ErrOrderNotFound, "no routing decision for order %s", orderID)
	}
	return d, nil
}

// Quality returns the execution quality report for an order
func (e *Engine) Quality(orderID string) (*types.ExecutionQuality, error) {
	q, ok := e.quality.Report(orderID)
	if !ok {
		return nil, types.Reject(types.ErrOrderNotFound, "no quality report for order %s", orderID)
	}
	return q, nil
}

// Executions returns the fills recorded for an order
func (e *Engine) Executions(orderID string) ([]types.Execution, error) {
	if _, ok := e.orders.Get(orderID); !ok {
		return nil, types.Reject(types.ErrOrderNotFound, "order %s not found", orderID)
	}
	return e.executions.List(orderID), nil
}

func (e *Engine) lock(orderID string) *sync.Mutex {
	m, _ := e.locks.LoadOrStore(orderID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// unlock releases mu and drops the order's entry once the order is final or unknown
func (e *Engine) unlock(orderID string, mu *sync.Mutex) {
	if o, ok := e.orders.Get(orderID); !ok || o.Status.IsTerminal() {
		e.locks.Delete(orderID)
	}
	mu.Unlock()
}

func (e *Engine) publish(ctx context.Context, ev notify.Event) {
	if err := e.notifier.Publish(ctx, ev); err != nil {
		e.metrics.NotifyError(string(ev.Type))
		e.logger.WithError(err).WithFields(logrus.Fields{
			"event":    ev.Type,
			"order_id": ev.OrderID,
		}).Warn("Failed to publish event")
	}
}

func (e *Engine) onVenueStatus(c venue.StatusChange) {
	_, online := e.registry.Counts()
	e.metrics.VenuesOnline(online)

	v := c.Venue
	ev := notify.NewEvent(notify.EventVenueStatus, c.Timestamp)
	ev.VenueID = v.ID
	ev.Venue = &v
	ev.Reason = fmt.Sprintf("%s -> %s", c.Previous, v.Status)
	e.publish(context.Background(), ev)
}

func (e *Engine) onBreakerChange(t breaker.Transition) {
	open := t.To == breaker.StateOpen
	e.metrics.BreakerOpen(open)

	typ := notify.EventBreakerReset
	if open {
		typ = notify.EventBreakerTripped
	}
	status := e.breaker.Status()
	ev := notify.NewEvent(typ, t.Timestamp)
	ev.Reason = t.Reason
	ev.Breaker = &notify.BreakerInfo{
		State:    string(t.To),
		Failures: t.Failures,
		ResetAt:  status.ResetAt,
	}
	e.publish(context.Background(), ev)
}

func (e *Engine) onQualityAlert(a quality.Alert) {
	report := a.Report
	ev := notify.NewEvent(notify.EventQualityAlert, report.Timestamp)
	ev.OrderID = report.OrderID
	ev.Asset = report.Asset
	ev.Quality = &report
	ev.Reason = fmt.Sprintf("quality score %.1f below threshold %.1f", report.QualityScore, a.Threshold)
	e.publish(context.Background(), ev)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
