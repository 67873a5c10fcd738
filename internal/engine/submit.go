package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mExOms/sor/internal/notify"
	"github.com/mExOms/sor/internal/quality"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one order in SubmitBatch
type BatchResult struct {
	Order *types.Order
	Err   error
}

// Submit creates an order from spec and carries it through validation,
// routing and execution. When the order is created but does not complete,
// the returned order holds its final state next to the error. A refusal by
// the circuit breaker creates no order.
func (e *Engine) Submit(ctx context.Context, spec types.OrderSpec) (*types.Order, error) {
	if err := e.breaker.Allow(); err != nil {
		e.metrics.OrderRejected(types.CodeOf(err))
		return nil, err
	}

	o := types.NewOrder(uuid.NewString(), spec, e.now())
	e.metrics.OrderSubmitted(string(o.Strategy))
	if ref, ok := e.prices.ReferencePrice(o); ok {
		o.ReferencePrice = ref
	}

	logger := e.logger.WithFields(logrus.Fields{
		"order_id": o.ID,
		"asset":    o.Asset,
		"side":     o.Side,
		"strategy": o.Strategy,
	})

	mu := e.lock(o.ID)
	mu.Lock()
	if err := e.orders.Save(o); err != nil {
		mu.Unlock()
		return nil, err
	}

	if o.IsExpired(e.now()) {
		e.expireLocked(ctx, o)
		mu.Unlock()
		return o.Clone(), nil
	}

	if err := e.validator.Validate(o, o.ReferencePrice); err != nil {
		logger.WithError(err).Info("Order failed validation")
		e.rejectLocked(ctx, o, err)
		mu.Unlock()
		return o.Clone(), err
	}
	reserved := o.Notional(o.ReferencePrice)
	e.countOrder()

	if err := e.transition(o, types.OrderStatusRouting); err != nil {
		mu.Unlock()
		return o.Clone(), err
	}
	decision, err := e.router.Route(o, o.ReferencePrice)
	if err != nil {
		logger.WithError(err).Info("Order could not be routed")
		e.validator.Release(reserved)
		e.rejectLocked(ctx, o, err)
		mu.Unlock()
		return o.Clone(), err
	}
	v, err := e.registry.Get(decision.SelectedVenue)
	if err != nil {
		e.validator.Release(reserved)
		e.rejectLocked(ctx, o, err)
		mu.Unlock()
		return o.Clone(), err
	}
	o.RoutedVenue = v.ID
	if err := e.transition(o, types.OrderStatusSubmitted); err != nil {
		mu.Unlock()
		return o.Clone(), err
	}
	mu.Unlock()

	routed := notify.NewEvent(notify.EventOrderRouted, e.now()).ForOrder(o.Clone())
	routed.Decision = decision
	e.publish(ctx, routed)

	execCtx := ctx
	if e.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
		defer cancel()
	}
	execs, execErr := e.adapter.Execute(execCtx, o.Clone(), v, o.ReferencePrice)

	mu.Lock()
	defer mu.Unlock()

	if execErr != nil {
		if !errors.Is(execErr, types.ErrAdapterFailure) {
			execErr = types.Reject(types.ErrAdapterFailure, "execution on %s failed", v.ID).Wrap(execErr)
		}
		logger.WithError(execErr).WithField("venue", v.ID).Warn("Execution failed")
		e.learner.RecordFailure(v.ID)
		e.validator.Release(reserved)
		e.rejectLocked(ctx, o, execErr)
		return o.Clone(), execErr
	}

	execs = capFills(o, execs)
	filled := decimal.Zero
	for _, x := range execs {
		filled = filled.Add(x.Quantity)
	}
	if !filled.IsPositive() {
		err := types.Reject(types.ErrAdapterFailure, "venue %s returned no fills", v.ID)
		e.learner.RecordFailure(v.ID)
		e.validator.Release(reserved)
		e.rejectLocked(ctx, o, err)
		return o.Clone(), err
	}
	if !o.AllowPartialFill && filled.LessThan(o.Quantity) {
		err := types.Reject(types.ErrPartialFillRejected,
			"venue %s filled %s of %s and partial fills are not allowed", v.ID, filled, o.Quantity)
		logger.WithError(err).Info("Partial fill rejected")
		e.learner.RecordFailure(v.ID)
		e.validator.Release(reserved)
		e.rejectLocked(ctx, o, err)
		return o.Clone(), err
	}

	e.applyFills(ctx, o, v, execs)
	return o.Clone(), nil
}

// SubmitBatch submits specs with at most parallelism orders in flight.
// Results are in the order of specs; only a cancelled ctx is returned as
// an error.
func (e *Engine) SubmitBatch(ctx context.Context, specs []types.OrderSpec, parallelism int) ([]BatchResult, error) {
	if parallelism <= 0 {
		parallelism = 1
	}
	results := make([]BatchResult, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := range specs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return err
			}
			o, err := e.Submit(gctx, specs[i])
			results[i] = BatchResult{Order: o, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// applyFills records executions and moves the order to partial or filled.
// An IOC order's unfilled remainder is cancelled.
func (e *Engine) applyFills(ctx context.Context, o *types.Order, v types.Venue, execs []types.Execution) {
	if err := e.executions.Append(o.ID, execs...); err != nil {
		e.logger.WithError(err).WithField("order_id", o.ID).Error("Failed to store executions")
	}

	notional := decimal.Zero
	for _, x := range execs {
		e.learner.Record(v, x)
		e.metrics.Execution(x.VenueID, x.SlippageBps, x.Latency)
		o.FilledQuantity = o.FilledQuantity.Add(x.Quantity)
		notional = notional.Add(x.Price.Mul(x.Quantity))
	}
	e.addVolume(notional)
	o.AvgFillPrice = quality.VWAP(e.executions.List(o.ID))

	next := types.OrderStatusPartial
	if !o.RemainingQuantity().IsPositive() {
		next = types.OrderStatusFilled
	}
	if err := e.transition(o, next); err != nil {
		e.logger.WithError(err).WithField("order_id", o.ID).Error("Failed to apply fills")
		return
	}

	ev := notify.NewEvent(notify.EventOrderExecuted, e.now()).ForOrder(o.Clone())
	ev.Executions = execs
	e.publish(ctx, ev)

	e.logger.WithFields(logrus.Fields{
		"order_id":  o.ID,
		"venue":     v.ID,
		"filled":    o.FilledQuantity.String(),
		"avg_price": o.AvgFillPrice.String(),
		"status":    o.Status,
	}).Info("Order executed")

	switch {
	case o.Status == types.OrderStatusFilled:
		e.metrics.OrderCompleted(string(o.Status))
		e.assess(ctx, o)
	case o.TimeInForce == types.TimeInForceIOC:
		e.cancelLocked(ctx, o, "immediate-or-cancel remainder")
	}
}

// capFills drops fill quantity beyond what the order still needs
func capFills(o *types.Order, execs []types.Execution) []types.Execution {
	remaining := o.RemainingQuantity()
	out := make([]types.Execution, 0, len(execs))
	for _, x := range execs {
		if !remaining.IsPositive() {
			break
		}
		if !x.Quantity.IsPositive() {
			continue
		}
		if x.Quantity.GreaterThan(remaining) {
			x.Quantity = remaining
		}
		remaining = remaining.Sub(x.Quantity)
		out = append(out, x)
	}
	return out
}
