package engine

import (
	"context"
	"errors"

	"github.com/mExOms/sor/internal/notify"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Resume routes and executes the unfilled remainder of a partially filled
// order, moving it to partial or filled. The order lock is held across the
// venue call, so a concurrent Cancel waits for the attempt to finish. A failed
// attempt leaves the order partial with its remainder still reserved.
func (e *Engine) Resume(ctx context.Context, orderID string) (*types.Order, error) {
	mu := e.lock(orderID)
	mu.Lock()
	defer e.unlock(orderID, mu)

	o, ok := e.orders.Get(orderID)
	if !ok {
		return nil, types.Reject(types.ErrOrderNotFound, "order %s not found", orderID)
	}
	e.expireIfDue(ctx, o)
	if o.Status != types.OrderStatusPartial {
		return o, types.Reject(types.ErrInvalidTransition, "order %s is %s; only partial orders resume", orderID, o.Status)
	}
	if err := e.breaker.Allow(); err != nil {
		e.metrics.OrderRejected(types.CodeOf(err))
		return o, err
	}

	logger := e.logger.WithFields(logrus.Fields{
		"order_id":  o.ID,
		"asset":     o.Asset,
		"remaining": o.RemainingQuantity().String(),
	})

	// Route the remainder as if it were a fresh order of that size.
	remainder := o.Clone()
	remainder.Quantity = o.RemainingQuantity()
	remainder.FilledQuantity = decimal.Zero
	decision, err := e.router.Route(remainder, o.ReferencePrice)
	if err != nil {
		logger.WithError(err).Info("Remainder could not be routed")
		return o.Clone(), err
	}
	v, err := e.registry.Get(decision.SelectedVenue)
	if err != nil {
		return o.Clone(), err
	}
	o.RoutedVenue = v.ID
	if err := e.orders.Save(o); err != nil {
		logger.WithError(err).Error("Failed to save order")
	}

	routed := notify.NewEvent(notify.EventOrderRouted, e.now()).ForOrder(o.Clone())
	routed.Decision = decision
	e.publish(ctx, routed)

	execCtx := ctx
	if e.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
		defer cancel()
	}
	execs, err := e.adapter.Execute(execCtx, o.Clone(), v, o.ReferencePrice)
	if err != nil {
		if !errors.Is(err, types.ErrAdapterFailure) {
			err = types.Reject(types.ErrAdapterFailure, "execution on %s failed", v.ID).Wrap(err)
		}
		logger.WithError(err).WithField("venue", v.ID).Warn("Remainder execution failed")
		e.learner.RecordFailure(v.ID)
		return o.Clone(), err
	}

	execs = capFills(o, execs)
	if len(execs) == 0 {
		e.learner.RecordFailure(v.ID)
		return o.Clone(), types.Reject(types.ErrAdapterFailure, "venue %s returned no fills", v.ID)
	}

	e.applyFills(ctx, o, v, execs)
	return o.Clone(), nil
}

// resumePartials retries every partial order once and returns how many filled
func (e *Engine) resumePartials(ctx context.Context) int {
	filled := 0
	for _, o := range e.orders.List() {
		if o.Status != types.OrderStatusPartial {
			continue
		}
		if err := ctx.Err(); err != nil {
			return filled
		}
		res, err := e.Resume(ctx, o.ID)
		if err != nil {
			e.logger.WithError(err).WithField("order_id", o.ID).Debug("Partial order not resumed")
			continue
		}
		if res.Status == types.OrderStatusFilled {
			filled++
		}
	}
	return filled
}
