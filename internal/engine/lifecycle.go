package engine

import (
	"context"
	"errors"

	"github.com/mExOms/sor/internal/notify"
	"github.com/mExOms/sor/pkg/types"
	"github.com/sirupsen/logrus"
)

// Cancel cancels an order that is pending, routing or partially filled.
// Any other state returns ErrNotCancellable and leaves the order unchanged.
func (e *Engine) Cancel(ctx context.Context, orderID string) (*types.Order, error) {
	mu := e.lock(orderID)
	mu.Lock()
	defer e.unlock(orderID, mu)

	o, ok := e.orders.Get(orderID)
	if !ok {
		return nil, types.Reject(types.ErrOrderNotFound, "order %s not found", orderID)
	}
	e.expireIfDue(ctx, o)
	if !o.Status.Cancellable() {
		return o, types.Reject(types.ErrNotCancellable, "order %s is %s", orderID, o.Status)
	}
	e.cancelLocked(ctx, o, "cancelled by request")
	return o.Clone(), nil
}

// Order returns a copy of an order, expiring it first if its time in force has elapsed
func (e *Engine) Order(ctx context.Context, orderID string) (*types.Order, error) {
	mu := e.lock(orderID)
	mu.Lock()
	defer e.unlock(orderID, mu)

	o, ok := e.orders.Get(orderID)
	if !ok {
		return nil, types.Reject(types.ErrOrderNotFound, "order %s not found", orderID)
	}
	e.expireIfDue(ctx, o)
	return o, nil
}

// Orders returns every known order without applying expiry
func (e *Engine) Orders() []*types.Order {
	return e.orders.List()
}

func (e *Engine) transition(o *types.Order, to types.OrderStatus) error {
	if err := o.Transition(to, e.now()); err != nil {
		e.logger.WithError(err).WithField("order_id", o.ID).Error("Illegal order transition")
		return err
	}
	if err := e.orders.Save(o); err != nil {
		e.logger.WithError(err).WithField("order_id", o.ID).Error("Failed to save order")
	}
	// Terminal orders are never mutated again, so their mutex can go.
	if to.IsTerminal() {
		e.locks.Delete(o.ID)
	}
	return nil
}

// expireIfDue expires an idle order whose expiry has passed. Submitted
// orders are mid-execution and are left alone.
func (e *Engine) expireIfDue(ctx context.Context, o *types.Order) {
	switch o.Status {
	case types.OrderStatusPending, types.OrderStatusRouting, types.OrderStatusPartial:
	default:
		return
	}
	if o.IsExpired(e.now()) {
		e.expireLocked(ctx, o)
	}
}

func (e *Engine) rejectLocked(ctx context.Context, o *types.Order, cause error) {
	code := types.CodeOf(cause)
	var rej *types.RejectionError
	if errors.As(cause, &rej) {
		o.RejectReason = rej.Reason
	} else {
		o.RejectReason = cause.Error()
	}
	if err := e.transition(o, types.OrderStatusRejected); err != nil {
		return
	}

	e.breaker.RecordFailure(code)
	e.metrics.OrderRejected(code)
	e.metrics.OrderCompleted(string(o.Status))

	ev := notify.NewEvent(notify.EventOrderRejected, e.now()).ForOrder(o.Clone())
	ev.Reason = code + ": " + o.RejectReason
	e.publish(ctx, ev)
}

func (e *Engine) cancelLocked(ctx context.Context, o *types.Order, reason string) {
	reserved := o.Status != types.OrderStatusPending
	if err := e.transition(o, types.OrderStatusCancelled); err != nil {
		return
	}
	if reserved {
		e.validator.Release(o.RemainingQuantity().Mul(o.ReferencePrice))
	}

	e.breaker.RecordFailure("order cancelled")
	e.metrics.OrderCompleted(string(o.Status))
	e.logger.WithFields(logrus.Fields{
		"order_id": o.ID,
		"filled":   o.FilledQuantity.String(),
		"reason":   reason,
	}).Info("Order cancelled")

	ev := notify.NewEvent(notify.EventOrderCancelled, e.now()).ForOrder(o.Clone())
	ev.Reason = reason
	e.publish(ctx, ev)
	e.assess(ctx, o)
}

func (e *Engine) expireLocked(ctx context.Context, o *types.Order) {
	reserved := o.Status != types.OrderStatusPending
	if err := e.transition(o, types.OrderStatusExpired); err != nil {
		return
	}
	if reserved {
		e.validator.Release(o.RemainingQuantity().Mul(o.ReferencePrice))
	}

	e.metrics.OrderCompleted(string(o.Status))
	e.logger.WithFields(logrus.Fields{
		"order_id":   o.ID,
		"expires_at": o.ExpiresAt,
	}).Info("Order expired")

	ev := notify.NewEvent(notify.EventOrderExpired, e.now()).ForOrder(o.Clone())
	ev.Reason = "time in force elapsed"
	e.publish(ctx, ev)
	e.assess(ctx, o)
}

// assess produces the quality report once the order has executions and is final
func (e *Engine) assess(ctx context.Context, o *types.Order) {
	execs := e.executions.List(o.ID)
	if len(execs) == 0 {
		return
	}
	q, err := e.quality.Assess(o, execs)
	if err != nil {
		e.logger.WithError(err).WithField("order_id", o.ID).Warn("Quality assessment failed")
		return
	}
	avg, _ := e.quality.Average()
	e.metrics.Quality(q.QualityScore, avg)

	ev := notify.NewEvent(notify.EventQualityReport, q.Timestamp).ForOrder(o.Clone())
	ev.Quality = q
	e.publish(ctx, ev)
}
