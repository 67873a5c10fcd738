package types

import (
	"fmt"
	"time"
)

// OrderStatus is a lifecycle state
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusRouting   OrderStatus = "routing"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusExpired   OrderStatus = "expired"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusRouting, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired},
	OrderStatusRouting:   {OrderStatusSubmitted, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired},
	OrderStatusSubmitted: {OrderStatusPartial, OrderStatusFilled, OrderStatusRejected, OrderStatusExpired},
	OrderStatusPartial:   {OrderStatusPartial, OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired},
}

// IsTerminal reports whether no further transition is possible
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Cancellable reports whether a cancel request is honoured in this state
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusRouting || s == OrderStatusPartial
}

// CanTransition reports whether from -> to is a legal lifecycle edge
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the order to the next state or returns ErrInvalidTransition
func (o *Order) Transition(to OrderStatus, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}
