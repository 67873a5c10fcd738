package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mExOms/sor/pkg/types"
)

// EventType names an outbound event
type EventType string

const (
	EventOrderRouted    EventType = "order.routed"
	EventOrderExecuted  EventType = "order.executed"
	EventOrderRejected  EventType = "order.rejected"
	EventOrderCancelled EventType = "order.cancelled"
	EventOrderExpired   EventType = "order.expired"
	EventQualityReport  EventType = "quality.report"
	EventQualityAlert   EventType = "quality.alert"
	EventBreakerTripped EventType = "breaker.tripped"
	EventBreakerReset   EventType = "breaker.reset"
	EventVenueStatus    EventType = "venue.status"
)

// BreakerInfo describes a breaker transition
type BreakerInfo struct {
	State    string    `json:"state"`
	Failures int       `json:"failures"`
	ResetAt  time.Time `json:"reset_at,omitempty"`
}

// Event is published to downstream collaborators. Only the fields relevant
// to the event type are set.
type Event struct {
	ID         string                  `json:"id"`
	Type       EventType               `json:"type"`
	Timestamp  time.Time               `json:"timestamp"`
	OrderID    string                  `json:"order_id,omitempty"`
	VenueID    string                  `json:"venue_id,omitempty"`
	Asset      string                  `json:"asset,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
	Order      *types.Order            `json:"order,omitempty"`
	Decision   *types.RoutingDecision  `json:"decision,omitempty"`
	Executions []types.Execution       `json:"executions,omitempty"`
	Quality    *types.ExecutionQuality `json:"quality,omitempty"`
	Breaker    *BreakerInfo            `json:"breaker,omitempty"`
	Venue      *types.Venue            `json:"venue,omitempty"`
}

// NewEvent stamps a new event of type t
func NewEvent(t EventType, now time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, Timestamp: now}
}

// ForOrder fills the order-related fields from o
func (e Event) ForOrder(o *types.Order) Event {
	e.Order = o
	e.OrderID = o.ID
	e.Asset = o.Asset
	e.VenueID = o.RoutedVenue
	if e.Reason == "" {
		e.Reason = o.RejectReason
	}
	return e
}

// Notifier receives outbound events
type Notifier interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
