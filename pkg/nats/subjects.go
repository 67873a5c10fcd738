package nats

import (
	"fmt"
	"strings"
)

// Subject naming convention:
// sor.{category}.{event}.{venue}.{asset}
// Examples:
// - sor.order.routed.NYSE.AAPL
// - sor.quality.alert.*.BTC-USD
// - sor.breaker.tripped.*.*

// Root is the first token of every subject
const Root = "sor"

// SubjectBuilder helps build NATS subjects
type SubjectBuilder struct {
	category string
	event    string
	venue    string
	asset    string
}

// NewSubjectBuilder creates a new subject builder
func NewSubjectBuilder() *SubjectBuilder {
	return &SubjectBuilder{}
}

// WithEvent splits a dotted event type such as "order.routed"
func (sb *SubjectBuilder) WithEvent(eventType string) *SubjectBuilder {
	if i := strings.IndexByte(eventType, '.'); i >= 0 {
		sb.category, sb.event = eventType[:i], eventType[i+1:]
	} else {
		sb.category, sb.event = eventType, ""
	}
	return sb
}

func (sb *SubjectBuilder) WithVenue(venue string) *SubjectBuilder {
	sb.venue = venue
	return sb
}

func (sb *SubjectBuilder) WithAsset(asset string) *SubjectBuilder {
	sb.asset = asset
	return sb
}

// Build creates the subject string. Missing tokens become "*".
func (sb *SubjectBuilder) Build() string {
	parts := []string{Root}
	for _, p := range []string{sb.category, sb.event, sb.venue, sb.asset} {
		parts = append(parts, Token(p))
	}
	return strings.Join(parts, ".")
}

// Token makes s safe for use as a single subject token
func Token(s string) string {
	if s == "" {
		return "*"
	}
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return r.Replace(s)
}

// EventSubject is the subject for an event about an optional venue and asset
func EventSubject(eventType, venue, asset string) string {
	return NewSubjectBuilder().
		WithEvent(eventType).
		WithVenue(venue).
		WithAsset(asset).
		Build()
}

// ParseSubject splits a subject produced by Build
func ParseSubject(subject string) (eventType, venue, asset string, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 5 || parts[0] != Root {
		return "", "", "", fmt.Errorf("invalid subject format: %s", subject)
	}
	return parts[1] + "." + parts[2], parts[3], parts[4], nil
}

// InboundRoot prefixes subjects the service consumes. It is kept apart from
// Root so a stream bound to "sor.>" never captures, or acknowledges, requests.
const InboundRoot = "sor-in"

// Inbound subjects. Heartbeat and price subjects end in the venue ID and the
// asset respectively.
const (
	SubjectSubmitOrder    = InboundRoot + ".order.submit"
	SubjectCancelOrder    = InboundRoot + ".order.cancel"
	SubjectResumeOrder    = InboundRoot + ".order.resume"
	SubjectVenueHeartbeat = InboundRoot + ".venue.heartbeat.*"
	SubjectReferencePrice = InboundRoot + ".market.price.*"
)

// HeartbeatSubject is the subject a venue reports its status on
func HeartbeatSubject(venue string) string {
	return InboundRoot + ".venue.heartbeat." + Token(venue)
}

// PriceSubject is the subject reference prices for asset arrive on
func PriceSubject(asset string) string {
	return InboundRoot + ".market.price." + Token(asset)
}

// LastToken returns the final token of subject
func LastToken(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}
