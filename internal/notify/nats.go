package notify

import (
	"context"
	"fmt"

	sornats "github.com/mExOms/sor/pkg/nats"
)

// Publisher is the subset of the NATS client used for notifications
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// NATS publishes enveloped events on sor.* subjects
type NATS struct {
	pub    Publisher
	source string
}

// NewNATS creates a NATS notifier
func NewNATS(pub Publisher, source string) *NATS {
	if source == "" {
		source = "sor"
	}
	return &NATS{pub: pub, source: source}
}

func (n *NATS) Publish(_ context.Context, e Event) error {
	env, err := sornats.NewEnvelope(e.ID, string(e.Type), n.source, e.Timestamp, e)
	if err != nil {
		return err
	}
	subject := sornats.EventSubject(string(e.Type), e.VenueID, e.Asset)
	if err := n.pub.Publish(subject, env); err != nil {
		return fmt.Errorf("nats notify %s: %w", e.Type, err)
	}
	return nil
}
