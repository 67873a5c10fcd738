package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Log writes events to a logrus entry
type Log struct {
	logger *logrus.Entry
}

// NewLog creates a log notifier
func NewLog(logger *logrus.Entry) *Log {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Log{logger: logger.WithField("component", "notifier")}
}

func (l *Log) Publish(_ context.Context, e Event) error {
	entry := l.logger.WithFields(logrus.Fields{
		"event":    e.Type,
		"event_id": e.ID,
	})
	if e.OrderID != "" {
		entry = entry.WithField("order_id", e.OrderID)
	}
	if e.VenueID != "" {
		entry = entry.WithField("venue", e.VenueID)
	}
	if e.Reason != "" {
		entry = entry.WithField("reason", e.Reason)
	}

	switch e.Type {
	case EventQualityAlert, EventBreakerTripped, EventOrderRejected:
		entry.Warn("Event")
	default:
		entry.Info("Event")
	}
	return nil
}
