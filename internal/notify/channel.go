package notify

import (
	"context"
	"sync/atomic"
)

// Channel delivers events on a buffered channel. Publish never blocks; when
// the buffer is full the event is dropped and counted.
type Channel struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewChannel creates a channel notifier with the given buffer size
func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Channel{ch: make(chan Event, buffer)}
}

// Events is the receive side
func (c *Channel) Events() <-chan Event {
	return c.ch
}

// Dropped returns the number of events lost to a full buffer
func (c *Channel) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Channel) Publish(_ context.Context, e Event) error {
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
	return nil
}
