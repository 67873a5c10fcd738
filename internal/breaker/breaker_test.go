package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker() (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	b := New(DefaultConfig(), nil)
	b.SetClock(clock.Now)
	return b, clock
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < 4; i++ {
		b.RecordFailure("rejected")
		clock.Advance(5 * time.Second)
	}
	assert.NoError(t, b.Allow())
	assert.Equal(t, StateClosed, b.State())

	b.RecordFailure("rejected")
	err := b.Allow()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCircuitBreakerActive))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIgnoresFailuresOutsideWindow(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < 4; i++ {
		b.RecordFailure("rejected")
	}
	clock.Advance(61 * time.Second)
	b.RecordFailure("rejected")

	assert.NoError(t, b.Allow())
	assert.Equal(t, 1, b.Status().RecentFailures)
}

func TestBreakerAutoResetsAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker()

	var transitions []Transition
	b.OnChange(func(tr Transition) { transitions = append(transitions, tr) })

	for i := 0; i < 5; i++ {
		b.RecordFailure("cancelled")
	}
	require.Error(t, b.Allow())

	clock.Advance(4*time.Minute + 59*time.Second)
	require.Error(t, b.Allow())

	clock.Advance(time.Second)
	assert.NoError(t, b.Allow())
	assert.Equal(t, 0, b.Status().RecentFailures)

	require.Len(t, transitions, 2)
	assert.Equal(t, StateOpen, transitions[0].To)
	assert.Equal(t, 5, transitions[0].Failures)
	assert.Equal(t, StateClosed, transitions[1].To)
}

func TestBreakerManualReset(t *testing.T) {
	b, _ := newTestBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure("rejected")
	}
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerStatusWhileOpen(t *testing.T) {
	b, clock := newTestBreaker()
	start := clock.Now()
	for i := 0; i < 5; i++ {
		b.RecordFailure("rejected")
	}
	st := b.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, start, st.TrippedAt)
	assert.Equal(t, start.Add(5*time.Minute), st.ResetAt)
}
