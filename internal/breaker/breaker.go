package breaker

import (
	"sync"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/sirupsen/logrus"
)

// State of the breaker
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// Config holds breaker thresholds
type Config struct {
	Window    time.Duration `mapstructure:"window"`
	Threshold int           `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// DefaultConfig trips after 5 failures within a minute and stays open for 5 minutes.
func DefaultConfig() Config {
	return Config{
		Window:    time.Minute,
		Threshold: 5,
		Cooldown:  5 * time.Minute,
	}
}

// Transition is passed to the change listener
type Transition struct {
	From      State
	To        State
	Failures  int
	Reason    string
	Timestamp time.Time
}

// Status is a point-in-time view of the breaker
type Status struct {
	State          State     `json:"state"`
	RecentFailures int       `json:"recent_failures"`
	TrippedAt      time.Time `json:"tripped_at,omitempty"`
	ResetAt        time.Time `json:"reset_at,omitempty"`
}

// Breaker stops order intake when too many orders fail in a trailing window.
// Once open it refuses everything until the cool-down elapses, then closes
// on the next Allow or State call.
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	state     State
	failures  []time.Time
	trippedAt time.Time

	now      func() time.Time
	onChange func(Transition)
	logger   *logrus.Entry
}

// New creates a closed breaker
func New(cfg Config, logger *logrus.Entry) *Breaker {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Breaker{
		cfg:    cfg,
		state:  StateClosed,
		now:    time.Now,
		logger: logger.WithField("component", "circuit-breaker"),
	}
}

// SetClock replaces the time source
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// OnChange registers a listener for trip and reset transitions
func (b *Breaker) OnChange(fn func(Transition)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow returns ErrCircuitBreakerActive while the breaker is open
func (b *Breaker) Allow() error {
	b.mu.Lock()
	tr := b.maybeResetLocked()
	state, resetAt := b.state, b.trippedAt.Add(b.cfg.Cooldown)
	b.mu.Unlock()

	b.emit(tr)
	if state == StateOpen {
		return types.Reject(types.ErrCircuitBreakerActive,
			"too many failed orders, intake paused until %s", resetAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// RecordFailure registers a rejected or cancelled order
func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	now := b.now()
	b.failures = append(b.pruneLocked(now), now)

	var tr *Transition
	if b.state == StateClosed && len(b.failures) >= b.cfg.Threshold {
		b.state = StateOpen
		b.trippedAt = now
		tr = &Transition{
			From:      StateClosed,
			To:        StateOpen,
			Failures:  len(b.failures),
			Reason:    reason,
			Timestamp: now,
		}
	}
	b.mu.Unlock()

	b.emit(tr)
}

// State returns the current state, applying an elapsed cool-down first
func (b *Breaker) State() State {
	b.mu.Lock()
	tr := b.maybeResetLocked()
	state := b.state
	b.mu.Unlock()

	b.emit(tr)
	return state
}

// Status returns the breaker's counters
func (b *Breaker) Status() Status {
	b.mu.Lock()
	tr := b.maybeResetLocked()
	now := b.now()
	b.failures = b.pruneLocked(now)
	st := Status{State: b.state, RecentFailures: len(b.failures)}
	if b.state == StateOpen {
		st.TrippedAt = b.trippedAt
		st.ResetAt = b.trippedAt.Add(b.cfg.Cooldown)
	}
	b.mu.Unlock()

	b.emit(tr)
	return st
}

// Reset closes the breaker immediately and clears the window
func (b *Breaker) Reset() {
	b.mu.Lock()
	var tr *Transition
	if b.state == StateOpen {
		tr = &Transition{From: StateOpen, To: StateClosed, Reason: "manual reset", Timestamp: b.now()}
	}
	b.state = StateClosed
	b.failures = nil
	b.trippedAt = time.Time{}
	b.mu.Unlock()

	b.emit(tr)
}

func (b *Breaker) maybeResetLocked() *Transition {
	if b.state != StateOpen {
		return nil
	}
	now := b.now()
	if now.Sub(b.trippedAt) < b.cfg.Cooldown {
		return nil
	}
	b.state = StateClosed
	b.failures = nil
	b.trippedAt = time.Time{}
	return &Transition{From: StateOpen, To: StateClosed, Reason: "cool-down elapsed", Timestamp: now}
}

func (b *Breaker) pruneLocked(now time.Time) []time.Time {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failures) && !b.failures[i].After(cutoff) {
		i++
	}
	return b.failures[i:]
}

func (b *Breaker) emit(tr *Transition) {
	if tr == nil {
		return
	}
	fields := logrus.Fields{"from": tr.From, "to": tr.To, "reason": tr.Reason}
	if tr.To == StateOpen {
		b.logger.WithFields(fields).WithField("failures", tr.Failures).Warn("Circuit breaker tripped")
	} else {
		b.logger.WithFields(fields).Info("Circuit breaker reset")
	}

	b.mu.Lock()
	fn := b.onChange
	b.mu.Unlock()
	if fn != nil {
		fn(*tr)
	}
}
