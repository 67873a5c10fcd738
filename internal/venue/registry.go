package venue

import (
	"fmt"
	"sync"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/sirupsen/logrus"
)

// StatusChange is passed to the registry listener
type StatusChange struct {
	Venue     types.Venue
	Previous  types.VenueStatus
	Timestamp time.Time
}

// Registry is the catalog of venues and their current status
type Registry struct {
	mu   sync.Mutex // serialises read-modify-write on the repository
	repo Repository

	now      func() time.Time
	onChange func(StatusChange)
	logger   *logrus.Entry
}

// NewRegistry creates a registry backed by repo (in-memory when nil)
func NewRegistry(repo Repository, logger *logrus.Entry) *Registry {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		repo:   repo,
		now:    time.Now,
		logger: logger.WithField("component", "venue-registry"),
	}
}

// SetClock replaces the time source
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// OnStatusChange registers a listener called when a venue's status changes
func (r *Registry) OnStatusChange(fn func(StatusChange)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register adds or replaces a venue
func (r *Registry) Register(v types.Venue) error {
	if v.ID == "" {
		return types.Reject(types.ErrValidation, "venue id is required")
	}
	if v.Name == "" {
		v.Name = v.ID
	}
	if v.Kind == "" {
		v.Kind = types.VenueKindExchange
	}
	if v.Status == "" {
		v.Status = types.VenueOnline
	}
	if !v.Status.Valid() {
		return types.Reject(types.ErrValidation, "unknown venue status %q", v.Status)
	}
	if v.FillRate < 0 || v.FillRate > 1 || v.Uptime < 0 || v.Uptime > 1 {
		return types.Reject(types.ErrValidation, "fill rate and uptime must be within [0,1]")
	}

	r.mu.Lock()
	v.LastUpdate = r.now()
	err := r.repo.Save(v)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to save venue %s: %w", v.ID, err)
	}

	r.logger.WithFields(logrus.Fields{
		"venue":  v.ID,
		"kind":   v.Kind,
		"status": v.Status,
	}).Info("Venue registered")
	return nil
}

// UpdateStatus sets a venue's status. Repeating the same status only
// refreshes the timestamp.
func (r *Registry) UpdateStatus(id string, status types.VenueStatus) error {
	if !status.Valid() {
		return types.Reject(types.ErrValidation, "unknown venue status %q", status)
	}

	r.mu.Lock()
	v, ok := r.repo.Get(id)
	if !ok {
		r.mu.Unlock()
		return types.Reject(types.ErrVenueNotFound, "venue %s is not registered", id)
	}
	prev := v.Status
	v.Status = status
	v.LastUpdate = r.now()
	err := r.repo.Save(v)
	fn := r.onChange
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to save venue %s: %w", id, err)
	}
	if prev != status {
		r.logger.WithFields(logrus.Fields{
			"venue": id,
			"from":  prev,
			"to":    status,
		}).Info("Venue status changed")
		if fn != nil {
			fn(StatusChange{Venue: v, Previous: prev, Timestamp: v.LastUpdate})
		}
	}
	return nil
}

// Get returns a copy of one venue
func (r *Registry) Get(id string) (types.Venue, error) {
	v, ok := r.repo.Get(id)
	if !ok {
		return types.Venue{}, types.Reject(types.ErrVenueNotFound, "venue %s is not registered", id)
	}
	return v, nil
}

// List returns copies of all venues ordered by ID
func (r *Registry) List() []types.Venue {
	return r.repo.List()
}

// AvailableVenues returns online venues that trade the asset
func (r *Registry) AvailableVenues(asset string) []types.Venue {
	all := r.repo.List()
	out := make([]types.Venue, 0, len(all))
	for _, v := range all {
		if v.Status == types.VenueOnline && v.SupportsAsset(asset) {
			out = append(out, v)
		}
	}
	return out
}

// Counts returns the number of registered and online venues
func (r *Registry) Counts() (total, online int) {
	for _, v := range r.repo.List() {
		total++
		if v.Status == types.VenueOnline {
			online++
		}
	}
	return total, online
}

// MarkStale downgrades online venues that have not reported within staleAfter
func (r *Registry) MarkStale(staleAfter time.Duration) []string {
	r.mu.Lock()
	now := r.now()
	var stale []string
	var changes []StatusChange
	for _, v := range r.repo.List() {
		if v.Status != types.VenueOnline || now.Sub(v.LastUpdate) <= staleAfter {
			continue
		}
		v.Status = types.VenueDegraded
		if err := r.repo.Save(v); err != nil {
			r.logger.WithError(err).WithField("venue", v.ID).Error("Failed to mark venue stale")
			continue
		}
		stale = append(stale, v.ID)
		changes = append(changes, StatusChange{Venue: v, Previous: types.VenueOnline, Timestamp: now})
	}
	fn := r.onChange
	r.mu.Unlock()

	for _, c := range changes {
		r.logger.WithField("venue", c.Venue.ID).Warn("Venue heartbeat stale, marked degraded")
		if fn != nil {
			fn(c)
		}
	}
	return stale
}

// ApplyLearned overwrites a venue's default slippage and latency with learned values
func (r *Registry) ApplyLearned(id string, avgSlippage, avgLatencyMs float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.repo.Get(id)
	if !ok {
		return types.Reject(types.ErrVenueNotFound, "venue %s is not registered", id)
	}
	v.AvgSlippage = avgSlippage
	v.AvgLatencyMs = avgLatencyMs
	return r.repo.Save(v)
}
