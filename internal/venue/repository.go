package venue

import (
	"sort"
	"sync"

	"github.com/mExOms/sor/pkg/types"
)

// Repository stores venue records
type Repository interface {
	Save(v types.Venue) error
	Get(id string) (types.Venue, bool)
	List() []types.Venue
}

// MemoryRepository keeps venues in a map
type MemoryRepository struct {
	mu     sync.RWMutex
	venues map[string]types.Venue
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{venues: make(map[string]types.Venue)}
}

func (r *MemoryRepository) Save(v types.Venue) error {
	r.mu.Lock()
	r.venues[v.ID] = v.Clone()
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Get(id string) (types.Venue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[id]
	if !ok {
		return types.Venue{}, false
	}
	return v.Clone(), true
}

// List returns copies ordered by venue ID
func (r *MemoryRepository) List() []types.Venue {
	r.mu.RLock()
	out := make([]types.Venue, 0, len(r.venues))
	for _, v := range r.venues {
		out = append(out, v.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
