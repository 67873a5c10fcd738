package router

import (
	"sync"

	"github.com/mExOms/sor/pkg/types"
)

// DecisionStore keeps routing decisions keyed by order ID
type DecisionStore interface {
	Save(d *types.RoutingDecision) error
	Latest(orderID string) (*types.RoutingDecision, bool)
	History(orderID string) []*types.RoutingDecision
}

// MemoryDecisionStore retains every routing attempt per order
type MemoryDecisionStore struct {
	mu        sync.RWMutex
	decisions map[string][]*types.RoutingDecision
}

// NewMemoryDecisionStore creates an empty store
func NewMemoryDecisionStore() *MemoryDecisionStore {
	return &MemoryDecisionStore{decisions: make(map[string][]*types.RoutingDecision)}
}

func (s *MemoryDecisionStore) Save(d *types.RoutingDecision) error {
	s.mu.Lock()
	s.decisions[d.OrderID] = append(s.decisions[d.OrderID], d.Clone())
	s.mu.Unlock()
	return nil
}

func (s *MemoryDecisionStore) Latest(orderID string) (*types.RoutingDecision, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds := s.decisions[orderID]
	if len(ds) == 0 {
		return nil, false
	}
	return ds[len(ds)-1].Clone(), true
}

func (s *MemoryDecisionStore) History(orderID string) []*types.RoutingDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.RoutingDecision, 0, len(s.decisions[orderID]))
	for _, d := range s.decisions[orderID] {
		out = append(out, d.Clone())
	}
	return out
}
