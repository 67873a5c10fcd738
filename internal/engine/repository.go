package engine

import (
	"sort"
	"sync"

	"github.com/mExOms/sor/pkg/types"
)

// OrderRepository stores orders by ID. Implementations must store and return copies.
type OrderRepository interface {
	Save(o *types.Order) error
	Get(id string) (*types.Order, bool)
	List() []*types.Order
}

// ExecutionRepository stores fills per order
type ExecutionRepository interface {
	Append(orderID string, execs ...types.Execution) error
	List(orderID string) []types.Execution
}

// MemoryOrderRepository keeps orders in memory
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*types.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*types.Order)}
}

func (r *MemoryOrderRepository) Save(o *types.Order) error {
	r.mu.Lock()
	r.orders[o.ID] = o.Clone()
	r.mu.Unlock()
	return nil
}

func (r *MemoryOrderRepository) Get(id string) (*types.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// List returns all orders, oldest first
func (r *MemoryOrderRepository) List() []*types.Order {
	r.mu.RLock()
	out := make([]*types.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MemoryExecutionRepository keeps fills in memory, indexed by order ID
type MemoryExecutionRepository struct {
	mu    sync.RWMutex
	fills map[string][]types.Execution
}

func NewMemoryExecutionRepository() *MemoryExecutionRepository {
	return &MemoryExecutionRepository{fills: make(map[string][]types.Execution)}
}

func (r *MemoryExecutionRepository) Append(orderID string, execs ...types.Execution) error {
	r.mu.Lock()
	r.fills[orderID] = append(r.fills[orderID], execs...)
	r.mu.Unlock()
	return nil
}

func (r *MemoryExecutionRepository) List(orderID string) []types.Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.Execution(nil), r.fills[orderID]...)
}
