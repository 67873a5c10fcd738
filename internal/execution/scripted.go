package execution

import (
	"context"
	"sync"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
)

// ScriptedFill describes how a venue responds in a Scripted adapter
type ScriptedFill struct {
	Fraction float64 // of the remaining quantity; 0 means 1
	Slippage float64
	Latency  time.Duration
	Slices   int
}

// Scripted is a deterministic adapter. Venues without a script fill in full at
// their configured slippage and latency.
type Scripted struct {
	mu    sync.Mutex
	fills map[string]ScriptedFill
	errs  map[string]error
	calls []string
	now   func() time.Time
}

// NewScripted creates an empty script
func NewScripted() *Scripted {
	return &Scripted{
		fills: make(map[string]ScriptedFill),
		errs:  make(map[string]error),
		now:   time.Now,
	}
}

// SetFill scripts the response of a venue
func (s *Scripted) SetFill(venueID string, f ScriptedFill) {
	s.mu.Lock()
	s.fills[venueID] = f
	delete(s.errs, venueID)
	s.mu.Unlock()
}

// SetError makes every call to the venue fail with err
func (s *Scripted) SetError(venueID string, err error) {
	s.mu.Lock()
	s.errs[venueID] = err
	s.mu.Unlock()
}

// Calls returns the venue IDs executed against, in order
func (s *Scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Scripted) Execute(ctx context.Context, o *types.Order, v types.Venue, ref decimal.Decimal) ([]types.Execution, error) {
	s.mu.Lock()
	s.calls = append(s.calls, v.ID)
	scriptErr, failing := s.errs[v.ID]
	f, scripted := s.fills[v.ID]
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, types.Reject(types.ErrAdapterFailure, "execution on %s cancelled", v.ID).Wrap(err)
	}
	if failing {
		return nil, types.Reject(types.ErrAdapterFailure, "venue %s rejected order %s", v.ID, o.ID).Wrap(scriptErr)
	}
	if !scripted {
		f = ScriptedFill{
			Slippage: v.AvgSlippage,
			Latency:  time.Duration(v.AvgLatencyMs * float64(time.Millisecond)),
		}
	}
	if f.Fraction <= 0 {
		f.Fraction = 1
	}

	qty := o.RemainingQuantity()
	if f.Fraction < 1 {
		qty = qty.Mul(decimal.NewFromFloat(f.Fraction)).Truncate(8)
	}
	price := slipPrice(o, ref, f.Slippage)

	parts := splitQuantity(qty, f.Slices)
	execs := make([]types.Execution, 0, len(parts))
	for _, part := range parts {
		execs = append(execs, newExecution(o, v, ref, part, price, f.Latency, s.now()))
	}
	return execs, nil
}
