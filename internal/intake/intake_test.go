package intake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	sornats "github.com/mExOms/sor/pkg/nats"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu       sync.Mutex
	orders   map[string]*types.Order
	specs    []types.OrderSpec
	statuses map[string]types.VenueStatus
	prices   map[string]decimal.Decimal
}

func newFakeService() *fakeService {
	return &fakeService{
		orders:   make(map[string]*types.Order),
		statuses: map[string]types.VenueStatus{"A": types.VenueOffline},
		prices:   make(map[string]decimal.Decimal),
	}
}

func (s *fakeService) Submit(_ context.Context, spec types.OrderSpec) (*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs = append(s.specs, spec)
	if spec.Asset == "" {
		return nil, types.Reject(types.ErrValidation, "asset is required")
	}
	o := &types.Order{ID: "o-1", Asset: spec.Asset, Quantity: spec.Quantity, Status: types.OrderStatusFilled}
	s.orders[o.ID] = o
	return o, nil
}

func (s *fakeService) Cancel(_ context.Context, orderID string) (*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, types.Reject(types.ErrOrderNotFound, "order %s not found", orderID)
	}
	return o, types.Reject(types.ErrNotCancellable, "order %s is %s", orderID, o.Status)
}

func (s *fakeService) Resume(_ context.Context, orderID string) (*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, types.Reject(types.ErrOrderNotFound, "order %s not found", orderID)
	}
	return o, nil
}

func (s *fakeService) UpdateVenueStatus(id string, status types.VenueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.statuses[id]; !ok {
		return types.Reject(types.ErrVenueNotFound, "venue %s not found", id)
	}
	s.statuses[id] = status
	return nil
}

func (s *fakeService) SetReferencePrice(asset string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[asset] = price
}

// fakeBus records handlers by subject in place of a NATS connection
type fakeBus struct {
	requests map[string]sornats.RequestHandler
	feeds    map[string]sornats.MessageHandler
	queues   map[string]string
	failOn   string
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		requests: make(map[string]sornats.RequestHandler),
		feeds:    make(map[string]sornats.MessageHandler),
		queues:   make(map[string]string),
	}
}

func (b *fakeBus) Subscribe(subject string, handler sornats.MessageHandler) (*sornats.Subscription, error) {
	if subject == b.failOn {
		return nil, errors.New("subscription refused")
	}
	b.feeds[subject] = handler
	return sornats.NewSubscription(subject, nil), nil
}

func (b *fakeBus) SubscribeRequests(subject, queue string, handler sornats.RequestHandler) (*sornats.Subscription, error) {
	if subject == b.failOn {
		return nil, errors.New("subscription refused")
	}
	b.requests[subject] = handler
	b.queues[subject] = queue
	return sornats.NewSubscription(subject, nil), nil
}

func (b *fakeBus) request(t *testing.T, subject string, payload interface{}) (interface{}, error) {
	t.Helper()
	h, ok := b.requests[subject]
	require.True(t, ok, "no handler for %s", subject)
	return h(subject, marshal(t, payload))
}

func (b *fakeBus) feed(t *testing.T, pattern, subject string, payload interface{}) error {
	t.Helper()
	h, ok := b.feeds[pattern]
	require.True(t, ok, "no handler for %s", pattern)
	return h(subject, marshal(t, payload))
}

func marshal(t *testing.T, payload interface{}) []byte {
	t.Helper()
	switch p := payload.(type) {
	case nil:
		return nil
	case string:
		return []byte(p)
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return data
}

func startIntake(t *testing.T) (*Intake, *fakeService, *fakeBus) {
	t.Helper()
	svc := newFakeService()
	bus := newFakeBus()
	in := New(svc, DefaultConfig(), nil)
	require.NoError(t, in.Start(context.Background(), bus))
	t.Cleanup(func() { _ = in.Stop() })
	return in, svc, bus
}

func TestStart_SubscribesEveryInboundSubject(t *testing.T) {
	in, _, bus := startIntake(t)

	assert.Len(t, bus.requests, 3)
	for _, subject := range []string{sornats.SubjectSubmitOrder, sornats.SubjectCancelOrder, sornats.SubjectResumeOrder} {
		assert.Contains(t, bus.requests, subject)
		assert.Equal(t, "sor-server", bus.queues[subject])
	}
	assert.Contains(t, bus.feeds, sornats.SubjectVenueHeartbeat)
	assert.Contains(t, bus.feeds, sornats.SubjectReferencePrice)
	assert.Len(t, in.subs, 5)

	require.NoError(t, in.Stop())
	assert.Empty(t, in.subs)
}

func TestStart_FailureRemovesEarlierSubscriptions(t *testing.T) {
	bus := newFakeBus()
	bus.failOn = sornats.SubjectReferencePrice
	in := New(newFakeService(), DefaultConfig(), nil)

	err := in.Start(context.Background(), bus)
	require.Error(t, err)
	assert.Empty(t, in.subs)
}

func TestHandleSubmit(t *testing.T) {
	_, svc, bus := startIntake(t)

	spec := types.OrderSpec{
		ClientOrderID: "c-1",
		Asset:         "X",
		Side:          types.SideBuy,
		Type:          types.OrderTypeMarket,
		Quantity:      decimal.NewFromInt(10),
	}
	res, err := bus.request(t, sornats.SubjectSubmitOrder, spec)
	require.NoError(t, err)
	o, ok := res.(*types.Order)
	require.True(t, ok)
	assert.Equal(t, types.OrderStatusFilled, o.Status)
	require.Len(t, svc.specs, 1)
	assert.Equal(t, "c-1", svc.specs[0].ClientOrderID)
	assert.True(t, svc.specs[0].Quantity.Equal(decimal.NewFromInt(10)))

	env, err := sornats.NewEnvelope("e-1", "order.submit", "desk", time.Now(), spec)
	require.NoError(t, err)
	_, err = bus.request(t, sornats.SubjectSubmitOrder, env)
	require.NoError(t, err)
	require.Len(t, svc.specs, 2)
	assert.Equal(t, "X", svc.specs[1].Asset)
}

func TestHandleSubmit_Errors(t *testing.T) {
	_, svc, bus := startIntake(t)

	res, err := bus.request(t, sornats.SubjectSubmitOrder, "not json")
	assert.True(t, errors.Is(err, types.ErrValidation))
	assert.Nil(t, res)
	assert.Empty(t, svc.specs)

	res, err = bus.request(t, sornats.SubjectSubmitOrder, types.OrderSpec{Quantity: decimal.NewFromInt(1)})
	assert.Equal(t, "validation_error", types.CodeOf(err))
	assert.Nil(t, res, "a rejected submit without an order replies with no result")
}

func TestHandleCancelAndResume(t *testing.T) {
	_, _, bus := startIntake(t)

	_, err := bus.request(t, sornats.SubjectSubmitOrder, types.OrderSpec{Asset: "X", Quantity: decimal.NewFromInt(1)})
	require.NoError(t, err)

	res, err := bus.request(t, sornats.SubjectCancelOrder, OrderRef{OrderID: "o-1"})
	assert.True(t, errors.Is(err, types.ErrNotCancellable))
	require.IsType(t, &types.Order{}, res)
	assert.Equal(t, "o-1", res.(*types.Order).ID)

	res, err = bus.request(t, sornats.SubjectResumeOrder, OrderRef{OrderID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, "o-1", res.(*types.Order).ID)

	res, err = bus.request(t, sornats.SubjectResumeOrder, OrderRef{OrderID: "missing"})
	assert.True(t, errors.Is(err, types.ErrOrderNotFound))
	assert.Nil(t, res)

	for _, subject := range []string{sornats.SubjectCancelOrder, sornats.SubjectResumeOrder} {
		_, err = bus.request(t, subject, OrderRef{})
		assert.True(t, errors.Is(err, types.ErrValidation), subject)
		_, err = bus.request(t, subject, "{")
		assert.True(t, errors.Is(err, types.ErrValidation), subject)
	}
}

func TestHandleHeartbeat(t *testing.T) {
	_, svc, bus := startIntake(t)

	require.NoError(t, bus.feed(t, sornats.SubjectVenueHeartbeat, sornats.HeartbeatSubject("A"), nil))
	assert.Equal(t, types.VenueOnline, svc.statuses["A"], "an empty heartbeat marks the subject's venue online")

	require.NoError(t, bus.feed(t, sornats.SubjectVenueHeartbeat, sornats.HeartbeatSubject("A"), Heartbeat{Status: types.VenueDegraded}))
	assert.Equal(t, types.VenueDegraded, svc.statuses["A"])

	require.NoError(t, bus.feed(t, sornats.SubjectVenueHeartbeat, sornats.HeartbeatSubject("other"), Heartbeat{VenueID: "A", Status: types.VenueOffline}))
	assert.Equal(t, types.VenueOffline, svc.statuses["A"])

	err := bus.feed(t, sornats.SubjectVenueHeartbeat, sornats.HeartbeatSubject("Z"), nil)
	assert.True(t, errors.Is(err, types.ErrVenueNotFound))

	assert.Error(t, bus.feed(t, sornats.SubjectVenueHeartbeat, sornats.HeartbeatSubject("A"), "garbage"))
}

func TestHandlePrice(t *testing.T) {
	_, svc, bus := startIntake(t)

	require.NoError(t, bus.feed(t, sornats.SubjectReferencePrice, sornats.PriceSubject("X"), PriceUpdate{Price: decimal.NewFromInt(100)}))
	assert.True(t, svc.prices["X"].Equal(decimal.NewFromInt(100)))

	env, err := sornats.NewEnvelope("e-2", "market.price", "feed", time.Now(), PriceUpdate{Asset: "Y", Price: decimal.RequireFromString("2.5")})
	require.NoError(t, err)
	require.NoError(t, bus.feed(t, sornats.SubjectReferencePrice, sornats.PriceSubject("ignored"), env))
	assert.True(t, svc.prices["Y"].Equal(decimal.RequireFromString("2.5")))
	assert.NotContains(t, svc.prices, "ignored")

	assert.Error(t, bus.feed(t, sornats.SubjectReferencePrice, sornats.PriceSubject("X"), PriceUpdate{Price: decimal.NewFromInt(-1)}))
	assert.Error(t, bus.feed(t, sornats.SubjectReferencePrice, sornats.PriceSubject("X"), PriceUpdate{}))
	assert.True(t, svc.prices["X"].Equal(decimal.NewFromInt(100)), "rejected updates leave the price alone")
}
