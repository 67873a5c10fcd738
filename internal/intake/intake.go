package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sornats "github.com/mExOms/sor/pkg/nats"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Service is the part of the engine driven by inbound messages
type Service interface {
	Submit(ctx context.Context, spec types.OrderSpec) (*types.Order, error)
	Cancel(ctx context.Context, orderID string) (*types.Order, error)
	Resume(ctx context.Context, orderID string) (*types.Order, error)
	UpdateVenueStatus(id string, status types.VenueStatus) error
	SetReferencePrice(asset string, price decimal.Decimal)
}

// Subscriber is implemented by pkg/nats.Client
type Subscriber interface {
	Subscribe(subject string, handler sornats.MessageHandler) (*sornats.Subscription, error)
	SubscribeRequests(subject, queue string, handler sornats.RequestHandler) (*sornats.Subscription, error)
}

// Config tunes the intake
type Config struct {
	Queue          string        `mapstructure:"queue"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DefaultConfig shares requests across instances in the "sor-server" queue group
func DefaultConfig() Config {
	return Config{Queue: "sor-server", RequestTimeout: 30 * time.Second}
}

// OrderRef names an order in cancel and resume requests
type OrderRef struct {
	OrderID string `json:"order_id"`
}

// Heartbeat reports a venue's status. An empty status means online; an
// empty venue ID is taken from the subject.
type Heartbeat struct {
	VenueID string            `json:"venue_id,omitempty"`
	Status  types.VenueStatus `json:"status,omitempty"`
}

// PriceUpdate sets the reference price of an asset. An empty asset is taken
// from the subject.
type PriceUpdate struct {
	Asset string          `json:"asset,omitempty"`
	Price decimal.Decimal `json:"price"`
}

// Intake feeds order requests, venue heartbeats and reference prices from the
// message bus into the engine
type Intake struct {
	svc    Service
	cfg    Config
	ctx    context.Context
	mu     sync.Mutex
	subs   []*sornats.Subscription
	logger *logrus.Entry
}

// New creates an intake for svc
func New(svc Service, cfg Config, logger *logrus.Entry) *Intake {
	if cfg.Queue == "" {
		cfg.Queue = DefaultConfig().Queue
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Intake{
		svc:    svc,
		cfg:    cfg,
		ctx:    context.Background(),
		logger: logger.WithField("component", "intake"),
	}
}

// Start subscribes to every inbound subject. Handlers run under ctx; on any
// subscription failure the ones already made are removed.
func (in *Intake) Start(ctx context.Context, sub Subscriber) error {
	in.mu.Lock()
	in.ctx = ctx
	in.mu.Unlock()

	requests := []struct {
		subject string
		handler sornats.RequestHandler
	}{
		{sornats.SubjectSubmitOrder, in.handleSubmit},
		{sornats.SubjectCancelOrder, in.handleCancel},
		{sornats.SubjectResumeOrder, in.handleResume},
	}
	for _, r := range requests {
		s, err := sub.SubscribeRequests(r.subject, in.cfg.Queue, r.handler)
		if err != nil {
			in.Stop()
			return err
		}
		in.track(s)
	}

	feeds := []struct {
		subject string
		handler sornats.MessageHandler
	}{
		{sornats.SubjectVenueHeartbeat, in.handleHeartbeat},
		{sornats.SubjectReferencePrice, in.handlePrice},
	}
	for _, f := range feeds {
		s, err := sub.Subscribe(f.subject, f.handler)
		if err != nil {
			in.Stop()
			return err
		}
		in.track(s)
	}

	in.logger.WithField("subscriptions", len(requests)+len(feeds)).Info("Intake started")
	return nil
}

// Stop removes every subscription
func (in *Intake) Stop() error {
	in.mu.Lock()
	subs := in.subs
	in.subs = nil
	in.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", s.Subject(), err))
		}
	}
	return errors.Join(errs...)
}

func (in *Intake) track(s *sornats.Subscription) {
	in.mu.Lock()
	in.subs = append(in.subs, s)
	in.mu.Unlock()
}

func (in *Intake) requestContext() (context.Context, context.CancelFunc) {
	in.mu.Lock()
	ctx := in.ctx
	in.mu.Unlock()
	if in.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, in.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (in *Intake) handleSubmit(_ string, data []byte) (interface{}, error) {
	var spec types.OrderSpec
	if err := decode(data, &spec); err != nil {
		return nil, types.Reject(types.ErrValidation, "malformed order request").Wrap(err)
	}
	ctx, cancel := in.requestContext()
	defer cancel()

	o, err := in.svc.Submit(ctx, spec)
	entry := in.logger.WithField("client_order_id", spec.ClientOrderID)
	if o != nil {
		entry = entry.WithFields(logrus.Fields{"order_id": o.ID, "status": o.Status})
	}
	if err != nil {
		entry.WithError(err).Info("Order request not completed")
	} else {
		entry.Debug("Order request completed")
	}
	return orderResult(o, err)
}

func (in *Intake) handleCancel(_ string, data []byte) (interface{}, error) {
	ref, err := decodeRef(data)
	if err != nil {
		return nil, err
	}
	ctx, cancel := in.requestContext()
	defer cancel()
	return orderResult(in.svc.Cancel(ctx, ref.OrderID))
}

func (in *Intake) handleResume(_ string, data []byte) (interface{}, error) {
	ref, err := decodeRef(data)
	if err != nil {
		return nil, err
	}
	ctx, cancel := in.requestContext()
	defer cancel()
	return orderResult(in.svc.Resume(ctx, ref.OrderID))
}

func (in *Intake) handleHeartbeat(subject string, data []byte) error {
	var hb Heartbeat
	if len(data) > 0 {
		if err := decode(data, &hb); err != nil {
			return fmt.Errorf("malformed heartbeat: %w", err)
		}
	}
	if hb.VenueID == "" {
		hb.VenueID = sornats.LastToken(subject)
	}
	if hb.Status == "" {
		hb.Status = types.VenueOnline
	}
	return in.svc.UpdateVenueStatus(hb.VenueID, hb.Status)
}

func (in *Intake) handlePrice(subject string, data []byte) error {
	var p PriceUpdate
	if err := decode(data, &p); err != nil {
		return fmt.Errorf("malformed price update: %w", err)
	}
	if p.Asset == "" {
		p.Asset = sornats.LastToken(subject)
	}
	if !p.Price.IsPositive() {
		return fmt.Errorf("price for %s must be positive, got %s", p.Asset, p.Price)
	}
	in.svc.SetReferencePrice(p.Asset, p.Price)
	return nil
}

// orderResult keeps a missing order out of the reply as a nil interface
func orderResult(o *types.Order, err error) (interface{}, error) {
	if o == nil {
		return nil, err
	}
	return o, err
}

func decodeRef(data []byte) (OrderRef, error) {
	var ref OrderRef
	if err := decode(data, &ref); err != nil {
		return ref, types.Reject(types.ErrValidation, "malformed order reference").Wrap(err)
	}
	if ref.OrderID == "" {
		return ref, types.Reject(types.ErrValidation, "order_id is required")
	}
	return ref, nil
}

// decode accepts either an Envelope or the bare JSON payload
func decode(data []byte, out interface{}) error {
	var env sornats.Envelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.Payload) > 0 {
		data = env.Payload
	}
	return json.Unmarshal(data, out)
}
