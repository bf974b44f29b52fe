// Package booking drives the multi-step booking protocol on top of the
// inventory Allocator and Synchronizer: create, cancel (with cascade over
// linked bookings), seat change and resource change.  None of the steps
// share a database transaction; every step that completes pushes its
// inverse onto a cleanup stack that runs if a later step fails.
package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/iliyamo/travel-reservation/internal/apperror"
	"github.com/iliyamo/travel-reservation/internal/clock"
	"github.com/iliyamo/travel-reservation/internal/inventory"
	"github.com/iliyamo/travel-reservation/internal/model"
	"github.com/iliyamo/travel-reservation/internal/queue"
	"github.com/iliyamo/travel-reservation/internal/repository"
)

// Deps are the collaborators every Service needs.
type Deps struct {
	Allocator *inventory.Allocator
	Sync      *inventory.Synchronizer
	Catalog   Catalog
	Store     Store
	Refunds   RefundRecorder
	Cipher    Cipher
}

// Option customises a Service.
type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }

func WithPolicy(p RefundPolicy) Option { return func(s *Service) { s.policy = p } }

// WithCrossSellDiscount sets the percentage taken off a booking that is
// linked to a primary booking.
func WithCrossSellDiscount(pct int) Option { return func(s *Service) { s.discountPct = pct } }

// WithCallTimeout bounds each store call the service makes directly.
func WithCallTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// Service is the booking orchestrator.
type Service struct {
	alloc       *inventory.Allocator
	sync        *inventory.Synchronizer
	catalog     Catalog
	store       Store
	refunds     RefundRecorder
	cipher      Cipher
	pub         Publisher
	clock       clock.Clock
	policy      RefundPolicy
	discountPct int
	timeout     time.Duration
	log         *zap.Logger
	validate    *validator.Validate
}

// NewService wires a Service.  It panics when a required dependency is
// missing or the policy is inconsistent.
func NewService(d Deps, opts ...Option) *Service {
	if d.Allocator == nil || d.Sync == nil || d.Catalog == nil || d.Store == nil || d.Refunds == nil || d.Cipher == nil {
		panic("nil dependency passed to booking.NewService")
	}
	s := &Service{
		alloc:       d.Allocator,
		sync:        d.Sync,
		catalog:     d.Catalog,
		store:       d.Store,
		refunds:     d.Refunds,
		cipher:      d.Cipher,
		pub:         nopPublisher{},
		clock:       clock.NewSystem(),
		policy:      DefaultRefundPolicy(),
		discountPct: 10,
		timeout:     inventory.DefaultCallTimeout,
		log:         zap.NewNop(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.policy.Validate(); err != nil {
		panic(err)
	}
	return s
}

func (s *Service) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// GetBooking returns a booking with its line items.
func (s *Service) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	cctx, cancel := s.call(ctx)
	defer cancel()
	b, err := s.store.GetBooking(cctx, id)
	if err != nil {
		return nil, storeError("load booking", err, "booking")
	}
	return b, nil
}

// ListCustomerBookings returns every booking of a customer, newest first.
func (s *Service) ListCustomerBookings(ctx context.Context, customerID string) ([]model.Booking, error) {
	cctx, cancel := s.call(ctx)
	defer cancel()
	out, err := s.store.ListByCustomer(cctx, customerID)
	if err != nil {
		return nil, storeError("list bookings", err, "booking")
	}
	return out, nil
}

// Reconcile compares a resource's counter with its unit rows and, when
// repair is set, overwrites a diverged counter.
func (s *Service) Reconcile(ctx context.Context, resourceID string, repair bool) (inventory.Report, error) {
	var (
		r   inventory.Report
		err error
	)
	if repair {
		r, err = s.sync.Repair(ctx, resourceID)
	} else {
		r, err = s.sync.Reconcile(ctx, resourceID)
	}
	if errors.Is(err, inventory.ErrUnknownResource) {
		return r, apperror.NotFound("resource")
	}
	if err != nil {
		s.log.Error("reconcile failed", zap.String("resource_id", resourceID), zap.Error(err))
		return r, apperror.ReservationFailed("reconcile", err)
	}
	return r, nil
}

// ReconcileAll sweeps every resource.
func (s *Service) ReconcileAll(ctx context.Context, repair bool) (inventory.SweepResult, error) {
	res, err := s.sync.ReconcileAll(ctx, repair)
	if err != nil {
		return res, apperror.ReservationFailed("reconcile sweep", err)
	}
	return res, nil
}

// CompleteRefund is the settlement callback of the payment collaborator:
// it moves a CANCELLED booking to REFUNDED and settles its refund record.
// A record the cancel failed to write is rebuilt first.
func (s *Service) CompleteRefund(ctx context.Context, bookingID string) (*model.Booking, error) {
	ctx = context.WithoutCancel(ctx)
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.CanTransitionTo(model.BookingRefunded) {
		return nil, apperror.Conflict("booking %s is %s, only cancelled bookings can be refunded", b.ID, strings.ToLower(string(b.Status)))
	}
	now := s.clock.Now()
	err = s.settle(ctx, b.ID, now)
	if errors.Is(err, repository.ErrNotFound) {
		if err = s.rebuildRefund(ctx, b); err == nil {
			err = s.settle(ctx, b.ID, now)
		}
	}
	if err != nil {
		if _, ok := apperror.As(err); ok {
			return nil, err
		}
		return nil, apperror.ReservationFailed("settle refund", err)
	}
	cctx, cancel := s.call(ctx)
	err = s.store.UpdateStatus(cctx, b.ID, model.BookingCancelled, model.BookingRefunded, b.Version)
	cancel()
	if err != nil {
		return nil, storeError("mark refunded", err, "booking")
	}
	b.Status = model.BookingRefunded
	b.Version++
	b.UpdatedAt = now
	return b, nil
}

func (s *Service) settle(ctx context.Context, bookingID string, at time.Time) error {
	cctx, cancel := s.call(ctx)
	defer cancel()
	return s.refunds.SettleRefund(cctx, bookingID, at)
}

// rebuildRefund writes the pending refund of a cancelled booking that has
// none, computed as of the cancellation, which is the booking's last
// update.
func (s *Service) rebuildRefund(ctx context.Context, b *model.Booking) error {
	res, err := s.loadResource(ctx, b.ResourceID)
	if err != nil {
		return err
	}
	refund, err := s.refundFor(b, res, b.UpdatedAt)
	if err != nil {
		return apperror.Conflict("booking %s has no pending refund and none can be derived: %v", b.ID, err)
	}
	cctx, cancel := s.call(ctx)
	err = s.refunds.RecordPendingRefund(cctx, refund)
	cancel()
	if err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return err
	}
	s.log.Warn("pending refund rebuilt",
		zap.String("booking_id", b.ID),
		zap.String("tier", string(refund.Tier)),
		zap.Int64("amount_cents", refund.AmountCents))
	return nil
}

func (s *Service) loadResource(ctx context.Context, id string) (*model.Resource, error) {
	cctx, cancel := s.call(ctx)
	defer cancel()
	r, err := s.catalog.GetResource(cctx, id)
	if err != nil {
		return nil, storeError("load resource", err, "resource")
	}
	return r, nil
}

func (s *Service) publish(ctx context.Context, ev queue.Event) {
	ev.OccurredAt = s.clock.Now()
	cctx, cancel := s.call(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.pub.Publish(cctx, ev); err != nil {
		s.log.Warn("publish event failed", zap.String("type", ev.Type), zap.String("booking_id", ev.BookingID), zap.Error(err))
	}
}

// storeError translates repository sentinels into the engine's taxonomy.
func storeError(step string, err error, what string) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperror.NotFound(what)
	case errors.Is(err, repository.ErrConflict):
		return apperror.Conflict("%s was changed concurrently", what)
	}
	return apperror.ReservationFailed(step, err)
}

// discount returns the cross-sell discount on gross for a linked booking.
func (s *Service) discount(gross int64, linked bool) int64 {
	if !linked || s.discountPct <= 0 {
		return 0
	}
	return gross * int64(s.discountPct) / 100
}
