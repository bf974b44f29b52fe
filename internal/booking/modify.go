package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/travel-reservation/internal/apperror"
	"github.com/iliyamo/travel-reservation/internal/inventory"
	"github.com/iliyamo/travel-reservation/internal/model"
	"github.com/iliyamo/travel-reservation/internal/queue"
	"github.com/iliyamo/travel-reservation/internal/repository"
)

// ModifyUnits moves a booking to other units on the same resource.
// Passengers on units that stay keep them.  New units are claimed before
// the old ones are released, so the customer is never left without a unit.
func (s *Service) ModifyUnits(ctx context.Context, bookingID string, newUnits []string) (*model.Booking, error) {
	ctx = context.WithoutCancel(ctx)
	b, res, err := s.loadForChange(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	units, err := inventory.NormalizeUnits(newUnits)
	if err != nil {
		return nil, err
	}
	if len(units) != len(b.UnitNumbers) {
		return nil, apperror.Validation("booking holds %d units, %d requested", len(b.UnitNumbers), len(units))
	}
	added, removed := inventory.Diff(b.UnitNumbers, units)
	if len(added) == 0 {
		return b, nil
	}
	if !res.Bookable(s.clock.Now()) {
		return nil, apperror.PolicyViolation("resource %s is closed for changes", res.ID)
	}

	log := s.log.With(zap.String("booking_id", b.ID), zap.String("resource_id", res.ID),
		zap.Strings("added", added), zap.Strings("removed", removed))
	sg := newSaga(log)
	if err := s.claimInto(ctx, sg, log, res.ID, added, b.ID); err != nil {
		return nil, err
	}

	next, err := s.rebuild(ctx, b, res.ID, units)
	if err != nil {
		return nil, s.abort(ctx, sg, log, "load unit prices", err)
	}
	if err := s.replace(ctx, sg, log, next, b.Version); err != nil {
		return nil, err
	}

	s.releaseOld(ctx, log, res.ID, removed, b.ID)
	log.Info("booking units changed")
	s.publish(ctx, queue.Event{
		Type:        queue.TypeBookingModified,
		BookingID:   next.ID,
		CustomerID:  next.CustomerID,
		ResourceID:  next.ResourceID,
		UnitNumbers: next.UnitNumbers,
		AmountCents: next.TotalPriceCents,
	})
	return next, nil
}

// ChangeResource moves a booking to another resource of the same kind.
// newUnits defaults to the unit numbers the booking holds today.  The
// destination is claimed first; the source units are released only after
// the moved booking is stored.
func (s *Service) ChangeResource(ctx context.Context, bookingID, newResourceID string, newUnits []string) (*model.Booking, error) {
	ctx = context.WithoutCancel(ctx)
	b, src, err := s.loadForChange(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(newResourceID) == "" {
		return nil, apperror.Validation("destination resource id is required")
	}
	if newResourceID == src.ID {
		return nil, apperror.Validation("booking is already on resource %s", src.ID)
	}
	if len(newUnits) == 0 {
		newUnits = b.UnitNumbers
	}
	units, err := inventory.NormalizeUnits(newUnits)
	if err != nil {
		return nil, err
	}
	if len(units) != len(b.UnitNumbers) {
		return nil, apperror.Validation("booking holds %d units, %d requested", len(b.UnitNumbers), len(units))
	}

	dst, err := s.loadResource(ctx, newResourceID)
	if err != nil {
		return nil, err
	}
	if dst.Kind != src.Kind {
		return nil, apperror.Validation("cannot move a %s booking to a %s", strings.ToLower(string(src.Kind)), strings.ToLower(string(dst.Kind)))
	}
	if !dst.Bookable(s.clock.Now()) {
		return nil, apperror.Validation("resource %s is not open for booking", dst.ID)
	}
	available, _, err := s.sync.Available(ctx, dst.ID)
	if err != nil {
		return nil, storeError("destination headroom", err, "resource")
	}
	if available < len(units) {
		return nil, &apperror.Error{
			Kind:    apperror.KindUnitsUnavailable,
			Message: fmt.Sprintf("resource %s has %d units left, %d needed", dst.ID, available, len(units)),
			Units:   units,
		}
	}

	log := s.log.With(zap.String("booking_id", b.ID), zap.String("from_resource", src.ID),
		zap.String("to_resource", dst.ID), zap.Strings("units", units))
	sg := newSaga(log)
	if err := s.claimInto(ctx, sg, log, dst.ID, units, b.ID); err != nil {
		return nil, err
	}

	next, err := s.rebuild(ctx, b, dst.ID, units)
	if err != nil {
		return nil, s.abort(ctx, sg, log, "load unit prices", err)
	}
	if err := s.replace(ctx, sg, log, next, b.Version); err != nil {
		return nil, err
	}

	s.releaseOld(ctx, log, src.ID, b.UnitNumbers, b.ID)
	log.Info("booking moved")
	s.publish(ctx, queue.Event{
		Type:        queue.TypeBookingModified,
		BookingID:   next.ID,
		CustomerID:  next.CustomerID,
		ResourceID:  next.ResourceID,
		UnitNumbers: next.UnitNumbers,
		AmountCents: next.TotalPriceCents,
	})
	return next, nil
}

// loadForChange loads a CONFIRMED booking and its resource and applies the
// change window.  A resource the operator cancelled may be left any time.
func (s *Service) loadForChange(ctx context.Context, bookingID string) (*model.Booking, *model.Resource, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if !b.Status.CanTransitionTo(model.BookingConfirmed) {
		return nil, nil, apperror.Conflict("booking %s is %s and cannot be changed", b.ID, strings.ToLower(string(b.Status)))
	}
	res, err := s.loadResource(ctx, b.ResourceID)
	if err != nil {
		return nil, nil, err
	}
	if res.Status != model.ResourceCancelled {
		if err := s.policy.AllowsChange(res.StartsAt, s.clock.Now()); err != nil {
			return nil, nil, err
		}
	}
	return b, res, nil
}

// claimInto claims units for holder on resourceID and syncs the counter,
// pushing the inverse of each step onto sg.
func (s *Service) claimInto(ctx context.Context, sg *saga, log *zap.Logger, resourceID string, units []string, holder string) error {
	ok, taken, err := s.alloc.AreAllAvailable(ctx, resourceID, units)
	if err != nil {
		return storeError("availability pre-check", err, "resource")
	}
	if !ok {
		return apperror.UnitsUnavailable(taken)
	}
	if _, err := s.alloc.Claim(ctx, resourceID, units, len(units), holder); err != nil {
		return err
	}
	sg.push("release new units", func(ctx context.Context) error {
		_, err := s.alloc.Release(ctx, resourceID, units, holder)
		return err
	})
	decremented, err := s.sync.Decrement(ctx, resourceID, len(units))
	if err != nil {
		log.Warn("counter decrement outcome unknown, resource needs reconciliation", zap.Error(err))
		return s.abort(ctx, sg, log, "decrement counter", err)
	}
	if !decremented {
		return s.abort(ctx, sg, log, "decrement counter", fmt.Errorf("available counter below %d", len(units)))
	}
	sg.push("increment counter", func(ctx context.Context) error {
		return s.sync.Increment(ctx, resourceID, len(units))
	})
	return nil
}

// rebuild returns a copy of b on resourceID with units, repriced from the
// unit rows.  A line item whose unit number is still booked stays on it;
// the others move, in order, to the units that are new.
func (s *Service) rebuild(ctx context.Context, b *model.Booking, resourceID string, units []string) (*model.Booking, error) {
	rows, err := s.alloc.Units(ctx, resourceID, units)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(units) {
		return nil, fmt.Errorf("%d of %d units found", len(rows), len(units))
	}
	if len(b.LineItems) != len(units) {
		return nil, fmt.Errorf("booking has %d line items for %d units", len(b.LineItems), len(units))
	}
	byNumber := make(map[string]model.Unit, len(rows))
	for _, u := range rows {
		byNumber[u.UnitNumber] = u
	}
	kept := make(map[string]model.LineItem, len(b.LineItems))
	var moving []model.LineItem
	for _, li := range b.LineItems {
		if slices.Contains(units, li.UnitNumber) {
			kept[li.UnitNumber] = li
		} else {
			moving = append(moving, li)
		}
	}

	next := *b
	next.ResourceID = resourceID
	next.UnitNumbers = slices.Clone(units)
	next.LineItems = make([]model.LineItem, len(units))
	var gross int64
	for i, number := range units {
		u, ok := byNumber[number]
		if !ok {
			return nil, fmt.Errorf("unit %s not found", number)
		}
		li, ok := kept[number]
		if !ok {
			li, moving = moving[0], moving[1:]
		}
		li.UnitNumber = u.UnitNumber
		li.Class = u.Class
		li.PriceCents = u.PriceCents
		next.LineItems[i] = li
		gross += u.PriceCents
	}
	next.DiscountCents = s.discount(gross, b.LinkedBookingID != "")
	next.TotalPriceCents = gross - next.DiscountCents
	return &next, nil
}

// replace stores next if the booking is still at expectedVersion.  An
// ambiguous failure is settled by re-reading the booking.
func (s *Service) replace(ctx context.Context, sg *saga, log *zap.Logger, next *model.Booking, expectedVersion int) error {
	cctx, cancel := s.call(ctx)
	err := s.store.ReplaceUnits(cctx, next, expectedVersion)
	cancel()
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrConflict) {
		sg.rollback(ctx)
		return apperror.Conflict("booking %s was changed concurrently", next.ID)
	}
	cctx, cancel = s.call(ctx)
	cur, rerr := s.store.GetBooking(cctx, next.ID)
	cancel()
	if rerr == nil && cur.Version == expectedVersion+1 && cur.ResourceID == next.ResourceID && slices.Equal(cur.UnitNumbers, next.UnitNumbers) {
		log.Warn("booking update reported an error but was applied", zap.Error(err))
		*next = *cur
		return nil
	}
	return s.abort(ctx, sg, log, "persist booking", err)
}

// releaseOld frees the units the booking moved away from.  The booking is
// already stored, so failures here only strand units and are logged.
func (s *Service) releaseOld(ctx context.Context, log *zap.Logger, resourceID string, units []string, holder string) {
	if len(units) == 0 {
		return
	}
	released, err := s.alloc.Release(ctx, resourceID, units, holder)
	if err != nil {
		log.Error("old units not released, resource needs reconciliation",
			zap.String("old_resource", resourceID), zap.Strings("old_units", units), zap.Error(err))
		return
	}
	if err := s.sync.Increment(ctx, resourceID, int(released)); err != nil {
		log.Warn("counter increment failed, resource needs reconciliation",
			zap.String("old_resource", resourceID), zap.Int64("released", released), zap.Error(err))
	}
}

// abort rolls back sg and wraps cause as ReservationFailed.
func (s *Service) abort(ctx context.Context, sg *saga, log *zap.Logger, step string, cause error) error {
	failed := sg.rollback(ctx)
	log.Error("booking step failed", zap.String("step", step), zap.Int("failed_compensations", failed), zap.Error(cause))
	return apperror.ReservationFailed(step, cause)
}
