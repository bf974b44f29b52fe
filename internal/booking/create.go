package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/travel-reservation/internal/apperror"
	"github.com/iliyamo/travel-reservation/internal/inventory"
	"github.com/iliyamo/travel-reservation/internal/model"
	"github.com/iliyamo/travel-reservation/internal/queue"
	"github.com/iliyamo/travel-reservation/internal/repository"
)

// CreateInput is a booking request.  Passengers map onto UnitNumbers by
// position.
type CreateInput struct {
	CustomerID      string
	ResourceID      string
	UnitNumbers     []string
	Passengers      []model.Passenger
	LinkedBookingID string
}

// CreateBooking runs validate, pre-check, claim, counter sync and persist.
// Once the claim succeeded, any failure undoes every completed step in
// reverse before the error is returned, so the store ends either with a
// CONFIRMED booking whose units are OCCUPIED or exactly as it started.
//
// The sequence is detached from the caller's cancellation: a client that
// goes away cannot interrupt it half way.
func (s *Service) CreateBooking(ctx context.Context, in CreateInput) (*model.Booking, error) {
	ctx = context.WithoutCancel(ctx)

	// validate
	units, err := s.validateCreate(in)
	if err != nil {
		return nil, err
	}
	res, err := s.loadResource(ctx, in.ResourceID)
	if err != nil {
		return nil, err
	}
	if !res.Bookable(s.clock.Now()) {
		return nil, apperror.Validation("resource %s is not open for booking", res.ID)
	}
	var primary *model.Booking
	if in.LinkedBookingID != "" {
		if primary, err = s.validateLink(ctx, in, res); err != nil {
			return nil, err
		}
	}

	// pre-check
	ok, taken, err := s.alloc.AreAllAvailable(ctx, res.ID, units)
	if err != nil {
		return nil, storeError("availability pre-check", err, "resource")
	}
	if !ok {
		return nil, apperror.UnitsUnavailable(taken)
	}

	id := uuid.NewString()
	log := s.log.With(zap.String("booking_id", id), zap.String("resource_id", res.ID), zap.Strings("units", units))
	sg := newSaga(log)

	// claim
	if _, err := s.alloc.Claim(ctx, res.ID, units, len(units), id); err != nil {
		if apperror.KindOf(err) == apperror.KindReservationFailed {
			log.Error("claim failed", zap.Error(err))
		}
		return nil, err
	}
	sg.push("release units", func(ctx context.Context) error {
		_, err := s.alloc.Release(ctx, res.ID, units, id)
		return err
	})

	// counter sync
	decremented, err := s.sync.Decrement(ctx, res.ID, len(units))
	if err != nil {
		log.Warn("counter decrement outcome unknown, resource needs reconciliation", zap.Error(err))
		return nil, s.abort(ctx, sg, log, "decrement counter", err)
	}
	if !decremented {
		return nil, s.abort(ctx, sg, log, "decrement counter", fmt.Errorf("available counter below %d", len(units)))
	}
	sg.push("increment counter", func(ctx context.Context) error {
		return s.sync.Increment(ctx, res.ID, len(units))
	})

	// persist
	rows, err := s.alloc.Units(ctx, res.ID, units)
	if err != nil {
		return nil, s.abort(ctx, sg, log, "load unit prices", err)
	}
	if len(rows) != len(units) {
		return nil, s.abort(ctx, sg, log, "load unit prices", fmt.Errorf("%d of %d units found", len(rows), len(units)))
	}
	b := &model.Booking{
		ID:              id,
		CustomerID:      in.CustomerID,
		ResourceID:      res.ID,
		UnitNumbers:     units,
		Status:          model.BookingConfirmed,
		LinkedBookingID: in.LinkedBookingID,
		Version:         1,
		CreatedAt:       s.clock.Now(),
	}
	b.UpdatedAt = b.CreatedAt
	var gross int64
	b.LineItems = make([]model.LineItem, len(rows))
	for i, u := range rows {
		li := model.LineItem{
			ID:         uuid.NewString(),
			BookingID:  id,
			UnitNumber: u.UnitNumber,
			Class:      u.Class,
			PriceCents: u.PriceCents,
		}
		li.PassengerBlob, li.PassengerMasked, err = s.cipher.Seal(li.ID, in.Passengers[i])
		if err != nil {
			return nil, s.abort(ctx, sg, log, "seal passenger", err)
		}
		b.LineItems[i] = li
		gross += u.PriceCents
	}
	b.DiscountCents = s.discount(gross, primary != nil)
	b.TotalPriceCents = gross - b.DiscountCents

	var link *model.Linkage
	if primary != nil {
		link = &model.Linkage{DependentID: id, PrimaryID: primary.ID, CreatedAt: b.CreatedAt}
	}
	// A timed-out insert may have landed; voiding is a no-op when it did not.
	sg.push("void booking", func(ctx context.Context) error {
		return s.voidBooking(ctx, id, b.Version)
	})
	cctx, cancel := s.call(ctx)
	err = s.store.CreateBooking(cctx, b, link)
	cancel()
	if err != nil {
		return nil, s.abort(ctx, sg, log, "persist booking", err)
	}

	log.Info("booking confirmed", zap.String("customer_id", b.CustomerID), zap.Int64("total_cents", b.TotalPriceCents))
	s.publish(ctx, queue.Event{
		Type:        queue.TypeBookingConfirmed,
		BookingID:   b.ID,
		CustomerID:  b.CustomerID,
		ResourceID:  b.ResourceID,
		UnitNumbers: b.UnitNumbers,
		AmountCents: b.TotalPriceCents,
	})
	return b, nil
}

func (s *Service) validateCreate(in CreateInput) ([]string, error) {
	if strings.TrimSpace(in.CustomerID) == "" {
		return nil, apperror.Validation("customer id is required")
	}
	if strings.TrimSpace(in.ResourceID) == "" {
		return nil, apperror.Validation("resource id is required")
	}
	units, err := inventory.NormalizeUnits(in.UnitNumbers)
	if err != nil {
		return nil, err
	}
	if len(units) != len(in.Passengers) {
		return nil, apperror.Validation("%d units requested for %d passengers", len(units), len(in.Passengers))
	}
	for i := range in.Passengers {
		if err := s.validate.Struct(in.Passengers[i]); err != nil {
			return nil, apperror.Validation("passenger %d: %s", i+1, describeValidation(err))
		}
	}
	return units, nil
}

// validateLink checks the primary booking a dependent booking is sold
// with.
func (s *Service) validateLink(ctx context.Context, in CreateInput, res *model.Resource) (*model.Booking, error) {
	cctx, cancel := s.call(ctx)
	primary, err := s.store.GetBooking(cctx, in.LinkedBookingID)
	cancel()
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.Validation("linked booking %s not found", in.LinkedBookingID)
	}
	if err != nil {
		return nil, storeError("load linked booking", err, "booking")
	}
	switch {
	case primary.CustomerID != in.CustomerID:
		return nil, apperror.Validation("linked booking %s belongs to another customer", primary.ID)
	case primary.Status != model.BookingConfirmed:
		return nil, apperror.Validation("linked booking %s is %s", primary.ID, strings.ToLower(string(primary.Status)))
	case primary.ResourceID == res.ID:
		return nil, apperror.Validation("linked booking %s is on the same resource", primary.ID)
	}
	return primary, nil
}

// voidBooking cancels a booking row that may or may not have been written.
func (s *Service) voidBooking(ctx context.Context, id string, version int) error {
	cctx, cancel := s.call(ctx)
	defer cancel()
	err := s.store.UpdateStatus(cctx, id, model.BookingConfirmed, model.BookingCancelled, version)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
