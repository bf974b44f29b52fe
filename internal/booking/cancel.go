package booking

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/travel-reservation/internal/apperror"
	"github.com/iliyamo/travel-reservation/internal/model"
	"github.com/iliyamo/travel-reservation/internal/queue"
	"github.com/iliyamo/travel-reservation/internal/repository"
)

// Cascade outcomes.
const (
	CascadeCancelled = "cancelled"
	CascadeSkipped   = "skipped"
	CascadeFailed    = "failed"
)

// CascadeResult reports what happened to one dependent booking.
type CascadeResult struct {
	BookingID string `json:"booking_id"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
}

// CancelResult is the outcome of CancelBooking.
type CancelResult struct {
	Booking *model.Booking `json:"booking"`
	Refund  model.Refund   `json:"refund"`
	// RefundRecorded is false when the booking was cancelled but writing
	// the pending refund failed.  CompleteRefund rebuilds a missing record.
	RefundRecorded bool            `json:"refund_recorded"`
	Cascaded       []CascadeResult `json:"cascaded,omitempty"`
}

// CancelBooking cancels a CONFIRMED booking, records the refund owed under
// the policy and cancels the bookings linked to it.  A failure in a
// dependent never undoes the cancellation of the booking itself.
func (s *Service) CancelBooking(ctx context.Context, bookingID string) (*CancelResult, error) {
	ctx = context.WithoutCancel(ctx)
	visited := map[string]struct{}{bookingID: {}}
	res, err := s.cancelOne(ctx, bookingID, "")
	if err != nil {
		return nil, err
	}
	res.Cascaded = s.cascade(ctx, bookingID, visited)
	return res, nil
}

// maxCancelAttempts bounds how often a cancel starts over because the
// booking was modified between its read and its status write.
const maxCancelAttempts = 3

// errStaleBooking reports that the booking moved to other units while a
// cancel was in progress.
var errStaleBooking = errors.New("booking changed during cancel")

// cancelOne runs the cancellation of a single booking.  cascadedBy is the
// primary booking id when this is a cascade step.
func (s *Service) cancelOne(ctx context.Context, bookingID, cascadedBy string) (*CancelResult, error) {
	for attempt := 1; ; attempt++ {
		res, err := s.cancelAttempt(ctx, bookingID, cascadedBy)
		if !errors.Is(err, errStaleBooking) {
			return res, err
		}
		if attempt == maxCancelAttempts {
			return nil, apperror.Conflict("booking %s kept changing during cancellation", bookingID)
		}
		s.log.Info("booking changed during cancel, starting over",
			zap.String("booking_id", bookingID), zap.Int("attempt", attempt))
	}
}

func (s *Service) cancelAttempt(ctx context.Context, bookingID, cascadedBy string) (*CancelResult, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.CanTransitionTo(model.BookingCancelled) {
		return nil, apperror.Conflict("booking %s is already %s", b.ID, strings.ToLower(string(b.Status)))
	}
	res, err := s.loadResource(ctx, b.ResourceID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	refund, err := s.refundFor(b, res, now)
	if err != nil {
		return nil, err
	}

	log := s.log.With(zap.String("booking_id", b.ID), zap.String("resource_id", b.ResourceID), zap.Strings("units", b.UnitNumbers))

	released, err := s.alloc.Release(ctx, b.ResourceID, b.UnitNumbers, b.ID)
	if err != nil {
		// A timed-out release may have landed; put back whatever it freed.
		s.reoccupy(ctx, log, b.ResourceID, b.UnitNumbers, b.ID)
		log.Error("cancel failed", zap.String("step", "release units"), zap.Error(err))
		return nil, apperror.ReservationFailed("release units", err)
	}
	if err := s.sync.Increment(ctx, b.ResourceID, int(released)); err != nil {
		log.Warn("counter increment failed, resource needs reconciliation",
			zap.Int64("released", released), zap.Error(err))
	}

	cctx, cancel := s.call(ctx)
	err = s.store.UpdateStatus(cctx, b.ID, model.BookingConfirmed, model.BookingCancelled, b.Version)
	cancel()
	if err != nil {
		cur := s.reread(ctx, b.ID)
		switch {
		case cur != nil && (cur.Status == model.BookingCancelled || cur.Status == model.BookingRefunded):
			if errors.Is(err, repository.ErrConflict) {
				// a concurrent cancel won and owns the units it freed
				return nil, apperror.Conflict("booking %s was cancelled concurrently", b.ID)
			}
			// the write timed out but was applied
			err = nil
		case cur != nil:
			s.restoreHeld(ctx, log, b, cur.ResourceID, cur.UnitNumbers)
			if errors.Is(err, repository.ErrConflict) {
				return nil, errStaleBooking
			}
		default:
			s.restoreHeld(ctx, log, b, b.ResourceID, b.UnitNumbers)
		}
	}
	if err != nil {
		log.Error("cancel failed", zap.String("step", "mark cancelled"), zap.Error(err))
		return nil, apperror.ReservationFailed("mark cancelled", err)
	}
	b.Status = model.BookingCancelled
	b.Version++
	b.UpdatedAt = now

	out := &CancelResult{Booking: b, Refund: refund, RefundRecorded: true}
	cctx, cancel = s.call(ctx)
	err = s.refunds.RecordPendingRefund(cctx, refund)
	cancel()
	if err != nil && !errors.Is(err, repository.ErrDuplicate) {
		out.RefundRecorded = false
		log.Error("pending refund not recorded, it is rebuilt on settlement",
			zap.Int64("amount_cents", refund.AmountCents),
			zap.String("tier", string(refund.Tier)),
			zap.Error(err))
	}

	log.Info("booking cancelled",
		zap.Int64("released", released),
		zap.String("tier", string(refund.Tier)),
		zap.Int64("refund_cents", refund.AmountCents),
		zap.String("cascaded_by", cascadedBy))
	s.publish(ctx, queue.Event{
		Type:        queue.TypeBookingCancelled,
		BookingID:   b.ID,
		CustomerID:  b.CustomerID,
		ResourceID:  b.ResourceID,
		UnitNumbers: b.UnitNumbers,
		AmountCents: b.TotalPriceCents,
		RefundCents: refund.AmountCents,
		RefundTier:  string(refund.Tier),
		CascadedBy:  cascadedBy,
	})
	return out, nil
}

// refundFor computes the pending refund owed for cancelling b at `at`.  An
// operator cancelled resource is refunded in full regardless of the window.
func (s *Service) refundFor(b *model.Booking, res *model.Resource, at time.Time) (model.Refund, error) {
	var refund model.Refund
	if res.Status == model.ResourceCancelled {
		refund = model.Refund{AmountCents: b.TotalPriceCents, Tier: model.RefundFull}
	} else {
		var err error
		if refund, err = s.policy.Evaluate(res.StartsAt, at, b.TotalPriceCents); err != nil {
			return model.Refund{}, err
		}
	}
	refund.BookingID = b.ID
	refund.Status = model.RefundPending
	refund.CreatedAt = at
	return refund, nil
}

// reread loads a booking after an ambiguous write.  It returns nil when
// the booking cannot be read.
func (s *Service) reread(ctx context.Context, id string) *model.Booking {
	cctx, cancel := s.call(ctx)
	defer cancel()
	cur, err := s.store.GetBooking(cctx, id)
	if err != nil {
		s.log.Warn("re-reading booking failed", zap.String("booking_id", id), zap.Error(err))
		return nil
	}
	return cur
}

// restoreHeld undoes the release of a cancel that did not go through.
// Only the released units the booking still holds on resourceID are put
// back; units a concurrent change moved it away from stay free.
func (s *Service) restoreHeld(ctx context.Context, log *zap.Logger, b *model.Booking, resourceID string, held []string) {
	if resourceID != b.ResourceID {
		return
	}
	keep := make([]string, 0, len(b.UnitNumbers))
	for _, u := range b.UnitNumbers {
		if slices.Contains(held, u) {
			keep = append(keep, u)
		}
	}
	if len(keep) == 0 {
		return
	}
	n := s.reoccupy(ctx, log, b.ResourceID, keep, b.ID)
	if n == 0 {
		return
	}
	if ok, err := s.sync.Decrement(ctx, b.ResourceID, int(n)); err != nil || !ok {
		log.Warn("counter decrement failed while restoring cancelled units", zap.Bool("applied", ok), zap.Error(err))
	}
}

// reoccupy hands units back to holder after a cancel that did not go
// through.
func (s *Service) reoccupy(ctx context.Context, log *zap.Logger, resourceID string, units []string, holder string) int64 {
	n, err := s.alloc.Reoccupy(ctx, resourceID, units, holder)
	if err != nil {
		log.Error("restoring units after failed cancel", zap.Error(err))
		return 0
	}
	if int(n) < len(units) {
		log.Warn("some units were claimed by another booking before they could be restored",
			zap.Int64("restored", n))
	}
	return n
}

// cascade cancels every booking linked to primaryID, depth first.  It
// never returns an error; each dependent's outcome is reported.
func (s *Service) cascade(ctx context.Context, primaryID string, visited map[string]struct{}) []CascadeResult {
	cctx, cancel := s.call(ctx)
	deps, err := s.store.ListDependents(cctx, primaryID)
	cancel()
	if err != nil {
		s.log.Error("cascade lookup failed", zap.String("booking_id", primaryID), zap.Error(err))
		return []CascadeResult{{BookingID: primaryID, Outcome: CascadeFailed, Error: "dependents lookup: " + err.Error()}}
	}
	var out []CascadeResult
	for _, id := range deps {
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		_, err := s.cancelOne(ctx, id, primaryID)
		switch {
		case err == nil:
			out = append(out, CascadeResult{BookingID: id, Outcome: CascadeCancelled})
			out = append(out, s.cascade(ctx, id, visited)...)
		case apperror.KindOf(err) == apperror.KindConflict, apperror.KindOf(err) == apperror.KindPolicyViolation:
			out = append(out, CascadeResult{BookingID: id, Outcome: CascadeSkipped, Error: err.Error()})
		default:
			s.log.Warn("cascade cancel failed",
				zap.String("primary_id", primaryID),
				zap.String("booking_id", id),
				zap.Error(err))
			out = append(out, CascadeResult{BookingID: id, Outcome: CascadeFailed, Error: err.Error()})
		}
	}
	return out
}
