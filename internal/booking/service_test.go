package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/travel-reservation/internal/apperror"
	"github.com/iliyamo/travel-reservation/internal/booking"
	"github.com/iliyamo/travel-reservation/internal/model"
)

func TestReconcileRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book("cust-1", flight, "1A")
	f.store.SetAvailable(flight, 4)

	r, err := f.svc.Reconcile(ctx, flight, false)
	require.NoError(t, err)
	assert.False(t, r.Consistent)
	assert.Equal(t, 3, r.ActualAvailable)
	assert.Equal(t, 4, f.available(flight), "a plain reconcile does not write")

	r, err = f.svc.Reconcile(ctx, flight, true)
	require.NoError(t, err)
	assert.True(t, r.Repaired)
	assert.Equal(t, 3, f.available(flight))

	_, err = f.svc.Reconcile(ctx, "nope", false)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestReconcileAll(t *testing.T) {
	f := newFixture(t)
	f.store.SetAvailable(hotel, 0)

	res, err := f.svc.ReconcileAll(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, res.Reports, 3)
	repaired := 0
	for _, r := range res.Reports {
		if r.Repaired {
			repaired++
			assert.Equal(t, hotel, r.ResourceID)
		}
	}
	assert.Equal(t, 1, repaired)
	f.requireConsistent(flight, flight2, hotel)
}

func TestListCustomerBookingsNewestFirst(t *testing.T) {
	f := newFixture(t)
	first := f.book("cust-1", flight, "1A")
	f.clock.Advance(time.Minute)
	second := f.book("cust-1", hotel, "101")
	f.book("cust-2", flight, "1B")

	list, err := f.svc.ListCustomerBookings(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestGetBookingNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetBooking(context.Background(), "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestNewServicePanicsOnBadPolicy(t *testing.T) {
	f := newFixture(t)
	assert.Panics(t, func() {
		newFixture(t, booking.WithPolicy(booking.RefundPolicy{FullBefore: time.Hour, PartialBefore: 2 * time.Hour}))
	})
	assert.Panics(t, func() { booking.NewService(booking.Deps{Allocator: f.alloc}) })
}

func TestRefundPolicyEvaluate(t *testing.T) {
	p := booking.DefaultRefundPolicy()
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	r, err := p.Evaluate(start, start.Add(-100*time.Hour), 10001)
	require.NoError(t, err)
	assert.Equal(t, model.RefundFull, r.Tier)
	assert.EqualValues(t, 10001, r.AmountCents)

	r, err = p.Evaluate(start, start.Add(-30*time.Hour), 10001)
	require.NoError(t, err)
	assert.Equal(t, model.RefundPartial, r.Tier)
	assert.EqualValues(t, 2500, r.FeeCents)
	assert.EqualValues(t, 7501, r.AmountCents)

	_, err = p.Evaluate(start, start.Add(-23*time.Hour), 10001)
	assert.ErrorIs(t, err, apperror.ErrPolicyViolation)
	_, err = p.Evaluate(start, start, 10001)
	assert.ErrorIs(t, err, apperror.ErrPolicyViolation)
}
