package memory

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/travel-reservation/internal/model"
	"github.com/iliyamo/travel-reservation/internal/repository"
)

func cloneBooking(b *model.Booking) *model.Booking {
	cp := *b
	cp.UnitNumbers = append([]string(nil), b.UnitNumbers...)
	cp.LineItems = make([]model.LineItem, len(b.LineItems))
	for i, li := range b.LineItems {
		li.PassengerBlob = append([]byte(nil), li.PassengerBlob...)
		cp.LineItems[i] = li
	}
	return &cp
}

// CreateBooking stores the booking, its line items and the optional
// linkage as one unit.
func (s *Store) CreateBooking(ctx context.Context, b *model.Booking, link *model.Linkage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateBooking"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := s.bookings[b.ID]; ok {
		return repository.ErrDuplicate
	}
	s.bookings[b.ID] = cloneBooking(b)
	if link != nil {
		s.linkages[link.PrimaryID] = append(s.linkages[link.PrimaryID], link.DependentID)
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetBooking"); err != nil {
		return nil, err
	}
	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneBooking(b), nil
}

func (s *Store) ListByCustomer(ctx context.Context, customerID string) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.CustomerID == customerID {
			out = append(out, *cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateStatus moves the booking from one status to another only if it is
// currently in from at expectedVersion.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to model.BookingStatus, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpdateStatus"); err != nil {
		return err
	}
	b, ok := s.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}
	if b.Status != from || b.Version != expectedVersion {
		return repository.ErrConflict
	}
	b.Status = to
	b.Version++
	b.UpdatedAt = s.now()
	return nil
}

// ReplaceUnits rewrites the resource, units, price and line items of a
// CONFIRMED booking whose version still equals expectedVersion.
func (s *Store) ReplaceUnits(ctx context.Context, b *model.Booking, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ReplaceUnits"); err != nil {
		return err
	}
	cur, ok := s.bookings[b.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != expectedVersion || cur.Status != model.BookingConfirmed {
		return repository.ErrConflict
	}
	next := cloneBooking(b)
	next.Status = cur.Status
	next.CreatedAt = cur.CreatedAt
	next.Version = expectedVersion + 1
	next.UpdatedAt = s.now()
	s.bookings[b.ID] = next
	b.Version = next.Version
	b.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *Store) ListDependents(ctx context.Context, primaryID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ListDependents"); err != nil {
		return nil, err
	}
	return append([]string(nil), s.linkages[primaryID]...), nil
}

// --- refunds ---

func (s *Store) RecordPendingRefund(ctx context.Context, r model.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("RecordPendingRefund"); err != nil {
		return err
	}
	if _, ok := s.refunds[r.BookingID]; ok {
		return repository.ErrDuplicate
	}
	cp := r
	s.refunds[r.BookingID] = &cp
	return nil
}

func (s *Store) GetRefund(ctx context.Context, bookingID string) (*model.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[bookingID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// SettleRefund marks a pending refund settled.  Settling twice is a no-op.
func (s *Store) SettleRefund(ctx context.Context, bookingID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SettleRefund"); err != nil {
		return err
	}
	r, ok := s.refunds[bookingID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.Status == model.RefundSettled {
		return nil
	}
	r.Status = model.RefundSettled
	t := at
	r.SettledAt = &t
	return nil
}
