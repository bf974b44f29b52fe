package booking

import (
	"context"
	"time"

	"github.com/iliyamo/travel-reservation/internal/model"
	"github.com/iliyamo/travel-reservation/internal/queue"
)

// Catalog is the read-only view of flights and hotels owned by catalog
// management.
type Catalog interface {
	GetResource(ctx context.Context, id string) (*model.Resource, error)
}

// Store persists bookings, their line items and linkages.  Each method is
// atomic on its own; the service never relies on a transaction spanning
// two calls.
type Store interface {
	// CreateBooking writes the booking, its line items and link (may be
	// nil) together.
	CreateBooking(ctx context.Context, b *model.Booking, link *model.Linkage) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	ListByCustomer(ctx context.Context, customerID string) ([]model.Booking, error)
	// UpdateStatus changes the status only when it currently equals from
	// and the version equals expectedVersion.
	UpdateStatus(ctx context.Context, id string, from, to model.BookingStatus, expectedVersion int) error
	// ReplaceUnits rewrites resource, units, price and line items of a
	// CONFIRMED booking whose version equals expectedVersion.
	ReplaceUnits(ctx context.Context, b *model.Booking, expectedVersion int) error
	// ListDependents returns the ids of bookings linked to primaryID.
	ListDependents(ctx context.Context, primaryID string) ([]string, error)
}

// RefundRecorder is the narrow slice of the payment collaborator the
// engine uses: it only records amounts and their settlement.
type RefundRecorder interface {
	RecordPendingRefund(ctx context.Context, r model.Refund) error
	SettleRefund(ctx context.Context, bookingID string, at time.Time) error
}

// Cipher seals passenger details bound to a line item reference and
// returns the stored blob plus a masked display string.
type Cipher interface {
	Seal(ref string, p model.Passenger) ([]byte, string, error)
}

// Publisher emits domain events.  Publishing is best effort: a failure is
// logged and never changes the outcome of an operation.
type Publisher interface {
	Publish(ctx context.Context, ev queue.Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, queue.Event) error { return nil }
