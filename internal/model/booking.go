package model

import "time"

// BookingStatus is the lifecycle state of a booking.  CONFIRMED may loop
// onto itself (seat or resource change); CANCELLED may advance to
// REFUNDED once settlement completes; REFUNDED is terminal.
type BookingStatus string

const (
    BookingConfirmed BookingStatus = "CONFIRMED"
    BookingCancelled BookingStatus = "CANCELLED"
    BookingRefunded  BookingStatus = "REFUNDED"
)

// CanTransitionTo reports whether moving from s to next is allowed.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
    switch s {
    case BookingConfirmed:
        return next == BookingConfirmed || next == BookingCancelled
    case BookingCancelled:
        return next == BookingRefunded
    }
    return false
}

// Booking groups the units a customer claimed on one resource.
//
// Fields:
//  ID              – uuid generated before the claim; also the unit holder.
//  CustomerID      – opaque key supplied by the identity collaborator.
//  ResourceID      – flight or hotel the units belong to.
//  UnitNumbers     – ordered, unique unit numbers (one per passenger).
//  Status          – CONFIRMED, CANCELLED or REFUNDED.
//  TotalPriceCents – sum of unit prices at claim time minus discount.
//  DiscountCents   – cross-sell discount granted through a linkage.
//  LinkedBookingID – primary booking this one depends on, if any.
//  Version         – optimistic lock counter for modifications.
type Booking struct {
    ID              string        `json:"id"`
    CustomerID      string        `json:"customer_id"`
    ResourceID      string        `json:"resource_id"`
    UnitNumbers     []string      `json:"unit_numbers"`
    Status          BookingStatus `json:"status"`
    TotalPriceCents int64         `json:"total_price_cents"`
    DiscountCents   int64         `json:"discount_cents"`
    LinkedBookingID string        `json:"linked_booking_id,omitempty"`
    Version         int           `json:"version"`
    CreatedAt       time.Time     `json:"created_at"`
    UpdatedAt       time.Time     `json:"updated_at"`
    LineItems       []LineItem    `json:"line_items,omitempty"`
}

// LineItem is a ticket or room voucher owned by a booking.  Passenger
// details are stored only as an encrypted blob plus a masked string.
type LineItem struct {
    ID              string `json:"id"`
    BookingID       string `json:"booking_id"`
    UnitNumber      string `json:"unit_number"`
    Class           string `json:"class"`
    PriceCents      int64  `json:"price_cents"`
    PassengerBlob   []byte `json:"-"`
    PassengerMasked string `json:"passenger"`
}

// Passenger is the cleartext traveller record accepted from callers.  It
// never reaches the store unencrypted.
type Passenger struct {
    FirstName      string `json:"first_name" validate:"required,max=64"`
    LastName       string `json:"last_name" validate:"required,max=64"`
    DocumentNumber string `json:"document_number" validate:"required,alphanum,min=5,max=20"`
    DateOfBirth    string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
    Email          string `json:"email,omitempty" validate:"omitempty,email"`
}

// Linkage is a weak back-reference from a dependent booking (e.g. hotel)
// to the primary booking (e.g. flight) it was sold with.
type Linkage struct {
    DependentID string    `json:"dependent_id"`
    PrimaryID   string    `json:"primary_id"`
    CreatedAt   time.Time `json:"created_at"`
}
