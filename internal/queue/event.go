// Package queue defines the domain events exchanged over the message
// broker and the AMQP plumbing that publishes and consumes them.
package queue

import "time"

// Event types carried in Event.Type and used as routing keys.
const (
	TypeBookingConfirmed  = "booking.confirmed"
	TypeBookingCancelled  = "booking.cancelled"
	TypeBookingModified   = "booking.modified"
	TypeInventoryRepaired = "inventory.repaired"
)

// Event is the envelope published for every state change the engine wants
// downstream consumers (notifications, settlement, analytics) to see.  It
// carries enough data that consumers need not query the primary database.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	BookingID   string   `json:"booking_id,omitempty"`
	CustomerID  string   `json:"customer_id,omitempty"`
	ResourceID  string   `json:"resource_id,omitempty"`
	UnitNumbers []string `json:"unit_numbers,omitempty"`
	AmountCents int64    `json:"amount_cents,omitempty"`

	// cancellation
	RefundCents int64  `json:"refund_cents,omitempty"`
	RefundTier  string `json:"refund_tier,omitempty"`
	CascadedBy  string `json:"cascaded_by,omitempty"`

	// reconciliation
	StoredAvailable int `json:"stored_available,omitempty"`
	ActualAvailable int `json:"actual_available,omitempty"`
}
