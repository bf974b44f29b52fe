package model

import "time"

// RefundTier names the band of the cancellation policy that applied.
type RefundTier string

const (
    RefundFull    RefundTier = "FULL"
    RefundPartial RefundTier = "PARTIAL"
    RefundNone    RefundTier = "NONE"
)

// RefundStatus tracks settlement by the payment collaborator.
type RefundStatus string

const (
    RefundPending RefundStatus = "PENDING"
    RefundSettled RefundStatus = "SETTLED"
)

// Refund is the pending-refund record written on cancellation.  The
// engine never moves money; settlement is reported back later.
type Refund struct {
    BookingID   string       `json:"booking_id"`
    AmountCents int64        `json:"amount_cents"`
    FeeCents    int64        `json:"fee_cents"`
    Tier        RefundTier   `json:"tier"`
    Status      RefundStatus `json:"status"`
    CreatedAt   time.Time    `json:"created_at"`
    SettledAt   *time.Time   `json:"settled_at,omitempty"`
}
