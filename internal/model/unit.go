package model

import "time"

// UnitStatus is the state of a single seat or room.
type UnitStatus string

const (
    UnitAvailable UnitStatus = "AVAILABLE"
    UnitOccupied  UnitStatus = "OCCUPIED"
    UnitBlocked   UnitStatus = "BLOCKED"
)

// Unit is one bookable item of a resource, keyed by (ResourceID,
// UnitNumber).  Holder carries the id of the booking that claimed the
// unit and is empty unless the unit is OCCUPIED.
type Unit struct {
    ResourceID string     `json:"resource_id"`
    UnitNumber string     `json:"unit_number"`
    Status     UnitStatus `json:"status"`
    Class      string     `json:"class"`
    PriceCents int64      `json:"price_cents"`
    Holder     string     `json:"-"`
    UpdatedAt  time.Time  `json:"updated_at"`
}

// UnitSpec describes a unit to be created together with its resource.
type UnitSpec struct {
    UnitNumber string `json:"unit_number"`
    Class      string `json:"class"`
    PriceCents int64  `json:"price_cents"`
}
