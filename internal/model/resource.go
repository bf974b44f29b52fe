package model

import "time"

// ResourceKind distinguishes the bookable parents the engine knows about.
type ResourceKind string

const (
    ResourceFlight ResourceKind = "FLIGHT"
    ResourceHotel  ResourceKind = "HOTEL"
)

// ResourceStatus is the catalog status of a flight or hotel.
type ResourceStatus string

const (
    ResourceActive    ResourceStatus = "ACTIVE"
    ResourceCancelled ResourceStatus = "CANCELLED"
)

// Resource is the parent entity that owns a finite set of units, a flight
// with its seats or a hotel with its rooms.  AvailableUnits is a
// denormalized counter of the units in AVAILABLE state; it is a cache of a
// derived value and may be repaired from the unit rows.
//
// Fields:
//  ID                – catalog identifier (e.g. "FL-1042").
//  Kind              – FLIGHT or HOTEL.
//  Name              – human readable label (route, hotel name).
//  TotalUnits        – number of unit rows created for the resource.
//  AvailableUnits    – aggregate counter of AVAILABLE units.
//  StartsAt          – departure time or check-in time.
//  Status            – ACTIVE or CANCELLED.
//  CounterRepairedAt – last time reconciliation overwrote the counter.
type Resource struct {
    ID                string         `json:"id"`
    Kind              ResourceKind   `json:"kind"`
    Name              string         `json:"name"`
    TotalUnits        int            `json:"total_units"`
    AvailableUnits    int            `json:"available_units"`
    StartsAt          time.Time      `json:"starts_at"`
    Status            ResourceStatus `json:"status"`
    CounterRepairedAt *time.Time     `json:"counter_repaired_at,omitempty"`
    CreatedAt         time.Time      `json:"created_at"`
    UpdatedAt         time.Time      `json:"updated_at"`
}

// Bookable reports whether the resource accepts new claims at the given
// instant: it must be ACTIVE and not yet started.
func (r *Resource) Bookable(now time.Time) bool {
    return r.Status == ResourceActive && r.StartsAt.After(now)
}
