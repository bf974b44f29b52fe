// Package inventory holds the reservation-consistency core: the Allocator
// that moves units between states with conditional batch updates, and the
// Synchronizer that keeps each resource's available-units counter in step
// with the unit rows.
//
// Neither component takes a lock.  All coordination is pushed into the
// store through compare-and-swap predicates, so any number of processes
// may run the same code against the same database.
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/travel-reservation/internal/model"
)

// ErrUnknownResource is returned by stores when the resource row does not
// exist.
var ErrUnknownResource = errors.New("inventory: unknown resource")

// DefaultCallTimeout bounds every store round trip when no timeout is
// configured.
const DefaultCallTimeout = 5 * time.Second

// Transition describes one conditional batch update of unit rows.  Only
// rows currently in From are touched.  When MatchHolder is set the update
// is further restricted to rows stamped with that holder.  Rows moved to a
// state other than AVAILABLE are stamped with SetHolder; rows moved to
// AVAILABLE have their holder cleared.
type Transition struct {
	From        model.UnitStatus
	To          model.UnitStatus
	SetHolder   string
	MatchHolder string
}

// UnitStore is the per-unit half of the inventory store.
type UnitStore interface {
	// TransitionUnits applies t to every unit of resourceID listed in
	// units and returns the number of rows actually changed.
	TransitionUnits(ctx context.Context, resourceID string, units []string, t Transition) (int64, error)
	// GetUnits returns the rows that exist among units, in no particular order.
	GetUnits(ctx context.Context, resourceID string, units []string) ([]model.Unit, error)
	// ListUnits returns every unit of the resource ordered by unit number.
	ListUnits(ctx context.Context, resourceID string) ([]model.Unit, error)
}

// Snapshot is a resource's stored counter together with its unit rows
// grouped by status, taken in one read.
type Snapshot struct {
	Total     int
	Available int
	Counts    map[model.UnitStatus]int
}

// CounterStore is the aggregate half of the inventory store.
type CounterStore interface {
	// DecrementAvailable subtracts n only when at least n units are
	// available and reports whether it did.
	DecrementAvailable(ctx context.Context, resourceID string, n int) (bool, error)
	IncrementAvailable(ctx context.Context, resourceID string, n int) error
	// GetCounter returns the total and the stored available count.
	GetCounter(ctx context.Context, resourceID string) (total, available int, err error)
	// CounterSnapshot reads the counter and the per-status unit counts
	// in a single consistent read.
	CounterSnapshot(ctx context.Context, resourceID string) (Snapshot, error)
	// OverwriteAvailable replaces the stored counter and records when.
	OverwriteAvailable(ctx context.Context, resourceID string, available int, at time.Time) error
	ListResourceIDs(ctx context.Context) ([]string, error)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultCallTimeout
	}
	return context.WithTimeout(ctx, d)
}
