package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/travel-reservation/internal/apperror"
	"github.com/iliyamo/travel-reservation/internal/model"
)

// Claimed is the result of a successful claim.
type Claimed struct {
	ResourceID  string
	UnitNumbers []string
	Holder      string
}

// Allocator executes all-or-nothing state changes on unit rows.  It is
// the only writer of the unit status column.
type Allocator struct {
	units   UnitStore
	sync    *Synchronizer
	timeout time.Duration
	log     *zap.Logger
}

// NewAllocator builds an Allocator.  sync is used by the administrative
// block/unblock operations to keep the counter aligned.
func NewAllocator(units UnitStore, sync *Synchronizer, timeout time.Duration, log *zap.Logger) *Allocator {
	if units == nil || sync == nil {
		panic("nil store passed to NewAllocator")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Allocator{units: units, sync: sync, timeout: timeout, log: log}
}

// Claim moves every unit in units from AVAILABLE to OCCUPIED and stamps
// it with holder.  It either claims all of them or none: when fewer rows
// than expected were transitioned, the rows this call did transition are
// restored before UnitsUnavailable is returned.  The restore is scoped to
// holder so it never frees a unit that another booking claimed.
//
// A store error leaves the outcome unknown (a timed-out update may still
// have been applied), so the same holder-scoped restore runs before the
// error is reported as ReservationFailed.
func (a *Allocator) Claim(ctx context.Context, resourceID string, units []string, expected int, holder string) (Claimed, error) {
	set, err := NormalizeUnits(units)
	if err != nil {
		return Claimed{}, err
	}
	if len(set) != expected {
		return Claimed{}, apperror.Validation("expected %d units, got %d", expected, len(set))
	}
	if holder == "" {
		return Claimed{}, apperror.Validation("claim holder is required")
	}

	n, err := a.transition(ctx, resourceID, set, Transition{
		From:      model.UnitAvailable,
		To:        model.UnitOccupied,
		SetHolder: holder,
	})
	if err != nil {
		if _, rerr := a.restore(ctx, resourceID, set, holder); rerr != nil {
			a.log.Error("claim restore failed after store error",
				zap.String("resource_id", resourceID),
				zap.Strings("units", set),
				zap.String("holder", holder),
				zap.Error(rerr))
		}
		return Claimed{}, apperror.ReservationFailed("claim units", err)
	}
	if int(n) < expected {
		restored, rerr := a.restore(ctx, resourceID, set, holder)
		if rerr != nil {
			a.log.Error("partial claim could not be restored",
				zap.String("resource_id", resourceID),
				zap.Strings("units", set),
				zap.String("holder", holder),
				zap.Int64("claimed", n),
				zap.Error(rerr))
			return Claimed{}, apperror.ReservationFailed("restore partial claim", rerr)
		}
		a.log.Debug("claim lost race",
			zap.String("resource_id", resourceID),
			zap.Int64("claimed", n),
			zap.Int64("restored", restored),
			zap.Int("expected", expected))
		return Claimed{}, apperror.UnitsUnavailable(a.unavailable(ctx, resourceID, set))
	}
	return Claimed{ResourceID: resourceID, UnitNumbers: set, Holder: holder}, nil
}

// Release moves the units held by holder back to AVAILABLE and returns how
// many rows changed.  Units that are already AVAILABLE, or held by someone
// else, are left alone, so calling Release twice is harmless.
func (a *Allocator) Release(ctx context.Context, resourceID string, units []string, holder string) (int64, error) {
	if holder == "" {
		return 0, apperror.Validation("release holder is required")
	}
	set, err := NormalizeUnits(dedupe(units))
	if err != nil {
		return 0, err
	}
	return a.transition(ctx, resourceID, set, Transition{
		From:        model.UnitOccupied,
		To:          model.UnitAvailable,
		MatchHolder: holder,
	})
}

// Reoccupy gives units that Release freed back to holder.  It compensates
// a cancellation whose status write failed.  Units claimed by someone else
// in between are not touched; the returned count tells how many came back.
func (a *Allocator) Reoccupy(ctx context.Context, resourceID string, units []string, holder string) (int64, error) {
	if holder == "" {
		return 0, apperror.Validation("reoccupy holder is required")
	}
	set, err := NormalizeUnits(dedupe(units))
	if err != nil {
		return 0, err
	}
	return a.transition(context.WithoutCancel(ctx), resourceID, set, Transition{
		From:      model.UnitAvailable,
		To:        model.UnitOccupied,
		SetHolder: holder,
	})
}

// AreAllAvailable is a read-only pre-check.  It returns the units that are
// not AVAILABLE (or do not exist) so callers can fail fast with a precise
// message.  The claim re-validates regardless.
func (a *Allocator) AreAllAvailable(ctx context.Context, resourceID string, units []string) (bool, []string, error) {
	set, err := NormalizeUnits(units)
	if err != nil {
		return false, nil, err
	}
	cctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()
	rows, err := a.units.GetUnits(cctx, resourceID, set)
	if err != nil {
		return false, nil, err
	}
	taken := notIn(set, rows, model.UnitAvailable)
	return len(taken) == 0, taken, nil
}

// Units returns the rows for the given unit numbers, in the order given.
// Units that do not exist are skipped.
func (a *Allocator) Units(ctx context.Context, resourceID string, units []string) ([]model.Unit, error) {
	cctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()
	rows, err := a.units.GetUnits(cctx, resourceID, units)
	if err != nil {
		return nil, err
	}
	byNumber := make(map[string]model.Unit, len(rows))
	for _, r := range rows {
		byNumber[r.UnitNumber] = r
	}
	out := make([]model.Unit, 0, len(rows))
	for _, u := range units {
		if r, ok := byNumber[u]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// List returns every unit of the resource.
func (a *Allocator) List(ctx context.Context, resourceID string) ([]model.Unit, error) {
	cctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()
	return a.units.ListUnits(cctx, resourceID)
}

// Block takes AVAILABLE units out of sale.  Administrative blocking races
// with customer claims on the same rows, so it follows the same
// conditional discipline: all requested units become BLOCKED or none do,
// and the counter is decremented by the same amount.
func (a *Allocator) Block(ctx context.Context, resourceID string, units []string) (int, error) {
	set, err := NormalizeUnits(units)
	if err != nil {
		return 0, err
	}
	token := "block:" + uuid.NewString()
	n, err := a.transition(ctx, resourceID, set, Transition{
		From:      model.UnitAvailable,
		To:        model.UnitBlocked,
		SetHolder: token,
	})
	if err != nil || int(n) < len(set) {
		if _, rerr := a.unblockToken(ctx, resourceID, set, token); rerr != nil {
			a.log.Error("block restore failed",
				zap.String("resource_id", resourceID),
				zap.Strings("units", set),
				zap.Error(rerr))
		}
		if err != nil {
			return 0, apperror.ReservationFailed("block units", err)
		}
		return 0, apperror.UnitsUnavailable(a.unavailable(ctx, resourceID, set))
	}
	ok, err := a.sync.Decrement(ctx, resourceID, len(set))
	if err != nil || !ok {
		if _, rerr := a.unblockToken(ctx, resourceID, set, token); rerr != nil {
			a.log.Error("block restore failed after counter sync",
				zap.String("resource_id", resourceID),
				zap.Strings("units", set),
				zap.Error(rerr))
		}
		if err == nil {
			err = apperror.Conflict("available counter below %d", len(set))
		}
		return 0, apperror.ReservationFailed("decrement counter", err)
	}
	return len(set), nil
}

// Unblock returns BLOCKED units to sale and increments the counter by the
// number of rows that actually changed.  It is idempotent.
func (a *Allocator) Unblock(ctx context.Context, resourceID string, units []string) (int, error) {
	set, err := NormalizeUnits(dedupe(units))
	if err != nil {
		return 0, err
	}
	n, err := a.transition(ctx, resourceID, set, Transition{
		From: model.UnitBlocked,
		To:   model.UnitAvailable,
	})
	if err != nil {
		return 0, apperror.ReservationFailed("unblock units", err)
	}
	if n > 0 {
		if err := a.sync.Increment(ctx, resourceID, int(n)); err != nil {
			return int(n), apperror.ReservationFailed("increment counter", err)
		}
	}
	return int(n), nil
}

func (a *Allocator) transition(ctx context.Context, resourceID string, units []string, t Transition) (int64, error) {
	cctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()
	return a.units.TransitionUnits(cctx, resourceID, units, t)
}

// restore undoes this holder's part of a claim.  It runs detached from the
// caller's cancellation so an aborted request cannot skip it.
func (a *Allocator) restore(ctx context.Context, resourceID string, units []string, holder string) (int64, error) {
	return a.transition(context.WithoutCancel(ctx), resourceID, units, Transition{
		From:        model.UnitOccupied,
		To:          model.UnitAvailable,
		MatchHolder: holder,
	})
}

func (a *Allocator) unblockToken(ctx context.Context, resourceID string, units []string, token string) (int64, error) {
	return a.transition(context.WithoutCancel(ctx), resourceID, units, Transition{
		From:        model.UnitBlocked,
		To:          model.UnitAvailable,
		MatchHolder: token,
	})
}

// unavailable is the best-effort diagnostic for a lost race.  A second
// race may already have changed the rows again.
func (a *Allocator) unavailable(ctx context.Context, resourceID string, units []string) []string {
	cctx, cancel := withTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	rows, err := a.units.GetUnits(cctx, resourceID, units)
	if err != nil {
		return units
	}
	taken := notIn(units, rows, model.UnitAvailable)
	if len(taken) == 0 {
		// freed again in the meantime; report the whole request
		return units
	}
	return taken
}

func dedupe(units []string) []string {
	seen := make(map[string]struct{}, len(units))
	out := make([]string, 0, len(units))
	for _, u := range units {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
