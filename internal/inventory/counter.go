package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/travel-reservation/internal/clock"
	"github.com/iliyamo/travel-reservation/internal/model"
)

// Report is the outcome of comparing a resource's stored counter with the
// unit rows, both read at the same instant.  A booking in flight when it
// was taken can make it stale immediately.
type Report struct {
	ResourceID      string    `json:"resource_id"`
	Total           int       `json:"total_units"`
	Stored          int       `json:"stored_available"`
	ActualAvailable int       `json:"actual_available"`
	Occupied        int       `json:"occupied"`
	Blocked         int       `json:"blocked"`
	Consistent      bool      `json:"consistent"`
	Repaired        bool      `json:"repaired"`
	CheckedAt       time.Time `json:"checked_at"`
}

// SweepResult collects the reports of a reconciliation pass over every
// resource.  Failed maps resource ids to the error that stopped them.
type SweepResult struct {
	Reports []Report          `json:"reports"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// RepairHook is invoked after a counter was overwritten.
type RepairHook func(ctx context.Context, r Report)

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithRepairHook registers a callback fired after every repair that
// changed the counter.
func WithRepairHook(h RepairHook) SyncOption {
	return func(s *Synchronizer) { s.onRepair = h }
}

// WithClock overrides the clock used to timestamp repairs.
func WithClock(c clock.Clock) SyncOption {
	return func(s *Synchronizer) { s.clock = c }
}

// Synchronizer owns the available-units counter of every resource.
type Synchronizer struct {
	counters CounterStore
	clock    clock.Clock
	timeout  time.Duration
	log      *zap.Logger
	onRepair RepairHook
}

func NewSynchronizer(counters CounterStore, timeout time.Duration, log *zap.Logger, opts ...SyncOption) *Synchronizer {
	if counters == nil {
		panic("nil store passed to NewSynchronizer")
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Synchronizer{
		counters: counters,
		clock:    clock.NewSystem(),
		timeout:  timeout,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Decrement lowers the counter by n when at least n units are available.
// It returns false, with no effect, when there is not enough headroom.
func (s *Synchronizer) Decrement(ctx context.Context, resourceID string, n int) (bool, error) {
	if n <= 0 {
		return true, nil
	}
	cctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.counters.DecrementAvailable(cctx, resourceID, n)
}

// Increment raises the counter by n unconditionally.
func (s *Synchronizer) Increment(ctx context.Context, resourceID string, n int) error {
	if n <= 0 {
		return nil
	}
	cctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.counters.IncrementAvailable(cctx, resourceID, n)
}

// Available returns the stored counter and the total unit count.
func (s *Synchronizer) Available(ctx context.Context, resourceID string) (available, total int, err error) {
	cctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	total, available, err = s.counters.GetCounter(cctx, resourceID)
	return available, total, err
}

// Reconcile recomputes the number of AVAILABLE units from the unit rows
// and compares it with the stored counter.  It never writes.
func (s *Synchronizer) Reconcile(ctx context.Context, resourceID string) (Report, error) {
	cctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	snap, err := s.counters.CounterSnapshot(cctx, resourceID)
	if err != nil {
		return Report{}, fmt.Errorf("read counter snapshot: %w", err)
	}
	r := Report{
		ResourceID:      resourceID,
		Total:           snap.Total,
		Stored:          snap.Available,
		ActualAvailable: snap.Counts[model.UnitAvailable],
		Occupied:        snap.Counts[model.UnitOccupied],
		Blocked:         snap.Counts[model.UnitBlocked],
		CheckedAt:       s.clock.Now(),
	}
	r.Consistent = r.Stored == r.ActualAvailable
	return r, nil
}

// Repair reconciles the resource and, on mismatch, overwrites the counter
// with the recomputed value.  Run concurrently with bookings it may be
// superseded by the next pass; the guarantee is consistency after
// quiescence.
func (s *Synchronizer) Repair(ctx context.Context, resourceID string) (Report, error) {
	r, err := s.Reconcile(ctx, resourceID)
	if err != nil {
		return r, err
	}
	if r.Consistent {
		return r, nil
	}
	cctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.counters.OverwriteAvailable(cctx, resourceID, r.ActualAvailable, r.CheckedAt); err != nil {
		return r, fmt.Errorf("overwrite counter: %w", err)
	}
	r.Repaired = true
	s.log.Warn("available counter repaired",
		zap.String("resource_id", resourceID),
		zap.Int("stored", r.Stored),
		zap.Int("actual", r.ActualAvailable))
	if s.onRepair != nil {
		s.onRepair(ctx, r)
	}
	return r, nil
}

// ReconcileAll runs Reconcile (or Repair) over every resource.  A failure
// on one resource is logged and recorded, and the sweep moves on.
func (s *Synchronizer) ReconcileAll(ctx context.Context, repair bool) (SweepResult, error) {
	cctx, cancel := withTimeout(ctx, s.timeout)
	ids, err := s.counters.ListResourceIDs(cctx)
	cancel()
	if err != nil {
		return SweepResult{}, fmt.Errorf("list resources: %w", err)
	}
	res := SweepResult{Reports: make([]Report, 0, len(ids))}
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var r Report
		if repair {
			r, err = s.Repair(ctx, id)
		} else {
			r, err = s.Reconcile(ctx, id)
		}
		if err != nil {
			if errors.Is(err, ErrUnknownResource) {
				continue
			}
			s.log.Error("reconcile failed", zap.String("resource_id", id), zap.Error(err))
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[id] = err.Error()
			continue
		}
		res.Reports = append(res.Reports, r)
	}
	return res, nil
}
