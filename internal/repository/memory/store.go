// Package memory is an in-process implementation of every store the
// engine consumes.  Each method holds one mutex for its whole duration, so
// a single call behaves like a single conditional statement against a
// database: it is atomic on its own and nothing more.  It backs
// STORE_DRIVER=memory and the unit tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/travel-reservation/internal/inventory"
	"github.com/iliyamo/travel-reservation/internal/model"
	"github.com/iliyamo/travel-reservation/internal/repository"
)

type unitKey struct {
	resource string
	number   string
}

// Store keeps resources, units, bookings, linkages and refunds in maps.
type Store struct {
	mu        sync.Mutex
	now       func() time.Time
	resources map[string]*model.Resource
	units     map[unitKey]*model.Unit
	bookings  map[string]*model.Booking
	linkages  map[string][]string // primary -> dependents
	refunds   map[string]*model.Refund
	faults    map[string][]error
}

// Option customises a Store.
type Option func(*Store)

// WithNow sets the time source used for row timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:       func() time.Time { return time.Now().UTC() },
		resources: make(map[string]*model.Resource),
		units:     make(map[unitKey]*model.Unit),
		bookings:  make(map[string]*model.Booking),
		linkages:  make(map[string][]string),
		refunds:   make(map[string]*model.Refund),
		faults:    make(map[string][]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext makes the next call of the named method return err without
// touching any state.  Calls queue up per method.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	s.faults[method] = append(s.faults[method], err)
	s.mu.Unlock()
}

// fault pops a queued error for method.  Callers hold s.mu.
func (s *Store) fault(method string) error {
	q := s.faults[method]
	if len(q) == 0 {
		return nil
	}
	s.faults[method] = q[1:]
	return q[0]
}

// CreateResource inserts a resource and one AVAILABLE unit per spec.  The
// counters are derived from the specs.
func (s *Store) CreateResource(ctx context.Context, r *model.Resource, specs []model.UnitSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateResource"); err != nil {
		return err
	}
	if _, ok := s.resources[r.ID]; ok {
		return repository.ErrDuplicate
	}
	now := s.now()
	seen := make(map[string]struct{}, len(specs))
	for _, sp := range specs {
		if _, dup := seen[sp.UnitNumber]; dup {
			return repository.ErrDuplicate
		}
		seen[sp.UnitNumber] = struct{}{}
	}
	cp := *r
	cp.TotalUnits = len(specs)
	cp.AvailableUnits = len(specs)
	if cp.Status == "" {
		cp.Status = model.ResourceActive
	}
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.resources[r.ID] = &cp
	for _, sp := range specs {
		s.units[unitKey{r.ID, sp.UnitNumber}] = &model.Unit{
			ResourceID: r.ID,
			UnitNumber: sp.UnitNumber,
			Status:     model.UnitAvailable,
			Class:      sp.Class,
			PriceCents: sp.PriceCents,
			UpdatedAt:  now,
		}
	}
	*r = cp
	return nil
}

// GetResource implements the catalog lookup.
func (s *Store) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetResource"); err != nil {
		return nil, err
	}
	r, ok := s.resources[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// SearchResources filters and pages resources the way the MySQL store
// does.
func (s *Store) SearchResources(ctx context.Context, q repository.ResourceQuery) ([]model.Resource, int64, error) {
	q.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SearchResources"); err != nil {
		return nil, 0, err
	}
	name := strings.ToLower(q.Name)
	var all []model.Resource
	for _, r := range s.resources {
		switch {
		case q.Kind != "" && r.Kind != q.Kind:
		case name != "" && !strings.Contains(strings.ToLower(r.Name), name):
		case !q.StartsAfter.IsZero() && !r.StartsAt.After(q.StartsAfter):
		case q.ActiveOnly && r.Status != model.ResourceActive:
		case q.MinAvailable > 0 && r.AvailableUnits < q.MinAvailable:
		default:
			all = append(all, *r)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].StartsAt.Equal(all[j].StartsAt) {
			return all[i].StartsAt.Before(all[j].StartsAt)
		}
		return all[i].ID < all[j].ID
	})
	total := int64(len(all))
	from := (q.Page - 1) * q.PageSize
	if from > len(all) {
		from = len(all)
	}
	to := from + q.PageSize
	if to > len(all) {
		to = len(all)
	}
	return append([]model.Resource{}, all[from:to]...), total, nil
}

// SetResourceStatus changes the catalog status of a resource.
func (s *Store) SetResourceStatus(ctx context.Context, id string, status model.ResourceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = s.now()
	return nil
}

// SetAvailable overwrites a counter without recording a repair.  Tests
// use it to simulate drift.
func (s *Store) SetAvailable(id string, available int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.resources[id]; ok {
		r.AvailableUnits = available
	}
}

// --- inventory.UnitStore ---

func (s *Store) TransitionUnits(ctx context.Context, resourceID string, units []string, t inventory.Transition) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("TransitionUnits"); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()
	var n int64
	for _, num := range units {
		u, ok := s.units[unitKey{resourceID, num}]
		if !ok || u.Status != t.From {
			continue
		}
		if t.MatchHolder != "" && u.Holder != t.MatchHolder {
			continue
		}
		u.Status = t.To
		if t.To == model.UnitAvailable {
			u.Holder = ""
		} else {
			u.Holder = t.SetHolder
		}
		u.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *Store) GetUnits(ctx context.Context, resourceID string, units []string) ([]model.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetUnits"); err != nil {
		return nil, err
	}
	out := make([]model.Unit, 0, len(units))
	for _, num := range units {
		if u, ok := s.units[unitKey{resourceID, num}]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *Store) ListUnits(ctx context.Context, resourceID string) ([]model.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Unit
	for k, u := range s.units {
		if k.resource == resourceID {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitNumber < out[j].UnitNumber })
	return out, nil
}

// --- inventory.CounterStore ---

func (s *Store) DecrementAvailable(ctx context.Context, resourceID string, n int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("DecrementAvailable"); err != nil {
		return false, err
	}
	r, ok := s.resources[resourceID]
	if !ok {
		return false, inventory.ErrUnknownResource
	}
	if r.AvailableUnits < n {
		return false, nil
	}
	r.AvailableUnits -= n
	r.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) IncrementAvailable(ctx context.Context, resourceID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("IncrementAvailable"); err != nil {
		return err
	}
	r, ok := s.resources[resourceID]
	if !ok {
		return inventory.ErrUnknownResource
	}
	r.AvailableUnits += n
	r.UpdatedAt = s.now()
	return nil
}

func (s *Store) GetCounter(ctx context.Context, resourceID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[resourceID]
	if !ok {
		return 0, 0, inventory.ErrUnknownResource
	}
	return r.TotalUnits, r.AvailableUnits, nil
}

// CounterSnapshot reads the counter and the unit status counts under one
// lock.
func (s *Store) CounterSnapshot(ctx context.Context, resourceID string) (inventory.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CounterSnapshot"); err != nil {
		return inventory.Snapshot{}, err
	}
	r, ok := s.resources[resourceID]
	if !ok {
		return inventory.Snapshot{}, inventory.ErrUnknownResource
	}
	snap := inventory.Snapshot{
		Total:     r.TotalUnits,
		Available: r.AvailableUnits,
		Counts:    make(map[model.UnitStatus]int, 3),
	}
	for k, u := range s.units {
		if k.resource == resourceID {
			snap.Counts[u.Status]++
		}
	}
	return snap, nil
}

func (s *Store) OverwriteAvailable(ctx context.Context, resourceID string, available int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("OverwriteAvailable"); err != nil {
		return err
	}
	r, ok := s.resources[resourceID]
	if !ok {
		return inventory.ErrUnknownResource
	}
	r.AvailableUnits = available
	t := at
	r.CounterRepairedAt = &t
	r.UpdatedAt = at
	return nil
}

func (s *Store) ListResourceIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.resources))
	for id := range s.resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
