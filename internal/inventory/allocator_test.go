package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/travel-reservation/internal/apperror"
	"github.com/iliyamo/travel-reservation/internal/inventory"
	"github.com/iliyamo/travel-reservation/internal/model"
	"github.com/iliyamo/travel-reservation/internal/repository/memory"
)

var errBoom = errors.New("connection reset")

func newFixture(t *testing.T, units ...string) (*memory.Store, *inventory.Allocator, *inventory.Synchronizer) {
	t.Helper()
	st := memory.New()
	specs := make([]model.UnitSpec, len(units))
	for i, u := range units {
		specs[i] = model.UnitSpec{UnitNumber: u, Class: "ECONOMY", PriceCents: 10000}
	}
	res := &model.Resource{
		ID:       "FL-100",
		Kind:     model.ResourceFlight,
		Name:     "AMS-LIS",
		StartsAt: time.Now().Add(30 * 24 * time.Hour),
	}
	require.NoError(t, st.CreateResource(context.Background(), res, specs))
	log := zaptest.NewLogger(t)
	syncer := inventory.NewSynchronizer(st, time.Second, log)
	return st, inventory.NewAllocator(st, syncer, time.Second, log), syncer
}

func statuses(t *testing.T, a *inventory.Allocator, units ...string) map[string]model.UnitStatus {
	t.Helper()
	rows, err := a.Units(context.Background(), "FL-100", units)
	require.NoError(t, err)
	out := make(map[string]model.UnitStatus, len(rows))
	for _, r := range rows {
		out[r.UnitNumber] = r.Status
	}
	return out
}

func TestClaimAndRelease(t *testing.T) {
	_, a, _ := newFixture(t, "1A", "1B", "1C")
	ctx := context.Background()

	c, err := a.Claim(ctx, "FL-100", []string{"1A", "1B"}, 2, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1A", "1B"}, c.UnitNumbers)

	rows, err := a.Units(ctx, "FL-100", []string{"1B", "1A"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1B", rows[0].UnitNumber)
	assert.Equal(t, "bk-1", rows[0].Holder)

	n, err := a.Release(ctx, "FL-100", []string{"1A", "1B"}, "bk-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, map[string]model.UnitStatus{"1A": model.UnitAvailable, "1B": model.UnitAvailable}, statuses(t, a, "1A", "1B"))
}

func TestClaimIsAllOrNothing(t *testing.T) {
	_, a, _ := newFixture(t, "1A", "1B", "1C", "1D")
	ctx := context.Background()

	_, err := a.Claim(ctx, "FL-100", []string{"1C"}, 1, "bk-other")
	require.NoError(t, err)

	_, err = a.Claim(ctx, "FL-100", []string{"1A", "1B", "1C"}, 3, "bk-1")
	require.ErrorIs(t, err, apperror.ErrUnitsUnavailable)
	e, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"1C"}, e.Units)

	got := statuses(t, a, "1A", "1B", "1C")
	assert.Equal(t, model.UnitAvailable, got["1A"])
	assert.Equal(t, model.UnitAvailable, got["1B"])
	assert.Equal(t, model.UnitOccupied, got["1C"], "the other holder keeps its unit")
}

func TestClaimRejectsBadInput(t *testing.T) {
	_, a, _ := newFixture(t, "1A", "1B")
	ctx := context.Background()

	_, err := a.Claim(ctx, "FL-100", []string{"1A", "1A"}, 2, "bk-1")
	assert.ErrorIs(t, err, apperror.ErrValidation)
	_, err = a.Claim(ctx, "FL-100", []string{"1A"}, 2, "bk-1")
	assert.ErrorIs(t, err, apperror.ErrValidation)
	_, err = a.Claim(ctx, "FL-100", []string{"1A"}, 1, "")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestClaimUnknownUnitIsUnavailable(t *testing.T) {
	_, a, _ := newFixture(t, "1A")
	_, err := a.Claim(context.Background(), "FL-100", []string{"1A", "99Z"}, 2, "bk-1")
	require.ErrorIs(t, err, apperror.ErrUnitsUnavailable)
	assert.Equal(t, model.UnitAvailable, statuses(t, a, "1A")["1A"])
}

func TestClaimStoreErrorRestores(t *testing.T) {
	st, a, _ := newFixture(t, "1A", "1B")
	st.FailNext("TransitionUnits", errBoom)

	_, err := a.Claim(context.Background(), "FL-100", []string{"1A", "1B"}, 2, "bk-1")
	require.ErrorIs(t, err, apperror.ErrReservationFailed)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, map[string]model.UnitStatus{"1A": model.UnitAvailable, "1B": model.UnitAvailable}, statuses(t, a, "1A", "1B"))
}

func TestReleaseIsIdempotentAndHolderScoped(t *testing.T) {
	_, a, _ := newFixture(t, "1A", "1B")
	ctx := context.Background()
	_, err := a.Claim(ctx, "FL-100", []string{"1A"}, 1, "bk-1")
	require.NoError(t, err)
	_, err = a.Claim(ctx, "FL-100", []string{"1B"}, 1, "bk-2")
	require.NoError(t, err)

	n, err := a.Release(ctx, "FL-100", []string{"1A", "1B"}, "bk-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	first := statuses(t, a, "1A", "1B")

	n, err = a.Release(ctx, "FL-100", []string{"1A", "1B"}, "bk-1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, first, statuses(t, a, "1A", "1B"))
	assert.Equal(t, model.UnitOccupied, first["1B"])

	_, err = a.Release(ctx, "FL-100", []string{"1A"}, "")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestReoccupyGivesFreedUnitsBack(t *testing.T) {
	_, a, _ := newFixture(t, "1A", "1B")
	ctx := context.Background()
	_, err := a.Claim(ctx, "FL-100", []string{"1A", "1B"}, 2, "bk-1")
	require.NoError(t, err)
	_, err = a.Release(ctx, "FL-100", []string{"1A", "1B"}, "bk-1")
	require.NoError(t, err)
	_, err = a.Claim(ctx, "FL-100", []string{"1B"}, 1, "bk-2")
	require.NoError(t, err)

	n, err := a.Reoccupy(ctx, "FL-100", []string{"1A", "1B"}, "bk-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rows, err := a.Units(ctx, "FL-100", []string{"1A", "1B"})
	require.NoError(t, err)
	assert.Equal(t, "bk-1", rows[0].Holder)
	assert.Equal(t, "bk-2", rows[1].Holder)
}

func TestConcurrentClaimsNeverDoubleAllocate(t *testing.T) {
	units := make([]string, 8)
	for i := range units {
		units[i] = fmt.Sprintf("%dA", i+1)
	}
	_, a, _ := newFixture(t, units...)
	ctx := context.Background()

	const workers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins = map[string][]string{}
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// overlapping windows of three units
			start := w % (len(units) - 2)
			set := units[start : start+3]
			holder := fmt.Sprintf("bk-%d", w)
			c, err := a.Claim(ctx, "FL-100", set, len(set), holder)
			if err != nil {
				assert.ErrorIs(t, err, apperror.ErrUnitsUnavailable)
				return
			}
			mu.Lock()
			for _, u := range c.UnitNumbers {
				wins[u] = append(wins[u], holder)
			}
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	rows, err := a.List(ctx, "FL-100")
	require.NoError(t, err)
	for _, r := range rows {
		assert.LessOrEqual(t, len(wins[r.UnitNumber]), 1, "unit %s won by %v", r.UnitNumber, wins[r.UnitNumber])
		if len(wins[r.UnitNumber]) == 1 {
			assert.Equal(t, model.UnitOccupied, r.Status)
			assert.Equal(t, wins[r.UnitNumber][0], r.Holder)
		} else {
			assert.Equal(t, model.UnitAvailable, r.Status, "unit %s leaked", r.UnitNumber)
		}
	}
}

func TestBlockAndUnblock(t *testing.T) {
	_, a, syncer := newFixture(t, "1A", "1B", "1C")
	ctx := context.Background()

	n, err := a.Block(ctx, "FL-100", []string{"1A", "1B"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	available, total, err := syncer.Available(ctx, "FL-100")
	require.NoError(t, err)
	assert.Equal(t, 1, available)
	assert.Equal(t, 3, total)

	_, err = a.Claim(ctx, "FL-100", []string{"1A"}, 1, "bk-1")
	assert.ErrorIs(t, err, apperror.ErrUnitsUnavailable)

	// all or nothing: 1B is already blocked
	_, err = a.Block(ctx, "FL-100", []string{"1B", "1C"})
	assert.ErrorIs(t, err, apperror.ErrUnitsUnavailable)
	assert.Equal(t, model.UnitAvailable, statuses(t, a, "1C")["1C"])

	n, err = a.Unblock(ctx, "FL-100", []string{"1A", "1B"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = a.Unblock(ctx, "FL-100", []string{"1A", "1B"})
	require.NoError(t, err)
	assert.Zero(t, n)

	r, err := syncer.Reconcile(ctx, "FL-100")
	require.NoError(t, err)
	assert.True(t, r.Consistent)
	assert.Equal(t, 3, r.Stored)
}

func TestBlockUndoneWhenCounterSyncFails(t *testing.T) {
	st, a, _ := newFixture(t, "1A", "1B")
	st.FailNext("DecrementAvailable", errBoom)

	_, err := a.Block(context.Background(), "FL-100", []string{"1A"})
	require.ErrorIs(t, err, apperror.ErrReservationFailed)
	assert.Equal(t, model.UnitAvailable, statuses(t, a, "1A")["1A"])
}
