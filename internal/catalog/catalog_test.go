package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/travel-reservation/internal/apperror"
	"github.com/iliyamo/travel-reservation/internal/catalog"
	"github.com/iliyamo/travel-reservation/internal/inventory"
	"github.com/iliyamo/travel-reservation/internal/model"
	"github.com/iliyamo/travel-reservation/internal/repository/memory"
)

func newService(t *testing.T) (*catalog.Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	log := zaptest.NewLogger(t)
	syncer := inventory.NewSynchronizer(st, time.Second, log)
	alloc := inventory.NewAllocator(st, syncer, time.Second, log)
	return catalog.NewService(st, alloc, time.Second, log), st
}

func flightInput(id string, units ...string) catalog.CreateInput {
	specs := make([]model.UnitSpec, len(units))
	for i, u := range units {
		specs[i] = model.UnitSpec{UnitNumber: u, Class: "ECONOMY", PriceCents: 12000}
	}
	return catalog.CreateInput{
		ID:       id,
		Kind:     "flight",
		Name:     "AMS-LIS",
		StartsAt: time.Now().Add(72 * time.Hour),
		Units:    specs,
	}
}

func TestCreateResource(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	r, err := svc.CreateResource(ctx, flightInput("FL-7", "1A", " 1B ", "2A"))
	require.NoError(t, err)
	assert.Equal(t, model.ResourceFlight, r.Kind)
	assert.Equal(t, model.ResourceActive, r.Status)
	assert.Equal(t, 3, r.TotalUnits)
	assert.Equal(t, 3, r.AvailableUnits)

	units, err := svc.ListUnits(ctx, "FL-7")
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, "1B", units[1].UnitNumber)
	for _, u := range units {
		assert.Equal(t, model.UnitAvailable, u.Status)
	}

	_, err = svc.CreateResource(ctx, flightInput("FL-7", "9Z"))
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestCreateResourceValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := map[string]func(in *catalog.CreateInput){
		"no units":       func(in *catalog.CreateInput) { in.Units = nil },
		"bad kind":       func(in *catalog.CreateInput) { in.Kind = "TRAIN" },
		"missing name":   func(in *catalog.CreateInput) { in.Name = "" },
		"slash in id":    func(in *catalog.CreateInput) { in.ID = "FL/1" },
		"duplicate unit": func(in *catalog.CreateInput) { in.Units[1].UnitNumber = "1A" },
		"negative price": func(in *catalog.CreateInput) { in.Units[0].PriceCents = -1 },
		"missing class":  func(in *catalog.CreateInput) { in.Units[0].Class = "" },
		"zero start":     func(in *catalog.CreateInput) { in.StartsAt = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := flightInput("FL-9", "1A", "1B")
			mutate(&in)
			_, err := svc.CreateResource(ctx, in)
			assert.ErrorIs(t, err, apperror.ErrValidation)
		})
	}
}

func TestSearchResources(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	_, err := svc.CreateResource(ctx, flightInput("FL-1", "1A"))
	require.NoError(t, err)
	later := flightInput("FL-2", "1A", "1B")
	later.Name = "AMS-OPO"
	later.StartsAt = time.Now().Add(96 * time.Hour)
	_, err = svc.CreateResource(ctx, later)
	require.NoError(t, err)
	hotel := flightInput("HT-1", "101")
	hotel.Kind = "HOTEL"
	hotel.Name = "Lisbon Harbour Hotel"
	_, err = svc.CreateResource(ctx, hotel)
	require.NoError(t, err)

	all, err := svc.SearchResources(ctx, catalog.SearchInput{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total)
	assert.Equal(t, 1, all.Page)
	assert.Equal(t, 20, all.PageSize)

	hotels, err := svc.SearchResources(ctx, catalog.SearchInput{Kind: "hotel"})
	require.NoError(t, err)
	require.Len(t, hotels.Resources, 1)
	assert.Equal(t, "HT-1", hotels.Resources[0].ID)

	byName, err := svc.SearchResources(ctx, catalog.SearchInput{Name: "opo"})
	require.NoError(t, err)
	require.Len(t, byName.Resources, 1)
	assert.Equal(t, "FL-2", byName.Resources[0].ID)

	roomy, err := svc.SearchResources(ctx, catalog.SearchInput{MinAvailable: 2})
	require.NoError(t, err)
	require.Len(t, roomy.Resources, 1)
	assert.Equal(t, "FL-2", roomy.Resources[0].ID)

	require.NoError(t, st.SetResourceStatus(ctx, "FL-1", model.ResourceCancelled))
	open, err := svc.SearchResources(ctx, catalog.SearchInput{Bookable: true, Kind: "FLIGHT"})
	require.NoError(t, err)
	require.Len(t, open.Resources, 1)
	assert.Equal(t, "FL-2", open.Resources[0].ID)

	paged, err := svc.SearchResources(ctx, catalog.SearchInput{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, paged.Total)
	require.Len(t, paged.Resources, 1)
	assert.Equal(t, "FL-2", paged.Resources[0].ID, "ordered by start time")

	_, err = svc.SearchResources(ctx, catalog.SearchInput{Kind: "bus"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestBlockAndUnblockUnits(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	_, err := svc.CreateResource(ctx, flightInput("FL-1", "1A", "1B", "1C"))
	require.NoError(t, err)

	n, err := svc.BlockUnits(ctx, "FL-1", []string{"1A", "1B"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	r, err := st.GetResource(ctx, "FL-1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.AvailableUnits)

	_, err = svc.BlockUnits(ctx, "FL-1", []string{"1B", "1C"})
	require.ErrorIs(t, err, apperror.ErrUnitsUnavailable)
	e, _ := apperror.As(err)
	assert.Equal(t, []string{"1B"}, e.Units)

	n, err = svc.UnblockUnits(ctx, "FL-1", []string{"1A", "1B", "1C"})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "only blocked rows change")
	r, err = st.GetResource(ctx, "FL-1")
	require.NoError(t, err)
	assert.Equal(t, 3, r.AvailableUnits)

	_, err = svc.BlockUnits(ctx, "nope", []string{"1A"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCancelResource(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateResource(ctx, flightInput("FL-1", "1A"))
	require.NoError(t, err)

	r, err := svc.CancelResource(ctx, "FL-1")
	require.NoError(t, err)
	assert.Equal(t, model.ResourceCancelled, r.Status)
	assert.False(t, r.Bookable(time.Now()))

	_, err = svc.CancelResource(ctx, "nope")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
