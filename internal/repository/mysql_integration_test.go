//go:build integration

package repository_test

import (
    "context"
    "database/sql"
    "fmt"
    "os"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "github.com/testcontainers/testcontainers-go"
    "github.com/testcontainers/testcontainers-go/wait"
    "go.uber.org/zap"
    "go.uber.org/zap/zaptest"

    "github.com/iliyamo/travel-reservation/internal/apperror"
    "github.com/iliyamo/travel-reservation/internal/booking"
    "github.com/iliyamo/travel-reservation/internal/database"
    "github.com/iliyamo/travel-reservation/internal/inventory"
    "github.com/iliyamo/travel-reservation/internal/model"
    "github.com/iliyamo/travel-reservation/internal/pii"
    "github.com/iliyamo/travel-reservation/internal/repository"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
    os.Exit(runWithMySQL(m))
}

func runWithMySQL(m *testing.M) int {
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
    defer cancel()

    container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
        ContainerRequest: testcontainers.ContainerRequest{
            Image:        "mysql:8.0",
            ExposedPorts: []string{"3306/tcp"},
            Env: map[string]string{
                "MYSQL_ROOT_PASSWORD": "secret",
                "MYSQL_DATABASE":      "travel",
            },
            // the init server logs "ready for connections" once before the real one
            WaitingFor: wait.ForAll(
                wait.ForListeningPort("3306/tcp"),
                wait.ForLog("ready for connections").WithOccurrence(2),
            ).WithDeadline(2 * time.Minute),
        },
        Started: true,
    })
    if err != nil {
        fmt.Fprintln(os.Stderr, "start mysql:", err)
        return 1
    }
    defer func() { _ = container.Terminate(context.Background()) }()

    host, err := container.Host(ctx)
    if err != nil {
        fmt.Fprintln(os.Stderr, err)
        return 1
    }
    port, err := container.MappedPort(ctx, "3306")
    if err != nil {
        fmt.Fprintln(os.Stderr, err)
        return 1
    }
    dsn := database.DSN("root", "secret", host, port.Port(), "travel")
    if err := database.Migrate(dsn, zap.NewNop()); err != nil {
        fmt.Fprintln(os.Stderr, "migrate:", err)
        return 1
    }
    testDB, err = database.OpenDSN(dsn)
    if err != nil {
        fmt.Fprintln(os.Stderr, "open:", err)
        return 1
    }
    defer testDB.Close()
    return m.Run()
}

func seedResource(t *testing.T, id string, startsIn time.Duration, units ...string) *model.Resource {
    t.Helper()
    specs := make([]model.UnitSpec, len(units))
    for i, u := range units {
        specs[i] = model.UnitSpec{UnitNumber: u, Class: "ECONOMY", PriceCents: 10000 + int64(i)}
    }
    r := &model.Resource{ID: id, Kind: model.ResourceFlight, Name: id, StartsAt: time.Now().Add(startsIn)}
    require.NoError(t, repository.NewResourceRepo(testDB).CreateResource(context.Background(), r, specs))
    return r
}

func TestResourceRepo(t *testing.T) {
    ctx := context.Background()
    repo := repository.NewResourceRepo(testDB)
    created := seedResource(t, "RR-1", 48*time.Hour, "1A", "1B", "1C")
    assert.Equal(t, 3, created.AvailableUnits)

    err := repo.CreateResource(ctx, &model.Resource{ID: "RR-1", Kind: model.ResourceHotel, Name: "dup", StartsAt: time.Now()}, nil)
    assert.ErrorIs(t, err, repository.ErrDuplicate)

    got, err := repo.GetResource(ctx, "RR-1")
    require.NoError(t, err)
    assert.Equal(t, model.ResourceActive, got.Status)
    assert.Equal(t, 3, got.TotalUnits)
    assert.Nil(t, got.CounterRepairedAt)

    _, err = repo.GetResource(ctx, "missing")
    assert.ErrorIs(t, err, repository.ErrNotFound)

    ok, err := repo.DecrementAvailable(ctx, "RR-1", 2)
    require.NoError(t, err)
    assert.True(t, ok)
    ok, err = repo.DecrementAvailable(ctx, "RR-1", 2)
    require.NoError(t, err)
    assert.False(t, ok, "counter never goes negative")
    _, err = repo.DecrementAvailable(ctx, "missing", 1)
    assert.ErrorIs(t, err, inventory.ErrUnknownResource)

    require.NoError(t, repo.IncrementAvailable(ctx, "RR-1", 1))
    total, avail, err := repo.GetCounter(ctx, "RR-1")
    require.NoError(t, err)
    assert.Equal(t, 3, total)
    assert.Equal(t, 2, avail)

    at := time.Now().UTC().Truncate(time.Microsecond)
    require.NoError(t, repo.OverwriteAvailable(ctx, "RR-1", 3, at))
    got, err = repo.GetResource(ctx, "RR-1")
    require.NoError(t, err)
    assert.Equal(t, 3, got.AvailableUnits)
    require.NotNil(t, got.CounterRepairedAt)
    assert.True(t, at.Equal(*got.CounterRepairedAt))

    require.NoError(t, repo.SetResourceStatus(ctx, "RR-1", model.ResourceCancelled))
    assert.ErrorIs(t, repo.SetResourceStatus(ctx, "missing", model.ResourceCancelled), repository.ErrNotFound)

    flights, found, err := repo.SearchResources(ctx, repository.ResourceQuery{Kind: model.ResourceFlight, Name: "rr-"})
    require.NoError(t, err)
    assert.EqualValues(t, 1, found)
    require.Len(t, flights, 1)
    _, found, err = repo.SearchResources(ctx, repository.ResourceQuery{Name: "rr-", ActiveOnly: true})
    require.NoError(t, err)
    assert.Zero(t, found)
    ids, err := repo.ListResourceIDs(ctx)
    require.NoError(t, err)
    assert.Contains(t, ids, "RR-1")
}

func TestUnitRepoTransitions(t *testing.T) {
    ctx := context.Background()
    units := repository.NewUnitRepo(testDB)
    seedResource(t, "UR-1", 48*time.Hour, "1A", "1B", "1C")

    n, err := units.TransitionUnits(ctx, "UR-1", []string{"1A", "1B"}, inventory.Transition{
        From: model.UnitAvailable, To: model.UnitOccupied, SetHolder: "booking-1",
    })
    require.NoError(t, err)
    assert.EqualValues(t, 2, n)

    // a second claimer matches nothing
    n, err = units.TransitionUnits(ctx, "UR-1", []string{"1B", "1C"}, inventory.Transition{
        From: model.UnitAvailable, To: model.UnitOccupied, SetHolder: "booking-2",
    })
    require.NoError(t, err)
    assert.EqualValues(t, 1, n)

    // release scoped to the wrong holder touches nothing
    n, err = units.TransitionUnits(ctx, "UR-1", []string{"1A", "1B"}, inventory.Transition{
        From: model.UnitOccupied, To: model.UnitAvailable, MatchHolder: "booking-2",
    })
    require.NoError(t, err)
    assert.EqualValues(t, 0, n)

    rows, err := units.GetUnits(ctx, "UR-1", []string{"1A", "1C", "9Z"})
    require.NoError(t, err)
    require.Len(t, rows, 2)
    holders := map[string]string{}
    for _, u := range rows {
        holders[u.UnitNumber] = u.Holder
    }
    assert.Equal(t, map[string]string{"1A": "booking-1", "1C": "booking-2"}, holders)

    n, err = units.TransitionUnits(ctx, "UR-1", []string{"1A", "1B"}, inventory.Transition{
        From: model.UnitOccupied, To: model.UnitAvailable, MatchHolder: "booking-1",
    })
    require.NoError(t, err)
    assert.EqualValues(t, 2, n)

    snap, err := repository.NewResourceRepo(testDB).CounterSnapshot(ctx, "UR-1")
    require.NoError(t, err)
    assert.Equal(t, 3, snap.Total)
    assert.Equal(t, 2, snap.Counts[model.UnitAvailable])
    assert.Equal(t, 1, snap.Counts[model.UnitOccupied])
    assert.Zero(t, snap.Counts[model.UnitBlocked])

    _, err = repository.NewResourceRepo(testDB).CounterSnapshot(ctx, "missing")
    assert.ErrorIs(t, err, inventory.ErrUnknownResource)

    all, err := units.ListUnits(ctx, "UR-1")
    require.NoError(t, err)
    require.Len(t, all, 3)
    assert.Equal(t, "", all[0].Holder, "holder cleared on release")
}

func newBooking(id, customer, resource string, units ...string) *model.Booking {
    now := time.Now().UTC().Truncate(time.Microsecond)
    b := &model.Booking{
        ID: id, CustomerID: customer, ResourceID: resource, Status: model.BookingConfirmed,
        TotalPriceCents: 100, Version: 1, CreatedAt: now, UpdatedAt: now,
    }
    for i, u := range units {
        b.LineItems = append(b.LineItems, model.LineItem{
            ID: fmt.Sprintf("%s-li-%d", id, i), BookingID: id, UnitNumber: u, Class: "ECONOMY",
            PriceCents: 50, PassengerBlob: []byte{1, 2, 3}, PassengerMasked: "A*** L***",
        })
    }
    return b
}

func TestBookingRepo(t *testing.T) {
    ctx := context.Background()
    repo := repository.NewBookingRepo(testDB)
    seedResource(t, "BR-1", 48*time.Hour, "1A", "1B", "1C")
    seedResource(t, "BR-2", 48*time.Hour, "101")

    primary := newBooking("br-primary", "alice", "BR-1", "1B", "1A")
    require.NoError(t, repo.CreateBooking(ctx, primary, nil))
    assert.ErrorIs(t, repo.CreateBooking(ctx, primary, nil), repository.ErrDuplicate)

    dep := newBooking("br-dep", "alice", "BR-2", "101")
    dep.LinkedBookingID = primary.ID
    require.NoError(t, repo.CreateBooking(ctx, dep, &model.Linkage{DependentID: dep.ID, PrimaryID: primary.ID, CreatedAt: dep.CreatedAt}))

    got, err := repo.GetBooking(ctx, primary.ID)
    require.NoError(t, err)
    assert.Equal(t, []string{"1B", "1A"}, got.UnitNumbers, "line item order is kept")
    assert.Equal(t, []byte{1, 2, 3}, got.LineItems[0].PassengerBlob)

    deps, err := repo.ListDependents(ctx, primary.ID)
    require.NoError(t, err)
    assert.Equal(t, []string{dep.ID}, deps)

    list, err := repo.ListByCustomer(ctx, "alice")
    require.NoError(t, err)
    assert.Len(t, list, 2)

    next := newBooking(primary.ID, "alice", "BR-1", "1C")
    next.TotalPriceCents = 50
    require.NoError(t, repo.ReplaceUnits(ctx, next, 1))
    assert.Equal(t, 2, next.Version)
    assert.ErrorIs(t, repo.ReplaceUnits(ctx, next, 1), repository.ErrConflict)
    got, err = repo.GetBooking(ctx, primary.ID)
    require.NoError(t, err)
    assert.Equal(t, []string{"1C"}, got.UnitNumbers)

    assert.ErrorIs(t, repo.UpdateStatus(ctx, primary.ID, model.BookingConfirmed, model.BookingCancelled, 1), repository.ErrConflict,
        "stale version")
    require.NoError(t, repo.UpdateStatus(ctx, primary.ID, model.BookingConfirmed, model.BookingCancelled, 2))
    assert.ErrorIs(t, repo.UpdateStatus(ctx, primary.ID, model.BookingConfirmed, model.BookingCancelled, 3), repository.ErrConflict)
    assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", model.BookingConfirmed, model.BookingCancelled, 1), repository.ErrNotFound)
    got, err = repo.GetBooking(ctx, primary.ID)
    require.NoError(t, err)
    assert.Equal(t, model.BookingCancelled, got.Status)
    assert.Equal(t, 3, got.Version)
}

func TestRefundRepo(t *testing.T) {
    ctx := context.Background()
    repo := repository.NewRefundRepo(testDB)
    seedResource(t, "RF-1", 48*time.Hour, "1A")
    require.NoError(t, repository.NewBookingRepo(testDB).CreateBooking(ctx, newBooking("rf-1", "bob", "RF-1", "1A"), nil))
    rf := model.Refund{BookingID: "rf-1", AmountCents: 750, FeeCents: 250, Tier: model.RefundPartial}
    require.NoError(t, repo.RecordPendingRefund(ctx, rf))
    assert.ErrorIs(t, repo.RecordPendingRefund(ctx, rf), repository.ErrDuplicate)

    got, err := repo.GetRefund(ctx, "rf-1")
    require.NoError(t, err)
    assert.Equal(t, model.RefundPending, got.Status)
    assert.Nil(t, got.SettledAt)

    require.NoError(t, repo.SettleRefund(ctx, "rf-1", time.Now()))
    require.NoError(t, repo.SettleRefund(ctx, "rf-1", time.Now()), "settling twice is a no-op")
    assert.ErrorIs(t, repo.SettleRefund(ctx, "missing", time.Now()), repository.ErrNotFound)

    got, err = repo.GetRefund(ctx, "rf-1")
    require.NoError(t, err)
    assert.Equal(t, model.RefundSettled, got.Status)
    assert.NotNil(t, got.SettledAt)
}

// TestConcurrentBookingsOnMySQL races many customers for the same units
// through the full booking service and checks exactly one wins each unit
// and the counter still matches the rows.
func TestConcurrentBookingsOnMySQL(t *testing.T) {
    log := zaptest.NewLogger(t)
    resources := repository.NewResourceRepo(testDB)
    units := repository.NewUnitRepo(testDB)
    seedResource(t, "CC-1", 10*24*time.Hour, "1A", "1B", "1C", "1D")

    sealer, err := pii.NewSealer(make([]byte, 32))
    require.NoError(t, err)
    syncer := inventory.NewSynchronizer(resources, 5*time.Second, log)
    alloc := inventory.NewAllocator(units, syncer, 5*time.Second, log)
    svc := booking.NewService(booking.Deps{
        Allocator: alloc,
        Sync:      syncer,
        Catalog:   resources,
        Store:     repository.NewBookingRepo(testDB),
        Refunds:   repository.NewRefundRepo(testDB),
        Cipher:    sealer,
    }, booking.WithLogger(log))

    requests := [][]string{{"1A", "1B"}, {"1B", "1C"}, {"1C", "1D"}, {"1A"}, {"1D"}, {"1B"}}
    var (
        wg      sync.WaitGroup
        mu      sync.Mutex
        won     = map[string]int{}
        winners []*model.Booking
    )
    for i, req := range requests {
        wg.Add(1)
        go func(i int, req []string) {
            defer wg.Done()
            ps := make([]model.Passenger, len(req))
            for j := range ps {
                ps[j] = model.Passenger{FirstName: "Ada", LastName: "Lovelace", DocumentNumber: "P1234567", DateOfBirth: "1990-01-01"}
            }
            b, err := svc.CreateBooking(context.Background(), booking.CreateInput{
                CustomerID: fmt.Sprintf("cust-%d", i), ResourceID: "CC-1", UnitNumbers: req, Passengers: ps,
            })
            if err != nil {
                assert.ErrorIs(t, err, apperror.ErrUnitsUnavailable)
                return
            }
            mu.Lock()
            defer mu.Unlock()
            winners = append(winners, b)
            for _, u := range b.UnitNumbers {
                won[u]++
            }
        }(i, req)
    }
    wg.Wait()

    require.NotEmpty(t, winners)
    for u, n := range won {
        assert.Equal(t, 1, n, "unit %s sold %d times", u, n)
    }
    rep, err := syncer.Reconcile(context.Background(), "CC-1")
    require.NoError(t, err)
    assert.True(t, rep.Consistent, "%+v", rep)
    assert.Equal(t, 4-len(won), rep.ActualAvailable)

    for _, b := range winners {
        res, err := svc.CancelBooking(context.Background(), b.ID)
        require.NoError(t, err)
        assert.Equal(t, model.RefundFull, res.Refund.Tier)
    }
    rep, err = syncer.Reconcile(context.Background(), "CC-1")
    require.NoError(t, err)
    assert.True(t, rep.Consistent)
    assert.Equal(t, 4, rep.ActualAvailable)
}
