package repository

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/iliyamo/travel-reservation/internal/inventory"
    "github.com/iliyamo/travel-reservation/internal/model"
)

// ResourceRepo stores flights and hotels together with their
// available_units counter.  It implements the catalog lookup used by the
// booking service and the aggregate half of the inventory store.
//
// Every write is a single statement whose WHERE clause carries the
// precondition, so concurrent callers never need a row lock.  The
// connection is expected to be opened with clientFoundRows=true so that
// RowsAffected reports matched rows.
type ResourceRepo struct {
    db *sql.DB
}

// NewResourceRepo returns a ResourceRepo bound to the given database.
func NewResourceRepo(db *sql.DB) *ResourceRepo { return &ResourceRepo{db: db} }

const resourceColumns = `id, kind, name, total_units, available_units, starts_at, status, counter_repaired_at, created_at, updated_at`

type rowScanner interface {
    Scan(dest ...interface{}) error
}

func scanResource(row rowScanner) (*model.Resource, error) {
    var (
        r        model.Resource
        repaired sql.NullTime
    )
    if err := row.Scan(&r.ID, &r.Kind, &r.Name, &r.TotalUnits, &r.AvailableUnits,
        &r.StartsAt, &r.Status, &repaired, &r.CreatedAt, &r.UpdatedAt); err != nil {
        return nil, err
    }
    if repaired.Valid {
        t := repaired.Time
        r.CounterRepairedAt = &t
    }
    return &r, nil
}

// unitInsertBatch caps the rows per multi-row INSERT so large aircraft or
// hotels stay well under max_allowed_packet.
const unitInsertBatch = 500

// CreateResource inserts the resource row and one AVAILABLE unit per spec
// in a single transaction.  TotalUnits and AvailableUnits are derived from
// specs.  A clashing resource id or duplicate unit number yields
// ErrDuplicate.
func (r *ResourceRepo) CreateResource(ctx context.Context, res *model.Resource, specs []model.UnitSpec) error {
    now := time.Now().UTC()
    status := res.Status
    if status == "" {
        status = model.ResourceActive
    }
    err := withTx(ctx, r.db, func(tx *sql.Tx) error {
        const q = `INSERT INTO resources (id, kind, name, total_units, available_units, starts_at, status, created_at, updated_at)
                   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
        if _, err := tx.ExecContext(ctx, q, res.ID, res.Kind, res.Name, len(specs), len(specs),
            res.StartsAt.UTC(), status, now, now); err != nil {
            return err
        }
        for start := 0; start < len(specs); start += unitInsertBatch {
            end := start + unitInsertBatch
            if end > len(specs) {
                end = len(specs)
            }
            if err := insertUnits(ctx, tx, res.ID, specs[start:end], now); err != nil {
                return err
            }
        }
        return nil
    })
    if err != nil {
        if isDuplicate(err) {
            return ErrDuplicate
        }
        return err
    }
    res.Status = status
    res.TotalUnits = len(specs)
    res.AvailableUnits = len(specs)
    res.CreatedAt, res.UpdatedAt = now, now
    return nil
}

func insertUnits(ctx context.Context, tx *sql.Tx, resourceID string, specs []model.UnitSpec, now time.Time) error {
    if len(specs) == 0 {
        return nil
    }
    query := `INSERT INTO units (resource_id, unit_number, status, class, price_cents, holder, updated_at) VALUES `
    args := make([]interface{}, 0, len(specs)*6)
    for i, sp := range specs {
        if i > 0 {
            query += ","
        }
        query += "(?, ?, ?, ?, ?, '', ?)"
        args = append(args, resourceID, sp.UnitNumber, model.UnitAvailable, sp.Class, sp.PriceCents, now)
    }
    _, err := tx.ExecContext(ctx, query, args...)
    return err
}

// GetResource returns the resource or ErrNotFound.
func (r *ResourceRepo) GetResource(ctx context.Context, id string) (*model.Resource, error) {
    row := r.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
    res, err := scanResource(row)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrNotFound
    }
    return res, err
}

// SetResourceStatus changes the catalog status of a resource.
func (r *ResourceRepo) SetResourceStatus(ctx context.Context, id string, status model.ResourceStatus) error {
    const q = `UPDATE resources SET status = ?, updated_at = ? WHERE id = ?`
    result, err := r.db.ExecContext(ctx, q, status, time.Now().UTC(), id)
    if err != nil {
        return err
    }
    n, err := result.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return ErrNotFound
    }
    return nil
}

// DecrementAvailable subtracts n only when at least n units remain.  It
// reports false when the guard rejected the update.
func (r *ResourceRepo) DecrementAvailable(ctx context.Context, resourceID string, n int) (bool, error) {
    const q = `UPDATE resources SET available_units = available_units - ?, updated_at = ?
               WHERE id = ? AND available_units >= ?`
    result, err := r.db.ExecContext(ctx, q, n, time.Now().UTC(), resourceID, n)
    if err != nil {
        return false, err
    }
    affected, err := result.RowsAffected()
    if err != nil {
        return false, err
    }
    if affected > 0 {
        return true, nil
    }
    ok, err := r.resourceExists(ctx, resourceID)
    if err != nil {
        return false, err
    }
    if !ok {
        return false, inventory.ErrUnknownResource
    }
    return false, nil
}

// IncrementAvailable adds n to the counter.
func (r *ResourceRepo) IncrementAvailable(ctx context.Context, resourceID string, n int) error {
    const q = `UPDATE resources SET available_units = available_units + ?, updated_at = ? WHERE id = ?`
    return r.execCounter(ctx, q, n, time.Now().UTC(), resourceID)
}

// GetCounter returns the total and stored available count.
func (r *ResourceRepo) GetCounter(ctx context.Context, resourceID string) (int, int, error) {
    var total, available int
    err := r.db.QueryRowContext(ctx,
        `SELECT total_units, available_units FROM resources WHERE id = ?`, resourceID).
        Scan(&total, &available)
    if errors.Is(err, sql.ErrNoRows) {
        return 0, 0, inventory.ErrUnknownResource
    }
    return total, available, err
}

// CounterSnapshot reads the counter and the unit status counts in one
// statement, so both sides come from the same consistent read.
func (r *ResourceRepo) CounterSnapshot(ctx context.Context, resourceID string) (inventory.Snapshot, error) {
    const q = `SELECT r.total_units, r.available_units, u.status, COUNT(u.unit_number)
               FROM resources r LEFT JOIN units u ON u.resource_id = r.id
               WHERE r.id = ?
               GROUP BY r.total_units, r.available_units, u.status`
    rows, err := r.db.QueryContext(ctx, q, resourceID)
    if err != nil {
        return inventory.Snapshot{}, err
    }
    defer rows.Close()
    snap := inventory.Snapshot{Counts: make(map[model.UnitStatus]int, 3)}
    found := false
    for rows.Next() {
        var (
            status sql.NullString
            n      int
        )
        if err := rows.Scan(&snap.Total, &snap.Available, &status, &n); err != nil {
            return inventory.Snapshot{}, err
        }
        found = true
        if status.Valid {
            snap.Counts[model.UnitStatus(status.String)] = n
        }
    }
    if err := rows.Err(); err != nil {
        return inventory.Snapshot{}, err
    }
    if !found {
        return inventory.Snapshot{}, inventory.ErrUnknownResource
    }
    return snap, nil
}

// OverwriteAvailable replaces the counter and stamps counter_repaired_at.
func (r *ResourceRepo) OverwriteAvailable(ctx context.Context, resourceID string, available int, at time.Time) error {
    const q = `UPDATE resources SET available_units = ?, counter_repaired_at = ?, updated_at = ? WHERE id = ?`
    return r.execCounter(ctx, q, available, at.UTC(), at.UTC(), resourceID)
}

// ListResourceIDs returns every resource id in ascending order.
func (r *ResourceRepo) ListResourceIDs(ctx context.Context) ([]string, error) {
    rows, err := r.db.QueryContext(ctx, `SELECT id FROM resources ORDER BY id`)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var ids []string
    for rows.Next() {
        var id string
        if err := rows.Scan(&id); err != nil {
            return nil, err
        }
        ids = append(ids, id)
    }
    return ids, rows.Err()
}

func (r *ResourceRepo) execCounter(ctx context.Context, q string, args ...interface{}) error {
    result, err := r.db.ExecContext(ctx, q, args...)
    if err != nil {
        return err
    }
    n, err := result.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return inventory.ErrUnknownResource
    }
    return nil
}

func (r *ResourceRepo) resourceExists(ctx context.Context, id string) (bool, error) {
    return exists(ctx, r.db, `SELECT 1 FROM resources WHERE id = ?`, id)
}
