package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/iliyamo/travel-reservation/internal/inventory"
    "github.com/iliyamo/travel-reservation/internal/model"
)

// UnitRepo is the per-unit half of the inventory store.  Seats and rooms
// are keyed by (resource_id, unit_number) and change state only through
// TransitionUnits, one conditional UPDATE per batch.
type UnitRepo struct {
    db *sql.DB
}

// NewUnitRepo returns a UnitRepo bound to the given database.
func NewUnitRepo(db *sql.DB) *UnitRepo { return &UnitRepo{db: db} }

const unitColumns = `resource_id, unit_number, status, class, price_cents, holder, updated_at`

// TransitionUnits moves every listed unit that is currently in t.From (and
// held by t.MatchHolder, when set) to t.To.  The returned count is the
// number of rows that matched the predicate; anything short of len(units)
// means some other writer got there first.
func (r *UnitRepo) TransitionUnits(ctx context.Context, resourceID string, units []string, t inventory.Transition) (int64, error) {
    if len(units) == 0 {
        return 0, nil
    }
    holder := t.SetHolder
    if t.To == model.UnitAvailable {
        holder = ""
    }
    query := `UPDATE units SET status = ?, holder = ?, updated_at = ? WHERE resource_id = ? AND status = ?`
    args := make([]interface{}, 0, 6+len(units))
    args = append(args, t.To, holder, time.Now().UTC(), resourceID, t.From)
    if t.MatchHolder != "" {
        query += ` AND holder = ?`
        args = append(args, t.MatchHolder)
    }
    query += ` AND unit_number IN (` + placeholders(len(units)) + `)`
    for _, u := range units {
        args = append(args, u)
    }
    result, err := r.db.ExecContext(ctx, query, args...)
    if err != nil {
        return 0, err
    }
    return result.RowsAffected()
}

// GetUnits returns the rows that exist among units.
func (r *UnitRepo) GetUnits(ctx context.Context, resourceID string, units []string) ([]model.Unit, error) {
    if len(units) == 0 {
        return nil, nil
    }
    args := make([]interface{}, 0, 1+len(units))
    args = append(args, resourceID)
    for _, u := range units {
        args = append(args, u)
    }
    return r.query(ctx,
        `SELECT `+unitColumns+` FROM units WHERE resource_id = ? AND unit_number IN (`+placeholders(len(units))+`)`,
        args...)
}

// ListUnits returns every unit of the resource ordered by unit number.
func (r *UnitRepo) ListUnits(ctx context.Context, resourceID string) ([]model.Unit, error) {
    return r.query(ctx,
        `SELECT `+unitColumns+` FROM units WHERE resource_id = ? ORDER BY unit_number`, resourceID)
}

func (r *UnitRepo) query(ctx context.Context, q string, args ...interface{}) ([]model.Unit, error) {
    rows, err := r.db.QueryContext(ctx, q, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Unit
    for rows.Next() {
        var u model.Unit
        if err := rows.Scan(&u.ResourceID, &u.UnitNumber, &u.Status, &u.Class, &u.PriceCents,
            &u.Holder, &u.UpdatedAt); err != nil {
            return nil, err
        }
        out = append(out, u)
    }
    return out, rows.Err()
}
