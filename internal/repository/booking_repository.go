package repository

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/iliyamo/travel-reservation/internal/model"
)

// BookingRepo persists bookings, their line items and linkages.  A
// booking's unit numbers are not stored separately: they are the unit
// numbers of its line items ordered by position.
type BookingRepo struct {
    db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, customer_id, resource_id, status, total_price_cents, discount_cents, linked_booking_id, version, created_at, updated_at`

func scanBooking(row rowScanner) (*model.Booking, error) {
    var (
        b      model.Booking
        linked sql.NullString
    )
    if err := row.Scan(&b.ID, &b.CustomerID, &b.ResourceID, &b.Status, &b.TotalPriceCents,
        &b.DiscountCents, &linked, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
        return nil, err
    }
    if linked.Valid {
        b.LinkedBookingID = linked.String
    }
    return &b, nil
}

// CreateBooking writes the booking row, its line items and the optional
// linkage in one transaction.  A clashing id yields ErrDuplicate.
func (r *BookingRepo) CreateBooking(ctx context.Context, b *model.Booking, link *model.Linkage) error {
    err := withTx(ctx, r.db, func(tx *sql.Tx) error {
        const q = `INSERT INTO bookings (id, customer_id, resource_id, status, total_price_cents, discount_cents,
                   linked_booking_id, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
        var linked interface{}
        if b.LinkedBookingID != "" {
            linked = b.LinkedBookingID
        }
        if _, err := tx.ExecContext(ctx, q, b.ID, b.CustomerID, b.ResourceID, b.Status, b.TotalPriceCents,
            b.DiscountCents, linked, b.Version, b.CreatedAt.UTC(), b.UpdatedAt.UTC()); err != nil {
            return err
        }
        if err := insertLineItems(ctx, tx, b.ID, b.LineItems); err != nil {
            return err
        }
        if link != nil {
            if _, err := tx.ExecContext(ctx,
                `INSERT INTO linkages (dependent_id, primary_id, created_at) VALUES (?, ?, ?)`,
                link.DependentID, link.PrimaryID, link.CreatedAt.UTC()); err != nil {
                return err
            }
        }
        return nil
    })
    if isDuplicate(err) {
        return ErrDuplicate
    }
    return err
}

func insertLineItems(ctx context.Context, tx *sql.Tx, bookingID string, items []model.LineItem) error {
    if len(items) == 0 {
        return nil
    }
    query := `INSERT INTO line_items (id, booking_id, position, unit_number, class, price_cents, passenger_blob, passenger_masked) VALUES `
    args := make([]interface{}, 0, len(items)*8)
    for i, li := range items {
        if i > 0 {
            query += ","
        }
        query += "(?, ?, ?, ?, ?, ?, ?, ?)"
        args = append(args, li.ID, bookingID, i, li.UnitNumber, li.Class, li.PriceCents, li.PassengerBlob, li.PassengerMasked)
    }
    _, err := tx.ExecContext(ctx, query, args...)
    return err
}

// GetBooking returns the booking with its line items or ErrNotFound.
func (r *BookingRepo) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
    row := r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
    b, err := scanBooking(row)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrNotFound
    }
    if err != nil {
        return nil, err
    }
    items, err := r.lineItems(ctx, b.ID)
    if err != nil {
        return nil, err
    }
    attachItems(b, items[b.ID])
    return b, nil
}

// ListByCustomer returns the customer's bookings newest first.
func (r *BookingRepo) ListByCustomer(ctx context.Context, customerID string) ([]model.Booking, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT `+bookingColumns+` FROM bookings WHERE customer_id = ? ORDER BY created_at DESC, id`, customerID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var (
        out []model.Booking
        ids []string
    )
    for rows.Next() {
        b, err := scanBooking(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, *b)
        ids = append(ids, b.ID)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    if len(ids) == 0 {
        return out, nil
    }
    items, err := r.lineItems(ctx, ids...)
    if err != nil {
        return nil, err
    }
    for i := range out {
        attachItems(&out[i], items[out[i].ID])
    }
    return out, nil
}

// lineItems loads the line items of the given bookings keyed by booking id
// and ordered by position.
func (r *BookingRepo) lineItems(ctx context.Context, bookingIDs ...string) (map[string][]model.LineItem, error) {
    args := make([]interface{}, len(bookingIDs))
    for i, id := range bookingIDs {
        args[i] = id
    }
    rows, err := r.db.QueryContext(ctx,
        `SELECT id, booking_id, unit_number, class, price_cents, passenger_blob, passenger_masked
         FROM line_items WHERE booking_id IN (`+placeholders(len(bookingIDs))+`) ORDER BY booking_id, position`,
        args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := make(map[string][]model.LineItem, len(bookingIDs))
    for rows.Next() {
        var li model.LineItem
        if err := rows.Scan(&li.ID, &li.BookingID, &li.UnitNumber, &li.Class, &li.PriceCents,
            &li.PassengerBlob, &li.PassengerMasked); err != nil {
            return nil, err
        }
        out[li.BookingID] = append(out[li.BookingID], li)
    }
    return out, rows.Err()
}

func attachItems(b *model.Booking, items []model.LineItem) {
    b.LineItems = items
    b.UnitNumbers = make([]string, len(items))
    for i, li := range items {
        b.UnitNumbers[i] = li.UnitNumber
    }
}

// UpdateStatus moves the booking from one status to another only when it
// is currently in from at expectedVersion.  It returns ErrConflict when
// another writer changed the booking first.
func (r *BookingRepo) UpdateStatus(ctx context.Context, id string, from, to model.BookingStatus, expectedVersion int) error {
    const q = `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND status = ? AND version = ?`
    result, err := r.db.ExecContext(ctx, q, to, time.Now().UTC(), id, from, expectedVersion)
    if err != nil {
        return err
    }
    n, err := result.RowsAffected()
    if err != nil {
        return err
    }
    if n > 0 {
        return nil
    }
    return r.missingOrConflict(ctx, r.db, id)
}

// ReplaceUnits rewrites the resource, price and line items of a CONFIRMED
// booking whose version still equals expectedVersion, bumping the version.
func (r *BookingRepo) ReplaceUnits(ctx context.Context, b *model.Booking, expectedVersion int) error {
    now := time.Now().UTC()
    err := withTx(ctx, r.db, func(tx *sql.Tx) error {
        const q = `UPDATE bookings SET resource_id = ?, total_price_cents = ?, discount_cents = ?, version = ?, updated_at = ?
                   WHERE id = ? AND version = ? AND status = ?`
        result, err := tx.ExecContext(ctx, q, b.ResourceID, b.TotalPriceCents, b.DiscountCents,
            expectedVersion+1, now, b.ID, expectedVersion, model.BookingConfirmed)
        if err != nil {
            return err
        }
        n, err := result.RowsAffected()
        if err != nil {
            return err
        }
        if n == 0 {
            return r.missingOrConflict(ctx, tx, b.ID)
        }
        if _, err := tx.ExecContext(ctx, `DELETE FROM line_items WHERE booking_id = ?`, b.ID); err != nil {
            return err
        }
        return insertLineItems(ctx, tx, b.ID, b.LineItems)
    })
    if err != nil {
        return err
    }
    b.Version = expectedVersion + 1
    b.UpdatedAt = now
    return nil
}

func (r *BookingRepo) missingOrConflict(ctx context.Context, q queryer, id string) error {
    ok, err := exists(ctx, q, `SELECT 1 FROM bookings WHERE id = ?`, id)
    if err != nil {
        return err
    }
    if !ok {
        return ErrNotFound
    }
    return ErrConflict
}

// ListDependents returns the ids of bookings linked to primaryID in the
// order they were linked.
func (r *BookingRepo) ListDependents(ctx context.Context, primaryID string) ([]string, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT dependent_id FROM linkages WHERE primary_id = ? ORDER BY created_at, dependent_id`, primaryID)
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
