package repository

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/iliyamo/travel-reservation/internal/model"
)

// RefundRepo records pending refunds written on cancellation and their
// settlement reported by the payment collaborator.  One row per booking.
type RefundRepo struct {
    db *sql.DB
}

// NewRefundRepo returns a RefundRepo bound to the given database.
func NewRefundRepo(db *sql.DB) *RefundRepo { return &RefundRepo{db: db} }

// RecordPendingRefund inserts the refund.  A second record for the same
// booking yields ErrDuplicate.
func (r *RefundRepo) RecordPendingRefund(ctx context.Context, rf model.Refund) error {
    const q = `INSERT INTO refunds (booking_id, amount_cents, fee_cents, tier, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`
    status := rf.Status
    if status == "" {
        status = model.RefundPending
    }
    created := rf.CreatedAt
    if created.IsZero() {
        created = time.Now()
    }
    _, err := r.db.ExecContext(ctx, q, rf.BookingID, rf.AmountCents, rf.FeeCents, rf.Tier, status, created.UTC())
    if isDuplicate(err) {
        return ErrDuplicate
    }
    return err
}

// GetRefund returns the refund recorded for a booking or ErrNotFound.
func (r *RefundRepo) GetRefund(ctx context.Context, bookingID string) (*model.Refund, error) {
    var (
        rf      model.Refund
        settled sql.NullTime
    )
    err := r.db.QueryRowContext(ctx,
        `SELECT booking_id, amount_cents, fee_cents, tier, status, created_at, settled_at FROM refunds WHERE booking_id = ?`,
        bookingID).Scan(&rf.BookingID, &rf.AmountCents, &rf.FeeCents, &rf.Tier, &rf.Status, &rf.CreatedAt, &settled)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrNotFound
    }
    if err != nil {
        return nil, err
    }
    if settled.Valid {
        t := settled.Time
        rf.SettledAt = &t
    }
    return &rf, nil
}

// SettleRefund marks a pending refund settled.  Settling twice is a no-op.
func (r *RefundRepo) SettleRefund(ctx context.Context, bookingID string, at time.Time) error {
    const q = `UPDATE refunds SET status = ?, settled_at = ? WHERE booking_id = ? AND status = ?`
    result, err := r.db.ExecContext(ctx, q, model.RefundSettled, at.UTC(), bookingID, model.RefundPending)
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
    ok, err := exists(ctx, r.db, `SELECT 1 FROM refunds WHERE booking_id = ?`, bookingID)
    if err != nil {
        return err
    }
    if !ok {
        return ErrNotFound
    }
    return nil
}
