package repository

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/travel-reservation/internal/model"
)

// ResourceQuery defines filters and pagination for the public resource
// listing.  Zero values disable a filter.
type ResourceQuery struct {
	Kind         model.ResourceKind
	Name         string // case-insensitive substring
	StartsAfter  time.Time
	ActiveOnly   bool
	MinAvailable int
	Page         int
	PageSize     int
}

// Normalize clamps the page to sane bounds.
func (q *ResourceQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}
}

// SearchResources returns one page of resources matching q ordered by
// start time, plus the total number of matches.
func (r *ResourceRepo) SearchResources(ctx context.Context, q ResourceQuery) ([]model.Resource, int64, error) {
	q.Normalize()
	where := []string{}
	args := []any{}

	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, q.Kind)
	}
	if q.Name != "" {
		where = append(where, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Name)+"%")
	}
	if !q.StartsAfter.IsZero() {
		where = append(where, "starts_at > ?")
		args = append(args, q.StartsAfter.UTC())
	}
	if q.ActiveOnly {
		where = append(where, "status = ?")
		args = append(args, model.ResourceActive)
	}
	if q.MinAvailable > 0 {
		where = append(where, "available_units >= ?")
		args = append(args, q.MinAvailable)
	}

	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := `SELECT ` + resourceColumns + ` FROM resources WHERE ` + cond + `
		ORDER BY starts_at ASC, id ASC
		LIMIT ? OFFSET ?`
	argsData := append(append([]any{}, args...), q.PageSize, (q.Page-1)*q.PageSize)

	rows, err := r.db.QueryContext(ctx, dataSQL, argsData...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Resource, 0, q.PageSize)
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
