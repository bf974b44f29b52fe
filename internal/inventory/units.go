package inventory

import (
	"strings"

	"github.com/iliyamo/travel-reservation/internal/apperror"
	"github.com/iliyamo/travel-reservation/internal/model"
)

// NormalizeUnits trims unit numbers and rejects empty or repeated entries.
// The input order is preserved.
func NormalizeUnits(units []string) ([]string, error) {
	if len(units) == 0 {
		return nil, apperror.Validation("at least one unit number is required")
	}
	out := make([]string, 0, len(units))
	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		u = strings.TrimSpace(u)
		if u == "" {
			return nil, apperror.Validation("unit numbers must not be empty")
		}
		if _, dup := seen[u]; dup {
			return nil, apperror.Validation("unit %s requested more than once", u)
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out, nil
}

// Diff returns the units present in next but not in prev (added) and the
// units present in prev but not in next (removed).
func Diff(prev, next []string) (added, removed []string) {
	inPrev := make(map[string]struct{}, len(prev))
	for _, u := range prev {
		inPrev[u] = struct{}{}
	}
	inNext := make(map[string]struct{}, len(next))
	for _, u := range next {
		inNext[u] = struct{}{}
		if _, ok := inPrev[u]; !ok {
			added = append(added, u)
		}
	}
	for _, u := range prev {
		if _, ok := inNext[u]; !ok {
			removed = append(removed, u)
		}
	}
	return added, removed
}

// notIn returns the requested units that are missing from rows or whose
// status differs from want.
func notIn(requested []string, rows []model.Unit, want model.UnitStatus) []string {
	status := make(map[string]model.UnitStatus, len(rows))
	for _, r := range rows {
		status[r.UnitNumber] = r.Status
	}
	var out []string
	for _, u := range requested {
		if s, ok := status[u]; !ok || s != want {
			out = append(out, u)
		}
	}
	return out
}
