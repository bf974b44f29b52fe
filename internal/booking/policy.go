package booking

import (
	"fmt"
	"time"

	"github.com/iliyamo/travel-reservation/internal/apperror"
	"github.com/iliyamo/travel-reservation/internal/model"
)

// RefundPolicy maps the time left before a resource starts onto a refund
// band.
//
//	left <= 0                  rejected, departed
//	left <  Cutoff             rejected
//	Cutoff <= left < PartialBefore   no refund
//	PartialBefore <= left < FullBefore partial refund minus PartialFeePct
//	left >= FullBefore         full refund
//
// Modifications use the same Cutoff.
type RefundPolicy struct {
	FullBefore    time.Duration
	PartialBefore time.Duration
	Cutoff        time.Duration
	PartialFeePct int
}

// DefaultRefundPolicy is 72h full, 24h partial with a 25% fee, and no
// cancellation inside 24h.
func DefaultRefundPolicy() RefundPolicy {
	return RefundPolicy{
		FullBefore:    72 * time.Hour,
		PartialBefore: 24 * time.Hour,
		Cutoff:        24 * time.Hour,
		PartialFeePct: 25,
	}
}

// Validate checks the thresholds are ordered.
func (p RefundPolicy) Validate() error {
	if p.FullBefore <= p.PartialBefore {
		return fmt.Errorf("refund policy: full threshold %s must exceed partial threshold %s", p.FullBefore, p.PartialBefore)
	}
	if p.Cutoff < 0 || p.Cutoff > p.PartialBefore {
		return fmt.Errorf("refund policy: cutoff %s must be within [0, %s]", p.Cutoff, p.PartialBefore)
	}
	if p.PartialFeePct < 0 || p.PartialFeePct > 100 {
		return fmt.Errorf("refund policy: fee %d%% out of range", p.PartialFeePct)
	}
	return nil
}

// Evaluate computes the refund for a booking paid `paid` cents on a
// resource starting at startsAt.
func (p RefundPolicy) Evaluate(startsAt, now time.Time, paid int64) (model.Refund, error) {
	if err := p.AllowsChange(startsAt, now); err != nil {
		return model.Refund{}, err
	}
	left := startsAt.Sub(now)
	switch {
	case left >= p.FullBefore:
		return model.Refund{AmountCents: paid, Tier: model.RefundFull}, nil
	case left >= p.PartialBefore:
		fee := paid * int64(p.PartialFeePct) / 100
		return model.Refund{AmountCents: paid - fee, FeeCents: fee, Tier: model.RefundPartial}, nil
	default:
		return model.Refund{AmountCents: 0, FeeCents: paid, Tier: model.RefundNone}, nil
	}
}

// AllowsChange rejects cancellation or modification once the resource has
// started or the cutoff has passed.
func (p RefundPolicy) AllowsChange(startsAt, now time.Time) error {
	left := startsAt.Sub(now)
	if left <= 0 {
		return apperror.PolicyViolation("already departed")
	}
	if left < p.Cutoff {
		return apperror.PolicyViolation("changes close %s before start, %s left", p.Cutoff, left.Truncate(time.Minute))
	}
	return nil
}
