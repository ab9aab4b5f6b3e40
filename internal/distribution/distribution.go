// Package distribution computes payable amounts for accepted milestones.
package distribution

import (
	"math"
	"math/bits"

	"github.com/openpool/grantgate/internal/milestone"
	apperrors "github.com/openpool/grantgate/internal/platform/errors"
)

// Payable returns the amount authorized for one recipient's unpaid accepted
// milestones, with the milestone indexes it covers.
//
// The percentage sum is applied to the grant amount with a single truncating
// division, so rounding remainder accumulates across milestones paid in the
// same call and never crosses recipients. A zero payable with no indexes
// means nothing is newly accepted.
func Payable(grantAmount uint64, schedule []milestone.Milestone) (uint64, []int, error) {
	var sum uint64
	var indexes []int
	for _, m := range schedule {
		if m.Status != milestone.StatusAccepted || m.Paid {
			continue
		}
		if m.AmountPercentage > milestone.FullUnit-sum {
			return 0, nil, apperrors.New(apperrors.CodePercentageSumInvalid, "milestone percentages exceed the full unit")
		}
		sum += m.AmountPercentage
		indexes = append(indexes, m.Index)
	}
	if sum == 0 {
		return 0, nil, nil
	}
	return mulDiv(grantAmount, sum, milestone.FullUnit), indexes, nil
}

// ExceedsGrant reports whether paying payable on top of alreadyPaid would
// cross the recipient's grant amount.
func ExceedsGrant(alreadyPaid, payable, grantAmount uint64) bool {
	if payable > math.MaxUint64-alreadyPaid {
		return true
	}
	return alreadyPaid+payable > grantAmount
}

// mulDiv computes a*b/den with a 128-bit intermediate, truncating toward
// zero. b never exceeds den, so the quotient always fits in 64 bits.
func mulDiv(a, b, den uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	quo, _ := bits.Div64(hi, lo, den)
	return quo
}
