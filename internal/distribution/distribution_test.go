package distribution

import (
	"testing"

	"github.com/openpool/grantgate/internal/milestone"
)

func accepted(index int, pct uint64) milestone.Milestone {
	return milestone.Milestone{Index: index, AmountPercentage: pct, Status: milestone.StatusAccepted, Submitted: true}
}

func TestPayable(t *testing.T) {
	half := milestone.FullUnit / 2
	third := milestone.FullUnit / 3

	tests := []struct {
		name        string
		grantAmount uint64
		schedule    []milestone.Milestone
		wantAmount  uint64
		wantIndexes []int
	}{
		{
			name:        "single accepted half",
			grantAmount: 100,
			schedule: []milestone.Milestone{
				accepted(0, half),
				{Index: 1, AmountPercentage: half, Status: milestone.StatusPending},
			},
			wantAmount:  50,
			wantIndexes: []int{0},
		},
		{
			name:        "both halves accepted",
			grantAmount: 100,
			schedule:    []milestone.Milestone{accepted(0, half), accepted(1, half)},
			wantAmount:  100,
			wantIndexes: []int{0, 1},
		},
		{
			name:        "paid milestones excluded",
			grantAmount: 100,
			schedule: []milestone.Milestone{
				{Index: 0, AmountPercentage: half, Status: milestone.StatusAccepted, Paid: true},
				accepted(1, half),
			},
			wantAmount:  50,
			wantIndexes: []int{1},
		},
		{
			name:        "rejected milestones excluded",
			grantAmount: 100,
			schedule: []milestone.Milestone{
				{Index: 0, AmountPercentage: half, Status: milestone.StatusRejected},
				accepted(1, half),
			},
			wantAmount:  50,
			wantIndexes: []int{1},
		},
		{
			name:        "nothing newly accepted",
			grantAmount: 100,
			schedule: []milestone.Milestone{
				{Index: 0, AmountPercentage: half, Status: milestone.StatusPending},
				{Index: 1, AmountPercentage: half, Status: milestone.StatusAccepted, Paid: true},
			},
			wantAmount:  0,
			wantIndexes: nil,
		},
		{
			name:        "truncation single third",
			grantAmount: 100,
			schedule: []milestone.Milestone{
				accepted(0, third),
				{Index: 1, AmountPercentage: third, Status: milestone.StatusPending},
				{Index: 2, AmountPercentage: milestone.FullUnit - 2*third, Status: milestone.StatusPending},
			},
			wantAmount:  33,
			wantIndexes: []int{0},
		},
		{
			name:        "remainder accumulates within one call",
			grantAmount: 100,
			schedule: []milestone.Milestone{
				accepted(0, third),
				accepted(1, third),
			},
			wantAmount:  66,
			wantIndexes: []int{0, 1},
		},
		{
			name:        "full schedule pays exact grant",
			grantAmount: 999_999_999_999_999_999,
			schedule: []milestone.Milestone{
				accepted(0, third),
				accepted(1, third),
				accepted(2, milestone.FullUnit-2*third),
			},
			wantAmount:  999_999_999_999_999_999,
			wantIndexes: []int{0, 1, 2},
		},
		{
			name:        "large grant amount",
			grantAmount: 1 << 62,
			schedule:    []milestone.Milestone{accepted(0, half), {Index: 1, AmountPercentage: half}},
			wantAmount:  1 << 61,
			wantIndexes: []int{0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, indexes, err := Payable(tt.grantAmount, tt.schedule)
			if err != nil {
				t.Fatalf("payable: %v", err)
			}
			if amount != tt.wantAmount {
				t.Fatalf("expected amount %d, got %d", tt.wantAmount, amount)
			}
			if len(indexes) != len(tt.wantIndexes) {
				t.Fatalf("expected indexes %v, got %v", tt.wantIndexes, indexes)
			}
			for i := range indexes {
				if indexes[i] != tt.wantIndexes[i] {
					t.Fatalf("expected indexes %v, got %v", tt.wantIndexes, indexes)
				}
			}
		})
	}
}

func TestPayableRejectsOverfullSchedule(t *testing.T) {
	schedule := []milestone.Milestone{
		accepted(0, milestone.FullUnit),
		accepted(1, milestone.FullUnit),
	}
	if _, _, err := Payable(100, schedule); err == nil {
		t.Fatal("expected error for percentages past the full unit")
	}
}

func TestPayableNeverExceedsGrant(t *testing.T) {
	grant := uint64(1_000_000_007)
	schedule := []milestone.Milestone{
		accepted(0, milestone.FullUnit/7),
		accepted(1, milestone.FullUnit/7),
		accepted(2, milestone.FullUnit-2*(milestone.FullUnit/7)),
	}

	var total uint64
	// Pay in two calls: first two tranches, then the rest.
	first := schedule[:2]
	amount, _, err := Payable(grant, first)
	if err != nil {
		t.Fatalf("payable: %v", err)
	}
	total += amount

	schedule[0].Paid = true
	schedule[1].Paid = true
	amount, _, err = Payable(grant, schedule)
	if err != nil {
		t.Fatalf("payable: %v", err)
	}
	total += amount

	if total > grant {
		t.Fatalf("total %d exceeds grant %d", total, grant)
	}
}

func TestExceedsGrant(t *testing.T) {
	tests := []struct {
		name        string
		alreadyPaid uint64
		payable     uint64
		grantAmount uint64
		want        bool
	}{
		{name: "within grant", alreadyPaid: 50, payable: 50, grantAmount: 100, want: false},
		{name: "over grant", alreadyPaid: 51, payable: 50, grantAmount: 100, want: true},
		{name: "zero payable", alreadyPaid: 100, payable: 0, grantAmount: 100, want: false},
		{name: "addition overflow", alreadyPaid: ^uint64(0), payable: 1, grantAmount: ^uint64(0), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExceedsGrant(tt.alreadyPaid, tt.payable, tt.grantAmount); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
