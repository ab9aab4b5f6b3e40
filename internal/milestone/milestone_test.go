package milestone

import (
	"errors"
	"testing"
	"time"

	"github.com/openpool/grantgate/internal/metadata"
	apperrors "github.com/openpool/grantgate/internal/platform/errors"
)

func fixedNow() time.Time {
	return time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
}

func halfAndHalf() []Input {
	return []Input{
		{AmountPercentage: FullUnit / 2, Metadata: metadata.Metadata{Protocol: 1, Pointer: "m0"}},
		{AmountPercentage: FullUnit / 2, Metadata: metadata.Metadata{Protocol: 1, Pointer: "m1"}},
	}
}

func acceptedSchedule(t *testing.T) []Milestone {
	t.Helper()
	schedule, err := NewSchedule(halfAndHalf(), fixedNow)
	if err != nil {
		t.Fatalf("new schedule: %v", err)
	}
	return schedule
}

func TestNewSchedule(t *testing.T) {
	tests := []struct {
		name     string
		inputs   []Input
		wantCode apperrors.Code
	}{
		{name: "two halves", inputs: halfAndHalf()},
		{
			name: "uneven split",
			inputs: []Input{
				{AmountPercentage: FullUnit/4 + 1},
				{AmountPercentage: FullUnit / 4},
				{AmountPercentage: FullUnit/2 - 1},
			},
		},
		{name: "single full milestone", inputs: []Input{{AmountPercentage: FullUnit}}},
		{name: "empty schedule", inputs: nil, wantCode: apperrors.CodeScheduleEmpty},
		{
			name:     "zero percentage",
			inputs:   []Input{{AmountPercentage: FullUnit}, {AmountPercentage: 0}},
			wantCode: apperrors.CodePercentageZero,
		},
		{
			name:     "sum below full unit",
			inputs:   []Input{{AmountPercentage: FullUnit / 2}, {AmountPercentage: FullUnit/2 - 1}},
			wantCode: apperrors.CodePercentageSumInvalid,
		},
		{
			name:     "sum above full unit",
			inputs:   []Input{{AmountPercentage: FullUnit / 2}, {AmountPercentage: FullUnit/2 + 1}},
			wantCode: apperrors.CodePercentageSumInvalid,
		},
		{
			name:     "overflowing sum",
			inputs:   []Input{{AmountPercentage: FullUnit}, {AmountPercentage: FullUnit}},
			wantCode: apperrors.CodePercentageSumInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule, err := NewSchedule(tt.inputs, fixedNow)
			if tt.wantCode != "" {
				var domainErr *apperrors.Error
				if !errors.As(err, &domainErr) {
					t.Fatalf("expected domain error, got %v", err)
				}
				if domainErr.Code != tt.wantCode {
					t.Fatalf("expected code %s, got %s", tt.wantCode, domainErr.Code)
				}
				return
			}
			if err != nil {
				t.Fatalf("new schedule: %v", err)
			}
			if len(schedule) != len(tt.inputs) {
				t.Fatalf("expected %d milestones, got %d", len(tt.inputs), len(schedule))
			}
			for i, m := range schedule {
				if m.Index != i {
					t.Fatalf("expected index %d, got %d", i, m.Index)
				}
				if m.Status != StatusPending {
					t.Fatalf("expected pending milestone, got %s", m.Status)
				}
				if m.Submitted || m.Paid {
					t.Fatalf("expected fresh milestone flags, got submitted=%v paid=%v", m.Submitted, m.Paid)
				}
			}
		})
	}
}

func TestReview(t *testing.T) {
	review, err := Review(ReviewPending, DecisionAccept)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if review != ReviewAccepted {
		t.Fatalf("expected accepted review, got %s", review)
	}

	review, err = Review(ReviewPending, DecisionReject)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if review != ReviewRejected {
		t.Fatalf("expected rejected review, got %s", review)
	}
}

func TestReviewAlreadyDecided(t *testing.T) {
	for _, review := range []ReviewStatus{ReviewAccepted, ReviewRejected} {
		_, err := Review(review, DecisionAccept)
		var domainErr *apperrors.Error
		if !errors.As(err, &domainErr) {
			t.Fatalf("expected domain error, got %v", err)
		}
		if domainErr.Code != apperrors.CodeScheduleReviewDisallows {
			t.Fatalf("expected code %s, got %s", apperrors.CodeScheduleReviewDisallows, domainErr.Code)
		}
	}
}

func TestReviewInvalidDecision(t *testing.T) {
	_, err := Review(ReviewPending, "maybe")
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if domainErr.Code != apperrors.CodeDecisionInvalid {
		t.Fatalf("expected code %s, got %s", apperrors.CodeDecisionInvalid, domainErr.Code)
	}
}

func TestSubmit(t *testing.T) {
	schedule := acceptedSchedule(t)

	updated, err := Submit(schedule, ReviewAccepted, 0, metadata.Metadata{Protocol: 1, Pointer: "evidence-0"}, fixedNow)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !updated[0].Submitted {
		t.Fatal("expected milestone 0 submitted")
	}
	if updated[0].Status != StatusPending {
		t.Fatalf("submission must not accept the milestone, got %s", updated[0].Status)
	}
	if updated[0].Metadata.Pointer != "evidence-0" {
		t.Fatalf("expected evidence metadata, got %s", updated[0].Metadata.Pointer)
	}
	if updated[1].Submitted {
		t.Fatal("expected milestone 1 untouched")
	}
	if schedule[0].Submitted {
		t.Fatal("expected input schedule untouched")
	}
}

func TestSubmitResubmissionWhilePending(t *testing.T) {
	schedule := acceptedSchedule(t)

	updated, err := Submit(schedule, ReviewAccepted, 0, metadata.Metadata{Protocol: 1, Pointer: "first"}, fixedNow)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	updated, err = Submit(updated, ReviewAccepted, 0, metadata.Metadata{Protocol: 1, Pointer: "second"}, fixedNow)
	if err != nil {
		t.Fatalf("re-submit: %v", err)
	}
	if updated[0].Metadata.Pointer != "second" {
		t.Fatalf("expected evidence overwritten, got %s", updated[0].Metadata.Pointer)
	}
}

func TestSubmitGuards(t *testing.T) {
	schedule := acceptedSchedule(t)

	tests := []struct {
		name     string
		review   ReviewStatus
		index    int
		prepare  func([]Milestone) []Milestone
		wantCode apperrors.Code
	}{
		{name: "review pending", review: ReviewPending, index: 0, wantCode: apperrors.CodeScheduleReviewDisallows},
		{name: "review rejected", review: ReviewRejected, index: 0, wantCode: apperrors.CodeScheduleReviewDisallows},
		{name: "index negative", review: ReviewAccepted, index: -1, wantCode: apperrors.CodeMilestoneIndexOutOfRange},
		{name: "index past end", review: ReviewAccepted, index: 2, wantCode: apperrors.CodeMilestoneIndexOutOfRange},
		{
			name:   "milestone already accepted",
			review: ReviewAccepted,
			index:  0,
			prepare: func(s []Milestone) []Milestone {
				s[0].Status = StatusAccepted
				return s
			},
			wantCode: apperrors.CodeMilestoneStatusDisallows,
		},
		{
			name:   "milestone rejected",
			review: ReviewAccepted,
			index:  0,
			prepare: func(s []Milestone) []Milestone {
				s[0].Status = StatusRejected
				return s
			},
			wantCode: apperrors.CodeMilestoneStatusDisallows,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := make([]Milestone, len(schedule))
			copy(s, schedule)
			if tt.prepare != nil {
				s = tt.prepare(s)
			}

			_, err := Submit(s, tt.review, tt.index, metadata.Metadata{}, fixedNow)
			var domainErr *apperrors.Error
			if !errors.As(err, &domainErr) {
				t.Fatalf("expected domain error, got %v", err)
			}
			if domainErr.Code != tt.wantCode {
				t.Fatalf("expected code %s, got %s", tt.wantCode, domainErr.Code)
			}
		})
	}
}

func TestDecide(t *testing.T) {
	schedule := acceptedSchedule(t)

	submitted, err := Submit(schedule, ReviewAccepted, 0, metadata.Metadata{Pointer: "evidence"}, fixedNow)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	accepted, err := Decide(submitted, ReviewAccepted, 0, DecisionAccept, fixedNow)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if accepted[0].Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", accepted[0].Status)
	}

	rejected, err := Decide(submitted, ReviewAccepted, 0, DecisionReject, fixedNow)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if rejected[0].Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", rejected[0].Status)
	}
}

func TestDecideRequiresSubmission(t *testing.T) {
	schedule := acceptedSchedule(t)

	_, err := Decide(schedule, ReviewAccepted, 0, DecisionAccept, fixedNow)
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if domainErr.Code != apperrors.CodeMilestoneNotSubmitted {
		t.Fatalf("expected code %s, got %s", apperrors.CodeMilestoneNotSubmitted, domainErr.Code)
	}
}

func TestDecideTerminalRejection(t *testing.T) {
	schedule := acceptedSchedule(t)

	submitted, err := Submit(schedule, ReviewAccepted, 0, metadata.Metadata{Pointer: "evidence"}, fixedNow)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	rejected, err := Decide(submitted, ReviewAccepted, 0, DecisionReject, fixedNow)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}

	// Neither a fresh submission nor a second decision may reopen it.
	if _, err := Submit(rejected, ReviewAccepted, 0, metadata.Metadata{Pointer: "retry"}, fixedNow); err == nil {
		t.Fatal("expected re-submission blocked")
	}
	if _, err := Decide(rejected, ReviewAccepted, 0, DecisionAccept, fixedNow); err == nil {
		t.Fatal("expected re-decision blocked")
	}
}
