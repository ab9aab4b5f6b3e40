// Package milestone models percentage-denominated disbursement schedules.
//
// Each accepted recipient carries an ordered milestone schedule whose
// percentages sum exactly to FullUnit. The schedule as a whole passes one
// manager review; individual milestones then move through an evidence
// submission and accept/reject cycle.
package milestone

import (
	"fmt"
	"strings"
	"time"

	"github.com/openpool/grantgate/internal/metadata"
	apperrors "github.com/openpool/grantgate/internal/platform/errors"
)

// FullUnit is the fixed percentage denominator: one whole grant expressed
// as parts per 1e18.
const FullUnit uint64 = 1_000_000_000_000_000_000

// Status represents per-milestone acceptance state.
type Status string

const (
	// StatusPending indicates the milestone awaits a manager decision.
	StatusPending Status = "pending"
	// StatusAccepted indicates the milestone's share may be distributed.
	StatusAccepted Status = "accepted"
	// StatusRejected indicates the milestone never pays. Terminal.
	StatusRejected Status = "rejected"
)

// ReviewStatus describes manager approval of a schedule as a unit.
type ReviewStatus string

const (
	// ReviewPending indicates the schedule awaits manager review.
	ReviewPending ReviewStatus = "pending"
	// ReviewAccepted indicates milestones may be submitted and paid.
	ReviewAccepted ReviewStatus = "accepted"
	// ReviewRejected blocks the schedule until it is replaced.
	ReviewRejected ReviewStatus = "rejected"
)

// Decision represents a manager review action.
type Decision string

const (
	// DecisionAccept approves a schedule or milestone.
	DecisionAccept Decision = "accept"
	// DecisionReject declines a schedule or milestone.
	DecisionReject Decision = "reject"
)

// Milestone is one tranche of a recipient's grant.
type Milestone struct {
	Index            int
	AmountPercentage uint64
	Metadata         metadata.Metadata

	Status    Status
	Submitted bool
	Paid      bool

	UpdatedAt time.Time
}

// Input contains the fields for one milestone in a replacement schedule.
type Input struct {
	AmountPercentage uint64
	Metadata         metadata.Metadata
}

// NewSchedule validates and builds a replacement schedule. Every percentage
// must be non-zero and the total must equal FullUnit exactly.
func NewSchedule(inputs []Input, now func() time.Time) ([]Milestone, error) {
	if now == nil {
		now = time.Now
	}
	if len(inputs) == 0 {
		return nil, apperrors.New(apperrors.CodeScheduleEmpty, "milestone schedule is empty")
	}

	createdAt := now().UTC()
	var sum uint64
	schedule := make([]Milestone, 0, len(inputs))
	for i, input := range inputs {
		if input.AmountPercentage == 0 {
			return nil, apperrors.WithMetadata(
				apperrors.CodePercentageZero,
				"milestone percentage is zero",
				map[string]string{"Index": fmt.Sprintf("%d", i)},
			)
		}
		if input.AmountPercentage > FullUnit-sum {
			return nil, apperrors.New(apperrors.CodePercentageSumInvalid, "milestone percentages exceed the full unit")
		}
		sum += input.AmountPercentage

		schedule = append(schedule, Milestone{
			Index:            i,
			AmountPercentage: input.AmountPercentage,
			Metadata:         metadata.Normalize(input.Metadata),
			Status:           StatusPending,
			UpdatedAt:        createdAt,
		})
	}
	if sum != FullUnit {
		return nil, apperrors.New(apperrors.CodePercentageSumInvalid, "milestone percentages do not sum to the full unit")
	}

	return schedule, nil
}

// Review applies the manager's decision on the schedule as a unit. A
// rejected schedule blocks submissions until a new schedule replaces it.
func Review(review ReviewStatus, decision Decision) (ReviewStatus, error) {
	normalized, err := normalizeDecision(decision)
	if err != nil {
		return "", err
	}
	if review != ReviewPending {
		return "", newReviewStateError(review)
	}
	if normalized == DecisionAccept {
		return ReviewAccepted, nil
	}
	return ReviewRejected, nil
}

// Submit attaches evidence to one milestone. Submission does not accept the
// milestone; it only records evidence for the manager's decision.
func Submit(schedule []Milestone, review ReviewStatus, index int, meta metadata.Metadata, now func() time.Time) ([]Milestone, error) {
	if now == nil {
		now = time.Now
	}
	if review != ReviewAccepted {
		return nil, newReviewStateError(review)
	}
	m, err := milestoneAt(schedule, index)
	if err != nil {
		return nil, err
	}
	if m.Status != StatusPending {
		return nil, newMilestoneStateError(m)
	}

	m.Metadata = metadata.Normalize(meta)
	m.Submitted = true
	m.UpdatedAt = now().UTC()
	return replaceAt(schedule, index, m), nil
}

// Decide accepts or rejects one submitted milestone. Rejection is terminal
// for the milestone; only a full schedule replacement reopens its share.
func Decide(schedule []Milestone, review ReviewStatus, index int, decision Decision, now func() time.Time) ([]Milestone, error) {
	if now == nil {
		now = time.Now
	}
	normalized, err := normalizeDecision(decision)
	if err != nil {
		return nil, err
	}
	if review != ReviewAccepted {
		return nil, newReviewStateError(review)
	}
	m, err := milestoneAt(schedule, index)
	if err != nil {
		return nil, err
	}
	if m.Status != StatusPending {
		return nil, newMilestoneStateError(m)
	}
	if !m.Submitted {
		return nil, apperrors.WithMetadata(
			apperrors.CodeMilestoneNotSubmitted,
			"milestone has no submitted evidence",
			map[string]string{"Index": fmt.Sprintf("%d", index)},
		)
	}

	if normalized == DecisionAccept {
		m.Status = StatusAccepted
	} else {
		m.Status = StatusRejected
	}
	m.UpdatedAt = now().UTC()
	return replaceAt(schedule, index, m), nil
}

func normalizeDecision(decision Decision) (Decision, error) {
	normalized := Decision(strings.ToLower(strings.TrimSpace(string(decision))))
	if normalized != DecisionAccept && normalized != DecisionReject {
		return "", apperrors.New(apperrors.CodeDecisionInvalid, "review decision is invalid")
	}
	return normalized, nil
}

func milestoneAt(schedule []Milestone, index int) (Milestone, error) {
	if index < 0 || index >= len(schedule) {
		return Milestone{}, apperrors.WithMetadata(
			apperrors.CodeMilestoneIndexOutOfRange,
			"milestone index is out of range",
			map[string]string{
				"Index":    fmt.Sprintf("%d", index),
				"Schedule": fmt.Sprintf("%d", len(schedule)),
			},
		)
	}
	return schedule[index], nil
}

func replaceAt(schedule []Milestone, index int, m Milestone) []Milestone {
	out := make([]Milestone, len(schedule))
	copy(out, schedule)
	out[index] = m
	return out
}

func newReviewStateError(review ReviewStatus) *apperrors.Error {
	return apperrors.WithMetadata(
		apperrors.CodeScheduleReviewDisallows,
		fmt.Sprintf("schedule review status %s does not allow operation", string(review)),
		map[string]string{"ReviewStatus": string(review)},
	)
}

func newMilestoneStateError(m Milestone) *apperrors.Error {
	return apperrors.WithMetadata(
		apperrors.CodeMilestoneStatusDisallows,
		fmt.Sprintf("milestone status %s does not allow operation", string(m.Status)),
		map[string]string{
			"Index":  fmt.Sprintf("%d", m.Index),
			"Status": string(m.Status),
		},
	)
}
