package recipient

import (
	"fmt"

	apperrors "github.com/openpool/grantgate/internal/platform/errors"
)

// Operation describes a category of recipient operation for policy checks.
type Operation int

const (
	// OpUnspecified represents an invalid operation.
	OpUnspecified Operation = iota
	// OpRead represents read-only operations.
	OpRead
	// OpRegister represents registration or re-registration.
	OpRegister
	// OpBeginReview represents moving an application into review.
	OpBeginReview
	// OpAllocate represents the manager's allocation decision.
	OpAllocate
	// OpSetMilestones represents milestone schedule replacement.
	OpSetMilestones
	// OpDistribute represents distribution of accepted milestone funds.
	OpDistribute
)

// ValidateOperation ensures the recipient status allows the requested operation.
func ValidateOperation(status Status, op Operation) error {
	if op == OpUnspecified {
		return newStatusOpError(status, op)
	}
	if op == OpRead {
		return nil
	}

	switch status {
	case StatusNone:
		switch op {
		case OpRegister:
			return nil
		default:
			return newStatusOpError(status, op)
		}
	case StatusPending:
		switch op {
		case OpRegister, OpBeginReview:
			return nil
		default:
			return newStatusOpError(status, op)
		}
	case StatusInReview:
		switch op {
		case OpRegister, OpAllocate:
			return nil
		default:
			return newStatusOpError(status, op)
		}
	case StatusRejected:
		switch op {
		case OpRegister:
			return nil
		default:
			return newStatusOpError(status, op)
		}
	case StatusAccepted:
		switch op {
		case OpSetMilestones, OpDistribute:
			return nil
		case OpRegister:
			return newStatusFinalError(status)
		default:
			return newStatusOpError(status, op)
		}
	case StatusCanceled:
		switch op {
		case OpRegister:
			return newStatusFinalError(status)
		default:
			return newStatusOpError(status, op)
		}
	default:
		return newStatusOpError(status, op)
	}
}

// newStatusOpError creates metadata for disallowed status/operation combinations.
func newStatusOpError(status Status, op Operation) *apperrors.Error {
	statusLabel := statusLabel(status)
	opLabel := operationLabel(op)
	return apperrors.WithMetadata(
		apperrors.CodeRecipientStatusDisallows,
		fmt.Sprintf("recipient status %s does not allow operation %s", statusLabel, opLabel),
		map[string]string{"Status": statusLabel, "Operation": opLabel},
	)
}

// newStatusFinalError marks statuses registration can never reopen.
func newStatusFinalError(status Status) *apperrors.Error {
	statusLabel := statusLabel(status)
	return apperrors.WithMetadata(
		apperrors.CodeRecipientStatusFinal,
		fmt.Sprintf("recipient status %s does not allow re-registration", statusLabel),
		map[string]string{"Status": statusLabel},
	)
}

// operationLabel returns a stable label for a recipient operation.
func operationLabel(op Operation) string {
	switch op {
	case OpRead:
		return "READ"
	case OpRegister:
		return "REGISTER"
	case OpBeginReview:
		return "BEGIN_REVIEW"
	case OpAllocate:
		return "ALLOCATE"
	case OpSetMilestones:
		return "SET_MILESTONES"
	case OpDistribute:
		return "DISTRIBUTE"
	default:
		return "UNSPECIFIED"
	}
}

// statusLabel returns a stable label for a recipient status.
func statusLabel(status Status) string {
	switch status {
	case StatusNone:
		return "NONE"
	case StatusPending:
		return "PENDING"
	case StatusInReview:
		return "IN_REVIEW"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusRejected:
		return "REJECTED"
	case StatusCanceled:
		return "CANCELED"
	default:
		return "UNSPECIFIED"
	}
}
