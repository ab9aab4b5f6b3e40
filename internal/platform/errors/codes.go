// Package errors provides structured error handling for the grant engine.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Registration errors
	CodeRecipientIDRequired      Code = "RECIPIENT_ID_REQUIRED"
	CodePayoutAddressRequired    Code = "PAYOUT_ADDRESS_REQUIRED"
	CodeMetadataRequired         Code = "METADATA_REQUIRED"
	CodeGrantAmountRequired      Code = "GRANT_AMOUNT_REQUIRED"
	CodeGrantAmountTooLarge      Code = "GRANT_AMOUNT_TOO_LARGE"
	CodeAnchorUnresolved         Code = "ANCHOR_UNRESOLVED"
	CodeRecipientStatusFinal     Code = "RECIPIENT_STATUS_FINAL"
	CodeRecipientStatusDisallows Code = "RECIPIENT_STATUS_DISALLOWS_OPERATION"

	// Allocation errors
	CodeDecisionInvalid        Code = "DECISION_INVALID"
	CodeOverrideExceedsRequest Code = "ALLOCATION_OVERRIDE_EXCEEDS_REQUEST"

	// Milestone schedule errors
	CodeScheduleEmpty            Code = "SCHEDULE_EMPTY"
	CodePercentageZero           Code = "MILESTONE_PERCENTAGE_ZERO"
	CodePercentageSumInvalid     Code = "MILESTONE_PERCENTAGE_SUM_INVALID"
	CodeScheduleReviewDisallows  Code = "SCHEDULE_REVIEW_STATUS_DISALLOWS_OPERATION"
	CodeMilestoneIndexOutOfRange Code = "MILESTONE_INDEX_OUT_OF_RANGE"
	CodeMilestoneStatusDisallows Code = "MILESTONE_STATUS_DISALLOWS_OPERATION"
	CodeMilestoneNotSubmitted    Code = "MILESTONE_NOT_SUBMITTED"

	// Authorization errors
	CodeCallerNotManager     Code = "CALLER_NOT_MANAGER"
	CodeCallerNotRecipient   Code = "CALLER_NOT_RECIPIENT"
	CodeCallerNotAnchorOwner Code = "CALLER_NOT_ANCHOR_OWNER"

	// Distribution errors
	CodePoolInsufficientFunds Code = "POOL_INSUFFICIENT_FUNDS"
	CodeGrantExceeded         Code = "GRANT_AMOUNT_EXCEEDED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeRecipientIDRequired,
		CodePayoutAddressRequired,
		CodeMetadataRequired,
		CodeGrantAmountRequired,
		CodeGrantAmountTooLarge,
		CodeAnchorUnresolved,
		CodeDecisionInvalid,
		CodeOverrideExceedsRequest,
		CodeScheduleEmpty,
		CodePercentageZero,
		CodePercentageSumInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - operation not legal from the current state
	case CodeRecipientStatusFinal,
		CodeRecipientStatusDisallows,
		CodeScheduleReviewDisallows,
		CodeMilestoneIndexOutOfRange,
		CodeMilestoneStatusDisallows,
		CodeMilestoneNotSubmitted,
		CodePoolInsufficientFunds:
		return codes.FailedPrecondition

	// PermissionDenied - caller lacks the required role
	case CodeCallerNotManager,
		CodeCallerNotRecipient,
		CodeCallerNotAnchorOwner:
		return codes.PermissionDenied

	case CodeNotFound:
		return codes.NotFound

	// Internal - invariant violations that should never be reachable
	case CodeGrantExceeded:
		return codes.Internal

	default:
		return codes.Internal
	}
}
