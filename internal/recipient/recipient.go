// Package recipient models grant recipients and their review lifecycle.
//
// A recipient registers against one pool, is moved into manager review, and
// receives an allocation decision. Accepted recipients freeze their grant
// amount; rejected recipients can only re-enter the pool by re-registering.
package recipient

import (
	"math"
	"strings"
	"time"

	"github.com/openpool/grantgate/internal/metadata"
	apperrors "github.com/openpool/grantgate/internal/platform/errors"
	"github.com/openpool/grantgate/internal/pool"
)

// Status represents recipient lifecycle state.
type Status string

const (
	// StatusNone indicates the recipient has never registered.
	StatusNone Status = "none"
	// StatusPending indicates registration is awaiting manager triage.
	StatusPending Status = "pending"
	// StatusInReview indicates a manager is reviewing the application.
	StatusInReview Status = "in_review"
	// StatusAccepted indicates the grant was allocated.
	StatusAccepted Status = "accepted"
	// StatusRejected indicates the application was declined.
	StatusRejected Status = "rejected"
	// StatusCanceled indicates the recipient was withdrawn from the pool.
	StatusCanceled Status = "canceled"
)

// MaxAmount bounds grant amounts so they survive signed 64-bit storage.
const MaxAmount uint64 = math.MaxInt64

// Decision represents a manager allocation action.
type Decision string

const (
	// DecisionAccept allocates the grant.
	DecisionAccept Decision = "accept"
	// DecisionReject declines the application.
	DecisionReject Decision = "reject"
)

// Recipient stores one pool member's application and allocation state.
type Recipient struct {
	PoolID string
	ID     string

	PayoutAddress string
	GrantAmount   uint64
	Metadata      metadata.Metadata

	Status Status

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RegisterInput contains applicant-provided fields for registration.
type RegisterInput struct {
	RecipientID   string
	PayoutAddress string
	GrantAmount   uint64
	Metadata      metadata.Metadata
}

// AllocateInput contains the manager's allocation decision for one recipient.
type AllocateInput struct {
	Decision Decision

	// GrantAmountOverride replaces the requested amount when non-zero.
	GrantAmountOverride uint64
}

// NormalizeRegisterInput canonicalizes and validates registration input
// against the pool's configuration.
func NormalizeRegisterInput(input RegisterInput, cfg pool.Config) (RegisterInput, error) {
	input.RecipientID = strings.TrimSpace(input.RecipientID)
	if input.RecipientID == "" {
		return RegisterInput{}, apperrors.New(apperrors.CodeRecipientIDRequired, "recipient id is required")
	}

	input.PayoutAddress = strings.TrimSpace(input.PayoutAddress)
	if input.PayoutAddress == "" {
		return RegisterInput{}, apperrors.New(apperrors.CodePayoutAddressRequired, "payout address is required")
	}

	input.Metadata = metadata.Normalize(input.Metadata)
	if cfg.MetadataRequired && input.Metadata.Empty() {
		return RegisterInput{}, apperrors.New(apperrors.CodeMetadataRequired, "metadata is required")
	}

	if cfg.GrantAmountRequired && input.GrantAmount == 0 {
		return RegisterInput{}, apperrors.New(apperrors.CodeGrantAmountRequired, "grant amount is required")
	}
	if input.GrantAmount > MaxAmount {
		return RegisterInput{}, apperrors.New(apperrors.CodeGrantAmountTooLarge, "grant amount exceeds the storable maximum")
	}

	return input, nil
}

// Register creates or refreshes a recipient from registration input.
//
// Re-registration is allowed while the recipient is pending, in review, or
// rejected; it replaces the application fields and resets the status to
// pending. Accepted and canceled recipients cannot re-register.
func Register(current Recipient, input RegisterInput, cfg pool.Config, now func() time.Time) (Recipient, error) {
	if now == nil {
		now = time.Now
	}

	normalized, err := NormalizeRegisterInput(input, cfg)
	if err != nil {
		return Recipient{}, err
	}

	status := current.Status
	if status == "" {
		status = StatusNone
	}
	if err := ValidateOperation(status, OpRegister); err != nil {
		return Recipient{}, err
	}

	registeredAt := now().UTC()
	createdAt := current.CreatedAt
	if status == StatusNone {
		createdAt = registeredAt
	}

	return Recipient{
		PoolID:        cfg.ID,
		ID:            normalized.RecipientID,
		PayoutAddress: normalized.PayoutAddress,
		GrantAmount:   normalized.GrantAmount,
		Metadata:      normalized.Metadata,
		Status:        StatusPending,
		CreatedAt:     createdAt,
		UpdatedAt:     registeredAt,
	}, nil
}

// BeginReview moves a pending recipient into manager review.
func BeginReview(current Recipient, now func() time.Time) (Recipient, error) {
	if now == nil {
		now = time.Now
	}

	if err := ValidateOperation(current.Status, OpBeginReview); err != nil {
		return Recipient{}, err
	}

	current.Status = StatusInReview
	current.UpdatedAt = now().UTC()
	return current, nil
}

// Allocate applies the manager's allocation decision to a recipient under
// review. An accepted recipient's grant amount is frozen from this point on.
func Allocate(current Recipient, input AllocateInput, cfg pool.Config, now func() time.Time) (Recipient, error) {
	if now == nil {
		now = time.Now
	}

	decision := Decision(strings.ToLower(strings.TrimSpace(string(input.Decision))))
	if decision != DecisionAccept && decision != DecisionReject {
		return Recipient{}, apperrors.New(apperrors.CodeDecisionInvalid, "allocation decision is invalid")
	}

	if err := ValidateOperation(current.Status, OpAllocate); err != nil {
		return Recipient{}, err
	}

	current.UpdatedAt = now().UTC()

	if decision == DecisionReject {
		current.Status = StatusRejected
		return current, nil
	}

	if input.GrantAmountOverride != 0 {
		if input.GrantAmountOverride > MaxAmount {
			return Recipient{}, apperrors.New(apperrors.CodeGrantAmountTooLarge, "grant amount exceeds the storable maximum")
		}
		if cfg.AllocationOverrideCapped && input.GrantAmountOverride > current.GrantAmount {
			return Recipient{}, apperrors.WithMetadata(
				apperrors.CodeOverrideExceedsRequest,
				"grant override exceeds the requested amount",
				map[string]string{"RecipientID": current.ID},
			)
		}
		current.GrantAmount = input.GrantAmountOverride
	}

	current.Status = StatusAccepted
	return current, nil
}
