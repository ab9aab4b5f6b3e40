package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openpool/grantgate/internal/anchor"
	"github.com/openpool/grantgate/internal/metadata"
	apperrors "github.com/openpool/grantgate/internal/platform/errors"
	"github.com/openpool/grantgate/internal/recipient"
	"github.com/openpool/grantgate/internal/storage"
)

// RegisterInput contains applicant-provided fields for registration.
type RegisterInput struct {
	// RecipientID is the anchor identifier on gated pools; on ungated
	// pools it defaults to the caller.
	RecipientID   string
	PayoutAddress string
	GrantAmount   uint64
	Metadata      metadata.Metadata
}

// Register admits or refreshes a recipient and returns the stable recipient
// id. On gated pools the caller must own the anchor behind the recipient id.
func (e *Engine) Register(ctx context.Context, caller string, input RegisterInput) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Register")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	caller = strings.TrimSpace(caller)
	if caller == "" {
		return "", fmt.Errorf("caller is required")
	}

	recipientID := strings.TrimSpace(input.RecipientID)
	if e.cfg.RegistrationGated {
		if recipientID == "" {
			return "", apperrors.New(apperrors.CodeRecipientIDRequired, "recipient id is required for gated registration")
		}
		owner, err := e.anchors.ResolveOwner(ctx, recipientID)
		if err != nil {
			if errors.Is(err, anchor.ErrNotFound) {
				return "", apperrors.WithMetadata(
					apperrors.CodeAnchorUnresolved,
					"recipient id has no resolvable anchor",
					map[string]string{"RecipientID": recipientID},
				)
			}
			return "", fmt.Errorf("resolve anchor owner: %w", err)
		}
		if owner != caller {
			return "", apperrors.WithMetadata(
				apperrors.CodeCallerNotAnchorOwner,
				"caller does not own the anchor",
				map[string]string{"RecipientID": recipientID, "Caller": caller},
			)
		}
	} else if recipientID == "" {
		recipientID = caller
	}

	current := recipient.Recipient{Status: recipient.StatusNone}
	reviewStatus := ""
	var paidAmount uint64
	record, err := e.store.GetRecipient(ctx, e.cfg.ID, recipientID)
	switch {
	case err == nil:
		current = recipientFromRecord(record)
		reviewStatus = record.MilestonesReviewStatus
		paidAmount = record.PaidAmount
	case errors.Is(err, storage.ErrNotFound):
		// First registration.
	default:
		return "", fmt.Errorf("get recipient: %w", err)
	}

	updated, err := recipient.Register(current, recipient.RegisterInput{
		RecipientID:   recipientID,
		PayoutAddress: input.PayoutAddress,
		GrantAmount:   input.GrantAmount,
		Metadata:      input.Metadata,
	}, e.cfg, e.now)
	if err != nil {
		return "", err
	}

	err = e.store.InTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.PutRecipient(ctx, recordFromRecipient(updated, reviewStatus, paidAmount)); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, EventRegistered, updated.ID, map[string]string{
			"recipientId":   updated.ID,
			"payoutAddress": updated.PayoutAddress,
			"grantAmount":   strconv.FormatUint(updated.GrantAmount, 10),
		})
	})
	if err != nil {
		return "", err
	}

	e.logger.Printf("pool %s: recipient %s registered", e.cfg.ID, updated.ID)
	return updated.ID, nil
}

// loadRecipient fetches one recipient record or reports it unregistered.
func (e *Engine) loadRecipient(ctx context.Context, recipientID string) (storage.RecipientRecord, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return storage.RecipientRecord{}, apperrors.New(apperrors.CodeRecipientIDRequired, "recipient id is required")
	}
	record, err := e.store.GetRecipient(ctx, e.cfg.ID, recipientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.RecipientRecord{}, apperrors.WithMetadata(
				apperrors.CodeNotFound,
				"recipient is not registered",
				map[string]string{"RecipientID": recipientID},
			)
		}
		return storage.RecipientRecord{}, fmt.Errorf("get recipient: %w", err)
	}
	return record, nil
}
