package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/openpool/grantgate/internal/recipient"
	"github.com/openpool/grantgate/internal/storage"
)

// SetRecipientsInReview moves a batch of pending recipients into review.
// The whole batch is validated before any recipient is written; one
// ineligible recipient fails the call and nothing changes.
func (e *Engine) SetRecipientsInReview(ctx context.Context, caller string, recipientIDs []string) error {
	ctx, span := e.tracer.Start(ctx, "engine.SetRecipientsInReview")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireManager(ctx, caller); err != nil {
		return err
	}
	if len(recipientIDs) == 0 {
		return fmt.Errorf("recipient ids are required")
	}

	type pending struct {
		updated      recipient.Recipient
		reviewStatus string
		paidAmount   uint64
	}
	batch := make([]pending, 0, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		record, err := e.loadRecipient(ctx, recipientID)
		if err != nil {
			return err
		}
		updated, err := recipient.BeginReview(recipientFromRecord(record), e.now)
		if err != nil {
			return err
		}
		batch = append(batch, pending{
			updated:      updated,
			reviewStatus: record.MilestonesReviewStatus,
			paidAmount:   record.PaidAmount,
		})
	}

	err := e.store.InTransaction(ctx, func(tx storage.Tx) error {
		for _, item := range batch {
			if err := tx.PutRecipient(ctx, recordFromRecipient(item.updated, item.reviewStatus, item.paidAmount)); err != nil {
				return err
			}
			err := e.appendEvent(ctx, tx, EventRecipientStatusChanged, item.updated.ID, map[string]string{
				"recipientId": item.updated.ID,
				"status":      string(item.updated.Status),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Printf("pool %s: %d recipients moved to review", e.cfg.ID, len(batch))
	return nil
}

// AllocateInput carries the manager's decision for one recipient under
// review.
type AllocateInput struct {
	RecipientID string
	Decision    recipient.Decision
	// GrantAmountOverride replaces the requested amount when accepting.
	// Zero means no override.
	GrantAmountOverride uint64
}

// Allocate applies the manager's allocation decision. Accepting freezes the
// grant amount and initializes an empty milestone schedule slot; rejecting
// returns the recipient to a re-registrable state.
func (e *Engine) Allocate(ctx context.Context, caller string, input AllocateInput) error {
	ctx, span := e.tracer.Start(ctx, "engine.Allocate")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireManager(ctx, caller); err != nil {
		return err
	}

	record, err := e.loadRecipient(ctx, input.RecipientID)
	if err != nil {
		return err
	}

	updated, err := recipient.Allocate(recipientFromRecord(record), recipient.AllocateInput{
		Decision:            input.Decision,
		GrantAmountOverride: input.GrantAmountOverride,
	}, e.cfg, e.now)
	if err != nil {
		return err
	}

	accepted := updated.Status == recipient.StatusAccepted
	reviewStatus := record.MilestonesReviewStatus
	if accepted {
		// Acceptance starts over with no schedule on file.
		reviewStatus = ""
	}

	err = e.store.InTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.PutRecipient(ctx, recordFromRecipient(updated, reviewStatus, record.PaidAmount)); err != nil {
			return err
		}
		if accepted {
			if err := tx.ReplaceMilestones(ctx, e.cfg.ID, updated.ID, nil); err != nil {
				return err
			}
		}
		return e.appendEvent(ctx, tx, EventRecipientStatusChanged, updated.ID, map[string]string{
			"recipientId": updated.ID,
			"status":      string(updated.Status),
			"grantAmount": strconv.FormatUint(updated.GrantAmount, 10),
		})
	})
	if err != nil {
		return err
	}

	e.logger.Printf("pool %s: recipient %s allocation decided: %s", e.cfg.ID, updated.ID, updated.Status)
	return nil
}
