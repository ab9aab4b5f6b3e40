package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openpool/grantgate/internal/milestone"
	apperrors "github.com/openpool/grantgate/internal/platform/errors"
	"github.com/openpool/grantgate/internal/recipient"
	"github.com/openpool/grantgate/internal/storage"
)

// RecipientView is the read model for one recipient, combining the
// registration fields with the schedule review and payout progress.
type RecipientView struct {
	Recipient              recipient.Recipient
	MilestonesReviewStatus milestone.ReviewStatus
	PaidAmount             uint64
}

func viewFromRecord(record storage.RecipientRecord) RecipientView {
	return RecipientView{
		Recipient:              recipientFromRecord(record),
		MilestonesReviewStatus: milestone.ReviewStatus(record.MilestonesReviewStatus),
		PaidAmount:             record.PaidAmount,
	}
}

// GetRecipient returns one recipient.
func (e *Engine) GetRecipient(ctx context.Context, recipientID string) (RecipientView, error) {
	record, err := e.loadRecipient(ctx, recipientID)
	if err != nil {
		return RecipientView{}, err
	}
	return viewFromRecord(record), nil
}

// GetRecipientStatus returns one recipient's status. Unregistered
// recipients report StatusNone rather than an error.
func (e *Engine) GetRecipientStatus(ctx context.Context, recipientID string) (recipient.Status, error) {
	record, err := e.loadRecipient(ctx, recipientID)
	if err != nil {
		var domainErr *apperrors.Error
		if errors.As(err, &domainErr) && domainErr.Code == apperrors.CodeNotFound {
			return recipient.StatusNone, nil
		}
		return "", err
	}
	return recipient.Status(record.Status), nil
}

// GetMilestones returns a recipient's schedule ordered by index.
func (e *Engine) GetMilestones(ctx context.Context, recipientID string) ([]milestone.Milestone, error) {
	record, err := e.loadRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	records, err := e.store.ListMilestones(ctx, e.cfg.ID, record.ID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	return milestonesFromRecords(records), nil
}

// ListRecipients pages through the pool's recipients ordered by id.
func (e *Engine) ListRecipients(ctx context.Context, pageSize int, pageToken string) ([]RecipientView, string, error) {
	page, err := e.store.ListRecipients(ctx, e.cfg.ID, pageSize, pageToken)
	if err != nil {
		return nil, "", fmt.Errorf("list recipients: %w", err)
	}
	views := make([]RecipientView, 0, len(page.Recipients))
	for _, record := range page.Recipients {
		views = append(views, viewFromRecord(record))
	}
	return views, page.NextPageToken, nil
}

// ListDistributions pages through payout records, optionally filtered to
// one recipient.
func (e *Engine) ListDistributions(ctx context.Context, recipientID string, pageSize int, pageToken string) (storage.DistributionPage, error) {
	page, err := e.store.ListDistributions(ctx, e.cfg.ID, recipientID, pageSize, pageToken)
	if err != nil {
		return storage.DistributionPage{}, fmt.Errorf("list distributions: %w", err)
	}
	return page, nil
}

// ListEvents pages through the pool's outbox in commit order.
func (e *Engine) ListEvents(ctx context.Context, pageSize int, pageToken string) (storage.EventPage, error) {
	page, err := e.store.ListEvents(ctx, e.cfg.ID, pageSize, pageToken)
	if err != nil {
		return storage.EventPage{}, fmt.Errorf("list events: %w", err)
	}
	return page, nil
}

// MarkEventsProcessed acknowledges delivered outbox events.
func (e *Engine) MarkEventsProcessed(ctx context.Context, eventIDs []string, processedAt time.Time) error {
	if err := e.store.MarkEventsProcessed(ctx, eventIDs, processedAt); err != nil {
		return fmt.Errorf("mark events processed: %w", err)
	}
	return nil
}
