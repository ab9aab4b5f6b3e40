package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openpool/grantgate/internal/storage"
)

// Event types consumed by external indexers.
const (
	EventRegistered             = "registered"
	EventRecipientStatusChanged = "recipient_status_changed"
	EventMilestonesSet          = "milestones_set"
	EventMilestonesReviewed     = "milestones_reviewed"
	EventMilestoneSubmitted     = "milestone_submitted"
	EventMilestoneStatusChanged = "milestone_status_changed"
	EventDistributed            = "distributed"
)

// appendEvent adds an outbox row in the mutating transaction so indexers
// only observe committed state changes.
func (e *Engine) appendEvent(ctx context.Context, tx storage.Tx, eventType string, recipientID string, payload any) error {
	eventID, err := e.newID()
	if err != nil {
		return fmt.Errorf("generate event id: %w", err)
	}

	encoded := "{}"
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		encoded = string(raw)
	}

	return tx.AppendEvent(ctx, storage.EventRecord{
		ID:          eventID,
		PoolID:      e.cfg.ID,
		EventType:   eventType,
		RecipientID: recipientID,
		PayloadJSON: encoded,
		CreatedAt:   e.now().UTC(),
	})
}
