package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/openpool/grantgate/internal/metadata"
	"github.com/openpool/grantgate/internal/milestone"
	"github.com/openpool/grantgate/internal/recipient"
	"github.com/openpool/grantgate/internal/storage"
)

// SetMilestones replaces an accepted recipient's schedule wholesale and
// resets the schedule review to pending.
func (e *Engine) SetMilestones(ctx context.Context, caller string, recipientID string, inputs []milestone.Input) error {
	ctx, span := e.tracer.Start(ctx, "engine.SetMilestones")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	record, err := e.loadRecipient(ctx, recipientID)
	if err != nil {
		return err
	}
	if err := e.authorizeScheduleCaller(ctx, caller, record.PayoutAddress); err != nil {
		return err
	}
	if err := recipient.ValidateOperation(recipient.Status(record.Status), recipient.OpSetMilestones); err != nil {
		return err
	}

	schedule, err := milestone.NewSchedule(inputs, e.now)
	if err != nil {
		return err
	}

	createdAt := e.now().UTC()
	records := make([]storage.MilestoneRecord, 0, len(schedule))
	for _, m := range schedule {
		records = append(records, recordFromMilestone(e.cfg.ID, record.ID, m, createdAt))
	}

	err = e.store.InTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.ReplaceMilestones(ctx, e.cfg.ID, record.ID, records); err != nil {
			return err
		}
		if err := tx.SetMilestonesReviewStatus(ctx, e.cfg.ID, record.ID, string(milestone.ReviewPending), createdAt); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, EventMilestonesSet, record.ID, map[string]string{
			"recipientId":    record.ID,
			"milestoneCount": strconv.Itoa(len(records)),
		})
	})
	if err != nil {
		return err
	}

	e.logger.Printf("pool %s: recipient %s schedule set with %d milestones", e.cfg.ID, record.ID, len(records))
	return nil
}

// ReviewMilestones records the manager's decision on a pending schedule.
func (e *Engine) ReviewMilestones(ctx context.Context, caller string, recipientID string, decision milestone.Decision) error {
	ctx, span := e.tracer.Start(ctx, "engine.ReviewMilestones")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireManager(ctx, caller); err != nil {
		return err
	}

	record, err := e.loadRecipient(ctx, recipientID)
	if err != nil {
		return err
	}

	review, err := milestone.Review(milestone.ReviewStatus(record.MilestonesReviewStatus), decision)
	if err != nil {
		return err
	}

	updatedAt := e.now().UTC()
	err = e.store.InTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.SetMilestonesReviewStatus(ctx, e.cfg.ID, record.ID, string(review), updatedAt); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, EventMilestonesReviewed, record.ID, map[string]string{
			"recipientId":  record.ID,
			"reviewStatus": string(review),
		})
	})
	if err != nil {
		return err
	}

	e.logger.Printf("pool %s: recipient %s schedule review: %s", e.cfg.ID, record.ID, review)
	return nil
}

// SubmitMilestone attaches evidence to one pending milestone of an accepted
// schedule. Submission never changes the milestone status; re-submission
// overwrites earlier evidence.
func (e *Engine) SubmitMilestone(ctx context.Context, caller string, recipientID string, index int, meta metadata.Metadata) error {
	ctx, span := e.tracer.Start(ctx, "engine.SubmitMilestone")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	record, err := e.loadRecipient(ctx, recipientID)
	if err != nil {
		return err
	}
	if err := requireRecipientCaller(caller, record.PayoutAddress); err != nil {
		return err
	}

	existing, err := e.store.ListMilestones(ctx, e.cfg.ID, record.ID)
	if err != nil {
		return fmt.Errorf("list milestones: %w", err)
	}

	schedule, err := milestone.Submit(milestonesFromRecords(existing), milestone.ReviewStatus(record.MilestonesReviewStatus), index, meta, e.now)
	if err != nil {
		return err
	}

	updated := recordFromMilestone(e.cfg.ID, record.ID, schedule[index], existing[index].CreatedAt)
	err = e.store.InTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.PutMilestone(ctx, updated); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, EventMilestoneSubmitted, record.ID, map[string]string{
			"recipientId":    record.ID,
			"milestoneIndex": strconv.Itoa(index),
		})
	})
	if err != nil {
		return err
	}

	e.logger.Printf("pool %s: recipient %s submitted milestone %d", e.cfg.ID, record.ID, index)
	return nil
}

// AcceptMilestone marks one submitted milestone accepted, making its
// percentage payable.
func (e *Engine) AcceptMilestone(ctx context.Context, caller string, recipientID string, index int) error {
	return e.decideMilestone(ctx, "engine.AcceptMilestone", caller, recipientID, index, milestone.DecisionAccept)
}

// RejectMilestone marks one submitted milestone rejected. Rejection is
// terminal; the percentage stays unpayable.
func (e *Engine) RejectMilestone(ctx context.Context, caller string, recipientID string, index int) error {
	return e.decideMilestone(ctx, "engine.RejectMilestone", caller, recipientID, index, milestone.DecisionReject)
}

func (e *Engine) decideMilestone(ctx context.Context, spanName string, caller string, recipientID string, index int, decision milestone.Decision) error {
	ctx, span := e.tracer.Start(ctx, spanName)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireManager(ctx, caller); err != nil {
		return err
	}

	record, err := e.loadRecipient(ctx, recipientID)
	if err != nil {
		return err
	}

	existing, err := e.store.ListMilestones(ctx, e.cfg.ID, record.ID)
	if err != nil {
		return fmt.Errorf("list milestones: %w", err)
	}

	schedule, err := milestone.Decide(milestonesFromRecords(existing), milestone.ReviewStatus(record.MilestonesReviewStatus), index, decision, e.now)
	if err != nil {
		return err
	}

	updated := recordFromMilestone(e.cfg.ID, record.ID, schedule[index], existing[index].CreatedAt)
	err = e.store.InTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.PutMilestone(ctx, updated); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, EventMilestoneStatusChanged, record.ID, map[string]string{
			"recipientId":    record.ID,
			"milestoneIndex": strconv.Itoa(index),
			"status":         updated.Status,
		})
	})
	if err != nil {
		return err
	}

	e.logger.Printf("pool %s: recipient %s milestone %d %s", e.cfg.ID, record.ID, index, updated.Status)
	return nil
}

// authorizeScheduleCaller enforces who may propose a schedule: the pool
// manager when manager-authored schedules are configured, otherwise the
// recipient or a manager.
func (e *Engine) authorizeScheduleCaller(ctx context.Context, caller string, payoutAddress string) error {
	if e.cfg.ManagerMilestones {
		return e.requireManager(ctx, caller)
	}
	if caller == payoutAddress {
		return nil
	}
	ok, err := e.isManager(ctx, caller)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return requireRecipientCaller(caller, payoutAddress)
}
