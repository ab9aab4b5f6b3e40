package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/openpool/grantgate/internal/custody"
	"github.com/openpool/grantgate/internal/distribution"
	"github.com/openpool/grantgate/internal/milestone"
	apperrors "github.com/openpool/grantgate/internal/platform/errors"
	"github.com/openpool/grantgate/internal/recipient"
	"github.com/openpool/grantgate/internal/storage"
)

// Distribute pays out every unpaid accepted milestone for each recipient in
// the batch. Recipients with nothing payable are skipped. All payouts commit
// in one transaction; a custody shortfall rolls the whole batch back.
func (e *Engine) Distribute(ctx context.Context, caller string, recipientIDs []string) error {
	ctx, span := e.tracer.Start(ctx, "engine.Distribute")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(recipientIDs) == 0 {
		return fmt.Errorf("recipient ids are required")
	}

	type payout struct {
		recipientID   string
		payoutAddress string
		amount        uint64
		indexes       []int
	}

	records := make([]storage.RecipientRecord, 0, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		record, err := e.loadRecipient(ctx, recipientID)
		if err != nil {
			return err
		}
		records = append(records, record)
	}

	if err := e.authorizeDistributionCaller(ctx, caller, records); err != nil {
		return err
	}

	payouts := make([]payout, 0, len(records))
	for _, record := range records {
		if err := recipient.ValidateOperation(recipient.Status(record.Status), recipient.OpDistribute); err != nil {
			return err
		}
		if milestone.ReviewStatus(record.MilestonesReviewStatus) != milestone.ReviewAccepted {
			return apperrors.WithMetadata(
				apperrors.CodeScheduleReviewDisallows,
				"milestone schedule is not accepted",
				map[string]string{"RecipientID": record.ID, "ReviewStatus": record.MilestonesReviewStatus},
			)
		}

		existing, err := e.store.ListMilestones(ctx, e.cfg.ID, record.ID)
		if err != nil {
			return fmt.Errorf("list milestones: %w", err)
		}
		amount, indexes, err := distribution.Payable(record.GrantAmount, milestonesFromRecords(existing))
		if err != nil {
			return err
		}
		if amount == 0 {
			// Nothing newly payable for this recipient.
			continue
		}
		if distribution.ExceedsGrant(record.PaidAmount, amount, record.GrantAmount) {
			return apperrors.WithMetadata(
				apperrors.CodeGrantExceeded,
				"payout would exceed the recipient's grant amount",
				map[string]string{"RecipientID": record.ID},
			)
		}
		payouts = append(payouts, payout{
			recipientID:   record.ID,
			payoutAddress: record.PayoutAddress,
			amount:        amount,
			indexes:       indexes,
		})
	}

	if len(payouts) == 0 {
		return nil
	}

	now := e.now().UTC()
	err := e.store.InTransaction(ctx, func(tx storage.Tx) error {
		for _, p := range payouts {
			if err := tx.MarkMilestonesPaid(ctx, e.cfg.ID, p.recipientID, p.indexes, now); err != nil {
				return err
			}
			if err := tx.AddPaidAmount(ctx, e.cfg.ID, p.recipientID, p.amount, now); err != nil {
				return err
			}
			distributionID, err := e.newID()
			if err != nil {
				return fmt.Errorf("generate distribution id: %w", err)
			}
			err = tx.PutDistribution(ctx, storage.DistributionRecord{
				ID:               distributionID,
				PoolID:           e.cfg.ID,
				RecipientID:      p.recipientID,
				PayoutAddress:    p.payoutAddress,
				Amount:           p.amount,
				MilestoneIndexes: p.indexes,
				CreatedAt:        now,
			})
			if err != nil {
				return err
			}
			err = e.appendEvent(ctx, tx, EventDistributed, p.recipientID, map[string]string{
				"recipientId":   p.recipientID,
				"payoutAddress": p.payoutAddress,
				"amount":        strconv.FormatUint(p.amount, 10),
			})
			if err != nil {
				return err
			}
		}

		// Transfers run last so a shortfall aborts before commit and the
		// paid flags roll back with everything else. The balance check up
		// front keeps a multi-recipient batch from partially transferring.
		var total uint64
		for _, p := range payouts {
			if p.amount > math.MaxUint64-total {
				return apperrors.New(apperrors.CodePoolInsufficientFunds, "pool balance cannot cover the batch payout")
			}
			total += p.amount
		}
		balance, err := e.custody.BalanceOf(ctx, e.cfg.ID)
		if err != nil {
			return fmt.Errorf("read pool balance: %w", err)
		}
		if balance < total {
			return apperrors.WithMetadata(
				apperrors.CodePoolInsufficientFunds,
				"pool balance cannot cover the batch payout",
				map[string]string{
					"Balance":  strconv.FormatUint(balance, 10),
					"Required": strconv.FormatUint(total, 10),
				},
			)
		}
		for _, p := range payouts {
			if err := e.custody.Transfer(ctx, e.cfg.ID, p.payoutAddress, p.amount); err != nil {
				if errors.Is(err, custody.ErrInsufficientFunds) {
					return apperrors.WithMetadata(
						apperrors.CodePoolInsufficientFunds,
						"pool balance cannot cover the batch payout",
						map[string]string{"RecipientID": p.recipientID},
					)
				}
				return fmt.Errorf("transfer payout: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Printf("pool %s: distributed to %d recipients", e.cfg.ID, len(payouts))
	return nil
}

// authorizeDistributionCaller admits the pool manager always, and the
// recipient themselves when self-distribution is configured and every batch
// entry belongs to the caller.
func (e *Engine) authorizeDistributionCaller(ctx context.Context, caller string, records []storage.RecipientRecord) error {
	ok, err := e.isManager(ctx, caller)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if e.cfg.SelfDistributionAllowed {
		for _, record := range records {
			if err := requireRecipientCaller(caller, record.PayoutAddress); err != nil {
				return err
			}
		}
		return nil
	}
	return apperrors.WithMetadata(
		apperrors.CodeCallerNotManager,
		"caller lacks the pool manager role",
		map[string]string{"Caller": caller},
	)
}
