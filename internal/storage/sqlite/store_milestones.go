package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openpool/grantgate/internal/storage"
)

func putMilestone(ctx context.Context, target dbtx, record storage.MilestoneRecord) error {
	if strings.TrimSpace(record.PoolID) == "" {
		return fmt.Errorf("pool id is required")
	}
	if strings.TrimSpace(record.RecipientID) == "" {
		return fmt.Errorf("recipient id is required")
	}
	if record.MilestoneIndex < 0 {
		return fmt.Errorf("milestone index must be greater than or equal to zero")
	}
	if strings.TrimSpace(record.Status) == "" {
		return fmt.Errorf("status is required")
	}
	percentage, err := toAmount(record.AmountPercentage)
	if err != nil {
		return fmt.Errorf("amount percentage: %w", err)
	}

	_, err = target.ExecContext(ctx, `
INSERT INTO milestones (
	pool_id, recipient_id, milestone_index, amount_percentage,
	metadata_protocol, metadata_pointer, status, submitted, paid,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(pool_id, recipient_id, milestone_index) DO UPDATE SET
	amount_percentage = excluded.amount_percentage,
	metadata_protocol = excluded.metadata_protocol,
	metadata_pointer = excluded.metadata_pointer,
	status = excluded.status,
	submitted = excluded.submitted,
	paid = excluded.paid,
	updated_at = excluded.updated_at
`,
		record.PoolID,
		record.RecipientID,
		record.MilestoneIndex,
		percentage,
		int64(record.MetadataProtocol),
		strings.TrimSpace(record.MetadataPointer),
		record.Status,
		record.Submitted,
		record.Paid,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put milestone: %w", err)
	}
	return nil
}

// PutMilestone persists one milestone record inside the transaction.
func (w *txWriter) PutMilestone(ctx context.Context, record storage.MilestoneRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return putMilestone(ctx, w.tx, record)
}

// ReplaceMilestones replaces a recipient's schedule wholesale.
func (w *txWriter) ReplaceMilestones(ctx context.Context, poolID string, recipientID string, records []storage.MilestoneRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	poolID = strings.TrimSpace(poolID)
	recipientID = strings.TrimSpace(recipientID)
	if poolID == "" || recipientID == "" {
		return fmt.Errorf("pool id and recipient id are required")
	}

	if _, err := w.tx.ExecContext(ctx, `
DELETE FROM milestones
WHERE pool_id = ? AND recipient_id = ?
`, poolID, recipientID); err != nil {
		return fmt.Errorf("clear milestones: %w", err)
	}

	for _, record := range records {
		record.PoolID = poolID
		record.RecipientID = recipientID
		if err := putMilestone(ctx, w.tx, record); err != nil {
			return err
		}
	}
	return nil
}

// MarkMilestonesPaid flips the write-once paid flag on the given indexes.
// A milestone that is already paid fails the whole transaction.
func (w *txWriter) MarkMilestonesPaid(ctx context.Context, poolID string, recipientID string, indexes []int, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	poolID = strings.TrimSpace(poolID)
	recipientID = strings.TrimSpace(recipientID)
	if poolID == "" || recipientID == "" {
		return fmt.Errorf("pool id and recipient id are required")
	}
	if len(indexes) == 0 {
		return fmt.Errorf("milestone indexes are required")
	}

	for _, index := range indexes {
		res, err := w.tx.ExecContext(ctx, `
UPDATE milestones
SET paid = 1, updated_at = ?
WHERE pool_id = ? AND recipient_id = ? AND milestone_index = ? AND paid = 0
`, toMillis(updatedAt), poolID, recipientID, index)
		if err != nil {
			return fmt.Errorf("mark milestone paid: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark milestone paid rows affected: %w", err)
		}
		if affected == 0 {
			return storage.ErrConflict
		}
	}
	return nil
}

// ListMilestones returns a recipient's schedule ordered by index.
func (s *Store) ListMilestones(ctx context.Context, poolID string, recipientID string) ([]storage.MilestoneRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return nil, fmt.Errorf("pool id is required")
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, fmt.Errorf("recipient id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT pool_id, recipient_id, milestone_index, amount_percentage,
	metadata_protocol, metadata_pointer, status, submitted, paid,
	created_at, updated_at
FROM milestones
WHERE pool_id = ? AND recipient_id = ?
ORDER BY milestone_index
`, poolID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	var records []storage.MilestoneRecord
	for rows.Next() {
		var (
			rec              storage.MilestoneRecord
			percentage       int64
			metadataProtocol int64
			createdAt        int64
			updatedAt        int64
		)
		if err := rows.Scan(
			&rec.PoolID,
			&rec.RecipientID,
			&rec.MilestoneIndex,
			&percentage,
			&metadataProtocol,
			&rec.MetadataPointer,
			&rec.Status,
			&rec.Submitted,
			&rec.Paid,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan milestone row: %w", err)
		}
		rec.AmountPercentage = uint64(percentage)
		rec.MetadataProtocol = uint64(metadataProtocol)
		rec.CreatedAt = fromMillis(createdAt)
		rec.UpdatedAt = fromMillis(updatedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestone rows: %w", err)
	}
	return records, nil
}
