package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openpool/grantgate/internal/storage"
)

func putRecipient(ctx context.Context, target dbtx, record storage.RecipientRecord) error {
	if strings.TrimSpace(record.PoolID) == "" {
		return fmt.Errorf("pool id is required")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("recipient id is required")
	}
	if strings.TrimSpace(record.PayoutAddress) == "" {
		return fmt.Errorf("payout address is required")
	}
	if strings.TrimSpace(record.Status) == "" {
		return fmt.Errorf("status is required")
	}
	grantAmount, err := toAmount(record.GrantAmount)
	if err != nil {
		return fmt.Errorf("grant amount: %w", err)
	}
	paidAmount, err := toAmount(record.PaidAmount)
	if err != nil {
		return fmt.Errorf("paid amount: %w", err)
	}

	_, err = target.ExecContext(ctx, `
INSERT INTO recipients (
	pool_id, id, payout_address, grant_amount, metadata_protocol,
	metadata_pointer, status, milestones_review_status, paid_amount,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(pool_id, id) DO UPDATE SET
	payout_address = excluded.payout_address,
	grant_amount = excluded.grant_amount,
	metadata_protocol = excluded.metadata_protocol,
	metadata_pointer = excluded.metadata_pointer,
	status = excluded.status,
	milestones_review_status = excluded.milestones_review_status,
	paid_amount = excluded.paid_amount,
	updated_at = excluded.updated_at
`,
		record.PoolID,
		record.ID,
		record.PayoutAddress,
		grantAmount,
		int64(record.MetadataProtocol),
		strings.TrimSpace(record.MetadataPointer),
		record.Status,
		strings.TrimSpace(record.MilestonesReviewStatus),
		paidAmount,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put recipient: %w", err)
	}
	return nil
}

// PutRecipient persists a recipient record inside the transaction.
func (w *txWriter) PutRecipient(ctx context.Context, record storage.RecipientRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return putRecipient(ctx, w.tx, record)
}

// SetMilestonesReviewStatus updates the schedule-level review status.
func (w *txWriter) SetMilestonesReviewStatus(ctx context.Context, poolID string, recipientID string, reviewStatus string, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	poolID = strings.TrimSpace(poolID)
	recipientID = strings.TrimSpace(recipientID)
	if poolID == "" || recipientID == "" {
		return fmt.Errorf("pool id and recipient id are required")
	}

	res, err := w.tx.ExecContext(ctx, `
UPDATE recipients
SET milestones_review_status = ?, updated_at = ?
WHERE pool_id = ? AND id = ?
`, strings.TrimSpace(reviewStatus), toMillis(updatedAt), poolID, recipientID)
	if err != nil {
		return fmt.Errorf("set milestones review status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set milestones review status rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AddPaidAmount accumulates an authorized distribution on the recipient.
func (w *txWriter) AddPaidAmount(ctx context.Context, poolID string, recipientID string, amount uint64, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	poolID = strings.TrimSpace(poolID)
	recipientID = strings.TrimSpace(recipientID)
	if poolID == "" || recipientID == "" {
		return fmt.Errorf("pool id and recipient id are required")
	}
	delta, err := toAmount(amount)
	if err != nil {
		return fmt.Errorf("paid amount: %w", err)
	}

	res, err := w.tx.ExecContext(ctx, `
UPDATE recipients
SET paid_amount = paid_amount + ?, updated_at = ?
WHERE pool_id = ? AND id = ? AND paid_amount + ? <= grant_amount
`, delta, toMillis(updatedAt), poolID, recipientID, delta)
	if err != nil {
		return fmt.Errorf("add paid amount: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add paid amount rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrConflict
	}
	return nil
}

func scanRecipient(scan func(dest ...any) error) (storage.RecipientRecord, error) {
	var (
		rec              storage.RecipientRecord
		grantAmount      int64
		metadataProtocol int64
		paidAmount       int64
		createdAt        int64
		updatedAt        int64
	)
	if err := scan(
		&rec.PoolID,
		&rec.ID,
		&rec.PayoutAddress,
		&grantAmount,
		&metadataProtocol,
		&rec.MetadataPointer,
		&rec.Status,
		&rec.MilestonesReviewStatus,
		&paidAmount,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.RecipientRecord{}, err
	}
	rec.GrantAmount = uint64(grantAmount)
	rec.MetadataProtocol = uint64(metadataProtocol)
	rec.PaidAmount = uint64(paidAmount)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

// GetRecipient fetches a recipient record by pool and ID.
func (s *Store) GetRecipient(ctx context.Context, poolID string, recipientID string) (storage.RecipientRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.RecipientRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RecipientRecord{}, fmt.Errorf("storage is not configured")
	}
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return storage.RecipientRecord{}, fmt.Errorf("pool id is required")
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return storage.RecipientRecord{}, fmt.Errorf("recipient id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT pool_id, id, payout_address, grant_amount, metadata_protocol,
	metadata_pointer, status, milestones_review_status, paid_amount,
	created_at, updated_at
FROM recipients
WHERE pool_id = ? AND id = ?
`, poolID, recipientID)

	rec, err := scanRecipient(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RecipientRecord{}, storage.ErrNotFound
		}
		return storage.RecipientRecord{}, fmt.Errorf("get recipient: %w", err)
	}
	return rec, nil
}

// ListRecipients returns a page of recipients for one pool.
func (s *Store) ListRecipients(ctx context.Context, poolID string, pageSize int, pageToken string) (storage.RecipientPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.RecipientPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RecipientPage{}, fmt.Errorf("storage is not configured")
	}
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return storage.RecipientPage{}, fmt.Errorf("pool id is required")
	}
	if pageSize <= 0 {
		return storage.RecipientPage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(pageToken) == "" {
		rows, err = s.sqlDB.QueryContext(ctx, `
SELECT pool_id, id, payout_address, grant_amount, metadata_protocol,
	metadata_pointer, status, milestones_review_status, paid_amount,
	created_at, updated_at
FROM recipients
WHERE pool_id = ?
ORDER BY id
LIMIT ?
`, poolID, limit)
	} else {
		rows, err = s.sqlDB.QueryContext(ctx, `
SELECT pool_id, id, payout_address, grant_amount, metadata_protocol,
	metadata_pointer, status, milestones_review_status, paid_amount,
	created_at, updated_at
FROM recipients
WHERE pool_id = ? AND id > ?
ORDER BY id
LIMIT ?
`, poolID, strings.TrimSpace(pageToken), limit)
	}
	if err != nil {
		return storage.RecipientPage{}, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	page := storage.RecipientPage{Recipients: make([]storage.RecipientRecord, 0, pageSize)}
	for rows.Next() {
		rec, err := scanRecipient(rows.Scan)
		if err != nil {
			return storage.RecipientPage{}, fmt.Errorf("scan recipient row: %w", err)
		}
		page.Recipients = append(page.Recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.RecipientPage{}, fmt.Errorf("iterate recipient rows: %w", err)
	}
	if len(page.Recipients) > pageSize {
		page.NextPageToken = page.Recipients[pageSize-1].ID
		page.Recipients = page.Recipients[:pageSize]
	}
	return page, nil
}
