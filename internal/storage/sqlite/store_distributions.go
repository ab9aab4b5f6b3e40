package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/openpool/grantgate/internal/storage"
)

// PutDistribution records one authorized payout inside the transaction.
func (w *txWriter) PutDistribution(ctx context.Context, record storage.DistributionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("distribution id is required")
	}
	if strings.TrimSpace(record.PoolID) == "" {
		return fmt.Errorf("pool id is required")
	}
	if strings.TrimSpace(record.RecipientID) == "" {
		return fmt.Errorf("recipient id is required")
	}
	if strings.TrimSpace(record.PayoutAddress) == "" {
		return fmt.Errorf("payout address is required")
	}
	amount, err := toAmount(record.Amount)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	indexes, err := encodeIndexes(record.MilestoneIndexes)
	if err != nil {
		return err
	}

	_, err = w.tx.ExecContext(ctx, `
INSERT INTO distributions (
	id, pool_id, recipient_id, payout_address, amount, milestone_indexes, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.PoolID,
		record.RecipientID,
		record.PayoutAddress,
		amount,
		indexes,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put distribution: %w", err)
	}
	return nil
}

// ListDistributions returns a page of authorized payouts for one pool,
// optionally narrowed to one recipient.
func (s *Store) ListDistributions(ctx context.Context, poolID string, recipientID string, pageSize int, pageToken string) (storage.DistributionPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.DistributionPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.DistributionPage{}, fmt.Errorf("storage is not configured")
	}
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return storage.DistributionPage{}, fmt.Errorf("pool id is required")
	}
	if pageSize <= 0 {
		return storage.DistributionPage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	recipientID = strings.TrimSpace(recipientID)
	pageToken = strings.TrimSpace(pageToken)

	query := `
SELECT id, pool_id, recipient_id, payout_address, amount, milestone_indexes, created_at
FROM distributions
WHERE pool_id = ?`
	args := []any{poolID}
	if recipientID != "" {
		query += " AND recipient_id = ?"
		args = append(args, recipientID)
	}
	if pageToken != "" {
		query += " AND id > ?"
		args = append(args, pageToken)
	}
	query += `
ORDER BY id
LIMIT ?`
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.DistributionPage{}, fmt.Errorf("list distributions: %w", err)
	}
	defer rows.Close()

	page := storage.DistributionPage{Distributions: make([]storage.DistributionRecord, 0, pageSize)}
	for rows.Next() {
		rec, err := scanDistributionRows(rows)
		if err != nil {
			return storage.DistributionPage{}, fmt.Errorf("scan distribution row: %w", err)
		}
		page.Distributions = append(page.Distributions, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.DistributionPage{}, fmt.Errorf("iterate distribution rows: %w", err)
	}
	if len(page.Distributions) > pageSize {
		page.NextPageToken = page.Distributions[pageSize-1].ID
		page.Distributions = page.Distributions[:pageSize]
	}
	return page, nil
}

func scanDistributionRows(rows *sql.Rows) (storage.DistributionRecord, error) {
	var (
		rec        storage.DistributionRecord
		amount     int64
		indexesRaw string
		createdAt  int64
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.PoolID,
		&rec.RecipientID,
		&rec.PayoutAddress,
		&amount,
		&indexesRaw,
		&createdAt,
	); err != nil {
		return storage.DistributionRecord{}, err
	}
	indexes, err := decodeIndexes(indexesRaw)
	if err != nil {
		return storage.DistributionRecord{}, err
	}
	rec.Amount = uint64(amount)
	rec.MilestoneIndexes = indexes
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}
