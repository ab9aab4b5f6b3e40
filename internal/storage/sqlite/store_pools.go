package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/openpool/grantgate/internal/storage"
)

// PutPool persists a pool configuration record.
func (s *Store) PutPool(ctx context.Context, record storage.PoolRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("pool id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO pools (
	id, registration_gated, metadata_required, grant_amount_required,
	allocation_override_capped, self_distribution_allowed, manager_milestones,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`,
		record.ID,
		record.RegistrationGated,
		record.MetadataRequired,
		record.GrantAmountRequired,
		record.AllocationOverrideCapped,
		record.SelfDistributionAllowed,
		record.ManagerMilestones,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put pool: %w", err)
	}
	return nil
}

// GetPool fetches a pool configuration record by ID.
func (s *Store) GetPool(ctx context.Context, poolID string) (storage.PoolRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.PoolRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PoolRecord{}, fmt.Errorf("storage is not configured")
	}
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return storage.PoolRecord{}, fmt.Errorf("pool id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, registration_gated, metadata_required, grant_amount_required,
	allocation_override_capped, self_distribution_allowed, manager_milestones,
	created_at
FROM pools
WHERE id = ?
`, poolID)

	var (
		rec       storage.PoolRecord
		createdAt int64
	)
	if err := row.Scan(
		&rec.ID,
		&rec.RegistrationGated,
		&rec.MetadataRequired,
		&rec.GrantAmountRequired,
		&rec.AllocationOverrideCapped,
		&rec.SelfDistributionAllowed,
		&rec.ManagerMilestones,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PoolRecord{}, storage.ErrNotFound
		}
		return storage.PoolRecord{}, fmt.Errorf("get pool: %w", err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}
