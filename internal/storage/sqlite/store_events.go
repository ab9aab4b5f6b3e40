package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openpool/grantgate/internal/storage"
)

// AppendEvent adds one pool event row inside the mutating transaction so
// indexers only ever observe committed state changes.
func (w *txWriter) AppendEvent(ctx context.Context, record storage.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(record.PoolID) == "" {
		return fmt.Errorf("pool id is required")
	}
	if strings.TrimSpace(record.EventType) == "" {
		return fmt.Errorf("event type is required")
	}
	payload := strings.TrimSpace(record.PayloadJSON)
	if payload == "" {
		payload = "{}"
	}

	_, err := w.tx.ExecContext(ctx, `
INSERT INTO pool_events (
	id, pool_id, event_type, recipient_id, payload_json, created_at, processed_at
) VALUES (?, ?, ?, ?, ?, ?, NULL)
`,
		record.ID,
		record.PoolID,
		record.EventType,
		strings.TrimSpace(record.RecipientID),
		payload,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns a page of pool events in append order.
func (s *Store) ListEvents(ctx context.Context, poolID string, pageSize int, pageToken string) (storage.EventPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EventPage{}, fmt.Errorf("storage is not configured")
	}
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return storage.EventPage{}, fmt.Errorf("pool id is required")
	}
	if pageSize <= 0 {
		return storage.EventPage{}, fmt.Errorf("page size must be greater than zero")
	}

	// Events page by rowid, which tracks append order regardless of
	// timestamp ties or id shape.
	afterSeq := int64(0)
	if token := strings.TrimSpace(pageToken); token != "" {
		parsed, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return storage.EventPage{}, fmt.Errorf("parse page token: %w", err)
		}
		afterSeq = parsed
	}

	limit := pageSize + 1
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT rowid, id, pool_id, event_type, recipient_id, payload_json, created_at, processed_at
FROM pool_events
WHERE pool_id = ? AND rowid > ?
ORDER BY rowid
LIMIT ?
`, poolID, afterSeq, limit)
	if err != nil {
		return storage.EventPage{}, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	page := storage.EventPage{Events: make([]storage.EventRecord, 0, pageSize)}
	var lastSeq int64
	seqs := make([]int64, 0, pageSize)
	for rows.Next() {
		var (
			rec         storage.EventRecord
			createdAt   int64
			processedAt sql.NullInt64
		)
		if err := rows.Scan(
			&lastSeq,
			&rec.ID,
			&rec.PoolID,
			&rec.EventType,
			&rec.RecipientID,
			&rec.PayloadJSON,
			&createdAt,
			&processedAt,
		); err != nil {
			return storage.EventPage{}, fmt.Errorf("scan event row: %w", err)
		}
		rec.CreatedAt = fromMillis(createdAt)
		if processedAt.Valid {
			value := fromMillis(processedAt.Int64)
			rec.ProcessedAt = &value
		}
		page.Events = append(page.Events, rec)
		seqs = append(seqs, lastSeq)
	}
	if err := rows.Err(); err != nil {
		return storage.EventPage{}, fmt.Errorf("iterate event rows: %w", err)
	}
	if len(page.Events) > pageSize {
		page.NextPageToken = strconv.FormatInt(seqs[pageSize-1], 10)
		page.Events = page.Events[:pageSize]
	}
	return page, nil
}

// MarkEventsProcessed stamps drained events so indexers can resume safely.
func (s *Store) MarkEventsProcessed(ctx context.Context, eventIDs []string, processedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(eventIDs) == 0 {
		return nil
	}

	stamp := toMillis(processedAt)
	for _, eventID := range eventIDs {
		eventID = strings.TrimSpace(eventID)
		if eventID == "" {
			return fmt.Errorf("event id is required")
		}
		res, err := s.sqlDB.ExecContext(ctx, `
UPDATE pool_events
SET processed_at = ?
WHERE id = ? AND processed_at IS NULL
`, stamp, eventID)
		if err != nil {
			return fmt.Errorf("mark event processed: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark event processed rows affected: %w", err)
		}
		if affected == 0 {
			return storage.ErrNotFound
		}
	}
	return nil
}
