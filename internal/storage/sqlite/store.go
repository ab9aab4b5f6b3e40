package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/openpool/grantgate/internal/platform/storage/sqlitemigrate"
	"github.com/openpool/grantgate/internal/storage"
	"github.com/openpool/grantgate/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// toAmount converts an unsigned amount for SQLite INTEGER storage.
func toAmount(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("amount exceeds storable range")
	}
	return int64(value), nil
}

func encodeIndexes(indexes []int) (string, error) {
	if len(indexes) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(indexes)
	if err != nil {
		return "", fmt.Errorf("marshal milestone indexes: %w", err)
	}
	return string(encoded), nil
}

func decodeIndexes(value string) ([]int, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "[]" {
		return nil, nil
	}
	var indexes []int
	if err := json.Unmarshal([]byte(value), &indexes); err != nil {
		return nil, fmt.Errorf("unmarshal milestone indexes: %w", err)
	}
	return indexes, nil
}

// Store provides SQLite-backed persistence for grant engine records.
type Store struct {
	sqlDB *sql.DB
}

// dbtx is satisfied by *sql.DB and *sql.Tx so row helpers can serve both
// direct reads and transactional writes.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB returns the underlying sql.DB instance.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Open opens a SQLite store at the provided path and applies bundled
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS, "")
}

// txWriter applies the mutating storage contract against one open
// transaction.
type txWriter struct {
	tx *sql.Tx
}

// InTransaction runs fn against one transaction; any error rolls back every
// write fn made.
func (s *Store) InTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if fn == nil {
		return fmt.Errorf("transaction callback is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&txWriter{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
var _ storage.Tx = (*txWriter)(nil)
