package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/maternal-triage-engine/internal/domain"
)

// SQLiteStore keeps verdicts in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens or creates the database at dbPath and its schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for concurrent readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return newSQLiteStore(db), nil
}

func newSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS verdicts (
		idempotency_key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_verdicts_expires_at ON verdicts(expires_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Get returns the verdict stored under key, or domain.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*domain.RiskVerdict, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM verdicts WHERE idempotency_key = ? AND expires_at > ?",
		key, s.now().UnixNano(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query verdict: %w", domain.ErrStoreFailure, err)
	}

	e, err := decodeEntry(payload)
	if err != nil {
		return nil, err
	}
	return e.Verdict, nil
}

// Put stores verdict under key for ttl, replacing any earlier entry.
func (s *SQLiteStore) Put(ctx context.Context, key string, verdict *domain.RiskVerdict, ttl time.Duration) error {
	now := s.now()
	payload, err := encodeEntry(verdict, ttl, now)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verdicts (idempotency_key, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(idempotency_key) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at
	`, key, payload, now.Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("%w: failed to insert verdict: %w", domain.ErrStoreFailure, err)
	}
	return nil
}

// Purge deletes expired entries and returns how many were removed.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM verdicts WHERE expires_at <= ?", s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge verdicts: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
