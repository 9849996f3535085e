package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maternal-triage-engine/internal/database"
	"github.com/maternal-triage-engine/internal/domain"
)

// PostgresStore keeps verdicts in the verdicts table created by the migrations.
type PostgresStore struct {
	db  *database.DB
	now func() time.Time
}

// NewPostgresStore wraps an open connection pool. The store owns the pool.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Get returns the verdict stored under key, or domain.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, key string) (*domain.RiskVerdict, error) {
	var payload []byte
	err := s.db.Pool.QueryRow(ctx,
		`SELECT payload FROM verdicts WHERE idempotency_key = $1 AND expires_at > $2`,
		key, s.now().UTC(),
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get verdict: %w", domain.ErrStoreFailure, err)
	}

	e, err := decodeEntry(payload)
	if err != nil {
		return nil, err
	}
	return e.Verdict, nil
}

// Put upserts verdict under key for ttl.
func (s *PostgresStore) Put(ctx context.Context, key string, verdict *domain.RiskVerdict, ttl time.Duration) error {
	now := s.now()
	payload, err := encodeEntry(verdict, ttl, now)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO verdicts (idempotency_key, tier, provenance, payload, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			tier = EXCLUDED.tier,
			provenance = EXCLUDED.provenance,
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`
	_, err = s.db.Pool.Exec(ctx, query,
		key,
		string(verdict.Tier),
		string(verdict.Provenance),
		payload,
		now.UTC(),
		now.Add(ttl).UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to save verdict: %w", domain.ErrStoreFailure, err)
	}
	return nil
}

// Purge deletes expired entries and returns how many were removed.
func (s *PostgresStore) Purge(ctx context.Context) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM verdicts WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge verdicts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
