// Package idempotency stores computed verdicts under caller idempotency keys so
// a repeated submission within the retention window replays the original result.
//
// Every backend serializes the verdict to the same JSON envelope, which keeps a
// replayed verdict identical to the one first returned regardless of backend.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maternal-triage-engine/internal/database"
	"github.com/maternal-triage-engine/internal/domain"
)

// Backend names accepted by New.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// entry is the stored form of a verdict.
type entry struct {
	Verdict   *domain.RiskVerdict `json:"verdict"`
	StoredAt  time.Time           `json:"stored_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

func encodeEntry(verdict *domain.RiskVerdict, ttl time.Duration, now time.Time) ([]byte, error) {
	if verdict == nil {
		return nil, fmt.Errorf("nil verdict")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	data, err := json.Marshal(entry{
		Verdict:   verdict,
		StoredAt:  now.UTC(),
		ExpiresAt: now.Add(ttl).UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verdict: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*entry, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verdict: %w", err)
	}
	if e.Verdict == nil {
		return nil, fmt.Errorf("stored entry has no verdict")
	}
	return &e, nil
}

// Options carries the backend-specific dependencies for New.
type Options struct {
	Cache    domain.CacheConfig
	Database database.Config
	Logger   *logrus.Logger
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg domain.IdempotencyConfig, opts Options) (domain.IdempotencyStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	var (
		store domain.IdempotencyStore
		err   error
	)
	switch cfg.Backend {
	case BackendMemory, "":
		store = NewMemoryStore(cfg.MaxEntries, cfg.TTL)
	case BackendRedis:
		store, err = NewRedisStore(ctx, opts.Cache)
	case BackendSQLite:
		store, err = NewSQLiteStore(cfg.SQLitePath)
	case BackendPostgres:
		var db *database.DB
		db, err = database.NewConnection(ctx, opts.Database, logger)
		if err == nil {
			store = NewPostgresStore(db)
		}
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s idempotency store: %w", cfg.Backend, err)
	}

	logger.WithFields(logrus.Fields{
		"backend": backendName(cfg.Backend),
		"ttl":     cfg.TTL.String(),
	}).Info("Idempotency store ready")

	return store, nil
}

func backendName(b string) string {
	if b == "" {
		return BackendMemory
	}
	return b
}
