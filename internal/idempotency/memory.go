package idempotency

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/maternal-triage-engine/internal/domain"
)

const defaultMemoryEntries = 10000

// MemoryStore keeps verdicts in a bounded in-process LRU. Entries expire at the
// earlier of their own TTL and the cache-wide retention.
type MemoryStore struct {
	cache *expirable.LRU[string, []byte]
	now   func() time.Time
}

// NewMemoryStore creates a store holding at most maxEntries verdicts.
func NewMemoryStore(maxEntries int, retention time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryEntries
	}
	return &MemoryStore{
		cache: expirable.NewLRU[string, []byte](maxEntries, nil, retention),
		now:   time.Now,
	}
}

// Get returns the verdict stored under key, or domain.ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, key string) (*domain.RiskVerdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := s.cache.Get(key)
	if !ok {
		return nil, domain.ErrNotFound
	}
	e, err := decodeEntry(data)
	if err != nil {
		s.cache.Remove(key)
		return nil, err
	}
	if e.expired(s.now()) {
		s.cache.Remove(key)
		return nil, domain.ErrNotFound
	}
	return e.Verdict, nil
}

// Put stores verdict under key for ttl.
func (s *MemoryStore) Put(ctx context.Context, key string, verdict *domain.RiskVerdict, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeEntry(verdict, ttl, s.now())
	if err != nil {
		return err
	}
	s.cache.Add(key, data)
	return nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close drops every entry.
func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}
