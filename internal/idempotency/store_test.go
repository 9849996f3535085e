package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maternal-triage-engine/internal/domain"
)

func sampleVerdict(key string) *domain.RiskVerdict {
	return &domain.RiskVerdict{
		IdempotencyKey: key,
		Tier:           domain.TierElevated,
		Confidence:     0.7123,
		Findings: []domain.RuleFinding{{
			RuleID:      "ADVANCED_MATERNAL_AGE",
			Title:       "Advanced maternal age",
			Tier:        domain.TierElevated,
			Rationale:   "Maternal age of 35 or above increases risk of complications",
			Measurement: domain.FieldAge,
			Value:       38,
			Unit:        "years",
			Threshold:   ">= 35",
		}},
		RuleIDs: []string{"ADVANCED_MATERNAL_AGE"},
		Classifier: &domain.ClassifierOutput{
			Tier: domain.TierElevated,
			Probabilities: map[domain.Tier]float64{
				domain.TierNormal:   0.2,
				domain.TierElevated: 0.7123,
				domain.TierCritical: 0.0877,
			},
			Attributions: []domain.Attribution{{Feature: domain.FieldAge, Contribution: 1.6}},
			Confidence:   0.7123,
			ModelVersion: "test-model",
		},
		Provenance:       domain.ProvenanceClassifierUsed,
		ClassifierUsed:   true,
		InputFingerprint: "abc123",
		AssessedAt:       time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC),
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store domain.IdempotencyStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	want := sampleVerdict("visit-1")
	require.NoError(t, store.Put(ctx, "visit-1", want, time.Hour))

	got, err := store.Get(ctx, "visit-1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stored verdict mismatch (-want +got):\n%s", diff)
	}

	replaced := sampleVerdict("visit-1")
	replaced.Tier = domain.TierCritical
	require.NoError(t, store.Put(ctx, "visit-1", replaced, time.Hour))
	got, err = store.Get(ctx, "visit-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierCritical, got.Tier)

	assert.Error(t, store.Put(ctx, "bad", nil, time.Hour))
	assert.Error(t, store.Put(ctx, "bad", want, 0))
}

func TestEncodeDecodeEntry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	data, err := encodeEntry(sampleVerdict("k"), time.Minute, now)
	require.NoError(t, err)

	e, err := decodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), e.ExpiresAt)
	assert.False(t, e.expired(now.Add(59*time.Second)))
	assert.True(t, e.expired(now.Add(time.Minute)))

	_, err = decodeEntry([]byte(`{"stored_at":"2025-01-01T00:00:00Z"}`))
	assert.Error(t, err)
	_, err = decodeEntry([]byte(`not json`))
	assert.Error(t, err)
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	store, err := New(ctx, domain.IdempotencyConfig{Backend: BackendMemory, TTL: time.Hour}, Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
	require.NoError(t, store.Close())

	store, err = New(ctx, domain.IdempotencyConfig{
		Backend:    BackendSQLite,
		TTL:        time.Hour,
		SQLitePath: t.TempDir() + "/verdicts.db",
	}, Options{})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	require.NoError(t, store.Close())

	_, err = New(ctx, domain.IdempotencyConfig{Backend: "etcd"}, Options{})
	assert.Error(t, err)

	_, err = New(ctx, domain.IdempotencyConfig{Backend: BackendRedis}, Options{
		Cache: domain.CacheConfig{RedisURL: "not-a-url"},
	})
	assert.Error(t, err)
}
