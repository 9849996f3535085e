package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maternal-triage-engine/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testRequest() *domain.EnrichmentRequest {
	return &domain.EnrichmentRequest{
		Vitals: domain.VitalsRecord{
			IdempotencyKey: "visit-9", SystolicBP: 118, DiastolicBP: 76, BloodOxygen: 97,
			HeartRate: 88, BloodSugar: 5.8, BodyTemp: 37.1, Age: 37, GestationalWeek: 34,
		},
		Tier:       domain.TierElevated,
		Confidence: 0.62,
		RuleIDs:    []string{"ADVANCED_MATERNAL_AGE"},
		Findings: []domain.RuleFinding{{
			RuleID:    "ADVANCED_MATERNAL_AGE",
			Tier:      domain.TierElevated,
			Rationale: "Maternal age 37 is at or above 35",
		}},
		Classifier: &domain.ClassifierOutput{
			Tier: domain.TierElevated,
			Probabilities: map[domain.Tier]float64{
				domain.TierNormal: 0.3, domain.TierElevated: 0.62, domain.TierCritical: 0.08,
			},
			Attributions: []domain.Attribution{{Feature: domain.FieldAge, Contribution: 0.41}},
			Confidence:   0.62,
		},
		Provenance: domain.ProvenanceClassifierUsed,
	}
}

func newTestClient(t *testing.T, url string) *EnrichmentClient {
	t.Helper()
	c, err := NewEnrichmentClient(EnrichmentConfig{
		BaseURL:   url,
		APIKey:    "secret",
		Timeout:   time.Second,
		RateLimit: 100,
	}, testLogger())
	require.NoError(t, err)
	return c
}

func TestEnrichmentClient_Success(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "ELEVATED", payload["current_risk"])
		assert.Equal(t, []interface{}{"ADVANCED_MATERNAL_AGE"}, payload["alerts"])
		assert.Equal(t, 34.0, payload["gestational_weeks"])
		vitals := payload["vitals"].(map[string]interface{})
		assert.Equal(t, 118.0, vitals["systolic_bp"])
		assert.Equal(t, string(domain.ProvenanceClassifierUsed), payload["provenance"])
		findings := payload["findings"].([]interface{})
		require.Len(t, findings, 1)
		assert.Equal(t, "Maternal age 37 is at or above 35", findings[0].(map[string]interface{})["rationale"])
		model := payload["model"].(map[string]interface{})
		assert.Equal(t, 0.62, model["probabilities"].(map[string]interface{})["ELEVATED"])
		factors := model["top_factors"].([]interface{})
		assert.Equal(t, domain.FieldAge, factors[0].(map[string]interface{})["feature"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"clinical_insights": "Maternal age above 35 warrants closer monitoring.",
			"recommended_actions": ["Schedule growth scan", "Repeat BP in 1 week"],
			"risk_explanation": "Age is the dominant factor.",
			"urgency_score": 4.5
		}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	require.True(t, c.Enabled())

	n, err := c.Enrich(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Maternal age above 35 warrants closer monitoring.", n.ClinicalInsights)
	assert.Equal(t, []string{"Schedule growth scan", "Repeat BP in 1 week"}, n.RecommendedActions)
	assert.Equal(t, 4.5, n.UrgencyScore)
	assert.Equal(t, ProviderZudu, n.Provider)

	// Identical payload is served from cache
	_, err = c.Enrich(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnrichmentClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		}},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"rate limited", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"clinical_insights":`))
		}},
		{"empty narrative", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"recommended_actions":[]}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer server.Close()

			n, err := newTestClient(t, server.URL).Enrich(context.Background(), testRequest())
			assert.Error(t, err)
			assert.Nil(t, n)
			assert.Equal(t, int32(1), calls.Load(), "single attempt, no retries")
		})
	}
}

func TestEnrichmentClient_DeadlineExceeded(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	n, err := newTestClient(t, server.URL).Enrich(ctx, testRequest())
	assert.Error(t, err)
	assert.Nil(t, n)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestEnrichmentClient_Disabled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	tests := []struct {
		name string
		cfg  EnrichmentConfig
	}{
		{"missing key", EnrichmentConfig{BaseURL: server.URL}},
		{"placeholder key", EnrichmentConfig{BaseURL: server.URL, APIKey: "your_zudu_api_key_here"}},
		{"missing url", EnrichmentConfig{APIKey: "secret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewEnrichmentClient(tt.cfg, testLogger())
			require.NoError(t, err)
			assert.False(t, c.Enabled())

			n, err := c.Enrich(context.Background(), testRequest())
			assert.ErrorIs(t, err, domain.ErrEnrichmentDisabled)
			assert.Nil(t, n)
		})
	}
	assert.Zero(t, calls.Load())
}

func TestEnrichmentClient_OutOfRangeUrgencyDropped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"clinical_insights":"ok","urgency_score":42}`))
	}))
	defer server.Close()

	n, err := newTestClient(t, server.URL).Enrich(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Zero(t, n.UrgencyScore)
}
