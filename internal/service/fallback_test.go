package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maternal-triage-engine/internal/classifier"
	"github.com/maternal-triage-engine/internal/domain"
)

// fakeGate admits or denies every call and records reported outcomes.
type fakeGate struct {
	mu       sync.Mutex
	deny     bool
	permits  int
	outcomes []domain.Outcome
}

func (g *fakeGate) Permit() domain.Permit {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.permits++
	if g.deny {
		return domain.DenyPermit()
	}
	return domain.AllowPermit(func(success bool) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if success {
			g.outcomes = append(g.outcomes, domain.OutcomeSuccess)
		} else {
			g.outcomes = append(g.outcomes, domain.OutcomeFailure)
		}
	})
}

func (g *fakeGate) Report(p domain.Permit, outcome domain.Outcome) {
	p.Complete(outcome)
}

func (g *fakeGate) Snapshot() domain.BreakerSnapshot {
	state := domain.BreakerClosed
	if g.deny {
		state = domain.BreakerOpen
	}
	return domain.BreakerSnapshot{State: state}
}

func (g *fakeGate) reported() []domain.Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Outcome(nil), g.outcomes...)
}

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Predict(ctx context.Context, features domain.FeatureVector) (*domain.ClassifierOutput, error) {
	args := m.Called(ctx, features)
	out, _ := args.Get(0).(*domain.ClassifierOutput)
	return out, args.Error(1)
}

func (m *mockClassifier) ModelVersion() string {
	return "mock-model-1"
}

func classifierOutput(tier domain.Tier, confidence float64) *domain.ClassifierOutput {
	probs := map[domain.Tier]float64{
		domain.TierNormal:   (1 - confidence) / 2,
		domain.TierElevated: (1 - confidence) / 2,
		domain.TierCritical: (1 - confidence) / 2,
	}
	probs[tier] = confidence
	return &domain.ClassifierOutput{
		Tier:          tier,
		Probabilities: probs,
		Attributions:  []domain.Attribution{{Feature: domain.FieldAge, Contribution: 0.9}},
		Confidence:    confidence,
		ModelVersion:  "mock-model-1",
	}
}

func evaluated(t *testing.T, mutate func(r *domain.VitalsRecord)) *assessment {
	t.Helper()
	r := normalRecord()
	if mutate != nil {
		mutate(&r)
	}
	engine := NewRuleEngine(DefaultRulesConfig(), quietLogger())
	return &assessment{record: r, rules: engine.Evaluate(r)}
}

func TestDecisionChain_CriticalBypassSkipsGate(t *testing.T) {
	gate := &fakeGate{}
	model := &mockClassifier{}
	decide := newDecisionChain(gate, model)

	d, err := decide(context.Background(), evaluated(t, func(r *domain.VitalsRecord) { r.HeartRate = 130 }))

	require.NoError(t, err)
	assert.Equal(t, domain.TierCritical, d.Tier)
	assert.Equal(t, domain.ProvenanceCriticalBypass, d.Provenance)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Nil(t, d.Classifier)
	assert.Zero(t, gate.permits)
	model.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything)
}

func TestDecisionChain_CircuitOpen(t *testing.T) {
	gate := &fakeGate{deny: true}
	model := &mockClassifier{}
	decide := newDecisionChain(gate, model)

	d, err := decide(context.Background(), evaluated(t, func(r *domain.VitalsRecord) { r.Age = 36 }))

	require.NoError(t, err)
	assert.Equal(t, domain.TierElevated, d.Tier)
	assert.Equal(t, domain.ProvenanceCircuitOpen, d.Provenance)
	assert.ErrorIs(t, d.Cause, domain.ErrCircuitOpen)
	assert.Zero(t, d.Confidence)
	assert.Empty(t, gate.reported(), "denied permits are never reported")
	model.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything)
}

func TestDecisionChain_ClassifierOutcomes(t *testing.T) {
	tests := []struct {
		name           string
		out            *domain.ClassifierOutput
		err            error
		wantTier       domain.Tier
		wantProvenance domain.Provenance
		wantOutcome    domain.Outcome
	}{
		{
			name:           "classifier raises tier",
			out:            classifierOutput(domain.TierCritical, 0.8),
			wantTier:       domain.TierCritical,
			wantProvenance: domain.ProvenanceClassifierUsed,
			wantOutcome:    domain.OutcomeSuccess,
		},
		{
			name:           "classifier cannot lower rule floor",
			out:            classifierOutput(domain.TierNormal, 0.9),
			wantTier:       domain.TierElevated,
			wantProvenance: domain.ProvenanceClassifierUsed,
			wantOutcome:    domain.OutcomeSuccess,
		},
		{
			name:           "timeout",
			err:            &classifier.InferenceError{Kind: classifier.KindTimeout, Err: context.DeadlineExceeded},
			wantTier:       domain.TierElevated,
			wantProvenance: domain.ProvenanceClassifierFailed,
			wantOutcome:    domain.OutcomeFailure,
		},
		{
			name:           "out of domain does not count against breaker",
			err:            &classifier.InferenceError{Kind: classifier.KindOutOfDomain, Err: errors.New("age outside range")},
			wantTier:       domain.TierElevated,
			wantProvenance: domain.ProvenanceClassifierFailed,
			wantOutcome:    domain.OutcomeSuccess,
		},
		{
			name:           "invalid tier",
			out:            &domain.ClassifierOutput{Tier: "SEVERE"},
			wantTier:       domain.TierElevated,
			wantProvenance: domain.ProvenanceClassifierFailed,
			wantOutcome:    domain.OutcomeFailure,
		},
		{
			name:           "nil output",
			wantTier:       domain.TierElevated,
			wantProvenance: domain.ProvenanceClassifierFailed,
			wantOutcome:    domain.OutcomeFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := &fakeGate{}
			model := &mockClassifier{}
			model.On("Predict", mock.Anything, mock.Anything).Return(tt.out, tt.err).Once()

			d, err := newDecisionChain(gate, model)(context.Background(),
				evaluated(t, func(r *domain.VitalsRecord) { r.Age = 38 }))

			require.NoError(t, err)
			assert.Equal(t, tt.wantTier, d.Tier)
			assert.Equal(t, tt.wantProvenance, d.Provenance)
			assert.Equal(t, []domain.Outcome{tt.wantOutcome}, gate.reported())
			assert.Equal(t, d.Provenance == domain.ProvenanceClassifierUsed, d.Classifier != nil)
			model.AssertExpectations(t)
		})
	}
}

func TestDecisionChain_FeatureVector(t *testing.T) {
	gate := &fakeGate{}
	model := &mockClassifier{}
	a := evaluated(t, nil)
	want := domain.FeatureVector{28, 110, 70, 5.2, 36.8, 80, 98, 30}
	model.On("Predict", mock.Anything, want).Return(classifierOutput(domain.TierNormal, 0.82), nil).Once()

	d, err := newDecisionChain(gate, model)(context.Background(), a)

	require.NoError(t, err)
	assert.Equal(t, domain.TierNormal, d.Tier)
	assert.Equal(t, 0.82, d.Confidence)
	model.AssertExpectations(t)
}

func TestWithFallback_UntypedError(t *testing.T) {
	failing := func(ctx context.Context, a *assessment) (decision, error) {
		return decision{}, errors.New("boom")
	}

	d, err := withFallback(failing)(context.Background(), evaluated(t, nil))

	require.NoError(t, err)
	assert.Equal(t, domain.ProvenanceClassifierFailed, d.Provenance)
	assert.Equal(t, domain.TierNormal, d.Tier)
	assert.EqualError(t, d.Cause, "boom")
}

func TestDegradation_Error(t *testing.T) {
	err := degrade(domain.ProvenanceCircuitOpen, domain.ErrCircuitOpen)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Contains(t, err.Error(), "rules-only/circuit-open")

	assert.Equal(t, "degraded to rules-only/critical-bypass",
		degrade(domain.ProvenanceCriticalBypass, nil).Error())
}
