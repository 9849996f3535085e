package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/maternal-triage-engine/internal/classifier"
	"github.com/maternal-triage-engine/internal/domain"
)

// assessment is the state a decision maker sees: the sanitized record and the
// rule evaluation that already ran.
type assessment struct {
	record domain.VitalsRecord
	rules  RuleEvaluation
}

// decision is the tier a decision maker settled on and how it got there.
type decision struct {
	Tier       domain.Tier
	Confidence float64
	Classifier *domain.ClassifierOutput
	Provenance domain.Provenance
	// Cause is the error that forced a degraded decision, if any.
	Cause error
}

// decisionFunc produces a decision for one assessment. Returning a
// *Degradation hands the decision to the rules-only fallback.
type decisionFunc func(ctx context.Context, a *assessment) (decision, error)

// Degradation reports that a higher-fidelity decision maker stepped aside and
// names the rules-only route that replaces it.
type Degradation struct {
	Provenance domain.Provenance
	Err        error
}

func (d *Degradation) Error() string {
	if d.Err == nil {
		return "degraded to " + string(d.Provenance)
	}
	return fmt.Sprintf("degraded to %s: %v", d.Provenance, d.Err)
}

func (d *Degradation) Unwrap() error {
	return d.Err
}

func degrade(p domain.Provenance, err error) error {
	return &Degradation{Provenance: p, Err: err}
}

// rulesOnly is the always-available decision maker.
func rulesOnly(a *assessment, provenance domain.Provenance, cause error) decision {
	confidence := 0.0
	if provenance == domain.ProvenanceCriticalBypass {
		confidence = 1.0
	}
	return decision{
		Tier:       a.rules.Tier,
		Confidence: confidence,
		Provenance: provenance,
		Cause:      cause,
	}
}

// withFallback runs primary and degrades to the rules-only decision on any
// error. Errors that are not a *Degradation count as classifier failures.
func withFallback(primary decisionFunc) decisionFunc {
	return func(ctx context.Context, a *assessment) (decision, error) {
		d, err := primary(ctx, a)
		if err == nil {
			return d, nil
		}
		var deg *Degradation
		if errors.As(err, &deg) {
			return rulesOnly(a, deg.Provenance, deg.Err), nil
		}
		return rulesOnly(a, domain.ProvenanceClassifierFailed, err), nil
	}
}

// criticalBypass stops before next when any rule reached CRITICAL.
func criticalBypass(next decisionFunc) decisionFunc {
	return func(ctx context.Context, a *assessment) (decision, error) {
		if a.rules.Critical() {
			return decision{}, degrade(domain.ProvenanceCriticalBypass, nil)
		}
		return next(ctx, a)
	}
}

// gated admits next through the circuit gate and reports exactly one outcome
// for every admitted call.
func gated(gate domain.CircuitGate, next decisionFunc) decisionFunc {
	return func(ctx context.Context, a *assessment) (decision, error) {
		permit := gate.Permit()
		if !permit.Allowed() {
			return decision{}, degrade(domain.ProvenanceCircuitOpen, domain.ErrCircuitOpen)
		}

		d, err := next(ctx, a)
		gate.Report(permit, classifier.Outcome(err))
		if err != nil {
			return decision{}, degrade(domain.ProvenanceClassifierFailed, err)
		}
		return d, nil
	}
}

// classify asks the model and merges its tier with the rule floor.
func classify(model domain.RiskClassifier) decisionFunc {
	return func(ctx context.Context, a *assessment) (decision, error) {
		out, err := model.Predict(ctx, domain.NewFeatureVector(a.record))
		if err != nil {
			return decision{}, err
		}
		if out == nil || !out.Tier.IsValid() {
			return decision{}, &classifier.InferenceError{
				Kind: classifier.KindInvalidOutput,
				Err:  fmt.Errorf("classifier returned no valid tier"),
			}
		}
		return decision{
			Tier:       domain.MaxTier(a.rules.Tier, out.Tier),
			Confidence: out.Confidence,
			Classifier: out,
			Provenance: domain.ProvenanceClassifierUsed,
		}, nil
	}
}

// newDecisionChain composes the pipeline's decision makers: critical findings
// bypass the classifier, the gate guards it, and every refusal or failure
// falls back to the rules.
func newDecisionChain(gate domain.CircuitGate, model domain.RiskClassifier) decisionFunc {
	return withFallback(criticalBypass(gated(gate, classify(model))))
}
