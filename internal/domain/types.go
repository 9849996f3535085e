// Package domain contains the core entities of maternal vitals risk triage:
// the submitted vitals, rule findings, classifier output and the final verdict.
//
// Severity thresholds follow WHO/ACOG obstetric warning criteria
// (hypertension >= 140/90 mmHg, SpO2 < 94%, maternal tachycardia > 120 bpm).
package domain

import (
	"errors"
	"time"
)

// Tier is the ordered severity classification NORMAL < ELEVATED < CRITICAL.
type Tier string

const (
	TierNormal   Tier = "NORMAL"
	TierElevated Tier = "ELEVATED"
	TierCritical Tier = "CRITICAL"
)

// Tiers lists every tier in ascending severity.
var Tiers = []Tier{TierNormal, TierElevated, TierCritical}

// Provenance records which decision maker produced a verdict's tier.
// It is a closed set; consumers switch over every value.
type Provenance string

const (
	ProvenanceClassifierUsed   Provenance = "classifier-used"
	ProvenanceCriticalBypass   Provenance = "rules-only/critical-bypass"
	ProvenanceCircuitOpen      Provenance = "rules-only/circuit-open"
	ProvenanceClassifierFailed Provenance = "rules-only/classifier-failed"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTier       = errors.New("invalid severity tier")
	ErrInvalidProvenance = errors.New("invalid provenance")
)

// IsValid reports whether t is one of the three defined tiers.
func (t Tier) IsValid() bool {
	switch t {
	case TierNormal, TierElevated, TierCritical:
		return true
	default:
		return false
	}
}

// Rank returns the position of t in the severity order, -1 for unknown tiers.
func (t Tier) Rank() int {
	switch t {
	case TierNormal:
		return 0
	case TierElevated:
		return 1
	case TierCritical:
		return 2
	default:
		return -1
	}
}

// AtLeast reports whether t is as severe as other or more.
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

// String returns the string representation of the tier
func (t Tier) String() string {
	return string(t)
}

// MaxTier returns the most severe of the given tiers, NORMAL for none.
func MaxTier(tiers ...Tier) Tier {
	max := TierNormal
	for _, t := range tiers {
		if t.Rank() > max.Rank() {
			max = t
		}
	}
	return max
}

// IsValid reports whether p is a defined provenance.
func (p Provenance) IsValid() bool {
	switch p {
	case ProvenanceClassifierUsed, ProvenanceCriticalBypass, ProvenanceCircuitOpen, ProvenanceClassifierFailed:
		return true
	default:
		return false
	}
}

// RulesOnly reports whether the tier was decided without the classifier.
func (p Provenance) RulesOnly() bool {
	return p.IsValid() && p != ProvenanceClassifierUsed
}

// String returns the string representation of the provenance
func (p Provenance) String() string {
	return string(p)
}

// RuleFinding is one triggered clinical rule.
type RuleFinding struct {
	RuleID      string  `json:"rule_id"`
	Title       string  `json:"title"`
	Tier        Tier    `json:"tier"`
	Rationale   string  `json:"rationale"`
	Measurement string  `json:"measurement"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	Threshold   string  `json:"threshold"`
}

// Attribution is the signed contribution of one input feature to a prediction.
type Attribution struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"`
}

// ClassifierOutput is the statistical model's view of a record.
type ClassifierOutput struct {
	Tier          Tier             `json:"tier"`
	Probabilities map[Tier]float64 `json:"probabilities"`
	Attributions  []Attribution    `json:"attributions"`
	Confidence    float64          `json:"confidence"`
	ModelVersion  string           `json:"model_version"`
}

// Narrative is the optional natural-language explanation attached to a verdict.
// It is advisory only and never feeds back into the tier.
type Narrative struct {
	ClinicalInsights   string   `json:"clinical_insights"`
	RiskExplanation    string   `json:"risk_explanation,omitempty"`
	RecommendedActions []string `json:"recommended_actions,omitempty"`
	UrgencyScore       float64  `json:"urgency_score,omitempty"`
	Provider           string   `json:"provider"`
}

// RiskVerdict is the final, immutable result of assessing one vitals record.
type RiskVerdict struct {
	IdempotencyKey   string            `json:"idempotency_key"`
	Tier             Tier              `json:"tier"`
	Confidence       float64           `json:"confidence"`
	Findings         []RuleFinding     `json:"findings"`
	RuleIDs          []string          `json:"rule_ids"`
	Classifier       *ClassifierOutput `json:"classifier,omitempty"`
	Narrative        *Narrative        `json:"narrative,omitempty"`
	Provenance       Provenance        `json:"provenance"`
	ClassifierUsed   bool              `json:"classifier_used"`
	InputFingerprint string            `json:"input_fingerprint"`
	AssessedAt       time.Time         `json:"assessed_at"`
}

// Consistent checks the verdict invariants: the tier never falls below any
// finding, and classifier output is present exactly when the classifier was used.
func (v *RiskVerdict) Consistent() error {
	if !v.Tier.IsValid() {
		return ErrInvalidTier
	}
	if !v.Provenance.IsValid() {
		return ErrInvalidProvenance
	}
	for _, f := range v.Findings {
		if !v.Tier.AtLeast(f.Tier) {
			return errors.New("verdict tier below finding " + f.RuleID)
		}
	}
	used := v.Provenance == ProvenanceClassifierUsed
	if used != v.ClassifierUsed || used != (v.Classifier != nil) {
		return errors.New("classifier output does not match provenance " + string(v.Provenance))
	}
	return nil
}
