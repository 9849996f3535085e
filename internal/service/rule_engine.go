package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/maternal-triage-engine/internal/domain"
	"github.com/maternal-triage-engine/internal/validation"
)

// Rule identifiers in priority order.
const (
	RuleHypertensiveCrisisSystolic  = "HYPERTENSIVE_CRISIS_SYSTOLIC"
	RuleHypertensiveCrisisDiastolic = "HYPERTENSIVE_CRISIS_DIASTOLIC"
	RuleHypoxia                     = "HYPOXIA"
	RuleTachycardia                 = "TACHYCARDIA"
	RuleHypoglycemia                = "HYPOGLYCEMIA"
	RuleHyperglycemia               = "HYPERGLYCEMIA"
	RuleAdvancedMaternalAge         = "ADVANCED_MATERNAL_AGE"
	RulePostTermPregnancy           = "POST_TERM_PREGNANCY"
	RuleHyperthermia                = "HYPERTHERMIA"
)

// ClinicalRule is one deterministic threshold check.
type ClinicalRule struct {
	ID          string                                      `json:"id"`
	Title       string                                      `json:"title"`
	Tier        domain.Tier                                 `json:"tier"`
	Description string                                      `json:"description"`
	Field       string                                      `json:"field"`
	Unit        string                                      `json:"unit"`
	Threshold   string                                      `json:"threshold"`
	Evaluator   func(r domain.VitalsRecord) (bool, float64) `json:"-"`
}

// RuleEvaluation is the outcome of running every rule against a record.
type RuleEvaluation struct {
	Findings []domain.RuleFinding
	Tier     domain.Tier
}

// RuleIDs returns the ids of the triggered rules in priority order.
func (e RuleEvaluation) RuleIDs() []string {
	ids := make([]string, 0, len(e.Findings))
	for _, f := range e.Findings {
		ids = append(ids, f.RuleID)
	}
	return ids
}

// Critical reports whether any finding is CRITICAL.
func (e RuleEvaluation) Critical() bool {
	return e.Tier == domain.TierCritical
}

// RuleEngine applies obstetric warning thresholds to sanitized vitals.
type RuleEngine struct {
	logger *logrus.Logger
	rules  []*ClinicalRule
}

// NewRuleEngine creates a rule engine with the given thresholds
func NewRuleEngine(cfg domain.RulesConfig, logger *logrus.Logger) *RuleEngine {
	engine := &RuleEngine{
		logger: logger,
	}

	engine.initializeRules(cfg)

	return engine
}

// DefaultRulesConfig returns the standard obstetric warning thresholds.
func DefaultRulesConfig() domain.RulesConfig {
	return domain.RulesConfig{
		SystolicCrisis:     140,
		DiastolicCrisis:    90,
		HypoxiaBelow:       94,
		TachycardiaAbove:   120,
		HypoglycemiaBelow:  3.0,
		HyperglycemiaAbove: 11.0,
		AdvancedAge:        35,
		PostTermAfter:      40,
		HyperthermiaAbove:  38.5,
	}
}

// initializeRules builds the rule table. Order here is the reporting priority.
func (e *RuleEngine) initializeRules(cfg domain.RulesConfig) {
	e.rules = []*ClinicalRule{
		{
			ID:          RuleHypertensiveCrisisSystolic,
			Title:       "Hypertensive Crisis (systolic)",
			Tier:        domain.TierCritical,
			Description: fmt.Sprintf("Systolic pressure >= %g mmHg indicates preeclampsia risk", cfg.SystolicCrisis),
			Field:       domain.FieldSystolicBP,
			Unit:        "mmHg",
			Threshold:   fmt.Sprintf(">= %g", cfg.SystolicCrisis),
			Evaluator: func(r domain.VitalsRecord) (bool, float64) {
				return r.SystolicBP >= cfg.SystolicCrisis, r.SystolicBP
			},
		},
		{
			ID:          RuleHypertensiveCrisisDiastolic,
			Title:       "Hypertensive Crisis (diastolic)",
			Tier:        domain.TierCritical,
			Description: fmt.Sprintf("Diastolic pressure >= %g mmHg indicates preeclampsia risk", cfg.DiastolicCrisis),
			Field:       domain.FieldDiastolicBP,
			Unit:        "mmHg",
			Threshold:   fmt.Sprintf(">= %g", cfg.DiastolicCrisis),
			Evaluator: func(r domain.VitalsRecord) (bool, float64) {
				return r.DiastolicBP >= cfg.DiastolicCrisis, r.DiastolicBP
			},
		},
		{
			ID:          RuleHypoxia,
			Title:       "Hypoxia",
			Tier:        domain.TierCritical,
			Description: fmt.Sprintf("Low oxygen saturation (<%g%%) indicates respiratory distress", cfg.HypoxiaBelow),
			Field:       domain.FieldBloodOxygen,
			Unit:        "%",
			Threshold:   fmt.Sprintf("< %g", cfg.HypoxiaBelow),
			Evaluator: func(r domain.VitalsRecord) (bool, float64) {
				return r.BloodOxygen < cfg.HypoxiaBelow, r.BloodOxygen
			},
		},
		{
			ID:          RuleTachycardia,
			Title:       "Tachycardia",
			Tier:        domain.TierCritical,
			Description: fmt.Sprintf("Elevated heart rate (>%g bpm) may indicate hemorrhage or infection", cfg.TachycardiaAbove),
			Field:       domain.FieldHeartRate,
			Unit:        "bpm",
			Threshold:   fmt.Sprintf("> %g", cfg.TachycardiaAbove),
			Evaluator: func(r domain.VitalsRecord) (bool, float64) {
				return r.HeartRate > cfg.TachycardiaAbove, r.HeartRate
			},
		},
		{
			ID:          RuleHypoglycemia,
			Title:       "Hypoglycemia",
			Tier:        domain.TierCritical,
			Description: fmt.Sprintf("Low blood sugar (<%g mmol/L) increases seizure risk", cfg.HypoglycemiaBelow),
			Field:       domain.FieldBloodSugar,
			Unit:        "mmol/L",
			Threshold:   fmt.Sprintf("< %g", cfg.HypoglycemiaBelow),
			Evaluator: func(r domain.VitalsRecord) (bool, float64) {
				return r.BloodSugar < cfg.HypoglycemiaBelow, r.BloodSugar
			},
		},
		{
			ID:          RuleHyperglycemia,
			Title:       "Hyperglycemia",
			Tier:        domain.TierCritical,
			Description: fmt.Sprintf("High blood sugar (>%g mmol/L) indicates gestational diabetes crisis", cfg.HyperglycemiaAbove),
			Field:       domain.FieldBloodSugar,
			Unit:        "mmol/L",
			Threshold:   fmt.Sprintf("> %g", cfg.HyperglycemiaAbove),
			Evaluator: func(r domain.VitalsRecord) (bool, float64) {
				return r.BloodSugar > cfg.HyperglycemiaAbove, r.BloodSugar
			},
		},
		{
			ID:          RuleAdvancedMaternalAge,
			Title:       "Advanced Maternal Age",
			Tier:        domain.TierElevated,
			Description: fmt.Sprintf("Age >= %g years increases chromosomal abnormality risk", cfg.AdvancedAge),
			Field:       domain.FieldAge,
			Unit:        "years",
			Threshold:   fmt.Sprintf(">= %g", cfg.AdvancedAge),
			Evaluator: func(r domain.VitalsRecord) (bool, float64) {
				return r.Age >= cfg.AdvancedAge, r.Age
			},
		},
		{
			ID:          RulePostTermPregnancy,
			Title:       "Post-term Pregnancy",
			Tier:        domain.TierElevated,
			Description: fmt.Sprintf("Pregnancy beyond %g weeks increases stillbirth risk", cfg.PostTermAfter),
			Field:       domain.FieldGestationalWeek,
			Unit:        "weeks",
			Threshold:   fmt.Sprintf("> %g", cfg.PostTermAfter),
			Evaluator: func(r domain.VitalsRecord) (bool, float64) {
				return r.GestationalWeek > cfg.PostTermAfter, r.GestationalWeek
			},
		},
		{
			ID:          RuleHyperthermia,
			Title:       "Hyperthermia",
			Tier:        domain.TierElevated,
			Description: fmt.Sprintf("High temperature (>%g°C) suggests possible infection", cfg.HyperthermiaAbove),
			Field:       domain.FieldBodyTemp,
			Unit:        "°C",
			Threshold:   fmt.Sprintf("> %g", cfg.HyperthermiaAbove),
			Evaluator: func(r domain.VitalsRecord) (bool, float64) {
				return r.BodyTemp > cfg.HyperthermiaAbove, r.BodyTemp
			},
		},
	}
}

// Evaluate runs every rule in priority order. The record must come from the
// validator; anything else is a programming error and panics.
func (e *RuleEngine) Evaluate(record domain.VitalsRecord) RuleEvaluation {
	if !validation.IsSanitized(record) {
		panic(fmt.Sprintf("rule engine received unsanitized record %q", record.IdempotencyKey))
	}

	findings := make([]domain.RuleFinding, 0, len(e.rules))
	tiers := make([]domain.Tier, 0, len(e.rules))

	for _, rule := range e.rules {
		fired, value := rule.Evaluator(record)
		if !fired {
			continue
		}
		findings = append(findings, domain.RuleFinding{
			RuleID:      rule.ID,
			Title:       rule.Title,
			Tier:        rule.Tier,
			Rationale:   rule.Description,
			Measurement: rule.Field,
			Value:       value,
			Unit:        rule.Unit,
			Threshold:   rule.Threshold,
		})
		tiers = append(tiers, rule.Tier)
	}

	eval := RuleEvaluation{Findings: findings, Tier: domain.MaxTier(tiers...)}

	e.logger.WithFields(logrus.Fields{
		"idempotency_key": record.IdempotencyKey,
		"findings":        len(findings),
		"tier":            eval.Tier.String(),
	}).Debug("Completed rule evaluation")

	return eval
}

// Rules returns the rule catalog in priority order.
func (e *RuleEngine) Rules() []ClinicalRule {
	out := make([]ClinicalRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	return out
}

// Rule looks up a rule by id.
func (e *RuleEngine) Rule(id string) (*ClinicalRule, error) {
	for _, r := range e.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("unknown clinical rule %s: %w", id, domain.ErrNotFound)
}
