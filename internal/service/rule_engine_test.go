package service

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maternal-triage-engine/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress logs during testing
	return logger
}

func normalRecord() domain.VitalsRecord {
	return domain.VitalsRecord{
		IdempotencyKey:  "visit-001",
		SystolicBP:      110,
		DiastolicBP:     70,
		BloodOxygen:     98,
		HeartRate:       80,
		BloodSugar:      5.2,
		BodyTemp:        36.8,
		Age:             28,
		GestationalWeek: 30,
	}
}

func TestRuleEngine_Evaluate(t *testing.T) {
	engine := NewRuleEngine(DefaultRulesConfig(), quietLogger())

	tests := []struct {
		name     string
		mutate   func(r *domain.VitalsRecord)
		wantIDs  []string
		wantTier domain.Tier
	}{
		{"normal vitals", func(r *domain.VitalsRecord) {}, []string{}, domain.TierNormal},
		{"systolic at threshold", func(r *domain.VitalsRecord) { r.SystolicBP = 140 },
			[]string{RuleHypertensiveCrisisSystolic}, domain.TierCritical},
		{"systolic just below", func(r *domain.VitalsRecord) { r.SystolicBP = 139.9 }, []string{}, domain.TierNormal},
		{"diastolic at threshold", func(r *domain.VitalsRecord) { r.DiastolicBP = 90 },
			[]string{RuleHypertensiveCrisisDiastolic}, domain.TierCritical},
		{"oxygen at 94 is fine", func(r *domain.VitalsRecord) { r.BloodOxygen = 94 }, []string{}, domain.TierNormal},
		{"hypoxia", func(r *domain.VitalsRecord) { r.BloodOxygen = 93.9 }, []string{RuleHypoxia}, domain.TierCritical},
		{"heart rate 120 is fine", func(r *domain.VitalsRecord) { r.HeartRate = 120 }, []string{}, domain.TierNormal},
		{"tachycardia", func(r *domain.VitalsRecord) { r.HeartRate = 121 }, []string{RuleTachycardia}, domain.TierCritical},
		{"hypoglycemia", func(r *domain.VitalsRecord) { r.BloodSugar = 2.9 }, []string{RuleHypoglycemia}, domain.TierCritical},
		{"hyperglycemia", func(r *domain.VitalsRecord) { r.BloodSugar = 11.1 }, []string{RuleHyperglycemia}, domain.TierCritical},
		{"advanced maternal age", func(r *domain.VitalsRecord) { r.Age = 35 },
			[]string{RuleAdvancedMaternalAge}, domain.TierElevated},
		{"week 40 is term", func(r *domain.VitalsRecord) { r.GestationalWeek = 40 }, []string{}, domain.TierNormal},
		{"post term", func(r *domain.VitalsRecord) { r.GestationalWeek = 41 },
			[]string{RulePostTermPregnancy}, domain.TierElevated},
		{"hyperthermia", func(r *domain.VitalsRecord) { r.BodyTemp = 38.6 }, []string{RuleHyperthermia}, domain.TierElevated},
		{"priority order preserved", func(r *domain.VitalsRecord) {
			r.BodyTemp = 39
			r.Age = 40
			r.HeartRate = 130
			r.SystolicBP = 160
			r.DiastolicBP = 100
		}, []string{
			RuleHypertensiveCrisisSystolic,
			RuleHypertensiveCrisisDiastolic,
			RuleTachycardia,
			RuleAdvancedMaternalAge,
			RuleHyperthermia,
		}, domain.TierCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := normalRecord()
			tt.mutate(&record)

			eval := engine.Evaluate(record)

			assert.Equal(t, tt.wantIDs, eval.RuleIDs())
			assert.Equal(t, tt.wantTier, eval.Tier)
			assert.Equal(t, tt.wantTier == domain.TierCritical, eval.Critical())
			for _, f := range eval.Findings {
				assert.True(t, eval.Tier.AtLeast(f.Tier))
				assert.NotEmpty(t, f.Rationale)
				assert.NotEmpty(t, f.Threshold)
			}
		})
	}
}

func TestRuleEngine_FindingDetails(t *testing.T) {
	engine := NewRuleEngine(DefaultRulesConfig(), quietLogger())
	record := normalRecord()
	record.BloodOxygen = 90

	eval := engine.Evaluate(record)
	require.Len(t, eval.Findings, 1)

	f := eval.Findings[0]
	assert.Equal(t, RuleHypoxia, f.RuleID)
	assert.Equal(t, domain.FieldBloodOxygen, f.Measurement)
	assert.Equal(t, 90.0, f.Value)
	assert.Equal(t, "%", f.Unit)
	assert.Equal(t, "< 94", f.Threshold)
	assert.Contains(t, f.Rationale, "respiratory distress")
}

func TestRuleEngine_ConfigurableThresholds(t *testing.T) {
	cfg := DefaultRulesConfig()
	cfg.HypoxiaBelow = 92
	engine := NewRuleEngine(cfg, quietLogger())

	record := normalRecord()
	record.BloodOxygen = 93

	eval := engine.Evaluate(record)
	assert.Empty(t, eval.Findings)
	assert.Equal(t, domain.TierNormal, eval.Tier)
}

func TestRuleEngine_PanicsOnUnsanitizedRecord(t *testing.T) {
	engine := NewRuleEngine(DefaultRulesConfig(), quietLogger())
	record := normalRecord()
	record.BloodOxygen = -1

	assert.Panics(t, func() { engine.Evaluate(record) })
}

func TestRuleEngine_Catalog(t *testing.T) {
	engine := NewRuleEngine(DefaultRulesConfig(), quietLogger())

	rules := engine.Rules()
	require.Len(t, rules, 9)
	assert.Equal(t, RuleHypertensiveCrisisSystolic, rules[0].ID)
	assert.Equal(t, RuleHyperthermia, rules[8].ID)

	rule, err := engine.Rule(RuleTachycardia)
	require.NoError(t, err)
	assert.Equal(t, domain.TierCritical, rule.Tier)

	_, err = engine.Rule("UNKNOWN")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
