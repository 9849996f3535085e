// Package validation turns untrusted vitals submissions into sanitized
// records. Rejection is an ordinary result, not an error.
package validation

import (
	"fmt"
	"math"
	"strings"

	"github.com/maternal-triage-engine/internal/domain"
)

// Violation rule codes.
const (
	RuleRequired               = "required"
	RuleFinite                 = "finite"
	RuleNonNegative            = "non_negative"
	RuleRange                  = "range"
	RuleMaxLength              = "max_length"
	RuleSystolicAboveDiastolic = "systolic_above_diastolic"
)

// MaxIdempotencyKeyLength bounds caller-supplied keys.
const MaxIdempotencyKeyLength = 256

// Result is the outcome of validating one submission: Accepted or Rejected.
type Result interface {
	isResult()
}

// Accepted carries the sanitized record.
type Accepted struct {
	Record domain.VitalsRecord
}

// Rejected lists every violated check.
type Rejected struct {
	Violations []*domain.ValidationError
}

func (Accepted) isResult() {}
func (Rejected) isResult() {}

// Bound is a closed plausibility interval for one vital.
type Bound struct {
	Field string
	Min   float64
	Max   float64
	Unit  string
}

// DefaultBounds are the physiologically plausible ranges, in field order.
var DefaultBounds = []Bound{
	{domain.FieldSystolicBP, 40, 300, "mmHg"},
	{domain.FieldDiastolicBP, 20, 200, "mmHg"},
	{domain.FieldBloodOxygen, 0, 100, "%"},
	{domain.FieldHeartRate, 20, 300, "bpm"},
	{domain.FieldBloodSugar, 0, 50, "mmol/L"},
	{domain.FieldBodyTemp, 25, 45, "°C"},
	{domain.FieldAge, 10, 60, "years"},
	{domain.FieldGestationalWeek, 0, 45, "weeks"},
}

// Validator checks submissions against plausibility bounds. It holds no
// mutable state and is safe for concurrent use.
type Validator struct {
	bounds []Bound
}

// NewValidator creates a validator using DefaultBounds.
func NewValidator() *Validator {
	return &Validator{bounds: DefaultBounds}
}

// Validate runs every check and collects all violations.
func (v *Validator) Validate(in domain.VitalsInput) Result {
	var violations []*domain.ValidationError
	reject := func(field, rule, msg string, value interface{}) {
		violations = append(violations, domain.NewValidationError(field, rule, msg, value))
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	switch {
	case key == "":
		reject(domain.FieldIdempotencyKey, RuleRequired, "is required", nil)
	case len(key) > MaxIdempotencyKeyLength:
		reject(domain.FieldIdempotencyKey, RuleMaxLength,
			fmt.Sprintf("must be at most %d characters", MaxIdempotencyKeyLength), len(key))
	}

	values := fieldValues(in)
	clean := make(map[string]float64, len(v.bounds))

	for _, b := range v.bounds {
		p := values[b.Field]
		if p == nil {
			reject(b.Field, RuleRequired, "is required", nil)
			continue
		}
		x := *p
		if math.IsNaN(x) || math.IsInf(x, 0) {
			reject(b.Field, RuleFinite, "must be a finite number", fmt.Sprint(x))
			continue
		}
		ok := true
		if x < 0 {
			reject(b.Field, RuleNonNegative, "must not be negative", x)
			ok = false
		}
		if x < b.Min || x > b.Max {
			reject(b.Field, RuleRange, fmt.Sprintf("must be within [%g, %g] %s", b.Min, b.Max, b.Unit), x)
			ok = false
		}
		if ok {
			clean[b.Field] = x
		}
	}

	sys, sysOK := clean[domain.FieldSystolicBP]
	dia, diaOK := clean[domain.FieldDiastolicBP]
	if sysOK && diaOK && sys <= dia {
		reject(domain.FieldSystolicBP, RuleSystolicAboveDiastolic,
			fmt.Sprintf("must be greater than diastolic (%g <= %g)", sys, dia), sys)
	}

	if len(violations) > 0 {
		return Rejected{Violations: violations}
	}

	return Accepted{Record: domain.VitalsRecord{
		IdempotencyKey:  key,
		SystolicBP:      clean[domain.FieldSystolicBP],
		DiastolicBP:     clean[domain.FieldDiastolicBP],
		BloodOxygen:     clean[domain.FieldBloodOxygen],
		HeartRate:       clean[domain.FieldHeartRate],
		BloodSugar:      clean[domain.FieldBloodSugar],
		BodyTemp:        clean[domain.FieldBodyTemp],
		Age:             clean[domain.FieldAge],
		GestationalWeek: clean[domain.FieldGestationalWeek],
	}}
}

func fieldValues(in domain.VitalsInput) map[string]*float64 {
	return map[string]*float64{
		domain.FieldSystolicBP:      in.SystolicBP,
		domain.FieldDiastolicBP:     in.DiastolicBP,
		domain.FieldBloodOxygen:     in.BloodOxygen,
		domain.FieldHeartRate:       in.HeartRate,
		domain.FieldBloodSugar:      in.BloodSugar,
		domain.FieldBodyTemp:        in.BodyTemp,
		domain.FieldAge:             in.Age,
		domain.FieldGestationalWeek: in.GestationalWeek,
	}
}

// IsSanitized reports whether r lies inside DefaultBounds with systolic above
// diastolic. Downstream layers use it to assert their input contract.
func IsSanitized(r domain.VitalsRecord) bool {
	values := map[string]float64{
		domain.FieldSystolicBP:      r.SystolicBP,
		domain.FieldDiastolicBP:     r.DiastolicBP,
		domain.FieldBloodOxygen:     r.BloodOxygen,
		domain.FieldHeartRate:       r.HeartRate,
		domain.FieldBloodSugar:      r.BloodSugar,
		domain.FieldBodyTemp:        r.BodyTemp,
		domain.FieldAge:             r.Age,
		domain.FieldGestationalWeek: r.GestationalWeek,
	}
	for _, b := range DefaultBounds {
		x := values[b.Field]
		if math.IsNaN(x) || x < b.Min || x > b.Max {
			return false
		}
	}
	return r.SystolicBP > r.DiastolicBP
}
