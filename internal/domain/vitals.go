package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// VitalsInput is an untrusted submission as received at the system boundary.
// Every measurement is optional so that missing fields can be reported.
type VitalsInput struct {
	IdempotencyKey  string   `json:"idempotency_key"`
	SystolicBP      *float64 `json:"systolic_bp"`
	DiastolicBP     *float64 `json:"diastolic_bp"`
	BloodOxygen     *float64 `json:"blood_oxygen"`
	HeartRate       *float64 `json:"heart_rate"`
	BloodSugar      *float64 `json:"blood_sugar"`
	BodyTemp        *float64 `json:"body_temp"`
	Age             *float64 `json:"age"`
	GestationalWeek *float64 `json:"gestational_weeks"`
}

// VitalsRecord is a sanitized set of measurements. Only the validator builds
// one; it is passed by value and never mutated.
type VitalsRecord struct {
	IdempotencyKey  string  `json:"idempotency_key"`
	SystolicBP      float64 `json:"systolic_bp"`       // mmHg
	DiastolicBP     float64 `json:"diastolic_bp"`      // mmHg
	BloodOxygen     float64 `json:"blood_oxygen"`      // SpO2 %
	HeartRate       float64 `json:"heart_rate"`        // bpm
	BloodSugar      float64 `json:"blood_sugar"`       // mmol/L
	BodyTemp        float64 `json:"body_temp"`         // °C
	Age             float64 `json:"age"`               // years
	GestationalWeek float64 `json:"gestational_weeks"` // weeks
}

// Vital field names, shared by validation, rules, features and the wire format.
const (
	FieldIdempotencyKey  = "idempotency_key"
	FieldSystolicBP      = "systolic_bp"
	FieldDiastolicBP     = "diastolic_bp"
	FieldBloodOxygen     = "blood_oxygen"
	FieldHeartRate       = "heart_rate"
	FieldBloodSugar      = "blood_sugar"
	FieldBodyTemp        = "body_temp"
	FieldAge             = "age"
	FieldGestationalWeek = "gestational_weeks"
)

// Float is a helper for building VitalsInput literals.
func Float(v float64) *float64 {
	return &v
}

// Input converts a record back into boundary form, mostly for tests and replays.
func (r VitalsRecord) Input() VitalsInput {
	return VitalsInput{
		IdempotencyKey:  r.IdempotencyKey,
		SystolicBP:      Float(r.SystolicBP),
		DiastolicBP:     Float(r.DiastolicBP),
		BloodOxygen:     Float(r.BloodOxygen),
		HeartRate:       Float(r.HeartRate),
		BloodSugar:      Float(r.BloodSugar),
		BodyTemp:        Float(r.BodyTemp),
		Age:             Float(r.Age),
		GestationalWeek: Float(r.GestationalWeek),
	}
}

// Fingerprint returns a SHA-256 digest of the measurements, excluding the
// idempotency key, in a fixed field order.
func (r VitalsRecord) Fingerprint() string {
	canonical := fmt.Sprintf("%g|%g|%g|%g|%g|%g|%g|%g",
		r.SystolicBP, r.DiastolicBP, r.BloodOxygen, r.HeartRate,
		r.BloodSugar, r.BodyTemp, r.Age, r.GestationalWeek)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
