package domain

// Feature names in model input order. A model artifact must list exactly these.
var FeatureNames = []string{
	FieldAge,
	FieldSystolicBP,
	FieldDiastolicBP,
	FieldBloodSugar,
	FieldBodyTemp,
	FieldHeartRate,
	FieldBloodOxygen,
	FieldGestationalWeek,
}

// NumFeatures is the fixed classifier input width.
const NumFeatures = 8

// FeatureVector is the fixed-shape classifier input derived from a VitalsRecord.
type FeatureVector [NumFeatures]float64

// NewFeatureVector lays out a record in FeatureNames order.
func NewFeatureVector(r VitalsRecord) FeatureVector {
	return FeatureVector{
		r.Age,
		r.SystolicBP,
		r.DiastolicBP,
		r.BloodSugar,
		r.BodyTemp,
		r.HeartRate,
		r.BloodOxygen,
		r.GestationalWeek,
	}
}
