package model

// PatientSnapshot is a patient with their most recent readings, newest first.
// It is the unit written by exports.
type PatientSnapshot struct {
	PatientID     string    `json:"patient_id"`
	Name          string    `json:"name"`
	Age           int       `json:"age,omitempty"`
	Condition     string    `json:"condition,omitempty"`
	ThresholdHigh float64   `json:"threshold_high"`
	ThresholdLow  float64   `json:"threshold_low"`
	Readings      []Reading `json:"readings"`
}

// NewSnapshot pairs p with rs.
func NewSnapshot(p Patient, rs []Reading) PatientSnapshot {
	if rs == nil {
		rs = []Reading{}
	}
	return PatientSnapshot{
		PatientID:     p.PatientID,
		Name:          p.Name,
		Age:           p.Age,
		Condition:     p.Condition,
		ThresholdHigh: p.ThresholdHigh,
		ThresholdLow:  p.ThresholdLow,
		Readings:      rs,
	}
}
