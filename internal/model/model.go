package model

import "time"

// Default per-patient glucose thresholds in mg/dL.
const (
	DefaultThresholdHigh float64 = 180
	DefaultThresholdLow  float64 = 70
)

// Patient is a registered patient with personal alert thresholds.
type Patient struct {
	PatientID     string  `gorm:"column:patient_id;primaryKey" json:"patient_id"`
	Name          string  `gorm:"column:name;not null" json:"name"`
	Age           int     `gorm:"column:age" json:"age,omitempty"`
	Condition     string  `gorm:"column:condition" json:"condition,omitempty"`
	ThresholdHigh float64 `gorm:"column:threshold_high;default:180" json:"threshold_high"`
	ThresholdLow  float64 `gorm:"column:threshold_low;default:70" json:"threshold_low"`

	// Readings owns the readings.patient_id foreign key.
	Readings []Reading `gorm:"foreignKey:PatientID;references:PatientID" json:"readings,omitempty"`
}

func (Patient) TableName() string { return "patients" }

// ApplyDefaults fills zero thresholds with the package defaults.
func (p *Patient) ApplyDefaults() {
	if p.ThresholdHigh == 0 {
		p.ThresholdHigh = DefaultThresholdHigh
	}
	if p.ThresholdLow == 0 {
		p.ThresholdLow = DefaultThresholdLow
	}
}

// Reading is one timestamped glucose measurement. Rows are append-only.
// Timestamp is an ISO-8601 string in TimestampLayout.
type Reading struct {
	ID           uint    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PatientID    string  `gorm:"column:patient_id;not null;index:idx_readings_patient_ts,priority:1" json:"patient_id"`
	GlucoseLevel float64 `gorm:"column:glucose_level;not null" json:"glucose_level"`
	Timestamp    string  `gorm:"column:timestamp;not null;index:idx_readings_patient_ts,priority:2" json:"timestamp"`
}

func (Reading) TableName() string { return "readings" }

// TimestampLayout is fixed width so lexical order matches time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string { return t.UTC().Format(TimestampLayout) }

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) { return time.Parse(TimestampLayout, s) }

// Time returns the parsed reading timestamp, or the zero time if it is malformed.
func (r Reading) Time() time.Time {
	t, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}
