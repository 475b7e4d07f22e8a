package series

import (
	"time"
)

// Measurement names used across the pipeline.
const (
	MeasurementVitals     = "vitals"
	MeasurementLocation   = "location"
	MeasurementSummary    = "daily-summary"
	MeasurementAssessment = "risk-assessment"
)

// Point is one time-stamped, subject-tagged write of named fields to a
// measurement. Field values are float64 or string.
type Point struct {
	Measurement string
	SubjectID   string
	Timestamp   time.Time
	Fields      map[string]any
}

// Record is the read-side view: all fields written at the same
// timestamp for a measurement, merged.
type Record struct {
	Timestamp time.Time
	Fields    map[string]any
}

// Float returns the named numeric field and whether it was present as
// a number.
func (r Record) Float(name string) (float64, bool) {
	v, ok := r.Fields[name]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// String returns the named string field and whether it was present.
func (r Record) String(name string) (string, bool) {
	v, ok := r.Fields[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
