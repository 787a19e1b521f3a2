// Package evidence defines the per-criterion measurements that collectors hand
// to the scoring engine. Records are plain data and are treated as immutable
// once produced.
package evidence

import (
	"encoding/json"
	"fmt"
)

// Status is the tri-state availability of a measurement.
type Status string

const (
	StatusKnown         Status = "known"
	StatusUnknown       Status = "unknown"
	StatusNotApplicable Status = "not_applicable"
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusKnown, StatusUnknown, StatusNotApplicable:
		return true
	}
	return false
}

// Method describes how a value was obtained.
type Method string

const (
	MethodMeasured  Method = "measured"
	MethodHeuristic Method = "heuristic"
)

// Valid reports whether m is one of the defined methods.
func (m Method) Valid() bool {
	return m == MethodMeasured || m == MethodHeuristic
}

// DefaultConfidence is the confidence assumed when a collector omits one.
func DefaultConfidence(m Method) float64 {
	if m == MethodHeuristic {
		return 0.6
	}
	return 0.85
}

// Record is one collector's measurement for one criterion.
type Record struct {
	CriterionID string  `json:"criterion_id"`
	RawValue    Value   `json:"raw_value"`
	Status      Status  `json:"status"`
	Method      Method  `json:"method"`
	Confidence  float64 `json:"confidence"`
	Note        string  `json:"note,omitempty"`
}

// Known builds a known record with an explicit confidence.
func Known(criterionID string, v Value, m Method, confidence float64) Record {
	return Record{CriterionID: criterionID, RawValue: v, Status: StatusKnown, Method: m, Confidence: confidence}
}

// Unknown builds a record for a criterion the collector could not measure.
func Unknown(criterionID, note string) Record {
	return Record{CriterionID: criterionID, Status: StatusUnknown, Method: MethodHeuristic, Note: note}
}

// NotApplicable builds a record the collector considers irrelevant.
func NotApplicable(criterionID, note string) Record {
	return Record{CriterionID: criterionID, Status: StatusNotApplicable, Method: MethodHeuristic, Note: note}
}

// Check returns a description of the first malformed field, or "" if the
// record is well formed.
func (r Record) Check() string {
	switch {
	case !r.Status.Valid():
		return fmt.Sprintf("invalid status %q", r.Status)
	case r.Method != "" && !r.Method.Valid():
		return fmt.Sprintf("invalid method %q", r.Method)
	case r.Confidence < 0 || r.Confidence > 1:
		return fmt.Sprintf("confidence %.3f outside [0, 1]", r.Confidence)
	case r.Status == StatusKnown && r.RawValue.IsNone():
		return "known status without a raw value"
	}
	return ""
}

// UnmarshalJSON fills in defaults for fields collectors commonly omit:
// status defaults to known when a value is present, method to heuristic,
// and confidence to the method's default.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Record(aux.plain)
	if r.Status == "" {
		if r.RawValue.IsNone() {
			r.Status = StatusUnknown
		} else {
			r.Status = StatusKnown
		}
	}
	if r.Method == "" {
		r.Method = MethodHeuristic
	}
	if aux.Confidence != nil {
		r.Confidence = *aux.Confidence
	} else {
		r.Confidence = DefaultConfidence(r.Method)
	}
	return nil
}
