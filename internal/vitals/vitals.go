// Package vitals parses recognized display text into systolic, diastolic and
// pulse readings and grades how far they can be trusted.
package vitals

import (
	"fmt"
	"strconv"
)

// Range is an inclusive integer interval.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether v lies in r.
func (r Range) Contains(v int) bool { return v >= r.Min && v <= r.Max }

func (r Range) String() string { return fmt.Sprintf("[%d,%d]", r.Min, r.Max) }

// Physiological ranges accepted for each field.
var (
	SystolicRange  = Range{Min: 50, Max: 250}
	DiastolicRange = Range{Min: 30, Max: 150}
	PulseRange     = Range{Min: 40, Max: 200}
)

// Typical sub-ranges most real readings fall into.
var (
	TypicalSystolic  = Range{Min: 90, Max: 180}
	TypicalDiastolic = Range{Min: 50, Max: 110}
	TypicalPulse     = Range{Min: 50, Max: 120}
)

// Level grades the overall confidence.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Level thresholds on the 0-100 confidence scale.
const (
	HighConfidence   = 80
	MediumConfidence = 60
)

// LevelFor maps a confidence to its level.
func LevelFor(confidence float64) Level {
	switch {
	case confidence >= HighConfidence:
		return LevelHigh
	case confidence >= MediumConfidence:
		return LevelMedium
	}
	return LevelLow
}

// FieldConfidence holds a 0-100 confidence per field.
type FieldConfidence struct {
	Systolic  float64 `json:"systolic"`
	Diastolic float64 `json:"diastolic"`
	Pulse     float64 `json:"pulse"`
}

// Vitals is one validated reading. When both Systolic and Diastolic are set,
// Systolic > Diastolic.
type Vitals struct {
	Systolic        *int            `json:"systolic"`
	Diastolic       *int            `json:"diastolic"`
	Pulse           *int            `json:"pulse"`
	Confidence      float64         `json:"confidence"`
	FieldConfidence FieldConfidence `json:"field_confidence"`
	Level           Level           `json:"confidence_level"`
	NeedsReview     bool            `json:"needs_review"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// HasPair reports whether both blood-pressure values are present.
func (v Vitals) HasPair() bool {
	return v.Systolic != nil && v.Diastolic != nil
}

// Complete reports whether all three fields are present.
func (v Vitals) Complete() bool {
	return v.HasPair() && v.Pulse != nil
}

// Summary renders the reading as "120/80 72", with "-" for missing fields.
func (v Vitals) Summary() string {
	return fmt.Sprintf("%s/%s %s", show(v.Systolic), show(v.Diastolic), show(v.Pulse))
}

func show(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

// finalize derives the overall confidence, level and review flag.
func (v *Vitals) finalize() {
	var sum float64
	n := 0
	if v.Systolic != nil {
		sum += v.FieldConfidence.Systolic
		n++
	}
	if v.Diastolic != nil {
		sum += v.FieldConfidence.Diastolic
		n++
	}
	v.Confidence = 0
	if n > 0 {
		v.Confidence = sum / float64(n)
	}
	v.Level = LevelFor(v.Confidence)
	v.NeedsReview = v.Level != LevelHigh || !v.HasPair()
}

func (v *Vitals) warn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// Empty returns vitals with no fields, finalized as a low-confidence
// reading that needs review.
func Empty() Vitals {
	var v Vitals
	v.finalize()
	return v
}

func intPtr(v int) *int { return &v }

// FromValues validates readings decoded outside the text path (for example
// by the seven-segment decoder). Every present field gets conf.
func FromValues(sys, dia, pulse *int, conf float64) Vitals {
	var v Vitals
	c := candidates{}
	if sys != nil {
		c.sys = intPtr(*sys)
	}
	if dia != nil {
		c.dia = intPtr(*dia)
	}
	if pulse != nil {
		c.pulse = intPtr(*pulse)
	}
	c.apply(&v)
	if v.Systolic != nil {
		v.FieldConfidence.Systolic = conf
	}
	if v.Diastolic != nil {
		v.FieldConfidence.Diastolic = conf
	}
	if v.Pulse != nil {
		v.FieldConfidence.Pulse = conf
	}
	v.finalize()
	return v
}

// candidates are raw field values before validation.
type candidates struct {
	sys, dia, pulse *int
}

// apply validates ranges and ordering and stores the survivors in v.
// Candidates keep their positions; a diastolic that is not below the
// systolic is dropped.
func (c *candidates) apply(v *Vitals) {
	v.Systolic = checkRange(v, "systolic", c.sys, SystolicRange)
	v.Diastolic = checkRange(v, "diastolic", c.dia, DiastolicRange)
	v.Pulse = checkRange(v, "pulse", c.pulse, PulseRange)

	if v.Systolic != nil && v.Diastolic != nil && *v.Systolic <= *v.Diastolic {
		v.warn("diastolic %d not below systolic %d: discarded", *v.Diastolic, *v.Systolic)
		v.Diastolic = nil
	}
}

func checkRange(v *Vitals, field string, val *int, r Range) *int {
	if val == nil {
		return nil
	}
	if !r.Contains(*val) {
		v.warn("%s %d out of range %s", field, *val, r)
		return nil
	}
	return val
}
