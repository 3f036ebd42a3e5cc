package explore

import (
	"math"
	"slices"
	"sync"

	"github.com/MeKo-Tech/bpread/internal/vitals"
)

// Weights combine the engine confidence with the structural extraction score.
type Weights struct {
	OCR     float64 `json:"ocr" yaml:"ocr" mapstructure:"ocr"`
	Extract float64 `json:"extract" yaml:"extract" mapstructure:"extract"`
}

// DefaultWeights returns the 0.4/0.6 split.
func DefaultWeights() Weights {
	return Weights{OCR: 0.4, Extract: 0.6}
}

// Extraction score terms.
const (
	bonusSystolicInRange  = 20
	bonusDiastolicInRange = 20
	bonusPulseInRange     = 10
	bonusOrder            = 20
	bonusTypical          = 5
	bonusSeparator        = 10
	bonusMarker           = 5

	penaltyMissingSystolic  = 30
	penaltyMissingDiastolic = 30
	penaltyMissingPulse     = 15
	penaltyOutlier          = 10

	// An outlier differs from the median of earlier values by more than
	// max(outlierMinDelta, outlierRatio*median).
	outlierMinDelta   = 10
	outlierRatio      = 0.2
	outlierMinHistory = 2
)

// ScoreBreakdown records every term that went into a score.
type ScoreBreakdown struct {
	OCR       float64 `json:"ocr"`
	InRange   float64 `json:"in_range"`
	Order     float64 `json:"order"`
	Typical   float64 `json:"typical"`
	Separator float64 `json:"separator"`
	Marker    float64 `json:"marker"`
	Missing   float64 `json:"missing"`
	Outliers  float64 `json:"outliers"`
	Extract   float64 `json:"extract"`
	Total     float64 `json:"total"`
}

// Scorer turns an attempt's confidence and extraction into a comparable
// score. It remembers the values of earlier attempts in the same run for the
// outlier penalty. Safe for concurrent use.
type Scorer struct {
	weights Weights

	mu      sync.Mutex
	history [3][]int
}

// NewScorer creates a scorer with the given weights.
func NewScorer(w Weights) *Scorer {
	if w.OCR == 0 && w.Extract == 0 {
		w = DefaultWeights()
	}
	return &Scorer{weights: w}
}

// Score computes the breakdown without recording the values.
func (s *Scorer) Score(rawConfidence float64, v vitals.Vitals, ev vitals.Evidence) ScoreBreakdown {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score(rawConfidence, v, ev)
}

// Observe scores the attempt and then records its values for later outlier
// checks.
func (s *Scorer) Observe(rawConfidence float64, v vitals.Vitals, ev vitals.Evidence) ScoreBreakdown {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.score(rawConfidence, v, ev)
	for i, val := range fields(v) {
		if val != nil {
			s.history[i] = append(s.history[i], *val)
		}
	}
	return b
}

// Reset forgets the recorded history.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = [3][]int{}
}

func fields(v vitals.Vitals) [3]*int {
	return [3]*int{v.Systolic, v.Diastolic, v.Pulse}
}

func (s *Scorer) score(rawConfidence float64, v vitals.Vitals, ev vitals.Evidence) ScoreBreakdown {
	var b ScoreBreakdown
	b.OCR = math.Min(math.Max(rawConfidence, 0), 100)

	ranges := [3]vitals.Range{vitals.SystolicRange, vitals.DiastolicRange, vitals.PulseRange}
	typical := [3]vitals.Range{vitals.TypicalSystolic, vitals.TypicalDiastolic, vitals.TypicalPulse}
	inRange := [3]float64{bonusSystolicInRange, bonusDiastolicInRange, bonusPulseInRange}
	missing := [3]float64{penaltyMissingSystolic, penaltyMissingDiastolic, penaltyMissingPulse}

	for i, val := range fields(v) {
		if val == nil {
			b.Missing -= missing[i]
			continue
		}
		if ranges[i].Contains(*val) {
			b.InRange += inRange[i]
		}
		if typical[i].Contains(*val) {
			b.Typical += bonusTypical
		}
		if isOutlier(*val, s.history[i]) {
			b.Outliers -= penaltyOutlier
		}
	}
	if v.HasPair() && *v.Systolic > *v.Diastolic {
		b.Order = bonusOrder
	}
	if ev.SeparatorFound {
		b.Separator = bonusSeparator
	}
	if ev.MarkerFound {
		b.Marker = bonusMarker
	}

	extract := b.InRange + b.Order + b.Typical + b.Separator + b.Marker + b.Missing + b.Outliers
	b.Extract = math.Min(math.Max(extract, 0), 100)
	b.Total = s.weights.OCR*b.OCR + s.weights.Extract*b.Extract
	return b
}

func isOutlier(v int, history []int) bool {
	if len(history) < outlierMinHistory {
		return false
	}
	sorted := slices.Clone(history)
	slices.Sort(sorted)
	var median float64
	n := len(sorted)
	if n%2 == 1 {
		median = float64(sorted[n/2])
	} else {
		median = float64(sorted[n/2-1]+sorted[n/2]) / 2
	}
	limit := math.Max(outlierMinDelta, outlierRatio*median)
	return math.Abs(float64(v)-median) > limit
}
