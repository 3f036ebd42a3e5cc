// Package explore runs repeated preprocess/recognize/extract/score attempts
// against a time and attempt budget and selects the best reading.
package explore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/bpread/internal/preprocess"
	"github.com/MeKo-Tech/bpread/internal/recognizer"
)

// Resolution levels: the longest image edge after resizing.
const (
	ResolutionLow    = 640
	ResolutionMedium = 960
	ResolutionHigh   = 1280
)

// Step is one entry of the exploration order.
type Step struct {
	Resolution int               `json:"resolution" yaml:"resolution"`
	Preset     preprocess.Preset `json:"preset" yaml:"preset"`
	Mode       recognizer.Mode   `json:"mode" yaml:"mode"`
}

func (s Step) String() string {
	return fmt.Sprintf("%d/%s/psm%d", s.Resolution, s.Preset, int(s.Mode))
}

// ParseStep parses the String form, e.g. "960/A/psm6". The mode may also be
// given by name ("960/A/single-line").
func ParseStep(s string) (Step, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return Step{}, fmt.Errorf("invalid step %q (want resolution/preset/mode)", s)
	}
	res, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || res <= 0 {
		return Step{}, fmt.Errorf("invalid step %q: bad resolution", s)
	}
	preset, err := preprocess.ParsePreset(parts[1])
	if err != nil {
		return Step{}, fmt.Errorf("invalid step %q: %w", s, err)
	}
	mode, err := recognizer.ParseMode(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(parts[2])), "psm"))
	if err != nil {
		return Step{}, fmt.Errorf("invalid step %q: %w", s, err)
	}
	return Step{Resolution: res, Preset: preset, Mode: mode}, nil
}

// ParseOrder parses a list of steps. An empty list yields DefaultOrder.
func ParseOrder(steps []string) ([]Step, error) {
	if len(steps) == 0 {
		return DefaultOrder(), nil
	}
	out := make([]Step, 0, len(steps))
	for _, raw := range steps {
		st, err := ParseStep(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Options returns the pipeline options for the step.
func (s Step) Options() preprocess.Options {
	opts := s.Preset.Options()
	opts.MaxEdge = s.Resolution
	return opts
}

// DefaultOrder returns the exploration order: the common presets at medium
// resolution first, then high resolution for small displays, then low
// resolution with grayscale-only presets.
func DefaultOrder() []Step {
	const (
		block  = recognizer.ModeSingleBlock
		line   = recognizer.ModeSingleLine
		sparse = recognizer.ModeSparse
		column = recognizer.ModeSingleColumn
	)
	return []Step{
		{ResolutionMedium, preprocess.PresetA, block},
		{ResolutionMedium, preprocess.PresetD, block},
		{ResolutionMedium, preprocess.PresetA, line},
		{ResolutionMedium, preprocess.PresetB, block},
		{ResolutionMedium, preprocess.PresetG, block},
		{ResolutionMedium, preprocess.PresetJ, block},
		{ResolutionMedium, preprocess.PresetF, block},
		{ResolutionMedium, preprocess.PresetD, sparse},
		{ResolutionMedium, preprocess.PresetE, block},

		{ResolutionHigh, preprocess.PresetA, block},
		{ResolutionHigh, preprocess.PresetD, block},
		{ResolutionHigh, preprocess.PresetC, block},
		{ResolutionHigh, preprocess.PresetH, block},
		{ResolutionHigh, preprocess.PresetM, line},

		{ResolutionLow, preprocess.PresetA, block},
		{ResolutionLow, preprocess.PresetK, block},
		{ResolutionLow, preprocess.PresetI, block},
		{ResolutionLow, preprocess.PresetL, column},
		{ResolutionLow, preprocess.PresetA, sparse},
	}
}
