// Package preprocess turns a photographed meter display into a candidate
// raster for text recognition. Run applies a fixed sequence of steps
// (ROI crop, resize, grayscale, contrast, denoise, threshold, invert,
// morphology) driven by Options, usually taken from a catalog Preset.
package preprocess

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/bpread/internal/raster"
)

const (
	// DefaultMaxEdge caps the longest edge after resizing.
	DefaultMaxEdge = 960
	// DefaultMarginRatio expands a supplied ROI on every side.
	DefaultMarginRatio = 0.03
	// DefaultAdaptiveC is subtracted from the local mean in adaptive mode.
	DefaultAdaptiveC = 10
	// MaxMorphIterations bounds the morphology step.
	MaxMorphIterations = 2
)

// ThresholdMode selects the binarization step.
type ThresholdMode int

const (
	ThresholdNone ThresholdMode = iota
	ThresholdOtsu
	ThresholdAdaptive
)

func (m ThresholdMode) String() string {
	switch m {
	case ThresholdNone:
		return "none"
	case ThresholdOtsu:
		return "otsu"
	case ThresholdAdaptive:
		return "adaptive"
	}
	return fmt.Sprintf("ThresholdMode(%d)", int(m))
}

// ParseThresholdMode parses "none", "otsu" or "adaptive".
func ParseThresholdMode(s string) (ThresholdMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ThresholdNone, nil
	case "otsu":
		return ThresholdOtsu, nil
	case "adaptive":
		return ThresholdAdaptive, nil
	}
	return ThresholdNone, fmt.Errorf("unknown threshold mode: %q", s)
}

// MarshalText encodes the mode by name.
func (m ThresholdMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *ThresholdMode) UnmarshalText(text []byte) error {
	parsed, err := ParseThresholdMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Options parameterizes one pipeline run. Zero values disable optional steps.
type Options struct {
	Preset Preset `json:"preset" yaml:"preset"`

	Threshold      ThresholdMode `json:"threshold" yaml:"threshold"`
	AdaptiveWindow int           `json:"adaptive_window,omitempty" yaml:"adaptive_window,omitempty"`
	AdaptiveC      float64       `json:"adaptive_c,omitempty" yaml:"adaptive_c,omitempty"`

	// Contrast of 0 or 1 leaves contrast unchanged.
	Contrast   float64 `json:"contrast,omitempty" yaml:"contrast,omitempty"`
	Brightness float64 `json:"brightness,omitempty" yaml:"brightness,omitempty"`
	Sharpen    float64 `json:"sharpen,omitempty" yaml:"sharpen,omitempty"`

	// HighlightCeiling of 0 disables highlight suppression.
	HighlightCeiling uint8 `json:"highlight_ceiling,omitempty" yaml:"highlight_ceiling,omitempty"`
	HighlightValue   uint8 `json:"highlight_value,omitempty" yaml:"highlight_value,omitempty"`

	DenoiseRadius int `json:"denoise_radius,omitempty" yaml:"denoise_radius,omitempty"`

	Invert          bool                   `json:"invert,omitempty" yaml:"invert,omitempty"`
	Morphology      raster.MorphologicalOp `json:"morphology,omitempty" yaml:"morphology,omitempty"`
	MorphIterations int                    `json:"morph_iterations,omitempty" yaml:"morph_iterations,omitempty"`

	MaxEdge     int     `json:"max_edge,omitempty" yaml:"max_edge,omitempty"`
	MarginRatio float64 `json:"margin_ratio,omitempty" yaml:"margin_ratio,omitempty"`
	ROI         *ROI    `json:"roi,omitempty" yaml:"roi,omitempty"`
	// FullFrame skips the ROI step entirely (no center-crop fallback).
	FullFrame bool `json:"full_frame,omitempty" yaml:"full_frame,omitempty"`
}

func (o Options) contrastEnabled() bool {
	return (o.Contrast != 0 && o.Contrast != 1) || o.Brightness != 0 || o.Sharpen > 0 || o.HighlightCeiling > 0
}

func (o Options) maxEdge() int {
	if o.MaxEdge <= 0 {
		return DefaultMaxEdge
	}
	return o.MaxEdge
}

func (o Options) marginRatio() float64 {
	switch {
	case o.MarginRatio < 0:
		return 0
	case o.MarginRatio == 0:
		return DefaultMarginRatio
	}
	return o.MarginRatio
}

func (o Options) morphIterations() int {
	if o.Morphology == raster.MorphNone {
		return 0
	}
	return min(max(o.MorphIterations, 1), MaxMorphIterations)
}

// Meta describes what a pipeline run did.
type Meta struct {
	Preset    Preset             `json:"preset"`
	ROI       *ROI               `json:"roi,omitempty"`
	Threshold int                `json:"threshold"`
	Steps     []string           `json:"steps"`
	TimingsMs map[string]float64 `json:"timings_ms"`
	Warnings  []string           `json:"warnings,omitempty"`
	Width     int                `json:"width"`
	Height    int                `json:"height"`
}
