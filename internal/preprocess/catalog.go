package preprocess

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/bpread/internal/raster"
)

// Preset identifies one catalog entry. The set is closed: every Preset value
// between PresetA and PresetM has options, nothing else does.
type Preset int

const (
	PresetA Preset = iota // plain Otsu
	PresetB               // contrast-boosted Otsu
	PresetC               // edge-enhanced Otsu
	PresetD               // adaptive threshold for unevenly lit LCDs
	PresetE               // adaptive threshold after median denoise
	PresetF               // bright-on-dark: Otsu, invert, thicken
	PresetG               // glare: highlight clamp, Otsu
	PresetH               // glare + contrast, adaptive
	PresetI               // glare + median, Otsu, speckle removal
	PresetJ               // grayscale only
	PresetK               // grayscale + contrast
	PresetL               // grayscale + highlight clamp
	PresetM               // thin strokes: Otsu, thicken twice

	presetCount int = iota
)

const (
	glareCeiling = 230
	glareValue   = 200
)

// Presets returns every catalog entry in order.
func Presets() []Preset {
	out := make([]Preset, presetCount)
	for i := range out {
		out[i] = Preset(i)
	}
	return out
}

// Valid reports whether p names a catalog entry.
func (p Preset) Valid() bool {
	return p >= PresetA && int(p) < presetCount
}

func (p Preset) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Preset(%d)", int(p))
	}
	return string(rune('A' + int(p)))
}

// ParsePreset parses a preset letter, case-insensitively.
func ParsePreset(s string) (Preset, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) == 1 {
		p := Preset(int(s[0]) - 'A')
		if p.Valid() {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown preset %q (want A-%s)", s, Preset(presetCount-1))
}

// MarshalText encodes the preset letter.
func (p Preset) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a preset letter.
func (p *Preset) UnmarshalText(text []byte) error {
	parsed, err := ParsePreset(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Description summarizes the imaging condition the preset targets.
func (p Preset) Description() string {
	switch p {
	case PresetA:
		return "plain Otsu threshold"
	case PresetB:
		return "contrast-boosted Otsu"
	case PresetC:
		return "edge-enhanced (sharpened) Otsu"
	case PresetD:
		return "adaptive threshold for unevenly lit LCDs"
	case PresetE:
		return "median denoise + adaptive threshold"
	case PresetF:
		return "bright-on-dark display: Otsu, invert, thicken strokes"
	case PresetG:
		return "glare suppression + Otsu"
	case PresetH:
		return "glare suppression + contrast + adaptive threshold"
	case PresetI:
		return "glare suppression + median + Otsu + speckle removal"
	case PresetJ:
		return "grayscale only, binarization left to the engine"
	case PresetK:
		return "grayscale + contrast, binarization left to the engine"
	case PresetL:
		return "grayscale + glare suppression, binarization left to the engine"
	case PresetM:
		return "thin strokes: Otsu, thicken strokes twice"
	}
	return "unknown preset"
}

// Options returns the parameter bundle of the preset. Dark strokes on a light
// background are thickened with erosion (the darker neighbour wins) and
// cleaned of dark speckles with dilation.
func (p Preset) Options() Options {
	o := Options{Preset: p}
	switch p {
	case PresetA:
		o.Threshold = ThresholdOtsu
	case PresetB:
		o.Threshold = ThresholdOtsu
		o.Contrast = 1.6
		o.Brightness = -20
	case PresetC:
		o.Threshold = ThresholdOtsu
		o.Sharpen = 1.5
	case PresetD:
		o.Threshold = ThresholdAdaptive
		o.AdaptiveWindow = raster.DefaultAdaptiveWindow
		o.AdaptiveC = DefaultAdaptiveC
	case PresetE:
		o.Threshold = ThresholdAdaptive
		o.AdaptiveWindow = raster.DefaultAdaptiveWindow
		o.AdaptiveC = DefaultAdaptiveC
		o.DenoiseRadius = 1
	case PresetF:
		o.Threshold = ThresholdOtsu
		o.Invert = true
		o.Morphology = raster.MorphErode
		o.MorphIterations = 1
	case PresetG:
		o.Threshold = ThresholdOtsu
		o.HighlightCeiling = glareCeiling
		o.HighlightValue = glareValue
	case PresetH:
		o.Threshold = ThresholdAdaptive
		o.AdaptiveWindow = raster.DefaultAdaptiveWindow
		o.AdaptiveC = DefaultAdaptiveC
		o.HighlightCeiling = glareCeiling
		o.HighlightValue = glareValue
		o.Contrast = 1.4
	case PresetI:
		o.Threshold = ThresholdOtsu
		o.HighlightCeiling = glareCeiling
		o.HighlightValue = glareValue
		o.DenoiseRadius = 1
		o.Morphology = raster.MorphDilate
		o.MorphIterations = 1
	case PresetJ:
		o.Threshold = ThresholdNone
	case PresetK:
		o.Threshold = ThresholdNone
		o.Contrast = 1.5
	case PresetL:
		o.Threshold = ThresholdNone
		o.HighlightCeiling = glareCeiling
		o.HighlightValue = glareValue
	case PresetM:
		o.Threshold = ThresholdOtsu
		o.Morphology = raster.MorphErode
		o.MorphIterations = 2
	}
	return o
}
