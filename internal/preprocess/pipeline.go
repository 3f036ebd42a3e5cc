package preprocess

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/bpread/internal/common"
	"github.com/MeKo-Tech/bpread/internal/raster"
)

// Step names used as keys in Meta.TimingsMs.
const (
	StepROI        = "roi"
	StepResize     = "resize"
	StepGrayscale  = "grayscale"
	StepContrast   = "contrast"
	StepDenoise    = "denoise"
	StepThreshold  = "threshold"
	StepInvert     = "invert"
	StepMorphology = "morphology"
)

// Pipeline runs the preprocessing steps. The zero value is ready to use.
type Pipeline struct {
	Clock common.Clock
}

// Run preprocesses img with the default pipeline.
func Run(img image.Image, opts Options) (*image.NRGBA, Meta) {
	return (&Pipeline{}).Run(img, opts)
}

// Run executes the steps in their fixed order. It never fails: a step that
// errors or panics is recorded in Meta.Warnings and the raster produced before
// it is returned. If the ROI step fails the untouched source is returned.
// The input image is never modified.
func (p *Pipeline) Run(img image.Image, opts Options) (*image.NRGBA, Meta) {
	clock := p.Clock
	if clock == nil {
		clock = common.SystemClock{}
	}
	meta := Meta{
		Preset:    opts.Preset,
		Threshold: -1,
		TimingsMs: make(map[string]float64),
	}
	if img == nil {
		meta.Warnings = append(meta.Warnings, "no input image")
		return nil, meta
	}

	r := &run{clock: clock, meta: &meta, current: raster.Clone(img)}

	if !opts.FullFrame {
		ok := r.step(StepROI, func(src *image.NRGBA) (*image.NRGBA, error) {
			var roi ROI
			if opts.ROI != nil {
				roi = opts.ROI.Clamp(src.Bounds(), opts.marginRatio())
			} else {
				roi = CenterROI(src.Bounds())
				meta.Warnings = append(meta.Warnings, WarnROIUnspecified)
			}
			meta.ROI = &roi
			return raster.Crop(src, roi.Rect())
		})
		if !ok {
			return r.finish()
		}
	}

	steps := []struct {
		name    string
		enabled bool
		fn      func(*image.NRGBA) (*image.NRGBA, error)
	}{
		{StepResize, true, func(src *image.NRGBA) (*image.NRGBA, error) {
			return raster.Resize(src, opts.maxEdge())
		}},
		{StepGrayscale, true, func(src *image.NRGBA) (*image.NRGBA, error) {
			return raster.Grayscale(src)
		}},
		{StepContrast, opts.contrastEnabled(), func(src *image.NRGBA) (*image.NRGBA, error) {
			return adjust(src, opts)
		}},
		{StepDenoise, opts.DenoiseRadius > 0, func(src *image.NRGBA) (*image.NRGBA, error) {
			return raster.Median(src, opts.DenoiseRadius)
		}},
		{StepThreshold, opts.Threshold != ThresholdNone, func(src *image.NRGBA) (*image.NRGBA, error) {
			return threshold(src, opts, &meta)
		}},
		{StepInvert, opts.Invert, func(src *image.NRGBA) (*image.NRGBA, error) {
			return raster.Invert(src)
		}},
		{StepMorphology, opts.morphIterations() > 0, func(src *image.NRGBA) (*image.NRGBA, error) {
			return raster.Morph(src, opts.Morphology, opts.morphIterations())
		}},
	}
	for _, s := range steps {
		if !s.enabled {
			continue
		}
		if !r.step(s.name, s.fn) {
			break
		}
	}
	return r.finish()
}

type run struct {
	clock   common.Clock
	meta    *Meta
	current *image.NRGBA
}

func (r *run) finish() (*image.NRGBA, Meta) {
	r.meta.Width = r.current.Bounds().Dx()
	r.meta.Height = r.current.Bounds().Dy()
	return r.current, *r.meta
}

// step runs fn on the current raster and replaces it on success.
func (r *run) step(name string, fn func(*image.NRGBA) (*image.NRGBA, error)) (ok bool) {
	stop := common.Timings(r.meta.TimingsMs).Track(name, r.clock)
	defer stop()
	defer func() {
		if rec := recover(); rec != nil {
			r.fail(name, fmt.Errorf("panic: %v", rec))
			ok = false
		}
	}()

	out, err := fn(r.current)
	if err != nil {
		r.fail(name, err)
		return false
	}
	if out == nil {
		r.fail(name, fmt.Errorf("step produced no raster"))
		return false
	}
	r.current = out
	r.meta.Steps = append(r.meta.Steps, name)
	return true
}

func (r *run) fail(name string, err error) {
	msg := fmt.Sprintf("%s step failed: %v", name, err)
	r.meta.Warnings = append(r.meta.Warnings, msg)
	slog.Warn("preprocessing step failed", "step", name, "preset", r.meta.Preset.String(), "error", err)
}

func adjust(src *image.NRGBA, opts Options) (*image.NRGBA, error) {
	out := src
	var err error
	if opts.HighlightCeiling > 0 {
		if out, err = raster.ClampHighlights(out, opts.HighlightCeiling, opts.HighlightValue); err != nil {
			return nil, err
		}
	}
	if (opts.Contrast != 0 && opts.Contrast != 1) || opts.Brightness != 0 {
		if out, err = raster.AdjustLinear(out, opts.Contrast, opts.Brightness); err != nil {
			return nil, err
		}
	}
	if opts.Sharpen > 0 {
		if out, err = raster.Sharpen(out, opts.Sharpen); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func threshold(src *image.NRGBA, opts Options, meta *Meta) (*image.NRGBA, error) {
	switch opts.Threshold {
	case ThresholdOtsu:
		t := raster.Otsu(src)
		meta.Threshold = int(t)
		return raster.Binarize(src, t)
	case ThresholdAdaptive:
		c := opts.AdaptiveC
		if c == 0 {
			c = DefaultAdaptiveC
		}
		return raster.AdaptiveThreshold(src, opts.AdaptiveWindow, c)
	case ThresholdNone:
	}
	return nil, fmt.Errorf("unsupported threshold mode %s", opts.Threshold)
}
