package preprocess

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/bpread/internal/raster"
)

type tickClock struct {
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// displayImage draws a dark bar on a light, slightly tinted background.
func displayImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := color.NRGBA{R: 200, G: 210, B: 190, A: 255}
			if x > w/3 && x < 2*w/3 && y > h/3 && y < 2*h/3 {
				c = color.NRGBA{R: 30, G: 35, B: 25, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func isBinary(img *image.NRGBA) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if v := raster.Luma(img, x, y); v != 0 && v != 255 {
				return false
			}
		}
	}
	return true
}

func TestRunNilImage(t *testing.T) {
	out, meta := Run(nil, PresetA.Options())
	assert.Nil(t, out)
	assert.Contains(t, meta.Warnings, "no input image")
}

func TestRunCenterCropFallback(t *testing.T) {
	out, meta := Run(displayImage(200, 100), PresetJ.Options())
	require.NotNil(t, out)

	assert.Contains(t, meta.Warnings, WarnROIUnspecified)
	require.NotNil(t, meta.ROI)
	assert.Equal(t, ROI{X: 56, Y: 28, Width: 88, Height: 44}, *meta.ROI)
	assert.Equal(t, 88, out.Bounds().Dx())
	assert.Equal(t, 44, out.Bounds().Dy())
	assert.Equal(t, 88, meta.Width)
}

func TestRunWithROIAndMargin(t *testing.T) {
	opts := PresetA.Options()
	opts.ROI = &ROI{X: 10, Y: 10, Width: 50, Height: 20}

	out, meta := Run(displayImage(200, 100), opts)
	require.NotNil(t, out)
	assert.NotContains(t, meta.Warnings, WarnROIUnspecified)
	assert.Equal(t, ROI{X: 8, Y: 9, Width: 54, Height: 22, MarginApplied: DefaultMarginRatio}, *meta.ROI)
	assert.Equal(t, 54, out.Bounds().Dx())
	assert.Equal(t, 22, out.Bounds().Dy())
}

func TestRunDoesNotModifyInput(t *testing.T) {
	img := displayImage(60, 40)
	before := append([]uint8(nil), img.Pix...)

	opts := PresetF.Options()
	opts.FullFrame = true
	_, _ = Run(img, opts)

	assert.Equal(t, before, img.Pix)
}

func TestRunStepsAndTimings(t *testing.T) {
	p := &Pipeline{Clock: &tickClock{now: time.Unix(0, 0)}}
	out, meta := p.Run(displayImage(120, 80), PresetA.Options())
	require.NotNil(t, out)

	assert.Equal(t, []string{StepROI, StepResize, StepGrayscale, StepThreshold}, meta.Steps)
	for _, step := range meta.Steps {
		assert.InDelta(t, 1.0, meta.TimingsMs[step], 1e-9, step)
	}
	assert.NotContains(t, meta.TimingsMs, StepInvert)
	assert.GreaterOrEqual(t, meta.Threshold, 0)
	assert.True(t, isBinary(out))
	assert.Equal(t, PresetA, meta.Preset)
}

func TestRunResize(t *testing.T) {
	opts := PresetJ.Options()
	opts.FullFrame = true
	opts.MaxEdge = 640

	out, meta := Run(displayImage(3000, 2000), opts)
	assert.Equal(t, 640, out.Bounds().Dx())
	assert.Equal(t, 427, out.Bounds().Dy())
	assert.Nil(t, meta.ROI)
	assert.Empty(t, meta.Warnings)
}

func TestRunStepFailureKeepsBestRaster(t *testing.T) {
	opts := Options{Threshold: ThresholdMode(42), FullFrame: true, Invert: true}

	out, meta := Run(displayImage(40, 30), opts)
	require.NotNil(t, out)
	assert.Equal(t, []string{StepResize, StepGrayscale}, meta.Steps)
	require.Len(t, meta.Warnings, 1)
	assert.Contains(t, meta.Warnings[0], "threshold step failed")
	assert.Equal(t, -1, meta.Threshold)

	// The grayscale raster is returned, not the binarized or inverted one.
	assert.False(t, isBinary(out))
	px := out.NRGBAAt(0, 0)
	assert.Equal(t, px.R, px.G)
}

func TestRunPresetsProduceRasters(t *testing.T) {
	img := displayImage(160, 120)
	for _, p := range Presets() {
		t.Run(p.String(), func(t *testing.T) {
			opts := p.Options()
			opts.FullFrame = true
			out, meta := Run(img, opts)
			require.NotNil(t, out)
			assert.Empty(t, meta.Warnings)
			assert.Equal(t, 160, out.Bounds().Dx())
			if opts.Threshold != ThresholdNone {
				assert.True(t, isBinary(out), "preset %s should binarize", p)
			}
		})
	}
}

func TestRunInvertPolarity(t *testing.T) {
	img := displayImage(90, 90)
	plain := PresetA.Options()
	plain.FullFrame = true
	inverted := plain
	inverted.Invert = true

	a, _ := Run(img, plain)
	b, _ := Run(img, inverted)
	assert.Equal(t, uint8(0), raster.Luma(a, 45, 45))
	assert.Equal(t, uint8(255), raster.Luma(b, 45, 45))
	assert.Equal(t, uint8(255), raster.Luma(a, 2, 2))
	assert.Equal(t, uint8(0), raster.Luma(b, 2, 2))
}

func TestParseThresholdMode(t *testing.T) {
	for _, m := range []ThresholdMode{ThresholdNone, ThresholdOtsu, ThresholdAdaptive} {
		got, err := ParseThresholdMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseThresholdMode("triangle")
	assert.Error(t, err)
}
