// Package raster provides the pixel-level primitives used by the preprocessing
// pipeline and the segment decoder.
//
// Every operation takes an image and returns a freshly allocated *image.NRGBA.
// Inputs are never modified, so a raster can be handed from one stage to the
// next without aliasing.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// ProcessingError represents errors that can occur during raster processing.
type ProcessingError struct {
	Operation string
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("raster processing error in %s: %v", e.Operation, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// ErrNilImage is returned when an operation receives a nil image.
var ErrNilImage = errors.New("input image is nil")

// Clone returns an NRGBA copy of img with bounds starting at (0,0).
func Clone(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}

// Luma returns the luma channel value at (x, y). For rasters produced by
// Grayscale all three channels carry the same value, so the red channel is read.
func Luma(img *image.NRGBA, x, y int) uint8 {
	return img.Pix[img.PixOffset(x, y)]
}

// setLuma writes v to R, G and B at (x, y) and makes the pixel opaque.
func setLuma(img *image.NRGBA, x, y int, v uint8) {
	i := img.PixOffset(x, y)
	img.Pix[i] = v
	img.Pix[i+1] = v
	img.Pix[i+2] = v
	img.Pix[i+3] = 0xff
}

// FromLuma builds a gray NRGBA raster from a row-major luma buffer.
func FromLuma(width, height int, luma []uint8) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			setLuma(out, x, y, luma[y*width+x])
		}
	}
	return out
}

// LumaBuffer converts img to a row-major luma buffer using the same weights as
// Grayscale.
func LumaBuffer(img image.Image) ([]uint8, int, int) {
	g := imaging.Grayscale(img)
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	buf := make([]uint8, w*h)
	for y := range h {
		for x := range w {
			buf[y*w+x] = g.Pix[g.PixOffset(x, y)]
		}
	}
	return buf, w, h
}

// Uniform returns a width x height raster filled with the given luma.
func Uniform(width, height int, v uint8) *image.NRGBA {
	return imaging.New(width, height, color.NRGBA{R: v, G: v, B: v, A: 0xff})
}

// MeanLuma returns the mean luma of rect within img. Rect is clipped to the
// image bounds; an empty region yields 0.
func MeanLuma(img *image.NRGBA, rect image.Rectangle) float64 {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return 0
	}
	var sum int
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			sum += int(Luma(img, x, y))
		}
	}
	return float64(sum) / float64(rect.Dx()*rect.Dy())
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
