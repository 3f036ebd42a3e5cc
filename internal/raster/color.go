package raster

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Grayscale converts img to luma (0.299R + 0.587G + 0.114B, rounded) replicated
// to all three channels.
func Grayscale(img image.Image) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "grayscale", Err: ErrNilImage}
	}
	return imaging.Grayscale(img), nil
}

// AdjustLinear applies v' = v*contrast + brightness to every color channel.
func AdjustLinear(img image.Image, contrast, brightness float64) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "contrast", Err: ErrNilImage}
	}
	if contrast <= 0 {
		contrast = 1
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clampByte(float64(c.R)*contrast + brightness),
			G: clampByte(float64(c.G)*contrast + brightness),
			B: clampByte(float64(c.B)*contrast + brightness),
			A: c.A,
		}
	}), nil
}

// Sharpen enhances edges with an unsharp mask of the given sigma.
func Sharpen(img image.Image, sigma float64) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "sharpen", Err: ErrNilImage}
	}
	if sigma <= 0 {
		return imaging.Clone(img), nil
	}
	return imaging.Sharpen(img, sigma), nil
}

// ClampHighlights replaces every pixel whose luma exceeds ceiling with value.
// It is used to flatten glare spots on reflective LCD glass.
func ClampHighlights(img image.Image, ceiling, value uint8) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "highlight", Err: ErrNilImage}
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		l := 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
		if clampByte(l) > ceiling {
			return color.NRGBA{R: value, G: value, B: value, A: c.A}
		}
		return c
	}), nil
}

// Invert flips every channel (v' = 255 - v).
func Invert(img image.Image) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "invert", Err: ErrNilImage}
	}
	return imaging.Invert(img), nil
}
