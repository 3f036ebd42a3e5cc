package raster

import (
	"image"
	"slices"
)

// MaxMedianRadius is the largest radius Median accepts; larger values are clamped.
const MaxMedianRadius = 2

// Median applies a (2r+1)x(2r+1) median filter to the luma channel. The
// window is clipped at the image borders. A radius <= 0 returns a copy.
func Median(img image.Image, radius int) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "median", Err: ErrNilImage}
	}
	if radius <= 0 {
		return Clone(img), nil
	}
	radius = min(radius, MaxMedianRadius)

	luma, w, h := LumaBuffer(img)
	out := make([]uint8, len(luma))
	window := make([]uint8, 0, (2*radius+1)*(2*radius+1))
	for y := range h {
		for x := range w {
			window = window[:0]
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					window = append(window, luma[ny*w+nx])
				}
			}
			slices.Sort(window)
			out[y*w+x] = window[len(window)/2]
		}
	}
	return FromLuma(w, h, out), nil
}
