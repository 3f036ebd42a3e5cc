package segment

import (
	"image"

	"github.com/MeKo-Tech/bpread/internal/raster"
)

// region is a segment's sampling rectangle as fractions of the cell.
type region struct {
	x0, x1, y0, y1 float64
}

var segmentRegions = [7]region{
	{0.2, 0.8, 0, 0.15},      // a
	{0.75, 1, 0.1, 0.45},     // b
	{0.75, 1, 0.55, 0.9},     // c
	{0.2, 0.8, 0.85, 1},      // d
	{0, 0.25, 0.55, 0.9},     // e
	{0, 0.25, 0.1, 0.45},     // f
	{0.2, 0.8, 0.425, 0.575}, // g
}

func (r region) rect(w, h int) image.Rectangle {
	x0 := int(r.x0 * float64(w))
	x1 := max(int(r.x1*float64(w)+0.5), x0+1)
	y0 := int(r.y0 * float64(h))
	y1 := max(int(r.y1*float64(h)+0.5), y0+1)
	return image.Rect(x0, y0, min(x1, w), min(y1, h))
}

// Cell is the decoding of one digit cell.
type Cell struct {
	Pattern Pattern    `json:"pattern"`
	Means   [7]float64 `json:"means"`
	Digit   int        `json:"digit"`
	OK      bool       `json:"ok"`
	Fuzzy   bool       `json:"fuzzy"`
	Uniform bool       `json:"uniform"`
}

// DecodeCell samples the seven segment regions of cell and matches the
// resulting pattern. Ink is dark on a light background unless invert is set.
func DecodeCell(cell image.Image, invert bool) Cell {
	var c Cell
	if cell == nil || cell.Bounds().Empty() {
		return c
	}
	gray, err := raster.Grayscale(cell)
	if err != nil {
		return c
	}
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()

	lo, hi, sum := 255.0, 0.0, 0.0
	for i, r := range segmentRegions {
		m := raster.MeanLuma(gray, r.rect(w, h))
		c.Means[i] = m
		lo = min(lo, m)
		hi = max(hi, m)
		sum += m
	}
	avg := sum / 7

	// A segment is on when it is darker (lighter with invert) than the mean
	// of the seven regions. Identical means leave nothing to compare.
	if hi == lo {
		c.Uniform = true
		return c
	}
	for i, m := range c.Means {
		on := m < avg
		if invert {
			on = m > avg
		}
		if on {
			c.Pattern |= 1 << i
		}
	}
	c.Digit, c.Fuzzy, c.OK = Lookup(c.Pattern)
	return c
}

// RecognizeDigit returns the digit shown in cell, if any.
func RecognizeDigit(cell image.Image, invert bool) (int, bool) {
	c := DecodeCell(cell, invert)
	return c.Digit, c.OK
}
