package preprocess

import (
	"fmt"
	"image"
	"math"
)

// CenterCropWidthRatio and CenterCropAspect define the fallback crop used
// when no ROI is supplied: width is a fraction of the shorter image side and
// height is a fraction of that width.
const (
	CenterCropWidthRatio = 0.88
	CenterCropAspect     = 0.5
)

// WarnROIUnspecified is recorded when the center-crop fallback is used.
const WarnROIUnspecified = "ROI unspecified: used fixed-ratio center crop"

// ROI is a region of interest in source-image pixels.
type ROI struct {
	X             int     `json:"x" yaml:"x"`
	Y             int     `json:"y" yaml:"y"`
	Width         int     `json:"width" yaml:"width"`
	Height        int     `json:"height" yaml:"height"`
	MarginApplied float64 `json:"margin_applied,omitempty" yaml:"margin_applied,omitempty"`
}

// Rect converts the ROI to an image.Rectangle.
func (r ROI) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func (r ROI) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
}

// ParseROI parses "x,y,w,h".
func ParseROI(s string) (ROI, error) {
	var r ROI
	if _, err := fmt.Sscanf(s, "%d,%d,%d,%d", &r.X, &r.Y, &r.Width, &r.Height); err != nil {
		return ROI{}, fmt.Errorf("invalid ROI %q, want x,y,w,h: %w", s, err)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return ROI{}, fmt.Errorf("invalid ROI %q: width and height must be positive", s)
	}
	return r, nil
}

// Clamp expands roi by margin (a fraction of its width and height on every
// side) and clamps it to bounds. The result always has a positive width and
// height no larger than the bounds, even for ROIs entirely outside the image.
func (r ROI) Clamp(bounds image.Rectangle, margin float64) ROI {
	bw, bh := bounds.Dx(), bounds.Dy()
	if bw <= 0 || bh <= 0 {
		return ROI{X: bounds.Min.X, Y: bounds.Min.Y, Width: 0, Height: 0, MarginApplied: margin}
	}
	if margin < 0 {
		margin = 0
	}
	mx := int(math.Round(float64(max(r.Width, 0)) * margin))
	my := int(math.Round(float64(max(r.Height, 0)) * margin))

	x0 := clamp(r.X-mx, bounds.Min.X, bounds.Max.X-1)
	y0 := clamp(r.Y-my, bounds.Min.Y, bounds.Max.Y-1)
	x1 := clamp(r.X+r.Width+mx, x0+1, bounds.Max.X)
	y1 := clamp(r.Y+r.Height+my, y0+1, bounds.Max.Y)

	return ROI{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0, MarginApplied: margin}
}

// CenterROI returns the fallback crop for bounds.
func CenterROI(bounds image.Rectangle) ROI {
	bw, bh := bounds.Dx(), bounds.Dy()
	w := max(1, int(math.Round(float64(min(bw, bh))*CenterCropWidthRatio)))
	h := max(1, int(math.Round(float64(w)*CenterCropAspect)))
	w = min(w, bw)
	h = min(h, bh)
	return ROI{
		X:      bounds.Min.X + (bw-w)/2,
		Y:      bounds.Min.Y + (bh-h)/2,
		Width:  w,
		Height: h,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
