package raster

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Crop returns the part of img inside rect. Rect is intersected with the image
// bounds first; an empty intersection is an error.
func Crop(img image.Image, rect image.Rectangle) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "crop", Err: ErrNilImage}
	}
	r := rect.Intersect(img.Bounds())
	if r.Empty() {
		return nil, &ProcessingError{
			Operation: "crop",
			Err:       fmt.Errorf("rectangle %v outside image bounds %v", rect, img.Bounds()),
		}
	}
	return imaging.Crop(img, r), nil
}

// Resize shrinks img so its longest edge is at most maxEdge, preserving the
// aspect ratio. Images already within the cap (or maxEdge <= 0) are copied
// unchanged; images are never enlarged.
func Resize(img image.Image, maxEdge int) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "resize", Err: ErrNilImage}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, &ProcessingError{Operation: "resize", Err: errors.New("empty image")}
	}
	longest := max(w, h)
	if maxEdge <= 0 || longest <= maxEdge {
		return imaging.Clone(img), nil
	}

	scale := float64(maxEdge) / float64(longest)
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))
	nw = min(nw, maxEdge)
	nh = min(nh, maxEdge)
	return imaging.Resize(img, nw, nh, imaging.Lanczos), nil
}
