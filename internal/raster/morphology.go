package raster

import (
	"fmt"
	"image"
	"strings"
)

// MorphologicalOp represents the type of morphological operation to perform.
type MorphologicalOp int

const (
	MorphNone MorphologicalOp = iota
	MorphDilate
	MorphErode
)

func (op MorphologicalOp) String() string {
	switch op {
	case MorphNone:
		return "none"
	case MorphDilate:
		return "dilate"
	case MorphErode:
		return "erode"
	}
	return fmt.Sprintf("MorphologicalOp(%d)", int(op))
}

// ParseMorphologicalOp parses "none", "dilate" or "erode".
func ParseMorphologicalOp(s string) (MorphologicalOp, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return MorphNone, nil
	case "dilate":
		return MorphDilate, nil
	case "erode":
		return MorphErode, nil
	}
	return MorphNone, fmt.Errorf("unknown morphology operation: %q", s)
}

// Morph applies op iterations times.
func Morph(img image.Image, op MorphologicalOp, iterations int) (*image.NRGBA, error) {
	switch op {
	case MorphDilate:
		return Dilate(img, iterations)
	case MorphErode:
		return Erode(img, iterations)
	case MorphNone:
	}
	if img == nil {
		return nil, &ProcessingError{Operation: "morphology", Err: ErrNilImage}
	}
	return Clone(img), nil
}

// Dilate grows bright regions: every pixel takes the maximum luma of itself
// and its 4 neighbours. Pixels outside the image count as background (0).
func Dilate(img image.Image, iterations int) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "dilate", Err: ErrNilImage}
	}
	luma, w, h := LumaBuffer(img)
	for range iterations {
		luma = morph4(luma, w, h, 0, func(a, b uint8) bool { return b > a })
	}
	return FromLuma(w, h, luma), nil
}

// Erode shrinks bright regions: every pixel takes the minimum luma of itself
// and its 4 neighbours. Pixels outside the image count as foreground (255).
func Erode(img image.Image, iterations int) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "erode", Err: ErrNilImage}
	}
	luma, w, h := LumaBuffer(img)
	for range iterations {
		luma = morph4(luma, w, h, 255, func(a, b uint8) bool { return b < a })
	}
	return FromLuma(w, h, luma), nil
}

// morph4 runs one 4-neighbour pass. border is the value assumed for
// out-of-bounds neighbours; better reports whether b should replace a.
func morph4(src []uint8, w, h int, border uint8, better func(a, b uint8) bool) []uint8 {
	dst := make([]uint8, len(src))
	at := func(x, y int) uint8 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return border
		}
		return src[y*w+x]
	}
	for y := range h {
		for x := range w {
			v := src[y*w+x]
			for _, n := range [4]uint8{at(x-1, y), at(x+1, y), at(x, y-1), at(x, y+1)} {
				if better(v, n) {
					v = n
				}
			}
			dst[y*w+x] = v
		}
	}
	return dst
}

// MarshalText encodes the operation by name.
func (op MorphologicalOp) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

// UnmarshalText decodes an operation name.
func (op *MorphologicalOp) UnmarshalText(text []byte) error {
	parsed, err := ParseMorphologicalOp(string(text))
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}
