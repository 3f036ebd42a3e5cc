package segment

import (
	"image"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/bpread/internal/raster"
)

// Confidence assigned to an exactly matched and a fuzzily matched digit.
const (
	exactDigitConfidence = 100
	fuzzyDigitConfidence = 70
)

// minInkSpread is the smallest luma spread for which a band holds ink.
const minInkSpread = 24

// Layout describes how readings are arranged on the display: three equal
// horizontal bands (systolic, diastolic, pulse).
type Layout struct {
	// Counts are the digit counts per band, used unless Flexible is set.
	Counts [3]int `json:"counts" yaml:"counts" mapstructure:"counts"`
	// Flexible tries 3 digits and then 2 for every band, and retries with
	// the opposite polarity when a band cannot be read completely.
	Flexible bool `json:"flexible" yaml:"flexible" mapstructure:"flexible"`
	// Invert declares light ink on a dark background.
	Invert bool `json:"invert" yaml:"invert" mapstructure:"invert"`
}

// DefaultLayout is the common 3/2/2 arrangement with dark ink.
func DefaultLayout() Layout {
	return Layout{Counts: [3]int{3, 2, 2}}
}

// Band is the decoding of one horizontal band.
type Band struct {
	Cells    []Cell `json:"cells"`
	Spans    []Span `json:"spans"`
	Value    *int   `json:"value"`
	Complete bool   `json:"complete"`
	// EqualSplit is set when no usable gaps were found and the band was
	// divided into equal widths.
	EqualSplit bool `json:"equal_split"`
}

// Text renders the band's digits with '?' for unreadable cells.
func (b Band) Text() string {
	var sb strings.Builder
	for _, c := range b.Cells {
		if c.OK {
			sb.WriteString(strconv.Itoa(c.Digit))
		} else {
			sb.WriteByte('?')
		}
	}
	return sb.String()
}

func (b Band) score() (recognized int, conf float64) {
	for _, c := range b.Cells {
		switch {
		case c.OK && !c.Fuzzy:
			recognized++
			conf += exactDigitConfidence
		case c.OK:
			recognized++
			conf += fuzzyDigitConfidence
		}
	}
	return recognized, conf
}

// Reading is a decoded display.
type Reading struct {
	Bands      [3]Band `json:"bands"`
	Systolic   *int    `json:"systolic"`
	Diastolic  *int    `json:"diastolic"`
	Pulse      *int    `json:"pulse"`
	Confidence float64 `json:"confidence"`
	Inverted   bool    `json:"inverted"`
}

// Complete reports whether every band was read.
func (r Reading) Complete() bool {
	return r.Systolic != nil && r.Diastolic != nil && r.Pulse != nil
}

// Text renders the reading as "120/80 72".
func (r Reading) Text() string {
	return r.Bands[0].Text() + "/" + r.Bands[1].Text() + " " + r.Bands[2].Text()
}

// DecodeDisplay reads the three bands of img.
func DecodeDisplay(img image.Image, layout Layout) Reading {
	if img == nil || img.Bounds().Empty() {
		return Reading{}
	}
	gray, err := raster.Grayscale(img)
	if err != nil {
		return Reading{}
	}

	reading := decodeBands(gray, layout, layout.Invert)
	if layout.Flexible && (!reading.Complete() || reading.split() > 0) {
		flipped := decodeBands(gray, layout, !layout.Invert)
		if flipped.better(reading) {
			reading = flipped
		}
	}
	return reading
}

func (r Reading) recognized() int {
	n := 0
	for _, b := range r.Bands {
		k, _ := b.score()
		n += k
	}
	return n
}

// split counts bands divided into equal widths.
func (r Reading) split() int {
	n := 0
	for _, b := range r.Bands {
		if b.EqualSplit {
			n++
		}
	}
	return n
}

// better ranks complete readings first, then fewer equal splits, then more
// recognized digits.
func (r Reading) better(other Reading) bool {
	if r.Complete() != other.Complete() {
		return r.Complete()
	}
	if r.split() != other.split() {
		return r.split() < other.split()
	}
	return r.recognized() > other.recognized()
}

func decodeBands(gray *image.NRGBA, layout Layout, invert bool) Reading {
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	reading := Reading{Inverted: invert}
	var total, digits float64
	for i := range 3 {
		band, err := raster.Crop(gray, image.Rect(0, i*h/3, w, (i+1)*h/3))
		if err != nil {
			continue
		}
		var b Band
		if layout.Flexible {
			b = decodeFlexible(band, invert)
		} else {
			b = decodeBand(band, layout.Counts[i], invert)
		}
		reading.Bands[i] = b
		_, conf := b.score()
		total += conf
		digits += float64(len(b.Cells))
	}
	if digits > 0 {
		reading.Confidence = total / digits
	}
	reading.Systolic = reading.Bands[0].Value
	reading.Diastolic = reading.Bands[1].Value
	reading.Pulse = reading.Bands[2].Value
	return reading
}

// decodeFlexible tries 3 and then 2 digits. A complete decoding backed by
// real gaps wins over one from an equal split.
func decodeFlexible(band *image.NRGBA, invert bool) Band {
	var best, fallback Band
	bestCount := -1
	haveFallback := false
	for _, n := range []int{3, 2} {
		b := decodeBand(band, n, invert)
		if b.Complete && !b.EqualSplit {
			return b
		}
		if b.Complete && !haveFallback {
			fallback, haveFallback = b, true
		}
		if k, _ := b.score(); k > bestCount {
			best, bestCount = b, k
		}
	}
	if haveFallback {
		return fallback
	}
	return best
}

// decodeBand splits band into count digit cells and decodes each.
func decodeBand(band *image.NRGBA, count int, invert bool) Band {
	b := Band{}
	if count <= 0 {
		return b
	}
	lightInk := band
	if !invert {
		var err error
		if lightInk, err = raster.Invert(band); err != nil {
			return b
		}
	}
	top, bottom, ok := inkRows(lightInk)
	if !ok {
		b.Cells = make([]Cell, count)
		return b
	}
	w := band.Bounds().Dx()
	rows := image.Rect(0, top, w, bottom)
	lightRow, err := raster.Crop(lightInk, rows)
	if err != nil {
		return b
	}
	var backed bool
	b.Spans, backed = digitBoundaries(lightRow, count)
	b.EqualSplit = !backed

	value := 0
	b.Complete = true
	for _, s := range b.Spans {
		cellImg, err := raster.Crop(band, image.Rect(s.Start, top, s.End, bottom))
		var cell Cell
		if err == nil {
			cell = DecodeCell(cellImg, invert)
		}
		b.Cells = append(b.Cells, cell)
		if !cell.OK {
			b.Complete = false
			continue
		}
		value = value*10 + cell.Digit
	}
	if b.Complete {
		b.Value = &value
	}
	return b
}

// inkRows finds the first and last rows (end exclusive) holding ink in a
// light-ink raster.
func inkRows(img *image.NRGBA) (int, int, bool) {
	luma, w, h := raster.LumaBuffer(img)
	lo, hi := uint8(255), uint8(0)
	for _, v := range luma {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if int(hi)-int(lo) < minInkSpread {
		return 0, 0, false
	}
	mid := lo + (hi-lo)/2
	top, bottom := -1, -1
	for y := range h {
		for x := range w {
			if luma[y*w+x] > mid {
				if top < 0 {
					top = y
				}
				bottom = y + 1
				break
			}
		}
	}
	if top < 0 {
		return 0, 0, false
	}
	return top, bottom, true
}
