package segment

import (
	"image"
	"slices"
	"sort"

	"github.com/MeKo-Tech/bpread/internal/raster"
)

const (
	// GapDarkness marks a column as gap candidate when its mean luma is
	// below this fraction of the row average.
	GapDarkness = 0.9
	// MinGapWidthRatio is the shortest gap, as a fraction of the row width.
	MinGapWidthRatio = 0.03
	// narrowSpanRatio flags spans much narrower than their siblings (a "1"
	// lights only its right-hand segments).
	narrowSpanRatio = 0.6
)

// Span is a half-open column interval [Start, End).
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Width returns End - Start.
func (s Span) Width() int { return s.End - s.Start }

// profile is the per-column luma summary of a row with light ink.
type profile struct {
	mean    []float64
	peak    []uint8
	avg     float64
	inkLine uint8
}

func columnProfile(row image.Image) profile {
	luma, w, h := raster.LumaBuffer(row)
	p := profile{mean: make([]float64, w), peak: make([]uint8, w)}
	lo, hi := uint8(255), uint8(0)
	var total float64
	for x := range w {
		var sum int
		for y := range h {
			v := luma[y*w+x]
			sum += int(v)
			p.peak[x] = max(p.peak[x], v)
			lo = min(lo, v)
			hi = max(hi, v)
		}
		if h > 0 {
			p.mean[x] = float64(sum) / float64(h)
		}
		total += p.mean[x]
	}
	if w > 0 {
		p.avg = total / float64(w)
	}
	p.inkLine = lo + (hi-lo)/2
	return p
}

// findGaps returns the runs of gap columns longer than the minimum width. A
// gap column is darker than GapDarkness times the row average and holds no
// pixel above the ink midline.
func (p profile) findGaps(minWidth int) []Span {
	var gaps []Span
	start := -1
	for x := 0; x <= len(p.mean); x++ {
		isGap := x < len(p.mean) && p.mean[x] < GapDarkness*p.avg && p.peak[x] <= p.inkLine
		switch {
		case isGap && start < 0:
			start = x
		case !isGap && start >= 0:
			if x-start > minWidth {
				gaps = append(gaps, Span{Start: start, End: x})
			}
			start = -1
		}
	}
	return gaps
}

// FindDigitBoundaries splits a row of light-on-dark digits into digitCount
// column spans. Gaps touching the row edges trim the content area; interior
// gaps are assigned to the expected separator positions nearest-first. With
// too few interior gaps the content is split into equal widths.
func FindDigitBoundaries(row image.Image, digitCount int) []Span {
	spans, _ := digitBoundaries(row, digitCount)
	return spans
}

// digitBoundaries also reports whether the spans are backed by detected gaps
// rather than an equal split.
func digitBoundaries(row image.Image, digitCount int) ([]Span, bool) {
	if row == nil || digitCount <= 0 {
		return nil, false
	}
	b := row.Bounds()
	w := b.Dx()
	if w <= 0 || b.Dy() <= 0 {
		return nil, false
	}

	p := columnProfile(row)
	gaps := p.findGaps(int(MinGapWidthRatio * float64(w)))

	start, end := 0, w
	var interior []Span
	for _, g := range gaps {
		switch {
		case g.Start == 0:
			start = g.End
		case g.End == w:
			end = g.Start
		default:
			interior = append(interior, g)
		}
	}
	if end <= start {
		return equalSplit(0, w, digitCount), false
	}
	if digitCount == 1 {
		return []Span{{Start: start, End: end}}, true
	}
	if len(interior) < digitCount-1 {
		return equalSplit(start, end, digitCount), false
	}

	chosen := matchSeparators(interior, start, end, digitCount)
	spans := make([]Span, 0, digitCount)
	cursor := start
	for _, g := range chosen {
		spans = append(spans, Span{Start: cursor, End: g.Start})
		cursor = g.End
	}
	spans = append(spans, Span{Start: cursor, End: end})
	widenNarrowSpans(spans)
	return spans, true
}

// matchSeparators picks digitCount-1 gaps, pairing each expected separator
// position with its nearest unused gap, closest pairs first.
func matchSeparators(gaps []Span, start, end, digitCount int) []Span {
	type pair struct {
		exp, gap int
		dist     float64
	}
	var pairs []pair
	for k := 1; k < digitCount; k++ {
		expected := float64(start) + float64(end-start)*float64(k)/float64(digitCount)
		for i, g := range gaps {
			center := float64(g.Start+g.End) / 2
			d := center - expected
			if d < 0 {
				d = -d
			}
			pairs = append(pairs, pair{exp: k, gap: i, dist: d})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].dist < pairs[j].dist })

	usedExp := map[int]bool{}
	usedGap := map[int]bool{}
	var chosen []Span
	for _, pr := range pairs {
		if usedExp[pr.exp] || usedGap[pr.gap] {
			continue
		}
		usedExp[pr.exp] = true
		usedGap[pr.gap] = true
		chosen = append(chosen, gaps[pr.gap])
	}
	slices.SortFunc(chosen, func(a, b Span) int { return a.Start - b.Start })
	return chosen
}

// widenNarrowSpans grows spans much narrower than the median leftwards to the
// median width, without overlapping the previous span.
func widenNarrowSpans(spans []Span) {
	widths := make([]int, len(spans))
	for i, s := range spans {
		widths[i] = s.Width()
	}
	slices.Sort(widths)
	median := widths[len(widths)/2]
	for i := range spans {
		if float64(spans[i].Width()) >= narrowSpanRatio*float64(median) {
			continue
		}
		floor := 0
		if i > 0 {
			floor = spans[i-1].End
		}
		spans[i].Start = max(floor, spans[i].End-median)
	}
}

func equalSplit(start, end, n int) []Span {
	spans := make([]Span, n)
	width := end - start
	for i := range n {
		spans[i] = Span{Start: start + i*width/n, End: start + (i+1)*width/n}
	}
	return spans
}
