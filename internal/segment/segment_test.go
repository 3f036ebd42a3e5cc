package segment

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/bpread/internal/raster"
	"github.com/MeKo-Tech/bpread/internal/testutil"
)

func cellImage(p Pattern) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 40, 70))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.Gray{Y: 235}}, image.Point{}, draw.Src)
	testutil.DrawSegments(img, img.Bounds(), uint8(p), color.Gray{Y: 20})
	return img
}

func TestLookupExact(t *testing.T) {
	for d := range 10 {
		got, fuzzy, ok := Lookup(PatternFor(d))
		require.True(t, ok, "digit %d", d)
		assert.False(t, fuzzy)
		assert.Equal(t, d, got)
	}
	assert.Equal(t, Pattern(0), PatternFor(10))
	assert.Equal(t, "abcdefg", AllSegments.String())
	assert.Equal(t, "-", Pattern(0).String())
}

func TestLookupFuzzyNeverOverridesExact(t *testing.T) {
	for p, d := range fuzzyTable {
		_, isExact := exactTable[p]
		assert.False(t, isExact, "pattern %s mapped fuzzily to %d", p, d)
	}
}

func TestRecognizeDigitExact(t *testing.T) {
	for d := range 10 {
		got, ok := RecognizeDigit(cellImage(PatternFor(d)), false)
		require.True(t, ok, "digit %d", d)
		assert.Equal(t, d, got)
	}
}

func TestRecognizeDigitInverted(t *testing.T) {
	for d := range 10 {
		got, ok := RecognizeDigit(testutil.Invert(cellImage(PatternFor(d))), true)
		require.True(t, ok, "digit %d", d)
		assert.Equal(t, d, got)
	}
}

func TestRecognizeDigitFuzzy(t *testing.T) {
	tests := []struct {
		name    string
		pattern Pattern
		want    int
		ok      bool
		fuzzy   bool
	}{
		{"seven with stray f", PatternFor(7) | SegF, 7, true, true},
		{"three missing a", PatternFor(3) &^ SegA, 3, true, true},
		{"eight missing g reads as zero", PatternFor(8) &^ SegG, 0, true, false},
		{"lone top bar", SegA, 0, false, false},
		{"two missing a and d", PatternFor(2) &^ (SegA | SegD), 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DecodeCell(cellImage(tt.pattern), false)
			assert.Equal(t, tt.pattern, c.Pattern)
			assert.Equal(t, tt.ok, c.OK)
			if tt.ok {
				assert.Equal(t, tt.want, c.Digit)
				assert.Equal(t, tt.fuzzy, c.Fuzzy)
			}
		})
	}
}

func TestDecodeCellUniform(t *testing.T) {
	tests := []struct {
		name string
		luma uint8
	}{
		{"light", 235},
		{"solid ink", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, invert := range []bool{false, true} {
				c := DecodeCell(raster.Uniform(40, 70, tt.luma), invert)
				assert.True(t, c.Uniform)
				assert.False(t, c.OK, "invert=%v", invert)
				assert.Equal(t, Pattern(0), c.Pattern)
			}
		})
	}

	blank := DecodeCell(cellImage(0), false)
	assert.True(t, blank.Uniform)
	assert.False(t, blank.OK)

	assert.False(t, DecodeCell(nil, false).OK)
}

func TestDecodeCellLowContrast(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 40, 70))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.Gray{Y: 215}}, image.Point{}, draw.Src)
	testutil.DrawSegments(img, img.Bounds(), uint8(PatternFor(1)), color.Gray{Y: 200})

	c := DecodeCell(img, false)
	assert.False(t, c.Uniform)
	assert.Equal(t, PatternFor(1), c.Pattern)
	require.True(t, c.OK)
	assert.Equal(t, 1, c.Digit)
	assert.False(t, c.Fuzzy)

	digit, ok := RecognizeDigit(testutil.Invert(img), true)
	require.True(t, ok)
	assert.Equal(t, 1, digit)
}

func TestFindDigitBoundaries(t *testing.T) {
	cfg := testutil.DefaultDisplayConfig()
	cfg.Lines = [3]string{"120", "", ""}
	img := testutil.Invert(testutil.RenderDisplay(cfg))
	row := img.SubImage(image.Rect(0, 10, 168, 80))

	spans := FindDigitBoundaries(row, 3)
	require.Len(t, spans, 3)
	// The "1" only lights its right-hand segments and is widened leftwards.
	assert.Equal(t, Span{Start: 10, End: 50}, spans[0])
	assert.Equal(t, Span{Start: 64, End: 104}, spans[1])
	assert.Equal(t, Span{Start: 118, End: 158}, spans[2])
}

func TestFindDigitBoundariesEqualSplit(t *testing.T) {
	row := image.NewNRGBA(image.Rect(0, 0, 90, 10))
	draw.Draw(row, row.Bounds(), &image.Uniform{color.Gray{Y: 200}}, image.Point{}, draw.Src)

	spans, backed := digitBoundaries(row, 3)
	assert.False(t, backed)
	assert.Equal(t, []Span{{0, 30}, {30, 60}, {60, 90}}, spans)

	assert.Nil(t, FindDigitBoundaries(nil, 3))
	assert.Nil(t, FindDigitBoundaries(row, 0))
}

func TestMatchSeparatorsNearestFirst(t *testing.T) {
	gaps := []Span{{28, 32}, {45, 48}, {60, 64}}
	chosen := matchSeparators(gaps, 0, 90, 3)
	assert.Equal(t, []Span{{28, 32}, {60, 64}}, chosen)
}

func TestDecodeDisplay(t *testing.T) {
	img := testutil.RenderDisplay(testutil.DefaultDisplayConfig())

	r := DecodeDisplay(img, DefaultLayout())
	require.True(t, r.Complete(), r.Text())
	assert.Equal(t, 120, *r.Systolic)
	assert.Equal(t, 80, *r.Diastolic)
	assert.Equal(t, 72, *r.Pulse)
	assert.InDelta(t, 100.0, r.Confidence, 1e-9)
	assert.Equal(t, "120/80 72", r.Text())
}

func TestDecodeDisplayFlexible(t *testing.T) {
	cfg := testutil.DefaultDisplayConfig()
	cfg.Lines = [3]string{"98", "61", "55"}
	img := testutil.RenderDisplay(cfg)

	r := DecodeDisplay(img, Layout{Flexible: true})
	require.True(t, r.Complete(), r.Text())
	assert.Equal(t, 98, *r.Systolic)
	assert.Equal(t, 61, *r.Diastolic)
	assert.Equal(t, 55, *r.Pulse)
	assert.False(t, r.Inverted)
}

func TestDecodeDisplayFlexibleRetriesPolarity(t *testing.T) {
	img := testutil.Invert(testutil.RenderDisplay(testutil.DefaultDisplayConfig()))

	r := DecodeDisplay(img, Layout{Flexible: true})
	require.True(t, r.Complete(), r.Text())
	assert.True(t, r.Inverted)
	assert.Equal(t, 120, *r.Systolic)
}

func TestDecodeDisplayUnreadableDigit(t *testing.T) {
	cfg := testutil.DefaultDisplayConfig()
	cfg.Patterns = map[[2]int]uint8{{2, 2}: uint8(SegA)}
	img := testutil.RenderDisplay(cfg)

	r := DecodeDisplay(img, DefaultLayout())
	assert.NotNil(t, r.Systolic)
	assert.Nil(t, r.Pulse)
	assert.Equal(t, "120/80 7?", r.Text())
	assert.Less(t, r.Confidence, 100.0)
}

func TestDecodeDisplayEmpty(t *testing.T) {
	r := DecodeDisplay(nil, DefaultLayout())
	assert.Nil(t, r.Systolic)
	assert.Equal(t, "/ ", r.Text())
}
