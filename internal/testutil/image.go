package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Segment bits a..g, bit 0 is the top bar.
const (
	SegA uint8 = 1 << iota
	SegB
	SegC
	SegD
	SegE
	SegF
	SegG
)

// DigitSegments maps 0-9 to their lit segments.
var DigitSegments = [10]uint8{0x3F, 0x06, 0x5B, 0x4F, 0x66, 0x6D, 0x7D, 0x07, 0x7F, 0x6F}

// segmentRect is a segment's area as fractions of the cell.
type segmentRect struct{ x0, y0, x1, y1 float64 }

var segmentRects = [7]segmentRect{
	{0.15, 0, 0.85, 0.12},    // a
	{0.8, 0.05, 1, 0.48},     // b
	{0.8, 0.52, 1, 0.95},     // c
	{0.15, 0.88, 0.85, 1},    // d
	{0, 0.52, 0.2, 0.95},     // e
	{0, 0.05, 0.2, 0.48},     // f
	{0.15, 0.44, 0.85, 0.56}, // g
}

// DisplayConfig describes a synthetic three-line seven-segment display.
type DisplayConfig struct {
	// Lines are rendered top to bottom. Digits are drawn from DigitSegments,
	// a space leaves its cell blank. Lines are right-aligned.
	Lines [3]string
	// Patterns overrides the segments of individual cells, keyed by
	// [line, column] in the rendered cell grid.
	Patterns   map[[2]int]uint8
	CellWidth  int
	CellHeight int
	Gap        int
	Margin     int
	Ink        color.Color
	Background color.Color
}

// DefaultDisplayConfig renders "120/80 72" as dark ink on a light panel.
func DefaultDisplayConfig() DisplayConfig {
	return DisplayConfig{
		Lines:      [3]string{"120", "80", "72"},
		CellWidth:  40,
		CellHeight: 70,
		Gap:        14,
		Margin:     10,
		Ink:        color.Gray{Y: 20},
		Background: color.Gray{Y: 235},
	}
}

// Columns returns the number of cells per line.
func (c DisplayConfig) Columns() int {
	n := 0
	for _, l := range c.Lines {
		n = max(n, len(l))
	}
	return n
}

// Size returns the rendered image size.
func (c DisplayConfig) Size() image.Point {
	cols := c.Columns()
	w := 2*c.Margin + cols*c.CellWidth + max(cols-1, 0)*c.Gap
	h := 3 * (c.CellHeight + 2*c.Margin)
	return image.Pt(w, h)
}

// CellRect returns the bounds of the cell at line, col.
func (c DisplayConfig) CellRect(line, col int) image.Rectangle {
	bandH := c.CellHeight + 2*c.Margin
	x := c.Margin + col*(c.CellWidth+c.Gap)
	y := line*bandH + c.Margin
	return image.Rect(x, y, x+c.CellWidth, y+c.CellHeight)
}

// RenderDisplay draws the display described by cfg.
func RenderDisplay(cfg DisplayConfig) *image.NRGBA {
	size := cfg.Size()
	img := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	cols := cfg.Columns()
	for line, text := range cfg.Lines {
		offset := cols - len(text)
		for i, r := range text {
			col := offset + i
			var pattern uint8
			if r >= '0' && r <= '9' {
				pattern = DigitSegments[r-'0']
			}
			if p, ok := cfg.Patterns[[2]int{line, col}]; ok {
				pattern = p
			}
			DrawSegments(img, cfg.CellRect(line, col), pattern, cfg.Ink)
		}
	}
	return img
}

// DrawSegments paints the lit segments of pattern into cell.
func DrawSegments(img draw.Image, cell image.Rectangle, pattern uint8, ink color.Color) {
	w, h := float64(cell.Dx()), float64(cell.Dy())
	src := &image.Uniform{ink}
	for i, s := range segmentRects {
		if pattern&(1<<i) == 0 {
			continue
		}
		r := image.Rect(
			cell.Min.X+int(s.x0*w), cell.Min.Y+int(s.y0*h),
			cell.Min.X+int(s.x1*w), cell.Min.Y+int(s.y1*h),
		)
		draw.Draw(img, r, src, image.Point{}, draw.Src)
	}
}

// RenderText draws text centred on a light background with the basic
// bitmap font, scaled by an integer factor.
func RenderText(text string, width, height, scale int) *image.NRGBA {
	small := image.NewNRGBA(image.Rect(0, 0, max(width/scale, 1), max(height/scale, 1)))
	draw.Draw(small, small.Bounds(), image.White, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: small, Src: image.Black, Face: face}
	textWidth := font.MeasureString(face, text).Ceil()
	textHeight := face.Metrics().Height.Ceil()
	drawer.Dot = fixed.P((small.Bounds().Dx()-textWidth)/2, (small.Bounds().Dy()+textHeight)/2)
	drawer.DrawString(text)

	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			out.Set(x, y, small.At(x/scale, y/scale))
		}
	}
	return out
}

// EncodePNG encodes img as PNG bytes.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img), "Failed to encode PNG image")
	return buf.Bytes()
}

// SaveImage saves an image to the specified path.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	dir := filepath.Dir(path)
	require.NoError(t, EnsureDir(dir), "Failed to create directory %s", dir)
	require.NoError(t, os.WriteFile(path, EncodePNG(t, img), 0o600), "Failed to write %s", path)
}

// LoadImage loads an image from the specified path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec // G304: Test file reading with controlled path
	require.NoError(t, err, "Failed to open image file %s", path)
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err, "Failed to decode image")

	return img
}

// Invert returns img with every channel inverted, for light-on-dark panels.
func Invert(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	for i := 0; i < len(img.Pix); i += 4 {
		out.Pix[i] = 255 - img.Pix[i]
		out.Pix[i+1] = 255 - img.Pix[i+1]
		out.Pix[i+2] = 255 - img.Pix[i+2]
		out.Pix[i+3] = img.Pix[i+3]
	}
	return out
}
