package testutil

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDisplaySize(t *testing.T) {
	cfg := DefaultDisplayConfig()
	img := RenderDisplay(cfg)

	// 2*10 + 3*40 + 2*14 wide, 3*(70+20) tall
	assert.Equal(t, image.Pt(168, 270), img.Bounds().Size())
}

func TestRenderDisplaySegments(t *testing.T) {
	cfg := DefaultDisplayConfig()
	cfg.Lines = [3]string{"8", " ", "1"}
	img := RenderDisplay(cfg)

	cell := cfg.CellRect(0, 0)
	// Centre of segment g is lit on an 8.
	assert.Equal(t, uint8(20), img.NRGBAAt(cell.Min.X+20, cell.Min.Y+35).R)

	blank := cfg.CellRect(1, 0)
	assert.Equal(t, uint8(235), img.NRGBAAt(blank.Min.X+20, blank.Min.Y+35).R)

	one := cfg.CellRect(2, 0)
	assert.Equal(t, uint8(20), img.NRGBAAt(one.Max.X-2, one.Min.Y+20).R)
	assert.Equal(t, uint8(235), img.NRGBAAt(one.Min.X+2, one.Min.Y+20).R)
}

func TestRenderDisplayPatternOverride(t *testing.T) {
	cfg := DefaultDisplayConfig()
	cfg.Lines = [3]string{"8", "8", "8"}
	cfg.Patterns = map[[2]int]uint8{{0, 0}: DigitSegments[8] &^ SegG}
	img := RenderDisplay(cfg)

	cell := cfg.CellRect(0, 0)
	assert.Equal(t, uint8(235), img.NRGBAAt(cell.Min.X+20, cell.Min.Y+35).R)
}

func TestInvert(t *testing.T) {
	img := RenderDisplay(DefaultDisplayConfig())
	inv := Invert(img)
	assert.Equal(t, uint8(20), inv.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(255), inv.NRGBAAt(0, 0).A)
}

func TestRenderText(t *testing.T) {
	img := RenderText("120/80", 200, 60, 2)
	assert.Equal(t, image.Pt(200, 60), img.Bounds().Size())

	dark := 0
	for y := range 60 {
		for x := range 200 {
			if img.NRGBAAt(x, y).R < 128 {
				dark++
			}
		}
	}
	assert.Positive(t, dark)
}

func TestSaveAndLoadImage(t *testing.T) {
	img := RenderDisplay(DefaultDisplayConfig())
	path := t.TempDir() + "/display.png"
	SaveImage(t, img, path)
	require.True(t, FileExists(path))

	loaded := LoadImage(t, path)
	assert.Equal(t, img.Bounds(), loaded.Bounds())
}

func TestWriteDisplayFixtures(t *testing.T) {
	dir := t.TempDir()
	manifest, fixtures := WriteDisplayFixtures(t, dir)
	assert.True(t, FileExists(manifest))
	require.Len(t, fixtures, len(StandardReadings))
	assert.Equal(t, 120, *fixtures[0].Systolic)
	assert.True(t, FileExists(dir+"/"+fixtures[0].File))
}
