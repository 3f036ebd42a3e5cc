package tesseract

import (
	"image"
	"testing"

	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/assert"
)

func TestBuildResult(t *testing.T) {
	boxes := []gosseract.BoundingBox{
		{Box: image.Rect(0, 0, 40, 20), Word: "120/80", Confidence: 90},
		{Box: image.Rect(0, 30, 20, 50), Word: " ", Confidence: 5},
		{Box: image.Rect(0, 60, 20, 80), Word: "72", Confidence: 70},
	}
	res := buildResult(" 120/80\n72\n", boxes)

	assert.Equal(t, "120/80\n72", res.Text)
	assert.Len(t, res.Spans, 2)
	assert.InDelta(t, 80.0, res.Confidence, 1e-9)
	assert.Equal(t, image.Rect(0, 60, 20, 80), res.Spans[1].Box)
	assert.Equal(t, []float64{90, 90, 90, 90, 90, 90, -1, 70, 70}, res.CharConfidences())
}

func TestBuildResultNoBoxes(t *testing.T) {
	res := buildResult("", nil)
	assert.Empty(t, res.Text)
	assert.Zero(t, res.Confidence)
	assert.Nil(t, res.Spans)
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, []string{"eng"}, opts.Languages)
	assert.Equal(t, "false", opts.Variables["load_system_dawg"])
}
