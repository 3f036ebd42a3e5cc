package support

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/bpread/internal/testutil"
)

// renderDisplay draws a reading like "120/80 72" as a seven-segment panel.
func renderDisplay(reading string, inverted bool) (image.Image, error) {
	fields := strings.FieldsFunc(reading, func(r rune) bool { return r == '/' || r == ' ' })
	if len(fields) != 3 {
		return nil, fmt.Errorf("reading %q must have systolic/diastolic pulse", reading)
	}
	cfg := testutil.DefaultDisplayConfig()
	cfg.Lines = [3]string{fields[0], fields[1], fields[2]}
	img := testutil.RenderDisplay(cfg)
	if inverted {
		img = testutil.Invert(img)
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// writeDisplay renders a display into the temp dir and exposes its path as
// the {name} variable.
func (testCtx *TestContext) writeDisplay(name, reading string, inverted bool) error {
	img, err := renderDisplay(reading, inverted)
	if err != nil {
		return err
	}
	data, err := encodePNG(img)
	if err != nil {
		return err
	}
	path := testCtx.TempPath(name + ".png")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write display %s: %w", path, err)
	}
	testCtx.Vars[name] = path
	return nil
}

func (testCtx *TestContext) aDisplayShowing(name, reading string) error {
	return testCtx.writeDisplay(name, reading, false)
}

func (testCtx *TestContext) anInvertedDisplayShowing(name, reading string) error {
	return testCtx.writeDisplay(name, reading, true)
}

// aLabelledSampleSet renders the standard fixtures and a manifest for eval.
func (testCtx *TestContext) aLabelledSampleSet() error {
	var lines []string
	lines = append(lines, "samples:")
	for _, r := range testutil.StandardReadings {
		name := fmt.Sprintf("bp_%d_%d_%d", r[0], r[1], r[2])
		if err := testCtx.writeDisplay(name, fmt.Sprintf("%d/%d %d", r[0], r[1], r[2]), false); err != nil {
			return err
		}
		lines = append(lines,
			"  - name: "+name,
			"    file: "+name+".png",
			fmt.Sprintf("    systolic: %d", r[0]),
			fmt.Sprintf("    diastolic: %d", r[1]),
			fmt.Sprintf("    pulse: %d", r[2]),
		)
	}
	manifest := testCtx.TempPath("manifest.yaml")
	if err := os.WriteFile(manifest, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	testCtx.Vars["manifest"] = manifest
	return nil
}

// RegisterDisplaySteps registers the fixture rendering steps.
func (testCtx *TestContext) RegisterDisplaySteps(sc *godog.ScenarioContext) {
	sc.Step(`^a display "([^"]*)" showing "([^"]*)"$`, testCtx.aDisplayShowing)
	sc.Step(`^an inverted display "([^"]*)" showing "([^"]*)"$`, testCtx.anInvertedDisplayShowing)
	sc.Step(`^a labelled sample set$`, testCtx.aLabelledSampleSet)
}
