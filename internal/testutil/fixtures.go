package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// DisplayFixture is a rendered display with its expected reading.
type DisplayFixture struct {
	Name      string `yaml:"name"`
	File      string `yaml:"file"`
	Systolic  *int   `yaml:"systolic"`
	Diastolic *int   `yaml:"diastolic"`
	Pulse     *int   `yaml:"pulse"`
}

// StandardReadings are the readings WriteDisplayFixtures renders.
var StandardReadings = [][3]int{
	{120, 80, 72},
	{135, 85, 64},
	{98, 61, 55},
	{147, 93, 88},
}

func intPtr(v int) *int { return &v }

// WriteDisplayFixtures renders StandardReadings as PNG files into dir and
// writes a manifest.yaml describing them. It returns the manifest path.
func WriteDisplayFixtures(t *testing.T, dir string) (string, []DisplayFixture) {
	t.Helper()

	require.NoError(t, EnsureDir(dir))
	fixtures := make([]DisplayFixture, 0, len(StandardReadings))
	for _, r := range StandardReadings {
		cfg := DefaultDisplayConfig()
		cfg.Lines = [3]string{fmt.Sprint(r[0]), fmt.Sprint(r[1]), fmt.Sprint(r[2])}
		name := fmt.Sprintf("bp_%d_%d_%d", r[0], r[1], r[2])
		file := name + ".png"
		SaveImage(t, RenderDisplay(cfg), filepath.Join(dir, file))
		fixtures = append(fixtures, DisplayFixture{
			Name:      name,
			File:      file,
			Systolic:  intPtr(r[0]),
			Diastolic: intPtr(r[1]),
			Pulse:     intPtr(r[2]),
		})
	}

	data, err := yaml.Marshal(map[string]any{"samples": fixtures})
	require.NoError(t, err, "Failed to marshal manifest")
	manifest := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifest, data, 0o600))
	return manifest, fixtures
}
