// Package eval measures reading accuracy over a labelled set of display
// images.
package eval

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/bpread/internal/preprocess"
)

// Sample is one labelled image. A nil expected field is unlabelled and is
// left out of that field's accuracy.
type Sample struct {
	Name      string          `yaml:"name" json:"name"`
	File      string          `yaml:"file" json:"file"`
	Systolic  *int            `yaml:"systolic" json:"systolic"`
	Diastolic *int            `yaml:"diastolic" json:"diastolic"`
	Pulse     *int            `yaml:"pulse" json:"pulse"`
	ROI       *preprocess.ROI `yaml:"roi,omitempty" json:"roi,omitempty"`
}

// Expected renders the labels the same way vitals.Vitals.Summary does.
func (s Sample) Expected() string {
	return fmt.Sprintf("%s/%s %s", label(s.Systolic), label(s.Diastolic), label(s.Pulse))
}

func label(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

// Manifest is a list of samples whose relative file paths resolve against
// the manifest's directory.
type Manifest struct {
	Samples []Sample `yaml:"samples"`

	dir string
}

// LoadManifest reads a YAML manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: manifest path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data, filepath.Dir(path))
}

// ParseManifest decodes a YAML manifest. baseDir anchors relative sample
// paths.
func ParseManifest(data []byte, baseDir string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Samples) == 0 {
		return nil, errors.New("manifest has no samples")
	}
	for i := range m.Samples {
		s := &m.Samples[i]
		if strings.TrimSpace(s.File) == "" {
			return nil, fmt.Errorf("sample %d: file is required", i+1)
		}
		if s.Name == "" {
			s.Name = strings.TrimSuffix(filepath.Base(s.File), filepath.Ext(s.File))
		}
	}
	m.dir = baseDir
	return &m, nil
}

// Ref returns the reference handed to the source resolver for s. URLs and
// absolute paths are used as is.
func (m *Manifest) Ref(s Sample) string {
	if strings.Contains(s.File, "://") || filepath.IsAbs(s.File) || m.dir == "" {
		return s.File
	}
	return filepath.Join(m.dir, s.File)
}
