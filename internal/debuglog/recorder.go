// Package debuglog keeps a bounded record of exploration attempts and a few
// intermediate rasters for offline inspection.
package debuglog

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"
)

// Default bounds of a Recorder.
const (
	DefaultMaxRecords = 24
	DefaultMaxRasters = 4
)

// Record is the flat, exportable form of one attempt.
type Record struct {
	RunID          string             `json:"run_id"`
	ID             string             `json:"id"`
	Method         string             `json:"method"`
	Preset         string             `json:"preset"`
	Resolution     int                `json:"resolution"`
	Mode           string             `json:"mode"`
	ROIIndex       int                `json:"roi_index"`
	RawText        string             `json:"raw_text"`
	Confidence     float64            `json:"confidence"`
	TotalScore     float64            `json:"total_score"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown"`
	Vitals         string             `json:"vitals"`
	ElapsedMs      float64            `json:"elapsed_ms"`
	Error          string             `json:"error,omitempty"`
}

// Raster is a retained intermediate image, PNG encoded.
type Raster struct {
	Name string `json:"name"`
	PNG  []byte `json:"png"`
}

// Recorder accumulates records and rasters up to fixed bounds. Once full,
// further additions are counted but dropped. Safe for concurrent use.
type Recorder struct {
	maxRecords int
	maxRasters int

	mu      sync.RWMutex
	records []Record
	rasters []Raster
	dropped int
}

// NewRecorder creates a recorder. Non-positive bounds use the defaults.
func NewRecorder(maxRecords, maxRasters int) *Recorder {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	if maxRasters < 0 {
		maxRasters = DefaultMaxRasters
	}
	return &Recorder{maxRecords: maxRecords, maxRasters: maxRasters}
}

// Add appends a record. It reports false when the recorder is full.
func (r *Recorder) Add(rec Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) >= r.maxRecords {
		r.dropped++
		return false
	}
	r.records = append(r.records, rec)
	return true
}

// Snapshot encodes img as PNG and retains it under name, while fewer than
// the maximum number of rasters are held.
func (r *Recorder) Snapshot(name string, img image.Image) error {
	if img == nil {
		return fmt.Errorf("snapshot %q: nil image", name)
	}
	r.mu.RLock()
	full := len(r.rasters) >= r.maxRasters
	r.mu.RUnlock()
	if full {
		return nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("snapshot %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rasters) < r.maxRasters {
		r.rasters = append(r.rasters, Raster{Name: name, PNG: buf.Bytes()})
	}
	return nil
}

// Records returns a copy of the retained records.
func (r *Recorder) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Record(nil), r.records...)
}

// Rasters returns a copy of the retained rasters.
func (r *Recorder) Rasters() []Raster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Raster(nil), r.rasters...)
}

// Dropped returns how many records did not fit.
func (r *Recorder) Dropped() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// Reset clears everything.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.rasters = nil
	r.dropped = 0
}
