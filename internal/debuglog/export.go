package debuglog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// CSVHeader lists the columns written by WriteCSV.
var CSVHeader = []string{
	"run_id", "id", "method", "preset", "resolution", "mode", "roi_index", "raw_text",
	"confidence", "total_score", "score_breakdown", "vitals", "elapsed_ms", "error",
}

// WriteCSV writes records as CSV with a header row.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.RunID,
			r.ID,
			r.Method,
			r.Preset,
			strconv.Itoa(r.Resolution),
			r.Mode,
			strconv.Itoa(r.ROIIndex),
			r.RawText,
			fmt.Sprintf("%.1f", r.Confidence),
			fmt.Sprintf("%.2f", r.TotalScore),
			FormatBreakdown(r.ScoreBreakdown),
			r.Vitals,
			fmt.Sprintf("%.1f", r.ElapsedMs),
			r.Error,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// FormatBreakdown renders a breakdown as "key=value" pairs sorted by key.
func FormatBreakdown(b map[string]float64) string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.1f", k, b[k]))
	}
	return strings.Join(parts, ";")
}
