package eval

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// SampleResult is the outcome for one sample.
type SampleResult struct {
	Name        string  `json:"name"`
	File        string  `json:"file"`
	Expected    string  `json:"expected"`
	Got         string  `json:"got"`
	RawText     string  `json:"raw_text"`
	Method      string  `json:"method,omitempty"`
	Score       float64 `json:"score"`
	SystolicOK  bool    `json:"systolic_ok"`
	DiastolicOK bool    `json:"diastolic_ok"`
	PulseOK     bool    `json:"pulse_ok"`
	PairOK      bool    `json:"pair_ok"`
	WER         float64 `json:"wer"`
	Attempts    int     `json:"attempts"`
	ElapsedMs   float64 `json:"elapsed_ms"`
	ErrorCode   string  `json:"error_code,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Report aggregates sample results. Each accuracy is a fraction in [0,1]
// over the samples labelled for that field; failed samples count as wrong.
type Report struct {
	Total             int            `json:"total"`
	Failed            int            `json:"failed"`
	SystolicAccuracy  float64        `json:"systolic_accuracy"`
	DiastolicAccuracy float64        `json:"diastolic_accuracy"`
	PulseAccuracy     float64        `json:"pulse_accuracy"`
	PairAccuracy      float64        `json:"pair_accuracy"`
	MeanWER           float64        `json:"mean_wer"`
	ElapsedMs         float64        `json:"elapsed_ms"`
	Samples           []SampleResult `json:"samples"`

	tally [4]fieldTally
}

type fieldTally struct{ labelled, correct int }

func (f *fieldTally) count(labelled, ok bool) {
	if !labelled {
		return
	}
	f.labelled++
	if ok {
		f.correct++
	}
}

func (f fieldTally) accuracy() float64 {
	if f.labelled == 0 {
		return 0
	}
	return float64(f.correct) / float64(f.labelled)
}

func (r *Report) add(s Sample, sr SampleResult) {
	r.Samples = append(r.Samples, sr)
	if sr.Error != "" {
		r.Failed++
	}
	r.tally[0].count(s.Systolic != nil, sr.SystolicOK)
	r.tally[1].count(s.Diastolic != nil, sr.DiastolicOK)
	r.tally[2].count(s.Pulse != nil, sr.PulseOK)
	r.tally[3].count(s.Systolic != nil && s.Diastolic != nil, sr.PairOK)
}

func (r *Report) finalize(elapsed time.Duration) {
	r.SystolicAccuracy = r.tally[0].accuracy()
	r.DiastolicAccuracy = r.tally[1].accuracy()
	r.PulseAccuracy = r.tally[2].accuracy()
	r.PairAccuracy = r.tally[3].accuracy()
	r.MeanWER = 0
	if n := len(r.Samples); n > 0 {
		var sum float64
		for _, sr := range r.Samples {
			sum += sr.WER
		}
		r.MeanWER = sum / float64(n)
	}
	r.ElapsedMs = float64(elapsed.Microseconds()) / 1000
}

// WriteText prints a per-sample table followed by the summary.
func (r *Report) WriteText(w io.Writer) error {
	for _, sr := range r.Samples {
		status := "ok"
		switch {
		case sr.Error != "":
			status = "error: " + sr.Error
		case !sr.PairOK:
			status = "MISMATCH"
		}
		if _, err := fmt.Fprintf(w, "%-24s expected %-12s got %-12s wer %.2f  %s\n",
			sr.Name, sr.Expected, sr.Got, sr.WER, status); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w,
		"\nSamples: %d (failed %d)\nSystolic: %.1f%%  Diastolic: %.1f%%  Pulse: %.1f%%\nPair: %.1f%%  Mean WER: %.3f\n",
		r.Total, r.Failed,
		r.SystolicAccuracy*100, r.DiastolicAccuracy*100, r.PulseAccuracy*100,
		r.PairAccuracy*100, r.MeanWER)
	return err
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteCSV writes one row per sample with a header.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"name", "file", "expected", "got", "raw_text", "method", "score",
		"pair_ok", "wer", "attempts", "elapsed_ms", "error_code", "error",
	}); err != nil {
		return err
	}
	for _, sr := range r.Samples {
		if err := cw.Write([]string{
			sr.Name,
			sr.File,
			sr.Expected,
			sr.Got,
			sr.RawText,
			sr.Method,
			fmt.Sprintf("%.2f", sr.Score),
			strconv.FormatBool(sr.PairOK),
			fmt.Sprintf("%.3f", sr.WER),
			strconv.Itoa(sr.Attempts),
			fmt.Sprintf("%.1f", sr.ElapsedMs),
			sr.ErrorCode,
			sr.Error,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
