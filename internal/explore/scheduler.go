package explore

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/bpread/internal/common"
	"github.com/MeKo-Tech/bpread/internal/debuglog"
	"github.com/MeKo-Tech/bpread/internal/preprocess"
	"github.com/MeKo-Tech/bpread/internal/recognizer"
	"github.com/MeKo-Tech/bpread/internal/segment"
	"github.com/MeKo-Tech/bpread/internal/vitals"
)

// Error codes reported in Result.ErrorCode.
const (
	ErrorTimeout      = "TIMEOUT"
	ErrorPairNotFound = "BP_PAIR_NOT_FOUND"
)

// Attempt methods.
const (
	MethodOCR          = "ocr"
	MethodSevenSegment = "seven-segment"
)

// Reasons exploration stopped.
const (
	StopEarlyAccept = "early-accept"
	StopMaxAttempts = "max-attempts"
	StopTimeout     = "timeout"
	StopExhausted   = "exhausted"
)

// Config bounds and parameterizes an exploration run.
type Config struct {
	Order       []Step        `json:"order,omitempty" yaml:"order,omitempty" mapstructure:"order"`
	EarlyAccept float64       `json:"early_accept" yaml:"early_accept" mapstructure:"early_accept"`
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	LogCap      int           `json:"log_cap" yaml:"log_cap" mapstructure:"log_cap"`
	Weights     Weights       `json:"weights" yaml:"weights" mapstructure:"weights"`

	// SegmentFallback decodes the display with the seven-segment decoder
	// when no attempt produced a blood-pressure pair and budget remains.
	SegmentFallback bool           `json:"segment_fallback" yaml:"segment_fallback" mapstructure:"segment_fallback"`
	SegmentLayout   segment.Layout `json:"segment_layout" yaml:"segment_layout" mapstructure:"segment_layout"`

	// MarginRatio expands every ROI before cropping; 0 uses the pipeline
	// default and a negative value disables the margin.
	MarginRatio float64 `json:"margin_ratio,omitempty" yaml:"margin_ratio,omitempty" mapstructure:"margin_ratio"`
}

// DefaultConfig returns the default budget: accept at 85, at most 24
// attempts, 10 seconds.
func DefaultConfig() Config {
	return Config{
		Order:           DefaultOrder(),
		EarlyAccept:     85,
		MaxAttempts:     24,
		Timeout:         10 * time.Second,
		LogCap:          24,
		Weights:         DefaultWeights(),
		SegmentFallback: true,
		SegmentLayout:   segment.Layout{Counts: [3]int{3, 2, 2}, Flexible: true},
	}
}

// Validate checks the budget values.
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return errors.New("max attempts must be > 0")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if c.LogCap <= 0 {
		return errors.New("log cap must be > 0")
	}
	if c.EarlyAccept < 0 || c.EarlyAccept > 100 {
		return fmt.Errorf("early accept %.1f outside [0,100]", c.EarlyAccept)
	}
	if c.Weights.OCR < 0 || c.Weights.Extract < 0 {
		return errors.New("score weights must be >= 0")
	}
	for i, s := range c.Order {
		if !s.Preset.Valid() {
			return fmt.Errorf("order step %d: unknown preset %d", i, int(s.Preset))
		}
		if s.Resolution <= 0 {
			return fmt.Errorf("order step %d: resolution must be > 0", i)
		}
	}
	return nil
}

// Attempt is one preprocess/recognize/extract/score pass.
type Attempt struct {
	ID            string          `json:"id"`
	Index         int             `json:"index"`
	Method        string          `json:"method"`
	Preset        string          `json:"preset"`
	Resolution    int             `json:"resolution"`
	Mode          string          `json:"mode"`
	ROIIndex      int             `json:"roi_index"`
	RawText       string          `json:"raw_text"`
	RawConfidence float64         `json:"raw_confidence"`
	Vitals        vitals.Vitals   `json:"vitals"`
	Evidence      vitals.Evidence `json:"evidence"`
	Score         ScoreBreakdown  `json:"score"`
	ElapsedMs     float64         `json:"elapsed_ms"`
	Preprocess    preprocess.Meta `json:"preprocess"`
	Error         string          `json:"error,omitempty"`
}

// Record flattens the attempt for debug export.
func (a Attempt) Record(runID string) debuglog.Record {
	return debuglog.Record{
		RunID:      runID,
		ID:         a.ID,
		Method:     a.Method,
		Preset:     a.Preset,
		Resolution: a.Resolution,
		Mode:       a.Mode,
		ROIIndex:   a.ROIIndex,
		RawText:    a.RawText,
		Confidence: a.RawConfidence,
		TotalScore: a.Score.Total,
		ScoreBreakdown: map[string]float64{
			"ocr":       a.Score.OCR,
			"in_range":  a.Score.InRange,
			"order":     a.Score.Order,
			"typical":   a.Score.Typical,
			"separator": a.Score.Separator,
			"marker":    a.Score.Marker,
			"missing":   a.Score.Missing,
			"outliers":  a.Score.Outliers,
			"extract":   a.Score.Extract,
		},
		Vitals:    a.Vitals.Summary(),
		ElapsedMs: a.ElapsedMs,
		Error:     a.Error,
	}
}

// Result is the outcome of one exploration run.
type Result struct {
	RunID             string         `json:"run_id"`
	Attempts          []Attempt      `json:"attempts"`
	AttemptsRun       int            `json:"attempts_run"`
	SelectedAttemptID string         `json:"selected_attempt_id,omitempty"`
	Vitals            *vitals.Vitals `json:"vitals"`
	TotalElapsedMs    float64        `json:"total_elapsed_ms"`
	ErrorCode         string         `json:"error_code,omitempty"`
	StopReason        string         `json:"stop_reason"`
	Warnings          []string       `json:"warnings,omitempty"`
	Debug             *DebugInfo     `json:"debug,omitempty"`
}

// DebugInfo carries the recorder contents of a debug run.
type DebugInfo struct {
	Records []debuglog.Record `json:"records"`
	Rasters []debuglog.Raster `json:"rasters,omitempty"`
}

// Selected returns the selected attempt, if any.
func (r *Result) Selected() (Attempt, bool) {
	for _, a := range r.Attempts {
		if a.ID == r.SelectedAttemptID {
			return a, true
		}
	}
	return Attempt{}, false
}

// Records flattens the attempt log.
func (r *Result) Records() []debuglog.Record {
	out := make([]debuglog.Record, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		out = append(out, a.Record(r.RunID))
	}
	return out
}

// Scheduler runs exploration attempts strictly one after another against a
// single recognizer handle.
type Scheduler struct {
	cfg       Config
	handle    *recognizer.Handle
	clock     common.Clock
	recorder  *debuglog.Recorder
	onAttempt func(Attempt, int)
	logger    *slog.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock used for the time budget.
func WithClock(c common.Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithRecorder records every attempt and snapshots preprocessed rasters.
func WithRecorder(r *debuglog.Recorder) Option { return func(s *Scheduler) { s.recorder = r } }

// WithAttemptHook is called after every scored attempt with the attempt and
// the number of attempts run so far.
func WithAttemptHook(fn func(Attempt, int)) Option {
	return func(s *Scheduler) { s.onAttempt = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// NewScheduler creates a scheduler. Zero budget fields fall back to the
// defaults and an empty order uses DefaultOrder.
func NewScheduler(handle *recognizer.Handle, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if len(cfg.Order) == 0 {
		cfg.Order = def.Order
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.LogCap <= 0 {
		cfg.LogCap = def.LogCap
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	s := &Scheduler{cfg: cfg, handle: handle, clock: common.SystemClock{}, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// runState is the mutable state of one Explore call.
type runState struct {
	result  *Result
	scorer  *Scorer
	start   time.Time
	best    int
	stopped string
}

// Explore runs the exploration order over img, once per ROI candidate (a nil
// or empty list means a single pass with the default crop). It stops on
// early accept, on the attempt cap, or when the time budget is spent; the
// budget is checked between attempts. A cancelled context aborts the run
// and returns the context error.
func (s *Scheduler) Explore(ctx context.Context, img image.Image, rois []preprocess.ROI) (*Result, error) {
	if img == nil {
		return nil, errors.New("explore: nil image")
	}
	rs := &runState{
		result: &Result{RunID: uuid.NewString()},
		scorer: NewScorer(s.cfg.Weights),
		start:  s.clock.Now(),
		best:   -1,
	}
	candidates := make([]*preprocess.ROI, 0, max(len(rois), 1))
	for i := range rois {
		candidates = append(candidates, &rois[i])
	}
	if len(candidates) == 0 {
		candidates = append(candidates, nil)
	}

loop:
	for roiIndex, roi := range candidates {
		for _, step := range s.cfg.Order {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if rs.stopped = s.budgetExhausted(rs); rs.stopped != "" {
				break loop
			}
			a, err := s.runStep(ctx, img, step, roi, roiIndex)
			if err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s.finishAttempt(rs, a)
			if a.Score.Total >= s.cfg.EarlyAccept {
				rs.stopped = StopEarlyAccept
				break loop
			}
		}
	}
	if rs.stopped == "" {
		rs.stopped = StopExhausted
	}

	if s.cfg.SegmentFallback && !s.havePair(rs) && rs.stopped != StopEarlyAccept && s.budgetExhausted(rs) == "" {
		var roi *preprocess.ROI
		if len(candidates) > 0 {
			roi = candidates[0]
		}
		s.finishAttempt(rs, s.runSegment(img, roi))
	}

	return s.finish(rs), nil
}

func (s *Scheduler) budgetExhausted(rs *runState) string {
	switch {
	case rs.result.AttemptsRun >= s.cfg.MaxAttempts:
		return StopMaxAttempts
	case s.clock.Now().Sub(rs.start) >= s.cfg.Timeout:
		return StopTimeout
	}
	return ""
}

func (s *Scheduler) havePair(rs *runState) bool {
	for _, a := range rs.result.Attempts {
		if a.Vitals.HasPair() {
			return true
		}
	}
	return false
}

// runStep performs one attempt. Engine failures are recorded on the attempt;
// only a closed handle is returned as an error.
func (s *Scheduler) runStep(ctx context.Context, img image.Image, step Step, roi *preprocess.ROI, roiIndex int) (Attempt, error) {
	started := s.clock.Now()
	a := Attempt{
		ID:         uuid.NewString(),
		Method:     MethodOCR,
		Preset:     step.Preset.String(),
		Resolution: step.Resolution,
		Mode:       step.Mode.String(),
		ROIIndex:   roiIndex,
	}

	opts := step.Options()
	opts.ROI = roi
	opts.MarginRatio = s.cfg.MarginRatio
	pipeline := preprocess.Pipeline{Clock: s.clock}
	prepared, meta := pipeline.Run(img, opts)
	a.Preprocess = meta
	if prepared == nil {
		a.Error = "preprocessing produced no image"
		a.ElapsedMs = msSince(s.clock, started)
		return a, nil
	}
	s.snapshot(a, step, prepared)

	res, err := s.handle.Recognize(ctx, prepared, recognizer.Params{
		AllowedChars: recognizer.DigitsAndSlash,
		Mode:         step.Mode,
	})
	if errors.Is(err, recognizer.ErrClosed) {
		return a, err
	}
	if err != nil {
		a.Error = err.Error()
		a.ElapsedMs = msSince(s.clock, started)
		return a, nil
	}
	a.RawText = res.Text
	a.RawConfidence = res.Confidence
	a.Vitals, a.Evidence = vitals.Analyze(res.Text, vitals.Confidence{
		Overall: res.Confidence,
		PerChar: res.CharConfidences(),
	})
	a.ElapsedMs = msSince(s.clock, started)
	return a, nil
}

func (s *Scheduler) runSegment(img image.Image, roi *preprocess.ROI) Attempt {
	started := s.clock.Now()
	a := Attempt{
		ID:         uuid.NewString(),
		Method:     MethodSevenSegment,
		Preset:     preprocess.PresetA.String(),
		Resolution: ResolutionMedium,
		Mode:       MethodSevenSegment,
	}
	opts := Step{Resolution: ResolutionMedium, Preset: preprocess.PresetA}.Options()
	opts.ROI = roi
	opts.MarginRatio = s.cfg.MarginRatio
	prepared, meta := (&preprocess.Pipeline{Clock: s.clock}).Run(img, opts)
	a.Preprocess = meta
	if prepared == nil {
		a.Error = "preprocessing produced no image"
		a.ElapsedMs = msSince(s.clock, started)
		return a
	}
	reading := segment.DecodeDisplay(prepared, s.cfg.SegmentLayout)
	a.RawText = reading.Text()
	a.RawConfidence = reading.Confidence
	a.Vitals = vitals.FromValues(reading.Systolic, reading.Diastolic, reading.Pulse, reading.Confidence)
	a.ElapsedMs = msSince(s.clock, started)
	return a
}

// finishAttempt scores a, appends it to the bounded log and reports it.
func (s *Scheduler) finishAttempt(rs *runState, a Attempt) {
	r := rs.result
	r.AttemptsRun++
	a.Index = r.AttemptsRun
	if a.Error == "" {
		a.Score = rs.scorer.Observe(a.RawConfidence, a.Vitals, a.Evidence)
	} else {
		a.Vitals = vitals.Empty()
	}

	s.logger.Debug("exploration attempt",
		"run", r.RunID, "index", a.Index, "method", a.Method, "preset", a.Preset,
		"resolution", a.Resolution, "mode", a.Mode, "text", a.RawText,
		"confidence", a.RawConfidence, "score", a.Score.Total, "error", a.Error)

	if s.recorder != nil {
		s.recorder.Add(a.Record(r.RunID))
	}

	s.appendCapped(rs, a)
	if s.onAttempt != nil {
		s.onAttempt(a, r.AttemptsRun)
	}
}

// appendCapped adds a to the log. When the log is full the lowest-scoring
// attempt other than the current best is dropped, oldest first on ties.
func (s *Scheduler) appendCapped(rs *runState, a Attempt) {
	r := rs.result
	r.Attempts = append(r.Attempts, a)
	if rs.best < 0 || a.Score.Total > r.Attempts[rs.best].Score.Total {
		rs.best = len(r.Attempts) - 1
	}
	if len(r.Attempts) <= s.cfg.LogCap {
		return
	}
	drop := -1
	for i, c := range r.Attempts {
		if i == rs.best {
			continue
		}
		if drop < 0 || c.Score.Total < r.Attempts[drop].Score.Total {
			drop = i
		}
	}
	r.Attempts = append(r.Attempts[:drop], r.Attempts[drop+1:]...)
	if drop < rs.best {
		rs.best--
	}
}

func (s *Scheduler) finish(rs *runState) *Result {
	r := rs.result
	r.StopReason = rs.stopped
	r.TotalElapsedMs = msSince(s.clock, rs.start)
	if rs.best >= 0 {
		sel := r.Attempts[rs.best]
		r.SelectedAttemptID = sel.ID
		// An errored attempt read nothing; its result carries no vitals.
		if sel.Error == "" {
			v := sel.Vitals
			r.Vitals = &v
			r.Warnings = append(r.Warnings, sel.Vitals.Warnings...)
		}
	}
	if !s.havePair(rs) {
		if rs.stopped == StopTimeout {
			r.ErrorCode = ErrorTimeout
		} else {
			r.ErrorCode = ErrorPairNotFound
		}
	}
	if s.recorder != nil {
		r.Debug = &DebugInfo{Records: s.recorder.Records(), Rasters: s.recorder.Rasters()}
	}
	s.logger.Info("exploration finished",
		"run", r.RunID, "attempts", r.AttemptsRun, "stop", r.StopReason,
		"selected", r.SelectedAttemptID, "error_code", r.ErrorCode,
		"elapsed_ms", fmt.Sprintf("%.1f", r.TotalElapsedMs))
	return r
}

func (s *Scheduler) snapshot(a Attempt, step Step, img image.Image) {
	if s.recorder == nil {
		return
	}
	name := fmt.Sprintf("%s_%d_%s_psm%d", a.ID[:8], step.Resolution, step.Preset, int(step.Mode))
	if err := s.recorder.Snapshot(name, img); err != nil {
		s.logger.Warn("debug snapshot failed", "attempt", a.ID, "error", err)
	}
}

func msSince(c common.Clock, start time.Time) float64 {
	return float64(c.Now().Sub(start)) / float64(time.Millisecond)
}
