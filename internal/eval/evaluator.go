package eval

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/codycollier/wer"

	"github.com/MeKo-Tech/bpread/internal/common"
	"github.com/MeKo-Tech/bpread/internal/explore"
	"github.com/MeKo-Tech/bpread/internal/preprocess"
	"github.com/MeKo-Tech/bpread/internal/source"
)

// Recognizer reads one display image. *explore.Session satisfies it.
type Recognizer interface {
	Recognize(ctx context.Context, src source.Source, opts explore.Options) (*explore.Result, error)
}

// Evaluator runs a Recognizer over every sample of a manifest.
type Evaluator struct {
	rec      Recognizer
	progress ProgressCallback
	logger   *slog.Logger
	clock    common.Clock
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithProgress reports progress to cb.
func WithProgress(cb ProgressCallback) Option {
	return func(e *Evaluator) {
		if cb != nil {
			e.progress = cb
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces the wall clock used for timings.
func WithClock(c common.Clock) Option {
	return func(e *Evaluator) {
		if c != nil {
			e.clock = c
		}
	}
}

// New returns an Evaluator around rec.
func New(rec Recognizer, opts ...Option) *Evaluator {
	e := &Evaluator{
		rec:      rec,
		progress: NoOpProgressCallback{},
		logger:   slog.Default(),
		clock:    common.SystemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run evaluates every sample in order. Samples that fail to read are
// counted as failures and do not stop the run; cancellation does, and the
// partial report is returned with the context error.
func (e *Evaluator) Run(ctx context.Context, m *Manifest) (*Report, error) {
	total := len(m.Samples)
	report := &Report{Total: total, Samples: make([]SampleResult, 0, total)}
	start := e.clock.Now()

	e.progress.OnStart(total)
	defer e.progress.OnComplete()

	for i, s := range m.Samples {
		if err := ctx.Err(); err != nil {
			report.finalize(e.clock.Now().Sub(start))
			return report, err
		}
		sr := e.evaluate(ctx, m, s)
		report.add(s, sr)
		e.progress.OnSample(i+1, total, sr)
	}

	report.finalize(e.clock.Now().Sub(start))
	e.logger.Info("evaluation finished",
		"samples", total, "pair_accuracy", report.PairAccuracy, "mean_wer", report.MeanWER,
		"failed", report.Failed)
	return report, nil
}

func (e *Evaluator) evaluate(ctx context.Context, m *Manifest, s Sample) SampleResult {
	sr := SampleResult{Name: s.Name, File: s.File, Expected: s.Expected()}
	var opts explore.Options
	if s.ROI != nil {
		opts.ROIs = []preprocess.ROI{*s.ROI}
	}

	res, err := e.rec.Recognize(ctx, source.FromRef(m.Ref(s)), opts)
	if err != nil {
		sr.Error = err.Error()
		sr.WER = 1
		e.logger.Warn("evaluation sample failed", "sample", s.Name, "error", err)
		return sr
	}

	sr.Attempts = res.AttemptsRun
	sr.ElapsedMs = res.TotalElapsedMs
	sr.ErrorCode = res.ErrorCode
	if sel, ok := res.Selected(); ok {
		sr.RawText = sel.RawText
		sr.Method = sel.Method
		sr.Score = sel.Score.Total
	}
	if res.Vitals != nil {
		sr.Got = res.Vitals.Summary()
		sr.SystolicOK = matches(s.Systolic, res.Vitals.Systolic)
		sr.DiastolicOK = matches(s.Diastolic, res.Vitals.Diastolic)
		sr.PulseOK = matches(s.Pulse, res.Vitals.Pulse)
	}
	sr.PairOK = s.Systolic != nil && s.Diastolic != nil && sr.SystolicOK && sr.DiastolicOK
	sr.WER = WordErrorRate(sr.Expected, sr.RawText)
	return sr
}

func matches(want, got *int) bool {
	return want != nil && got != nil && *want == *got
}

// numberTokens splits text into its digit runs.
func numberTokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsDigit(r) })
}

// WordErrorRate compares the numbers in candidate against those in
// reference. Everything but digit runs is ignored, so "120/80 72" and
// "SYS 120 DIA 80 PUL 72" are equivalent. An empty reference yields 0.
func WordErrorRate(reference, candidate string) float64 {
	ref := numberTokens(reference)
	if len(ref) == 0 {
		return 0
	}
	cand := numberTokens(candidate)
	if len(cand) == 0 {
		return 1
	}
	rate, _ := wer.WER(ref, cand)
	return rate
}
