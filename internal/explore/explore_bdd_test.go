package explore

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/bpread/internal/preprocess"
	"github.com/MeKo-Tech/bpread/internal/recognizer"
	"github.com/MeKo-Tech/bpread/internal/testutil"
)

// scenario holds the state of one exploration scenario.
type scenario struct {
	img    image.Image
	engine *recognizer.ScriptedEngine
	clock  *testutil.FakeClock
	cfg    Config
	rois   []preprocess.ROI
	result *Result
}

func (s *scenario) aRenderedDisplay(text string) error {
	var sys, dia, pulse string
	if _, err := fmt.Sscanf(strings.Replace(text, "/", " ", 1), "%s %s %s", &sys, &dia, &pulse); err != nil {
		return fmt.Errorf("parse display text %q: %w", text, err)
	}
	cfg := testutil.DefaultDisplayConfig()
	cfg.Lines = [3]string{sys, dia, pulse}
	s.img = testutil.RenderDisplay(cfg)
	return nil
}

func (s *scenario) engineAlwaysAnswers(text string, conf float64) error {
	s.engine.Results = []recognizer.Result{{Text: text, Confidence: conf}}
	return nil
}

func (s *scenario) engineFailsFirst(text string, conf float64) error {
	s.engine.Errors = []error{errors.New("engine failure")}
	s.engine.Results = []recognizer.Result{{}, {Text: text, Confidence: conf}}
	return nil
}

func (s *scenario) attemptCap(n int) error {
	s.cfg.MaxAttempts = n
	return nil
}

func (s *scenario) fallbackDisabled() error {
	s.cfg.SegmentFallback = false
	return nil
}

func (s *scenario) recognitionTakes(seconds int) error {
	s.engine.Delay = time.Duration(seconds) * time.Second
	s.engine.Sleep = s.clock.Sleep
	return nil
}

func (s *scenario) timeBudget(seconds int) error {
	s.cfg.Timeout = time.Duration(seconds) * time.Second
	return nil
}

func (s *scenario) singleStepOrder() error {
	s.cfg.Order = []Step{{Resolution: ResolutionMedium, Preset: preprocess.PresetA, Mode: recognizer.ModeSingleBlock}}
	return nil
}

func (s *scenario) wholeImageROI() error {
	b := s.img.Bounds()
	s.rois = []preprocess.ROI{{X: 0, Y: 0, Width: b.Dx(), Height: b.Dy()}}
	return nil
}

func (s *scenario) exploreImage(ctx context.Context) error {
	handle := recognizer.NewHandle(func() (recognizer.Engine, error) { return s.engine, nil })
	res, err := NewScheduler(handle, s.cfg, WithClock(s.clock)).Explore(ctx, s.img, s.rois)
	if err != nil {
		return err
	}
	s.result = res
	return nil
}

func (s *scenario) attemptsRun(n int) error {
	if s.result.AttemptsRun != n {
		return fmt.Errorf("expected %d attempts, got %d", n, s.result.AttemptsRun)
	}
	if calls := s.engine.Calls(); calls > n {
		return fmt.Errorf("engine called %d times for %d attempts", calls, n)
	}
	return nil
}

func (s *scenario) selectedAttemptIs(index int) error {
	sel, ok := s.result.Selected()
	if !ok {
		return errors.New("no attempt selected")
	}
	if sel.Index != index {
		return fmt.Errorf("expected attempt %d selected, got %d", index, sel.Index)
	}
	return nil
}

func (s *scenario) selectedMethod(method string) error {
	sel, ok := s.result.Selected()
	if !ok {
		return errors.New("no attempt selected")
	}
	if sel.Method != method {
		return fmt.Errorf("expected method %q, got %q", method, sel.Method)
	}
	return nil
}

func (s *scenario) readingIs(sys, dia, pulse int) error {
	v := s.result.Vitals
	if v == nil {
		return errors.New("no vitals")
	}
	if got := v.Summary(); got != fmt.Sprintf("%d/%d %d", sys, dia, pulse) {
		return fmt.Errorf("unexpected reading %s", got)
	}
	return nil
}

func (s *scenario) noErrorCode() error {
	if s.result.ErrorCode != "" {
		return fmt.Errorf("unexpected error code %s", s.result.ErrorCode)
	}
	return nil
}

func (s *scenario) errorCodeIs(code string) error {
	if s.result.ErrorCode != code {
		return fmt.Errorf("expected error code %q, got %q", code, s.result.ErrorCode)
	}
	return nil
}

func (s *scenario) stopReasonIs(reason string) error {
	if s.result.StopReason != reason {
		return fmt.Errorf("expected stop reason %q, got %q", reason, s.result.StopReason)
	}
	return nil
}

func (s *scenario) attemptHasError(index int) error {
	for _, a := range s.result.Attempts {
		if a.Index == index {
			if a.Error == "" {
				return fmt.Errorf("attempt %d has no error", index)
			}
			return nil
		}
	}
	return fmt.Errorf("attempt %d not in log", index)
}

func initializeScenario(sc *godog.ScenarioContext) {
	s := &scenario{}
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		*s = scenario{
			engine: &recognizer.ScriptedEngine{},
			clock:  testutil.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
			cfg:    DefaultConfig(),
		}
		return ctx, nil
	})

	sc.Step(`^a rendered display showing "([^"]*)"$`, s.aRenderedDisplay)
	sc.Step(`^the engine always answers "([^"]*)" with confidence (\d+)$`, s.engineAlwaysAnswers)
	sc.Step(`^the engine fails on the first call and then answers "([^"]*)" with confidence (\d+)$`, s.engineFailsFirst)
	sc.Step(`^the attempt cap is (\d+)$`, s.attemptCap)
	sc.Step(`^the seven-segment fallback is disabled$`, s.fallbackDisabled)
	sc.Step(`^every recognition takes (\d+) seconds$`, s.recognitionTakes)
	sc.Step(`^the time budget is (\d+) seconds$`, s.timeBudget)
	sc.Step(`^the exploration order has a single step$`, s.singleStepOrder)
	sc.Step(`^the whole image is the region of interest$`, s.wholeImageROI)
	sc.Step(`^I explore the image$`, s.exploreImage)
	sc.Step(`^exactly (\d+) attempts? (?:is|are) run$`, s.attemptsRun)
	sc.Step(`^the selected attempt is attempt (\d+)$`, s.selectedAttemptIs)
	sc.Step(`^the selected attempt used the "([^"]*)" method$`, s.selectedMethod)
	sc.Step(`^the reading is (\d+)/(\d+) with pulse (\d+)$`, s.readingIs)
	sc.Step(`^no error code is reported$`, s.noErrorCode)
	sc.Step(`^the error code is "([^"]*)"$`, s.errorCodeIs)
	sc.Step(`^the stop reason is "([^"]*)"$`, s.stopReasonIs)
	sc.Step(`^attempt (\d+) has an error$`, s.attemptHasError)
}

// TestFeatures runs the exploration scenarios.
func TestFeatures(t *testing.T) {
	entries, err := os.ReadDir("features")
	if err != nil {
		t.Fatalf("failed to read features directory: %v", err)
	}

	format := os.Getenv("GODOG_FORMAT")
	if format == "" {
		format = "progress"
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".feature") {
			continue
		}
		featurePath := filepath.Join("features", e.Name())
		t.Run(e.Name(), func(t *testing.T) {
			suite := godog.TestSuite{
				ScenarioInitializer: initializeScenario,
				Options: &godog.Options{
					Format:   format,
					Tags:     os.Getenv("GODOG_TAGS"),
					Paths:    []string{featurePath},
					TestingT: t,
					Strict:   true,
				},
			}
			if suite.Run() != 0 {
				t.Fatalf("non-zero status returned for %s", featurePath)
			}
		})
	}
}
