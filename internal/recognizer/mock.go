package recognizer

import (
	"context"
	"image"
	"sync"
	"time"
)

// ScriptedEngine replays canned results in place of a real engine.
type ScriptedEngine struct {
	mu sync.Mutex

	// Results are returned in order; the last one repeats once exhausted.
	Results []Result
	// Errors, when non-nil at the call index, are returned instead of a result.
	Errors []error
	// Delay simulates a slow engine. Sleep replaces time.Sleep when set.
	Delay time.Duration
	Sleep func(time.Duration)

	calls  int
	params []Params
	closed bool
	active int
	peak   int
}

// Recognize returns the next scripted result.
func (s *ScriptedEngine) Recognize(ctx context.Context, _ image.Image, p Params) (Result, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.params = append(s.params, p)
	s.active++
	s.peak = max(s.peak, s.active)
	delay, sleep := s.Delay, s.Sleep
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if delay > 0 {
		if sleep != nil {
			sleep(delay)
		} else {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}
	}

	if idx < len(s.Errors) && s.Errors[idx] != nil {
		return Result{}, s.Errors[idx]
	}
	if len(s.Results) == 0 {
		return Result{}, nil
	}
	return s.Results[min(idx, len(s.Results)-1)], nil
}

// Close marks the engine closed.
func (s *ScriptedEngine) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Calls returns the number of Recognize calls.
func (s *ScriptedEngine) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Params returns the parameters of every call so far.
func (s *ScriptedEngine) Params() []Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Params(nil), s.params...)
}

// Closed reports whether Close was called.
func (s *ScriptedEngine) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// PeakConcurrency returns the highest number of overlapping calls observed.
func (s *ScriptedEngine) PeakConcurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}
