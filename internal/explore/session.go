package explore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/bpread/internal/common"
	"github.com/MeKo-Tech/bpread/internal/debuglog"
	"github.com/MeKo-Tech/bpread/internal/preprocess"
	"github.com/MeKo-Tech/bpread/internal/recognizer"
	"github.com/MeKo-Tech/bpread/internal/source"
)

// ErrStale is returned when the observed image changed while a recognition
// was in flight; its result is discarded.
var ErrStale = errors.New("image changed during recognition")

// ErrUnreadable wraps failures to fetch or decode the source image.
var ErrUnreadable = errors.New("image could not be read")

// Options configures one Session.Recognize call.
type Options struct {
	ROIs []preprocess.ROI
	// Debug records every attempt and retains a few preprocessed rasters.
	Debug bool
	// OnAttempt is called after every scored attempt of this call, after the
	// session-wide hook.
	OnAttempt func(Attempt, int)
}

// DebugConfig bounds what a debug run keeps and where it is shipped.
type DebugConfig struct {
	MaxRecords int
	MaxRasters int
	Sink       debuglog.Sink
}

// Session owns the recognizer handle and serializes explorations so the
// engine never serves two runs at once.
type Session struct {
	cfg      Config
	handle   *recognizer.Handle
	resolver *source.Resolver
	gen      *Generation
	debug    DebugConfig
	clock    common.Clock
	hook     func(Attempt, int)
	logger   *slog.Logger

	mu sync.Mutex
}

// Builder constructs a Session with fluent configuration.
type Builder struct {
	cfg      Config
	factory  recognizer.Factory
	handle   *recognizer.Handle
	resolver *source.Resolver
	debug    DebugConfig
	clock    common.Clock
	distance int
	logger   *slog.Logger
}

// NewBuilder creates a builder with the default exploration config.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig(), logger: slog.Default()}
}

// WithConfig sets the exploration config.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithEngineFactory sets how the recognition engine is created on first use.
func (b *Builder) WithEngineFactory(f recognizer.Factory) *Builder {
	b.factory = f
	return b
}

// WithHandle shares an existing handle instead of creating one.
func (b *Builder) WithHandle(h *recognizer.Handle) *Builder {
	b.handle = h
	return b
}

// WithResolver sets how image references are fetched.
func (b *Builder) WithResolver(r *source.Resolver) *Builder {
	b.resolver = r
	return b
}

// WithDebug sets the debug bounds and optional sink.
func (b *Builder) WithDebug(d DebugConfig) *Builder {
	b.debug = d
	return b
}

// WithClock replaces the wall clock.
func (b *Builder) WithClock(c common.Clock) *Builder {
	b.clock = c
	return b
}

// WithChangeDistance sets the perceptual hash distance for Observe.
func (b *Builder) WithChangeDistance(d int) *Builder {
	b.distance = d
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	if l != nil {
		b.logger = l
	}
	return b
}

// Build validates the configuration and creates the session. The engine is
// not created until the first recognition or Warmup.
func (b *Builder) Build() (*Session, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid exploration config: %w", err)
	}
	handle := b.handle
	if handle == nil {
		if b.factory == nil {
			return nil, errors.New("no recognition engine configured")
		}
		handle = recognizer.NewHandle(b.factory)
	}
	resolver := b.resolver
	if resolver == nil {
		resolver = &source.Resolver{}
	}
	clock := b.clock
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Session{
		cfg:      b.cfg,
		handle:   handle,
		resolver: resolver,
		gen:      NewGeneration(b.distance),
		debug:    b.debug,
		clock:    clock,
		logger:   b.logger,
	}, nil
}

// Generation exposes the session's change token.
func (s *Session) Generation() *Generation { return s.gen }

// Handle returns the owned recognizer handle.
func (s *Session) Handle() *recognizer.Handle { return s.handle }

// Config returns the exploration config.
func (s *Session) Config() Config { return s.cfg }

// OnAttempt installs a hook called after every scored attempt.
func (s *Session) OnAttempt(fn func(Attempt, int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// Warmup creates the engine ahead of the first request.
func (s *Session) Warmup(ctx context.Context) error {
	return s.handle.Warmup(ctx)
}

// Recognize resolves src, explores it and returns the result. When the
// generation advances before exploration completes, the result is dropped
// and ErrStale returned.
func (s *Session) Recognize(ctx context.Context, src source.Source, opts Options) (*Result, error) {
	token := s.gen.Current()

	img, err := s.resolver.Resolve(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, src, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	schedOpts := []Option{WithClock(s.clock), WithLogger(s.logger)}
	if hook := chainHooks(s.hook, opts.OnAttempt); hook != nil {
		schedOpts = append(schedOpts, WithAttemptHook(hook))
	}
	var rec *debuglog.Recorder
	if opts.Debug {
		rec = debuglog.NewRecorder(s.debug.MaxRecords, s.debug.MaxRasters)
		schedOpts = append(schedOpts, WithRecorder(rec))
	}

	res, err := NewScheduler(s.handle, s.cfg, schedOpts...).Explore(ctx, img, opts.ROIs)
	if err != nil {
		return nil, err
	}
	if s.gen.Current() != token {
		s.logger.Info("discarding stale recognition", "run", res.RunID, "generation", token)
		return nil, ErrStale
	}

	if rec != nil && s.debug.Sink != nil {
		if err := s.debug.Sink.Push(ctx, res.RunID, rec.Records()); err != nil {
			s.logger.Warn("debug sink push failed", "run", res.RunID, "error", err)
			res.Warnings = append(res.Warnings, "debug export failed: "+err.Error())
		}
	}
	return res, nil
}

func chainHooks(first, second func(Attempt, int)) func(Attempt, int) {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	}
	return func(a Attempt, n int) {
		first(a, n)
		second(a, n)
	}
}

// Close disposes of the recognizer handle.
func (s *Session) Close() error {
	return s.handle.Close()
}
