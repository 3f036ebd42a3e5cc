package recognizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
)

// ErrClosed is returned by a Handle after Close.
var ErrClosed = errors.New("recognizer handle closed")

// Handle owns a single engine instance. The engine is created lazily on the
// first call, reused across calls, and released by Reset or Close. Calls are
// serialized: the engine never sees overlapping requests.
type Handle struct {
	factory Factory
	sem     chan struct{}

	mu     sync.Mutex
	engine Engine
	inits  int
	closed bool
}

// NewHandle creates a handle that builds its engine with factory.
func NewHandle(factory Factory) *Handle {
	return &Handle{factory: factory, sem: make(chan struct{}, 1)}
}

func (h *Handle) acquire(ctx context.Context) error {
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) release() { <-h.sem }

// ensure returns the live engine, creating it if needed. Caller holds sem.
func (h *Handle) ensure() (Engine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if h.engine != nil {
		return h.engine, nil
	}
	if h.factory == nil {
		return nil, errors.New("recognizer: no engine factory")
	}
	engine, err := h.factory()
	if err != nil {
		return nil, fmt.Errorf("initialize recognition engine: %w", err)
	}
	h.engine = engine
	h.inits++
	slog.Debug("recognition engine initialized", "inits", h.inits)
	return engine, nil
}

// Recognize runs the engine on img. It waits for any in-flight call to
// finish first, or returns early if ctx is done while waiting.
func (h *Handle) Recognize(ctx context.Context, img image.Image, p Params) (Result, error) {
	if err := h.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer h.release()

	engine, err := h.ensure()
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return engine.Recognize(ctx, img, p)
}

// Warmup creates the engine eagerly.
func (h *Handle) Warmup(ctx context.Context) error {
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer h.release()
	_, err := h.ensure()
	return err
}

// Initialized reports whether an engine is currently live.
func (h *Handle) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine != nil
}

// Inits returns how many engines the handle has created.
func (h *Handle) Inits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inits
}

// Reset releases the current engine; the next call creates a fresh one.
func (h *Handle) Reset(ctx context.Context) error {
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer h.release()
	return h.dispose(false)
}

// Close releases the engine for good. It waits for an in-flight call.
func (h *Handle) Close() error {
	h.sem <- struct{}{}
	defer h.release()
	return h.dispose(true)
}

func (h *Handle) dispose(final bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if final {
		h.closed = true
	}
	if h.engine == nil {
		return nil
	}
	err := h.engine.Close()
	h.engine = nil
	if err != nil {
		return fmt.Errorf("close recognition engine: %w", err)
	}
	return nil
}
