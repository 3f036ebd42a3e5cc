package recognizer

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleLazyInitAndReuse(t *testing.T) {
	var created []*ScriptedEngine
	h := NewHandle(func() (Engine, error) {
		e := &ScriptedEngine{Results: []Result{{Text: "120/80", Confidence: 90}}}
		created = append(created, e)
		return e, nil
	})
	assert.False(t, h.Initialized())
	assert.Empty(t, created)

	ctx := context.Background()
	for range 3 {
		res, err := h.Recognize(ctx, image.NewGray(image.Rect(0, 0, 4, 4)), Params{AllowedChars: DigitsAndSlash, Mode: ModeSingleBlock})
		require.NoError(t, err)
		assert.Equal(t, "120/80", res.Text)
	}
	require.Len(t, created, 1)
	assert.Equal(t, 3, created[0].Calls())
	assert.Equal(t, 1, h.Inits())
	assert.Equal(t, ModeSingleBlock, created[0].Params()[0].Mode)
}

func TestHandleResetReinitializes(t *testing.T) {
	var created []*ScriptedEngine
	h := NewHandle(func() (Engine, error) {
		e := &ScriptedEngine{}
		created = append(created, e)
		return e, nil
	})
	ctx := context.Background()

	require.NoError(t, h.Warmup(ctx))
	assert.True(t, h.Initialized())
	require.NoError(t, h.Reset(ctx))
	assert.False(t, h.Initialized())
	assert.True(t, created[0].Closed())

	_, err := h.Recognize(ctx, nil, Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, h.Inits())
}

func TestHandleClose(t *testing.T) {
	engine := &ScriptedEngine{}
	h := NewHandle(func() (Engine, error) { return engine, nil })
	ctx := context.Background()

	_, err := h.Recognize(ctx, nil, Params{})
	require.NoError(t, err)
	require.NoError(t, h.Close())
	assert.True(t, engine.Closed())

	_, err = h.Recognize(ctx, nil, Params{})
	require.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.Warmup(ctx), ErrClosed)
	assert.NoError(t, h.Close(), "closing twice is harmless")
}

func TestHandleFactoryError(t *testing.T) {
	boom := errors.New("tessdata missing")
	h := NewHandle(func() (Engine, error) { return nil, boom })

	_, err := h.Recognize(context.Background(), nil, Params{})
	require.ErrorIs(t, err, boom)
	assert.False(t, h.Initialized())
}

func TestHandleSerializesCalls(t *testing.T) {
	engine := &ScriptedEngine{Delay: 5 * time.Millisecond}
	h := NewHandle(func() (Engine, error) { return engine, nil })

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Recognize(context.Background(), nil, Params{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, engine.Calls())
	assert.Equal(t, 1, engine.PeakConcurrency())
}

func TestHandleContextCancelledWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	engine := &ScriptedEngine{Delay: time.Hour, Sleep: func(time.Duration) { <-release }}
	h := NewHandle(func() (Engine, error) { return engine, nil })

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		_, _ = h.Recognize(context.Background(), nil, Params{})
	}()
	<-started
	require.Eventually(t, func() bool { return engine.Calls() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Recognize(ctx, nil, Params{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
	assert.Equal(t, 1, engine.Calls())
}

func TestScriptedEngineErrorsAndRepeat(t *testing.T) {
	boom := errors.New("boom")
	e := &ScriptedEngine{
		Results: []Result{{Text: "1"}, {Text: "2"}},
		Errors:  []error{nil, boom},
	}
	ctx := context.Background()

	r, err := e.Recognize(ctx, nil, Params{})
	require.NoError(t, err)
	assert.Equal(t, "1", r.Text)

	_, err = e.Recognize(ctx, nil, Params{})
	require.ErrorIs(t, err, boom)

	r, err = e.Recognize(ctx, nil, Params{})
	require.NoError(t, err)
	assert.Equal(t, "2", r.Text)
}
