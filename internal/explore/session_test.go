package explore

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/bpread/internal/debuglog"
	"github.com/MeKo-Tech/bpread/internal/recognizer"
	"github.com/MeKo-Tech/bpread/internal/source"
	"github.com/MeKo-Tech/bpread/internal/testutil"
)

// funcEngine calls fn for every recognition.
type funcEngine struct {
	fn func() (recognizer.Result, error)
}

func (e funcEngine) Recognize(context.Context, image.Image, recognizer.Params) (recognizer.Result, error) {
	return e.fn()
}

func (funcEngine) Close() error { return nil }

type memorySink struct {
	mu   sync.Mutex
	runs map[string][]debuglog.Record
	err  error
}

func (m *memorySink) Push(_ context.Context, runID string, records []debuglog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.runs == nil {
		m.runs = map[string][]debuglog.Record{}
	}
	m.runs[runID] = records
	return nil
}

func TestBuilderRequiresEngine(t *testing.T) {
	_, err := NewBuilder().Build()
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxAttempts = 0
	_, err = NewBuilder().WithConfig(cfg).WithHandle(scripted(&recognizer.ScriptedEngine{})).Build()
	assert.Error(t, err)
}

func TestSessionRecognize(t *testing.T) {
	eng := &recognizer.ScriptedEngine{Results: []recognizer.Result{{Text: "120/80 75", Confidence: 95}}}
	sess, err := NewBuilder().
		WithEngineFactory(func() (recognizer.Engine, error) { return eng, nil }).
		Build()
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	var seen, perCall []int
	sess.OnAttempt(func(_ Attempt, n int) { seen = append(seen, n) })

	data := testutil.EncodePNG(t, displayImage())
	res, err := sess.Recognize(context.Background(), source.FromBytes(data), Options{
		OnAttempt: func(a Attempt, n int) {
			assert.Len(t, seen, n, "session hook runs first")
			perCall = append(perCall, a.Index)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, seen)
	assert.Equal(t, []int{1}, perCall)
	assert.Nil(t, res.Debug)
	assert.Equal(t, 120, *res.Vitals.Systolic)
	assert.True(t, sess.Handle().Initialized())

	require.NoError(t, sess.Close())
	assert.True(t, eng.Closed())
	_, err = sess.Recognize(context.Background(), source.FromImage(displayImage()), Options{})
	assert.ErrorIs(t, err, recognizer.ErrClosed)
}

func TestSessionStaleResultDiscarded(t *testing.T) {
	var sess *Session
	eng := funcEngine{fn: func() (recognizer.Result, error) {
		sess.Generation().Advance()
		return recognizer.Result{Text: "120/80 75", Confidence: 95}, nil
	}}
	var err error
	sess, err = NewBuilder().WithEngineFactory(func() (recognizer.Engine, error) { return eng, nil }).Build()
	require.NoError(t, err)

	res, err := sess.Recognize(context.Background(), source.FromImage(displayImage()), Options{})
	assert.ErrorIs(t, err, ErrStale)
	assert.Nil(t, res)
}

func TestSessionDebugSink(t *testing.T) {
	eng := &recognizer.ScriptedEngine{Results: []recognizer.Result{{Text: "120/80 75", Confidence: 95}}}
	sink := &memorySink{}
	sess, err := NewBuilder().
		WithHandle(scripted(eng)).
		WithDebug(DebugConfig{MaxRecords: 5, MaxRasters: 1, Sink: sink}).
		Build()
	require.NoError(t, err)

	res, err := sess.Recognize(context.Background(), source.FromImage(displayImage()), Options{Debug: true})
	require.NoError(t, err)
	require.NotNil(t, res.Debug)
	assert.Len(t, res.Debug.Rasters, 1)
	assert.Len(t, sink.runs[res.RunID], 1)

	sink.err = errors.New("redis down")
	res, err = sess.Recognize(context.Background(), source.FromImage(displayImage()), Options{Debug: true})
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, "debug export failed: redis down")
}

func TestSessionResolveError(t *testing.T) {
	sess, err := NewBuilder().WithHandle(scripted(&recognizer.ScriptedEngine{})).Build()
	require.NoError(t, err)

	_, err = sess.Recognize(context.Background(), source.FromRef("ftp://example.com/x.png"), Options{})
	assert.ErrorIs(t, err, source.ErrUnsupportedSource)
}

func TestSessionSerializesExplorations(t *testing.T) {
	eng := &recognizer.ScriptedEngine{Results: []recognizer.Result{{Text: "1", Confidence: 10}}}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.SegmentFallback = false
	sess, err := NewBuilder().WithConfig(cfg).WithHandle(scripted(eng)).Build()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = sess.Recognize(context.Background(), source.FromImage(displayImage()), Options{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 12, eng.Calls())
	assert.Equal(t, 1, eng.PeakConcurrency())
}
