package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/bpread/internal/explore"
	"github.com/MeKo-Tech/bpread/internal/recognizer"
	"github.com/MeKo-Tech/bpread/internal/source"
	"github.com/MeKo-Tech/bpread/internal/testutil"
)

// fakeReader records calls and answers with fn.
type fakeReader struct {
	gen *explore.Generation
	fn  func(ctx context.Context, src source.Source, opts explore.Options) (*explore.Result, error)

	mu    sync.Mutex
	srcs  []source.Source
	calls []explore.Options
}

func newFakeReader(fn func(context.Context, source.Source, explore.Options) (*explore.Result, error)) *fakeReader {
	return &fakeReader{gen: explore.NewGeneration(0), fn: fn}
}

func (f *fakeReader) Recognize(ctx context.Context, src source.Source, opts explore.Options) (*explore.Result, error) {
	f.mu.Lock()
	f.srcs = append(f.srcs, src)
	f.calls = append(f.calls, opts)
	f.mu.Unlock()
	if f.fn == nil {
		return &explore.Result{RunID: "run", StopReason: "exhausted"}, nil
	}
	return f.fn(ctx, src, opts)
}

func (f *fakeReader) Generation() *explore.Generation { return f.gen }

func (f *fakeReader) lastCall() (source.Source, explore.Options) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return source.Source{}, explore.Options{}
	}
	return f.srcs[len(f.srcs)-1], f.calls[len(f.calls)-1]
}

// newTestServer builds a server around reader with test defaults.
func newTestServer(t *testing.T, reader Reader, mutate func(*Config)) *Server {
	t.Helper()
	cfg := Config{CORSOrigin: "*", MaxUploadMB: 5, TimeoutSec: 5, Version: "test"}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewServer(reader, cfg)
	require.NoError(t, err)
	return s
}

// newSessionReader builds a real session over a scripted engine.
func newSessionReader(t *testing.T, results ...recognizer.Result) (*explore.Session, *recognizer.ScriptedEngine) {
	t.Helper()
	eng := &recognizer.ScriptedEngine{Results: results}
	sess, err := explore.NewBuilder().
		WithEngineFactory(func() (recognizer.Engine, error) { return eng, nil }).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess, eng
}

// displayPNG renders the default "120/80 72" display as PNG bytes.
func displayPNG(t *testing.T) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.RenderDisplay(testutil.DefaultDisplayConfig()))
}

// noiseFrame renders 16px blocks of seeded gray levels as PNG bytes.
func noiseFrame(t *testing.T, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic test data
	img := image.NewNRGBA(image.Rect(0, 0, 128, 128))
	for by := 0; by < 128; by += 16 {
		for bx := 0; bx < 128; bx += 16 {
			v := uint8(rng.Intn(256))
			for y := by; y < by+16; y++ {
				for x := bx; x < bx+16; x++ {
					img.Set(x, y, color.Gray{Y: v})
				}
			}
		}
	}
	return testutil.EncodePNG(t, img)
}

// multipartRequest builds a POST with an optional "image" file and fields.
func multipartRequest(t *testing.T, target string, imageData []byte, fields map[string][]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if imageData != nil {
		fw, err := mw.CreateFormFile("image", "display.png")
		require.NoError(t, err)
		_, err = fw.Write(imageData)
		require.NoError(t, err)
	}
	for key, values := range fields {
		for _, v := range values {
			require.NoError(t, mw.WriteField(key, v))
		}
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
