package source

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.NRGBA{R: uint8(x * 10), G: 40, B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeOpener struct {
	blobs map[string][]byte
	err   error
}

func (f *fakeOpener) OpenBlob(_ context.Context, container, name string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.blobs[container+"/"+name]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestSourceKinds(t *testing.T) {
	assert.Equal(t, KindImage, FromImage(image.NewNRGBA(image.Rect(0, 0, 2, 3))).Kind())
	assert.Equal(t, "image(2x3)", FromImage(image.NewNRGBA(image.Rect(0, 0, 2, 3))).String())
	assert.Equal(t, "bytes(4)", FromBytes([]byte{1, 2, 3, 4}).String())
	assert.Equal(t, "ref(a.png)", FromRef("  a.png ").String())
	assert.Equal(t, "none", Source{}.String())
}

func TestResolveImageAndBytes(t *testing.T) {
	r := &Resolver{}
	ctx := context.Background()

	src := image.NewRGBA(image.Rect(5, 5, 9, 8))
	img, err := r.Resolve(ctx, FromImage(src))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())

	img, err = r.Resolve(ctx, FromBytes(encodePNG(t, 6, 4)))
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, uint8(50), img.NRGBAAt(5, 0).R)

	_, err = r.Resolve(ctx, FromBytes([]byte("not an image")))
	require.Error(t, err)

	_, err = r.Resolve(ctx, Source{})
	assert.ErrorIs(t, err, ErrEmptySource)

	_, err = r.Resolve(ctx, FromImage(nil))
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestResolveBytesTooLarge(t *testing.T) {
	r := &Resolver{MaxBytes: 10}
	_, err := r.Resolve(context.Background(), FromBytes(encodePNG(t, 4, 4)))
	assert.ErrorIs(t, err, ErrTooLarge)
}

// pngHeader returns a PNG that declares width x height but carries no pixels.
func pngHeader(width, height uint32) []byte {
	chunk := func(kind string, payload []byte) []byte {
		var b bytes.Buffer
		_ = binary.Write(&b, binary.BigEndian, uint32(len(payload)))
		b.WriteString(kind)
		b.Write(payload)
		_ = binary.Write(&b, binary.BigEndian, crc32.ChecksumIEEE(append([]byte(kind), payload...)))
		return b.Bytes()
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], width)
	binary.BigEndian.PutUint32(ihdr[4:], height)
	ihdr[8] = 8 // bit depth, gray
	out := []byte("\x89PNG\r\n\x1a\n")
	out = append(out, chunk("IHDR", ihdr)...)
	return append(out, chunk("IEND", nil)...)
}

func TestDecodeRejectsHugeDimensions(t *testing.T) {
	data := pngHeader(60000, 60000)
	require.Less(t, len(data), 100)

	_, _, err := Decode(data)
	require.ErrorIs(t, err, ErrTooLarge)
	assert.Contains(t, err.Error(), "60000x60000 pixels")

	r := &Resolver{MaxBytes: 1 << 20}
	_, err = r.Resolve(context.Background(), FromBytes(data))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestResolveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meter.png")
	require.NoError(t, os.WriteFile(path, encodePNG(t, 8, 8), 0o600))

	ctx := context.Background()

	_, err := (&Resolver{}).Resolve(ctx, FromRef(path))
	assert.ErrorIs(t, err, ErrUnsupportedSource, "files disabled by default")

	r := &Resolver{AllowFiles: true}
	img, err := r.Resolve(ctx, FromRef(path))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	img, err = r.Resolve(ctx, FromRef("file://"+path))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dy())

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o600))
	_, err = r.Resolve(ctx, FromRef(txt))
	assert.ErrorIs(t, err, ErrUnsupportedSource)

	_, err = r.Resolve(ctx, FromRef(filepath.Join(dir, "missing.png")))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolveUnknownScheme(t *testing.T) {
	r := &Resolver{AllowFiles: true}
	_, err := r.Resolve(context.Background(), FromRef("ftp://example.com/a.png"))
	assert.ErrorIs(t, err, ErrUnsupportedSource)

	_, err = r.Resolve(context.Background(), FromRef("https://example.com/a.png"))
	assert.ErrorIs(t, err, ErrUnsupportedSource, "no HTTP fetcher configured")
}

func TestHTTPFetcher(t *testing.T) {
	payload := encodePNG(t, 10, 5)

	tests := []struct {
		name          string
		statuses      []int
		contentType   string
		retries       int
		wantCalls     int32
		wantErr       bool
		errorContains string
	}{
		{name: "success", statuses: []int{200}, contentType: "image/png", retries: 3, wantCalls: 1},
		{name: "retry after 5xx", statuses: []int{500, 200}, contentType: "image/png", retries: 3, wantCalls: 2},
		{name: "4xx not retried", statuses: []int{404}, retries: 3, wantCalls: 1, wantErr: true, errorContains: "status code 404"},
		{name: "5xx exhausted", statuses: []int{500, 502, 503}, retries: 3, wantCalls: 3, wantErr: true, errorContains: "status code 503"},
		{name: "wrong content type", statuses: []int{200}, contentType: "text/html", retries: 3, wantCalls: 1, wantErr: true, errorContains: "content type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				n := calls.Add(1)
				status := tt.statuses[min(int(n)-1, len(tt.statuses)-1)]
				if status != http.StatusOK {
					w.WriteHeader(status)
					return
				}
				w.Header().Set("Content-Type", tt.contentType)
				_, _ = w.Write(payload)
			}))
			defer srv.Close()

			f := NewHTTPFetcher(HTTPOptions{Retries: tt.retries, Backoff: time.Millisecond, Timeout: time.Second})
			data, err := f.Fetch(context.Background(), srv.URL+"/meter.png")

			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, payload, data)
		})
	}
}

func TestHTTPFetcherSizeLimit(t *testing.T) {
	payload := encodePNG(t, 30, 30)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxBytes: 16})
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestResolveHTTP(t *testing.T) {
	payload := encodePNG(t, 12, 7)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	r := &Resolver{HTTP: NewHTTPFetcher(HTTPOptions{})}
	img, err := r.Resolve(context.Background(), FromRef(srv.URL+"/x"))
	require.NoError(t, err)
	assert.Equal(t, 12, img.Bounds().Dx())
	assert.Equal(t, 7, img.Bounds().Dy())
}

func TestParseBlobRef(t *testing.T) {
	tests := []struct {
		ref       string
		container string
		name      string
		wantErr   bool
	}{
		{"azblob://captures/2024/meter.jpg", "captures", "2024/meter.jpg", false},
		{"azblob://captures/meter.png", "captures", "meter.png", false},
		{"azblob://captures/", "", "", true},
		{"https://captures/meter.png", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			c, n, err := ParseBlobRef(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.container, c)
			assert.Equal(t, tt.name, n)
		})
	}
}

func TestResolveBlob(t *testing.T) {
	opener := &fakeOpener{blobs: map[string][]byte{"captures/meter.png": encodePNG(t, 9, 3)}}
	r := &Resolver{Blob: NewBlobFetcherWithOpener(opener, 0)}

	img, err := r.Resolve(context.Background(), FromRef("azblob://captures/meter.png"))
	require.NoError(t, err)
	assert.Equal(t, 9, img.Bounds().Dx())

	_, err = r.Resolve(context.Background(), FromRef("azblob://captures/other.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download failed")

	limited := &Resolver{Blob: NewBlobFetcherWithOpener(opener, 8)}
	_, err = limited.Resolve(context.Background(), FromRef("azblob://captures/meter.png"))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = (&Resolver{}).Resolve(context.Background(), FromRef("azblob://captures/meter.png"))
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestNewBlobFetcherRequiresAccount(t *testing.T) {
	_, err := NewBlobFetcher(BlobOptions{})
	require.Error(t, err)

	f, err := NewBlobFetcher(BlobOptions{ServiceURL: "https://example.blob.core.windows.net/"})
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestIsSupportedImage(t *testing.T) {
	assert.True(t, IsSupportedImage("a.JPG"))
	assert.True(t, IsSupportedImage("/tmp/b.webp"))
	assert.False(t, IsSupportedImage("c.pdf"))
	assert.False(t, IsSupportedImage("noext"))
}
