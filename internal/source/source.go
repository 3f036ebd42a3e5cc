// Package source normalizes the ways a caller can hand over an image (a
// decoded raster, encoded bytes, or a reference to bytes elsewhere) into a
// single *image.NRGBA for the preprocessing pipeline.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupportedSource is returned for references no fetcher can serve.
	ErrUnsupportedSource = errors.New("unsupported image source")
	// ErrTooLarge is returned when encoded data exceeds the configured cap.
	ErrTooLarge = errors.New("image data exceeds size limit")
	// ErrEmptySource is returned for a zero Source or empty data.
	ErrEmptySource = errors.New("empty image source")
)

// MaxPixels caps the declared dimensions of encoded images; larger images
// are rejected before their pixels are decoded.
const MaxPixels = 40_000_000

// SupportedImageExtensions lists file extensions accepted for local paths.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".webp"}

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	return slices.Contains(SupportedImageExtensions, strings.ToLower(filepath.Ext(path)))
}

// Kind tells which representation a Source carries.
type Kind int

const (
	KindNone Kind = iota
	KindImage
	KindBytes
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindBytes:
		return "bytes"
	case KindRef:
		return "ref"
	case KindNone:
	}
	return "none"
}

// Source is an image handed to the recognizer in one of three forms.
type Source struct {
	kind Kind
	img  image.Image
	data []byte
	ref  string
}

// FromImage wraps an already decoded image.
func FromImage(img image.Image) Source {
	return Source{kind: KindImage, img: img}
}

// FromBytes wraps encoded image data (jpeg, png, gif, bmp or webp).
func FromBytes(data []byte) Source {
	return Source{kind: KindBytes, data: data}
}

// FromRef wraps a reference: an http(s) URL, an azblob://container/blob
// reference, a file:// URL or a plain filesystem path.
func FromRef(ref string) Source {
	return Source{kind: KindRef, ref: strings.TrimSpace(ref)}
}

// Kind returns the representation held by s.
func (s Source) Kind() Kind { return s.kind }

// Ref returns the reference of a KindRef source.
func (s Source) Ref() string { return s.ref }

// String describes the source for logs without dumping its payload.
func (s Source) String() string {
	switch s.kind {
	case KindImage:
		if s.img == nil {
			return "image(nil)"
		}
		b := s.img.Bounds()
		return fmt.Sprintf("image(%dx%d)", b.Dx(), b.Dy())
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(s.data))
	case KindRef:
		return "ref(" + s.ref + ")"
	case KindNone:
	}
	return "none"
}

// Decode decodes encoded image data into an NRGBA raster and reports the format.
func Decode(data []byte) (*image.NRGBA, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptySource
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d pixels (max %d)", ErrTooLarge, cfg.Width, cfg.Height, MaxPixels)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return imaging.Clone(img), format, nil
}

// readLimited reads r fully, failing with ErrTooLarge past limit bytes.
// A limit <= 0 disables the cap.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
