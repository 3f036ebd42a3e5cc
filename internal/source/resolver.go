package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// Resolver turns a Source into a raster. Nil fetchers disable their scheme.
type Resolver struct {
	HTTP       Fetcher
	Blob       Fetcher
	AllowFiles bool
	MaxBytes   int64
}

// Resolve decodes src into a fresh NRGBA raster owned by the caller.
func (r *Resolver) Resolve(ctx context.Context, src Source) (*image.NRGBA, error) {
	switch src.kind {
	case KindImage:
		if src.img == nil {
			return nil, ErrEmptySource
		}
		return imaging.Clone(src.img), nil
	case KindBytes:
		if r.MaxBytes > 0 && int64(len(src.data)) > r.MaxBytes {
			return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(src.data))
		}
		img, _, err := Decode(src.data)
		return img, err
	case KindRef:
		data, err := r.fetch(ctx, src.ref)
		if err != nil {
			return nil, err
		}
		img, format, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.ref, err)
		}
		slog.Debug("resolved image reference", "ref", src.ref, "format", format,
			"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
		return img, nil
	case KindNone:
	}
	return nil, ErrEmptySource
}

func (r *Resolver) fetch(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, ErrEmptySource
	}
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		if r.HTTP == nil {
			return nil, fmt.Errorf("%w: http references disabled", ErrUnsupportedSource)
		}
		return r.HTTP.Fetch(ctx, ref)
	case strings.HasPrefix(lower, BlobScheme):
		if r.Blob == nil {
			return nil, fmt.Errorf("%w: blob storage not configured", ErrUnsupportedSource)
		}
		return r.Blob.Fetch(ctx, ref)
	case strings.HasPrefix(lower, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("invalid file URL: %w", err)
		}
		return r.readFile(u.Path)
	case strings.Contains(ref, "://"):
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, ref)
	}
	return r.readFile(ref)
}

func (r *Resolver) readFile(path string) ([]byte, error) {
	if !r.AllowFiles {
		return nil, fmt.Errorf("%w: local files disabled", ErrUnsupportedSource)
	}
	if !IsSupportedImage(path) {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrUnsupportedSource, filepath.Ext(path))
	}
	f, err := os.Open(path) //nolint:gosec // G304: reading a user-provided image path is expected
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			slog.Warn("error closing image file", "path", path, "error", cerr)
		}
	}()
	return readLimited(f, r.MaxBytes)
}
