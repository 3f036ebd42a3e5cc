package source

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
)

// Fetcher retrieves the encoded bytes behind a reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// HTTPFetcher downloads images over http(s). Server errors are retried with a
// linear backoff; client errors are not.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	retries  int
	backoff  time.Duration
}

// HTTPOptions configures an HTTPFetcher.
type HTTPOptions struct {
	Timeout  time.Duration
	MaxBytes int64
	Retries  int
	Backoff  time.Duration
	Client   *http.Client
}

// NewHTTPFetcher creates an HTTP image fetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		}
	}
	retries := opts.Retries
	if retries < 1 {
		retries = 1
	}
	return &HTTPFetcher{client: client, maxBytes: opts.MaxBytes, retries: retries, backoff: opts.Backoff}
}

// Fetch downloads ref and returns the body.
func (h *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	var lastErr error
	for attempt := range h.retries {
		data, retry, err := h.fetchOnce(ctx, ref)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry || attempt == h.retries-1 {
			break
		}
		slog.Debug("retrying image download", "url", ref, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * h.backoff):
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", ref, lastErr)
}

func (h *HTTPFetcher) fetchOnce(ctx context.Context, ref string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/gif, */*")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("client error: status code %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, perr := mime.ParseMediaType(ct)
		if perr == nil && !strings.HasPrefix(mt, "image/") && mt != "application/octet-stream" {
			return nil, false, fmt.Errorf("%w: content type %q", ErrUnsupportedSource, mt)
		}
	}
	if h.maxBytes > 0 && resp.ContentLength > h.maxBytes {
		return nil, false, fmt.Errorf("%w: content length %d", ErrTooLarge, resp.ContentLength)
	}

	data, err := readLimited(resp.Body, h.maxBytes)
	if err != nil {
		return nil, false, err
	}
	return data, false, nil
}
