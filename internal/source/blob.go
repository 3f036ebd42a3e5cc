package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// BlobScheme prefixes references served by BlobFetcher.
const BlobScheme = "azblob://"

// BlobOpener opens a blob for reading.
type BlobOpener interface {
	OpenBlob(ctx context.Context, container, name string) (io.ReadCloser, error)
}

// BlobOptions configures access to an Azure storage account.
type BlobOptions struct {
	AccountName string
	AccountKey  string
	ServiceURL  string
	MaxBytes    int64
}

// BlobFetcher resolves azblob://container/blob references.
type BlobFetcher struct {
	opener   BlobOpener
	maxBytes int64
}

type azureOpener struct {
	client *azblob.Client
}

func (a *azureOpener) OpenBlob(ctx context.Context, container, name string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// NewBlobFetcher connects to the storage account. With an account key a
// shared-key credential is used; without one the service URL must carry its
// own authorization (SAS token) or point at a public container.
func NewBlobFetcher(opts BlobOptions) (*BlobFetcher, error) {
	serviceURL := opts.ServiceURL
	if serviceURL == "" {
		if opts.AccountName == "" {
			return nil, fmt.Errorf("blob storage: account name or service URL required")
		}
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", opts.AccountName)
	}

	var (
		client *azblob.Client
		err    error
	)
	if opts.AccountKey != "" {
		cred, credErr := azblob.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("blob storage credential: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	} else {
		client, err = azblob.NewClientWithNoCredential(serviceURL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("blob storage client: %w", err)
	}
	return NewBlobFetcherWithOpener(&azureOpener{client: client}, opts.MaxBytes), nil
}

// NewBlobFetcherWithOpener builds a BlobFetcher on any opener.
func NewBlobFetcherWithOpener(opener BlobOpener, maxBytes int64) *BlobFetcher {
	return &BlobFetcher{opener: opener, maxBytes: maxBytes}
}

// ParseBlobRef splits azblob://container/path/to/blob into its parts.
func ParseBlobRef(ref string) (string, string, error) {
	if !strings.HasPrefix(ref, BlobScheme) {
		return "", "", fmt.Errorf("%w: %q is not a blob reference", ErrUnsupportedSource, ref)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("invalid blob reference: %w", err)
	}
	name := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || name == "" {
		return "", "", fmt.Errorf("invalid blob reference %q: want azblob://container/blob", ref)
	}
	return u.Host, name, nil
}

// Fetch downloads the referenced blob.
func (b *BlobFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	container, name, err := ParseBlobRef(ref)
	if err != nil {
		return nil, err
	}
	body, err := b.opener.OpenBlob(ctx, container, name)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = body.Close() }()
	return readLimited(body, b.maxBytes)
}
