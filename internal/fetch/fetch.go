// Package fetch downloads footprint and road-network archives over HTTP and
// FTP and unpacks them for loading.
package fetch

import (
	"context"
	"io"
)

// Fetcher downloads remote archives.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path.
	// Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// ETagger is implemented by fetchers whose transport can report a content
// ETag without downloading. Callers use it to skip unchanged archives.
type ETagger interface {
	HeadETag(ctx context.Context, url string) (string, error)
}
