package fetch

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// MultiFetcher routes downloads by URL scheme: ftp:// to the FTP client,
// http(s):// to the HTTP client.
type MultiFetcher struct {
	httpFetcher Fetcher
	ftpFetcher  Fetcher
}

// NewMultiFetcher builds a scheme-routing fetcher.
func NewMultiFetcher(httpFetcher, ftpFetcher Fetcher) *MultiFetcher {
	return &MultiFetcher{httpFetcher: httpFetcher, ftpFetcher: ftpFetcher}
}

func (m *MultiFetcher) route(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: parse url %s", rawURL)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return m.httpFetcher, nil
	case "ftp":
		return m.ftpFetcher, nil
	default:
		return nil, eris.Errorf("fetch: unsupported scheme %q in %s", u.Scheme, rawURL)
	}
}

func (m *MultiFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	f, err := m.route(url)
	if err != nil {
		return nil, err
	}
	return f.Download(ctx, url)
}

func (m *MultiFetcher) DownloadToFile(ctx context.Context, url string, path string) (int64, error) {
	f, err := m.route(url)
	if err != nil {
		return 0, err
	}
	return f.DownloadToFile(ctx, url, path)
}

// HeadETag routes to the underlying fetcher's ETag support. Transports
// without it (FTP) report an empty tag, which callers treat as "unknown".
func (m *MultiFetcher) HeadETag(ctx context.Context, url string) (string, error) {
	f, err := m.route(url)
	if err != nil {
		return "", err
	}
	if e, ok := f.(ETagger); ok {
		return e.HeadETag(ctx, url)
	}
	return "", nil
}
