package fetch

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	name string
	last string
}

func (s *stubFetcher) Download(_ context.Context, url string) (io.ReadCloser, error) {
	s.last = url
	return io.NopCloser(strings.NewReader(s.name)), nil
}

func (s *stubFetcher) DownloadToFile(_ context.Context, url, _ string) (int64, error) {
	s.last = url
	return int64(len(s.name)), nil
}

func TestMultiFetcher_Routes(t *testing.T) {
	httpStub := &stubFetcher{name: "http"}
	ftpStub := &stubFetcher{name: "ftp"}
	m := NewMultiFetcher(httpStub, ftpStub)

	body, err := m.Download(context.Background(), "https://example.com/a.zip")
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, "https://example.com/a.zip", httpStub.last)
	assert.Empty(t, ftpStub.last)

	_, err = m.DownloadToFile(context.Background(), "ftp://mirror.example.com/b.zip", "/tmp/b.zip")
	require.NoError(t, err)
	assert.Equal(t, "ftp://mirror.example.com/b.zip", ftpStub.last)
}

type etagStubFetcher struct {
	stubFetcher
	etag string
}

func (s *etagStubFetcher) HeadETag(_ context.Context, url string) (string, error) {
	s.last = url
	return s.etag, nil
}

func TestMultiFetcher_HeadETag(t *testing.T) {
	httpStub := &etagStubFetcher{etag: `"v3"`}
	m := NewMultiFetcher(httpStub, &stubFetcher{name: "ftp"})

	etag, err := m.HeadETag(context.Background(), "https://example.com/a.zip")
	require.NoError(t, err)
	assert.Equal(t, `"v3"`, etag)

	// FTP has no ETag support; unknown, not an error.
	etag, err = m.HeadETag(context.Background(), "ftp://mirror.example.com/a.zip")
	require.NoError(t, err)
	assert.Empty(t, etag)
}

func TestMultiFetcher_UnsupportedScheme(t *testing.T) {
	m := NewMultiFetcher(&stubFetcher{}, &stubFetcher{})

	_, err := m.Download(context.Background(), "gopher://example.com/a.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported scheme "gopher"`)
}
