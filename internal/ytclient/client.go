// Package ytclient builds the YouTube player client shared by the metadata,
// transcript and download collaborators, and defines the error categories
// they report.
package ytclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/kkdai/youtube/v2"
)

const (
	minChunkSize     int64 = 256 * 1024
	maxChunkSize     int64 = 2 * 1024 * 1024
	targetChunkCount int64 = 64
)

// Client is the subset of the player API the service depends on. It exists
// so collaborators can be tested without network access.
type Client interface {
	GetVideoContext(ctx context.Context, id string) (*youtube.Video, error)
	GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error)
	GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error)
	GetTranscriptCtx(ctx context.Context, video *youtube.Video, lang string) (youtube.VideoTranscript, error)
	// AdjustChunkSize sizes stream chunks for a download of contentLength bytes.
	AdjustChunkSize(contentLength int64)
}

type clientAdapter struct {
	*youtube.Client
}

// AdjustChunkSize keeps progress updates frequent on small files without
// spawning thousands of range requests on large ones.
func (a *clientAdapter) AdjustChunkSize(contentLength int64) {
	if contentLength <= 0 {
		return
	}
	chunk := contentLength / targetChunkCount
	if chunk < minChunkSize {
		chunk = minChunkSize
	} else if chunk > maxChunkSize {
		chunk = maxChunkSize
	}
	a.Client.ChunkSize = chunk
}

var _ Client = (*clientAdapter)(nil)

// New returns a player client with a cookie jar, default headers and
// transport-level retries.
func New(timeout time.Duration) Client {
	httpClient := NewHTTPClient(timeout)
	jar, err := cookiejar.New(nil)
	if err == nil {
		httpClient.Jar = jar
	}
	return FromHTTPClient(httpClient)
}

// FromHTTPClient adapts an existing HTTP client into a player Client.
func FromHTTPClient(httpClient *http.Client) Client {
	return &clientAdapter{&youtube.Client{HTTPClient: httpClient}}
}

// IsUnexpectedStatus reports whether err is an upstream response with the
// given status code.
func IsUnexpectedStatus(err error, code int) bool {
	var statusErr youtube.ErrUnexpectedStatusCode
	if errors.As(err, &statusErr) {
		return int(statusErr) == code
	}
	return false
}
