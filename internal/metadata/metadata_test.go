package metadata

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvcoi/ytinfo/internal/config"
	"github.com/lvcoi/ytinfo/internal/videoid"
	"github.com/lvcoi/ytinfo/internal/ytclient"
)

const videoJSON = `{
  "items": [{
    "id": "dQw4w9WgXcQ",
    "snippet": {
      "publishedAt": "2009-10-25T06:57:33Z",
      "channelId": "UCuAXFkgsw1L7xaCfnd5JJOw",
      "title": "Never Gonna Give You Up",
      "channelTitle": "Rick Astley",
      "tags": ["rick", "astley"],
      "categoryId": "10",
      "thumbnails": {
        "default": {"url": "https://i.ytimg.com/vi/dQw4w9WgXcQ/default.jpg", "width": 120, "height": 90},
        "high": {"url": "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg", "width": 480, "height": 360}
      }
    },
    "contentDetails": {"duration": "PT3M33S"}
  }]
}`

func newDataAPI(t *testing.T, handler http.HandlerFunc, keys ...string) *DataAPI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.Default().YouTube
	cfg.APIBaseURL = srv.URL
	cfg.APIQPS = 0
	cfg.RequestTimeout = 5 * time.Second
	if len(keys) > 0 {
		cfg.APIKey = keys[0]
	}
	if len(keys) > 1 {
		cfg.APIKeyFallback = keys[1]
	}
	return NewDataAPI(cfg, nil)
}

func TestDataAPIVideo(t *testing.T) {
	api := newDataAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/videos", r.URL.Path)
		assert.Equal(t, "snippet,contentDetails", r.URL.Query().Get("part"))
		assert.Equal(t, "dQw4w9WgXcQ", r.URL.Query().Get("id"))
		assert.Equal(t, "k1", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, videoJSON)
	}, "k1")

	v, err := api.Video(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "Never Gonna Give You Up", v.Title)
	assert.Equal(t, "Rick Astley", v.Channel)
	assert.Equal(t, "UCuAXFkgsw1L7xaCfnd5JJOw", v.ChannelID)
	assert.Equal(t, "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg", v.ThumbnailURL)
	assert.Equal(t, []string{"rick", "astley"}, v.Tags)
	assert.Equal(t, "Music", v.Category)
	assert.Equal(t, "data_api", v.Source)
	assert.Equal(t, 2009, v.PublishedAt.Year())

	secs, ok := v.DurationSeconds()
	require.True(t, ok)
	assert.Equal(t, 213, secs)
}

func TestDataAPIMissingOptionalFields(t *testing.T) {
	api := newDataAPI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"items":[{"id":"abcdefghijk","snippet":{"title":"t","channelTitle":"c"}}]}`)
	}, "k1")

	v, err := api.Video(context.Background(), "abcdefghijk")
	require.NoError(t, err)
	assert.Nil(t, v.Tags)
	assert.False(t, v.HasTags())
	assert.Empty(t, v.ThumbnailURL)
	_, ok := v.DurationSeconds()
	assert.False(t, ok)
}

func TestDataAPINotFound(t *testing.T) {
	api := newDataAPI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"items":[]}`)
	}, "k1")

	_, err := api.Video(context.Background(), "abcdefghijk")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, ytclient.CategoryNotFound, ytclient.CategoryOf(err))
}

func TestDataAPIFallbackKeyOnForbidden(t *testing.T) {
	var calls atomic.Int32
	api := newDataAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("key") == "primary" {
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, `{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded"}]}}`)
			return
		}
		io.WriteString(w, videoJSON)
	}, "primary", "backup")

	v, err := api.Video(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "Rick Astley", v.Channel)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDataAPIErrorParsing(t *testing.T) {
	api := newDataAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":{"code":403,"message":"API key not valid","errors":[{"reason":"keyInvalid"}]}}`)
	}, "only")

	_, err := api.Video(context.Background(), "dQw4w9WgXcQ")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "keyInvalid", apiErr.Reason)
	assert.Equal(t, ytclient.CategoryRestricted, ytclient.CategoryOf(err))
}

func TestParseISODuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"PT3M33S", 3*time.Minute + 33*time.Second, true},
		{"PT1H", time.Hour, true},
		{"P1DT2H", 26 * time.Hour, true},
		{"PT45S", 45 * time.Second, true},
		{"P0D", 0, true},
		{"", 0, false},
		{"P", 0, false},
		{"PT", 0, false},
		{"3:33", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseISODuration(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestFormatISODuration(t *testing.T) {
	assert.Equal(t, "PT3M33S", FormatISODuration(213*time.Second))
	assert.Equal(t, "PT1H", FormatISODuration(time.Hour))
	assert.Equal(t, "PT0S", FormatISODuration(0))
}

type fakeClient struct {
	ytclient.Client
	video *youtube.Video
	err   error
}

func (f *fakeClient) GetVideoContext(ctx context.Context, id string) (*youtube.Video, error) {
	return f.video, f.err
}

func TestPlayerVideo(t *testing.T) {
	p := &Player{Client: &fakeClient{video: &youtube.Video{
		ID:       "dQw4w9WgXcQ",
		Title:    "Never Gonna Give You Up",
		Author:   "Rick Astley",
		Duration: 213 * time.Second,
		Thumbnails: youtube.Thumbnails{
			{URL: "small", Width: 120, Height: 90},
			{URL: "large", Width: 1280, Height: 720},
		},
	}}}

	v, err := p.Video(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "large", v.ThumbnailURL)
	assert.Equal(t, "PT3M33S", v.Duration)
	assert.Equal(t, "player", v.Source)
	assert.Nil(t, v.Tags)
}

func TestPlayerErrorCategory(t *testing.T) {
	p := &Player{Client: &fakeClient{err: youtube.ErrVideoPrivate}}
	_, err := p.Video(context.Background(), "dQw4w9WgXcQ")
	require.Error(t, err)
	assert.Equal(t, ytclient.CategoryRestricted, ytclient.CategoryOf(err))
}

type stubFetcher struct {
	v   Video
	err error
}

func (s stubFetcher) Video(context.Context, videoid.ID) (Video, error) { return s.v, s.err }

func TestChainFallsBack(t *testing.T) {
	first := errors.New("quota")
	c := Chain{stubFetcher{err: first}, stubFetcher{v: Video{Title: "ok"}}}
	v, err := c.Video(context.Background(), "abcdefghijk")
	require.NoError(t, err)
	assert.Equal(t, "ok", v.Title)

	c = Chain{stubFetcher{err: first}, stubFetcher{err: errors.New("second")}}
	_, err = c.Video(context.Background(), "abcdefghijk")
	assert.ErrorIs(t, err, first)
}

func TestNewWithoutKeyUsesPlayer(t *testing.T) {
	f := New(config.Default().YouTube, &fakeClient{}, nil)
	_, ok := f.(*Player)
	assert.True(t, ok)

	cfg := config.Default().YouTube
	cfg.APIKey = "k"
	_, ok = New(cfg, &fakeClient{}, nil).(Chain)
	assert.True(t, ok)
}
