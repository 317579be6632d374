package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lvcoi/ytinfo/internal/config"
	"github.com/lvcoi/ytinfo/internal/videoid"
	"github.com/lvcoi/ytinfo/internal/ytclient"
)

const maxAPIResponseBytes = 1 << 20

// DataAPI fetches metadata from the YouTube Data API v3 videos endpoint.
type DataAPI struct {
	BaseURL    string
	Keys       []string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Logger     *slog.Logger
}

// NewDataAPI builds a client for the configured keys. The fallback key is
// only tried when the primary one is rejected.
func NewDataAPI(cfg config.YouTubeConfig, logger *slog.Logger) *DataAPI {
	keys := []string{cfg.APIKey}
	if cfg.APIKeyFallback != "" {
		keys = append(keys, cfg.APIKeyFallback)
	}
	var limiter *rate.Limiter
	if cfg.APIQPS > 0 {
		burst := int(cfg.APIQPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.APIQPS), burst)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DataAPI{
		BaseURL:    strings.TrimSuffix(cfg.APIBaseURL, "/"),
		Keys:       keys,
		HTTPClient: ytclient.NewHTTPClient(cfg.RequestTimeout),
		Limiter:    limiter,
		Logger:     logger,
	}
}

type videoListResponse struct {
	Items []videoResource `json:"items"`
}

type videoResource struct {
	ID             string         `json:"id"`
	Snippet        videoSnippet   `json:"snippet"`
	ContentDetails contentDetails `json:"contentDetails"`
}

type videoSnippet struct {
	PublishedAt  string               `json:"publishedAt"`
	ChannelID    string               `json:"channelId"`
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	ChannelTitle string               `json:"channelTitle"`
	Tags         []string             `json:"tags"`
	CategoryID   string               `json:"categoryId"`
	Thumbnails   map[string]thumbnail `json:"thumbnails"`
}

type thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type contentDetails struct {
	Duration string `json:"duration"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// APIError is a non-2xx answer from the Data API.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("data api: %d %s: %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("data api: %d: %s", e.StatusCode, e.Message)
}

// Video implements Fetcher.
func (d *DataAPI) Video(ctx context.Context, id videoid.ID) (Video, error) {
	var lastErr error
	for i, key := range d.Keys {
		if key == "" {
			continue
		}
		v, err := d.fetch(ctx, id, key)
		if err == nil {
			return v, nil
		}
		lastErr = err
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
			return Video{}, err
		}
		if i+1 < len(d.Keys) {
			d.Logger.Debug("data api key rejected, trying fallback", slog.Any("error", err))
		}
	}
	if lastErr == nil {
		lastErr = ytclient.Wrap(ytclient.CategoryInternal, errors.New("no data api key configured"))
	}
	return Video{}, lastErr
}

func (d *DataAPI) fetch(ctx context.Context, id videoid.ID, key string) (Video, error) {
	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx); err != nil {
			return Video{}, ytclient.Wrap(ytclient.CategoryNetwork, err)
		}
	}

	params := url.Values{}
	params.Set("part", "snippet,contentDetails")
	params.Set("id", string(id))
	params.Set("key", key)
	endpoint := d.BaseURL + "/videos?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Video{}, ytclient.Wrap(ytclient.CategoryInternal, err)
	}
	req.Header.Set("Accept", "application/json")

	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Video{}, ytclient.Wrap(ytclient.CategoryNetwork, fmt.Errorf("data api request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return Video{}, ytclient.Wrap(ytclient.CategoryNetwork, fmt.Errorf("reading data api response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return Video{}, ytclient.Wrap(categoryForStatus(resp.StatusCode), parseAPIError(resp.StatusCode, body))
	}

	var list videoListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return Video{}, ytclient.Wrap(ytclient.CategoryInternal, fmt.Errorf("decoding data api response: %w", err))
	}
	if len(list.Items) == 0 {
		return Video{}, ErrNotFound
	}
	return videoFromResource(list.Items[0]), nil
}

func categoryForStatus(code int) ytclient.Category {
	switch {
	case code == http.StatusNotFound:
		return ytclient.CategoryNotFound
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return ytclient.CategoryRestricted
	case code == http.StatusBadRequest:
		return ytclient.CategoryInvalidURL
	default:
		return ytclient.CategoryNetwork
	}
}

func parseAPIError(code int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: code, Message: http.StatusText(code)}
	var parsed apiErrorResponse
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Error.Message != "" {
			apiErr.Message = parsed.Error.Message
		}
		if len(parsed.Error.Errors) > 0 {
			apiErr.Reason = parsed.Error.Errors[0].Reason
		}
	}
	return apiErr
}

func videoFromResource(item videoResource) Video {
	v := Video{
		ID:           item.ID,
		Title:        item.Snippet.Title,
		Description:  item.Snippet.Description,
		Channel:      item.Snippet.ChannelTitle,
		ChannelID:    item.Snippet.ChannelID,
		ThumbnailURL: bestThumbnail(item.Snippet.Thumbnails),
		Duration:     item.ContentDetails.Duration,
		Category:     categoryName(item.Snippet.CategoryID),
		Source:       "data_api",
	}
	if len(item.Snippet.Tags) > 0 {
		v.Tags = append([]string(nil), item.Snippet.Tags...)
	}
	if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
		v.PublishedAt = t
	}
	return v
}

func bestThumbnail(thumbs map[string]thumbnail) string {
	best := ""
	bestArea := -1
	for _, name := range []string{"default", "medium", "high", "standard", "maxres"} {
		t, ok := thumbs[name]
		if !ok || t.URL == "" {
			continue
		}
		if area := t.Width * t.Height; area >= bestArea {
			bestArea = area
			best = t.URL
		}
	}
	return best
}

// categoryName maps the Data API category ids the media classifier cares
// about.
func categoryName(id string) string {
	switch id {
	case "10":
		return "Music"
	case "30", "44":
		return "Movies"
	default:
		return ""
	}
}
