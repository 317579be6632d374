// Package metadata looks up title, channel, thumbnail, duration and tags for
// a video.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lvcoi/ytinfo/internal/config"
	"github.com/lvcoi/ytinfo/internal/videoid"
	"github.com/lvcoi/ytinfo/internal/ytclient"
)

// ErrNotFound is returned when the upstream knows no video with the id.
var ErrNotFound = ytclient.Wrap(ytclient.CategoryNotFound, errors.New("video not found"))

// Video is the metadata of a single video. Optional upstream fields stay at
// their zero value when absent; Tags is nil when the video has none.
type Video struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Channel      string    `json:"channel"`
	ChannelID    string    `json:"channel_id,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Duration     string    `json:"duration,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Category     string    `json:"category,omitempty"`
	PublishedAt  time.Time `json:"published_at,omitempty"`
	Source       string    `json:"source"`
}

// DurationSeconds returns the parsed duration and whether one was present
// and well formed.
func (v Video) DurationSeconds() (int, bool) {
	d, ok := ParseISODuration(v.Duration)
	if !ok {
		return 0, false
	}
	return int(d / time.Second), true
}

// HasTags reports whether the upstream returned any tags.
func (v Video) HasTags() bool { return len(v.Tags) > 0 }

// Fetcher returns metadata for a resolved video id.
type Fetcher interface {
	Video(ctx context.Context, id videoid.ID) (Video, error)
}

// Chain tries each fetcher in order and returns the first success.
type Chain []Fetcher

func (c Chain) Video(ctx context.Context, id videoid.ID) (Video, error) {
	var errs []error
	for _, f := range c {
		v, err := f.Video(ctx, id)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return Video{}, ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Video{}, errors.New("no metadata source configured")
	}
	return Video{}, errs[0]
}

// New picks the Data API when a key is configured, falling back to the
// player response; without a key only the player response is used.
func New(cfg config.YouTubeConfig, client ytclient.Client, logger *slog.Logger) Fetcher {
	player := &Player{Client: client}
	if cfg.APIKey == "" {
		return player
	}
	return Chain{NewDataAPI(cfg, logger), player}
}

var isoDurationRE = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration parses the ISO-8601 durations returned by the Data API
// (PT1H2M3S, P1DT2H, PT45S). It reports false for empty or malformed input.
func ParseISODuration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "P" || strings.HasSuffix(s, "T") {
		return 0, false
	}
	m := isoDurationRE.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute}
	var total time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, false
		}
		total += time.Duration(n) * unit
	}
	if m[5] != "" {
		secs, err := strconv.ParseFloat(m[5], 64)
		if err != nil {
			return 0, false
		}
		total += time.Duration(secs * float64(time.Second))
	}
	return total, true
}

// FormatISODuration renders d in the same form the Data API uses.
func FormatISODuration(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	var b strings.Builder
	b.WriteString("PT")
	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if s > 0 || (h == 0 && m == 0) {
		fmt.Fprintf(&b, "%dS", s)
	}
	return b.String()
}
