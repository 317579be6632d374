// Package transcript fetches caption tracks for a video and flattens them
// into timed segments.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/lvcoi/ytinfo/internal/videoid"
	"github.com/lvcoi/ytinfo/internal/ytclient"
)

// ErrNoTranscript means captions are disabled or no track could be read.
var ErrNoTranscript = ytclient.Wrap(ytclient.CategoryNotFound, errors.New("no transcript available for this video"))

// Segment is one caption cue. It encodes its times as milliseconds.
type Segment struct {
	Start    time.Duration
	Duration time.Duration
	Text     string
}

type segmentJSON struct {
	StartMs    int64  `json:"start_ms"`
	DurationMs int64  `json:"duration_ms"`
	Text       string `json:"text"`
}

func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(segmentJSON{
		StartMs:    s.Start.Milliseconds(),
		DurationMs: s.Duration.Milliseconds(),
		Text:       s.Text,
	})
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw segmentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Start = time.Duration(raw.StartMs) * time.Millisecond
	s.Duration = time.Duration(raw.DurationMs) * time.Millisecond
	s.Text = raw.Text
	return nil
}

// Transcript is the caption track picked for a video.
type Transcript struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Text joins the segment text with single spaces.
func (t *Transcript) Text() string {
	if t == nil {
		return ""
	}
	parts := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Fetcher returns the transcript of a video in the first available
// preferred language.
type Fetcher interface {
	Transcript(ctx context.Context, id videoid.ID, langs []string) (*Transcript, error)
}

// Service reads transcripts through the player client.
type Service struct {
	Client ytclient.Client
	Logger *slog.Logger
}

func New(client ytclient.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Client: client, Logger: logger}
}

// Transcript tries langs in order, then every caption track the video
// advertises. The first non-empty track wins.
func (s *Service) Transcript(ctx context.Context, id videoid.ID, langs []string) (*Transcript, error) {
	video, err := s.Client.GetVideoContext(ctx, string(id))
	if err != nil {
		return nil, ytclient.Wrap(ytclient.CategoryUnavailable, fmt.Errorf("fetching player response: %w", err))
	}

	for _, lang := range candidateLanguages(langs, video.CaptionTracks) {
		segments, err := s.Client.GetTranscriptCtx(ctx, video, lang)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ytclient.Wrap(ytclient.CategoryNetwork, ctx.Err())
			}
			s.Logger.Debug("transcript language unavailable",
				slog.String("id", string(id)),
				slog.String("lang", lang),
				slog.Any("error", err),
				slog.Bool("disabled", errors.Is(err, youtube.ErrTranscriptDisabled)),
			)
			continue
		}
		t := convert(lang, segments)
		if len(t.Segments) == 0 {
			continue
		}
		return t, nil
	}
	return nil, ErrNoTranscript
}

// candidateLanguages returns the preferred languages followed by any other
// advertised track, without duplicates. When the video lists its tracks, a
// preferred language it does not list is skipped.
func candidateLanguages(preferred []string, tracks []youtube.CaptionTrack) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(lang string) {
		lang = strings.TrimSpace(lang)
		if lang == "" || seen[strings.ToLower(lang)] {
			return
		}
		seen[strings.ToLower(lang)] = true
		out = append(out, lang)
	}
	for _, lang := range preferred {
		for _, track := range tracks {
			if strings.EqualFold(track.LanguageCode, lang) {
				add(track.LanguageCode)
			}
		}
		if len(tracks) == 0 {
			add(lang)
		}
	}
	// Manual tracks before auto-generated ones.
	for _, track := range tracks {
		if track.Kind != "asr" {
			add(track.LanguageCode)
		}
	}
	for _, track := range tracks {
		add(track.LanguageCode)
	}
	return out
}

func convert(lang string, segments youtube.VideoTranscript) *Transcript {
	t := &Transcript{Language: lang, Segments: make([]Segment, 0, len(segments))}
	for _, seg := range segments {
		text := cleanText(seg.Text)
		if text == "" {
			continue
		}
		t.Segments = append(t.Segments, Segment{
			Start:    time.Duration(seg.StartMs) * time.Millisecond,
			Duration: time.Duration(seg.Duration) * time.Millisecond,
			Text:     text,
		})
	}
	return t
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}
