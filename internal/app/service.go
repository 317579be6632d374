// Package app resolves a video reference and gathers everything the
// collaborators know about it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lvcoi/ytinfo/internal/downloader"
	"github.com/lvcoi/ytinfo/internal/metadata"
	"github.com/lvcoi/ytinfo/internal/observability"
	"github.com/lvcoi/ytinfo/internal/transcript"
	"github.com/lvcoi/ytinfo/internal/videoid"
	"github.com/lvcoi/ytinfo/internal/ytclient"
)

// VideoInfo is the aggregated answer for one video.
type VideoInfo struct {
	ID              videoid.ID             `json:"id"`
	URL             string                 `json:"url"`
	Title           string                 `json:"title,omitempty"`
	Channel         string                 `json:"channel,omitempty"`
	ChannelID       string                 `json:"channel_id,omitempty"`
	ThumbnailURL    string                 `json:"thumbnail_url,omitempty"`
	Duration        string                 `json:"duration,omitempty"`
	DurationSeconds int                    `json:"duration_seconds,omitempty"`
	Tags            []string               `json:"tags"`
	Category        string                 `json:"category,omitempty"`
	Transcript      *transcript.Transcript `json:"transcript,omitempty"`
	TranscriptText  string                 `json:"transcript_text"`
	Formats         []downloader.Format    `json:"formats"`
	Warnings        []string               `json:"warnings,omitempty"`
}

// FormatLister lists the downloadable streams of a video.
type FormatLister interface {
	Formats(ctx context.Context, id videoid.ID) ([]downloader.Format, error)
}

// History records lookups; implementations must be safe for concurrent use.
type History interface {
	RecordLookup(ctx context.Context, id, title, channel string) error
}

// Warning messages surfaced to callers, one per failure site.
const (
	WarnNoTranscript = "no transcript available for this video"
	WarnNoTags       = "no tags available for this video"
)

// Service wires the resolver to the collaborators. Any collaborator may be
// nil, in which case its part of VideoInfo stays empty.
type Service struct {
	Resolver    videoid.Resolver
	Metadata    metadata.Fetcher
	Transcripts transcript.Fetcher
	Formats     FormatLister
	History     History
	Languages   []string
	Logger      *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Resolve resolves input and counts the outcome.
func (s *Service) Resolve(input string) (videoid.ID, error) {
	id, err := s.Resolver.Resolve(input)
	if err != nil {
		reason := "unknown"
		var rerr *videoid.ResolutionError
		if errors.As(err, &rerr) {
			reason = string(rerr.Reason)
		}
		observability.Resolutions.WithLabelValues(reason).Inc()
		return "", err
	}
	observability.Resolutions.WithLabelValues("ok").Inc()
	return id, nil
}

// Info resolves input and queries the collaborators concurrently. A failing
// collaborator adds a warning and does not cancel the others; only an
// unresolvable reference or a video the metadata source does not know is
// returned as an error.
func (s *Service) Info(ctx context.Context, input string) (*VideoInfo, error) {
	id, err := s.Resolve(input)
	if err != nil {
		return nil, err
	}
	return s.InfoForID(ctx, id)
}

// InfoForID is Info for an already resolved id.
func (s *Service) InfoForID(ctx context.Context, id videoid.ID) (*VideoInfo, error) {
	var (
		meta       metadata.Video
		metaErr    error
		tr         *transcript.Transcript
		trErr      error
		formats    []downloader.Format
		formatsErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	if s.Metadata != nil {
		g.Go(func() error {
			meta, metaErr = timed("metadata", func() (metadata.Video, error) {
				return s.Metadata.Video(gctx, id)
			})
			return nil
		})
	}
	if s.Transcripts != nil {
		g.Go(func() error {
			tr, trErr = timed("transcript", func() (*transcript.Transcript, error) {
				return s.Transcripts.Transcript(gctx, id, s.Languages)
			})
			return nil
		})
	}
	if s.Formats != nil {
		g.Go(func() error {
			formats, formatsErr = timed("formats", func() ([]downloader.Format, error) {
				return s.Formats.Formats(gctx, id)
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, ytclient.Wrap(ytclient.CategoryNetwork, err)
	}
	if errors.Is(metaErr, metadata.ErrNotFound) {
		return nil, metaErr
	}

	info := &VideoInfo{
		ID:      id,
		URL:     id.WatchURL(),
		Tags:    []string{},
		Formats: []downloader.Format{},
	}
	log := s.logger().With(slog.String("id", string(id)))

	if s.Metadata != nil {
		if metaErr != nil {
			log.Warn("metadata lookup failed", slog.Any("error", metaErr))
			info.Warnings = append(info.Warnings, fmt.Sprintf("metadata lookup failed: %v", metaErr))
		} else {
			info.Title = meta.Title
			info.Channel = meta.Channel
			info.ChannelID = meta.ChannelID
			info.ThumbnailURL = meta.ThumbnailURL
			info.Duration = meta.Duration
			info.Category = meta.Category
			if secs, ok := meta.DurationSeconds(); ok {
				info.DurationSeconds = secs
			}
			if meta.HasTags() {
				info.Tags = meta.Tags
			} else {
				info.Warnings = append(info.Warnings, WarnNoTags)
			}
		}
	}

	if s.Transcripts != nil {
		switch {
		case trErr == nil:
			info.Transcript = tr
			info.TranscriptText = tr.Text()
		case errors.Is(trErr, transcript.ErrNoTranscript):
			log.Info("no transcript", slog.Any("error", trErr))
			info.Warnings = append(info.Warnings, WarnNoTranscript)
		default:
			log.Warn("transcript fetch failed", slog.Any("error", trErr))
			info.Warnings = append(info.Warnings, fmt.Sprintf("transcript fetch failed: %v", trErr))
		}
	}

	if s.Formats != nil {
		if formatsErr != nil {
			log.Warn("format listing failed", slog.Any("error", formatsErr))
			info.Warnings = append(info.Warnings, fmt.Sprintf("format listing failed: %v", formatsErr))
		} else if formats != nil {
			info.Formats = formats
		}
	}

	if s.History != nil {
		if err := s.History.RecordLookup(ctx, string(id), info.Title, info.Channel); err != nil {
			log.Warn("recording lookup failed", slog.Any("error", err))
		}
	}
	return info, nil
}

func timed[T any](collaborator string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	observability.CollaboratorDuration.
		WithLabelValues(collaborator, observability.Status(err)).
		Observe(time.Since(start).Seconds())
	return v, err
}
