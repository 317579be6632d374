// Package downloader lists the streams of a video and saves one of them to
// disk, optionally transcoding it with ffmpeg.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/lvcoi/ytinfo/internal/videoid"
	"github.com/lvcoi/ytinfo/internal/ytclient"
)

// Format describes one downloadable stream.
type Format struct {
	ID            int    `json:"id"`
	Container     string `json:"container"`
	MimeType      string `json:"mime_type"`
	Quality       string `json:"quality,omitempty"`
	Bitrate       int    `json:"bitrate,omitempty"`
	HasAudio      bool   `json:"has_audio"`
	HasVideo      bool   `json:"has_video"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	ContentLength int64  `json:"content_length,omitempty"`
	// URL is the direct source URL, empty when it could not be deciphered.
	URL string `json:"url,omitempty"`
}

// Request selects what to download.
type Request struct {
	ID videoid.ID
	// FormatID is an itag; zero picks a format from Audio and Quality.
	FormatID int
	Audio    bool
	// Quality is "best", "worst", a height like "720p" or an audio bitrate
	// like "128k".
	Quality string
	// Transcode is a target container (mp3, m4a, opus, wav, mp4); empty
	// keeps the source container.
	Transcode string
	// Dir receives the file; empty uses the service directory.
	Dir string
	// Progress receives byte counts and log lines; optional.
	Progress ProgressRenderer
}

// Result is a finished download.
type Result struct {
	Path       string `json:"-"`
	Filename   string `json:"filename"`
	Bytes      int64  `json:"bytes"`
	Format     Format `json:"format"`
	Title      string `json:"title"`
	Channel    string `json:"channel"`
	Transcoded bool   `json:"transcoded"`
}

// Service downloads streams through the player client.
type Service struct {
	Client ytclient.Client
	Dir    string
	Logger *slog.Logger
}

func New(client ytclient.Client, dir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Client: client, Dir: dir, Logger: logger}
}

// Formats lists every stream of the video in upstream order.
func (s *Service) Formats(ctx context.Context, id videoid.ID) ([]Format, error) {
	video, err := s.video(ctx, id)
	if err != nil {
		return nil, err
	}
	formats := make([]Format, 0, len(video.Formats))
	for i := range video.Formats {
		f := toFormat(&video.Formats[i])
		if f.URL == "" {
			u, err := s.Client.GetStreamURLContext(ctx, video, &video.Formats[i])
			if err != nil {
				if ctx.Err() != nil {
					return nil, ytclient.Wrap(ytclient.CategoryNetwork, ctx.Err())
				}
				s.Logger.Debug("stream url unavailable",
					slog.String("id", string(id)),
					slog.Int("itag", f.ID),
					slog.Any("error", err),
				)
			} else {
				f.URL = u
			}
		}
		formats = append(formats, f)
	}
	return formats, nil
}

func (s *Service) video(ctx context.Context, id videoid.ID) (*youtube.Video, error) {
	video, err := s.Client.GetVideoContext(ctx, string(id))
	if err != nil {
		cat := ytclient.CategoryOf(err)
		if cat == ytclient.CategoryInternal {
			cat = ytclient.CategoryUnavailable
		}
		return nil, ytclient.Wrap(cat, fmt.Errorf("fetching player response: %w", err))
	}
	return video, nil
}

// Download saves the selected stream into the request directory and returns
// where it landed. A partially written file is removed on failure.
func (s *Service) Download(ctx context.Context, req Request) (result Result, err error) {
	target, err := normalizeTranscodeTarget(req.Transcode)
	if err != nil {
		return result, err
	}
	printer := newPrinter(req.Progress, s.Logger)

	video, err := s.video(ctx, req.ID)
	if err != nil {
		return result, err
	}
	format, err := selectFormat(video, req)
	if err != nil {
		return result, err
	}

	dir := req.Dir
	if dir == "" {
		dir = s.Dir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return result, ytclient.Wrap(ytclient.CategoryFilesystem, fmt.Errorf("creating output directory: %w", err))
	}
	outputPath, err := resolveOutputPath(video, format, dir)
	if err != nil {
		return result, ytclient.Wrap(ytclient.CategoryFilesystem, err)
	}
	defer func() {
		if err != nil {
			os.Remove(outputPath)
		}
	}()

	printer.Log(LogInfo, fmt.Sprintf("downloading itag %d (%s)", format.ItagNo, describeFormat(format)))
	written, err := s.fetch(ctx, video, format, outputPath, printer)
	if err != nil {
		return result, err
	}
	if err := validateOutputFile(outputPath, format); err != nil {
		return result, err
	}

	result = Result{
		Path:    outputPath,
		Bytes:   written,
		Format:  toFormat(format),
		Title:   video.Title,
		Channel: video.Author,
	}

	if target != "" && target != mimeToExt(format.MimeType) {
		printer.Log(LogInfo, "transcoding to "+target)
		converted := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + "." + target
		if err := runTranscode(ctx, outputPath, converted, target); err != nil {
			os.Remove(converted)
			return Result{}, err
		}
		os.Remove(outputPath)
		outputPath = converted
		result.Path = converted
		result.Transcoded = true
	}

	if strings.EqualFold(filepath.Ext(outputPath), ".mp3") {
		if tagErr := embedID3Tags(tagsForVideo(video), outputPath); tagErr != nil {
			printer.Log(LogWarn, fmt.Sprintf("warning: metadata tag embedding failed: %v", tagErr))
		}
	}
	if result.Transcoded || strings.EqualFold(filepath.Ext(outputPath), ".mp3") {
		fi, statErr := os.Stat(outputPath)
		if statErr != nil {
			return Result{}, ytclient.Wrap(ytclient.CategoryFilesystem, fmt.Errorf("reading output file: %w", statErr))
		}
		result.Bytes = fi.Size()
	}

	result.Filename = filepath.Base(outputPath)
	printer.Log(LogInfo, fmt.Sprintf("complete: %s (%s)", result.Filename, humanBytes(result.Bytes)))
	return result, nil
}

// fetch streams format into path. A 403 on the chunked download is retried
// once as a single request.
func (s *Service) fetch(ctx context.Context, video *youtube.Video, format *youtube.Format, path string, printer *Printer) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, ytclient.Wrap(ytclient.CategoryFilesystem, fmt.Errorf("opening output file: %w", err))
	}
	defer file.Close()

	s.Client.AdjustChunkSize(format.ContentLength)
	stream, size, err := s.Client.GetStreamContext(ctx, video, format)
	if err != nil {
		return 0, ytclient.Wrap(ytclient.CategoryNetwork, fmt.Errorf("starting stream: %w", err))
	}
	if size <= 0 && format.ContentLength > 0 {
		size = format.ContentLength
	}

	progress := newProgressWriter(size, printer, fmt.Sprintf("itag %d", format.ItagNo))
	written, err := copyWithContext(ctx, io.MultiWriter(file, progress), stream)
	stream.Close()

	if err != nil && ytclient.IsUnexpectedStatus(err, http.StatusForbidden) {
		printer.Log(LogWarn, "warning: 403 from chunked download, retrying with single request")
		if _, seekErr := file.Seek(0, io.SeekStart); seekErr != nil {
			return 0, ytclient.Wrap(ytclient.CategoryFilesystem, fmt.Errorf("retry failed: %w", seekErr))
		}
		if truncErr := file.Truncate(0); truncErr != nil {
			return 0, ytclient.Wrap(ytclient.CategoryFilesystem, fmt.Errorf("retry failed: %w", truncErr))
		}
		single := *format
		single.ContentLength = 0
		stream, size, err = s.Client.GetStreamContext(ctx, video, &single)
		if err != nil {
			return 0, ytclient.Wrap(ytclient.CategoryNetwork, fmt.Errorf("retry failed: %w", err))
		}
		if size <= 0 {
			size = format.ContentLength
		}
		progress.Reset(size)
		written, err = copyWithContext(ctx, io.MultiWriter(file, progress), stream)
		stream.Close()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, ytclient.Wrap(ytclient.CategoryNetwork, err)
		}
		return 0, ytclient.Wrap(ytclient.CategoryNetwork, fmt.Errorf("download failed: %w", err))
	}
	progress.Finish()
	return written, nil
}

func describeFormat(f *youtube.Format) string {
	parts := []string{mimeToExt(f.MimeType)}
	if f.QualityLabel != "" {
		parts = append(parts, f.QualityLabel)
	} else if b := bitrateForFormat(f); b > 0 {
		parts = append(parts, fmt.Sprintf("%dk", b/1000))
	}
	if f.ContentLength > 0 {
		parts = append(parts, humanBytes(f.ContentLength))
	}
	return strings.Join(parts, ", ")
}
