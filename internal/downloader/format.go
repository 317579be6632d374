package downloader

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/lvcoi/ytinfo/internal/ytclient"
)

func toFormat(f *youtube.Format) Format {
	quality := f.QualityLabel
	if quality == "" {
		if b := bitrateForFormat(f); b > 0 {
			quality = fmt.Sprintf("%dk", b/1000)
		}
	}
	return Format{
		ID:            f.ItagNo,
		Container:     mimeToExt(f.MimeType),
		MimeType:      f.MimeType,
		Quality:       quality,
		Bitrate:       bitrateForFormat(f),
		HasAudio:      f.AudioChannels > 0,
		HasVideo:      f.Width > 0 || f.Height > 0,
		Width:         f.Width,
		Height:        f.Height,
		ContentLength: f.ContentLength,
		URL:           f.URL,
	}
}

// selectFormat picks the stream for req. An explicit itag wins over the
// audio and quality preferences.
func selectFormat(video *youtube.Video, req Request) (*youtube.Format, error) {
	if req.FormatID > 0 {
		for i := range video.Formats {
			if video.Formats[i].ItagNo == req.FormatID {
				return &video.Formats[i], nil
			}
		}
		return nil, ytclient.Wrap(ytclient.CategoryUnsupported, fmt.Errorf("format %d not available for this video", req.FormatID))
	}

	candidates := make([]*youtube.Format, 0, len(video.Formats))
	for i := range video.Formats {
		format := &video.Formats[i]
		if req.Audio {
			if format.AudioChannels == 0 || format.Width != 0 || format.Height != 0 {
				continue
			}
		} else if format.AudioChannels == 0 || format.Width == 0 || format.Height == 0 {
			continue
		}
		candidates = append(candidates, format)
	}

	if len(candidates) == 0 {
		reason := "no progressive (audio+video) formats available"
		if req.Audio {
			reason = "no audio-only formats available"
		}
		return nil, ytclient.Wrap(ytclient.CategoryUnsupported, errors.New(reason))
	}

	if req.Audio {
		return pickAudioFormat(candidates, req.Quality)
	}
	return pickVideoFormat(candidates, req.Quality)
}

func pickVideoFormat(candidates []*youtube.Format, quality string) (*youtube.Format, error) {
	targetHeight, preferLowest, err := parseVideoQuality(quality)
	if err != nil {
		return nil, ytclient.Wrap(ytclient.CategoryUnsupported, err)
	}

	var best *youtube.Format
	switch {
	case targetHeight > 0:
		for _, f := range candidates {
			if f.Height > targetHeight {
				continue
			}
			if best == nil || betterVideoFormat(f, best) {
				best = f
			}
		}
		if best == nil {
			// Nothing at or under the target: take the closest above it.
			for _, f := range candidates {
				if best == nil || f.Height < best.Height || (f.Height == best.Height && bitrateForFormat(f) > bitrateForFormat(best)) {
					best = f
				}
			}
		}
	case preferLowest:
		for _, f := range candidates {
			if best == nil || f.Height < best.Height || (f.Height == best.Height && bitrateForFormat(f) > bitrateForFormat(best)) {
				best = f
			}
		}
	default:
		for _, f := range candidates {
			if best == nil || betterVideoFormat(f, best) {
				best = f
			}
		}
	}
	return best, nil
}

func pickAudioFormat(candidates []*youtube.Format, quality string) (*youtube.Format, error) {
	targetBitrate, preferLowest, err := parseAudioQuality(quality)
	if err != nil {
		return nil, ytclient.Wrap(ytclient.CategoryUnsupported, err)
	}

	var best *youtube.Format
	if targetBitrate > 0 {
		for _, f := range candidates {
			br := bitrateForFormat(f)
			if br == 0 || br > targetBitrate {
				continue
			}
			if best == nil || br > bitrateForFormat(best) {
				best = f
			}
		}
	}
	if best == nil && (preferLowest || targetBitrate > 0) {
		for _, f := range candidates {
			br := bitrateForFormat(f)
			if br == 0 {
				continue
			}
			if best == nil || br < bitrateForFormat(best) {
				best = f
			}
		}
	}
	if best == nil {
		for _, f := range candidates {
			if best == nil || bitrateForFormat(f) > bitrateForFormat(best) {
				best = f
			}
		}
	}
	return best, nil
}

func parseVideoQuality(q string) (target int, preferLowest bool, err error) {
	q = strings.TrimSpace(strings.ToLower(q))
	switch q {
	case "", "best":
		return 0, false, nil
	case "worst":
		return 0, true, nil
	}
	value, convErr := strconv.Atoi(strings.TrimSuffix(q, "p"))
	if convErr != nil || value <= 0 {
		return 0, false, fmt.Errorf("invalid quality value %q (expected like 720p)", q)
	}
	return value, false, nil
}

func parseAudioQuality(q string) (bitrate int, preferLowest bool, err error) {
	q = strings.TrimSpace(strings.ToLower(q))
	switch q {
	case "", "best":
		return 0, false, nil
	case "worst":
		return 0, true, nil
	}
	q = strings.TrimSuffix(q, "bps")
	hasK := strings.HasSuffix(q, "k")
	q = strings.TrimSuffix(q, "k")
	value, convErr := strconv.Atoi(q)
	if convErr != nil || value <= 0 {
		return 0, false, fmt.Errorf("invalid audio quality %q (expected like 128k)", q)
	}
	if hasK || value < 1000 {
		value *= 1000
	}
	return value, false, nil
}

func betterVideoFormat(candidate, current *youtube.Format) bool {
	if candidate.Height != current.Height {
		return candidate.Height > current.Height
	}
	return bitrateForFormat(candidate) > bitrateForFormat(current)
}

func bitrateForFormat(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	return f.AverageBitrate
}

func mimeToExt(mime string) string {
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	parts := strings.Split(strings.TrimSpace(mime), "/")
	if len(parts) != 2 {
		return "bin"
	}
	switch parts[1] {
	case "3gpp":
		return "3gp"
	case "mp4":
		if parts[0] == "audio" {
			return "m4a"
		}
		return "mp4"
	default:
		return parts[1]
	}
}
