package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/lvcoi/ytinfo/internal/ytclient"
)

var transcodeTargets = map[string]ffmpeg.KwArgs{
	"mp3":  {"vn": "", "acodec": "libmp3lame", "q:a": "2"},
	"m4a":  {"vn": "", "acodec": "aac", "b:a": "192k"},
	"opus": {"vn": "", "acodec": "libopus", "b:a": "160k"},
	"wav":  {"vn": "", "acodec": "pcm_s16le"},
	"mp4":  {"vcodec": "libx264", "acodec": "aac", "movflags": "+faststart"},
}

// TranscodeTargets lists the accepted transcode containers.
func TranscodeTargets() []string {
	return []string{"mp3", "m4a", "opus", "wav", "mp4"}
}

func normalizeTranscodeTarget(target string) (string, error) {
	target = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(target)), ".")
	if target == "" {
		return "", nil
	}
	if _, ok := transcodeTargets[target]; !ok {
		return "", ytclient.Wrap(ytclient.CategoryUnsupported,
			fmt.Errorf("unsupported transcode target %q (expected one of %s)", target, strings.Join(TranscodeTargets(), ", ")))
	}
	return target, nil
}

// runTranscode is swapped out in tests.
var runTranscode = transcode

func ffmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// transcode converts inputPath into outputPath with ffmpeg. The process is
// killed when ctx is done.
func transcode(ctx context.Context, inputPath, outputPath, target string) error {
	kwargs, ok := transcodeTargets[target]
	if !ok {
		return ytclient.Wrap(ytclient.CategoryUnsupported, fmt.Errorf("unsupported transcode target %q", target))
	}
	if !ffmpegAvailable() {
		return ytclient.Wrap(ytclient.CategoryTranscode, errors.New("ffmpeg not found in PATH"))
	}

	compiled := ffmpeg.Input(inputPath).
		Output(outputPath, kwargs).
		OverWriteOutput().
		Compile()

	cmd := exec.CommandContext(ctx, compiled.Path, compiled.Args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ytclient.Wrap(ytclient.CategoryNetwork, ctx.Err())
		}
		msg := lastLine(stderr.String())
		if msg != "" {
			return ytclient.Wrap(ytclient.CategoryTranscode, fmt.Errorf("ffmpeg %s: %s: %w", target, msg, err))
		}
		return ytclient.Wrap(ytclient.CategoryTranscode, fmt.Errorf("ffmpeg %s: %w", target, err))
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
