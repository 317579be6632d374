package downloader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kkdai/youtube/v2"
)

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)

const maxFilenameRunes = 120

// resolveOutputPath names the file after the video title inside dir. An
// existing file gets a numeric suffix.
func resolveOutputPath(video *youtube.Video, format *youtube.Format, dir string) (string, error) {
	title := sanitize(video.Title)
	if title == "video" && video.ID != "" {
		title = sanitize(video.ID)
	}
	ext := mimeToExt(format.MimeType)
	name := fmt.Sprintf("%s.%s", title, ext)

	path, err := safeOutputPath(name, dir)
	if err != nil {
		return "", err
	}
	return uniquePath(path), nil
}

func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// safeOutputPath joins resolved under baseDir and rejects paths that would
// escape it.
func safeOutputPath(resolved string, baseDir string) (string, error) {
	cleaned := filepath.Clean(resolved)
	if baseDir == "" {
		return cleaned, nil
	}
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("absolute output paths are not allowed with output directory %q", baseDir)
	}
	baseClean := filepath.Clean(baseDir)
	combined := filepath.Join(baseClean, cleaned)
	rel, err := filepath.Rel(baseClean, combined)
	if err != nil {
		return "", fmt.Errorf("resolve output path relative to %q: %w", baseClean, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("output path escapes base directory %q", baseClean)
	}
	return combined, nil
}

func sanitize(name string) string {
	clean := strings.TrimSpace(invalidFilenameChars.ReplaceAllString(name, "-"))
	clean = strings.Trim(clean, ".")
	if runes := []rune(clean); len(runes) > maxFilenameRunes {
		clean = strings.TrimSpace(string(runes[:maxFilenameRunes]))
	}
	if clean == "" {
		return "video"
	}
	return clean
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for n >= unit*div && exp < 3 {
		div *= unit
		exp++
	}
	suffix := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f%s", float64(n)/float64(div), suffix[exp])
}
