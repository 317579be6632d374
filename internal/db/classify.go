package db

import "strings"

// Media types stored with each download.
const (
	MediaMusic   = "music"
	MediaPodcast = "podcast"
	MediaMovie   = "movie"
	MediaVideo   = "video"
)

// MediaSignals are the metadata hints used to label a download.
type MediaSignals struct {
	URL       string
	Channel   string
	Category  string
	Tags      []string
	AudioOnly bool
}

// ClassifyMediaType labels a download as music, podcast, movie or video.
//
// Music wins for music.youtube.com links, auto-generated "- Topic" channels,
// the Music category and audio-only downloads. Podcasts and movies are
// recognized by category, tags or the official movies channel.
func ClassifyMediaType(s MediaSignals) string {
	category := strings.ToLower(strings.TrimSpace(s.Category))

	if strings.Contains(s.URL, "music.youtube.com") ||
		strings.HasSuffix(s.Channel, " - Topic") ||
		category == "music" {
		return MediaMusic
	}
	if category == "podcasts" || hasTag(s.Tags, "podcast") {
		return MediaPodcast
	}
	if category == "movies" || s.Channel == "YouTube Movies & TV" {
		return MediaMovie
	}
	if s.AudioOnly {
		return MediaMusic
	}
	return MediaVideo
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if strings.EqualFold(strings.TrimSpace(tag), want) {
			return true
		}
	}
	return false
}
