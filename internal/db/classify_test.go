package db

import "testing"

func TestClassifyMediaType(t *testing.T) {
	tests := []struct {
		name    string
		signals MediaSignals
		want    string
	}{
		{
			name:    "music.youtube.com URL",
			signals: MediaSignals{URL: "https://music.youtube.com/watch?v=abc"},
			want:    MediaMusic,
		},
		{
			name:    "Topic channel",
			signals: MediaSignals{Channel: "Taylor Swift - Topic"},
			want:    MediaMusic,
		},
		{
			name:    "music category",
			signals: MediaSignals{Category: "Music"},
			want:    MediaMusic,
		},
		{
			name:    "podcast tag beats audio only",
			signals: MediaSignals{Tags: []string{"interview", " Podcast "}, AudioOnly: true},
			want:    MediaPodcast,
		},
		{
			name:    "podcast category",
			signals: MediaSignals{Category: "Podcasts"},
			want:    MediaPodcast,
		},
		{
			name:    "movie category",
			signals: MediaSignals{Category: "Movies"},
			want:    MediaMovie,
		},
		{
			name:    "movies channel",
			signals: MediaSignals{Channel: "YouTube Movies & TV"},
			want:    MediaMovie,
		},
		{
			name:    "audio only download",
			signals: MediaSignals{URL: "https://youtube.com/watch?v=abc", AudioOnly: true},
			want:    MediaMusic,
		},
		{
			name:    "fallback",
			signals: MediaSignals{URL: "https://youtube.com/watch?v=abc", Channel: "Vlogger"},
			want:    MediaVideo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyMediaType(tt.signals); got != tt.want {
				t.Fatalf("ClassifyMediaType(%+v) = %q, want %q", tt.signals, got, tt.want)
			}
		})
	}
}
