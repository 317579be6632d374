package videoid

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  ID
	}{
		{name: "bare id", input: "abc123", want: "abc123"},
		{name: "canonical length id", input: "dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "bare id with whitespace", input: "  dQw4w9WgXcQ \n", want: "dQw4w9WgXcQ"},
		{name: "bare id with query fragment", input: "abc123?feature=share", want: "abc123"},
		{name: "short link", input: "https://youtu.be/abc123", want: "abc123"},
		{name: "short link with timestamp", input: "https://youtu.be/abc123?t=42", want: "abc123"},
		{name: "watch", input: "https://www.youtube.com/watch?v=abc123", want: "abc123"},
		{name: "watch without www", input: "http://youtube.com/watch?v=abc123", want: "abc123"},
		{name: "watch trailing slash", input: "https://www.youtube.com/watch/?v=abc123", want: "abc123"},
		{name: "video wins over playlist", input: "https://www.youtube.com/watch?v=abc123&list=PL1", want: "abc123"},
		{name: "playlist first", input: "https://www.youtube.com/watch?list=PL1&v=abc123", want: "abc123"},
		{name: "mobile", input: "https://m.youtube.com/watch?v=abc123&feature=youtu.be", want: "abc123"},
		{name: "music", input: "https://music.youtube.com/watch?v=abc123&si=xyz", want: "abc123"},
		{name: "embed", input: "https://www.youtube.com/embed/abc123", want: "abc123"},
		{name: "embed with params", input: "https://www.youtube.com/embed/abc123?autoplay=1", want: "abc123"},
		{name: "nocookie embed", input: "https://www.youtube-nocookie.com/embed/abc123", want: "abc123"},
		{name: "legacy v path", input: "https://www.youtube.com/v/abc123", want: "abc123"},
		{name: "watch permalink", input: "https://www.youtube.com/watch/abc123", want: "abc123"},
		{name: "shorts", input: "https://www.youtube.com/shorts/abc123?feature=share", want: "abc123"},
		{name: "shorts glued fragment", input: "https://www.youtube.com/shorts/abc123&feature=share", want: "abc123"},
		{name: "live", input: "https://www.youtube.com/live/abc123?si=x", want: "abc123"},
		{name: "upper case host", input: "HTTPS://WWW.YOUTUBE.COM/watch?v=abc123", want: "abc123"},
		{name: "port", input: "https://www.youtube.com:443/watch?v=abc123", want: "abc123"},
		{name: "scheme-less short link", input: "youtu.be/abc123", want: "abc123"},
		{name: "scheme-less watch", input: "www.youtube.com/watch?v=abc123", want: "abc123"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.input)
			if err != nil {
				t.Fatalf("Resolve(%q) returned error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tc.input, got, tc.want)
			}

			again, err := Resolve(string(got))
			if err != nil {
				t.Fatalf("Resolve(%q) on resolved id returned error: %v", got, err)
			}
			if again != got {
				t.Fatalf("resolution is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestResolveFailures(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		reason Reason
	}{
		{name: "empty", input: "", reason: ReasonEmpty},
		{name: "blank", input: "   ", reason: ReasonEmpty},
		{name: "unrecognized host", input: "https://example.com/watch?v=abc123", reason: ReasonUnsupportedHost},
		{name: "lookalike host", input: "https://youtube.com.evil.example/watch?v=abc123", reason: ReasonUnsupportedHost},
		{name: "missing v", input: "https://www.youtube.com/watch", reason: ReasonMissingParam},
		{name: "empty v", input: "https://www.youtube.com/watch?v=", reason: ReasonMissingParam},
		{name: "playlist only", input: "https://www.youtube.com/watch?list=PL1", reason: ReasonMissingParam},
		{name: "playlist page", input: "https://www.youtube.com/playlist?list=PL1", reason: ReasonUnsupportedPath},
		{name: "channel page", input: "https://www.youtube.com/@someone", reason: ReasonUnsupportedPath},
		{name: "embed without id", input: "https://www.youtube.com/embed/", reason: ReasonUnsupportedPath},
		{name: "short link without id", input: "https://youtu.be/", reason: ReasonUnsupportedPath},
		{name: "bad bare id", input: "not a video", reason: ReasonInvalidID},
		{name: "bad id in query", input: "https://www.youtube.com/watch?v=a%20b", reason: ReasonInvalidID},
		{name: "unparseable", input: "https://[::1/watch?v=abc123", reason: ReasonUnparseable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.input)
			if err == nil {
				t.Fatalf("Resolve(%q) = %q, expected failure", tc.input, got)
			}
			if got != "" {
				t.Fatalf("Resolve(%q) returned partial id %q alongside error", tc.input, got)
			}
			if !errors.Is(err, ErrUnresolved) {
				t.Fatalf("expected ErrUnresolved, got %v", err)
			}
			var resErr *ResolutionError
			if !errors.As(err, &resErr) {
				t.Fatalf("expected *ResolutionError, got %T", err)
			}
			if resErr.Reason != tc.reason {
				t.Fatalf("reason = %q, want %q", resErr.Reason, tc.reason)
			}
		})
	}
}

func TestResolverTraceDoesNotChangeResult(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := Resolver{Logger: logger}

	got, err := r.Resolve("https://youtu.be/abc123")
	if err != nil || got != "abc123" {
		t.Fatalf("traced Resolve = %q, %v", got, err)
	}
	if !strings.Contains(buf.String(), "video_id=abc123") {
		t.Fatalf("expected trace with extracted id, got %q", buf.String())
	}

	buf.Reset()
	if _, err := r.Resolve("https://example.com/x"); err == nil {
		t.Fatalf("expected failure for unsupported host")
	}
	if !strings.Contains(buf.String(), "reason=unsupported_host") {
		t.Fatalf("expected failure trace, got %q", buf.String())
	}
}

func TestResolveConcurrent(t *testing.T) {
	inputs := []string{
		"https://youtu.be/abc123",
		"https://www.youtube.com/watch?v=abc123&list=PL1",
		"https://www.youtube.com/embed/abc123",
		"abc123",
	}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(input string) {
			defer wg.Done()
			if got, err := Resolve(input); err != nil || got != "abc123" {
				t.Errorf("Resolve(%q) = %q, %v", input, got, err)
			}
		}(inputs[i%len(inputs)])
	}
	wg.Wait()
}

func TestValidID(t *testing.T) {
	for _, s := range []string{"abc123", "A-b_C", "dQw4w9WgXcQ"} {
		if !ValidID(s) {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	for _, s := range []string{"", "a b", "a/b", "a?b", "ü"} {
		if ValidID(s) {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}

func TestWatchURL(t *testing.T) {
	if got := ID("abc123").WatchURL(); got != "https://www.youtube.com/watch?v=abc123" {
		t.Fatalf("unexpected watch url %q", got)
	}
	if got := ID("").WatchURL(); got != "" {
		t.Fatalf("expected empty watch url, got %q", got)
	}
}
