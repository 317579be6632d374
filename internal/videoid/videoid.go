// Package videoid extracts canonical YouTube video identifiers from the many
// URL shapes users paste (watch pages, short links, embeds, shorts, music)
// or from a bare identifier.
package videoid

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// ID is a canonical video identifier. It never contains a scheme, host,
// path or query fragment.
type ID string

func (id ID) String() string { return string(id) }

// WatchURL returns the canonical watch page for the identifier.
func (id ID) WatchURL() string {
	if id == "" {
		return ""
	}
	return "https://www.youtube.com/watch?v=" + string(id)
}

// Reason describes why an input could not be resolved.
type Reason string

const (
	ReasonEmpty           Reason = "empty"
	ReasonUnparseable     Reason = "unparseable"
	ReasonUnsupportedHost Reason = "unsupported_host"
	ReasonUnsupportedPath Reason = "unsupported_path"
	ReasonMissingParam    Reason = "missing_param"
	ReasonInvalidID       Reason = "invalid_id"
)

// ErrUnresolved matches every resolution failure via errors.Is.
var ErrUnresolved = errors.New("no video identifier could be determined")

// ResolutionError is returned when no identifier can be extracted.
type ResolutionError struct {
	Input  string
	Reason Reason
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %s", e.Input, e.Reason)
}

func (e *ResolutionError) Is(target error) bool { return target == ErrUnresolved }

const (
	hostShort = "youtu.be"
)

var videoHosts = map[string]struct{}{
	"youtube.com":              {},
	"www.youtube.com":          {},
	"m.youtube.com":            {},
	"music.youtube.com":        {},
	"youtube-nocookie.com":     {},
	"www.youtube-nocookie.com": {},
}

// pathPrefixes whose second segment is the identifier.
var idPathPrefixes = []string{"v", "watch", "embed", "shorts", "live", "e"}

// Resolver resolves inputs and, when Logger is set, traces each decision at
// debug level.
type Resolver struct {
	Logger *slog.Logger
}

var defaultResolver Resolver

// Resolve extracts the video identifier from a URL or bare identifier.
func Resolve(input string) (ID, error) {
	return defaultResolver.Resolve(input)
}

// Resolve extracts the video identifier from a URL or bare identifier. It is
// safe for concurrent use.
func (r Resolver) Resolve(input string) (ID, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return r.fail(input, ReasonEmpty, "", "")
	}

	if !hasScheme(raw) {
		if !strings.Contains(raw, "/") {
			id := stripFragment(raw)
			if !ValidID(id) {
				return r.fail(input, ReasonInvalidID, "", "")
			}
			r.trace("bare identifier", "", "", id)
			return ID(id), nil
		}
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return r.fail(input, ReasonUnparseable, "", "")
	}
	host := strings.ToLower(parsed.Hostname())
	path := parsed.Path

	var candidate string
	switch {
	case host == hostShort:
		candidate = segment(path, 0)
		if candidate == "" {
			return r.fail(input, ReasonUnsupportedPath, host, path)
		}
	case isVideoHost(host):
		switch {
		case strings.TrimSuffix(path, "/") == "/watch":
			values, ok := parsed.Query()["v"]
			if !ok || len(values) == 0 || values[0] == "" {
				return r.fail(input, ReasonMissingParam, host, path)
			}
			candidate = values[0]
		case hasIDPrefix(path):
			candidate = segment(path, 1)
			if candidate == "" {
				return r.fail(input, ReasonUnsupportedPath, host, path)
			}
		default:
			return r.fail(input, ReasonUnsupportedPath, host, path)
		}
	default:
		return r.fail(input, ReasonUnsupportedHost, host, path)
	}

	id := stripFragment(candidate)
	if !ValidID(id) {
		return r.fail(input, ReasonInvalidID, host, path)
	}
	r.trace("extracted", host, path, id)
	return ID(id), nil
}

// ValidID reports whether s is non-empty and uses only the URL-safe
// identifier alphabet.
func ValidID(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func hasScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func isVideoHost(host string) bool {
	_, ok := videoHosts[host]
	return ok
}

func hasIDPrefix(path string) bool {
	for _, prefix := range idPathPrefixes {
		if strings.HasPrefix(path, "/"+prefix+"/") {
			return true
		}
	}
	return false
}

// segment returns the n-th non-leading path segment.
func segment(path string, n int) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if n >= len(parts) {
		return ""
	}
	return parts[n]
}

// stripFragment drops anything glued onto an identifier, such as
// "abc123?feature=share" or "abc123&t=10".
func stripFragment(s string) string {
	if i := strings.IndexAny(s, "?&#;"); i >= 0 {
		return s[:i]
	}
	return s
}

func (r Resolver) fail(input string, reason Reason, host, path string) (ID, error) {
	if r.Logger != nil {
		r.Logger.Debug("no video id extracted",
			slog.String("host", host),
			slog.String("path", path),
			slog.String("reason", string(reason)),
		)
	}
	return "", &ResolutionError{Input: input, Reason: reason}
}

func (r Resolver) trace(msg, host, path, id string) {
	if r.Logger == nil {
		return
	}
	r.Logger.Debug(msg,
		slog.String("host", host),
		slog.String("path", path),
		slog.String("video_id", id),
	)
}
