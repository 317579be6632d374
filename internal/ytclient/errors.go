package ytclient

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kkdai/youtube/v2"
)

// Category groups collaborator failures so callers can pick a message and
// an HTTP status without inspecting error strings.
type Category string

const (
	CategoryInvalidURL  Category = "invalid_url"
	CategoryNotFound    Category = "not_found"
	CategoryUnavailable Category = "unavailable"
	CategoryRestricted  Category = "restricted"
	CategoryNetwork     Category = "network"
	CategoryFilesystem  Category = "filesystem"
	CategoryUnsupported Category = "unsupported"
	CategoryTranscode   Category = "transcode"
	CategoryInternal    Category = "internal"
)

// CategorizedError attaches a Category to an underlying error.
type CategorizedError struct {
	Category Category
	Err      error
}

func (e CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e CategorizedError) Unwrap() error { return e.Err }

// Wrap tags err with cat. An error that already carries a category keeps it.
func Wrap(cat Category, err error) error {
	if err == nil {
		return nil
	}
	var existing CategorizedError
	if errors.As(err, &existing) {
		return err
	}
	return CategorizedError{Category: cat, Err: err}
}

var restrictedMarkers = []string{
	"age restricted",
	"age-restricted",
	"sign in",
	"login",
	"members only",
	"premium",
	"private",
}

var unavailableMarkers = []string{
	"video unavailable",
	"not available",
	"content unavailable",
}

// CategoryOf returns the category attached to err, or a best guess derived
// from well-known upstream errors and messages.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var ce CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	switch {
	case errors.Is(err, youtube.ErrVideoPrivate), errors.Is(err, youtube.ErrLoginRequired):
		return CategoryRestricted
	case errors.Is(err, youtube.ErrNotPlayableInEmbed):
		return CategoryUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CategoryNetwork
	}
	var status youtube.ErrUnexpectedStatusCode
	if errors.As(err, &status) {
		if int(status) == http.StatusNotFound {
			return CategoryNotFound
		}
		return CategoryNetwork
	}
	var playability youtube.ErrPlayabiltyStatus
	if errors.As(err, &playability) {
		return classifyMessage(playability.Reason, CategoryUnavailable)
	}
	return classifyMessage(err.Error(), CategoryInternal)
}

func classifyMessage(msg string, fallback Category) Category {
	lower := strings.ToLower(msg)
	for _, marker := range restrictedMarkers {
		if strings.Contains(lower, marker) {
			return CategoryRestricted
		}
	}
	for _, marker := range unavailableMarkers {
		if strings.Contains(lower, marker) {
			return CategoryUnavailable
		}
	}
	return fallback
}

// HTTPStatus maps the category of err to a response status.
func HTTPStatus(err error) int {
	switch CategoryOf(err) {
	case "":
		return http.StatusOK
	case CategoryInvalidURL, CategoryUnsupported:
		return http.StatusBadRequest
	case CategoryNotFound, CategoryUnavailable:
		return http.StatusNotFound
	case CategoryRestricted:
		return http.StatusForbidden
	case CategoryNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
