package ytclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/kkdai/youtube/v2"
)

func TestWrapKeepsFirstCategory(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(CategoryNetwork, base)
	err = Wrap(CategoryInternal, fmt.Errorf("outer: %w", err))

	if got := CategoryOf(err); got != CategoryNetwork {
		t.Fatalf("expected network category, got %q", got)
	}
	if !errors.Is(err, base) {
		t.Fatalf("wrapping lost the underlying error")
	}
	if Wrap(CategoryNetwork, nil) != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{name: "nil", err: nil, want: ""},
		{name: "private", err: youtube.ErrVideoPrivate, want: CategoryRestricted},
		{name: "login", err: fmt.Errorf("fetch: %w", youtube.ErrLoginRequired), want: CategoryRestricted},
		{name: "embed disabled", err: youtube.ErrNotPlayableInEmbed, want: CategoryUnavailable},
		{name: "404", err: youtube.ErrUnexpectedStatusCode(http.StatusNotFound), want: CategoryNotFound},
		{name: "500", err: youtube.ErrUnexpectedStatusCode(http.StatusInternalServerError), want: CategoryNetwork},
		{name: "deadline", err: context.DeadlineExceeded, want: CategoryNetwork},
		{name: "playability", err: youtube.ErrPlayabiltyStatus{Status: "ERROR", Reason: "Video unavailable"}, want: CategoryUnavailable},
		{name: "message", err: errors.New("This video is age-restricted"), want: CategoryRestricted},
		{name: "unknown", err: errors.New("something odd"), want: CategoryInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CategoryOf(tc.err); got != tc.want {
				t.Fatalf("CategoryOf(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Category]int{
		CategoryInvalidURL:  http.StatusBadRequest,
		CategoryNotFound:    http.StatusNotFound,
		CategoryRestricted:  http.StatusForbidden,
		CategoryNetwork:     http.StatusBadGateway,
		CategoryTranscode:   http.StatusInternalServerError,
		CategoryFilesystem:  http.StatusInternalServerError,
		CategoryUnsupported: http.StatusBadRequest,
	}
	for cat, want := range cases {
		if got := HTTPStatus(Wrap(cat, errors.New("x"))); got != want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", cat, got, want)
		}
	}
}

func TestAdjustChunkSize(t *testing.T) {
	client := FromHTTPClient(&http.Client{}).(*clientAdapter)

	client.AdjustChunkSize(1024)
	if client.Client.ChunkSize != minChunkSize {
		t.Fatalf("expected min chunk size, got %d", client.Client.ChunkSize)
	}
	client.AdjustChunkSize(1 << 40)
	if client.Client.ChunkSize != maxChunkSize {
		t.Fatalf("expected max chunk size, got %d", client.Client.ChunkSize)
	}
	client.AdjustChunkSize(64 * 512 * 1024)
	if client.Client.ChunkSize != 512*1024 {
		t.Fatalf("expected proportional chunk size, got %d", client.Client.ChunkSize)
	}
}

func TestIsUnexpectedStatus(t *testing.T) {
	err := fmt.Errorf("stream: %w", youtube.ErrUnexpectedStatusCode(http.StatusForbidden))
	if !IsUnexpectedStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403 match")
	}
	if IsUnexpectedStatus(err, http.StatusNotFound) {
		t.Fatalf("unexpected 404 match")
	}
}
