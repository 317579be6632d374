package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvcoi/ytinfo/internal/downloader"
	"github.com/lvcoi/ytinfo/internal/metadata"
	"github.com/lvcoi/ytinfo/internal/transcript"
	"github.com/lvcoi/ytinfo/internal/videoid"
)

type fakeMetadata struct {
	video metadata.Video
	err   error
	calls atomic.Int32
}

func (f *fakeMetadata) Video(ctx context.Context, id videoid.ID) (metadata.Video, error) {
	f.calls.Add(1)
	v := f.video
	v.ID = string(id)
	return v, f.err
}

type fakeTranscripts struct {
	tr    *transcript.Transcript
	err   error
	langs []string
	wait  time.Duration
}

func (f *fakeTranscripts) Transcript(ctx context.Context, id videoid.ID, langs []string) (*transcript.Transcript, error) {
	f.langs = langs
	if f.wait > 0 {
		select {
		case <-time.After(f.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.tr, f.err
}

type fakeFormats struct {
	formats []downloader.Format
	err     error
}

func (f *fakeFormats) Formats(ctx context.Context, id videoid.ID) ([]downloader.Format, error) {
	return f.formats, f.err
}

type fakeHistory struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeHistory) RecordLookup(ctx context.Context, id, title, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return nil
}

func newService() (*Service, *fakeMetadata, *fakeTranscripts, *fakeFormats) {
	meta := &fakeMetadata{video: metadata.Video{
		Title:    "Title",
		Channel:  "Channel",
		Duration: "PT1M5S",
		Tags:     []string{"a", "b"},
	}}
	tr := &fakeTranscripts{tr: &transcript.Transcript{Language: "en", Segments: []transcript.Segment{{Text: "hello"}, {Text: "world"}}}}
	formats := &fakeFormats{formats: []downloader.Format{{ID: 18, Container: "mp4", HasAudio: true, HasVideo: true}}}
	svc := &Service{Metadata: meta, Transcripts: tr, Formats: formats, Languages: []string{"it", "en"}}
	return svc, meta, tr, formats
}

func TestInfoAggregates(t *testing.T) {
	svc, _, tr, _ := newService()
	history := &fakeHistory{}
	svc.History = history

	info, err := svc.Info(context.Background(), "https://youtu.be/dQw4w9WgXcQ?t=42")
	require.NoError(t, err)

	assert.Equal(t, videoid.ID("dQw4w9WgXcQ"), info.ID)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", info.URL)
	assert.Equal(t, "Title", info.Title)
	assert.Equal(t, 65, info.DurationSeconds)
	assert.Equal(t, []string{"a", "b"}, info.Tags)
	assert.Equal(t, "hello world", info.TranscriptText)
	assert.Len(t, info.Formats, 1)
	assert.Empty(t, info.Warnings)
	assert.Equal(t, []string{"it", "en"}, tr.langs)
	assert.Equal(t, []string{"dQw4w9WgXcQ"}, history.ids)
}

func TestInfoInvalidReference(t *testing.T) {
	svc, meta, _, _ := newService()
	_, err := svc.Info(context.Background(), "https://vimeo.com/123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, videoid.ErrUnresolved))
	assert.Equal(t, int32(0), meta.calls.Load(), "collaborators must not be called for unresolvable input")
}

func TestInfoCollectsWarnings(t *testing.T) {
	svc, meta, tr, formats := newService()
	meta.video.Tags = nil
	tr.err = transcript.ErrNoTranscript
	tr.tr = nil
	formats.err = errors.New("player blocked")

	info, err := svc.Info(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, []string{}, info.Tags)
	assert.Nil(t, info.Transcript)
	assert.Empty(t, info.Formats)
	assert.Contains(t, info.Warnings, WarnNoTags)
	assert.Contains(t, info.Warnings, WarnNoTranscript)
	assert.Contains(t, info.Warnings, "format listing failed: player blocked")
}

func TestInfoMetadataFailureDoesNotCancelOthers(t *testing.T) {
	svc, meta, tr, _ := newService()
	meta.err = errors.New("quota")
	tr.wait = 20 * time.Millisecond

	info, err := svc.Info(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "hello world", info.TranscriptText)
	assert.Contains(t, info.Warnings, "metadata lookup failed: quota")
}

func TestInfoNotFound(t *testing.T) {
	svc, meta, _, _ := newService()
	meta.err = metadata.ErrNotFound

	_, err := svc.Info(context.Background(), "dQw4w9WgXcQ")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestInfoWithoutCollaborators(t *testing.T) {
	svc := &Service{}
	info, err := svc.Info(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, videoid.ID("dQw4w9WgXcQ"), info.ID)
	assert.Empty(t, info.Warnings)
}

func TestRunKeepsOrderAndExitCode(t *testing.T) {
	svc, _, _, _ := newService()
	inputs := []string{"dQw4w9WgXcQ", "not a url/", "https://youtu.be/abcdefghijk"}

	results, code := svc.Run(context.Background(), inputs, 2)
	require.Len(t, results, 3)
	assert.Equal(t, ExitUnresolved, code)
	for i, res := range results {
		assert.Equal(t, inputs[i], res.Input)
	}
	assert.Equal(t, videoid.ID("abcdefghijk"), results[2].ID)
	assert.NotEmpty(t, results[1].Error)
}

func TestRunCancelled(t *testing.T) {
	svc, _, _, _ := newService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inputs := make([]string, 20)
	for i := range inputs {
		inputs[i] = fmt.Sprintf("https://youtu.be/abcdefghij%d", i%10)
	}
	_, code := svc.Run(ctx, inputs, 4)
	assert.NotEqual(t, ExitOK, code)
}

func TestResolveAll(t *testing.T) {
	svc := &Service{}
	results, code := svc.ResolveAll([]string{"youtu.be/abcdefghijk", ""})
	assert.Equal(t, ExitUnresolved, code)
	assert.Equal(t, videoid.ID("abcdefghijk"), results[0].ID)
	assert.Equal(t, `resolve "": empty`, results[1].Error)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitUnresolved, ExitCode(&videoid.ResolutionError{Reason: videoid.ReasonEmpty}))
	assert.Equal(t, ExitInterrupted, ExitCode(fmt.Errorf("x: %w", context.Canceled)))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
}
