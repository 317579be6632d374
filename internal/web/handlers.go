package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lvcoi/ytinfo/internal/db"
	"github.com/lvcoi/ytinfo/internal/downloader"
	"github.com/lvcoi/ytinfo/internal/observability"
	"github.com/lvcoi/ytinfo/internal/ws"
)

// DownloadRequest is the body of POST /api/download.
type DownloadRequest struct {
	ID        string `json:"id"`
	Format    int    `json:"format"`
	Audio     bool   `json:"audio"`
	Quality   string `json:"quality"`
	Transcode string `json:"transcode"`
}

type historyResponse struct {
	Items      []db.HistoryEntry `json:"items"`
	NextOffset *int              `json:"next_offset"`
}

func (s *Server) handleGetVideoInfo(w http.ResponseWriter, r *http.Request) {
	var input string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			VideoID string `json:"video_id"`
		}
		if err := decodeJSONBody(w, r, &body); err != nil {
			writeJSONError(w, err.status, err.message)
			return
		}
		input = body.VideoID
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid form payload")
			return
		}
		input = r.PostForm.Get("video_id")
	}
	s.writeInfo(w, r, input)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeInfo(w, r, r.URL.Query().Get("v"))
}

func (s *Server) writeInfo(w http.ResponseWriter, r *http.Request, input string) {
	info, err := s.info.Info(r.Context(), input)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := s.info.Resolve(r.URL.Query().Get("v"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": string(id)})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	if s.info.Formats == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "format listing is disabled")
		return
	}
	id, err := s.info.Resolve(r.URL.Query().Get("v"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	formats, err := s.info.Formats.Formats(r.Context(), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "formats": formats})
}

// buildRequest validates a download request and resolves its id again.
func (s *Server) buildRequest(body DownloadRequest) (downloader.Request, *requestError) {
	id, err := s.info.Resolve(body.ID)
	if err != nil {
		return downloader.Request{}, &requestError{http.StatusBadRequest, invalidReference}
	}
	transcode := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(body.Transcode)), ".")
	if transcode != "" && !slices.Contains(downloader.TranscodeTargets(), transcode) {
		return downloader.Request{}, &requestError{http.StatusBadRequest,
			fmt.Sprintf("unsupported transcode target %q", body.Transcode)}
	}
	if body.Format < 0 {
		return downloader.Request{}, &requestError{http.StatusBadRequest, "invalid format"}
	}
	return downloader.Request{
		ID:        id,
		FormatID:  body.Format,
		Audio:     body.Audio,
		Quality:   body.Quality,
		Transcode: transcode,
	}, nil
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.downloads == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "downloads are disabled")
		return
	}
	var body DownloadRequest
	if err := decodeJSONBody(w, r, &body); err != nil {
		writeJSONError(w, err.status, err.message)
		return
	}
	req, reqErr := s.buildRequest(body)
	if reqErr != nil {
		writeJSONError(w, reqErr.status, reqErr.message)
		return
	}
	dir, err := s.jobDir()
	if err != nil {
		s.logger.Error("creating job directory", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to prepare download")
		return
	}
	req.Dir = dir

	job := s.jobs.Create(string(req.ID), dir)
	req.Progress = &webRenderer{job: job, hub: s.hub}
	go s.runJob(s.ctx, job, body.ID, req)

	writeJSON(w, http.StatusOK, map[string]string{
		"jobId":  job.ID,
		"status": StatusQueued,
	})
}

func (s *Server) jobDir() (string, error) {
	if err := os.MkdirAll(s.cfg.Download.Dir, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(s.cfg.Download.Dir, "job-")
}

func (s *Server) downloadTimeout() time.Duration {
	if s.cfg.Download.Timeout > 0 {
		return s.cfg.Download.Timeout
	}
	return defaultJobTimeout
}

func (s *Server) runJob(ctx context.Context, job *Job, input string, req downloader.Request) {
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		job.Complete(nil, ctx.Err())
		return
	}

	job.SetStatus(StatusRunning)
	ctx, cancel := context.WithTimeout(ctx, s.downloadTimeout())
	defer cancel()

	result, err := s.downloads.Download(ctx, req)
	if err != nil {
		observability.Downloads.WithLabelValues("error").Inc()
		s.logger.Warn("download failed", slog.String("job", job.ID), slog.String("video", string(req.ID)), slog.Any("error", err))
		job.Complete(nil, err)
		s.broadcastDone(job, err)
		return
	}
	observability.Downloads.WithLabelValues("ok").Inc()
	observability.DownloadBytes.Add(float64(result.Bytes))
	s.recordDownload(ctx, input, req, result)
	job.Complete(&result, nil)
	s.broadcastDone(job, nil)
}

func (s *Server) broadcastDone(job *Job, err error) {
	if s.hub == nil {
		return
	}
	if err != nil {
		s.hub.Broadcast(ws.Message{Type: "error", Payload: ws.ErrorPayload{
			JobID:   job.ID,
			Message: err.Error(),
			Code:    statusFor(err),
		}})
		return
	}
	snap := job.Snapshot()
	payload := ws.ProgressPayload{JobID: job.ID, VideoID: job.VideoID, Percent: 100, Status: StatusComplete}
	if snap.Result != nil {
		payload.Filename = snap.Result.Filename
	}
	s.hub.Broadcast(ws.Message{Type: "done", Payload: payload})
}

// recordDownload classifies the finished download from the reference the
// user sent, the video metadata and the delivered format, then stores it.
func (s *Server) recordDownload(ctx context.Context, input string, req downloader.Request, result downloader.Result) {
	if s.history == nil {
		return
	}
	signals := db.MediaSignals{
		URL:       strings.TrimSpace(input),
		Channel:   result.Channel,
		AudioOnly: req.Audio || (result.Format.HasAudio && !result.Format.HasVideo),
	}
	if signals.URL == "" {
		signals.URL = req.ID.WatchURL()
	}
	if s.info != nil && s.info.Metadata != nil {
		video, err := s.info.Metadata.Video(ctx, req.ID)
		if err != nil {
			s.logger.Debug("metadata for history", slog.String("video", string(req.ID)), slog.Any("error", err))
		} else {
			signals.Category = video.Category
			signals.Tags = video.Tags
			if signals.Channel == "" {
				signals.Channel = video.Channel
			}
		}
	}
	mediaType := db.ClassifyMediaType(signals)
	_, err := s.history.RecordDownload(ctx, db.DownloadRecord{
		VideoID:    string(req.ID),
		Title:      result.Title,
		Channel:    result.Channel,
		FormatID:   result.Format.ID,
		Container:  strings.TrimPrefix(filepath.Ext(result.Filename), "."),
		MediaType:  mediaType,
		FileSize:   result.Bytes,
		Transcoded: result.Transcoded,
	})
	if err != nil {
		s.logger.Warn("recording download", slog.Any("error", err))
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("id")
	if jobID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing id parameter")
		return
	}
	job, ok := s.jobs.Get(jobID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	after := int64(0)
	if seq, ok := parseSeq(r.URL.Query().Get("since")); ok {
		after = seq
	} else if seq, ok := parseSeq(r.Header.Get("Last-Event-ID")); ok {
		after = seq
	}

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for {
		events, wait, done := job.Since(after)
		for _, evt := range events {
			fmt.Fprintf(w, "id: %d\ndata: ", evt.Seq)
			_ = enc.Encode(evt)
			fmt.Fprint(w, "\n")
			after = evt.Seq
		}
		flusher.Flush()
		if done {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-wait:
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
		}
	}
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("id")
	if jobID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing id parameter")
		return
	}
	job, ok := s.jobs.Get(jobID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	snap := job.Snapshot()
	switch snap.Status {
	case StatusComplete:
	case StatusError:
		writeJSONError(w, http.StatusConflict, "download failed: "+snap.Error)
		return
	default:
		writeJSONError(w, http.StatusConflict, "download is still "+snap.Status)
		return
	}
	// The file is deleted after this response, so it is always sent whole.
	r.Header.Del("Range")
	defer s.jobs.Remove(jobID)
	s.serveFile(w, r, snap.Result.Path, snap.Result.Filename)
}

// handleSyncDownload downloads, streams and deletes in one request.
func (s *Server) handleSyncDownload(w http.ResponseWriter, r *http.Request) {
	if s.downloads == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "downloads are disabled")
		return
	}
	q := r.URL.Query()
	body := DownloadRequest{
		ID:        q.Get("v"),
		Quality:   q.Get("quality"),
		Transcode: q.Get("transcode"),
	}
	if raw := q.Get("format"); raw != "" {
		itag, err := strconv.Atoi(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid format")
			return
		}
		body.Format = itag
	}
	if raw := q.Get("audio"); raw != "" {
		audio, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid audio flag")
			return
		}
		body.Audio = audio
	}
	req, reqErr := s.buildRequest(body)
	if reqErr != nil {
		writeJSONError(w, reqErr.status, reqErr.message)
		return
	}
	dir, err := s.jobDir()
	if err != nil {
		s.logger.Error("creating download directory", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to prepare download")
		return
	}
	defer os.RemoveAll(dir)
	req.Dir = dir

	ctx, cancel := context.WithTimeout(r.Context(), s.downloadTimeout())
	defer cancel()
	result, err := s.downloads.Download(ctx, req)
	if err != nil {
		observability.Downloads.WithLabelValues("error").Inc()
		writeLookupError(w, err)
		return
	}
	observability.Downloads.WithLabelValues("ok").Inc()
	observability.DownloadBytes.Add(float64(result.Bytes))
	s.recordDownload(ctx, body.ID, req, result)
	s.serveFile(w, r, result.Path, result.Filename)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path, filename string) {
	f, err := os.Open(path)
	if err != nil {
		writeJSONError(w, http.StatusGone, "file is no longer available")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.history == nil {
		writeJSON(w, http.StatusOK, historyResponse{Items: []db.HistoryEntry{}})
		return
	}
	// One extra row tells whether another page exists.
	entries, err := s.history.ListHistory(r.Context(), limit+1, offset)
	if err != nil {
		s.logger.Error("listing history", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	resp := historyResponse{Items: entries}
	if len(entries) > limit {
		resp.Items = entries[:limit]
		next := offset + limit
		resp.NextOffset = &next
	}
	if resp.Items == nil {
		resp.Items = []db.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, resp)
}
