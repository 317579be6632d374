package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/lvcoi/ytinfo/internal/videoid"
	"github.com/lvcoi/ytinfo/internal/ytclient"
)

const maxRequestBodyBytes = 1 << 20 // 1 MiB

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 200
)

const invalidReference = "invalid video reference"

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) *requestError {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return &requestError{http.StatusUnsupportedMediaType, "content type must be application/json"}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return &requestError{http.StatusRequestEntityTooLarge, "request body too large"}
		}
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps a resolver or collaborator failure to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, videoid.ErrUnresolved) {
		return http.StatusBadRequest
	}
	status := ytclient.HTTPStatus(err)
	if status < http.StatusBadRequest {
		return http.StatusInternalServerError
	}
	return status
}

func writeLookupError(w http.ResponseWriter, err error) {
	var rerr *videoid.ResolutionError
	if errors.As(err, &rerr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: invalidReference, Reason: string(rerr.Reason)})
		return
	}
	if errors.Is(err, videoid.ErrUnresolved) {
		writeJSONError(w, http.StatusBadRequest, invalidReference)
		return
	}
	writeJSONError(w, statusFor(err), err.Error())
}

func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultHistoryLimit
	q := r.URL.Query()
	if raw := q.Get("offset"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed < 0 {
			return 0, 0, fmt.Errorf("invalid offset parameter")
		}
		offset = parsed
	}
	if raw := q.Get("limit"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed <= 0 {
			return 0, 0, fmt.Errorf("invalid limit parameter")
		}
		limit = min(parsed, maxHistoryLimit)
	}
	return limit, offset, nil
}

// parseSeq reads a non-negative SSE sequence number.
func parseSeq(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}
