package web

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lvcoi/ytinfo/internal/downloader"
	"github.com/lvcoi/ytinfo/internal/observability"
	"github.com/lvcoi/ytinfo/internal/ws"
)

// Job statuses.
const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusError    = "error"
)

const maxJobEvents = 512

// ProgressEvent is a structured event sent over SSE.
type ProgressEvent struct {
	Seq      int64   `json:"seq"`
	Type     string  `json:"type"`
	ID       string  `json:"id,omitempty"`
	Label    string  `json:"label,omitempty"`
	Current  int64   `json:"current,omitempty"`
	Total    int64   `json:"total,omitempty"`
	Percent  float64 `json:"percent,omitempty"`
	Level    string  `json:"level,omitempty"`
	Message  string  `json:"message,omitempty"`
	Status   string  `json:"status,omitempty"`
	Filename string  `json:"filename,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// JobState is the reportable part of a Job.
type JobState struct {
	ID          string             `json:"id"`
	VideoID     string             `json:"video_id"`
	Status      string             `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt time.Time          `json:"completed_at,omitempty"`
	Result      *downloader.Result `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Job is one asynchronous download. Its file lives in a private temp dir
// that is removed together with the job.
type Job struct {
	JobState

	dir     string
	mu      sync.RWMutex
	seq     int64
	events  []ProgressEvent
	notify  chan struct{}
	done    bool
	counted bool
}

// jobTracker owns every live job.
type jobTracker struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func newJobTracker() *jobTracker {
	return &jobTracker{jobs: make(map[string]*Job)}
}

func (jt *jobTracker) Create(videoID, dir string) *Job {
	job := &Job{
		JobState: JobState{
			ID:        uuid.NewString(),
			VideoID:   videoID,
			Status:    StatusQueued,
			CreatedAt: time.Now(),
		},
		dir:     dir,
		notify:  make(chan struct{}),
		counted: true,
	}
	jt.mu.Lock()
	jt.jobs[job.ID] = job
	jt.mu.Unlock()
	observability.ActiveJobs.Inc()
	return job
}

func (jt *jobTracker) Get(id string) (*Job, bool) {
	jt.mu.RLock()
	defer jt.mu.RUnlock()
	job, ok := jt.jobs[id]
	return job, ok
}

func (jt *jobTracker) ActiveCount() int {
	jt.mu.RLock()
	defer jt.mu.RUnlock()
	count := 0
	for _, job := range jt.jobs {
		if job.isActive() {
			count++
		}
	}
	return count
}

// Remove forgets the job and deletes its temp dir.
func (jt *jobTracker) Remove(id string) {
	jt.mu.Lock()
	job, ok := jt.jobs[id]
	delete(jt.jobs, id)
	jt.mu.Unlock()
	if ok {
		job.cleanup()
	}
}

// RemoveExpired drops finished jobs older than ttl along with their files.
func (jt *jobTracker) RemoveExpired(now time.Time, ttl time.Duration) int {
	var expired []*Job
	jt.mu.Lock()
	for id, job := range jt.jobs {
		if job.isExpired(now, ttl) {
			delete(jt.jobs, id)
			expired = append(expired, job)
		}
	}
	jt.mu.Unlock()
	for _, job := range expired {
		job.cleanup()
	}
	return len(expired)
}

// RemoveAll drops every job. Used on shutdown.
func (jt *jobTracker) RemoveAll() {
	jt.mu.Lock()
	jobs := jt.jobs
	jt.jobs = make(map[string]*Job)
	jt.mu.Unlock()
	for _, job := range jobs {
		job.cleanup()
	}
}

func (jt *jobTracker) StartCleanup(ctx context.Context, interval, ttl time.Duration, also func(time.Time)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				jt.RemoveExpired(now, ttl)
				if also != nil {
					also(now)
				}
			}
		}
	}()
}

func (j *Job) cleanup() {
	j.mu.Lock()
	if j.counted {
		j.counted = false
		observability.ActiveJobs.Dec()
	}
	dir := j.dir
	j.mu.Unlock()
	if dir != "" {
		os.RemoveAll(dir)
	}
}

func (j *Job) isActive() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusQueued || j.Status == StatusRunning
}

func (j *Job) StatusValue() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

func (j *Job) SetStatus(status string) {
	j.mu.Lock()
	j.Status = status
	j.mu.Unlock()
	j.publish(ProgressEvent{Type: "status", Status: status})
}

// Complete stores the outcome and emits the final done event.
func (j *Job) Complete(result *downloader.Result, err error) string {
	j.mu.Lock()
	if err != nil {
		j.Status = StatusError
		j.Error = err.Error()
	} else {
		j.Status = StatusComplete
		j.Result = result
	}
	j.CompletedAt = time.Now()
	if j.counted {
		j.counted = false
		observability.ActiveJobs.Dec()
	}
	evt := ProgressEvent{Type: "done", Status: j.Status, Message: j.Status, Error: j.Error}
	if result != nil {
		evt.Filename = result.Filename
	}
	status := j.Status
	j.appendLocked(evt)
	j.done = true
	j.mu.Unlock()
	return status
}

// Snapshot returns a copy of the job state.
func (j *Job) Snapshot() JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.JobState
}

func (j *Job) isExpired(now time.Time, ttl time.Duration) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if ttl <= 0 || j.CompletedAt.IsZero() {
		return false
	}
	return now.Sub(j.CompletedAt) > ttl
}

func (j *Job) publish(evt ProgressEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		return
	}
	j.appendLocked(evt)
}

func (j *Job) appendLocked(evt ProgressEvent) {
	j.seq++
	evt.Seq = j.seq
	j.events = append(j.events, evt)
	if len(j.events) > maxJobEvents {
		j.events = append(j.events[:0:0], j.events[len(j.events)-maxJobEvents:]...)
	}
	close(j.notify)
	j.notify = make(chan struct{})
}

// Since returns the events after seq, a channel closed on the next event,
// and whether the done event has been emitted.
func (j *Job) Since(seq int64) ([]ProgressEvent, <-chan struct{}, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []ProgressEvent
	for _, evt := range j.events {
		if evt.Seq > seq {
			out = append(out, evt)
		}
	}
	return out, j.notify, j.done
}

// webRenderer feeds downloader progress into the job log and the WebSocket
// hub.
type webRenderer struct {
	job *Job
	hub *ws.Hub
}

func (w *webRenderer) Register(label string, size int64) string {
	id := fmt.Sprintf("%s@%d", w.job.ID, time.Now().UnixNano())
	w.job.publish(ProgressEvent{Type: "register", ID: id, Label: label, Total: size})
	return id
}

func (w *webRenderer) Update(id string, current, total int64) {
	percent := 0.0
	if total > 0 {
		percent = float64(current) * 100 / float64(total)
	}
	w.job.publish(ProgressEvent{Type: "progress", ID: id, Current: current, Total: total, Percent: percent})
	w.broadcast(percent, StatusRunning, "")
}

func (w *webRenderer) Finish(id string) {
	w.job.publish(ProgressEvent{Type: "finish", ID: id})
}

func (w *webRenderer) Log(level downloader.LogLevel, msg string) {
	w.job.publish(ProgressEvent{Type: "log", Level: level.String(), Message: msg})
}

func (w *webRenderer) broadcast(percent float64, status, msg string) {
	if w.hub == nil {
		return
	}
	w.hub.Broadcast(ws.Message{Type: "progress", Payload: ws.ProgressPayload{
		JobID:   w.job.ID,
		VideoID: w.job.VideoID,
		Percent: percent,
		Status:  status,
		Message: msg,
	}})
}

var _ downloader.ProgressRenderer = (*webRenderer)(nil)
