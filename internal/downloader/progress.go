package downloader

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// LogLevel is the severity of a download log line.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "debug"
	case LogWarn:
		return "warn"
	case LogError:
		return "error"
	default:
		return "info"
	}
}

// ProgressRenderer receives progress for the streams of a download.
// Register returns an id used by the later calls.
type ProgressRenderer interface {
	Register(label string, size int64) string
	Update(id string, current, total int64)
	Finish(id string)
	Log(level LogLevel, msg string)
}

// Printer forwards log lines to the renderer and the process logger.
type Printer struct {
	renderer ProgressRenderer
	logger   *slog.Logger
}

func newPrinter(renderer ProgressRenderer, logger *slog.Logger) *Printer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Printer{renderer: renderer, logger: logger}
}

func (p *Printer) Log(level LogLevel, msg string) {
	if p == nil {
		return
	}
	if p.renderer != nil {
		p.renderer.Log(level, msg)
	}
	switch level {
	case LogDebug:
		p.logger.Debug(msg)
	case LogWarn:
		p.logger.Warn(msg)
	case LogError:
		p.logger.Error(msg)
	default:
		p.logger.Debug(msg)
	}
}

const progressInterval = 100 * time.Millisecond

type progressWriter struct {
	size       atomic.Int64
	total      atomic.Int64
	lastUpdate atomic.Int64
	finished   atomic.Bool
	taskID     string
	renderer   ProgressRenderer
}

func newProgressWriter(size int64, printer *Printer, label string) *progressWriter {
	pw := &progressWriter{}
	pw.size.Store(size)
	pw.lastUpdate.Store(time.Now().UnixNano())
	if printer != nil && printer.renderer != nil {
		pw.renderer = printer.renderer
		pw.taskID = pw.renderer.Register(label, size)
	}
	return pw
}

// Write counts bytes and reports at most every progressInterval.
func (p *progressWriter) Write(b []byte) (int, error) {
	n := len(b)
	p.total.Add(int64(n))

	now := time.Now().UnixNano()
	last := p.lastUpdate.Load()
	if now-last >= progressInterval.Nanoseconds() && p.lastUpdate.CompareAndSwap(last, now) {
		p.report()
	}
	return n, nil
}

func (p *progressWriter) report() {
	if p.renderer == nil || p.finished.Load() {
		return
	}
	p.renderer.Update(p.taskID, p.total.Load(), p.size.Load())
}

func (p *progressWriter) Finish() {
	if p.finished.Swap(true) || p.renderer == nil {
		return
	}
	p.renderer.Update(p.taskID, p.total.Load(), p.size.Load())
	p.renderer.Finish(p.taskID)
}

func (p *progressWriter) Reset(size int64) {
	p.size.Store(size)
	p.total.Store(0)
	p.lastUpdate.Store(time.Now().UnixNano())
	p.finished.Store(false)
	if p.renderer != nil {
		p.renderer.Update(p.taskID, 0, size)
	}
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	default:
		return r.r.Read(p)
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, &contextReader{ctx: ctx, r: src})
}
