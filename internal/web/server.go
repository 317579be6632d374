// Package web serves the lookup page and the JSON, SSE and WebSocket API.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lvcoi/ytinfo/internal/app"
	"github.com/lvcoi/ytinfo/internal/config"
	"github.com/lvcoi/ytinfo/internal/db"
	"github.com/lvcoi/ytinfo/internal/downloader"
	"github.com/lvcoi/ytinfo/internal/ws"
)

//go:embed assets/*
var embeddedAssets embed.FS

const (
	jobCleanupInterval = time.Minute
	defaultJobTTL      = 15 * time.Minute
	defaultJobTimeout  = 3 * time.Minute
)

// Downloader saves one stream to disk.
type Downloader interface {
	Download(ctx context.Context, req downloader.Request) (downloader.Result, error)
}

// HistoryStore persists downloads and lists past activity.
type HistoryStore interface {
	RecordDownload(ctx context.Context, rec db.DownloadRecord) (int64, error)
	ListHistory(ctx context.Context, limit, offset int) ([]db.HistoryEntry, error)
}

// Deps are the collaborators of a Server. Downloads, History and Hub are
// optional; the routes that need them answer 503 when missing.
type Deps struct {
	Info      *app.Service
	Downloads Downloader
	History   HistoryStore
	Hub       *ws.Hub
	Logger    *slog.Logger
}

// Server holds the HTTP handlers and the download jobs.
type Server struct {
	cfg       config.Config
	info      *app.Service
	downloads Downloader
	history   HistoryStore
	hub       *ws.Hub
	logger    *slog.Logger

	ctx       context.Context
	jobs      *jobTracker
	slots     chan struct{}
	limiter   *ipLimiter
	index     *template.Template
	assets    fs.FS
	startedAt time.Time
}

// New builds a Server. It fails only when the embedded page is broken.
func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Info == nil {
		return nil, errors.New("web: info service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	assets, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		return nil, err
	}
	index, err := template.ParseFS(assets, "index.html")
	if err != nil {
		return nil, fmt.Errorf("parsing index template: %w", err)
	}
	maxJobs := cfg.Download.MaxJobs
	if maxJobs <= 0 {
		maxJobs = 1
	}
	return &Server{
		cfg:       cfg,
		info:      deps.Info,
		downloads: deps.Downloads,
		history:   deps.History,
		hub:       deps.Hub,
		logger:    logger,
		ctx:       context.Background(),
		jobs:      newJobTracker(),
		slots:     make(chan struct{}, maxJobs),
		limiter:   newIPLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
		index:     index,
		assets:    assets,
		startedAt: time.Now(),
	}, nil
}

// Handler returns the full middleware chain around the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.assets))))
	mux.HandleFunc("POST /get_video_info", s.handleGetVideoInfo)
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /api/resolve", s.handleResolve)
	mux.HandleFunc("GET /api/formats", s.handleFormats)
	mux.HandleFunc("POST /api/download", s.handleDownload)
	mux.HandleFunc("GET /api/download/progress", s.handleProgress)
	mux.HandleFunc("GET /api/download/file", s.handleDownloadFile)
	mux.HandleFunc("GET /download", s.handleSyncDownload)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.HandleWS)
	}
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})

	return withMetrics(withSecurityHeaders(s.limiter.middleware(mux)))
}

// ListenAndServe serves until ctx is done, then shuts down gracefully and
// removes every pending job directory.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.Download.Dir, 0o755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}
	ttl := s.cfg.Download.JobTTL
	if ttl <= 0 {
		ttl = defaultJobTTL
	}
	s.ctx = ctx
	s.jobs.StartCleanup(ctx, jobCleanupInterval, ttl, s.limiter.sweep)
	defer s.jobs.RemoveAll()

	server := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", s.cfg.Server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		TranscodeTargets []string
	}{TranscodeTargets: downloader.TranscodeTargets()}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.Execute(w, data); err != nil {
		s.logger.Error("rendering index", slog.Any("error", err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"active_downloads": s.jobs.ActiveCount(),
		"uptime":           time.Since(s.startedAt).Truncate(time.Second).String(),
	}
	if s.hub != nil {
		status["ws_clients"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, status)
}
