package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lvcoi/ytinfo/internal/app"
	"github.com/lvcoi/ytinfo/internal/config"
	"github.com/lvcoi/ytinfo/internal/db"
	"github.com/lvcoi/ytinfo/internal/downloader"
	"github.com/lvcoi/ytinfo/internal/metadata"
	"github.com/lvcoi/ytinfo/internal/transcript"
	"github.com/lvcoi/ytinfo/internal/videoid"
	"github.com/lvcoi/ytinfo/internal/web"
	"github.com/lvcoi/ytinfo/internal/ws"
	"github.com/lvcoi/ytinfo/internal/ytclient"
)

func main() {
	var (
		configPath string
		addr       string
		logLevel   string
		jsonOut    bool
		jobs       int
	)
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&addr, "addr", "", "listen address for serve (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.BoolVar(&jsonOut, "json", false, "emit JSON output for resolve")
	flag.IntVar(&jobs, "jobs", 4, "number of concurrent lookups for info")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [options] [serve | resolve <input>... | info <input>...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(app.ExitFailure)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger := cfg.Logging.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	var code int
	switch command {
	case "serve":
		code = serve(ctx, cfg, logger)
	case "resolve":
		code = resolve(args, jsonOut, logger)
	case "info":
		code = info(ctx, cfg, args, jobs, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		flag.Usage()
		code = app.ExitFailure
	}
	stop()
	os.Exit(code)
}

func newService(cfg *config.Config, logger *slog.Logger) (*app.Service, *downloader.Service) {
	client := ytclient.New(cfg.YouTube.RequestTimeout)
	downloads := downloader.New(client, cfg.Download.Dir, logger)
	svc := &app.Service{
		Resolver:    videoid.Resolver{Logger: logger},
		Metadata:    metadata.New(cfg.YouTube, client, logger),
		Transcripts: transcript.New(client, logger),
		Formats:     downloads,
		Languages:   cfg.Transcript.Languages,
		Logger:      logger,
	}
	return svc, downloads
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	svc, downloads := newService(cfg, logger)

	deps := web.Deps{Info: svc, Downloads: downloads, Logger: logger}
	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Error("opening database", slog.Any("error", err))
			return app.ExitFailure
		}
		defer store.Close()
		svc.History = store
		deps.History = store
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)
	deps.Hub = hub

	server, err := web.New(*cfg, deps)
	if err != nil {
		logger.Error("building server", slog.Any("error", err))
		return app.ExitFailure
	}
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", slog.Any("error", err))
		return app.ExitFailure
	}
	logger.Info("shut down")
	return app.ExitOK
}

func resolve(inputs []string, jsonOut bool, logger *slog.Logger) int {
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "resolve: no input provided")
		return app.ExitUnresolved
	}
	svc := &app.Service{Resolver: videoid.Resolver{Logger: logger}, Logger: logger}
	results, code := svc.ResolveAll(inputs)
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	for _, res := range results {
		switch {
		case jsonOut:
			_ = enc.Encode(res)
		case res.Err != nil:
			fmt.Fprintf(os.Stderr, "error: %v\n", res.Err)
		default:
			fmt.Println(res.ID)
		}
	}
	return code
}

func info(ctx context.Context, cfg *config.Config, inputs []string, jobs int, logger *slog.Logger) int {
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "info: no input provided")
		return app.ExitUnresolved
	}
	svc, _ := newService(cfg, logger)
	results, code := svc.Run(ctx, inputs, jobs)
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	for _, res := range results {
		_ = enc.Encode(res)
	}
	return code
}
