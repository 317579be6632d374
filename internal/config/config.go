package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	YouTube    YouTubeConfig    `yaml:"youtube"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Download   DownloadConfig   `yaml:"download"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RateLimit is requests per second allowed per client IP; 0 disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type YouTubeConfig struct {
	APIKey         string        `yaml:"api_key"`
	APIKeyFallback string        `yaml:"api_key_fallback"`
	APIBaseURL     string        `yaml:"api_base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	APIQPS         float64       `yaml:"api_qps"`
}

type TranscriptConfig struct {
	Languages []string `yaml:"languages"`
}

type DownloadConfig struct {
	Dir     string        `yaml:"dir"`
	MaxJobs int           `yaml:"max_jobs"`
	JobTTL  time.Duration `yaml:"job_ttl"`
	Timeout time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	// Path of the SQLite history database; empty disables history.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from a YAML file and applies environment variable
// overrides and defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with defaults applied and no file or
// environment input.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Minute
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 10
	}
	if cfg.YouTube.APIBaseURL == "" {
		cfg.YouTube.APIBaseURL = "https://www.googleapis.com/youtube/v3"
	}
	if cfg.YouTube.RequestTimeout == 0 {
		cfg.YouTube.RequestTimeout = 30 * time.Second
	}
	if cfg.YouTube.APIQPS == 0 {
		cfg.YouTube.APIQPS = 5
	}
	if len(cfg.Transcript.Languages) == 0 {
		cfg.Transcript.Languages = []string{"en"}
	}
	if cfg.Download.Dir == "" {
		cfg.Download.Dir = "media"
	}
	if cfg.Download.MaxJobs == 0 {
		cfg.Download.MaxJobs = 4
	}
	if cfg.Download.JobTTL == 0 {
		cfg.Download.JobTTL = 15 * time.Minute
	}
	if cfg.Download.Timeout == 0 {
		cfg.Download.Timeout = 3 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("YTINFO_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("YTINFO_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimit = f
		}
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.YouTube.APIKey = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY_FALLBACK"); v != "" {
		cfg.YouTube.APIKeyFallback = v
	}
	if v := os.Getenv("YTINFO_TRANSCRIPT_LANGS"); v != "" {
		cfg.Transcript.Languages = splitList(v)
	}
	if v := os.Getenv("YTINFO_MEDIA_DIR"); v != "" {
		cfg.Download.Dir = v
	}
	if v := os.Getenv("YTINFO_MAX_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Download.MaxJobs = n
		}
	}
	if v := os.Getenv("YTINFO_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("YTINFO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("YTINFO_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server rate limit must not be negative")
	}
	if c.YouTube.APIQPS < 0 {
		return fmt.Errorf("youtube api_qps must not be negative")
	}
	if c.Download.MaxJobs < 0 {
		return fmt.Errorf("download max_jobs must not be negative")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (expected text or json)", c.Logging.Format)
	}
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (expected debug, info, warn, error)", level)
}

// NewLogger builds the process logger described by the logging section.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
