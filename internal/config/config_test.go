package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"en"}, cfg.Transcript.Languages)
	assert.Equal(t, "media", cfg.Download.Dir)
	assert.Equal(t, 15*time.Minute, cfg.Download.JobTTL)
	assert.Equal(t, "https://www.googleapis.com/youtube/v3", cfg.YouTube.APIBaseURL)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9000"
  rate_limit: 2.5
youtube:
  api_key: "file-key"
  request_timeout: 5s
transcript:
  languages: ["it", "en"]
download:
  dir: /tmp/media
  max_jobs: 2
database:
  path: history.db
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
	assert.Equal(t, "file-key", cfg.YouTube.APIKey)
	assert.Equal(t, 5*time.Second, cfg.YouTube.RequestTimeout)
	assert.Equal(t, []string{"it", "en"}, cfg.Transcript.Languages)
	assert.Equal(t, "/tmp/media", cfg.Download.Dir)
	assert.Equal(t, 2, cfg.Download.MaxJobs)
	assert.Equal(t, "history.db", cfg.Database.Path)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "youtube:\n  api_key: file-key\n")
	t.Setenv("YOUTUBE_API_KEY", "env-key")
	t.Setenv("YTINFO_TRANSCRIPT_LANGS", " it, en ,,de")
	t.Setenv("YTINFO_ADDR", ":9999")
	t.Setenv("YTINFO_MAX_JOBS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.YouTube.APIKey)
	assert.Equal(t, []string{"it", "en", "de"}, cfg.Transcript.Languages)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 7, cfg.Download.MaxJobs)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":       "server: [",
		"negative rate":  "server:\n  rate_limit: -1\n",
		"unknown level":  "logging:\n  level: loud\n",
		"unknown format": "logging:\n  format: xml\n",
		"negative jobs":  "download:\n  max_jobs: -2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, `"msg":"shown"`), out)
}
