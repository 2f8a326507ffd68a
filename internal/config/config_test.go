package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
  allowed_origins: ["https://dash.example.com"]
logging:
  development: false
  level: warn
http:
  timeout_seconds: 45
  concurrency: 3
  max_attempts: 2
  headers:
    Accept-Language: fr-FR
source:
  language: en
entities:
  - url: https://www.trustpilot.com/review/shop.example
  - url: https://www.trustpilot.com/review/other.example
pipeline:
  max_pages: 20
  load: false
checkpoint:
  dir: /tmp/checkpoints
  gcs_bucket: bucket
index:
  provider: postgres
  name: reviews_v2
db:
  dsn: postgres://localhost/reviews
pubsub:
  project_id: proj
  topic_name: runs
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, []string{"https://dash.example.com"}, cfg.Server.AllowedOrigins)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, 45*time.Second, cfg.FetchTimeout())
	require.Equal(t, 2, cfg.HTTP.MaxAttempts)
	require.Equal(t, "en", cfg.Source.Language)
	require.Equal(t, "recency", cfg.Source.Sort)
	require.Equal(t, []string{
		"https://www.trustpilot.com/review/shop.example",
		"https://www.trustpilot.com/review/other.example",
	}, cfg.EntityURLs())
	require.Equal(t, 20, cfg.Pipeline.MaxPages)
	require.True(t, cfg.Pipeline.Extract)
	require.False(t, cfg.Pipeline.Load)
	require.Equal(t, "/tmp/checkpoints", cfg.Checkpoint.Dir)
	require.Equal(t, ProviderPostgres, cfg.Index.Provider)
	require.Equal(t, "reviews_v2", cfg.Index.Name)
	require.Equal(t, "pipeline_runs", cfg.DB.LedgerTable)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, 30*time.Second, cfg.FetchTimeout())
	require.Equal(t, 1, cfg.HTTP.MaxAttempts)
	require.Equal(t, 10, cfg.Pipeline.MaxPages)
	require.Equal(t, ProviderElasticsearch, cfg.Index.Provider)
	require.Equal(t, "data", cfg.Checkpoint.Dir)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"port":        func(c *Config) { c.Server.Port = 0 },
		"timeout":     func(c *Config) { c.HTTP.TimeoutSeconds = 0 },
		"concurrency": func(c *Config) { c.HTTP.Concurrency = 0 },
		"attempts":    func(c *Config) { c.HTTP.MaxAttempts = 0 },
		"max pages":   func(c *Config) { c.Pipeline.MaxPages = 0 },
		"provider":    func(c *Config) { c.Index.Provider = "solr" },
		"dsn":         func(c *Config) { c.Index.Provider = ProviderPostgres },
		"topic":       func(c *Config) { c.PubSub.TopicName = "runs" },
		"two mirrors": func(c *Config) { c.Checkpoint.GCSBucket, c.Checkpoint.MirrorDir = "bkt", "/mnt/mirror" },
		"two classifiers": func(c *Config) {
			c.Classifier.URL, c.Classifier.StaticLabel = "http://model.local", "5 stars"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestClampPages(t *testing.T) {
	t.Parallel()

	cfg := Config{Pipeline: PipelineConfig{MaxPages: 10, DefaultPages: 10}}

	got, changed := cfg.ClampPages(15)
	require.Equal(t, 10, got)
	require.True(t, changed)

	got, changed = cfg.ClampPages(3)
	require.Equal(t, 3, got)
	require.False(t, changed)

	got, changed = cfg.ClampPages(-1)
	require.Equal(t, 10, got)
	require.True(t, changed)
}
