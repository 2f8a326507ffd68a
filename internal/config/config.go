// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Source     SourceConfig     `mapstructure:"source"`
	Entities   []EntityConfig   `mapstructure:"entities"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Index      IndexConfig      `mapstructure:"index"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
}

// ServerConfig controls the prediction/read API.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	StatsSample    int      `mapstructure:"stats_sample"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures the shared fetch client.
type HTTPConfig struct {
	TimeoutSeconds   int               `mapstructure:"timeout_seconds"`
	UserAgent        string            `mapstructure:"user_agent"`
	Headers          map[string]string `mapstructure:"headers"`
	Concurrency      int               `mapstructure:"concurrency"`
	RequestsPerSec   float64           `mapstructure:"requests_per_second"`
	Burst            int               `mapstructure:"burst"`
	MaxAttempts      int               `mapstructure:"max_attempts"`
	BackoffInitialMs int               `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int               `mapstructure:"backoff_max_ms"`
}

// SourceConfig describes the review platform API.
type SourceConfig struct {
	APIBase  string `mapstructure:"api_base"`
	Sort     string `mapstructure:"sort"`
	Language string `mapstructure:"language"`
}

// EntityConfig names one entity to extract.
type EntityConfig struct {
	URL string `mapstructure:"url"`
}

// PipelineConfig governs the orchestrator.
type PipelineConfig struct {
	MaxPages     int  `mapstructure:"max_pages"`
	DefaultPages int  `mapstructure:"default_pages"`
	Extract      bool `mapstructure:"extract"`
	Transform    bool `mapstructure:"transform"`
	Save         bool `mapstructure:"save"`
	Load         bool `mapstructure:"load"`
}

// CheckpointConfig sets where checkpoints are written.
type CheckpointConfig struct {
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
	// MirrorDir copies checkpoints into a second local directory.
	MirrorDir string `mapstructure:"mirror_dir"`
}

// IndexConfig selects and configures the document store.
type IndexConfig struct {
	Provider   string   `mapstructure:"provider"`
	Name       string   `mapstructure:"name"`
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	APIKey     string   `mapstructure:"api_key"`
	TimeoutSec int      `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to Postgres for the relational index and run ledger.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	LedgerTable string `mapstructure:"ledger_table"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ClassifierConfig points at the remote sentiment model.
type ClassifierConfig struct {
	URL            string `mapstructure:"url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	// StaticLabel answers every prediction with one star label, for local
	// serve runs without a model.
	StaticLabel string `mapstructure:"static_label"`
}

// Index providers.
const (
	ProviderElasticsearch = "elasticsearch"
	ProviderPostgres      = "postgres"
	ProviderMemory        = "memory"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REVIEWETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.stats_sample", 200)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; reviewetl/1.0)")
	v.SetDefault("http.concurrency", 5)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.max_attempts", 1)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("source.api_base", "https://www.trustpilot.com")
	v.SetDefault("source.sort", "recency")
	v.SetDefault("source.language", "fr")
	v.SetDefault("pipeline.max_pages", 10)
	v.SetDefault("pipeline.default_pages", 10)
	v.SetDefault("pipeline.extract", true)
	v.SetDefault("pipeline.transform", true)
	v.SetDefault("pipeline.save", true)
	v.SetDefault("pipeline.load", true)
	v.SetDefault("checkpoint.dir", "data")
	v.SetDefault("checkpoint.gcs_prefix", "checkpoints")
	v.SetDefault("index.provider", ProviderElasticsearch)
	v.SetDefault("index.name", "reviews")
	v.SetDefault("index.addresses", []string{"http://localhost:9200"})
	v.SetDefault("index.timeout_seconds", 30)
	v.SetDefault("db.ledger_table", "pipeline_runs")
	v.SetDefault("classifier.timeout_seconds", 10)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.Concurrency <= 0 {
		return errors.New("http.concurrency must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return errors.New("http.max_attempts must be > 0")
	}
	if c.Pipeline.MaxPages <= 0 {
		return errors.New("pipeline.max_pages must be > 0")
	}
	if c.Checkpoint.Dir == "" {
		return errors.New("checkpoint.dir is required")
	}
	if c.Checkpoint.GCSBucket != "" && c.Checkpoint.MirrorDir != "" {
		return errors.New("checkpoint.gcs_bucket and checkpoint.mirror_dir are mutually exclusive")
	}
	if c.Classifier.URL != "" && c.Classifier.StaticLabel != "" {
		return errors.New("classifier.url and classifier.static_label are mutually exclusive")
	}
	if c.Index.Name == "" {
		return errors.New("index.name is required")
	}
	switch c.Index.Provider {
	case ProviderElasticsearch:
		if len(c.Index.Addresses) == 0 {
			return errors.New("index.addresses is required for elasticsearch")
		}
	case ProviderPostgres:
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required for the postgres index")
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("index.provider %q is not supported", c.Index.Provider)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// FetchTimeout is the per-call fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ClampPages bounds a requested page count to [1, pipeline.max_pages]. The
// boolean reports whether the value was changed.
func (c Config) ClampPages(requested int) (int, bool) {
	switch {
	case requested <= 0:
		return c.Pipeline.DefaultPagesOrMax(), true
	case requested > c.Pipeline.MaxPages:
		return c.Pipeline.MaxPages, true
	default:
		return requested, false
	}
}

// DefaultPagesOrMax returns the default page count, capped at MaxPages.
func (p PipelineConfig) DefaultPagesOrMax() int {
	if p.DefaultPages <= 0 || p.DefaultPages > p.MaxPages {
		return p.MaxPages
	}
	return p.DefaultPages
}

// EntityURLs lists configured entity URLs in configuration order.
func (c Config) EntityURLs() []string {
	urls := make([]string, 0, len(c.Entities))
	for _, e := range c.Entities {
		urls = append(urls, e.URL)
	}
	return urls
}
