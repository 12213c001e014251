// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. ISSUECRAWLER_JIRA_TOKEN.
const EnvPrefix = "ISSUECRAWLER"

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Jira       JiraConfig       `mapstructure:"jira"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// JiraConfig identifies the tracker and the query to crawl.
type JiraConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	Token           string `mapstructure:"token"`
	JQL             string `mapstructure:"jql"`
	ExpandChangelog bool   `mapstructure:"expand_changelog"`
	PageSize        int    `mapstructure:"page_size"`
}

// CrawlerConfig governs the orchestrator.
type CrawlerConfig struct {
	Concurrency     int  `mapstructure:"concurrency"`
	Prefetch        bool `mapstructure:"prefetch"`
	ValidateRecords bool `mapstructure:"validate_records"`
}

// HTTPConfig configures the transport and its retry behavior.
type HTTPConfig struct {
	Client           string `mapstructure:"client"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
	// RequestsPerSecond caps requests per tracker host. Zero disables the cap.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CheckpointConfig selects where crawl progress is persisted.
type CheckpointConfig struct {
	Backend     string `mapstructure:"backend"`
	Path        string `mapstructure:"path"`
	Name        string `mapstructure:"name"`
	FailOnError bool   `mapstructure:"fail_on_error"`
}

// SinkConfig selects where normalized records go.
type SinkConfig struct {
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`
}

// StorageConfig locates GCS objects.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	CheckpointTable string `mapstructure:"checkpoint_table"`
	IssueTable      string `mapstructure:"issue_table"`
	MaxConns        int    `mapstructure:"max_conns"`
}

// PubSubConfig holds the record fan-out topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the ops HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig guards the ops API with a static key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Exporter is "none" (spans are recorded but dropped) or "otlp".
	Exporter string `mapstructure:"exporter"`
	// Endpoint is the OTLP gRPC collector address. Empty uses the OTEL_EXPORTER_OTLP_* environment.
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Transport, checkpoint backend, and sink kinds.
const (
	ClientColly = "colly"
	ClientResty = "resty"

	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendGCS      = "gcs"

	SinkJSONL    = "jsonl"
	SinkStdout   = "stdout"
	SinkMemory   = "memory"
	SinkPostgres = "postgres"
	SinkGCS      = "gcs"
	SinkPubSub   = "pubsub"

	ExporterNone = "none"
	ExporterOTLP = "otlp"
)

// Load builds a Config from .env, an optional file, and the environment.
// Environment variables win over the file.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	cfg.Jira.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Jira.BaseURL), "/")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv exports variables from path without overriding ones already set.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Every key gets a default so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("jira.base_url", "")
	v.SetDefault("jira.token", "")
	v.SetDefault("jira.jql", "")
	v.SetDefault("jira.expand_changelog", true)
	v.SetDefault("jira.page_size", 50)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.prefetch", true)
	v.SetDefault("crawler.validate_records", true)
	v.SetDefault("http.client", ClientColly)
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.user_agent", "jira-issue-crawler/0.1")
	v.SetDefault("http.requests_per_second", 0.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("checkpoint.backend", BackendFile)
	v.SetDefault("checkpoint.path", "checkpoint.json")
	v.SetDefault("checkpoint.name", "default")
	v.SetDefault("checkpoint.fail_on_error", true)
	v.SetDefault("sink.kind", SinkJSONL)
	v.SetDefault("sink.path", "issues.jsonl")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "jira")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.checkpoint_table", "crawl_checkpoints")
	v.SetDefault("db.issue_table", "issues")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 0)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", ExporterNone)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces the values every command needs. Tracker settings are
// checked by ValidateCrawl since only crawling talks to Jira.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	switch c.HTTP.Client {
	case ClientColly, ClientResty:
	default:
		return fmt.Errorf("http.client %q is not supported", c.HTTP.Client)
	}
	if err := c.validateCheckpoint(); err != nil {
		return err
	}
	if err := c.validateSink(); err != nil {
		return err
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return c.validateTracing()
}

// ValidateCrawl runs Validate and also requires the tracker settings.
func (c Config) ValidateCrawl() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Jira.BaseURL == "" {
		return fmt.Errorf("jira.base_url is required")
	}
	if c.Jira.Token == "" {
		return fmt.Errorf("jira.token is required")
	}
	if c.Jira.JQL == "" {
		return fmt.Errorf("jira.jql is required")
	}
	if c.Jira.PageSize <= 0 {
		return fmt.Errorf("jira.page_size must be > 0")
	}
	return nil
}

func (c Config) validateTracing() error {
	if !c.Tracing.Enabled {
		return nil
	}
	switch c.Tracing.Exporter {
	case ExporterNone, ExporterOTLP:
	default:
		return fmt.Errorf("tracing.exporter %q is not supported", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

func (c Config) validateCheckpoint() error {
	switch c.Checkpoint.Backend {
	case BackendFile:
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint.path is required for the file backend")
		}
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres checkpoint backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs checkpoint backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend %q is not supported", c.Checkpoint.Backend)
	}
	return nil
}

func (c Config) validateSink() error {
	switch c.Sink.Kind {
	case SinkJSONL:
		if c.Sink.Path == "" {
			return fmt.Errorf("sink.path is required for the jsonl sink")
		}
	case SinkStdout, SinkMemory:
	case SinkPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres sink")
		}
	case SinkGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs sink")
		}
	case SinkPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required for the pubsub sink")
		}
	default:
		return fmt.Errorf("sink.kind %q is not supported", c.Sink.Kind)
	}
	return nil
}

// RequestTimeout converts http.timeout_seconds to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffBounds returns the initial and maximum retry delays.
func (c Config) BackoffBounds() (time.Duration, time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
