package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
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
jira:
  base_url: https://jira.example.com/
  token: secret
  jql: project = PROJ ORDER BY created ASC
  expand_changelog: false
crawler:
  concurrency: 8
  prefetch: false
http:
  client: resty
  timeout_seconds: 45
  max_retries: 2
  backoff_initial_ms: 100
  backoff_max_ms: 500
checkpoint:
  backend: postgres
  name: proj
  fail_on_error: false
sink:
  kind: pubsub
db:
  dsn: postgres://localhost/jira
pubsub:
  project_id: proj
  topic_name: issues
server:
  port: 9090
logging:
  development: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://jira.example.com", cfg.Jira.BaseURL)
	assert.False(t, cfg.Jira.ExpandChangelog)
	assert.Equal(t, 50, cfg.Jira.PageSize)
	assert.Equal(t, 8, cfg.Crawler.Concurrency)
	assert.False(t, cfg.Crawler.Prefetch)
	assert.True(t, cfg.Crawler.ValidateRecords)
	assert.Equal(t, ClientResty, cfg.HTTP.Client)
	assert.Equal(t, BackendPostgres, cfg.Checkpoint.Backend)
	assert.Equal(t, "proj", cfg.Checkpoint.Name)
	assert.False(t, cfg.Checkpoint.FailOnError)
	assert.Equal(t, SinkPubSub, cfg.Sink.Kind)
	assert.Equal(t, "crawl_checkpoints", cfg.DB.CheckpointTable)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout())

	initial, maxDelay := cfg.BackoffBounds()
	assert.Equal(t, 100*time.Millisecond, initial)
	assert.Equal(t, 500*time.Millisecond, maxDelay)
}

func TestLoadDefaultsFromEnv(t *testing.T) {
	t.Setenv("ISSUECRAWLER_JIRA_BASE_URL", "https://env.example.com")
	t.Setenv("ISSUECRAWLER_JIRA_TOKEN", "env-token")
	t.Setenv("ISSUECRAWLER_JIRA_JQL", "project = ENV")
	t.Setenv("ISSUECRAWLER_CRAWLER_CONCURRENCY", "2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Jira.BaseURL)
	assert.Equal(t, "env-token", cfg.Jira.Token)
	assert.Equal(t, 2, cfg.Crawler.Concurrency)
	assert.True(t, cfg.Jira.ExpandChangelog)
	assert.True(t, cfg.Crawler.Prefetch)
	assert.Equal(t, ClientColly, cfg.HTTP.Client)
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 5, cfg.HTTP.MaxRetries)
	assert.Equal(t, BackendFile, cfg.Checkpoint.Backend)
	assert.Equal(t, "checkpoint.json", cfg.Checkpoint.Path)
	assert.True(t, cfg.Checkpoint.FailOnError)
	assert.Equal(t, SinkJSONL, cfg.Sink.Kind)
	assert.Equal(t, "issues.jsonl", cfg.Sink.Path)
	assert.Equal(t, 0, cfg.Server.Port)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, ExporterNone, cfg.Tracing.Exporter)
	assert.InDelta(t, 1.0, cfg.Tracing.SampleRatio, 1e-9)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
jira:
  base_url: https://file.example.com
  token: file-token
  jql: project = FILE
`)
	t.Setenv("ISSUECRAWLER_JIRA_TOKEN", "env-token")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", cfg.Jira.BaseURL)
	assert.Equal(t, "env-token", cfg.Jira.Token)
}

func TestLoadWithoutJiraSettings(t *testing.T) {
	path := writeConfig(t, `
checkpoint:
  path: state/checkpoint.json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "state/checkpoint.json", cfg.Checkpoint.Path)
	require.NoError(t, cfg.Validate())

	err = cfg.ValidateCrawl()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jira.base_url")
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("ISSUECRAWLER_DOTENV_ONLY", "")
	require.NoError(t, os.Unsetenv("ISSUECRAWLER_DOTENV_ONLY"))
	t.Setenv("ISSUECRAWLER_DOTENV_KEEP", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ISSUECRAWLER_DOTENV_ONLY=from-file\nISSUECRAWLER_DOTENV_KEEP=from-file\n"), 0o600))

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("ISSUECRAWLER_DOTENV_ONLY"))
	assert.Equal(t, "from-env", os.Getenv("ISSUECRAWLER_DOTENV_KEEP"))

	require.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Jira:       JiraConfig{BaseURL: "https://jira.example.com", Token: "t", JQL: "q", PageSize: 50},
		Crawler:    CrawlerConfig{Concurrency: 1},
		HTTP:       HTTPConfig{Client: ClientColly, TimeoutSeconds: 10},
		Checkpoint: CheckpointConfig{Backend: BackendFile, Path: "cp.json"},
		Sink:       SinkConfig{Kind: SinkJSONL, Path: "out.jsonl"},
	}
	require.NoError(t, base.ValidateCrawl())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "missing base url", mutate: func(c *Config) { c.Jira.BaseURL = "" }, want: "jira.base_url"},
		{name: "missing token", mutate: func(c *Config) { c.Jira.Token = "" }, want: "jira.token"},
		{name: "missing jql", mutate: func(c *Config) { c.Jira.JQL = "" }, want: "jira.jql"},
		{name: "invalid page size", mutate: func(c *Config) { c.Jira.PageSize = 0 }, want: "jira.page_size"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "negative retries", mutate: func(c *Config) { c.HTTP.MaxRetries = -1 }, want: "http.max_retries"},
		{name: "negative rate", mutate: func(c *Config) { c.HTTP.RequestsPerSecond = -1 }, want: "http.requests_per_second"},
		{name: "unknown client", mutate: func(c *Config) { c.HTTP.Client = "curl" }, want: "http.client"},
		{name: "unknown backend", mutate: func(c *Config) { c.Checkpoint.Backend = "s3" }, want: "checkpoint.backend"},
		{name: "file backend without path", mutate: func(c *Config) { c.Checkpoint.Path = "" }, want: "checkpoint.path"},
		{name: "postgres backend without dsn", mutate: func(c *Config) { c.Checkpoint.Backend = BackendPostgres }, want: "db.dsn"},
		{name: "gcs backend without bucket", mutate: func(c *Config) { c.Checkpoint.Backend = BackendGCS }, want: "storage.gcs_bucket"},
		{name: "unknown sink", mutate: func(c *Config) { c.Sink.Kind = "kafka" }, want: "sink.kind"},
		{name: "jsonl sink without path", mutate: func(c *Config) { c.Sink.Path = "" }, want: "sink.path"},
		{name: "pubsub sink without topic", mutate: func(c *Config) { c.Sink.Kind = SinkPubSub }, want: "pubsub.project_id"},
		{name: "postgres sink without dsn", mutate: func(c *Config) { c.Sink.Kind = SinkPostgres }, want: "db.dsn"},
		{name: "gcs sink without bucket", mutate: func(c *Config) { c.Sink.Kind = SinkGCS }, want: "storage.gcs_bucket"},
		{name: "negative port", mutate: func(c *Config) { c.Server.Port = -1 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "unknown exporter", mutate: func(c *Config) { c.Tracing = TracingConfig{Enabled: true, Exporter: "zipkin"} }, want: "tracing.exporter"},
		{name: "sample ratio above one", mutate: func(c *Config) {
			c.Tracing = TracingConfig{Enabled: true, Exporter: ExporterNone, SampleRatio: 1.5}
		}, want: "tracing.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.ValidateCrawl()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
