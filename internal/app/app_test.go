package app

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/jira-issue-crawler/internal/config"
	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
	"github.com/JakeFAU/jira-issue-crawler/internal/orchestrator"
	"github.com/JakeFAU/jira-issue-crawler/internal/storage/memory"
)

// newJiraServer serves n issues keyed P-0..P-(n-1).
func newJiraServer(t *testing.T, n int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/rest/api/2/search":
			startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
			maxResults, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
			var parts []string
			for i := startAt; i < n && i < startAt+maxResults; i++ {
				parts = append(parts, fmt.Sprintf(`{"key": "P-%d", "fields": {"summary": "s%d"}}`, i, i))
			}
			_, _ = fmt.Fprintf(w, `{"startAt": %d, "maxResults": %d, "total": %d, "issues": [%s]}`,
				startAt, maxResults, n, strings.Join(parts, ","))
		case strings.HasPrefix(r.URL.Path, "/rest/api/2/issue/"):
			key := strings.TrimPrefix(r.URL.Path, "/rest/api/2/issue/")
			_, _ = fmt.Fprintf(w, `{"key": %q, "fields": {"summary": "detail", "labels": ["x"]}}`, key)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func baseConfig(t *testing.T, jiraURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Jira: config.JiraConfig{
			BaseURL:         jiraURL,
			Token:           "token",
			JQL:             "project = P",
			PageSize:        2,
			ExpandChangelog: true,
		},
		Crawler: config.CrawlerConfig{Concurrency: 2, Prefetch: true, ValidateRecords: true},
		HTTP: config.HTTPConfig{
			Client:           config.ClientColly,
			TimeoutSeconds:   5,
			MaxRetries:       0,
			BackoffInitialMs: 1,
			BackoffMaxMs:     1,
		},
		Checkpoint: config.CheckpointConfig{
			Backend:     config.BackendFile,
			Path:        filepath.Join(dir, "checkpoint.json"),
			Name:        "default",
			FailOnError: true,
		},
		Sink: config.SinkConfig{Kind: config.SinkJSONL, Path: filepath.Join(dir, "issues.jsonl")},
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	require.NoError(t, sc.Err())
	return n
}

func TestNew_FileCheckpointAndJSONLSink(t *testing.T) {
	t.Parallel()

	for _, client := range []string{config.ClientColly, config.ClientResty} {
		t.Run(client, func(t *testing.T) {
			t.Parallel()

			cfg := baseConfig(t, newJiraServer(t, 3))
			cfg.HTTP.Client = client
			a, err := New(context.Background(), cfg, zap.NewNop())
			require.NoError(t, err)

			res, err := a.RunOnce(context.Background())
			require.NoError(t, err)
			require.NoError(t, res.Err)
			assert.Equal(t, orchestrator.StateDone, res.State)
			assert.Equal(t, 3, res.Emitted)
			assert.NotEmpty(t, res.RunID)
			a.Close()

			assert.Equal(t, 3, countLines(t, cfg.Sink.Path))
			// #nosec G304 -- test reads from the controlled temp directory.
			raw, err := os.ReadFile(cfg.Checkpoint.Path)
			require.NoError(t, err)
			assert.JSONEq(t, `{"search":{"last_startAt":3}}`, string(raw))
		})
	}
}

func TestNew_StdoutSinkResumes(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t, newJiraServer(t, 4))
	cfg.Sink.Kind = config.SinkStdout
	var out bytes.Buffer

	a, err := New(context.Background(), cfg, zap.NewNop(), WithStdout(&out))
	require.NoError(t, err)
	require.NoError(t, a.Checkpoints.Save(context.Background(),
		crawler.Checkpoint{Search: crawler.SearchCheckpoint{LastStartAt: 2}}))

	res, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	a.Close()

	assert.Equal(t, 2, res.Emitted)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, out.String(), `"P-2"`)
	assert.Contains(t, out.String(), `"P-3"`)
}

func TestNew_MemoryBackends(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t, newJiraServer(t, 1))
	cfg.Checkpoint.Backend = config.BackendMemory
	cfg.Sink.Kind = config.SinkMemory
	cfg.Crawler.ValidateRecords = false

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	res, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)

	sink, ok := a.Sink.(*memory.RecordStore)
	require.True(t, ok)
	_, found := sink.Get("P-0")
	assert.True(t, found)
}

func TestNew_PubSubSink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = client.CreateTopic(ctx, "issues")
	require.NoError(t, err)

	cfg := baseConfig(t, newJiraServer(t, 2))
	cfg.Sink.Kind = config.SinkPubSub
	cfg.PubSub = config.PubSubConfig{ProjectID: "test-project", TopicName: "issues"}

	a, err := New(ctx, cfg, zap.NewNop(), WithPubSubClient(client))
	require.NoError(t, err)
	res, err := a.RunOnce(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	a.Close()

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, res.RunID, m.Attributes["run_id"])
	}
}

func TestRunOnce_RejectsWhileRunActive(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"startAt": 0, "total": 0, "issues": []}`))
	}))
	t.Cleanup(srv.Close)

	cfg := baseConfig(t, srv.URL)
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	done, err := a.Orchestrator.Start(context.Background())
	require.NoError(t, err)
	<-entered

	_, err = a.RunOnce(context.Background())
	require.ErrorIs(t, err, orchestrator.ErrRunInProgress)

	close(release)
	res := <-done
	require.NoError(t, res.Err)
	assert.Equal(t, orchestrator.StateDone, res.State)
}

func TestOpenCheckpoints_NotCrawlable(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t, "http://unused.invalid")
	cfg.Jira = config.JiraConfig{}
	a, err := OpenCheckpoints(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Checkpoints)
	assert.Nil(t, a.Orchestrator)
	_, err = a.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrNotCrawlable)
}

func TestNew_Failures(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*testing.T, *config.Config){
		"unknown backend": func(_ *testing.T, c *config.Config) { c.Checkpoint.Backend = "etcd" },
		"unknown sink":    func(_ *testing.T, c *config.Config) { c.Sink.Kind = "kafka" },
		"missing jql":     func(_ *testing.T, c *config.Config) { c.Jira.JQL = "" },
		"bad dsn": func(_ *testing.T, c *config.Config) {
			c.Checkpoint.Backend = config.BackendPostgres
			c.DB.DSN = "postgres://%zz"
		},
		"jsonl parent is a file": func(t *testing.T, c *config.Config) {
			parent := filepath.Join(t.TempDir(), "file")
			require.NoError(t, os.WriteFile(parent, nil, 0o600))
			c.Sink.Path = filepath.Join(parent, "issues.jsonl")
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := baseConfig(t, "http://unused.invalid")
			mutate(t, &cfg)
			_, err := New(context.Background(), cfg, zap.NewNop())
			require.Error(t, err)
		})
	}
}
