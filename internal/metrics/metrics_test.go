package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveIssue(t *testing.T) {
	before := testutil.ToFloat64(issuesTotal.WithLabelValues(OutcomeSkipped))
	ObserveIssue(OutcomeSkipped)
	ObserveIssue(OutcomeSkipped)
	assert.InDelta(t, before+2, testutil.ToFloat64(issuesTotal.WithLabelValues(OutcomeSkipped)), 0.001)
}

func TestObserveCheckpointSave(t *testing.T) {
	okBefore := testutil.ToFloat64(checkpointSavesTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(checkpointSavesTotal.WithLabelValues("error"))

	ObserveCheckpointSave(150, nil)
	assert.InDelta(t, 150, testutil.ToFloat64(checkpointOffset), 0.001)

	ObserveCheckpointSave(200, errors.New("disk full"))
	assert.InDelta(t, 150, testutil.ToFloat64(checkpointOffset), 0.001)

	assert.InDelta(t, okBefore+1, testutil.ToFloat64(checkpointSavesTotal.WithLabelValues("ok")), 0.001)
	assert.InDelta(t, errBefore+1, testutil.ToFloat64(checkpointSavesTotal.WithLabelValues("error")), 0.001)
}

func TestDetailInflightGauge(t *testing.T) {
	start := testutil.ToFloat64(detailInflight)
	IncDetailInflight()
	IncDetailInflight()
	DecDetailInflight()
	assert.InDelta(t, start+1, testutil.ToFloat64(detailInflight), 0.001)
	DecDetailInflight()
}

func TestObserveRequestRecordsHistogram(t *testing.T) {
	ObserveRequest("search", 120*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(requestDurationSeconds), 1)
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("jira.example.com", 40*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(rateLimitDelaySeconds), 1)
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, path := range []string{"/test", "/missing"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/test", "200")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/missing", "404")), 1.0)
}

func TestHandlerServesMetrics(t *testing.T) {
	ObserveRun("done")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "issuecrawler_runs_total")
}
