package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/jira-issue-crawler/internal/config"
	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
	"github.com/JakeFAU/jira-issue-crawler/internal/metrics"
	"github.com/JakeFAU/jira-issue-crawler/internal/orchestrator"
)

const (
	requestTimeout = 60 * time.Second
	probeTimeout   = 3 * time.Second
)

// Runner starts crawl runs and reports their progress.
type Runner interface {
	Start(ctx context.Context) (<-chan orchestrator.Result, error)
	Status() orchestrator.Result
}

// Server wires HTTP handlers to the crawl runner and checkpoint store.
type Server struct {
	router      chi.Router
	runner      Runner
	checkpoints crawler.CheckpointStore
	runCtx      context.Context
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes. Runs started over
// HTTP inherit runCtx rather than the request context, so they outlive the
// request but stop when the process shuts down.
func NewServer(
	runCtx context.Context,
	runner Runner,
	checkpoints crawler.CheckpointStore,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:      runner,
		checkpoints: checkpoints,
		runCtx:      runCtx,
		logger:      logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/checkpoint", s.getCheckpoint)
		r.Get("/run", s.getRun)
		r.Post("/run", s.startRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the checkpoint store answers.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	if _, err := s.checkpoints.Load(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "checkpoint store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.checkpoints.Load(r.Context())
	if err != nil {
		s.logger.Error("load checkpoint failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load checkpoint")
		return
	}
	s.writeJSON(w, http.StatusOK, cp)
}

func (s *Server) getRun(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, newRunStatus(s.runner.Status()))
}

func (s *Server) startRun(w http.ResponseWriter, _ *http.Request) {
	done, err := s.runner.Start(s.runCtx)
	if errors.Is(err, orchestrator.ErrRunInProgress) {
		s.writeJSON(w, http.StatusConflict, newRunStatus(s.runner.Status()))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	go func() {
		res := <-done
		s.logger.Info("api run finished",
			zap.String("run_id", res.RunID),
			zap.String("state", string(res.State)),
			zap.Int("emitted", res.Emitted),
		)
	}()
	s.writeJSON(w, http.StatusAccepted, newRunStatus(s.runner.Status()))
}

// runStatus adds the failure message that Result keeps out of its JSON form.
type runStatus struct {
	orchestrator.Result
	Message string `json:"error,omitempty"`
}

func newRunStatus(res orchestrator.Result) runStatus {
	return runStatus{Result: res, Message: res.Error()}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
