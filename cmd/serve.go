package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jira-issue-crawler/internal/api"
	"github.com/JakeFAU/jira-issue-crawler/internal/app"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand, which keeps the ops server up
// and starts crawls on POST /v1/run.
func newServeCmd() *cobra.Command {
	var runOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the ops HTTP server and crawls on demand",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := resolveRuntime(ctx)
			if err != nil {
				return err
			}
			if rt.cfg.Server.Port == 0 {
				return errors.New("server.port must be set for serve")
			}
			a, err := newApp(ctx, rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer a.Close()

			stopServer, err := startOpsServer(ctx, a)
			if err != nil {
				return err
			}
			defer stopServer()

			if runOnStart {
				if _, err := a.Orchestrator.Start(ctx); err != nil {
					rt.logger.Warn("initial run not started", zap.Error(err))
				}
			}

			<-ctx.Done()
			rt.logger.Info("shutdown initiated")
			return nil
		},
	}
	cmd.Flags().BoolVar(&runOnStart, "run", false, "start a crawl immediately")
	return cmd
}

// startOpsServer binds server.port and serves the ops API until the returned
// stop function is called.
func startOpsServer(ctx context.Context, a *app.App) (func(), error) {
	logger := a.Logger.Named("server")
	handler := api.NewServer(ctx, a.Orchestrator, a.Checkpoints, a.Config, a.Logger).Handler()
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.Config.Server.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", a.Config.Server.Port, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		<-done
		logger.Info("http server stopped")
	}, nil
}
