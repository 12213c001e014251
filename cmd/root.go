// Package cmd defines and implements the CLI commands for the issuecrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jira-issue-crawler/internal/config"
	"github.com/JakeFAU/jira-issue-crawler/internal/logging"
	"github.com/JakeFAU/jira-issue-crawler/internal/telemetry"
)

// runtimeKeyType is the key for storing the loaded runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

const tracingShutdownTimeout = 5 * time.Second

// runtime carries what every subcommand needs.
type runtime struct {
	cfg             config.Config
	logger          *zap.Logger
	shutdownTracing telemetry.ShutdownFunc

	closeOnce sync.Once
}

// close flushes spans and syncs the logger. Only the first call has effect.
func (rt *runtime) close() {
	rt.closeOnce.Do(func() {
		if rt.shutdownTracing != nil {
			ctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
			defer cancel()
			if err := rt.shutdownTracing(ctx); err != nil {
				rt.logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}
		if err := logging.Sync(rt.logger); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	})
}

// closeRuntime releases the runtime stored on cmd, if any.
func closeRuntime(cmd *cobra.Command) {
	if cmd == nil || cmd.Context() == nil {
		return
	}
	if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok && rt != nil {
		rt.close()
	}
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "issuecrawler",
		Short: "Resumable crawler for Jira issue search results.",
		Long: `issuecrawler pages through a Jira JQL search, fetches every issue's full
detail, normalizes it into a flat record, and hands the records to a sink.
Progress is checkpointed after each fully processed page so an interrupted
crawl resumes where it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Load config and logger before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			shutdown, err := telemetry.Setup(cmd.Context(), cfg.Tracing)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			if cfg.Tracing.Enabled {
				logger.Info("tracing enabled",
					zap.String("exporter", cfg.Tracing.Exporter),
					zap.Float64("sample_ratio", cfg.Tracing.SampleRatio),
				)
			}
			rt := &runtime{cfg: cfg, logger: logger, shutdownTracing: shutdown}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},

		// Runs only after a successful RunE. Execute covers the failure path.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			closeRuntime(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json, or toml); env vars use the ISSUECRAWLER_ prefix")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckpointCmd())

	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command, which lets an in-flight crawl stop without advancing past
// unfinished work.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	cmd, err := newRootCmd().ExecuteContextC(ctx)
	closeRuntime(cmd)
	stop()
	if err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
