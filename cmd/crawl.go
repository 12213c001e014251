package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jira-issue-crawler/internal/app"
	"github.com/JakeFAU/jira-issue-crawler/internal/orchestrator"
)

// newApp is the service factory. It's a variable so tests can inject options.
var newApp = app.New

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl from the
// stored checkpoint to the end of the search results.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl, resuming from the stored checkpoint",
		Long: `Pages through the configured JQL search starting at the stored
checkpoint, emits one record per issue to the configured sink, and exits.
When server.port is set the ops server runs for the duration of the crawl.
The command fails when the run aborts.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	if rt.cfg.Server.Port > 0 {
		stopServer, err := startOpsServer(ctx, a)
		if err != nil {
			return err
		}
		defer stopServer()
	}

	res, err := a.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}
	if err := writeSummary(cmd.ErrOrStderr(), res); err != nil {
		rt.logger.Warn("write run summary failed", zap.Error(err))
	}
	if res.Err != nil {
		return res.Err
	}
	rt.logger.Info("crawl command finished",
		zap.String("run_id", res.RunID),
		zap.Int("emitted", res.Emitted),
		zap.Int("skipped", res.Skipped),
	)
	return nil
}

type runSummary struct {
	RunID      string `json:"run_id"`
	State      string `json:"state"`
	Pages      int    `json:"pages"`
	Emitted    int    `json:"emitted"`
	Skipped    int    `json:"skipped"`
	Checkpoint int    `json:"last_startAt"`
	Error      string `json:"error,omitempty"`
}

func writeSummary(w io.Writer, res orchestrator.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(runSummary{
		RunID:      res.RunID,
		State:      string(res.State),
		Pages:      res.Pages,
		Emitted:    res.Emitted,
		Skipped:    res.Skipped,
		Checkpoint: res.Checkpoint.Search.LastStartAt,
		Error:      res.Error(),
	}); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}
