package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jira-issue-crawler/internal/app"
	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

var openCheckpoints = app.OpenCheckpoints

// newCheckpointCmd groups the checkpoint inspection commands.
func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspects or resets the stored crawl checkpoint",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Prints the stored checkpoint as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCheckpoints(cmd, func(a *app.App) error {
				cp, err := a.Checkpoints.Load(cmd.Context())
				if err != nil {
					return fmt.Errorf("load checkpoint: %w", err)
				}
				return writeCheckpoint(cmd.OutOrStdout(), cp)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clears the stored checkpoint so the next crawl starts from offset 0",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCheckpoints(cmd, func(a *app.App) error {
				if err := a.Checkpoints.Save(cmd.Context(), crawler.Checkpoint{}); err != nil {
					return fmt.Errorf("reset checkpoint: %w", err)
				}
				a.Logger.Info("checkpoint reset", zap.String("backend", a.Config.Checkpoint.Backend))
				return writeCheckpoint(cmd.OutOrStdout(), crawler.Checkpoint{})
			})
		},
	})
	return cmd
}

func withCheckpoints(cmd *cobra.Command, fn func(a *app.App) error) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	a, err := openCheckpoints(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer a.Close()
	return fn(a)
}

func writeCheckpoint(w io.Writer, cp crawler.Checkpoint) error {
	if err := json.NewEncoder(w).Encode(cp); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return nil
}
