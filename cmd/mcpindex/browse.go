package main

import (
	"mcpindex/internal/catalog"
	"mcpindex/internal/tui"

	"github.com/spf13/cobra"
)

func newBrowseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse the catalog in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.openCatalog(false)
			if err != nil {
				return err
			}
			usage := catalog.NewUsageTracker(a.cfg.UsageSnapshotPath(), a.cfg.UsageFlushDelay, a.logger)
			if err := usage.Load(); err != nil {
				a.logger.Warn("Usage counters unavailable", "error", err)
			}
			defer usage.Close(cmd.Context())

			return tui.Run(cmd.Context(), cat, usage, a.logger)
		},
	}
}
