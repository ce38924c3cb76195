package main

import (
	"fmt"

	"mcpindex/internal/server"

	"github.com/spf13/cobra"
)

type serveFlags struct {
	dashboard bool
	port      int
	mutation  bool
	watch     bool
}

func newServeCmd(a *app) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Run the MCP server on stdin/stdout. Logs go to stderr, or to
MCPINDEX_LOG_FILE when set. The process exits when the client closes stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("dashboard") {
				a.cfg.Dashboard.Enabled = f.dashboard
			}
			if flags.Changed("port") {
				a.cfg.Dashboard.Port = f.port
				a.cfg.Dashboard.Enabled = true
			}
			if flags.Changed("mutation") {
				a.cfg.Mutation = f.mutation
			}
			if flags.Changed("watch") {
				a.cfg.Watch = f.watch
			}
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			srv, err := server.New(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&f.dashboard, "dashboard", false, "serve the local HTTP dashboard")
	cmd.Flags().IntVar(&f.port, "port", 0, "dashboard port (implies --dashboard)")
	cmd.Flags().BoolVar(&f.mutation, "mutation", false, "enable catalog write tools")
	cmd.Flags().BoolVar(&f.watch, "watch", true, "reload when instruction files change")
	return cmd
}
