package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"mcpindex/internal/catalog"
	"mcpindex/internal/config"
	"mcpindex/internal/logging"
	"mcpindex/internal/repository"
	"mcpindex/pkg/fileops"

	"github.com/spf13/cobra"
)

// exitError carries a non-default exit status, e.g. validate finding
// broken files.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// app is the state shared by every subcommand of one invocation.
type app struct {
	dir   string
	debug bool

	cfg    *config.Config
	logger *logging.AppLogger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "mcpindex",
		Short: "Instruction catalog served over the Model Context Protocol",
		Long: `mcpindex keeps a directory of instruction documents (coding rules, style
guides, checklists) and serves them to AI assistants over MCP on stdio.

Without a subcommand it runs the MCP server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.dir, "dir", "", "instructions directory (overrides config)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "verbose logging to stderr")

	serve := newServeCmd(a)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(
		serve,
		newListCmd(a),
		newShowCmd(a),
		newSearchCmd(a),
		newValidateCmd(a),
		newImportCmd(a),
		newExportCmd(a),
		newHashCmd(a),
		newSyncCmd(a),
		newBrowseCmd(a),
		newAuthCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup builds the logger first so config loading can log.
func (a *app) setup() error {
	if a.debug {
		a.logger = logging.NewWriterLogger(os.Stderr, true)
	} else {
		a.logger = logging.NewAppLogger()
	}
	logging.SetDefault(a.logger)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dir != "" {
		cfg.InstructionsDir = fileops.ExpandPath(a.dir)
	}
	a.cfg = cfg
	return nil
}

// openCatalog opens the configured catalog without network access. Git
// sources that were never synced are left out.
func (a *app) openCatalog(mutation bool) (*catalog.Catalog, error) {
	dirs := []catalog.Dir{{Path: a.cfg.InstructionsDir, Source: "primary"}}
	for _, p := range repository.ResolveOffline(a.cfg.Sources, a.cfg.SourcesDir()) {
		if !p.OK() {
			a.logger.Debug("Source not available offline", "name", p.Entry.Name, "error", p.Err)
			continue
		}
		dirs = append(dirs, catalog.Dir{Path: p.Path, Source: p.Entry.Name, ReadOnly: true})
	}
	return catalog.New(catalog.Options{
		Dirs:        dirs,
		MaxFileSize: a.cfg.MaxFileSize,
		Mutation:    mutation,
		Logger:      a.logger,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
