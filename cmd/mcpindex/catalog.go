package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"mcpindex/internal/catalog"
	"mcpindex/internal/tui"
	"mcpindex/internal/tui/styles"
	"mcpindex/pkg/fileops"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newListCmd(a *app) *cobra.Command {
	var (
		category string
		asJSON   bool
		archived bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instructions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.openCatalog(false)
			if err != nil {
				return err
			}
			f := catalog.Filter{IncludeArchived: archived}
			if category != "" {
				f.Categories = []string{category}
			}
			entries, err := cat.List(cmd.Context(), f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				items := make([]catalog.Summary, len(entries))
				for i, in := range entries {
					items[i] = in.Summarize()
				}
				return writeJSON(out, items)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No instructions.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPRIORITY\tREQUIREMENT\tCATEGORIES\tTITLE")
			for _, in := range entries {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", in.ID, in.Priority, in.Requirement, strings.Join(in.Categories, ","), in.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only entries in this category")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON summaries")
	cmd.Flags().BoolVar(&archived, "archived", false, "include archived entries")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.openCatalog(false)
			if err != nil {
				return err
			}
			in, err := cat.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if raw {
				return writeJSON(out, in)
			}

			width := 80
			if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
				width = min(w, 120)
			}
			md := tui.PreviewMarkdown(in, width)
			rendered, err := tui.RenderMarkdown(md, width, tui.GlamourStyle(50*time.Millisecond))
			if err != nil {
				fmt.Fprint(out, md)
				return nil
			}
			fmt.Fprint(out, rendered)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the stored JSON document")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		regex    bool
		limit    int
		category string
	)
	cmd := &cobra.Command{
		Use:   "search <terms...>",
		Short: "Search titles, bodies and categories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.openCatalog(false)
			if err != nil {
				return err
			}
			snap, err := cat.EnsureLoaded(cmd.Context())
			if err != nil {
				return err
			}
			q := catalog.Query{Text: strings.Join(args, " "), Limit: limit}
			if regex {
				q.Mode = catalog.ModeRegex
			}
			if category != "" {
				q.Filter.Categories = []string{category}
			}
			res, err := catalog.Search(snap, q)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(res.Hits) == 0 {
				fmt.Fprintln(out, "No matches.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tID\tTITLE")
			for _, h := range res.Hits {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", h.Score, h.Entry.ID, h.Entry.Title)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if res.Truncated {
				fmt.Fprintf(out, "%d of %d matches shown\n", len(res.Hits), res.Total)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&regex, "regex", false, "treat the terms as one regular expression")
	cmd.Flags().IntVar(&limit, "limit", catalog.DefaultSearchLimit, "maximum results")
	cmd.Flags().StringVar(&category, "category", "", "only entries in this category")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load every instruction file and report the ones that fail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.openCatalog(false)
			if err != nil {
				return err
			}
			snap, err := cat.EnsureLoaded(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, le := range snap.Errors {
				fmt.Fprintf(out, "%s %s: %s\n", styles.ErrorStyle.Render("FAIL"), le.File, le.Reason)
			}
			if n := len(snap.Errors); n > 0 {
				return &exitError{code: 1, msg: fmt.Sprintf("%d of %d files failed validation", n, n+snap.Count())}
			}
			fmt.Fprintf(out, "%s %d instructions\n", styles.SuccessStyle.Render("OK"), snap.Count())
			return nil
		},
	}
}

// readImportFile accepts one JSON document or an array of them.
func readImportFile(path string, maxSize int64) ([]map[string]any, error) {
	if err := fileops.ValidateFileSizeLimit(path, maxSize); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var many []map[string]any
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one map[string]any
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("%s: not a JSON object or array: %w", path, err)
	}
	return []map[string]any{one}, nil
}

func newImportCmd(a *app) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import a JSON file or a directory of markdown files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.openCatalog(true)
			if err != nil {
				return err
			}
			path := fileops.ExpandPath(args[0])
			info, err := os.Stat(path)
			if err != nil {
				return err
			}

			var (
				raws      []map[string]any
				parseErrs []catalog.LoadError
			)
			if info.IsDir() {
				raws, parseErrs, err = catalog.ReadMarkdownDir(path, a.cfg.MaxFileSize)
			} else {
				raws, err = readImportFile(path, a.cfg.MaxFileSize)
			}
			if err != nil {
				return err
			}

			mode := catalog.ImportSkip
			if overwrite {
				mode = catalog.ImportOverwrite
			}
			res, err := cat.Import(cmd.Context(), raws, mode)
			if err != nil {
				return err
			}
			res.Errors = append(parseErrs, res.Errors...)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "added %d, overwritten %d, unchanged %d, skipped %d, failed %d\n",
				len(res.Added), len(res.Overwritten), len(res.Unchanged), len(res.Skipped), len(res.Errors))
			for _, le := range res.Errors {
				fmt.Fprintf(out, "  %s: %s\n", le.File, le.Reason)
			}
			if len(res.Errors) > 0 {
				return &exitError{code: 1, msg: "some entries were not imported"}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace entries that already exist")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Write every instruction to dir as markdown or JSON files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "markdown" && format != "json" {
				return fmt.Errorf("unknown format %q (markdown or json)", format)
			}
			cat, err := a.openCatalog(false)
			if err != nil {
				return err
			}
			entries, err := cat.List(cmd.Context(), catalog.Filter{IncludeArchived: true})
			if err != nil {
				return err
			}
			dir := fileops.ExpandPath(args[0])
			if err := fileops.EnsureDirectoryExists(dir); err != nil {
				return err
			}

			files := cat.Snapshot().Files
			for _, in := range entries {
				if format == "json" {
					// stored documents are copied byte for byte
					name, err := fileops.SanitizeFilename(catalog.FileName(in.ID))
					if err != nil {
						return fmt.Errorf("%s: %w", in.ID, err)
					}
					if err := fileops.AtomicCopy(cmd.Context(), files[in.ID], filepath.Join(dir, name)); err != nil {
						return fmt.Errorf("%s: %w", in.ID, err)
					}
					continue
				}
				data, err := catalog.RenderMarkdown(in)
				if err != nil {
					return fmt.Errorf("%s: %w", in.ID, err)
				}
				name, err := fileops.SanitizeFilename(in.ID + ".md")
				if err != nil {
					return fmt.Errorf("%s: %w", in.ID, err)
				}
				if err := fileops.AtomicWriteFile(cmd.Context(), filepath.Join(dir, name), data, 0o644); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d instructions to %s\n", len(entries), dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "markdown", "markdown or json")
	return cmd
}

func newHashCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the catalog and governance hashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.openCatalog(false)
			if err != nil {
				return err
			}
			snap, err := cat.EnsureLoaded(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]any{
					"count":          snap.Count(),
					"hash":           snap.Hash,
					"governanceHash": snap.GovernanceHash,
				})
			}
			fmt.Fprintf(out, "count       %d\nhash        %s\ngovernance  %s\n", snap.Count(), snap.Hash, snap.GovernanceHash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
