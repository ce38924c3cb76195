package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"mcpindex/internal/repository"
	"mcpindex/internal/tui/styles"

	"github.com/spf13/cobra"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Clone or refresh every configured source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(a.cfg.Sources) == 0 {
				fmt.Fprintln(out, "No sources configured.")
				return nil
			}
			if err := a.cfg.EnsureDirs(); err != nil {
				return err
			}

			results := repository.PrepareAll(cmd.Context(), a.cfg.Sources, a.cfg.SourcesDir(), a.logger)
			failed := 0
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, r := range results {
				if r.OK() {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", styles.SuccessStyle.Render("ok"), r.Entry.Name, r.Path)
					continue
				}
				failed++
				fmt.Fprintf(tw, "%s\t%s\t%v\n", styles.ErrorStyle.Render("failed"), r.Entry.Name, r.Err)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return &exitError{code: 1, msg: fmt.Sprintf("%d of %d sources failed", failed, len(results))}
			}
			return nil
		},
	}
}

func newAuthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the GitHub token used for private sources",
	}

	set := &cobra.Command{
		Use:   "set [token]",
		Short: "Store a GitHub token in the system keyring",
		Long:  "Store a GitHub token in the system keyring. Without an argument the token is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				read, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				token = read
			}
			token = strings.TrimSpace(token)
			if err := repository.ValidateTokenFormat(token); err != nil {
				return err
			}
			if err := repository.NewCredentialManager().StoreGitHubToken(token); err != nil {
				return err
			}
			a.logger.Info("Stored GitHub token")
			fmt.Fprintln(cmd.OutOrStdout(), "Token stored.")
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove",
		Short: "Delete the stored GitHub token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := repository.NewCredentialManager().DeleteGitHubToken(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token removed.")
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Report whether a token is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if repository.NewCredentialManager().HasGitHubToken() {
				fmt.Fprintln(cmd.OutOrStdout(), "GitHub token: stored")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "GitHub token: not set")
			}
			return nil
		},
	}

	cmd.AddCommand(set, remove, status)
	return cmd
}

func readLine(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	if sc.Scan() {
		return sc.Text(), nil
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return "", fmt.Errorf("no token given")
}
