package main

import (
	"fmt"

	"mcpindex/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, exists := config.FindConfigFile()
			if exists && !force {
				return fmt.Errorf("config file already exists at %s (use --force to replace it)", path)
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if err := a.cfg.SaveTo(path); err != nil {
				return err
			}
			if err := a.cfg.EnsureDirs(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(a.cfg); err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			return enc.Close()
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, exists := config.FindConfigFile()
			fmt.Fprintln(cmd.OutOrStdout(), p)
			if !exists {
				fmt.Fprintln(cmd.ErrOrStderr(), "(file does not exist yet)")
			}
			return nil
		},
	}

	cmd.AddCommand(initCmd, show, path)
	return cmd
}

