package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppreeper/oda/internal/ide"
)

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Write editor configuration for the current project",
	}

	cfg.AddCommand(
		&cobra.Command{
			Use:   "vscode",
			Short: "Write .vscode/launch.json and settings.json",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, err := oda.project()
				if err != nil {
					return err
				}
				paths, err := ide.SourcePaths(ctx, manifestPath(odooTarget))
				if err != nil {
					return err
				}
				if err := ide.WriteVSCode(ctx, paths); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", filepath.Join(ctx.Dir, ".vscode"))
				return nil
			},
		},
		&cobra.Command{
			Use:   "pyright",
			Short: "Write pyrightconfig.json",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, err := oda.project()
				if err != nil {
					return err
				}
				paths, err := ide.SourcePaths(ctx, manifestPath(odooTarget))
				if err != nil {
					return err
				}
				if err := ide.WritePyright(ctx, paths); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", filepath.Join(ctx.Dir, "pyrightconfig.json"))
				return nil
			},
		},
	)
	return cfg
}
