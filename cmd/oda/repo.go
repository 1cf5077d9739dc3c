package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func repoCmd() *cobra.Command {
	repo := &cobra.Command{
		Use:   "repo",
		Short: "Manage the Odoo source repositories",
	}

	base := &cobra.Command{
		Use:   "base",
		Short: "Manage the community and enterprise mirrors",
	}
	base.AddCommand(
		&cobra.Command{
			Use:   "clone",
			Short: "Clone the mirrors",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return oda.store().CloneBase(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "update",
			Short: "Update the mirrors to the upstream default branch",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return oda.store().UpdateBase(cmd.Context())
			},
		},
	)

	branch := &cobra.Command{
		Use:   "branch",
		Short: "Manage per version copies of the mirrors",
	}
	branch.AddCommand(
		&cobra.Command{
			Use:   "clone VERSION",
			Short: "Copy the mirrors and check out VERSION",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return oda.store().CloneVersion(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "update VERSION",
			Short: "Update the copies of VERSION",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return oda.store().UpdateVersion(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List the cloned versions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				versions, err := oda.store().Versions()
				if err != nil {
					return err
				}
				for _, v := range versions {
					fmt.Fprintln(cmd.OutOrStdout(), v)
				}
				return nil
			},
		},
	)

	repo.AddCommand(base, branch)
	return repo
}
