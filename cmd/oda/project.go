package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ppreeper/oda/internal/cluster"
	"github.com/ppreeper/oda/internal/manifest"
	"github.com/ppreeper/oda/internal/project"
)

var (
	edition      string
	odooVer      string
	followLogs   bool
	waitForStart bool
	startTimeout time.Duration
)

func projectCmd() *cobra.Command {
	proj := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}

	initCmd := &cobra.Command{
		Use:   "init NAME",
		Short: "Create a project for an Odoo version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ed, err := manifest.ParseEdition(edition)
			if err != nil {
				return err
			}
			if odooVer == "" {
				return fmt.Errorf("--version is required")
			}
			mgr := project.NewManager(oda.compiler(), oda.log.WithName("project"))
			ctx, err := mgr.Init(manifest.ProjectRequest{
				Name:      args[0],
				Edition:   ed,
				Version:   odooVer,
				CreatedAt: time.Now(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "project %s created in %s\n", ctx.Project, ctx.Dir)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&edition, "edition", "e", string(manifest.Community), "community or enterprise")
	initCmd.Flags().StringVar(&odooVer, "version", "", "Odoo version, e.g. 17.0")

	proj.AddCommand(initCmd)
	return proj
}

func startCmd() *cobra.Command {
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the project of the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := oda.project()
			if err != nil {
				return err
			}
			text, err := os.ReadFile(ctx.ManifestPath)
			if err != nil {
				return err
			}
			gw, err := oda.gateway()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "start %s\n", ctx.Project)
			if err := gw.Apply(cmd.Context(), text); err != nil {
				return err
			}
			if !waitForStart {
				return nil
			}
			pod, err := gw.WaitForPod(cmd.Context(), ctx.Project, startTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is running (%s)\n", ctx.Project, pod)
			return nil
		},
	}
	start.Flags().BoolVarP(&waitForStart, "wait", "w", false, "wait for the pod to run")
	start.Flags().DurationVar(&startTimeout, "timeout", 5*time.Minute, "how long to wait with --wait")
	return start
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the project of the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := oda.project()
			if err != nil {
				return err
			}
			text, err := os.ReadFile(ctx.ManifestPath)
			if err != nil {
				return err
			}
			gw, err := oda.gateway()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stop %s\n", ctx.Project)
			return gw.Delete(cmd.Context(), text)
		},
	}
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the pod of the current project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := oda.project()
			if err != nil {
				return err
			}
			gw, err := oda.gateway()
			if err != nil {
				return err
			}
			pod, err := gw.RestartPod(cmd.Context(), ctx.Project)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restart %s (%s)\n", ctx.Project, pod)
			return nil
		},
	}
}

func logsCmd() *cobra.Command {
	logs := &cobra.Command{
		Use:   "logs",
		Short: "Show the logs of the current project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := oda.project()
			if err != nil {
				return err
			}
			gw, err := oda.gateway()
			if err != nil {
				return err
			}
			return gw.StreamLogs(cmd.Context(), ctx.Project, followLogs, cmd.OutOrStdout())
		},
	}
	logs.Flags().BoolVarP(&followLogs, "follow", "f", false, "follow the logs")
	return logs
}

func appCmd() *cobra.Command {
	apps := &cobra.Command{
		Use:   "app",
		Short: "Install or upgrade modules of the current project",
	}
	for _, upgrade := range []bool{false, true} {
		use, short := "install MODULE...", "Install modules"
		if upgrade {
			use, short = "upgrade MODULE...", "Upgrade modules"
		}
		apps.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				command, err := project.ModuleCommand(args, upgrade)
				if err != nil {
					return err
				}
				return execInProject(cmd, command)
			},
		})
	}
	return apps
}

func scaffoldCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scaffold MODULE",
		Short: "Create a module skeleton in the project addons",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := project.ScaffoldCommand(args[0])
			if err != nil {
				return err
			}
			return execInProject(cmd, command)
		},
	}
}

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Back up the project database to the backups volume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execInProject(cmd, project.BackupCommand())
		},
	}
}

func psqlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "psql",
		Short: "Open psql on the project database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := oda.project()
			if err != nil {
				return err
			}
			db, err := project.Database(ctx)
			if err != nil {
				return err
			}
			gw, err := oda.gateway()
			if err != nil {
				return err
			}
			return interactiveExec(cmd, gw, project.PostgresPod(), project.PsqlCommand(db))
		},
	}
}

func execInProject(cmd *cobra.Command, command []string) error {
	ctx, err := oda.project()
	if err != nil {
		return err
	}
	gw, err := oda.gateway()
	if err != nil {
		return err
	}
	pod, err := gw.FindPod(cmd.Context(), ctx.Project)
	if err != nil {
		return err
	}
	return interactiveExec(cmd, gw, pod, command)
}

// interactiveExec attaches the terminal to command, switching it to raw mode
// when stdin is a terminal.
func interactiveExec(cmd *cobra.Command, gw *cluster.Gateway, pod string, command []string) error {
	req := cluster.ExecRequest{
		Pod:     pod,
		Command: command,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("set terminal to raw mode: %w", err)
		}
		defer term.Restore(fd, state)
		req.TTY = true
	}
	return gw.Exec(cmd.Context(), req)
}
