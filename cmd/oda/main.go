package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/ppreeper/oda/internal/cluster"
	"github.com/ppreeper/oda/internal/gitrepo"
	"github.com/ppreeper/oda/internal/manifest"
	"github.com/ppreeper/oda/internal/repostore"
	"github.com/ppreeper/oda/internal/resources"
	"github.com/ppreeper/oda/internal/workspace"
)

var (
	configFile string
	verbose    bool
	version    string
)

// app carries what one invocation needs. It is built once before any
// subcommand runs.
type app struct {
	cfg *workspace.Config
	log logr.Logger
	gw  *cluster.Gateway
}

var oda = &app{}

func main() {
	rootCmd := &cobra.Command{
		Use:               "oda",
		Short:             "Odoo development environments on local Kubernetes",
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	rootCmd.InitDefaultVersionFlag()
	rootCmd.SetVersionTemplate("oda version: {{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default ~/.config/oda/config.yaml)")
	flags.BoolVar(&verbose, "verbose", false, "debug logging")
	flags.String("kubeconfig", "", "path to the kubeconfig file")
	flags.StringP("namespace", "n", "", "namespace of the project resources")
	flags.String("repo-root", "", "directory holding the Odoo repositories")
	flags.String("project-root", "", "directory holding the projects")
	mustBindPFlag(workspace.KeyKubeconfig, flags.Lookup("kubeconfig"))
	mustBindPFlag(workspace.KeyNamespace, flags.Lookup("namespace"))
	mustBindPFlag(workspace.KeyRepoRoot, flags.Lookup("repo-root"))
	mustBindPFlag(workspace.KeyProjectRoot, flags.Lookup("project-root"))

	rootCmd.AddCommand(
		repoCmd(),
		kubeCmd(),
		projectCmd(),
		startCmd(),
		stopCmd(),
		restartCmd(),
		logsCmd(),
		appCmd(),
		scaffoldCmd(),
		psqlCmd(),
		backupCmd(),
		configCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		handleError(err)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}).
		WithAttrs([]slog.Attr{slog.String("invocation", uuid.NewString())})
	slog.SetDefault(slog.New(handler))
	oda.log = logr.FromSlogHandler(handler)
	ctrl.SetLogger(oda.log.WithName("kube"))

	home, err := workspace.HomeDir()
	if err != nil {
		return err
	}
	cfg, err := workspace.Load(viper.GetViper(), home, configFile)
	if err != nil {
		return err
	}
	oda.cfg = cfg
	oda.log.V(1).Info("configuration loaded", "command", cmd.CommandPath(), "repoRoot", cfg.RepoRoot, "projectRoot", cfg.ProjectRoot)
	return nil
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func handleError(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}

func (a *app) store() *repostore.Store {
	git := gitrepo.New(a.log.WithName("git"), gitrepo.WithProgress(os.Stdout))
	return repostore.New(a.cfg.RepoRoot, git, a.log.WithName("repos"),
		repostore.WithUpstream(a.cfg.Upstream),
		repostore.WithProgress(os.Stdout),
	)
}

func (a *app) compiler() *manifest.Compiler {
	return &manifest.Compiler{
		Repos:       a.store(),
		ProjectRoot: a.cfg.ProjectRoot,
		BackupsDir:  a.cfg.BackupsDir,
		StorageDir:  a.cfg.StorageDir,
		Image:       resources.ContainerImage{Name: a.cfg.ImageName, Image: a.cfg.Image},
	}
}

func (a *app) gateway() (*cluster.Gateway, error) {
	if a.gw != nil {
		return a.gw, nil
	}
	config, err := cluster.RESTConfig(a.cfg.Kubeconfig)
	if err != nil {
		return nil, err
	}
	gw, err := cluster.Connect(config, a.cfg.Namespace, a.log.WithName("cluster"))
	if err != nil {
		return nil, err
	}
	a.gw = gw
	return gw, nil
}

// project resolves the project of the working directory.
func (a *app) project() (*workspace.Context, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return workspace.Resolve(wd)
}
