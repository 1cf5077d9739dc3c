package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/ppreeper/oda/internal/manifest"
)

const (
	postgresTarget = "postgres"
	odooTarget     = "odoo"
)

var postgresVersion string

func kubeCmd() *cobra.Command {
	kube := &cobra.Command{
		Use:   "kube",
		Short: "Generate and apply the shared cluster resources",
	}

	gen := &cobra.Command{
		Use:   "gen",
		Short: "Generate manifests",
	}
	genPostgres := &cobra.Command{
		Use:   "postgres",
		Short: "Generate the PostgreSQL manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := postgresVersion
			if v == "" {
				v = oda.cfg.PostgresVersion
			}
			c := oda.compiler()
			if err := os.MkdirAll(c.PostgresDataDir(v), 0o755); err != nil {
				return fmt.Errorf("create postgres data directory: %w", err)
			}
			docs, err := c.CompilePostgres(v)
			if err != nil {
				return err
			}
			return writeManifest(cmd, postgresTarget, docs)
		},
	}
	genPostgres.Flags().StringVar(&postgresVersion, "version", "", "PostgreSQL major version (default from config)")

	genOdoo := &cobra.Command{
		Use:   "odoo",
		Short: "Generate the shared source and backups volumes manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := oda.compiler()
			if err := os.MkdirAll(c.BackupsDir, 0o755); err != nil {
				return fmt.Errorf("create backups directory: %w", err)
			}
			docs, err := c.CompileVersionVolumes()
			if err != nil {
				return err
			}
			backups, err := c.CompileBackupVolume()
			if err != nil {
				return err
			}
			return writeManifest(cmd, odooTarget, append(docs, backups...))
		},
	}
	gen.AddCommand(genPostgres, genOdoo)

	apply := &cobra.Command{
		Use:       "apply {postgres|odoo}",
		Short:     "Apply a generated manifest",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{postgresTarget, odooTarget},
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readManifest(args[0])
			if err != nil {
				return err
			}
			gw, err := oda.gateway()
			if err != nil {
				return err
			}
			return gw.Apply(cmd.Context(), text)
		},
	}

	del := &cobra.Command{
		Use:       "delete {postgres|odoo}",
		Short:     "Delete the resources of a generated manifest",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{postgresTarget, odooTarget},
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readManifest(args[0])
			if err != nil {
				return err
			}
			gw, err := oda.gateway()
			if err != nil {
				return err
			}
			return gw.Delete(cmd.Context(), text)
		},
	}

	kube.AddCommand(gen, apply, del)
	return kube
}

func manifestPath(target string) string {
	return filepath.Join(oda.cfg.ManifestsDir, target+".yaml")
}

func writeManifest(cmd *cobra.Command, target string, docs []client.Object) error {
	var buf bytes.Buffer
	if err := manifest.Render(&buf, docs); err != nil {
		return err
	}
	if err := os.MkdirAll(oda.cfg.ManifestsDir, 0o755); err != nil {
		return fmt.Errorf("create manifests directory: %w", err)
	}
	path := manifestPath(target)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s manifest written to %s\n", target, path)
	return nil
}

func readManifest(target string) ([]byte, error) {
	path := manifestPath(target)
	text, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s not found, run 'oda kube gen %s' first", path, target)
		}
		return nil, err
	}
	return text, nil
}
