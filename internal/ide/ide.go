// Package ide writes editor configuration that points at the Odoo source
// trees a project runs with.
package ide

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ppreeper/oda/internal/manifest"
	"github.com/ppreeper/oda/internal/workspace"
)

type document struct {
	Kind     string `yaml:"kind"`
	Metadata struct {
		Name string `yaml:"name"`
	} `yaml:"metadata"`
	Spec struct {
		VolumeName string `yaml:"volumeName"`
		HostPath   struct {
			Path string `yaml:"path"`
		} `yaml:"hostPath"`
		Template struct {
			Spec struct {
				Containers []struct {
					VolumeMounts []struct {
						Name      string `yaml:"name"`
						MountPath string `yaml:"mountPath"`
						ReadOnly  bool   `yaml:"readOnly"`
					} `yaml:"volumeMounts"`
				} `yaml:"containers"`
				Volumes []struct {
					Name                  string `yaml:"name"`
					PersistentVolumeClaim struct {
						ClaimName string `yaml:"claimName"`
					} `yaml:"persistentVolumeClaim"`
				} `yaml:"volumes"`
			} `yaml:"spec"`
		} `yaml:"template"`
	} `yaml:"spec"`
}

func readDocuments(path string) ([]document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []document
	dec := yaml.NewDecoder(f)
	for {
		var doc document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if doc.Kind != "" {
			docs = append(docs, doc)
		}
	}
}

// isSourceMount matches the read-only source trees mounted directly under
// the Odoo root.
func isSourceMount(mountPath string, readOnly bool) bool {
	return readOnly && path.Dir(mountPath) == manifest.OdooRoot
}

// SourcePaths returns the host directories of the source trees mounted by
// the project's Deployment. Claims are followed to their volumes through the
// project manifest and the shared volumes manifest.
func SourcePaths(ctx *workspace.Context, sharedManifest string) ([]string, error) {
	docs, err := readDocuments(ctx.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("read project manifest: %w", err)
	}
	shared, err := readDocuments(sharedManifest)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read shared manifest: %w", err)
	}
	docs = append(docs, shared...)

	claims := map[string]string{}
	volumes := map[string]string{}
	for _, d := range docs {
		switch d.Kind {
		case "PersistentVolumeClaim":
			claims[d.Metadata.Name] = d.Spec.VolumeName
		case "PersistentVolume":
			volumes[d.Metadata.Name] = d.Spec.HostPath.Path
		}
	}

	var paths []string
	for _, d := range docs {
		if d.Kind != "Deployment" {
			continue
		}
		podSpec := d.Spec.Template.Spec
		claimOf := map[string]string{}
		for _, v := range podSpec.Volumes {
			claimOf[v.Name] = v.PersistentVolumeClaim.ClaimName
		}
		for _, c := range podSpec.Containers {
			for _, m := range c.VolumeMounts {
				if !isSourceMount(m.MountPath, m.ReadOnly) {
					continue
				}
				claim := claimOf[m.Name]
				pv, ok := claims[claim]
				if !ok {
					return nil, fmt.Errorf("claim %q of %s not found, run 'oda kube gen odoo' first", claim, m.MountPath)
				}
				hostPath, ok := volumes[pv]
				if !ok || hostPath == "" {
					return nil, fmt.Errorf("volume %q of %s not found, run 'oda kube gen odoo' first", pv, m.MountPath)
				}
				paths = append(paths, hostPath)
			}
		}
	}
	return paths, nil
}

// WriteVSCode writes .vscode/launch.json and .vscode/settings.json.
func WriteVSCode(ctx *workspace.Context, sourcePaths []string) error {
	launch := map[string]any{
		"version": "0.2.0",
		"configurations": []map[string]any{
			{
				"name":        "Launch",
				"type":        "python",
				"request":     "launch",
				"stopOnEntry": false,
				"python":      "${command:python.interpreterPath}",
				"program":     "${workspaceRoot}/odoo/odoo-bin",
				"args":        []string{"-c", "${workspaceRoot}/conf/odoo.conf", "-p", "$ODOO_PORT"},
				"cwd":         "${workspaceRoot}",
				"env":         map[string]string{},
				"envFile":     "${workspaceFolder}/.env",
				"console":     "integratedTerminal",
			},
		},
	}
	settings := map[string]any{
		"python.analysis.extraPaths":       nonNil(sourcePaths),
		"python.linting.pylintEnabled":     true,
		"python.linting.enabled":           true,
		"python.terminal.executeInFileDir": true,
		"python.formatting.provider":       "black",
	}

	dir := filepath.Join(ctx.Dir, ".vscode")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := writeJSON(filepath.Join(dir, "launch.json"), launch); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, "settings.json"), settings)
}

// WritePyright writes pyrightconfig.json.
func WritePyright(ctx *workspace.Context, sourcePaths []string) error {
	extra := append(nonNil(sourcePaths), "addons")
	cfg := map[string]any{
		"venvPath": ".",
		"venv":     ".direnv",
		"executionEnvironments": []map[string]any{
			{"root": ".", "extraPaths": extra},
		},
	}
	return writeJSON(filepath.Join(ctx.Dir, "pyrightconfig.json"), cfg)
}

func writeJSON(path string, v any) error {
	out, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func nonNil(paths []string) []string {
	out := make([]string, 0, len(paths))
	return append(out, paths...)
}
