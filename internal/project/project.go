// Package project creates project directories and builds the commands run
// inside a project's pods.
package project

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/ppreeper/oda/internal/manifest"
	"github.com/ppreeper/oda/internal/workspace"
)

// Directories created in every project.
var Dirs = []string{"addons", "conf", "data"}

// Manager creates projects from compiled manifests.
type Manager struct {
	compiler *manifest.Compiler
	log      logr.Logger
}

func NewManager(compiler *manifest.Compiler, log logr.Logger) *Manager {
	return &Manager{compiler: compiler, log: log}
}

// Init creates the project directory with its odoo.conf and manifest. Nothing
// is written when compilation fails.
func (m *Manager) Init(req manifest.ProjectRequest) (*workspace.Context, error) {
	compiled, err := m.compiler.CompileProject(req)
	if err != nil {
		return nil, err
	}

	var rendered bytes.Buffer
	if err := manifest.Render(&rendered, compiled.Documents); err != nil {
		return nil, err
	}

	dir := m.compiler.ProjectDir(req.Name)
	for _, d := range Dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return nil, fmt.Errorf("create project directory: %w", err)
		}
	}
	if err := os.MkdirAll(m.compiler.BackupsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backups directory: %w", err)
	}

	conf := filepath.Join(dir, "conf", "odoo.conf")
	if err := os.WriteFile(conf, []byte(compiled.Config.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", conf, err)
	}
	manifestPath := m.compiler.ManifestPath(req.Name)
	if err := os.WriteFile(manifestPath, rendered.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", manifestPath, err)
	}

	m.log.Info("project created", "project", req.Name, "edition", req.Edition, "version", req.Version, "path", dir)
	return workspace.Resolve(dir)
}

// ReadConfig parses the odoo.conf of a project.
func ReadConfig(ctx *workspace.Context) (manifest.OdooConfig, error) {
	f, err := os.Open(ctx.ConfPath())
	if err != nil {
		return nil, fmt.Errorf("open odoo.conf: %w", err)
	}
	defer f.Close()
	return manifest.ParseOdooConfig(f)
}

// Database returns the db_name of a project.
func Database(ctx *workspace.Context) (string, error) {
	cfg, err := ReadConfig(ctx)
	if err != nil {
		return "", err
	}
	db, ok := cfg.Get("db_name")
	if !ok || db == "" {
		return "", fmt.Errorf("%s has no db_name", ctx.ConfPath())
	}
	return db, nil
}
