// Package workspace resolves where oda runs: its configuration and, for
// commands acting on a project, the project the working directory belongs to.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Context identifies the project a command acts on.
type Context struct {
	Dir          string
	Project      string
	ManifestPath string
}

// NotAProjectError means Dir has no {name}.yaml project manifest.
type NotAProjectError struct {
	Dir string
}

func (e *NotAProjectError) Error() string {
	return fmt.Sprintf("%s is not a project directory (no %s.yaml found), run 'oda project init' first",
		e.Dir, filepath.Base(e.Dir))
}

// Resolve returns the project context of dir. A directory is a project when
// it contains a manifest named after itself.
func Resolve(dir string) (*Context, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	name := filepath.Base(abs)
	manifest := filepath.Join(abs, name+".yaml")

	info, err := os.Stat(manifest)
	if err != nil || info.IsDir() {
		return nil, &NotAProjectError{Dir: abs}
	}
	return &Context{Dir: abs, Project: name, ManifestPath: manifest}, nil
}

// ConfPath is the odoo.conf of the project.
func (c *Context) ConfPath() string {
	return filepath.Join(c.Dir, "conf", "odoo.conf")
}
