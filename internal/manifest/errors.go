package manifest

import "fmt"

// MissingSourceError means a version, or one of its trees, is not in the repository store.
type MissingSourceError struct {
	Version   string
	Component string
	Path      string
}

func (e *MissingSourceError) Error() string {
	if e.Component == "" {
		return fmt.Sprintf("version %s not found at %s, run 'oda repo branch clone %s' first", e.Version, e.Path, e.Version)
	}
	return fmt.Sprintf("%s %s not found at %s, run 'oda repo branch clone %s' first", e.Component, e.Version, e.Path, e.Version)
}

// DuplicateProjectError means a project manifest already exists at Path.
type DuplicateProjectError struct {
	Path string
}

func (e *DuplicateProjectError) Error() string {
	return fmt.Sprintf("project manifest %s already exists", e.Path)
}
