package repostore

import "fmt"

// DetachedUpstreamError means the mirror's origin/HEAD could not be resolved to a branch.
type DetachedUpstreamError struct {
	Project Project
	Path    string
	Err     error
}

func (e *DetachedUpstreamError) Error() string {
	return fmt.Sprintf("%s mirror at %s: cannot resolve origin/HEAD to a branch: %v", e.Project, e.Path, e.Err)
}

func (e *DetachedUpstreamError) Unwrap() error { return e.Err }

// MirrorNotClonedError means a version copy was requested before its mirror exists.
type MirrorNotClonedError struct {
	Project Project
	Path    string
}

func (e *MirrorNotClonedError) Error() string {
	return fmt.Sprintf("%s mirror not found at %s, run 'oda repo base clone' first", e.Project, e.Path)
}

// BranchNotClonedError means a version copy is updated before it was created.
type BranchNotClonedError struct {
	Version string
	Project Project
	Path    string
}

func (e *BranchNotClonedError) Error() string {
	return fmt.Sprintf("%s %s not found at %s, run 'oda repo branch clone %s' first", e.Project, e.Version, e.Path, e.Version)
}

// IncompleteTreeError means an earlier operation left a tree half initialized.
// The tree is kept on disk for the operator to inspect or remove. Marker is
// the hidden file recording the interruption, empty when there is none.
type IncompleteTreeError struct {
	Path   string
	Marker string
	Reason string
}

func (e *IncompleteTreeError) Error() string {
	if e.Marker == "" {
		return fmt.Sprintf("%s is incomplete (%s), remove it and run the command again", e.Path, e.Reason)
	}
	return fmt.Sprintf("%s is incomplete (%s), remove it and %s and run the command again", e.Path, e.Reason, e.Marker)
}
