// Package repostore keeps local mirrors of the upstream Odoo repositories and
// per-version working copies derived from them:
//
//	{root}/odoo              community mirror
//	{root}/enterprise        enterprise mirror
//	{root}/{version}/odoo    copy of the community mirror checked out at {version}
//	{root}/{version}/enterprise
//
// Mirrors are cloned once from the network. Version copies are filesystem
// copies of a mirror, so creating a new version never downloads history again.
package repostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/ppreeper/oda/internal/gitrepo"
)

// Project names one upstream repository.
type Project string

const (
	Odoo       Project = "odoo"
	Enterprise Project = "enterprise"
)

// Projects is the default set of managed repositories, in processing order.
var Projects = []Project{Odoo, Enterprise}

// DefaultUpstream hosts the upstream repositories.
const DefaultUpstream = "https://github.com/odoo"

const incompleteSuffix = ".incomplete"

// URL returns the location of the project under upstream.
func (p Project) URL(upstream string) string {
	return strings.TrimSuffix(upstream, "/") + "/" + string(p)
}

func (p Project) String() string { return string(p) }

// Git is the subset of git porcelain the store relies on.
type Git interface {
	Clone(ctx context.Context, url, path string) error
	Remotes(path string) ([]string, error)
	Fetch(ctx context.Context, path, remote string) error
	RemoteHead(path, remote string) (string, error)
	Checkout(path, ref string) error
	Pull(ctx context.Context, path string) error
}

// Tree is a snapshot of what exists under the store root. Incomplete maps
// the path of every version copy left half initialized to its marker.
type Tree struct {
	Root       string
	Mirrors    map[Project]string
	Versions   map[string]string
	Incomplete map[string]string
}

// CheckComplete reports an IncompleteTreeError when path was not fully cloned.
func (t *Tree) CheckComplete(path string) error {
	marker, ok := t.Incomplete[path]
	if !ok {
		return nil
	}
	return &IncompleteTreeError{Path: path, Marker: marker, Reason: "an earlier clone did not finish"}
}

// Store manages the repository tree rooted at Root.
type Store struct {
	Root     string
	git      Git
	log      logr.Logger
	projects []Project
	upstream string
	progress io.Writer
}

// Option configures a Store.
type Option func(*Store)

// WithProjects restricts the store to the given projects.
func WithProjects(projects ...Project) Option {
	return func(s *Store) { s.projects = projects }
}

// WithUpstream clones the mirrors from {upstream}/{project}.
func WithUpstream(upstream string) Option {
	return func(s *Store) {
		if upstream != "" {
			s.upstream = upstream
		}
	}
}

// WithProgress sets where copy progress is drawn.
func WithProgress(w io.Writer) Option {
	return func(s *Store) { s.progress = w }
}

// New returns a store rooted at root.
func New(root string, git Git, log logr.Logger, opts ...Option) *Store {
	s := &Store{
		Root:     root,
		git:      git,
		log:      log,
		projects: Projects,
		upstream: DefaultUpstream,
		progress: io.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MirrorPath returns where the mirror of p lives.
func (s *Store) MirrorPath(p Project) string {
	return filepath.Join(s.Root, string(p))
}

// VersionPath returns where the copy of p for version lives.
func (s *Store) VersionPath(version string, p Project) string {
	return filepath.Join(s.Root, version, string(p))
}

func (s *Store) mirrorLock(p Project) string {
	return filepath.Join(s.Root, "."+string(p)+".lock")
}

func (s *Store) versionLock(version string) string {
	return filepath.Join(s.Root, version, ".lock")
}

func (s *Store) incompleteMarker(version string, p Project) string {
	return filepath.Join(s.Root, version, "."+string(p)+incompleteSuffix)
}

// checkMarker fails when the copy of p for version was interrupted. A marker
// whose tree has been removed is stale and is cleared. Callers hold the
// version lock.
func (s *Store) checkMarker(version string, p Project) error {
	dest := s.VersionPath(version, p)
	marker := s.incompleteMarker(version, p)
	if !exists(marker) {
		return nil
	}
	if exists(dest) {
		return &IncompleteTreeError{Path: dest, Marker: marker, Reason: "an earlier clone did not finish"}
	}
	s.log.Info("removing stale marker", "project", p, "version", version, "marker", marker)
	if err := os.Remove(marker); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale marker %s: %w", marker, err)
	}
	return nil
}

// CloneBase clones every missing mirror. Existing mirrors are left untouched.
func (s *Store) CloneBase(ctx context.Context) error {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return fmt.Errorf("create repository root: %w", err)
	}

	for _, p := range s.projects {
		dest := s.MirrorPath(p)
		err := withLock(ctx, s.mirrorLock(p), false, func() error {
			if isRepo(dest) {
				s.log.V(1).Info("mirror already cloned", "project", p, "path", dest)
				return nil
			}
			if exists(dest) {
				return &IncompleteTreeError{Path: dest, Reason: "directory exists without a .git directory"}
			}
			url := p.URL(s.upstream)
			s.log.Info("cloning mirror", "project", p, "url", url, "path", dest)
			if err := s.git.Clone(ctx, url, dest); err != nil {
				return fmt.Errorf("clone %s: %w", p, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateBase fetches every remote of each mirror and fast-forwards it to the
// branch the upstream origin/HEAD points at.
func (s *Store) UpdateBase(ctx context.Context) error {
	for _, p := range s.projects {
		dest := s.MirrorPath(p)
		err := withLock(ctx, s.mirrorLock(p), false, func() error {
			if !isRepo(dest) {
				return &MirrorNotClonedError{Project: p, Path: dest}
			}
			return s.update(ctx, p, dest)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) update(ctx context.Context, p Project, dest string) error {
	remotes, err := s.git.Remotes(dest)
	if err != nil {
		return fmt.Errorf("list remotes of %s: %w", dest, err)
	}
	for _, remote := range remotes {
		s.log.Info("fetching", "project", p, "remote", remote)
		if err := s.git.Fetch(ctx, dest, remote); err != nil {
			return fmt.Errorf("fetch %s of %s: %w", remote, p, err)
		}
	}

	branch, err := s.git.RemoteHead(dest, gitrepo.DefaultRemote)
	if err != nil {
		if errors.Is(err, gitrepo.ErrNoRemoteHead) {
			return &DetachedUpstreamError{Project: p, Path: dest, Err: err}
		}
		return fmt.Errorf("resolve origin/HEAD of %s: %w", p, err)
	}

	s.log.Info("updating mirror", "project", p, "branch", branch)
	if err := s.git.Checkout(dest, branch); err != nil {
		return fmt.Errorf("checkout %s in %s: %w", branch, p, err)
	}
	if err := s.git.Pull(ctx, dest); err != nil {
		return fmt.Errorf("pull %s: %w", p, err)
	}
	return nil
}

// CloneVersion creates {root}/{version}/{project} for every project that does
// not have one yet by copying its mirror and checking out version.
func (s *Store) CloneVersion(ctx context.Context, version string) error {
	if err := validateVersion(version); err != nil {
		return err
	}

	// every mirror must be present before anything is copied
	for _, p := range s.projects {
		if exists(s.VersionPath(version, p)) {
			if exists(s.incompleteMarker(version, p)) {
				return &IncompleteTreeError{
					Path:   s.VersionPath(version, p),
					Marker: s.incompleteMarker(version, p),
					Reason: "an earlier clone did not finish",
				}
			}
			continue
		}
		if !isRepo(s.MirrorPath(p)) {
			return &MirrorNotClonedError{Project: p, Path: s.MirrorPath(p)}
		}
	}

	if err := os.MkdirAll(filepath.Join(s.Root, version), 0o755); err != nil {
		return fmt.Errorf("create version directory: %w", err)
	}

	return withLock(ctx, s.versionLock(version), false, func() error {
		for _, p := range s.projects {
			if err := s.cloneVersion(ctx, version, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) cloneVersion(ctx context.Context, version string, p Project) error {
	dest := s.VersionPath(version, p)
	marker := s.incompleteMarker(version, p)

	if err := s.checkMarker(version, p); err != nil {
		return err
	}
	if exists(dest) {
		s.log.V(1).Info("version already cloned", "project", p, "version", version)
		return nil
	}

	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return fmt.Errorf("mark %s: %w", dest, err)
	}

	s.log.Info("copying mirror", "project", p, "version", version, "path", dest)
	err := withLock(ctx, s.mirrorLock(p), true, func() error {
		return copyTree(s.MirrorPath(p), dest, s.progress, fmt.Sprintf("%s %s", p, version))
	})
	if err != nil {
		return err
	}

	if err := s.git.Checkout(dest, version); err != nil {
		return fmt.Errorf("checkout %s in %s: %w", version, dest, err)
	}
	if err := s.git.Pull(ctx, dest); err != nil {
		return fmt.Errorf("pull %s: %w", dest, err)
	}

	if err := os.Remove(marker); err != nil {
		return fmt.Errorf("clear marker for %s: %w", dest, err)
	}
	return nil
}

// UpdateVersion fetches and fast-forwards the copies for version. The mirrors
// are not touched.
func (s *Store) UpdateVersion(ctx context.Context, version string) error {
	if err := validateVersion(version); err != nil {
		return err
	}
	for _, p := range s.projects {
		dest := s.VersionPath(version, p)
		if !exists(dest) {
			return &BranchNotClonedError{Version: version, Project: p, Path: dest}
		}
	}

	return withLock(ctx, s.versionLock(version), false, func() error {
		for _, p := range s.projects {
			dest := s.VersionPath(version, p)
			if err := s.checkMarker(version, p); err != nil {
				return err
			}
			s.log.Info("updating version", "project", p, "version", version)
			if err := s.git.Fetch(ctx, dest, gitrepo.DefaultRemote); err != nil {
				return fmt.Errorf("fetch %s: %w", dest, err)
			}
			if err := s.git.Checkout(dest, version); err != nil {
				return fmt.Errorf("checkout %s in %s: %w", version, dest, err)
			}
			if err := s.git.Pull(ctx, dest); err != nil {
				return fmt.Errorf("pull %s: %w", dest, err)
			}
		}
		return nil
	})
}

// Versions lists the version directories under the root, sorted.
func (s *Store) Versions() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read repository root: %w", err)
	}

	var versions []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || s.isMirror(name) {
			continue
		}
		versions = append(versions, name)
	}
	sort.Strings(versions)
	return versions, nil
}

// Tree returns a snapshot of the mirrors and version directories present.
func (s *Store) Tree() (*Tree, error) {
	t := &Tree{
		Root:       s.Root,
		Mirrors:    map[Project]string{},
		Versions:   map[string]string{},
		Incomplete: map[string]string{},
	}
	for _, p := range s.projects {
		if isRepo(s.MirrorPath(p)) {
			t.Mirrors[p] = s.MirrorPath(p)
		}
	}
	versions, err := s.Versions()
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		dir := filepath.Join(s.Root, v)
		t.Versions[v] = dir

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read version directory %s: %w", dir, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, incompleteSuffix) {
				continue
			}
			tree := strings.TrimSuffix(strings.TrimPrefix(name, "."), incompleteSuffix)
			t.Incomplete[filepath.Join(dir, tree)] = filepath.Join(dir, name)
		}
	}
	return t, nil
}

func (s *Store) isMirror(name string) bool {
	for _, p := range Projects {
		if string(p) == name {
			return true
		}
	}
	for _, p := range s.projects {
		if string(p) == name {
			return true
		}
	}
	return false
}

func validateVersion(version string) error {
	if version == "" || strings.HasPrefix(version, ".") || strings.ContainsAny(version, `/\`) {
		return fmt.Errorf("invalid version %q", version)
	}
	for _, p := range Projects {
		if version == string(p) {
			return fmt.Errorf("invalid version %q: reserved for the %s mirror", version, p)
		}
	}
	return nil
}

func isRepo(path string) bool {
	return exists(filepath.Join(path, ".git"))
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
