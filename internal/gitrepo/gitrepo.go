// Package gitrepo implements the git porcelain the repository store needs on top of go-git.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-logr/logr"
)

const DefaultRemote = "origin"

var (
	// ErrNoRemoteHead is returned when <remote>/HEAD is missing or not a symbolic reference.
	ErrNoRemoteHead = errors.New("remote HEAD is not a symbolic reference")
	// ErrRefNotFound is returned when a ref is neither a branch nor a tag.
	ErrRefNotFound = errors.New("ref not found")
)

type Client struct {
	progress io.Writer
	log      logr.Logger
}

type Option func(*Client)

// WithProgress streams clone and fetch progress to w.
func WithProgress(w io.Writer) Option { return func(c *Client) { c.progress = w } }

func New(log logr.Logger, opts ...Option) *Client {
	c := &Client{log: log}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Clone performs a full clone of url into path and records <origin>/HEAD
// pointing at the checked out default branch.
func (c *Client) Clone(ctx context.Context, url, path string) error {
	c.log.V(1).Info("cloning", "url", url, "path", path)
	repo, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
		URL:        url,
		RemoteName: DefaultRemote,
		Tags:       git.AllTags,
		Progress:   c.progress,
	})
	if err != nil {
		return fmt.Errorf("clone %s: %w", url, err)
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("read HEAD of %s: %w", path, err)
	}
	if !head.Name().IsBranch() {
		return nil
	}
	return setRemoteHead(repo, DefaultRemote, head.Name().Short())
}

// Remotes lists the configured remote names.
func (c *Client) Remotes(path string) ([]string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	remotes, err := repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("list remotes of %s: %w", path, err)
	}
	names := make([]string, 0, len(remotes))
	for _, r := range remotes {
		names = append(names, r.Config().Name)
	}
	return names, nil
}

// Fetch fetches all branches and tags of remote and refreshes <remote>/HEAD
// from the symbolic HEAD the server advertises.
func (c *Client) Fetch(ctx context.Context, path, remote string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	r, err := repo.Remote(remote)
	if err != nil {
		return fmt.Errorf("remote %s of %s: %w", remote, path, err)
	}

	c.log.V(1).Info("fetching", "path", path, "remote", remote)
	err = r.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remote,
		Tags:       git.AllTags,
		Progress:   c.progress,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch %s in %s: %w", remote, path, err)
	}

	refs, err := r.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return fmt.Errorf("list %s refs in %s: %w", remote, path, err)
	}
	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD && ref.Type() == plumbing.SymbolicReference && ref.Target().IsBranch() {
			return setRemoteHead(repo, remote, ref.Target().Short())
		}
	}
	return nil
}

// RemoteHead returns the branch <remote>/HEAD points at.
func (c *Client) RemoteHead(path, remote string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	ref, err := repo.Reference(plumbing.NewRemoteHEADReferenceName(remote), false)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", ErrNoRemoteHead
		}
		return "", err
	}
	if ref.Type() != plumbing.SymbolicReference {
		return "", ErrNoRemoteHead
	}
	prefix := "refs/remotes/" + remote + "/"
	target := ref.Target().String()
	if !strings.HasPrefix(target, prefix) {
		return "", ErrNoRemoteHead
	}
	return strings.TrimPrefix(target, prefix), nil
}

// Checkout switches the worktree to a local branch, creating it from the
// origin branch of the same name when needed, or detaches at a tag.
func (c *Client) Checkout(path, ref string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree of %s: %w", path, err)
	}

	branch := plumbing.NewBranchReferenceName(ref)
	if _, err := repo.Reference(branch, false); err == nil {
		c.log.V(1).Info("checkout branch", "path", path, "branch", ref)
		return wrapCheckout(path, ref, wt.Checkout(&git.CheckoutOptions{Branch: branch}))
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(DefaultRemote, ref), true)
	if err == nil {
		c.log.V(1).Info("checkout tracking branch", "path", path, "branch", ref)
		if err := wt.Checkout(&git.CheckoutOptions{Branch: branch, Hash: remoteRef.Hash(), Create: true}); err != nil {
			return wrapCheckout(path, ref, err)
		}
		err = repo.CreateBranch(&config.Branch{
			Name:   ref,
			Remote: DefaultRemote,
			Merge:  branch,
		})
		if err != nil && !errors.Is(err, git.ErrBranchExists) {
			return fmt.Errorf("track %s/%s in %s: %w", DefaultRemote, ref, path, err)
		}
		return nil
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(plumbing.NewTagReferenceName(ref)))
	if err == nil {
		c.log.V(1).Info("checkout tag", "path", path, "tag", ref)
		return wrapCheckout(path, ref, wt.Checkout(&git.CheckoutOptions{Hash: *hash}))
	}

	return fmt.Errorf("checkout %s in %s: %w", ref, path, ErrRefNotFound)
}

// Pull fast-forwards the checked out branch from its upstream. A detached
// worktree (tag checkout) has nothing to pull.
func (c *Client) Pull(ctx context.Context, path string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("read HEAD of %s: %w", path, err)
	}
	if !head.Name().IsBranch() {
		c.log.V(1).Info("detached HEAD, skipping pull", "path", path)
		return nil
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree of %s: %w", path, err)
	}

	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    DefaultRemote,
		ReferenceName: head.Name(),
		SingleBranch:  true,
		Progress:      c.progress,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pull %s in %s: %w", head.Name().Short(), path, err)
	}
	return nil
}

func setRemoteHead(repo *git.Repository, remote, branch string) error {
	ref := plumbing.NewSymbolicReference(
		plumbing.NewRemoteHEADReferenceName(remote),
		plumbing.NewRemoteReferenceName(remote, branch),
	)
	if err := repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("set %s/HEAD: %w", remote, err)
	}
	return nil
}

func wrapCheckout(path, ref string, err error) error {
	if err != nil {
		return fmt.Errorf("checkout %s in %s: %w", ref, path, err)
	}
	return nil
}
