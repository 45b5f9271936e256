// Package repo manages one git working copy per handle: init/clone,
// fetch, branch tracking, pinned-version checkout, and commit walks.
package repo

import (
	"errors"
	"os"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	gogithttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/usergeteam/loader/internal/model"
)

// Handle is one git working copy on disk, tracking the branch/version
// pin recorded in model.RepoInfo. A failed handle is inert: every
// method becomes a no-op.
type Handle struct {
	Info *model.RepoInfo
	Path string
	repo *gogit.Repository
}

// New builds a handle for the working copy at path, backed by info.
func New(info *model.RepoInfo, path string) *Handle {
	return &Handle{Info: info, Path: path}
}

// Init opens path if it already holds a valid repo; otherwise it wipes
// path and clones fresh. A clone failure records (status, stderr) on
// Info and marks the handle failed.
func (h *Handle) Init() {
	if r, err := gogit.PlainOpen(h.Path); err == nil {
		h.repo = r
		return
	}

	_ = os.RemoveAll(h.Path)

	r, err := gogit.PlainClone(h.Path, false, &gogit.CloneOptions{
		URL:  h.Info.URL,
		Auth: authFor(h.Info.URL),
	})
	if err != nil {
		h.fail(1, err.Error())
		return
	}
	h.repo = r
}

// Failed reports whether this handle is unusable: never opened, or
// marked failed by a clone or fetch error.
func (h *Handle) Failed() bool { return h.repo == nil }

func (h *Handle) fail(code int, stderr string) {
	h.repo = nil
	h.Info.Failed = true
	h.Info.ErrCode = code
	h.Info.ErrStderr = stderr
}

// Fetch runs the fetch/branch-discovery/checkout/pin sequence. A
// remote fetch error marks the handle failed; other anomalies
// (missing configured branch, unresolved pin) are corrected silently
// and flagged dirty for the caller to persist.
func (h *Handle) Fetch() (dirty bool) {
	if h.Failed() {
		return false
	}

	err := h.repo.Fetch(&gogit.FetchOptions{
		RemoteName: "origin",
		Auth:       authFor(h.Info.URL),
		Tags:       gogit.AllTags,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		h.fail(2, err.Error())
		return false
	}

	remoteHeads, err := h.remoteBranches()
	if err != nil {
		h.fail(2, err.Error())
		return false
	}

	for _, name := range remoteHeads {
		h.Info.Branches[name] = struct{}{}
		localRef := plumbing.NewBranchReferenceName(name)
		if _, err := h.repo.Reference(localRef, false); err == nil {
			continue
		}
		remoteRef := plumbing.NewRemoteReferenceName("origin", name)
		ref, err := h.repo.Reference(remoteRef, true)
		if err != nil {
			continue
		}
		_ = h.repo.Storer.SetReference(plumbing.NewHashReference(localRef, ref.Hash()))
	}

	if _, ok := h.Info.Branches[h.Info.Branch]; !ok {
		if len(remoteHeads) > 0 {
			h.Info.Branch = remoteHeads[0]
			dirty = true
		}
	}

	if err := h.forceCheckout(h.Info.Branch); err != nil {
		h.fail(2, err.Error())
		return false
	}
	if err := h.forcePull(); err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		h.fail(2, err.Error())
		return false
	}

	headHash, err := h.branchHeadHash(h.Info.Branch)
	if err != nil {
		h.fail(2, err.Error())
		return false
	}

	if h.Info.Version == "" || !h.VersionExists(h.Info.Version) {
		h.Info.Version = headHash.String()
		dirty = true
	}

	count, err := h.distanceFromRoot(h.Info.Version)
	if err == nil {
		h.Info.Count = count
	}
	maxCount, err := h.distanceFromRoot(headHash.String())
	if err == nil {
		h.Info.MaxCount = maxCount
	}

	return dirty
}

func (h *Handle) remoteBranches() ([]string, error) {
	refs, err := h.repo.References()
	if err != nil {
		return nil, err
	}
	var heads []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Name().IsRemote() && strings.HasPrefix(ref.Name().Short(), "origin/") {
			name := strings.TrimPrefix(ref.Name().Short(), "origin/")
			if name != "HEAD" {
				heads = append(heads, name)
			}
		}
		return nil
	})
	sort.Strings(heads)
	return heads, err
}

func (h *Handle) forceCheckout(ref string) error {
	w, err := h.repo.Worktree()
	if err != nil {
		return err
	}
	return w.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(ref),
		Force:  true,
	})
}

func (h *Handle) forcePull() error {
	w, err := h.repo.Worktree()
	if err != nil {
		return err
	}
	return w.Pull(&gogit.PullOptions{
		RemoteName: "origin",
		Auth:       authFor(h.Info.URL),
		Force:      true,
	})
}

func (h *Handle) branchHeadHash(branch string) (plumbing.Hash, error) {
	ref, err := h.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return ref.Hash(), nil
}

// distanceFromRoot counts commits reachable from ref, the repo's
// monotonically increasing version number.
func (h *Handle) distanceFromRoot(ref string) (int, error) {
	hash := plumbing.NewHash(ref)
	commitIter, err := h.repo.Log(&gogit.LogOptions{From: hash})
	if err != nil {
		return 0, err
	}
	n := 0
	err = commitIter.ForEach(func(*object.Commit) error {
		n++
		return nil
	})
	return n, err
}

// CheckoutVersion force-checks-out the pinned version commit.
func (h *Handle) CheckoutVersion() {
	if h.Failed() || h.Info.Version == "" {
		return
	}
	w, err := h.repo.Worktree()
	if err != nil {
		return
	}
	_ = w.Checkout(&gogit.CheckoutOptions{
		Hash:  plumbing.NewHash(h.Info.Version),
		Force: true,
	})
}

// CheckoutBranch force-checks-out the tracked branch, restoring head
// after a pinned-version checkout.
func (h *Handle) CheckoutBranch() {
	if h.Failed() {
		return
	}
	_ = h.forceCheckout(h.Info.Branch)
}

// BranchExists reports whether name is a known local branch.
func (h *Handle) BranchExists(name string) bool {
	if h.Failed() {
		return false
	}
	_, ok := h.Info.Branches[name]
	return ok
}

// VersionExists reports whether ref resolves to a commit in this repo.
func (h *Handle) VersionExists(ref string) bool {
	if h.Failed() || ref == "" {
		return false
	}
	_, err := h.repo.CommitObject(plumbing.NewHash(ref))
	return err == nil
}

// NewCommits walks the tracked branch newest-to-oldest until the
// pinned version is reached, returning that prefix. If the pinned
// version is never reached, it returns empty.
func (h *Handle) NewCommits() []model.Update {
	if h.Failed() {
		return nil
	}
	ref, err := h.repo.Reference(plumbing.NewBranchReferenceName(h.Info.Branch), true)
	if err != nil {
		return nil
	}
	iter, err := h.repo.Log(&gogit.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil
	}

	var out []model.Update
	reached := false
	_ = iter.ForEach(func(c *object.Commit) error {
		if reached {
			return nil
		}
		if c.Hash.String() == h.Info.Version {
			reached = true
			return nil
		}
		out = append(out, h.toUpdate(c))
		return nil
	})
	if !reached {
		return nil
	}
	return out
}

// OldCommits walks the tracked branch newest-to-oldest, skips commits
// until the pinned version is seen, then returns up to limit commits
// after it.
func (h *Handle) OldCommits(limit int) []model.Update {
	if h.Failed() || limit <= 0 {
		return nil
	}
	ref, err := h.repo.Reference(plumbing.NewBranchReferenceName(h.Info.Branch), true)
	if err != nil {
		return nil
	}
	iter, err := h.repo.Log(&gogit.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil
	}

	var out []model.Update
	seenPin := false
	_ = iter.ForEach(func(c *object.Commit) error {
		if len(out) >= limit {
			return nil
		}
		if !seenPin {
			if c.Hash.String() == h.Info.Version {
				seenPin = true
			}
			return nil
		}
		out = append(out, h.toUpdate(c))
		return nil
	})
	return out
}

func (h *Handle) toUpdate(c *object.Commit) model.Update {
	subject := c.Message
	if nl := strings.IndexByte(subject, '\n'); nl >= 0 {
		subject = subject[:nl]
	}
	count, _ := h.distanceFromRoot(c.Hash.String())
	return model.Update{
		Summary: subject,
		Author:  c.Author.Name,
		Version: c.Hash.String(),
		Count:   count,
		URL:     SafeURL(h.Info.URL) + "/commit/" + c.Hash.String(),
	}
}

// Delete removes the working tree from disk.
func (h *Handle) Delete() error {
	return os.RemoveAll(h.Path)
}

func authFor(url string) *gogithttp.BasicAuth {
	if !strings.Contains(url, "ghp_") {
		return nil
	}
	start := strings.Index(url, "ghp_")
	rest := url[start:]
	end := strings.IndexByte(rest, '@')
	if end < 0 {
		return nil
	}
	return &gogithttp.BasicAuth{Username: "git", Password: rest[:end]}
}
