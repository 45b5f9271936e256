// Package model holds the plain data types shared across the loader:
// repository identity, commit records, and parsed plugin manifests.
package model

import (
	"fmt"

	"github.com/usergeteam/loader/internal/manifest"
)

// Plugin is one materialization candidate discovered on disk: a
// filesystem path under a repo's plugins/<category>/<name>/ tree,
// paired with its parsed manifest and source repo identity.
type Plugin struct {
	Path     string
	Category string
	Name     string
	Manifest manifest.Manifest
	RepoName string
	RepoURL  string
}

// CoreRepoID is the reserved identity of the core repository.
const CoreRepoID = -1

// RepoInfo is the persisted identity and derived state of one git
// working copy, either the core repo (ID == CoreRepoID) or a plugin
// repo.
type RepoInfo struct {
	ID       int
	Priority int
	Branch   string
	// Version is a 40-hex commit id, or empty meaning "head of branch".
	Version  string
	URL      string
	Count    int
	MaxCount int
	Branches map[string]struct{}

	Failed    bool
	ErrCode   int
	ErrStderr string
}

// NewRepoInfo builds a RepoInfo with an initialized branch set.
func NewRepoInfo(id, priority int, branch, version, url string) *RepoInfo {
	return &RepoInfo{
		ID:       id,
		Priority: priority,
		Branch:   branch,
		Version:  version,
		URL:      url,
		Branches: make(map[string]struct{}),
	}
}

// Safe returns a copy of r with any embedded access token stripped
// from URL, the only shape that may cross the RPC boundary. redact is
// injected to avoid an import cycle with internal/repo.
func (r *RepoInfo) Safe(redact func(string) string) *RepoInfo {
	cp := *r
	cp.URL = redact(r.URL)
	return &cp
}

func (r *RepoInfo) String() string {
	return fmt.Sprintf("RepoInfo{id=%d, priority=%d, branch=%s, count=%d, url=%s}",
		r.ID, r.Priority, r.Branch, r.Count, r.URL)
}

// Update is one commit record surfaced to the child via the RPC layer.
type Update struct {
	Summary string
	Author  string
	Version string
	Count   int
	URL     string
}
