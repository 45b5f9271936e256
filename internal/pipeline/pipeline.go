// Package pipeline composes the store, repo, manifest, constraint,
// requirements, and sentinel packages into the six-stage
// materialization pipeline: load store, fetch core, init core, fetch
// repos, init repos, install requirements. Construction uses
// functional options so the Store, subprocess runner, and directories
// are injectable for tests.
package pipeline

import (
	"context"
	"os/exec"
	"path/filepath"
	"regexp"

	"github.com/usergeteam/loader/internal/constraint"
	"github.com/usergeteam/loader/internal/model"
	"github.com/usergeteam/loader/internal/repo"
	"github.com/usergeteam/loader/internal/sentinel"
	"github.com/usergeteam/loader/internal/store"
)

const builtinCategory = "builtin"

// Core repo defaults, overridable via CORE_REPO/CORE_BRANCH env in main.
const (
	DefaultCoreURL    = "https://github.com/UsergeTeam/Userge"
	DefaultCoreBranch = "master"
)

// URLRe is the only repo URL shape accepted from the child; an
// optional leading personal-access-token segment is allowed.
var URLRe = regexp.MustCompile(`^https://(ghp_[0-9A-Za-z]{36}@)?github\.com/[\w.-]+/[\w.-]+/?$`)

// Runner executes an external command and returns a non-nil error on
// non-zero exit, standing in for os/exec.Cmd.Run so tests can fake it.
type Runner func(name string, args ...string) error

func execRunner(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithStore injects the Store backend.
func WithStore(s store.Store) Option { return func(p *Pipeline) { p.Store = s } }

// WithCacheDir sets the RepoHandle working-copy root (default ".rcache").
func WithCacheDir(dir string) Option { return func(p *Pipeline) { p.CacheDir = dir } }

// WithChildDir sets the child source tree root.
func WithChildDir(dir string) Option { return func(p *Pipeline) { p.ChildDir = dir } }

// WithClientType sets the runtime client mode (bot/user/dual).
func WithClientType(t string) Option { return func(p *Pipeline) { p.ClientType = t } }

// WithCoreRepo overrides the core repo origin URL and fallback branch.
func WithCoreRepo(url, branch string) Option {
	return func(p *Pipeline) {
		p.CoreURL = url
		p.CoreBranch = branch
	}
}

// WithRunner injects the subprocess runner (default os/exec).
func WithRunner(r Runner) Option { return func(p *Pipeline) { p.Runner = r } }

// WithExtraPackages adds operator-configured specifiers that are
// always included in InstallRequirements.
func WithExtraPackages(specs []string) Option {
	return func(p *Pipeline) { p.ExtraPackages = specs }
}

// Pipeline holds the cross-stage state: repo handles, the removed
// set, constraint sets, the pending-install set, and the sentinel
// files, scoped to one value instead of package globals.
type Pipeline struct {
	Store         store.Store
	CacheDir      string
	ChildDir      string
	ClientType    string
	CoreURL       string
	CoreBranch    string
	Runner        Runner
	ExtraPackages []string

	Sentinel    *sentinel.Sentinel
	Core        *repo.Handle
	Repos       []*repo.Handle
	Removed     map[string]struct{}
	Constraints *constraint.Engine

	Selection      map[string]model.Plugin
	PendingInstall map[string]struct{}
}

// New builds a Pipeline with defaults, then applies opts.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		CacheDir:       ".rcache",
		ChildDir:       "userge",
		CoreURL:        DefaultCoreURL,
		CoreBranch:     DefaultCoreBranch,
		Runner:         execRunner,
		Removed:        make(map[string]struct{}),
		Constraints:    constraint.NewEngine(),
		Selection:      make(map[string]model.Plugin),
		PendingInstall: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.Sentinel = sentinel.New(p.CacheDir)
	return p
}

// Run executes all six stages in order, stopping at the first fatal
// error (CoreUnavailable, DependencyInstallFailed, StoreUnavailable).
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.LoadStore(ctx); err != nil {
		return err
	}
	if err := p.FetchCore(ctx); err != nil {
		return err
	}
	if err := p.InitCore(ctx); err != nil {
		return err
	}
	p.FetchRepos(ctx)
	if err := p.InitRepos(ctx); err != nil {
		return err
	}
	return p.InstallRequirements(ctx)
}

func joinPath(base string, parts ...string) string {
	return filepath.Join(append([]string{base}, parts...)...)
}
