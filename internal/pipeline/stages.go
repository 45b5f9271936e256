package pipeline

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/usergeteam/loader/internal/errs"
	"github.com/usergeteam/loader/internal/log"
	"github.com/usergeteam/loader/internal/manifest"
	"github.com/usergeteam/loader/internal/model"
	"github.com/usergeteam/loader/internal/repo"
	"github.com/usergeteam/loader/internal/requirements"
)

var lg = log.Named("pipeline")

// LoadStore populates the pipeline's in-memory snapshots from the
// Store.
func (p *Pipeline) LoadStore(ctx context.Context) error {
	core, repos, removed, constraints, err := p.Store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}

	branch := core.Branch
	if branch == "" {
		branch = p.CoreBranch
	}
	p.Core = repo.New(model.NewRepoInfo(model.CoreRepoID, -1, branch, core.Version, p.CoreURL), "")

	p.Removed = make(map[string]struct{}, len(removed))
	for _, r := range removed {
		p.Removed[r.Name] = struct{}{}
	}

	p.Constraints = newEngineFromDocs(constraints)

	sort.Slice(repos, func(i, j int) bool { return repos[i].Priority < repos[j].Priority })
	p.Repos = make([]*repo.Handle, 0, len(repos))
	for _, rd := range repos {
		info := model.NewRepoInfo(rd.ID, rd.Priority, rd.Branch, rd.Version, rd.URL)
		path := repo.DerivePath(p.CacheDir, "repos", rd.URL)
		p.Repos = append(p.Repos, repo.New(info, path))
	}

	return nil
}

// FetchCore runs init+fetch on the core repo.
func (p *Pipeline) FetchCore(context.Context) error {
	corePath := repo.DerivePath(p.CacheDir, "core", p.Core.Info.URL)
	p.Core.Path = corePath
	p.Core.Init()
	if p.Core.Failed() {
		return nil
	}
	if dirty := p.Core.Fetch(); dirty {
		_ = p.Store.UpsertCore(context.Background(), coreDocFrom(p.Core.Info))
	}
	return nil
}

// InitCore materializes the core source tree if the core sentinel is
// stale.
func (p *Pipeline) InitCore(ctx context.Context) error {
	if p.Sentinel.CoreExists() {
		return nil
	}
	if p.Core.Failed() {
		lg.Errorw("core unavailable", "code", p.Core.Info.ErrCode, "stderr", p.Core.Info.ErrStderr)
		return fmt.Errorf("%w: %s", errs.ErrCoreUnavailable, p.Core.Info.ErrStderr)
	}

	p.Core.CheckoutVersion()

	if specs := readRequirementsFile(joinPath(p.Core.Path, "requirements.txt")); len(specs) > 0 {
		for _, s := range specs {
			p.PendingInstall[s] = struct{}{}
		}
	}

	_ = os.RemoveAll(p.ChildDir)
	_ = copyDir(joinPath(p.Core.Path, "userge"), p.ChildDir)

	p.Core.CheckoutBranch()

	if err := p.Sentinel.ReposRemove(); err != nil {
		lg.Errorw("repos_remove failed", "err", err)
	}
	if err := p.Sentinel.CoreMake(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// FetchRepos runs init+fetch on each plugin repo; per-repo failures
// are logged, never fatal.
func (p *Pipeline) FetchRepos(context.Context) {
	for _, h := range p.Repos {
		h.Init()
		if h.Failed() {
			lg.Errorw("repo unavailable", "url", repo.SafeURL(h.Info.URL), "stderr", h.Info.ErrStderr)
			continue
		}
		if dirty := h.Fetch(); dirty {
			_ = p.Store.DeleteRepoByURL(context.Background(), h.Info.URL)
			_ = p.Store.InsertRepo(context.Background(), repoDocFrom(h.Info))
		}
	}
}

// InitRepos selects, resolves, and materializes plugins if the repos
// sentinel is stale.
func (p *Pipeline) InitRepos(context.Context) error {
	if len(p.Repos) == 0 || p.Sentinel.ReposExists() {
		return nil
	}

	builtins := p.scanBuiltins()

	p.Selection = make(map[string]model.Plugin)
	for _, h := range p.Repos {
		if h.Failed() {
			continue
		}
		h.CheckoutVersion()
		for _, plugin := range p.scanPlugins(h) {
			reason, ok := p.eligible(plugin)
			if !ok {
				lg.Infow("plugin ineligible", "plugin", plugin.Category+"/"+plugin.Name, "reason", reason)
				continue
			}
			if prev, exists := p.Selection[plugin.Name]; exists {
				lg.Infow("plugin overridden", "plugin", plugin.Name, "by_repo", plugin.RepoName, "was_repo", prev.RepoName)
			}
			p.Selection[plugin.Name] = plugin
		}
	}

	for name := range builtins {
		delete(p.Selection, name)
	}

	p.closeDependencies()

	specs := p.collectPackageSpecs()
	conflicts := requirements.Conflicts(specs)
	if len(conflicts) > 0 {
		p.dropConflicting(conflicts)
		p.closeDependencies()
		specs = p.collectPackageSpecs()
	}

	for s := range specs {
		p.PendingInstall[s] = struct{}{}
	}

	if err := p.wipeNonBuiltinCategories(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	for _, plugin := range p.Selection {
		dest := joinPath(p.ChildDir, "plugins", plugin.Category, plugin.Name)
		if err := copyDir(plugin.Path, dest); err != nil {
			lg.Errorw("materialize failed", "plugin", plugin.Name, "err", err)
		}
	}

	for _, h := range p.Repos {
		h.CheckoutBranch()
	}
	if err := p.Sentinel.ReposMake(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// InstallRequirements shells out to the package installer with the
// accumulated specifier set.
func (p *Pipeline) InstallRequirements(context.Context) error {
	for _, s := range p.ExtraPackages {
		p.PendingInstall[s] = struct{}{}
	}
	if len(p.PendingInstall) == 0 {
		return nil
	}

	specs := make([]string, 0, len(p.PendingInstall))
	for s := range p.PendingInstall {
		specs = append(specs, s)
	}
	sort.Strings(specs)

	if err := p.Runner("pip", "install", "--upgrade", "pip"); err != nil {
		lg.Errorw("pip self-upgrade failed", "err", err)
	}
	args := append([]string{"install"}, specs...)
	if err := p.Runner("pip", args...); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDependencyInstallFailed, err)
	}
	return nil
}

// eligible applies the plugin predicate chain, first failure wins.
func (p *Pipeline) eligible(plugin model.Plugin) (reason string, ok bool) {
	m := plugin.Manifest
	if !m.IsAvailable() {
		return "unavailable", false
	}
	if _, removed := p.Removed[plugin.Name]; removed {
		return "removed", false
	}
	if m.MinCore != nil && p.Core.Info.Count < *m.MinCore {
		return "min_core", false
	}
	if m.MaxCore != nil && p.Core.Info.Count > *m.MaxCore {
		return "max_core", false
	}
	if m.ClientType != "" && m.ClientType != p.ClientType {
		return "client_type", false
	}
	for name := range m.Envs {
		if os.Getenv(strings.ToUpper(name)) == "" {
			return "envs:" + name, false
		}
	}
	for bin := range m.Bins {
		if _, err := lookPath(bin); err != nil {
			return "bins:" + bin, false
		}
	}
	if d := p.Constraints.Evaluate(strings.ToLower(plugin.RepoName), strings.ToLower(plugin.Category), strings.ToLower(plugin.Name)); d.Ruled && !d.Keep {
		return "constraint:" + d.Reason.Raw, false
	}
	return "", true
}

// closeDependencies repeatedly drops any selected plugin whose
// depends are not all present, until a pass removes nothing.
func (p *Pipeline) closeDependencies() {
	for {
		removedAny := false
		for name, plugin := range p.Selection {
			for dep := range plugin.Manifest.Depends {
				if _, ok := p.Selection[dep]; !ok {
					delete(p.Selection, name)
					removedAny = true
					break
				}
			}
		}
		if !removedAny {
			return
		}
	}
}

func (p *Pipeline) collectPackageSpecs() map[string]struct{} {
	out := make(map[string]struct{})
	for _, plugin := range p.Selection {
		for spec := range plugin.Manifest.Packages {
			out[spec] = struct{}{}
		}
	}
	return out
}

func (p *Pipeline) dropConflicting(conflicts map[string]struct{}) {
	for name, plugin := range p.Selection {
		for spec := range plugin.Manifest.Packages {
			if _, bad := conflicts[spec]; bad {
				lg.Infow("plugin conflict", "plugin", name, "spec", spec)
				delete(p.Selection, name)
				break
			}
		}
	}
}

func (p *Pipeline) scanBuiltins() map[string]struct{} {
	out := make(map[string]struct{})
	root := joinPath(p.Core.Path, "userge", "plugins", builtinCategory)
	entries, err := os.ReadDir(root)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), "_") {
			out[e.Name()] = struct{}{}
		}
	}
	return out
}

func (p *Pipeline) scanPlugins(h *repo.Handle) []model.Plugin {
	var out []model.Plugin
	root := joinPath(h.Path, "plugins")
	cats, err := os.ReadDir(root)
	if err != nil {
		return out
	}
	for _, cat := range cats {
		if !cat.IsDir() || strings.HasPrefix(cat.Name(), "_") || cat.Name() == builtinCategory {
			continue
		}
		catDir := joinPath(root, cat.Name())
		names, err := os.ReadDir(catDir)
		if err != nil {
			continue
		}
		for _, n := range names {
			if !n.IsDir() || strings.HasPrefix(n.Name(), "_") {
				continue
			}
			path := joinPath(catDir, n.Name())
			m := manifest.Load(joinPath(path, "config.ini"))
			out = append(out, model.Plugin{
				Path:     path,
				Category: cat.Name(),
				Name:     n.Name(),
				Manifest: m,
				RepoName: repoName(h.Info.URL),
				RepoURL:  h.Info.URL,
			})
		}
	}
	return out
}

func (p *Pipeline) wipeNonBuiltinCategories() error {
	root := joinPath(p.ChildDir, "plugins")
	cats, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, cat := range cats {
		if cat.Name() == builtinCategory {
			continue
		}
		if err := os.RemoveAll(joinPath(root, cat.Name())); err != nil {
			return err
		}
	}
	return nil
}
