// Package tasks maps numeric job codes to handlers invoked from the
// RPC serve loop, and implements every control-plane operation the
// child can request.
package tasks

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/usergeteam/loader/internal/constraint"
	"github.com/usergeteam/loader/internal/envcheck"
	"github.com/usergeteam/loader/internal/errs"
	"github.com/usergeteam/loader/internal/model"
	"github.com/usergeteam/loader/internal/pipeline"
	"github.com/usergeteam/loader/internal/repo"
	"github.com/usergeteam/loader/internal/store"
)

// Session carries the restart-control flags, held on the Loader value
// rather than as package globals.
type Session struct {
	ShouldInit    bool
	ShouldRestart bool
}

// Context bundles everything a handler needs: the pipeline's live
// state plus the session flags. It is rebuilt, not recreated, across
// restarts — a hard restart replaces Pipeline, a soft restart does not.
type Context struct {
	Pipeline *pipeline.Pipeline
	Session  *Session
	EnvPath  string
}

// Handler takes the unpacked RPC argument tuple and returns either a
// value (possibly nil) or an error; errors travel back to the child
// as error replies, never as a dropped connection.
type Handler func(ctx *Context, args []interface{}) (interface{}, error)

var registry = map[int]Handler{}

func register(code int, h Handler) { registry[code] = h }

// Handle dispatches job to its registered handler, recovering handler
// panics into error replies and turning an unregistered code into
// errs.ErrUnknownJob.
func Handle(ctx *Context, job int, args []interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	h, ok := registry[job]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errs.ErrUnknownJob, job)
	}
	return h(ctx, args)
}

func init() {
	register(SoftRestart, handleSoftRestart)
	register(HardRestart, handleHardRestart)
	register(FetchCore, handleFetchCore)
	register(FetchRepos, handleFetchRepos)
	register(GetCore, handleGetCore)
	register(GetRepos, handleGetRepos)
	register(AddRepo, handleAddRepo)
	register(RemoveRepo, handleRemoveRepo)
	register(GetCoreNewCommits, handleGetCoreNewCommits)
	register(GetCoreOldCommits, handleGetCoreOldCommits)
	register(GetRepoNewCommits, handleGetRepoNewCommits)
	register(GetRepoOldCommits, handleGetRepoOldCommits)
	register(SetCoreBranch, handleSetCoreBranch)
	register(SetCoreVersion, handleSetCoreVersion)
	register(SetRepoBranch, handleSetRepoBranch)
	register(SetRepoVersion, handleSetRepoVersion)
	register(SetRepoPriority, handleSetRepoPriority)
	register(ConstraintsAdd, handleConstraintsAdd)
	register(ConstraintsRemove, handleConstraintsRemove)
	register(ConstraintsGet, handleConstraintsGet)
	register(ConstraintsClear, handleConstraintsClear)
	register(InvalidateReposCache, handleInvalidateReposCache)
	register(SetEnv, handleSetEnv)
	register(UnsetEnv, handleUnsetEnv)
}

func handleSoftRestart(ctx *Context, _ []interface{}) (interface{}, error) {
	ctx.Session.ShouldInit = false
	ctx.Session.ShouldRestart = true
	return nil, nil
}

func handleHardRestart(ctx *Context, _ []interface{}) (interface{}, error) {
	ctx.Session.ShouldInit = true
	ctx.Session.ShouldRestart = true
	return nil, nil
}

func handleFetchCore(ctx *Context, _ []interface{}) (interface{}, error) {
	return nil, ctx.Pipeline.FetchCore(context.Background())
}

func handleFetchRepos(ctx *Context, _ []interface{}) (interface{}, error) {
	ctx.Pipeline.FetchRepos(context.Background())
	return nil, nil
}

func handleGetCore(ctx *Context, _ []interface{}) (interface{}, error) {
	return ctx.Pipeline.Core.Info.Safe(repo.SafeURL), nil
}

func handleGetRepos(ctx *Context, _ []interface{}) (interface{}, error) {
	out := make([]*model.RepoInfo, 0, len(ctx.Pipeline.Repos))
	for _, h := range ctx.Pipeline.Repos {
		out = append(out, h.Info.Safe(repo.SafeURL))
	}
	return out, nil
}

func handleAddRepo(ctx *Context, args []interface{}) (interface{}, error) {
	priority, branch, url, err := unpackAddRepo(args)
	if err != nil {
		return nil, err
	}
	url = strings.TrimSpace(url)
	if !pipeline.URLRe.MatchString(url) {
		return nil, nil // invalid URL, silent no-op
	}
	for _, h := range ctx.Pipeline.Repos {
		if h.Info.URL == url {
			return nil, nil
		}
	}

	id := nextRepoID(ctx.Pipeline.Repos)
	info := model.NewRepoInfo(id, priority, branch, "", url)
	path := repo.DerivePath(ctx.Pipeline.CacheDir, "repos", url)
	ctx.Pipeline.Repos = append(ctx.Pipeline.Repos, repo.New(info, path))
	sort.SliceStable(ctx.Pipeline.Repos, func(i, j int) bool {
		return ctx.Pipeline.Repos[i].Info.Priority < ctx.Pipeline.Repos[j].Info.Priority
	})

	if err := ctx.Pipeline.Store.InsertRepo(context.Background(), store.RepoDoc{
		ID: id, Priority: priority, Branch: branch, URL: url,
	}); err != nil {
		return nil, err
	}
	return nil, ctx.Pipeline.Sentinel.ReposRemove()
}

func handleRemoveRepo(ctx *Context, args []interface{}) (interface{}, error) {
	id, err := unpackInt(args, 0)
	if err != nil {
		return nil, err
	}
	for i, h := range ctx.Pipeline.Repos {
		if h.Info.ID == id {
			ctx.Pipeline.Repos = append(ctx.Pipeline.Repos[:i], ctx.Pipeline.Repos[i+1:]...)
			if err := ctx.Pipeline.Store.DeleteRepoByURL(context.Background(), h.Info.URL); err != nil {
				return nil, err
			}
			_ = h.Delete()
			return nil, ctx.Pipeline.Sentinel.ReposRemove()
		}
	}
	return nil, nil
}

func handleGetCoreNewCommits(ctx *Context, _ []interface{}) (interface{}, error) {
	return ctx.Pipeline.Core.NewCommits(), nil
}

func handleGetCoreOldCommits(ctx *Context, args []interface{}) (interface{}, error) {
	limit, err := unpackInt(args, 0)
	if err != nil {
		return nil, err
	}
	return ctx.Pipeline.Core.OldCommits(limit), nil
}

func handleGetRepoNewCommits(ctx *Context, args []interface{}) (interface{}, error) {
	h, err := findRepoFromArgs(ctx, args, 0)
	if err != nil {
		return nil, err
	}
	return h.NewCommits(), nil
}

func handleGetRepoOldCommits(ctx *Context, args []interface{}) (interface{}, error) {
	h, err := findRepoFromArgs(ctx, args, 0)
	if err != nil {
		return nil, err
	}
	limit, err := unpackInt(args, 1)
	if err != nil {
		return nil, err
	}
	return h.OldCommits(limit), nil
}

func handleSetCoreBranch(ctx *Context, args []interface{}) (interface{}, error) {
	branch, err := unpackString(args, 0)
	if err != nil {
		return nil, err
	}
	core := ctx.Pipeline.Core
	if core.Info.Branch == branch || !core.BranchExists(branch) {
		return nil, nil
	}
	core.Info.Branch = branch
	core.Info.Version = ""
	if err := ctx.Pipeline.Store.UpsertCore(context.Background(), store.CoreDoc{
		Branch: branch,
	}); err != nil {
		return nil, err
	}
	return nil, ctx.Pipeline.Sentinel.CoreRemove()
}

func handleSetCoreVersion(ctx *Context, args []interface{}) (interface{}, error) {
	version, err := unpackString(args, 0)
	if err != nil {
		return nil, err
	}
	core := ctx.Pipeline.Core
	if core.Info.Version == version || !core.VersionExists(version) {
		return nil, nil
	}
	core.Info.Version = version
	if err := ctx.Pipeline.Store.UpsertCore(context.Background(), store.CoreDoc{
		Branch: core.Info.Branch, Version: version,
	}); err != nil {
		return nil, err
	}
	return nil, ctx.Pipeline.Sentinel.CoreRemove()
}

func handleSetRepoBranch(ctx *Context, args []interface{}) (interface{}, error) {
	h, err := findRepoFromArgs(ctx, args, 0)
	if err != nil {
		return nil, err
	}
	branch, err := unpackString(args, 1)
	if err != nil {
		return nil, err
	}
	if h.Info.Branch == branch || !h.BranchExists(branch) {
		return nil, nil
	}
	h.Info.Branch = branch
	h.Info.Version = ""
	return nil, persistRepoAndInvalidate(ctx, h)
}

func handleSetRepoVersion(ctx *Context, args []interface{}) (interface{}, error) {
	h, err := findRepoFromArgs(ctx, args, 0)
	if err != nil {
		return nil, err
	}
	version, err := unpackString(args, 1)
	if err != nil {
		return nil, err
	}
	if h.Info.Version == version || !h.VersionExists(version) {
		return nil, nil
	}
	h.Info.Version = version
	return nil, persistRepoAndInvalidate(ctx, h)
}

func handleSetRepoPriority(ctx *Context, args []interface{}) (interface{}, error) {
	h, err := findRepoFromArgs(ctx, args, 0)
	if err != nil {
		return nil, err
	}
	priority, err := unpackInt(args, 1)
	if err != nil {
		return nil, err
	}
	if h.Info.Priority == priority {
		return nil, nil
	}
	h.Info.Priority = priority
	sort.SliceStable(ctx.Pipeline.Repos, func(i, j int) bool {
		return ctx.Pipeline.Repos[i].Info.Priority < ctx.Pipeline.Repos[j].Info.Priority
	})
	return nil, persistRepoAndInvalidate(ctx, h)
}

func persistRepoAndInvalidate(ctx *Context, h *repo.Handle) error {
	bg := context.Background()
	if err := ctx.Pipeline.Store.DeleteRepoByURL(bg, h.Info.URL); err != nil {
		return err
	}
	if err := ctx.Pipeline.Store.InsertRepo(bg, store.RepoDoc{
		ID: h.Info.ID, Priority: h.Info.Priority, Branch: h.Info.Branch, Version: h.Info.Version, URL: h.Info.URL,
	}); err != nil {
		return err
	}
	return ctx.Pipeline.Sentinel.ReposRemove()
}

func handleConstraintsAdd(ctx *Context, args []interface{}) (interface{}, error) {
	kind, raws, err := unpackConstraint(args)
	if err != nil {
		return nil, err
	}
	set := setFor(ctx, kind)
	if set == nil {
		return nil, fmt.Errorf("unknown constraint kind %q", kind)
	}
	added := false
	for _, raw := range raws {
		if !set.Add(raw) {
			continue
		}
		if err := ctx.Pipeline.Store.InsertConstraint(context.Background(), store.ConstraintDoc{Type: kind, Data: raw}); err != nil {
			return nil, err
		}
		added = true
	}
	if !added {
		return nil, nil
	}
	return nil, ctx.Pipeline.Sentinel.ReposRemove()
}

func handleConstraintsRemove(ctx *Context, args []interface{}) (interface{}, error) {
	kind, raws, err := unpackConstraint(args)
	if err != nil {
		return nil, err
	}
	set := setFor(ctx, kind)
	if set == nil {
		return nil, fmt.Errorf("unknown constraint kind %q", kind)
	}
	for _, raw := range raws {
		set.Remove(raw)
		if err := ctx.Pipeline.Store.DeleteConstraint(context.Background(), kind, raw); err != nil {
			return nil, err
		}
	}
	return nil, ctx.Pipeline.Sentinel.ReposRemove()
}

func handleConstraintsGet(ctx *Context, args []interface{}) (interface{}, error) {
	kind := ""
	if len(args) > 0 {
		kind, _ = args[0].(string)
	}
	var out []string
	if kind == "" {
		out = append(out, ctx.Pipeline.Constraints.Include.Raws()...)
		out = append(out, ctx.Pipeline.Constraints.Exclude.Raws()...)
		out = append(out, ctx.Pipeline.Constraints.In.Raws()...)
	} else if set := setFor(ctx, kind); set != nil {
		out = set.Raws()
	}
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func handleConstraintsClear(ctx *Context, args []interface{}) (interface{}, error) {
	kind, _ := unpackString(args, 0)
	if kind == "" {
		ctx.Pipeline.Constraints.Include.Clear()
		ctx.Pipeline.Constraints.Exclude.Clear()
		ctx.Pipeline.Constraints.In.Clear()
	} else if set := setFor(ctx, kind); set != nil {
		set.Clear()
	}
	if err := ctx.Pipeline.Store.DropConstraints(context.Background(), kind); err != nil {
		return nil, err
	}
	return nil, ctx.Pipeline.Sentinel.ReposRemove()
}

func handleInvalidateReposCache(ctx *Context, _ []interface{}) (interface{}, error) {
	return nil, ctx.Pipeline.Sentinel.ReposRemove()
}

func handleSetEnv(ctx *Context, args []interface{}) (interface{}, error) {
	key, err := unpackString(args, 0)
	if err != nil {
		return nil, err
	}
	value, err := unpackString(args, 1)
	if err != nil {
		return nil, err
	}
	wasUnset, err := envcheck.SetEnv(ctx.EnvPath, key, value)
	if err != nil {
		return nil, err
	}
	if wasUnset {
		return nil, ctx.Pipeline.Sentinel.ReposRemove()
	}
	return nil, nil
}

func handleUnsetEnv(ctx *Context, args []interface{}) (interface{}, error) {
	key, err := unpackString(args, 0)
	if err != nil {
		return nil, err
	}
	wasSet, err := envcheck.UnsetEnv(ctx.EnvPath, key)
	if err != nil {
		return nil, err
	}
	if wasSet {
		return nil, ctx.Pipeline.Sentinel.ReposRemove()
	}
	return nil, nil
}

func setFor(ctx *Context, kind string) *constraint.Set {
	switch kind {
	case "include":
		return ctx.Pipeline.Constraints.Include
	case "exclude":
		return ctx.Pipeline.Constraints.Exclude
	case "in":
		return ctx.Pipeline.Constraints.In
	default:
		return nil
	}
}

func findRepoFromArgs(ctx *Context, args []interface{}, idx int) (*repo.Handle, error) {
	id, err := unpackInt(args, idx)
	if err != nil {
		return nil, err
	}
	for _, h := range ctx.Pipeline.Repos {
		if h.Info.ID == id {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: repo id %d", errs.ErrRepoUnavailable, id)
}

func nextRepoID(repos []*repo.Handle) int {
	max := 0
	for _, h := range repos {
		if h.Info.ID > max {
			max = h.Info.ID
		}
	}
	return max + 1
}

func unpackAddRepo(args []interface{}) (priority int, branch, url string, err error) {
	priority, err = unpackInt(args, 0)
	if err != nil {
		return
	}
	branch, err = unpackString(args, 1)
	if err != nil {
		return
	}
	url, err = unpackString(args, 2)
	return
}

// unpackConstraint accepts the rule data as either a single string or
// a list of strings.
func unpackConstraint(args []interface{}) (kind string, raws []string, err error) {
	kind, err = unpackString(args, 0)
	if err != nil {
		return
	}
	if len(args) < 2 {
		return kind, nil, fmt.Errorf("missing arg 1")
	}
	switch v := args[1].(type) {
	case string:
		raws = []string{v}
	case []string:
		raws = v
	default:
		err = fmt.Errorf("arg 1 not a string or string list")
	}
	return
}

func unpackInt(args []interface{}, idx int) (int, error) {
	if idx >= len(args) {
		return 0, fmt.Errorf("missing arg %d", idx)
	}
	switch v := args[idx].(type) {
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("arg %d not an int", idx)
	}
}

func unpackString(args []interface{}, idx int) (string, error) {
	if idx >= len(args) {
		return "", fmt.Errorf("missing arg %d", idx)
	}
	s, ok := args[idx].(string)
	if !ok {
		return "", fmt.Errorf("arg %d not a string", idx)
	}
	return s, nil
}
