// Command loader wires a Loader value (Store, Session, pipeline) and
// runs the spawn/serve/restart cycle.
package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"

	"github.com/usergeteam/loader/internal/envcheck"
	"github.com/usergeteam/loader/internal/errs"
	"github.com/usergeteam/loader/internal/log"
	"github.com/usergeteam/loader/internal/pipeline"
	"github.com/usergeteam/loader/internal/store"
	"github.com/usergeteam/loader/internal/supervisor"
	"github.com/usergeteam/loader/internal/tasks"
)

const (
	envPath    = "config.env"
	envTmpPath = "config.env.tmp"
	childDir   = "userge"
)

// Loader is the process-wide state object: the materialization
// Pipeline and the supervisor Session live here, constructed once in
// main rather than as package globals.
type Loader struct {
	Pipeline *pipeline.Pipeline
	Session  *tasks.Session
}

func main() {
	envcheck.LoadDotenv(envPath, envTmpPath)

	clientType, err := envcheck.Validate()
	if err != nil {
		log.Fatal("invalid configuration", "err", err)
		return
	}

	_ = os.MkdirAll("downloads", 0o755)
	_ = os.MkdirAll("logs", 0o755)

	ctx := context.Background()
	mongoStore, err := store.NewMongoStore(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatal("store unavailable", "err", err)
		return
	}
	defer func() {
		if cerr := mongoStore.Close(ctx); cerr != nil {
			log.L().Errorw("store close failed", "err", cerr)
		}
	}()

	coreURL := os.Getenv("CORE_REPO")
	if coreURL == "" {
		coreURL = pipeline.DefaultCoreURL
	}
	coreBranch := os.Getenv("CORE_BRANCH")
	if coreBranch == "" {
		coreBranch = pipeline.DefaultCoreBranch
	}

	p := pipeline.New(
		pipeline.WithStore(mongoStore),
		pipeline.WithCacheDir(".rcache"),
		pipeline.WithChildDir(childDir),
		pipeline.WithClientType(clientType),
		pipeline.WithCoreRepo(coreURL, coreBranch),
		pipeline.WithExtraPackages(strings.Fields(os.Getenv("CUSTOM_PIP_PACKAGES"))),
	)

	l := &Loader{
		Pipeline: p,
		Session:  &tasks.Session{},
	}

	if err := supervisor.RunLoop(ctx, l.Pipeline, l.Session, childDir+"/main", childDir, envTmpPath); err != nil {
		if errors.Is(err, errs.ErrInterrupted) {
			_ = mongoStore.Close(ctx)
			reExec()
		}
		log.L().Errorw("loader exited", "err", err)
		os.Exit(1)
	}
}

// reExec replaces this process with a fresh copy of the host binary,
// picking up an in-place upgrade of the loader itself.
func reExec() {
	exe, err := os.Executable()
	if err == nil {
		err = syscall.Exec(exe, os.Args, os.Environ())
	}
	log.L().Errorw("re-exec failed", "err", err)
	os.Exit(1)
}
