// Package log provides the loader's process-wide structured logger, a
// thin wrapper around zap with one namespaced child logger per
// subsystem.
package log

import (
	"os"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	global *zap.SugaredLogger
)

// L returns the process-wide sugared logger, building a production
// zap config (JSON, info level, stderr) on first use.
func L() *zap.SugaredLogger {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.OutputPaths = []string{"stderr"}
		logger, err := cfg.Build()
		if err != nil {
			// Fall back to a no-op core rather than panic; logging must
			// never be the reason the loader fails to start.
			logger = zap.NewNop()
		}
		global = logger.Sugar()
	})
	return global
}

// Named returns a child logger scoped to the given subsystem name.
func Named(name string) *zap.SugaredLogger {
	return L().Named(name)
}

// Fatal logs msg at error level and then sends SIGTERM to this
// process, so the supervisor's own signal handler unwinds shutdown
// instead of os.Exit aborting abruptly.
func Fatal(msg string, keysAndValues ...interface{}) {
	L().Errorw(msg, keysAndValues...)
	terminateSelf()
}

func terminateSelf() {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		os.Exit(1)
	}
	_ = p.Signal(syscall.SIGTERM)
}
