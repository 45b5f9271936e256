// Package errs defines the loader's named error kinds: small sentinel
// values wrapped with fmt.Errorf("...: %w", err) rather than one
// generic error type.
package errs

import "errors"

// Sentinel kinds. Callers compare with errors.Is.
var (
	ErrConfigInvalid           = errors.New("config invalid")
	ErrStoreUnavailable        = errors.New("store unavailable")
	ErrCoreUnavailable         = errors.New("core repository unavailable")
	ErrRepoUnavailable         = errors.New("plugin repository unavailable")
	ErrDependencyInstallFailed = errors.New("dependency install failed")
	ErrPluginIneligible        = errors.New("plugin ineligible")
	ErrPluginConflict          = errors.New("plugin requirement conflict")
	ErrUnknownJob              = errors.New("unknown job code")
	ErrConnectionLost          = errors.New("rpc connection lost")

	// ErrInterrupted asks the entry point to re-execute the host
	// binary, used after an in-place upgrade of the loader itself.
	ErrInterrupted = errors.New("loader interrupted")
)

// Fatal reports whether an error kind terminates the loader process,
// per the error-handling design table: ConfigInvalid, StoreUnavailable,
// CoreUnavailable, and DependencyInstallFailed are fatal; the rest are
// reduced-scope or reply-as-error conditions.
func Fatal(err error) bool {
	switch {
	case errors.Is(err, ErrConfigInvalid),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrCoreUnavailable),
		errors.Is(err, ErrDependencyInstallFailed):
		return true
	default:
		return false
	}
}
