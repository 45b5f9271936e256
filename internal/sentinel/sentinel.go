// Package sentinel manages the two filesystem flags that record
// whether the core and plugin materialization phases are up to date.
package sentinel

import "os"

// Sentinel tracks the core/repos marker files under a cache directory.
type Sentinel struct {
	corePath  string
	reposPath string
}

// New builds a Sentinel rooted at cacheDir.
func New(cacheDir string) *Sentinel {
	return &Sentinel{
		corePath:  cacheDir + "/.sig_core",
		reposPath: cacheDir + "/.sig_repos",
	}
}

// CoreExists reports whether the core materialization phase is current.
func (s *Sentinel) CoreExists() bool { return exists(s.corePath) }

// ReposExists reports whether the plugin materialization phase is current.
func (s *Sentinel) ReposExists() bool { return exists(s.reposPath) }

// CoreMake marks the core phase complete.
func (s *Sentinel) CoreMake() error { return touch(s.corePath) }

// ReposMake marks the plugin phase complete.
func (s *Sentinel) ReposMake() error { return touch(s.reposPath) }

// CoreRemove invalidates the core phase. Repos depend on core, so this
// always invalidates the repos phase too.
func (s *Sentinel) CoreRemove() error {
	if err := remove(s.corePath); err != nil {
		return err
	}
	return s.ReposRemove()
}

// ReposRemove invalidates the plugin phase only.
func (s *Sentinel) ReposRemove() error { return remove(s.reposPath) }

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func remove(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
