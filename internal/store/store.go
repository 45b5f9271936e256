// Package store persists the loader's own configuration: the core
// repo pin, the plugin-repo list, the removed-plugin set, and
// constraint rules. Callers depend on the Store interface, not on a
// concrete backend.
package store

import "context"

// CoreDoc is the single "core" document in the config collection.
type CoreDoc struct {
	Branch  string
	Version string
}

// RepoDoc is one entry in the repos collection.
type RepoDoc struct {
	ID       int
	Priority int
	Branch   string
	Version  string
	URL      string
}

// RemovedDoc names a plugin the operator has removed from selection.
type RemovedDoc struct {
	Name string
}

// ConstraintDoc is one raw constraint rule, tagged by kind.
type ConstraintDoc struct {
	Type string
	Data string
}

// Store is the loader's persistence boundary. Every method takes a
// context and returns an error so callers can classify connectivity
// failures (errs.ErrStoreUnavailable) uniformly across backends.
type Store interface {
	LoadAll(ctx context.Context) (CoreDoc, []RepoDoc, []RemovedDoc, []ConstraintDoc, error)

	UpsertCore(ctx context.Context, doc CoreDoc) error

	InsertRepo(ctx context.Context, doc RepoDoc) error
	DeleteRepoByURL(ctx context.Context, url string) error

	InsertManyRemoved(ctx context.Context, names []string) error
	DeleteRemovedByNames(ctx context.Context, names []string) error
	DropRemoved(ctx context.Context) error

	InsertConstraint(ctx context.Context, doc ConstraintDoc) error
	DeleteConstraint(ctx context.Context, kind, data string) error
	DropConstraints(ctx context.Context, kind string) error

	Close(ctx context.Context) error
}
