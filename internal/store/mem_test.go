package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.UpsertCore(ctx, CoreDoc{Branch: "main", Version: "abc"}))
	require.NoError(t, s.InsertRepo(ctx, RepoDoc{ID: 0, Priority: 0, Branch: "main", URL: "https://github.com/a/b"}))
	require.NoError(t, s.InsertManyRemoved(ctx, []string{"echo"}))
	require.NoError(t, s.InsertConstraint(ctx, ConstraintDoc{Type: "include", Data: "echo"}))

	core, repos, removed, constraints, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", core.Branch)
	assert.Len(t, repos, 1)
	assert.Len(t, removed, 1)
	assert.Len(t, constraints, 1)

	require.NoError(t, s.DeleteRepoByURL(ctx, "https://github.com/a/b"))
	_, repos, _, _, err = s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, repos)

	require.NoError(t, s.DropRemoved(ctx))
	_, _, removed, _, err = s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestMemStore_DeleteRemovedByNames(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.InsertManyRemoved(ctx, []string{"echo", "ping"}))
	require.NoError(t, s.DeleteRemovedByNames(ctx, []string{"echo"}))

	_, _, removed, _, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "ping", removed[0].Name)
}
