package sentinel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinel_MakeAndExists(t *testing.T) {
	s := New(t.TempDir())

	assert.False(t, s.CoreExists())
	assert.False(t, s.ReposExists())

	require.NoError(t, s.CoreMake())
	assert.True(t, s.CoreExists())

	require.NoError(t, s.ReposMake())
	assert.True(t, s.ReposExists())
}

func TestSentinel_CoreRemoveImpliesReposRemove(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.CoreMake())
	require.NoError(t, s.ReposMake())

	require.NoError(t, s.CoreRemove())

	assert.False(t, s.CoreExists())
	assert.False(t, s.ReposExists())
}

func TestSentinel_ReposRemoveLeavesCore(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.CoreMake())
	require.NoError(t, s.ReposMake())

	require.NoError(t, s.ReposRemove())

	assert.True(t, s.CoreExists())
	assert.False(t, s.ReposExists())
}

func TestSentinel_RemoveMissingIsNotError(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.ReposRemove())
}
