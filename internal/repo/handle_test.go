package repo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usergeteam/loader/internal/model"
)

// createRepo builds a local working copy with n commits on main and
// returns the handle plus the commit hashes oldest-first.
func createRepo(t *testing.T, n int) (*Handle, []string) {
	t.Helper()

	dir := t.TempDir()
	r, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{
			DefaultBranch: "refs/heads/main",
		},
	})
	require.NoError(t, err)

	w, err := r.Worktree()
	require.NoError(t, err)

	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, "file.txt")
		require.NoError(t, os.WriteFile(name, []byte{byte('a' + i)}, 0o644))
		_, err = w.Add("file.txt")
		require.NoError(t, err)
		hash, err := w.Commit("commit "+string(rune('a'+i)), &gogit.CommitOptions{
			Author: &object.Signature{
				Name:  "Test",
				Email: "test@example.com",
				When:  time.Now().Add(time.Duration(i) * time.Second),
			},
		})
		require.NoError(t, err)
		hashes = append(hashes, hash.String())
	}

	h := New(model.NewRepoInfo(0, 0, "main", "", "https://github.com/alice/foo"), dir)
	h.Init()
	require.False(t, h.Failed())
	h.Info.Branches["main"] = struct{}{}
	return h, hashes
}

func TestInit_CloneFailureMarksFailedAndInert(t *testing.T) {
	h := New(model.NewRepoInfo(0, 0, "main", "", "https://127.0.0.1:1/nope/nope"), t.TempDir()+"/wc")
	h.Init()

	require.True(t, h.Failed())
	assert.NotEmpty(t, h.Info.ErrStderr)

	// every subsequent operation is a no-op, never a panic.
	assert.False(t, h.Fetch())
	h.CheckoutVersion()
	h.CheckoutBranch()
	assert.False(t, h.BranchExists("main"))
	assert.False(t, h.VersionExists("deadbeef"))
	assert.Empty(t, h.NewCommits())
	assert.Empty(t, h.OldCommits(5))
}

func TestInit_OpensExistingRepo(t *testing.T) {
	h, _ := createRepo(t, 1)
	again := New(h.Info, h.Path)
	again.Init()
	assert.False(t, again.Failed())
}

func TestVersionExists(t *testing.T) {
	h, hashes := createRepo(t, 2)
	assert.True(t, h.VersionExists(hashes[0]))
	assert.False(t, h.VersionExists("0000000000000000000000000000000000000000"))
	assert.False(t, h.VersionExists(""))
}

func TestNewCommits_PinAtHeadIsEmpty(t *testing.T) {
	h, hashes := createRepo(t, 3)
	h.Info.Version = hashes[2]
	assert.Empty(t, h.NewCommits())
}

func TestNewCommits_ReturnsPrefixAboveThePin(t *testing.T) {
	h, hashes := createRepo(t, 3)
	h.Info.Version = hashes[0]

	updates := h.NewCommits()
	require.Len(t, updates, 2)
	// newest first, each carrying its distance from root and a safe URL.
	assert.Equal(t, hashes[2], updates[0].Version)
	assert.Equal(t, hashes[1], updates[1].Version)
	assert.Equal(t, 3, updates[0].Count)
	assert.Equal(t, 2, updates[1].Count)
	assert.Equal(t, "https://github.com/alice/foo/commit/"+hashes[2], updates[0].URL)
}

func TestNewCommits_UnreachablePinIsEmpty(t *testing.T) {
	h, _ := createRepo(t, 3)
	h.Info.Version = "0000000000000000000000000000000000000000"
	assert.Empty(t, h.NewCommits())
}

func TestOldCommits_ZeroLimitIsEmpty(t *testing.T) {
	h, hashes := createRepo(t, 3)
	h.Info.Version = hashes[2]
	assert.Empty(t, h.OldCommits(0))
}

func TestOldCommits_ReturnsUpToLimitBelowThePin(t *testing.T) {
	h, hashes := createRepo(t, 4)
	h.Info.Version = hashes[3]

	updates := h.OldCommits(2)
	require.Len(t, updates, 2)
	assert.Equal(t, hashes[2], updates[0].Version)
	assert.Equal(t, hashes[1], updates[1].Version)
}

func TestCheckoutVersionAndBranch_RoundTrip(t *testing.T) {
	h, hashes := createRepo(t, 2)
	h.Info.Version = hashes[0]

	h.CheckoutVersion()
	head, err := gogit.PlainOpen(h.Path)
	require.NoError(t, err)
	ref, err := head.Head()
	require.NoError(t, err)
	assert.Equal(t, hashes[0], ref.Hash().String())

	h.CheckoutBranch()
	ref, err = head.Head()
	require.NoError(t, err)
	assert.Equal(t, hashes[1], ref.Hash().String())
}

func TestDelete_RemovesWorkingTree(t *testing.T) {
	h, _ := createRepo(t, 1)
	require.NoError(t, h.Delete())
	_, err := os.Stat(h.Path)
	assert.True(t, os.IsNotExist(err))
}
