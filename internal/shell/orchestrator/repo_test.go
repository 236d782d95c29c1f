package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/artpar/branchdeploy/internal/shell/gitdiff"
)

func initRepo(t *testing.T, root string) *git.Repository {
	t.Helper()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	return repo
}

func commitFiles(t *testing.T, repo *git.Repository, root string, files map[string]string) string {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)

	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
		_, err := wt.Add(rel)
		require.NoError(t, err)
	}

	hash, err := wt.Commit("update", &git.CommitOptions{
		Author: &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func newDetector() *gitdiff.Detector {
	return gitdiff.NewDetector(quietLogger())
}
