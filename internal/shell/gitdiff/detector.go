// Package gitdiff computes changed paths between two revisions of a local
// repository.
// This is part of the Imperative Shell - it reads the checked-out tree.
package gitdiff

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/artpar/branchdeploy/internal/core/changes"
	"github.com/artpar/branchdeploy/internal/core/domain"
)

// Detector diffs two revisions of the repository containing a tree root.
type Detector struct {
	logger *slog.Logger
}

// NewDetector creates a change detector.
func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		logger: logger.With("component", "change_detector"),
	}
}

// Detect returns the paths that differ between previous and current, relative
// to treeRoot. treeRoot may be the repository root or any directory inside
// the work tree; changes outside it are dropped.
//
// An absent previous revision yields changes.All with a nil error. Any
// failure while diffing also yields changes.All, together with an error
// wrapping domain.ErrDetectionDegraded; the returned set is always usable.
func (d *Detector) Detect(ctx context.Context, treeRoot, previous, current string) (changes.Set, error) {
	if changes.IsAbsentRevision(previous) {
		d.logger.Info("no previous revision, treating every component as changed", "current", current)
		return changes.All(), nil
	}

	paths, err := d.diff(ctx, treeRoot, previous, current)
	if err != nil {
		return changes.All(), fmt.Errorf("%w: %v", domain.ErrDetectionDegraded, err)
	}

	set := changes.Of(paths...)
	d.logger.Debug("computed changed paths", "previous", previous, "current", current, "count", set.Len())
	return set, nil
}

func (d *Detector) diff(ctx context.Context, treeRoot, previous, current string) ([]string, error) {
	if treeRoot == "" {
		treeRoot = "."
	}
	repo, err := git.PlainOpenWithOptions(treeRoot, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", treeRoot, err)
	}
	prefix, err := subtreePrefix(repo, treeRoot)
	if err != nil {
		return nil, err
	}

	from, err := commitTree(repo, previous)
	if err != nil {
		return nil, err
	}
	to, err := commitTree(repo, current)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	diff, err := object.DiffTree(from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	paths := make([]string, 0, len(diff))
	add := func(name string) {
		if name == "" {
			return
		}
		if prefix == "" {
			paths = append(paths, name)
		} else if rel, ok := strings.CutPrefix(name, prefix+"/"); ok {
			paths = append(paths, rel)
		}
	}
	for _, change := range diff {
		add(change.From.Name)
		if change.To.Name != change.From.Name {
			add(change.To.Name)
		}
	}
	return paths, nil
}

// subtreePrefix returns treeRoot relative to the work tree root, in slash
// form, or "" when treeRoot is the work tree root.
func subtreePrefix(repo *git.Repository, treeRoot string) (string, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open work tree: %w", err)
	}
	base, err := filepath.EvalSymlinks(wt.Filesystem.Root())
	if err != nil {
		return "", fmt.Errorf("failed to resolve work tree root: %w", err)
	}
	abs, err := filepath.Abs(treeRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve tree root %s: %w", treeRoot, err)
	}
	if abs, err = filepath.EvalSymlinks(abs); err != nil {
		return "", fmt.Errorf("failed to resolve tree root %s: %w", treeRoot, err)
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("tree root %s is outside the work tree %s", treeRoot, base)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

// commitTree resolves rev (hash, short hash, branch, tag or HEAD~n) to the
// tree of its commit.
func commitTree(repo *git.Repository, rev string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve revision %q: %w", rev, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load tree of %s: %w", hash, err)
	}
	return tree, nil
}
