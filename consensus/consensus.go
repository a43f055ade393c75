// Package consensus reads and records the last state both sides agreed on,
// kept as the HEAD revision of a git repository around the issues
// directory.
package consensus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	pathpkg "path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/signadot/issue-sync/codec"
	"github.com/signadot/issue-sync/conflict"
	"github.com/signadot/issue-sync/debug"
	"github.com/signadot/issue-sync/issue"
	"github.com/signadot/issue-sync/merge"
	"github.com/signadot/issue-sync/placement"
)

const (
	authorName  = "issue-sync"
	authorEmail = "issue-sync@localhost"
	mergePrefix = "merge remote state: "
)

var mergeHead = plumbing.ReferenceName("MERGE_HEAD")

type Repo struct {
	// Dir is the issues directory. The repository may be rooted above it.
	Dir     string
	Tracker *conflict.Tracker
}

func (r *Repo) open() (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(r.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}
	return repo, nil
}

// Initialized reports whether the issues directory is under git.
func (r *Repo) Initialized() bool {
	repo, err := r.open()
	return err == nil && repo != nil
}

// Init creates a repository in Dir unless one exists.
func (r *Repo) Init() error {
	if r.Initialized() {
		return nil
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", r.Dir, err)
	}
	if _, err := git.PlainInit(r.Dir, false); err != nil {
		return fmt.Errorf("failed to init git repository: %w", err)
	}
	return nil
}

func root(repo *git.Repository) (string, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}

func relTo(root, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	// resolve symlinks on both sides so temp dirs compare equal
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(dir, filepath.Base(abs))
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside the repository at %s", path, root)
	}
	return filepath.ToSlash(rel), nil
}

// Read returns the consensus text of path, and false when there is no
// repository, no commit yet, or path is not tracked.
//
// While a remote state merge is pending, or right after one was committed,
// the consensus is the remote side of that merge.
func (r *Repo) Read(path string) (string, bool, error) {
	repo, err := r.open()
	if err != nil || repo == nil {
		return "", false, err
	}
	commit, err := consensusCommit(repo)
	if err != nil || commit == nil {
		return "", false, err
	}
	top, err := root(repo)
	if err != nil {
		return "", false, err
	}
	rel, err := relTo(top, path)
	if err != nil {
		return "", false, err
	}
	f, err := commit.File(rel)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load %s from %s: %w", rel, commit.Hash, err)
	}
	text, err := f.Contents()
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s from %s: %w", rel, commit.Hash, err)
	}
	return text, true, nil
}

func consensusCommit(repo *git.Repository) (*object.Commit, error) {
	if ref, err := repo.Reference(mergeHead, true); err == nil {
		return repo.CommitObject(ref.Hash())
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load HEAD commit: %w", err)
	}
	if commit.NumParents() == 2 && strings.HasPrefix(commit.Message, mergePrefix) {
		return commit.Parent(1)
	}
	return commit, nil
}

// Load parses the committed version of path. It returns nil without error
// when there is no consensus for path.
func (r *Repo) Load(path string, d codec.Dialect) (*issue.Issue, error) {
	text, ok, err := r.Read(path)
	if err != nil || !ok {
		return nil, err
	}
	is, err := codec.Parse(codec.ParseContext{Source: text, Name: path + "@HEAD"}, d)
	if err != nil {
		return nil, fmt.Errorf("failed to parse committed %s: %w", path, err)
	}
	return is, nil
}

// LoadRoot finds the root issue id among the committed entries of its
// project directory, whatever its title or placement was then, and parses
// it. It returns nil without error when there is no consensus for id.
func (r *Repo) LoadRoot(l placement.Layout, id issue.Identity, d codec.Dialect) (*issue.Issue, error) {
	if id.Number == 0 {
		return nil, nil
	}
	repo, err := r.open()
	if err != nil || repo == nil {
		return nil, err
	}
	commit, err := consensusCommit(repo)
	if err != nil || commit == nil {
		return nil, err
	}
	top, err := root(repo)
	if err != nil {
		return nil, err
	}
	projDir := l.ProjectDir(id.Owner, id.Repo)
	rel, err := relTo(top, filepath.Join(projDir, "x"))
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load tree of %s: %w", commit.Hash, err)
	}
	dir, err := tree.Tree(pathpkg.Dir(rel))
	if errors.Is(err, object.ErrDirectoryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s from %s: %w", pathpkg.Dir(rel), commit.Hash, err)
	}
	for _, e := range dir.Entries {
		if n, ok := placement.NumberOf(e.Name); !ok || n != id.Number {
			continue
		}
		var names []string
		if e.Mode.IsFile() {
			names = []string{e.Name}
		} else {
			for _, ext := range []string{d.Ext(), d.Ext() + ".bak"} {
				names = append(names, e.Name+"/"+placement.MainName+"."+ext)
			}
		}
		for _, name := range names {
			if dd, err := codec.DialectOf(name); err != nil || dd != d {
				continue
			}
			f, err := dir.File(name)
			if err != nil {
				continue
			}
			text, err := f.Contents()
			if err != nil {
				return nil, fmt.Errorf("failed to read %s from %s: %w", name, commit.Hash, err)
			}
			is, err := codec.Parse(codec.ParseContext{Source: text, Name: name + "@consensus"}, d)
			if err != nil {
				return nil, fmt.Errorf("failed to parse committed %s: %w", name, err)
			}
			return is, nil
		}
	}
	return nil, nil
}

// Commit stages the changes below the given paths, or everything when none
// are given, and commits them. It does nothing when there is nothing to
// commit or no repository. A pending remote state merge is concluded.
func (r *Repo) Commit(msg string, paths ...string) error {
	_, err := r.commit(msg, paths)
	return err
}

func (r *Repo) commit(msg string, paths []string) (bool, error) {
	repo, err := r.open()
	if err != nil || repo == nil {
		return false, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to open worktree: %w", err)
	}
	st, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to get status: %w", err)
	}
	scope, err := scopeOf(wt.Filesystem.Root(), paths)
	if err != nil {
		return false, err
	}
	staged := 0
	for file, fs := range st {
		if fs.Worktree == git.Unmodified && fs.Staging == git.Unmodified {
			continue
		}
		if !inScope(file, scope) {
			continue
		}
		if fs.Worktree != git.Unmodified {
			if _, err := wt.Add(file); err != nil {
				return false, fmt.Errorf("failed to stage %s: %w", file, err)
			}
		}
		staged++
	}
	merging, err := repo.Reference(mergeHead, true)
	if staged == 0 && err != nil {
		return false, nil
	}
	opts := &git.CommitOptions{
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  time.Now(),
		},
		AllowEmptyCommits: merging != nil,
	}
	if merging != nil {
		head, err := repo.Head()
		if err != nil {
			return false, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		opts.Parents = []plumbing.Hash{head.Hash(), merging.Hash()}
		msg = mergePrefix + msg
	}
	hash, err := wt.Commit(msg, opts)
	if err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	if merging != nil {
		if err := endMerge(repo, wt.Filesystem.Root()); err != nil {
			return true, err
		}
	}
	if debug.Git() {
		debug.Logf("committed %s: %s", hash.String()[:8], msg)
	}
	return true, nil
}

// scopeOf turns paths into slash separated prefixes relative to root.
func scopeOf(root string, paths []string) ([]string, error) {
	var res []string
	for _, p := range paths {
		rel, err := relTo(root, p)
		if err != nil {
			return nil, err
		}
		res = append(res, rel)
	}
	return res, nil
}

func inScope(file string, scope []string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, s := range scope {
		if file == s || strings.HasPrefix(file, s+"/") {
			return true
		}
	}
	return false
}

// endMerge drops the state git keeps for an unfinished merge.
func endMerge(repo *git.Repository, top string) error {
	if err := repo.Storer.RemoveReference(mergeHead); err != nil {
		return fmt.Errorf("failed to clear MERGE_HEAD: %w", err)
	}
	for _, name := range []string{"MERGE_MSG", "MERGE_MODE"} {
		if err := os.Remove(filepath.Join(top, ".git", name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Diverge hands a conflicting merge to git: the local state is committed,
// the remote text is committed on a branch forked from the previous
// consensus, and that branch is merged back. Local changes are committed
// only below scope. When git cannot merge, the file is left with conflict
// markers, recorded with the tracker, and cause is returned.
func (r *Repo) Diverge(ctx context.Context, path, remoteText, msg string, scope []string, cause *merge.ConflictError) error {
	repo, err := r.open()
	if err != nil {
		return err
	}
	if repo == nil {
		return fmt.Errorf("initialize git in %s to resolve conflicts: %w", r.Dir, cause)
	}
	top, err := root(repo)
	if err != nil {
		return err
	}
	g := &gitCmd{ctx: ctx, dir: top}

	current, err := g.run("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return err
	}
	if current == "HEAD" {
		// detached
		if current, err = g.run("rev-parse", "HEAD"); err != nil {
			return err
		}
	}
	committed, err := r.commit("__conflicts: local changes: "+msg, scope)
	if err != nil {
		return err
	}
	base := "HEAD"
	if committed {
		base = "HEAD~1"
	}
	if _, err := g.run("rev-parse", "--verify", base); err != nil {
		base = "HEAD"
	}

	branch := "remote-state-" + uuid.NewString()[:8]
	if _, err := g.run("branch", branch, base); err != nil {
		return err
	}
	cleanup := func() {
		if _, err := g.run("branch", "-D", branch); err != nil {
			log.Warn().Err(err).Str("branch", branch).Msg("failed to delete branch")
		}
	}
	if _, err := g.run("checkout", "-q", branch); err != nil {
		cleanup()
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(remoteText), 0o644); err != nil {
		return fmt.Errorf("failed to write remote state: %w", err)
	}
	if _, err := g.run("add", "--", path); err != nil {
		return err
	}
	if _, err := g.run("diff", "--cached", "--quiet"); err == nil {
		// remote equals the previous consensus
		_, _ = g.run("checkout", "-q", current)
		cleanup()
		return nil
	}
	if _, err := g.run("commit", "-q", "-m", "remote state: "+msg); err != nil {
		_, _ = g.run("checkout", "-q", "-f", current)
		cleanup()
		return err
	}
	if _, err := g.run("checkout", "-q", current); err != nil {
		return err
	}
	out, err := g.run("merge", "--no-ff", branch, "-m", mergePrefix+msg)
	cleanup()
	if err == nil {
		return nil
	}
	if !strings.Contains(out, "CONFLICT") {
		return fmt.Errorf("failed to merge remote state: %w", err)
	}
	// stage the marked up file so the index has no unmerged entries; the
	// merge stays pending until the next commit
	if _, err := g.run("add", "--", path); err != nil {
		return err
	}
	if r.Tracker != nil {
		if err := r.Tracker.Mark(path, cause.Error()); err != nil {
			return err
		}
	}
	return fmt.Errorf("resolve the conflict markers in %s, then commit: %w", path, cause)
}

type gitCmd struct {
	ctx context.Context
	dir string
}

// run invokes the git binary with a fixed identity. Output is returned
// trimmed; on failure the error carries it.
func (g *gitCmd) run(args ...string) (string, error) {
	full := append([]string{"-C", g.dir, "-c", "user.name=" + authorName, "-c", "user.email=" + authorEmail}, args...)
	cmd := exec.CommandContext(g.ctx, "git", full...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if debug.Git() {
		debug.Logf("git %s", strings.Join(args, " "))
	}
	err := cmd.Run()
	res := strings.TrimSpace(out.String())
	if err != nil {
		return res, fmt.Errorf("git %s: %w: %s", args[0], err, res)
	}
	return res, nil
}
