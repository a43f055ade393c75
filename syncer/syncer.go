// Package syncer runs the open flow: pull and merge, edit, then push the
// result and record the new consensus.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/signadot/issue-sync/codec"
	"github.com/signadot/issue-sync/conflict"
	"github.com/signadot/issue-sync/consensus"
	"github.com/signadot/issue-sync/editor"
	"github.com/signadot/issue-sync/fetch"
	"github.com/signadot/issue-sync/issue"
	"github.com/signadot/issue-sync/merge"
	"github.com/signadot/issue-sync/placement"
	"github.com/signadot/issue-sync/remote"
	"github.com/signadot/issue-sync/term"
)

var ErrAborted = errors.New("aborted (no changes made)")

// ReferenceError reports a duplicate target that does not exist.
type ReferenceError struct {
	From   issue.Identity
	Target uint64
	Err    error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s is marked duplicate of #%d: %v", e.From, e.Target, e.Err)
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}

type Options struct {
	// Mode applies to the pull before editing. The sync after editing is
	// always Normal.
	Mode    merge.Mode
	Pull    bool
	Offline bool
}

type Session struct {
	Client  remote.Client
	Layout  placement.Layout
	Repo    *consensus.Repo
	Tracker *conflict.Tracker
	Editor  editor.Editor
	// Parallel caps concurrent sub-issue fetches.
	Parallel int
	Out      io.Writer
	Colors   *term.Colors
}

// tree is the tree containing an opened file.
type tree struct {
	root     *issue.Issue
	chain    issue.Path
	rootPath string
	path     string
	d        codec.Dialect
}

func (t *tree) node() *issue.Issue {
	return issue.At(t.root, t.chain)
}

func (t *tree) id() issue.Identity {
	return issue.Identity{Owner: t.root.Owner, Repo: t.root.Repo, Number: t.root.Number}
}

func (s *Session) out() io.Writer {
	if s.Out == nil {
		return io.Discard
	}
	return s.Out
}

func (s *Session) colors() *term.Colors {
	if s.Colors == nil {
		return term.Plain()
	}
	return s.Colors
}

func (s *Session) fetcher(d codec.Dialect) *fetch.Fetcher {
	return &fetch.Fetcher{Client: s.Client, Layout: s.Layout, Dialect: d, Parallel: s.Parallel}
}

// Open syncs the issue at path, lets the user edit it and pushes the
// result. It returns the path of the issue afterwards, which is empty when
// the issue was removed as a duplicate.
func (s *Session) Open(ctx context.Context, path string, opts Options) (string, error) {
	return s.Run(ctx, path, opts, Edit{})
}

// Run is Open with mod in place of the editor. A nil mod only pulls.
func (s *Session) Run(ctx context.Context, path string, opts Options, mod Modifier) (string, error) {
	if err := s.Tracker.CheckAll(); err != nil {
		return "", err
	}
	id, err := s.Layout.Identify(path)
	if err != nil {
		return "", err
	}
	virtual := s.Layout.IsVirtual(id.Owner, id.Repo)
	offline := opts.Offline || virtual || s.Client == nil

	t, err := s.load(path)
	if err != nil {
		return "", err
	}
	if opts.Pull && !offline && !t.root.Pending() {
		if t, err = s.pull(ctx, t, opts.Mode); err != nil {
			return "", err
		}
	}
	if mod == nil {
		return t.path, nil
	}
	if err := mod.Modify(ctx, s, t.path); err != nil {
		return t.path, err
	}

	// the user may have edited the whole tree's content in this file
	if t, err = s.load(t.path); err != nil {
		return "", err
	}
	cons, err := s.Repo.LoadRoot(s.Layout, t.id(), t.d)
	if err != nil {
		return "", err
	}
	if err := s.checkDuplicates(ctx, t.root, cons, offline); err != nil {
		return "", err
	}
	if offline {
		return s.finishOffline(t, virtual)
	}
	return s.sync(ctx, t, cons)
}

// load reads the file at path and the tree it belongs to, with the file's
// content replacing its node in the tree. Expanded shorthands are written
// back.
func (s *Session) load(path string) (*tree, error) {
	d, err := codec.DialectOf(path)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	text := string(src)
	if exp := codec.Expand(text, d); exp != text {
		if err := placement.WriteFile(path, []byte(exp)); err != nil {
			return nil, err
		}
		text = exp
	}
	node, err := codec.Parse(codec.ParseContext{Source: text, Name: path}, d)
	if err != nil {
		return nil, err
	}
	root, chain, rootPath, err := s.Layout.LoadTree(path, d)
	if err != nil {
		return nil, err
	}
	t := &tree{root: root, chain: chain, rootPath: rootPath, path: path, d: d}
	if len(chain) == 0 {
		t.root = node
	} else {
		parent := issue.At(root, chain[:len(chain)-1])
		parent.Children[chain[len(chain)-1]] = node
	}
	id, err := s.Layout.Identify(path)
	if err != nil {
		return nil, err
	}
	for _, n := range issue.Walk(t.root) {
		if n.Owner == "" {
			n.Owner, n.Repo = id.Owner, id.Repo
		}
	}
	return t, nil
}

// pull merges the remote tree into the local one. The remote tree becomes
// the consensus and the merged tree the working copy.
func (s *Session) pull(ctx context.Context, t *tree, mode merge.Mode) (*tree, error) {
	id := t.id()
	rt, err := s.fetcher(t.d).Tree(ctx, id.Owner, id.Repo, id.Number)
	if err != nil {
		return nil, err
	}
	cons, err := s.Repo.LoadRoot(s.Layout, t.id(), t.d)
	if err != nil {
		return nil, err
	}
	res, err := merge.Merge(t.root, rt, cons, mode)
	var ce *merge.ConflictError
	if errors.As(err, &ce) {
		return s.diverge(ctx, t, rt, ce)
	}
	if err != nil {
		return nil, err
	}
	for _, c := range res.Conflicts {
		fmt.Fprintf(s.out(), "%s: took %s\n", c, mode.Prefer)
	}
	if !res.LocalChanged && issue.Equal(rt, cons) {
		return t, nil
	}
	want := t.node()
	remotePath, err := s.Layout.Store(rt, t.d)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.Commit(syncMessage(id), s.scope(t.rootPath, remotePath)...); err != nil {
		return nil, err
	}
	if _, err := s.Layout.Store(res.Issue, t.d); err != nil {
		return nil, err
	}
	p, ok := pathOf(res.Issue, want)
	if !ok {
		return nil, fmt.Errorf("%s is gone after merging %s", want.Identity, id)
	}
	return s.load(s.Layout.Locate(res.Issue, p, t.d))
}

// diverge stores the local tree and lets git merge the remote one into it.
// When git merges cleanly the merged tree is reloaded so that editing
// continues on it.
func (s *Session) diverge(ctx context.Context, t *tree, rt *issue.Issue, ce *merge.ConflictError) (*tree, error) {
	want := t.node()
	rootPath, err := s.Layout.Store(t.root, t.d)
	if err != nil {
		return nil, err
	}
	msg := syncMessage(t.id())
	text := codec.Serialize(rt, t.d)
	if err := s.Repo.Diverge(ctx, rootPath, text, msg, s.scope(t.rootPath, rootPath), ce); err != nil {
		return nil, err
	}
	merged, err := s.load(rootPath)
	if err != nil {
		return nil, err
	}
	if _, err := s.Layout.Store(merged.root, t.d); err != nil {
		return nil, err
	}
	p, ok := pathOf(merged.root, want)
	if !ok {
		return nil, fmt.Errorf("%s is gone after merging %s", want.Identity, t.id())
	}
	return s.load(s.Layout.Locate(merged.root, p, t.d))
}

// sync pushes the edited tree and stores what the remote holds afterwards.
func (s *Session) sync(ctx context.Context, t *tree, cons *issue.Issue) (string, error) {
	id := t.id()
	// Push numbers a pending root, so its placement is remembered here
	pending := t.root.Pending()
	oldPath := t.rootPath
	target := t.root
	var base *issue.Issue
	if !pending {
		rt, err := s.fetcher(t.d).Tree(ctx, id.Owner, id.Repo, id.Number)
		if err != nil {
			return "", err
		}
		res, err := merge.Merge(t.root, rt, cons, merge.Mode{})
		var ce *merge.ConflictError
		switch {
		case errors.As(err, &ce):
			if t, err = s.diverge(ctx, t, rt, ce); err != nil {
				return "", err
			}
			target = t.root
		case err != nil:
			return "", err
		default:
			target = res.Issue
		}
		base = rt
	}
	opened := find(target, t.node())
	if err := s.Push(ctx, base, target); err != nil {
		return "", err
	}
	id = issue.Identity{Owner: target.Owner, Repo: target.Repo, Number: target.Number}

	if opened != nil && opened == target && opened.State.Kind == issue.Duplicate {
		if err := placement.Remove(t.rootPath); err != nil {
			return "", err
		}
		if err := s.Repo.Commit(syncMessage(id), s.scope(t.rootPath)...); err != nil {
			return "", err
		}
		fmt.Fprintf(s.out(), "Closed %s as duplicate of #%d and removed %s\n", id, opened.State.Duplicate, t.rootPath)
		return "", nil
	}

	fresh, err := s.fetcher(t.d).Tree(ctx, id.Owner, id.Repo, id.Number)
	if err != nil {
		return "", err
	}
	rootPath, err := s.Layout.Store(fresh, t.d)
	if err != nil {
		return "", err
	}
	if pending && oldPath != rootPath {
		if err := placement.Remove(oldPath); err != nil {
			return "", err
		}
	}
	if err := s.Repo.Commit(syncMessage(id), s.scope(oldPath, t.rootPath, rootPath)...); err != nil {
		return "", err
	}
	if opened == nil {
		return rootPath, nil
	}
	p, ok := pathOf(fresh, opened)
	if !ok {
		return rootPath, nil
	}
	return s.Layout.Locate(fresh, p, t.d), nil
}

func (s *Session) finishOffline(t *tree, virtual bool) (string, error) {
	node := t.node()
	if len(t.chain) == 0 && node.State.Kind == issue.Duplicate {
		if err := placement.Remove(t.rootPath); err != nil {
			return "", err
		}
		fmt.Fprintf(s.out(), "Removed %s as duplicate of #%d\n", t.rootPath, node.State.Duplicate)
		return "", nil
	}
	rootPath, err := s.Layout.Store(t.root, t.d)
	if err != nil {
		return "", err
	}
	if virtual {
		if err := s.Repo.Commit(syncMessage(t.id()), s.scope(t.rootPath, rootPath)...); err != nil {
			return "", err
		}
	}
	return s.Layout.Locate(t.root, t.chain, t.d), nil
}

// checkDuplicates verifies every newly set duplicate target exists.
func (s *Session) checkDuplicates(ctx context.Context, root, cons *issue.Issue, offline bool) error {
	before := byNumber(cons)
	for _, n := range issue.Walk(root) {
		if n.State.Kind != issue.Duplicate {
			continue
		}
		if c, ok := before[n.Number]; ok && n.Number != 0 && c.State == n.State {
			continue
		}
		target := n.State.Duplicate
		if target == n.Number {
			return &ReferenceError{From: n.Identity, Target: target, Err: errors.New("an issue cannot duplicate itself")}
		}
		var err error
		if offline {
			_, err = s.Layout.Find(n.Owner, n.Repo, target)
		} else {
			_, err = s.Client.FetchIssue(ctx, n.Owner, n.Repo, target)
		}
		if errors.Is(err, remote.ErrNotFound) || errors.Is(err, placement.ErrNotFound) {
			return &ReferenceError{From: n.Identity, Target: target, Err: err}
		}
		if err != nil {
			return fmt.Errorf("failed to check duplicate target #%d: %w", target, err)
		}
	}
	return nil
}

// scope lists the placements a sync of a tree may touch: root files or
// directories, old and new.
func (s *Session) scope(paths ...string) []string {
	var res []string
	for _, p := range paths {
		if strings.HasPrefix(filepath.Base(p), placement.MainName+".") {
			p = filepath.Dir(p)
		}
		if !slices.Contains(res, p) {
			res = append(res, p)
		}
	}
	return res
}

func syncMessage(id issue.Identity) string {
	return "sync: " + id.String()
}

func byNumber(root *issue.Issue) map[uint64]*issue.Issue {
	res := map[uint64]*issue.Issue{}
	for _, n := range issue.Walk(root) {
		if n.Number != 0 {
			res[n.Number] = n
		}
	}
	return res
}

// find returns the node of root standing for want: the same number, or
// for a pending issue the first pending node with its title.
func find(root, want *issue.Issue) *issue.Issue {
	for _, n := range issue.Walk(root) {
		if want.Number != 0 && n.Number == want.Number {
			return n
		}
		if want.Number == 0 && n.Pending() && n.Title == want.Title {
			return n
		}
	}
	return nil
}

func pathOf(root, want *issue.Issue) (issue.Path, bool) {
	for p, n := range issue.Walk(root) {
		if (want.Number != 0 && n.Number == want.Number) || n == want ||
			(want.Number == 0 && n.Pending() && n.Title == want.Title) {
			return slices.Clone(p), true
		}
	}
	return nil, false
}

func warnSkipped(n *issue.Issue, what string) {
	log.Warn().Str("issue", n.Identity.String()).Msg(what)
}
