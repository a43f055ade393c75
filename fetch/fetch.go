// Package fetch pulls issue trees from the remote and stores them locally.
package fetch

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/signadot/issue-sync/codec"
	"github.com/signadot/issue-sync/debug"
	"github.com/signadot/issue-sync/issue"
	"github.com/signadot/issue-sync/placement"
	"github.com/signadot/issue-sync/remote"
	"golang.org/x/sync/errgroup"
)

const defaultParallel = 4

type Fetcher struct {
	Client  remote.Client
	Layout  placement.Layout
	Dialect codec.Dialect
	// Parallel caps concurrent sub-issue fetches per node.
	Parallel int
}

// FromRemote converts a remote issue and its comments. Content authored by
// anyone but user is immutable; an empty user owns everything.
func FromRemote(ri *remote.Issue, comments []remote.Comment, owner, repo, user string) *issue.Issue {
	body, blockers := codec.SplitRemoteBody(ri.Body)
	is := &issue.Issue{
		Identity:  issue.Identity{Owner: owner, Repo: repo, Number: ri.Number},
		URL:       ri.URL,
		Title:     ri.Title,
		Labels:    slices.Clone(ri.Labels),
		Body:      body,
		Blockers:  blockers,
		State:     ri.State.CloseState(),
		Immutable: user != "" && ri.Author != "" && ri.Author != user,
	}
	for _, c := range comments {
		is.Comments = append(is.Comments, &issue.Comment{
			ID:        c.ID,
			Author:    c.Author,
			Body:      c.Body,
			Immutable: user != "" && c.Author != "" && c.Author != user,
		})
	}
	return is
}

// Tree fetches issue n with all of its comments and sub-issues. Failing
// sub-issues are logged and left out; a failing root is an error.
func (f *Fetcher) Tree(ctx context.Context, owner, repo string, n uint64) (*issue.Issue, error) {
	user, err := f.Client.AuthenticatedUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated user: %w", err)
	}
	return f.node(ctx, owner, repo, n, user)
}

func (f *Fetcher) node(ctx context.Context, owner, repo string, n uint64, user string) (*issue.Issue, error) {
	var (
		ri       *remote.Issue
		comments []remote.Comment
		subs     []remote.Issue
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ri, err = f.Client.FetchIssue(gctx, owner, repo, n)
		return err
	})
	g.Go(func() error {
		var err error
		comments, err = f.Client.FetchComments(gctx, owner, repo, n)
		return err
	})
	g.Go(func() error {
		var err error
		subs, err = f.Client.FetchSubIssues(gctx, owner, repo, n)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch %s/%s#%d: %w", owner, repo, n, err)
	}
	is := FromRemote(ri, comments, owner, repo, user)
	if debug.Fetch() {
		debug.Logf("fetched %s with %d comments and %d sub-issues", is.Identity, len(comments), len(subs))
	}
	if len(subs) == 0 {
		return is, nil
	}

	children := make([]*issue.Issue, len(subs))
	cg, cctx := errgroup.WithContext(ctx)
	cg.SetLimit(f.parallel())
	for i := range subs {
		cg.Go(func() error {
			c, err := f.node(cctx, owner, repo, subs[i].Number, user)
			if err != nil {
				log.Warn().Err(err).Uint64("issue", subs[i].Number).Msg("skipping sub-issue")
				return nil
			}
			children[i] = c
			return nil
		})
	}
	_ = cg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, c := range children {
		if c != nil {
			is.Children = append(is.Children, c)
		}
	}
	return is, nil
}

func (f *Fetcher) parallel() int {
	if f.Parallel > 0 {
		return f.Parallel
	}
	return defaultParallel
}

// Ancestry returns the ancestors of n, root first. It is empty for a root
// issue.
func (f *Fetcher) Ancestry(ctx context.Context, owner, repo string, n uint64) ([]issue.FetchedIssue, error) {
	var res []issue.FetchedIssue
	seen := map[uint64]bool{n: true}
	for cur := n; ; {
		p, err := f.Client.FetchParent(ctx, owner, repo, cur)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch parent of #%d: %w", cur, err)
		}
		if p == nil {
			break
		}
		if seen[p.Number] {
			return nil, fmt.Errorf("parent cycle at #%d", p.Number)
		}
		seen[p.Number] = true
		res = append(res, issue.FetchedIssue{Owner: owner, Repo: repo, Number: p.Number, Title: p.Title})
		cur = p.Number
	}
	slices.Reverse(res)
	return res, nil
}

// FetchAndStore fetches the whole tree containing n, starting from its
// root ancestor, stores it and returns the path of n's file.
func (f *Fetcher) FetchAndStore(ctx context.Context, owner, repo string, n uint64) (string, error) {
	anc, err := f.Ancestry(ctx, owner, repo, n)
	if err != nil {
		return "", err
	}
	rootN := n
	if len(anc) > 0 {
		rootN = anc[0].Number
	}
	root, err := f.Tree(ctx, owner, repo, rootN)
	if err != nil {
		return "", err
	}
	return f.Store(root, n)
}

// Store writes root and returns the path of the node numbered n.
func (f *Fetcher) Store(root *issue.Issue, n uint64) (string, error) {
	var at issue.Path
	found := false
	for p, node := range issue.Walk(root) {
		if node.Number == n {
			at, found = slices.Clone(p), true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("#%d is missing from the tree of #%d", n, root.Number)
	}
	if _, err := f.Layout.Store(root, f.Dialect); err != nil {
		return "", fmt.Errorf("failed to store %s: %w", root.Identity, err)
	}
	return f.Layout.Locate(root, at, f.Dialect), nil
}
