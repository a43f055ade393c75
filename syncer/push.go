package syncer

import (
	"context"
	"fmt"
	"slices"

	"github.com/signadot/issue-sync/codec"
	"github.com/signadot/issue-sync/debug"
	"github.com/signadot/issue-sync/issue"
	"github.com/signadot/issue-sync/remote"
)

// Push makes the remote match local, given base as the remote state local
// was merged with (nil when nothing exists remotely yet). Numbers and ids
// assigned by the remote are filled into local.
//
// Pending issues are created first, parents before children, then pending
// comments in document order. Updates follow, and comment deletions come
// last.
func (s *Session) Push(ctx context.Context, base, local *issue.Issue) error {
	p := &pusher{s: s, ctx: ctx, owner: local.Owner, repo: local.Repo, created: map[*issue.Issue]bool{}}
	if err := p.createIssues(local); err != nil {
		return err
	}
	if err := p.createComments(local); err != nil {
		return err
	}
	deletes, err := p.update(base, local)
	if err != nil {
		return err
	}
	for _, id := range deletes {
		if err := s.Client.DeleteComment(ctx, p.owner, p.repo, id); err != nil {
			return fmt.Errorf("failed to delete comment %d: %w", id, err)
		}
	}
	return nil
}

type pusher struct {
	s           *Session
	ctx         context.Context
	owner, repo string
	created     map[*issue.Issue]bool
}

func (p *pusher) createIssues(root *issue.Issue) error {
	if root.Pending() {
		if err := p.create(nil, root); err != nil {
			return err
		}
	}
	level := []*issue.Issue{root}
	for len(level) > 0 {
		var next []*issue.Issue
		for _, parent := range level {
			for _, c := range parent.Children {
				if c.Pending() {
					if err := p.create(parent, c); err != nil {
						return err
					}
				}
				next = append(next, c)
			}
		}
		level = next
	}
	return nil
}

func (p *pusher) create(parent, is *issue.Issue) error {
	body := codec.RemoteBody(is.Body, is.Blockers)
	ri, err := p.s.Client.CreateIssue(p.ctx, p.owner, p.repo, is.Title, body)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", is.Title, err)
	}
	is.Number, is.URL = ri.Number, ri.URL
	is.Owner, is.Repo = p.owner, p.repo
	p.created[is] = true
	if parent != nil {
		if err := p.s.Client.AddSubIssue(p.ctx, p.owner, p.repo, parent.Number, is.Number); err != nil {
			return fmt.Errorf("failed to add %s below #%d: %w", is.Identity, parent.Number, err)
		}
	}
	if is.State.IsClosed() {
		if err := p.s.Client.UpdateIssueState(p.ctx, p.owner, p.repo, is.Number, remote.StateOf(is.State)); err != nil {
			return fmt.Errorf("failed to close %s: %w", is.Identity, err)
		}
	}
	if len(is.Labels) > 0 {
		if err := p.s.Client.SetIssueLabels(p.ctx, p.owner, p.repo, is.Number, is.Labels); err != nil {
			return fmt.Errorf("failed to label %s: %w", is.Identity, err)
		}
	}
	fmt.Fprintf(p.s.out(), "Created %s %s\n", is.Identity, is.Title)
	return nil
}

// createComments runs sequentially: the remote orders comments by
// creation.
func (p *pusher) createComments(root *issue.Issue) error {
	for _, n := range issue.Walk(root) {
		for _, c := range n.Comments {
			if c.ID != 0 || issue.TrimBody(c.Body) == "" {
				continue
			}
			rc, err := p.s.Client.CreateComment(p.ctx, p.owner, p.repo, n.Number, c.Body)
			if err != nil {
				return fmt.Errorf("failed to comment on %s: %w", n.Identity, err)
			}
			c.ID, c.Author = rc.ID, rc.Author
		}
	}
	return nil
}

// update pushes changed fields of issues that existed in base and returns
// the comments to delete.
func (p *pusher) update(base, local *issue.Issue) ([]uint64, error) {
	before := byNumber(base)
	var deletes []uint64
	for _, n := range issue.Walk(local) {
		if p.created[n] || n.Omitted {
			continue
		}
		b, ok := before[n.Number]
		if !ok {
			warnSkipped(n, "not a sub-issue remotely, not pushed")
			continue
		}
		if err := p.updateIssue(n, b); err != nil {
			return nil, err
		}
		ids := map[uint64]bool{}
		for _, c := range n.Comments {
			ids[c.ID] = true
		}
		for _, bc := range b.Comments {
			if !ids[bc.ID] && !bc.Immutable {
				deletes = append(deletes, bc.ID)
			}
		}
	}
	return deletes, nil
}

func (p *pusher) updateIssue(n, b *issue.Issue) error {
	c := p.s.Client
	if n.Title != b.Title {
		if err := c.UpdateIssueTitle(p.ctx, p.owner, p.repo, n.Number, n.Title); err != nil {
			return fmt.Errorf("failed to update title of %s: %w", n.Identity, err)
		}
	}
	if !sameLabels(n.Labels, b.Labels) {
		if err := c.SetIssueLabels(p.ctx, p.owner, p.repo, n.Number, n.Labels); err != nil {
			return fmt.Errorf("failed to update labels of %s: %w", n.Identity, err)
		}
	}
	if !n.Immutable && (issue.TrimBody(n.Body) != issue.TrimBody(b.Body) || !issue.BlockersEqual(n.Blockers, b.Blockers)) {
		if err := c.UpdateIssueBody(p.ctx, p.owner, p.repo, n.Number, codec.RemoteBody(n.Body, n.Blockers)); err != nil {
			return fmt.Errorf("failed to update body of %s: %w", n.Identity, err)
		}
	}
	if n.State != b.State {
		if err := c.UpdateIssueState(p.ctx, p.owner, p.repo, n.Number, remote.StateOf(n.State)); err != nil {
			return fmt.Errorf("failed to update state of %s: %w", n.Identity, err)
		}
	}
	old := map[uint64]*issue.Comment{}
	for _, bc := range b.Comments {
		old[bc.ID] = bc
	}
	for _, lc := range n.Comments {
		bc, ok := old[lc.ID]
		if !ok || lc.Immutable || issue.TrimBody(lc.Body) == issue.TrimBody(bc.Body) {
			continue
		}
		if err := c.UpdateComment(p.ctx, p.owner, p.repo, lc.ID, lc.Body); err != nil {
			return fmt.Errorf("failed to update comment %d: %w", lc.ID, err)
		}
	}
	if debug.Fetch() {
		debug.Logf("pushed %s", n.Identity)
	}
	return nil
}

func sameLabels(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
