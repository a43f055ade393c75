// Package remotetest provides an in-memory remote.Client.
package remotetest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/signadot/issue-sync/remote"
)

type entry struct {
	issue    remote.Issue
	owner    string
	repo     string
	comments []remote.Comment
	children []uint64
	parent   uint64
}

// Fake is a remote.Client over in-memory state. It records every mutating
// call in Calls and fails any call whose key is present in Fail.
type Fake struct {
	User string
	// Fail maps call keys such as "FetchIssue o/r#3" to the error to return.
	Fail map[string]error

	mu          sync.Mutex
	entries     map[string]*entry
	nextID      int64
	nextComment uint64
	calls       []string
}

var _ remote.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		User:        "me",
		Fail:        map[string]error{},
		entries:     map[string]*entry{},
		nextComment: 1000,
	}
}

func key(owner, repo string, n uint64) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, n)
}

func (f *Fake) failure(op, k string) error {
	if err, ok := f.Fail[op+" "+k]; ok {
		return err
	}
	return nil
}

func (f *Fake) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// Calls returns the mutating calls made so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Put stores is, replacing an existing issue with the same number.
// Author defaults to the fake's user.
func (f *Fake) Put(owner, repo string, is remote.Issue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(owner, repo, is)
}

func (f *Fake) put(owner, repo string, is remote.Issue) *entry {
	if is.Author == "" {
		is.Author = f.User
	}
	f.nextID++
	is.ID = f.nextID
	if is.URL == "" {
		is.URL = fmt.Sprintf("https://github.com/%s/%s/issues/%d", owner, repo, is.Number)
	}
	k := key(owner, repo, is.Number)
	e, ok := f.entries[k]
	if !ok {
		e = &entry{owner: owner, repo: repo}
		f.entries[k] = e
	}
	e.issue = is
	return e
}

// Link makes child a sub-issue of parent.
func (f *Fake) Link(owner, repo string, parent, child uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.link(owner, repo, parent, child)
}

func (f *Fake) link(owner, repo string, parent, child uint64) error {
	p, ok := f.entries[key(owner, repo, parent)]
	if !ok {
		return f.notFound("add sub-issue", owner, repo, parent)
	}
	c, ok := f.entries[key(owner, repo, child)]
	if !ok {
		return f.notFound("add sub-issue", owner, repo, child)
	}
	p.children = append(p.children, child)
	c.parent = parent
	return nil
}

// PutComment appends a comment to issue n and returns its id.
func (f *Fake) PutComment(owner, repo string, n uint64, c remote.Comment) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.entries[key(owner, repo, n)]
	if c.ID == 0 {
		f.nextComment++
		c.ID = f.nextComment
	}
	if c.Author == "" {
		c.Author = f.User
	}
	e.comments = append(e.comments, c)
	return c.ID
}

// Issue returns a copy of the stored issue.
func (f *Fake) Issue(owner, repo string, n uint64) (remote.Issue, []remote.Comment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key(owner, repo, n)]
	if !ok {
		return remote.Issue{}, nil, false
	}
	return e.issue, slices.Clone(e.comments), true
}

func (f *Fake) notFound(op, owner, repo string, n uint64) error {
	return fmt.Errorf("%s %s: %w", op, key(owner, repo, n), &remote.Error{Op: op, Status: 404})
}

func (f *Fake) get(op, owner, repo string, n uint64) (*entry, error) {
	k := key(owner, repo, n)
	if err := f.failure(op, k); err != nil {
		return nil, err
	}
	e, ok := f.entries[k]
	if !ok {
		return nil, f.notFound(op, owner, repo, n)
	}
	return e, nil
}

func (f *Fake) FetchIssue(_ context.Context, owner, repo string, n uint64) (*remote.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.get("FetchIssue", owner, repo, n)
	if err != nil {
		return nil, err
	}
	is := e.issue
	is.Labels = slices.Clone(is.Labels)
	return &is, nil
}

func (f *Fake) FetchComments(_ context.Context, owner, repo string, n uint64) ([]remote.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.get("FetchComments", owner, repo, n)
	if err != nil {
		return nil, err
	}
	return slices.Clone(e.comments), nil
}

func (f *Fake) FetchSubIssues(_ context.Context, owner, repo string, n uint64) ([]remote.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.get("FetchSubIssues", owner, repo, n)
	if err != nil {
		return nil, err
	}
	res := make([]remote.Issue, 0, len(e.children))
	for _, c := range e.children {
		res = append(res, f.entries[key(owner, repo, c)].issue)
	}
	return res, nil
}

func (f *Fake) FetchParent(_ context.Context, owner, repo string, n uint64) (*remote.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.get("FetchParent", owner, repo, n)
	if err != nil {
		return nil, err
	}
	if e.parent == 0 {
		return nil, nil
	}
	p := f.entries[key(owner, repo, e.parent)].issue
	return &p, nil
}

func (f *Fake) nextNumber(owner, repo string) uint64 {
	var n uint64
	for _, e := range f.entries {
		if e.owner == owner && e.repo == repo {
			n = max(n, e.issue.Number)
		}
	}
	return n + 1
}

func (f *Fake) CreateIssue(_ context.Context, owner, repo, title, body string) (*remote.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CreateIssue", owner+"/"+repo+" "+title); err != nil {
		return nil, err
	}
	e := f.put(owner, repo, remote.Issue{Number: f.nextNumber(owner, repo), Title: title, Body: body})
	f.record("CreateIssue %s %q", key(owner, repo, e.issue.Number), title)
	is := e.issue
	return &is, nil
}

func (f *Fake) AddSubIssue(_ context.Context, owner, repo string, parent, child uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.link(owner, repo, parent, child); err != nil {
		return err
	}
	f.record("AddSubIssue %d %d", parent, child)
	return nil
}

func (f *Fake) UpdateIssueState(_ context.Context, owner, repo string, n uint64, state remote.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.get("UpdateIssueState", owner, repo, n)
	if err != nil {
		return err
	}
	e.issue.State = state
	f.record("UpdateIssueState %d %v %s", n, state.Closed, state.Reason)
	return nil
}

func (f *Fake) UpdateIssueBody(_ context.Context, owner, repo string, n uint64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.get("UpdateIssueBody", owner, repo, n)
	if err != nil {
		return err
	}
	e.issue.Body = body
	f.record("UpdateIssueBody %d", n)
	return nil
}

func (f *Fake) UpdateIssueTitle(_ context.Context, owner, repo string, n uint64, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.get("UpdateIssueTitle", owner, repo, n)
	if err != nil {
		return err
	}
	e.issue.Title = title
	f.record("UpdateIssueTitle %d %q", n, title)
	return nil
}

func (f *Fake) SetIssueLabels(_ context.Context, owner, repo string, n uint64, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.get("SetIssueLabels", owner, repo, n)
	if err != nil {
		return err
	}
	e.issue.Labels = slices.Clone(labels)
	f.record("SetIssueLabels %d %s", n, strings.Join(labels, ","))
	return nil
}

func (f *Fake) CreateComment(_ context.Context, owner, repo string, n uint64, body string) (*remote.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.get("CreateComment", owner, repo, n)
	if err != nil {
		return nil, err
	}
	f.nextComment++
	c := remote.Comment{ID: f.nextComment, Body: body, Author: f.User}
	e.comments = append(e.comments, c)
	f.record("CreateComment %d %q", n, body)
	return &c, nil
}

func (f *Fake) findComment(owner, repo string, id uint64) (*entry, int) {
	for _, e := range f.entries {
		if e.owner != owner || e.repo != repo {
			continue
		}
		for i := range e.comments {
			if e.comments[i].ID == id {
				return e, i
			}
		}
	}
	return nil, -1
}

func (f *Fake) UpdateComment(_ context.Context, owner, repo string, id uint64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, i := f.findComment(owner, repo, id)
	if e == nil {
		return &remote.Error{Op: "update comment", Status: 404}
	}
	e.comments[i].Body = body
	f.record("UpdateComment %d", id)
	return nil
}

func (f *Fake) DeleteComment(_ context.Context, owner, repo string, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, i := f.findComment(owner, repo, id)
	if e == nil {
		return &remote.Error{Op: "delete comment", Status: 404}
	}
	e.comments = slices.Delete(e.comments, i, i+1)
	f.record("DeleteComment %d", id)
	return nil
}

func (f *Fake) AuthenticatedUser(context.Context) (string, error) {
	return f.User, nil
}
