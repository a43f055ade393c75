// Package remote is the boundary to the issue tracker.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/signadot/issue-sync/issue"
)

var ErrNotFound = errors.New("not found")

// Issue is an issue as reported by the tracker.
type Issue struct {
	// ID is the tracker-wide id, distinct from the per-repo Number.
	ID     int64
	Number uint64
	Title  string
	Body   string
	State  State
	Author string
	Labels []string
	URL    string
}

type Comment struct {
	ID     uint64
	Body   string
	Author string
}

// State is the tracker's open/closed state with the reason for closing.
type State struct {
	Closed bool
	// Reason is one of completed, not_planned, duplicate or reopened.
	Reason string
}

// StateOf maps a local close state to its remote form.
func StateOf(cs issue.CloseState) State {
	switch cs.Kind {
	case issue.Closed:
		return State{Closed: true, Reason: "completed"}
	case issue.NotPlanned:
		return State{Closed: true, Reason: "not_planned"}
	case issue.Duplicate:
		return State{Closed: true, Reason: "duplicate"}
	}
	return State{Reason: "reopened"}
}

// CloseState maps a remote state back. The duplicate target is not part of
// the remote state, so duplicates come back as closed.
func (s State) CloseState() issue.CloseState {
	if !s.Closed {
		return issue.CloseState{}
	}
	if s.Reason == "not_planned" {
		return issue.CloseState{Kind: issue.NotPlanned}
	}
	return issue.CloseState{Kind: issue.Closed}
}

// Client is the set of tracker calls the sync engine needs.
type Client interface {
	FetchIssue(ctx context.Context, owner, repo string, n uint64) (*Issue, error)
	FetchComments(ctx context.Context, owner, repo string, n uint64) ([]Comment, error)
	FetchSubIssues(ctx context.Context, owner, repo string, n uint64) ([]Issue, error)
	// FetchParent returns nil, nil for a root issue.
	FetchParent(ctx context.Context, owner, repo string, n uint64) (*Issue, error)
	CreateIssue(ctx context.Context, owner, repo, title, body string) (*Issue, error)
	AddSubIssue(ctx context.Context, owner, repo string, parent, child uint64) error
	UpdateIssueState(ctx context.Context, owner, repo string, n uint64, state State) error
	UpdateIssueBody(ctx context.Context, owner, repo string, n uint64, body string) error
	UpdateIssueTitle(ctx context.Context, owner, repo string, n uint64, title string) error
	SetIssueLabels(ctx context.Context, owner, repo string, n uint64, labels []string) error
	CreateComment(ctx context.Context, owner, repo string, n uint64, body string) (*Comment, error)
	UpdateComment(ctx context.Context, owner, repo string, id uint64, body string) error
	DeleteComment(ctx context.Context, owner, repo string, id uint64) error
	AuthenticatedUser(ctx context.Context) (string, error)
}

// Error is a failed tracker call.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	msg := http.StatusText(e.Status)
	if e.Message != "" {
		msg = e.Message
	}
	return fmt.Sprintf("remote %s failed (%d): %s", e.Op, e.Status, msg)
}

func (e *Error) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Retryable reports whether the call may succeed if repeated.
func (e *Error) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
