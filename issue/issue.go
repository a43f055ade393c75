// Package issue provides the document model for locally mirrored issues.
package issue

import (
	"fmt"
	"strings"
)

// CloseKind is the kind of a CloseState.
type CloseKind int

const (
	Open CloseKind = iota
	Closed
	NotPlanned
	Duplicate
)

// CloseState is the open/closed state of an issue. Duplicate carries the
// number of the issue this one duplicates.
type CloseState struct {
	Kind      CloseKind
	Duplicate uint64
}

func (s CloseState) IsClosed() bool {
	return s.Kind != Open
}

// Checkbox returns the text placed between the brackets of a title line.
func (s CloseState) Checkbox() string {
	switch s.Kind {
	case Closed:
		return "x"
	case NotPlanned:
		return "-"
	case Duplicate:
		return fmt.Sprintf("%d", s.Duplicate)
	default:
		return " "
	}
}

func (s CloseState) String() string {
	switch s.Kind {
	case Closed:
		return "closed"
	case NotPlanned:
		return "not-planned"
	case Duplicate:
		return fmt.Sprintf("duplicate of #%d", s.Duplicate)
	default:
		return "open"
	}
}

// Identity locates an issue. A zero Number marks an issue that exists only
// locally and still has to be created remotely.
type Identity struct {
	Owner  string
	Repo   string
	Number uint64
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%s#%d", id.Owner, id.Repo, id.Number)
}

// Comment is a comment on an issue. ID is 0 until the comment is pushed.
type Comment struct {
	ID        uint64
	Author    string
	Body      string
	Immutable bool
}

// BlockerLine is one line of a blockers section. Header is the header level
// (1..6) of a grouping line, or 0 for an item. Depth is the nesting of an item
// below its header.
type BlockerLine struct {
	Text   string
	Header int
	Depth  int
}

// Blockers is the blockers section of an issue.
type Blockers struct {
	Lines []BlockerLine
}

// Items returns the non-header lines.
func (b *Blockers) Items() []BlockerLine {
	if b == nil {
		return nil
	}
	var res []BlockerLine
	for _, l := range b.Lines {
		if l.Header == 0 {
			res = append(res, l)
		}
	}
	return res
}

type Issue struct {
	Identity
	URL    string
	Title  string
	Labels []string
	Body   string
	State  CloseState

	// Immutable marks a body authored by someone else.
	Immutable bool
	// Omitted is set on issues parsed from a folded (closed) entry; their
	// content is not known from the text.
	Omitted bool
	// Expanded asks for a closed sub-issue to be written in full instead
	// of folded.
	Expanded bool

	Comments []*Comment
	Children []*Issue
	Blockers *Blockers
}

// Pending reports whether the issue still has to be created remotely.
func (is *Issue) Pending() bool {
	return is.Number == 0
}

func (is *Issue) HasChildren() bool {
	return len(is.Children) > 0
}

// FindChild returns the direct child with the given number.
func (is *Issue) FindChild(number uint64) *Issue {
	if number == 0 {
		return nil
	}
	for _, c := range is.Children {
		if c.Number == number {
			return c
		}
	}
	return nil
}

// Clone returns a deep copy.
func (is *Issue) Clone() *Issue {
	if is == nil {
		return nil
	}
	res := *is
	if is.Labels != nil {
		res.Labels = append([]string{}, is.Labels...)
	}
	if is.Comments != nil {
		res.Comments = make([]*Comment, len(is.Comments))
		for i, c := range is.Comments {
			cc := *c
			res.Comments[i] = &cc
		}
	}
	if is.Children != nil {
		res.Children = make([]*Issue, len(is.Children))
		for i, c := range is.Children {
			res.Children[i] = c.Clone()
		}
	}
	if is.Blockers != nil {
		res.Blockers = &Blockers{}
		if is.Blockers.Lines != nil {
			res.Blockers.Lines = append([]BlockerLine{}, is.Blockers.Lines...)
		}
	}
	return &res
}

// FetchedIssue is an element of an ancestry chain: enough to rebuild a
// storage path without fetching again.
type FetchedIssue struct {
	Owner  string
	Repo   string
	Number uint64
	Title  string
}

// IssueURL returns the canonical web URL of an issue.
func IssueURL(owner, repo string, number uint64) string {
	return fmt.Sprintf("https://github.com/%s/%s/issues/%d", owner, repo, number)
}

// CommentURL returns the web URL of a comment on an issue.
func CommentURL(issueURL string, id uint64) string {
	return fmt.Sprintf("%s#issuecomment-%d", strings.TrimSuffix(issueURL, "/"), id)
}
