package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/issue-sync/codec"
	"github.com/signadot/issue-sync/issue"
	"github.com/signadot/issue-sync/placement"
	"github.com/signadot/issue-sync/remote"
	"github.com/signadot/issue-sync/remote/remotetest"
)

func newFetcher(t *testing.T, fake *remotetest.Fake) *Fetcher {
	return &Fetcher{
		Client:  fake,
		Layout:  placement.Layout{Root: t.TempDir()},
		Dialect: codec.Markdown,
	}
}

func chain(fake *remotetest.Fake) {
	fake.Put("o", "r", remote.Issue{Number: 1, Title: "Root", Body: "root body"})
	fake.Put("o", "r", remote.Issue{Number: 2, Title: "Mid"})
	fake.Put("o", "r", remote.Issue{Number: 3, Title: "Leaf"})
	fake.Link("o", "r", 1, 2)
	fake.Link("o", "r", 2, 3)
}

func TestFromRemote(t *testing.T) {
	ri := &remote.Issue{
		Number: 4, Title: "T", Author: "alice", Labels: []string{"bug"},
		Body:  "text\n\n# Blockers\n- first",
		State: remote.State{Closed: true, Reason: "completed"},
		URL:   "https://github.com/o/r/issues/4",
	}
	comments := []remote.Comment{{ID: 9, Body: "mine", Author: "me"}, {ID: 10, Body: "theirs", Author: "alice"}}
	got := FromRemote(ri, comments, "o", "r", "me")
	want := &issue.Issue{
		Identity:  issue.Identity{Owner: "o", Repo: "r", Number: 4},
		URL:       "https://github.com/o/r/issues/4",
		Title:     "T",
		Labels:    []string{"bug"},
		Body:      "text",
		State:     issue.CloseState{Kind: issue.Closed},
		Immutable: true,
		Blockers:  &issue.Blockers{Lines: []issue.BlockerLine{{Text: "first"}}},
		Comments: []*issue.Comment{
			{ID: 9, Author: "me", Body: "mine"},
			{ID: 10, Author: "alice", Body: "theirs", Immutable: true},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FromRemote (-want +got):\n%s", diff)
	}
}

func TestTreeSkipsFailingSubIssue(t *testing.T) {
	fake := remotetest.New()
	fake.Put("o", "r", remote.Issue{Number: 1, Title: "Root"})
	for _, n := range []uint64{2, 3, 4} {
		fake.Put("o", "r", remote.Issue{Number: n, Title: "c"})
		fake.Link("o", "r", 1, n)
	}
	fake.Fail["FetchComments o/r#3"] = errors.New("boom")
	f := newFetcher(t, fake)
	f.Parallel = 2
	tree, err := f.Tree(context.Background(), "o", "r", 1)
	if err != nil {
		t.Fatal(err)
	}
	var got []uint64
	for _, c := range tree.Children {
		got = append(got, c.Number)
	}
	if diff := cmp.Diff([]uint64{2, 4}, got); diff != "" {
		t.Errorf("children (-want +got):\n%s", diff)
	}

	fake.Fail["FetchIssue o/r#1"] = errors.New("down")
	if _, err := f.Tree(context.Background(), "o", "r", 1); err == nil {
		t.Error("expected root failure")
	}
}

func TestAncestry(t *testing.T) {
	fake := remotetest.New()
	chain(fake)
	f := newFetcher(t, fake)
	anc, err := f.Ancestry(context.Background(), "o", "r", 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []issue.FetchedIssue{
		{Owner: "o", Repo: "r", Number: 1, Title: "Root"},
		{Owner: "o", Repo: "r", Number: 2, Title: "Mid"},
	}
	if diff := cmp.Diff(want, anc); diff != "" {
		t.Errorf("Ancestry (-want +got):\n%s", diff)
	}
	if anc, _ := f.Ancestry(context.Background(), "o", "r", 1); len(anc) != 0 {
		t.Errorf("root ancestry %v", anc)
	}
}

func TestFetchAndStoreMigrates(t *testing.T) {
	fake := remotetest.New()
	chain(fake)
	f := newFetcher(t, fake)
	ctx := context.Background()
	proj := f.Layout.ProjectDir("o", "r")

	p, err := f.FetchAndStore(ctx, "o", "r", 3)
	if err != nil {
		t.Fatal(err)
	}
	leaf := filepath.Join(proj, "1_-_Root", "2_-_Mid", "3_-_Leaf.md")
	if p != leaf {
		t.Fatalf("path %s, want %s", p, leaf)
	}
	if _, err := os.Stat(filepath.Join(proj, "1_-_Root", "__main__.md")); err != nil {
		t.Errorf("root main file: %v", err)
	}

	// the leaf gains a sub-issue and becomes a directory
	fake.Put("o", "r", remote.Issue{Number: 4, Title: "New"})
	fake.Link("o", "r", 3, 4)
	p, err = f.FetchAndStore(ctx, "o", "r", 3)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(proj, "1_-_Root", "2_-_Mid", "3_-_Leaf", "__main__.md"); p != want {
		t.Errorf("path %s, want %s", p, want)
	}
	if _, err := os.Stat(leaf); !os.IsNotExist(err) {
		t.Errorf("old flat file still present: %v", err)
	}

	src, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := codec.Parse(codec.ParseContext{Source: string(src), Name: p}, codec.Markdown)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Number != 3 || len(parsed.Children) != 1 || parsed.Children[0].Number != 4 {
		t.Errorf("unexpected stored tree %+v", parsed)
	}
}
