package issue

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func tree() *Issue {
	return &Issue{
		Identity: Identity{Owner: "o", Repo: "r", Number: 1},
		Title:    "root",
		Body:     "body",
		Comments: []*Comment{{ID: 7, Body: "c"}},
		Children: []*Issue{
			{
				Identity: Identity{Owner: "o", Repo: "r", Number: 2},
				Title:    "a",
				Children: []*Issue{{Identity: Identity{Owner: "o", Repo: "r", Number: 4}, Title: "a1"}},
			},
			{Identity: Identity{Owner: "o", Repo: "r", Number: 3}, Title: "b"},
		},
		Blockers: &Blockers{Lines: []BlockerLine{{Text: "x"}}},
	}
}

func TestWalkPreOrder(t *testing.T) {
	var titles []string
	var paths []Path
	for p, n := range Walk(tree()) {
		titles = append(titles, n.Title)
		paths = append(paths, append(Path{}, p...))
	}
	if diff := cmp.Diff([]string{"root", "a", "a1", "b"}, titles); diff != "" {
		t.Errorf("walk order (-want +got):\n%s", diff)
	}
	want := []Path{{}, {0}, {0, 0}, {1}}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("walk paths (-want +got):\n%s", diff)
	}
}

func TestWalkStops(t *testing.T) {
	n := 0
	for range Walk(tree()) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("expected early stop after 2, got %d", n)
	}
}

func TestAt(t *testing.T) {
	root := tree()
	if got := At(root, Path{0, 0}); got == nil || got.Title != "a1" {
		t.Errorf("At({0,0}) = %v", got)
	}
	if got := At(root, Path{5}); got != nil {
		t.Errorf("At out of range = %v", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	a := tree()
	b := a.Clone()
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("clone differs:\n%s", diff)
	}
	b.Children[0].Title = "changed"
	b.Comments[0].Body = "changed"
	b.Blockers.Lines[0].Text = "changed"
	if a.Children[0].Title != "a" || a.Comments[0].Body != "c" || a.Blockers.Lines[0].Text != "x" {
		t.Error("mutating the clone changed the original")
	}
}

func TestEqualIgnoresPresentation(t *testing.T) {
	a := tree()
	b := tree()
	b.URL = "https://github.com/o/r/issues/1"
	b.Body = "body  \n\n"
	b.Omitted = true
	b.Comments[0].Author = "someone"
	if !Equal(a, b) {
		t.Error("expected presentation-only differences to compare equal")
	}
	b.Children[1].State = CloseState{Kind: Closed}
	if Equal(a, b) {
		t.Error("expected child state change to be detected")
	}
}

func TestBlockersEqualNilEmpty(t *testing.T) {
	if !BlockersEqual(nil, &Blockers{}) {
		t.Error("nil and empty blockers should be equal")
	}
}

func TestCheckbox(t *testing.T) {
	cases := map[CloseState]string{
		{}:                               " ",
		{Kind: Closed}:                   "x",
		{Kind: NotPlanned}:               "-",
		{Kind: Duplicate, Duplicate: 42}: "42",
	}
	for s, want := range cases {
		if got := s.Checkbox(); got != want {
			t.Errorf("%v: got %q want %q", s, got, want)
		}
	}
}

func TestParseURL(t *testing.T) {
	id, err := ParseURL("https://github.com/owner/repo/issues/123")
	if err != nil {
		t.Fatal(err)
	}
	if id != (Identity{Owner: "owner", Repo: "repo", Number: 123}) {
		t.Errorf("got %v", id)
	}
	if _, err := ParseURL("github.com/owner/repo/issues/1#issuecomment-5"); err != nil {
		t.Errorf("comment url: %v", err)
	}
	for _, bad := range []string{"", "https://github.com/owner/repo", "git@github.com:owner/repo", "https://github.com/o/r/pull/1"} {
		if _, err := ParseURL(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestNumberFromURL(t *testing.T) {
	if n, ok := NumberFromURL(".../1"); !ok || n != 1 {
		t.Errorf("got %d %v", n, ok)
	}
	if _, ok := NumberFromURL("nope"); ok {
		t.Error("expected failure")
	}
}
