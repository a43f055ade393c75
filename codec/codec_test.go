package codec

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/issue-sync/issue"
)

var canonical = strings.Join([]string{
	"- [ ] [bug, ui] Root title <!-- https://github.com/o/r/issues/1 -->",
	"\tBody line one",
	"\t",
	"\tBody line three",
	"\t",
	"\t<!-- @alice https://github.com/o/r/issues/1#issuecomment-11 -->",
	"\tfirst comment",
	"\t",
	"\t<!-- new comment -->",
	"\tpending comment",
	"\t",
	"\t# Blockers",
	"\t# Phase one",
	"\t- a",
	"\t\t- a.1",
	"\t- b",
	"\t",
	"\t- [ ] Open child <!--sub https://github.com/o/r/issues/2 -->",
	"\t\tchild body",
	"\t",
	"\t- [x] Closed child <!--sub https://github.com/o/r/issues/3 -->",
	"\t\t<!-- omitted -->",
	"\t",
	"\t- [ ] New child",
	"",
}, "\n")

func mustParse(t *testing.T, src string, d Dialect) *issue.Issue {
	t.Helper()
	is, err := Parse(ParseContext{Source: src, Name: t.Name()}, d)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return is
}

func TestParseCanonical(t *testing.T) {
	is := mustParse(t, canonical, Markdown)
	want := &issue.Issue{
		Identity: issue.Identity{Owner: "o", Repo: "r", Number: 1},
		URL:      "https://github.com/o/r/issues/1",
		Title:    "Root title",
		Labels:   []string{"bug", "ui"},
		Body:     "Body line one\n\nBody line three",
		Comments: []*issue.Comment{
			{ID: 11, Author: "alice", Body: "first comment"},
			{Body: "pending comment"},
		},
		Blockers: &issue.Blockers{Lines: []issue.BlockerLine{
			{Text: "Phase one", Header: 1},
			{Text: "a"},
			{Text: "a.1", Depth: 1},
			{Text: "b"},
		}},
		Children: []*issue.Issue{
			{
				Identity: issue.Identity{Owner: "o", Repo: "r", Number: 2},
				URL:      "https://github.com/o/r/issues/2",
				Title:    "Open child",
				Body:     "child body",
			},
			{
				Identity: issue.Identity{Owner: "o", Repo: "r", Number: 3},
				URL:      "https://github.com/o/r/issues/3",
				Title:    "Closed child",
				State:    issue.CloseState{Kind: issue.Closed},
				Omitted:  true,
			},
			{
				Identity: issue.Identity{Owner: "o", Repo: "r"},
				Title:    "New child",
			},
		},
	}
	if diff := cmp.Diff(want, is); diff != "" {
		t.Errorf("parse (-want +got):\n%s", diff)
	}
}

func TestSerializeCanonicalIsStable(t *testing.T) {
	is := mustParse(t, canonical, Markdown)
	if got := Serialize(is, Markdown); got != canonical {
		t.Errorf("serialize mismatch:\n%s", cmp.Diff(canonical, got))
	}
}

func TestRoundTrip(t *testing.T) {
	docs := map[string]string{
		"canonical": canonical,
		"loose":     "\n- [ ] loose <!-- https://github.com/o/r/issues/9 -->\n\tbody\n\t<!-- new comment -->\n\n\tc\n\t- [ ] child\n\t\tcb\n\t\t- [x] grandchild <!--sub https://github.com/o/r/issues/10 -->\n\t\t\tdone\n\n",
		"immutable": "- [ ] t <!-- immutable https://github.com/o/r/issues/1 -->\n\t\tsomeone else's body\n\t\t\n\t\tmore\n",
		"states":    "- [-] [a] t <!-- https://github.com/o/r/issues/5 -->\n\t- [12] dup <!--sub https://github.com/o/r/issues/6 -->\n\t- [X] done\n",
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			d := mustParse(t, doc, Markdown)
			s1 := Serialize(d, Markdown)
			d2 := mustParse(t, s1, Markdown)
			if diff := cmp.Diff(d, d2); diff != "" {
				t.Errorf("parse(serialize(d)) != d (-want +got):\n%s", diff)
			}
			if s2 := Serialize(d2, Markdown); s2 != s1 {
				t.Errorf("serialization not idempotent:\n%s", cmp.Diff(s1, s2))
			}
		})
	}
}

func TestBracketTitleRoundTrip(t *testing.T) {
	cases := []*issue.Issue{
		{Title: "[WIP] fix parser"},
		{Title: "[WIP] x", Labels: []string{"bug"}},
		{Title: `\path`},
		{Title: "[a] b", Labels: []string{"c", "d"}},
	}
	for _, want := range cases {
		t.Run(want.Title, func(t *testing.T) {
			got := mustParse(t, Serialize(want, Markdown), Markdown)
			if got.Title != want.Title {
				t.Errorf("title: got %q, want %q", got.Title, want.Title)
			}
			if diff := cmp.Diff(want.Labels, got.Labels); diff != "" {
				t.Errorf("labels (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExampleBlockers(t *testing.T) {
	src := "- [ ] a <!-- .../1 -->\n\t# Blockers\n\t- x\n\t- y\n"
	is := mustParse(t, src, Markdown)
	if is.Title != "a" || is.Number != 1 {
		t.Errorf("title/number: %q %d", is.Title, is.Number)
	}
	if len(is.Comments) != 0 || len(is.Children) != 0 {
		t.Errorf("unexpected comments %d children %d", len(is.Comments), len(is.Children))
	}
	want := []issue.BlockerLine{{Text: "x"}, {Text: "y"}}
	if diff := cmp.Diff(want, is.Blockers.Lines); diff != "" {
		t.Errorf("blockers (-want +got):\n%s", diff)
	}
	if got := Serialize(is, Markdown); got != src {
		t.Errorf("got %q, want %q", got, src)
	}
}

func TestFolding(t *testing.T) {
	root := &issue.Issue{
		Identity: issue.Identity{Owner: "o", Repo: "r", Number: 1},
		Title:    "root",
		State:    issue.CloseState{Kind: issue.Closed},
		Body:     "root body",
		Children: []*issue.Issue{
			{
				Identity: issue.Identity{Owner: "o", Repo: "r", Number: 2},
				Title:    "closed",
				State:    issue.CloseState{Kind: issue.Closed},
				Body:     "secret",
				Comments: []*issue.Comment{{ID: 4, Body: "also hidden"}},
			},
			{
				Identity: issue.Identity{Owner: "o", Repo: "r", Number: 3},
				Title:    "open",
				Body:     "visible",
			},
		},
	}
	got := Serialize(root, Markdown)
	want := strings.Join([]string{
		"- [x] root <!-- https://github.com/o/r/issues/1 -->",
		"\troot body",
		"\t",
		"\t- [x] closed <!--sub https://github.com/o/r/issues/2 -->",
		"\t\t<!-- omitted -->",
		"\t",
		"\t- [ ] open <!--sub https://github.com/o/r/issues/3 -->",
		"\t\tvisible",
		"",
	}, "\n")
	if got != want {
		t.Errorf("folding:\n%s", cmp.Diff(want, got))
	}
	if root.Children[0].Body != "secret" {
		t.Error("serialize must not drop in-memory content")
	}

	root.Children[0].Expanded = true
	full := Serialize(root, Markdown)
	if !strings.Contains(full, "\t\tsecret\n") {
		t.Errorf("expanded child not rendered in full:\n%s", full)
	}
	back := mustParse(t, full, Markdown)
	if !back.Children[0].Expanded || back.Children[0].Body != "secret" {
		t.Errorf("expanded child did not round trip: %+v", back.Children[0])
	}
}

func TestIndentationNormalization(t *testing.T) {
	want := mustParse(t, canonical, Markdown)
	for _, w := range []int{2, 3, 4, 8} {
		lines := strings.Split(canonical, "\n")
		for i, l := range lines {
			n := len(l) - len(strings.TrimLeft(l, "\t"))
			lines[i] = strings.Repeat(" ", n*w) + l[n:]
		}
		spaced := strings.Join(lines, "\n")
		got := mustParse(t, spaced, Markdown)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("width %d (-tabs +spaces):\n%s", w, diff)
		}
	}
}

func TestNormalize(t *testing.T) {
	if w := IndentWidth("- [ ] a\n   b\n"); w != 3 {
		t.Errorf("width = %d", w)
	}
	if w := IndentWidth("- [ ] a\n\tb\n"); w != 0 {
		t.Errorf("tab document width = %d", w)
	}
	if got := Normalize("- [ ] a\n    b\n      c\n"); got != "- [ ] a\n\tb\n\t  c\n" {
		t.Errorf("normalize = %q", got)
	}
}

func TestShorthands(t *testing.T) {
	src := "- [ ] a <!-- https://github.com/o/r/issues/1 -->\n\tbody\n\t!B\n\t- x\n\t!c\n\thello\n"
	is := mustParse(t, src, Markdown)
	if is.Blockers == nil || len(is.Blockers.Lines) != 1 || is.Blockers.Lines[0].Text != "x" {
		t.Errorf("blockers = %+v", is.Blockers)
	}
	if len(is.Comments) != 1 || is.Comments[0].ID != 0 || is.Comments[0].Body != "hello" {
		t.Errorf("comments = %+v", is.Comments)
	}
	if got := Expand("\t!b\n", Typst); got != "\t// blockers\n" {
		t.Errorf("typst expansion = %q", got)
	}
}

func TestTypstRoundTrip(t *testing.T) {
	src := strings.Join([]string{
		"- [ ] a // https://github.com/o/r/issues/1",
		"\tsee https://example.com",
		"\t",
		"\t// @bob https://github.com/o/r/issues/1#issuecomment-3",
		"\thi",
		"\t",
		"\t// blockers",
		"\t= Group",
		"\t- x",
		"\t",
		"\t- [x] done // sub https://github.com/o/r/issues/2",
		"\t\t// omitted",
		"",
	}, "\n")
	is := mustParse(t, src, Typst)
	if is.Body != "see https://example.com" {
		t.Errorf("body = %q", is.Body)
	}
	if len(is.Comments) != 1 || is.Comments[0].Author != "bob" {
		t.Errorf("comments = %+v", is.Comments)
	}
	if is.Blockers.Lines[0] != (issue.BlockerLine{Header: 1, Text: "Group"}) {
		t.Errorf("header = %+v", is.Blockers.Lines[0])
	}
	if !is.Children[0].Omitted {
		t.Error("expected folded child")
	}
	if got := Serialize(is, Typst); got != src {
		t.Errorf("typst:\n%s", cmp.Diff(src, got))
	}
}

func TestBodyCheckboxEscaping(t *testing.T) {
	is := &issue.Issue{Title: "t", Body: "- [ ] a task list item\n- [link](x)"}
	s := Serialize(is, Markdown)
	if !strings.Contains(s, "\t\\- [ ] a task list item\n") {
		t.Errorf("expected escaped line in %q", s)
	}
	back := mustParse(t, s, Markdown)
	if back.Body != is.Body || len(back.Children) != 0 {
		t.Errorf("escaped body did not round trip: %+v", back)
	}
}

func TestBlockersHeaderSpellings(t *testing.T) {
	for _, h := range []string{"# Blockers", "### blockers:", "**Blockers**", "<!--blockers-->", "## Blocker"} {
		src := "- [ ] a\n\t" + h + "\n\t- x\n"
		is := mustParse(t, src, Markdown)
		if is.Blockers == nil || len(is.Blockers.Items()) != 1 {
			t.Errorf("%q: blockers = %+v, body = %q", h, is.Blockers, is.Body)
		}
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		src  string
		err  error
		line int
	}{
		{"", ErrEmpty, 0},
		{"\n\n", ErrEmpty, 0},
		{"- [y] foo\n", ErrCheckbox, 1},
		{"- [ foo\n", ErrCheckbox, 1},
		{"# Blockers\n- x\n", ErrOrphanBlockers, 1},
		{"- [ ] a\n# Blockers\n", ErrOrphanBlockers, 2},
		{"- [ ] a\nstray\n", ErrIndent, 2},
		{"\t- [ ] a\n", ErrIndent, 1},
		{"- [ ] a\n\t- [q] b\n", ErrCheckbox, 2},
		{"- [ ] a\n\t- [ ] b\n\ttext after child\n", ErrIndent, 3},
		{"- [ ] a <!-- sub -->\n", ErrMarker, 1},
		{"- [ ] a\n\t<!-- u#issuecomment-x -->\n", ErrMarker, 2},
	}
	for _, c := range cases {
		_, err := Parse(ParseContext{Source: c.src, Name: "f.md"}, Markdown)
		if !errors.Is(err, c.err) {
			t.Errorf("%q: got %v, want %v", c.src, err, c.err)
			continue
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("%q: not a *ParseError: %T", c.src, err)
			continue
		}
		if pe.Line != c.line {
			t.Errorf("%q: line %d, want %d", c.src, pe.Line, c.line)
		}
		if !strings.HasPrefix(pe.Error(), "f.md:") {
			t.Errorf("%q: error %q does not cite the file", c.src, pe.Error())
		}
	}
}

func TestRemoteBody(t *testing.T) {
	b := &issue.Blockers{Lines: []issue.BlockerLine{
		{Header: 2, Text: "phase one"},
		{Text: "write parser"},
		{Text: "edge cases", Depth: 1},
	}}
	text := RemoteBody("some body\n", b)
	want := "some body\n\n# Blockers\n## phase one\n- write parser\n  - edge cases"
	if text != want {
		t.Fatalf("RemoteBody:\n%q\nwant\n%q", text, want)
	}
	body, got := SplitRemoteBody(text)
	if body != "some body" {
		t.Errorf("body %q", body)
	}
	if diff := cmp.Diff(b, got); diff != "" {
		t.Errorf("blockers (-want +got):\n%s", diff)
	}
	if body, got := SplitRemoteBody("plain\r\ntext\n"); body != "plain\ntext" || got != nil {
		t.Errorf("SplitRemoteBody(plain) = %q, %v", body, got)
	}
	if got := RemoteBody("x", nil); got != "x" {
		t.Errorf("RemoteBody without blockers = %q", got)
	}
}
