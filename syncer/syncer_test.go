package syncer

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/issue-sync/codec"
	"github.com/signadot/issue-sync/conflict"
	"github.com/signadot/issue-sync/consensus"
	"github.com/signadot/issue-sync/fetch"
	"github.com/signadot/issue-sync/issue"
	"github.com/signadot/issue-sync/merge"
	"github.com/signadot/issue-sync/placement"
	"github.com/signadot/issue-sync/remote"
	"github.com/signadot/issue-sync/remote/remotetest"
)

type fakeEditor func(path string) error

func (f fakeEditor) Edit(_ context.Context, path string, _ int) error {
	return f(path)
}

// rewrite returns an editor replacing old with new in the opened file.
func rewrite(t *testing.T, old, new string) fakeEditor {
	return func(path string) error {
		d, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !strings.Contains(string(d), old) {
			t.Errorf("%q not in %s:\n%s", old, path, d)
		}
		return os.WriteFile(path, []byte(strings.Replace(string(d), old, new, 1)), 0o644)
	}
}

type env struct {
	s    *Session
	fake *remotetest.Fake
	root string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	issues := filepath.Join(dir, "issues")
	tr := &conflict.Tracker{Dir: filepath.Join(dir, "state", "conflicts")}
	repo := &consensus.Repo{Dir: issues, Tracker: tr}
	if err := repo.Init(); err != nil {
		t.Fatal(err)
	}
	fake := remotetest.New()
	return &env{
		s: &Session{
			Client:  fake,
			Layout:  placement.Layout{Root: issues},
			Repo:    repo,
			Tracker: tr,
			Out:     io.Discard,
		},
		fake: fake,
		root: issues,
	}
}

// fetch stores and commits issue n like a first open would.
func (e *env) fetch(t *testing.T, n uint64) string {
	t.Helper()
	f := &fetch.Fetcher{Client: e.fake, Layout: e.s.Layout, Dialect: codec.Markdown}
	path, err := f.FetchAndStore(context.Background(), "o", "r", n)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.s.Repo.Commit("sync"); err != nil {
		t.Fatal(err)
	}
	e.fake.ResetCalls()
	return path
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func TestDuplicateOfMissingIssueKeepsFile(t *testing.T) {
	e := newEnv(t)
	e.fake.Put("o", "r", remote.Issue{Number: 1, Title: "A", Body: "a"})
	path := e.fetch(t, 1)

	_, err := e.s.Run(context.Background(), path, Options{}, SetState{State: issue.CloseState{Kind: issue.Duplicate, Duplicate: 99}})
	var re *ReferenceError
	if !errors.As(err, &re) || re.Target != 99 {
		t.Fatalf("Run = %v, want a ReferenceError for #99", err)
	}
	if !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("error does not wrap remote.ErrNotFound: %v", err)
	}
	if !exists(path) {
		t.Errorf("%s was removed", path)
	}
	if calls := e.fake.Calls(); len(calls) != 0 {
		t.Errorf("remote was modified: %v", calls)
	}
	ri, _, _ := e.fake.Issue("o", "r", 1)
	if ri.State.Closed {
		t.Error("issue closed remotely")
	}
}

func TestDuplicateClosesAndRemoves(t *testing.T) {
	e := newEnv(t)
	e.fake.Put("o", "r", remote.Issue{Number: 1, Title: "A", Body: "a"})
	e.fake.Put("o", "r", remote.Issue{Number: 2, Title: "B"})
	path := e.fetch(t, 1)

	got, err := e.s.Run(context.Background(), path, Options{}, SetState{State: issue.CloseState{Kind: issue.Duplicate, Duplicate: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("Run returned %q for a removed issue", got)
	}
	if exists(path) {
		t.Errorf("%s still exists", path)
	}
	want := []string{"UpdateIssueState 1 true duplicate"}
	if diff := cmp.Diff(want, e.fake.Calls()); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
	if is, err := e.s.Repo.LoadRoot(e.s.Layout, issue.Identity{Owner: "o", Repo: "r", Number: 1}, codec.Markdown); err != nil || is != nil {
		t.Errorf("removal not committed: %+v, %v", is, err)
	}
}

func TestPushCreatesParentsFirst(t *testing.T) {
	e := newEnv(t)
	src := "- [ ] Parent\n\tparent body\n\n\t<!-- new comment -->\n\tfirst\n\n\t<!-- new comment -->\n\tsecond\n\n\t- [ ] Child\n\t\tchild body\n"
	tree, err := codec.Parse(codec.ParseContext{Source: src}, codec.Markdown)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range issue.Walk(tree) {
		n.Owner, n.Repo = "o", "r"
	}
	old, err := e.s.Layout.Store(tree, codec.Markdown)
	if err != nil {
		t.Fatal(err)
	}

	got, err := e.s.Run(context.Background(), old, Options{}, Sync{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		`CreateIssue o/r#1 "Parent"`,
		`CreateIssue o/r#2 "Child"`,
		"AddSubIssue 1 2",
		`CreateComment 1 "first"`,
		`CreateComment 1 "second"`,
	}
	if diff := cmp.Diff(want, e.fake.Calls()); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
	wantPath := filepath.Join(e.root, "o", "r", "1_-_Parent", "__main__.md")
	if got != wantPath {
		t.Errorf("path = %s, want %s", got, wantPath)
	}
	if exists(filepath.Dir(old)) {
		t.Errorf("pending placement %s left behind", filepath.Dir(old))
	}
	cons, err := e.s.Repo.LoadRoot(e.s.Layout, issue.Identity{Owner: "o", Repo: "r", Number: 1}, codec.Markdown)
	if err != nil || cons == nil {
		t.Fatalf("consensus = %+v, %v", cons, err)
	}
	if len(cons.Children) != 1 || cons.Children[0].Number != 2 || len(cons.Comments) != 2 {
		t.Errorf("consensus tree = %+v", cons)
	}
}

func TestOpenMergesAndPushes(t *testing.T) {
	e := newEnv(t)
	e.fake.Put("o", "r", remote.Issue{Number: 1, Title: "Old", Body: "body"})
	old := e.fetch(t, 1)
	e.fake.Put("o", "r", remote.Issue{Number: 1, Title: "New", Body: "body"})

	e.s.Editor = rewrite(t, "\tbody", "\tedited")
	got, err := e.s.Open(context.Background(), old, Options{Pull: true})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"UpdateIssueBody 1"}, e.fake.Calls()); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
	ri, _, _ := e.fake.Issue("o", "r", 1)
	if ri.Title != "New" || ri.Body != "edited" {
		t.Errorf("remote = %q %q", ri.Title, ri.Body)
	}
	if want := filepath.Join(e.root, "o", "r", "1_-_New.md"); got != want {
		t.Errorf("path = %s, want %s", got, want)
	}
	if exists(old) {
		t.Errorf("%s left behind after rename", old)
	}
}

func TestEditorAbortKeepsConsensus(t *testing.T) {
	e := newEnv(t)
	e.fake.Put("o", "r", remote.Issue{Number: 1, Title: "A", Body: "body"})
	path := e.fetch(t, 1)
	e.s.Editor = fakeEditor(func(string) error { return nil })

	_, err := e.s.Open(context.Background(), path, Options{Pull: true})
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Open = %v, want ErrAborted", err)
	}
	if calls := e.fake.Calls(); len(calls) != 0 {
		t.Errorf("remote was modified: %v", calls)
	}

	e.s.Editor = fakeEditor(func(string) error { return errors.New("editor crashed") })
	if _, err := e.s.Open(context.Background(), path, Options{}); err == nil {
		t.Fatal("editor failure not reported")
	}
	if calls := e.fake.Calls(); len(calls) != 0 {
		t.Errorf("remote was modified: %v", calls)
	}
}

func TestPushUpdatesAndDeletes(t *testing.T) {
	e := newEnv(t)
	e.fake.Put("o", "r", remote.Issue{Number: 1, Title: "A", Body: "body"})
	keep := e.fake.PutComment("o", "r", 1, remote.Comment{Body: "keep"})
	drop := e.fake.PutComment("o", "r", 1, remote.Comment{Body: "drop"})
	theirs := e.fake.PutComment("o", "r", 1, remote.Comment{Body: "theirs", Author: "alice"})
	path := e.fetch(t, 1)

	d, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	local, err := codec.Parse(codec.ParseContext{Source: string(d)}, codec.Markdown)
	if err != nil {
		t.Fatal(err)
	}
	local.Owner, local.Repo = "o", "r"
	local.Labels = []string{"bug"}
	local.Comments = []*issue.Comment{
		{ID: keep, Body: "kept and edited"},
		{ID: theirs, Body: "theirs", Immutable: true},
		{Body: "added"},
	}
	base, err := (&fetch.Fetcher{Client: e.fake}).Tree(context.Background(), "o", "r", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.s.Push(context.Background(), base, local); err != nil {
		t.Fatal(err)
	}
	want := []string{
		`CreateComment 1 "added"`,
		"SetIssueLabels 1 bug",
		"UpdateComment " + strconv.FormatUint(keep, 10),
		"DeleteComment " + strconv.FormatUint(drop, 10),
	}
	if diff := cmp.Diff(want, e.fake.Calls()); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
	if local.Comments[2].ID == 0 {
		t.Error("created comment id not filled in")
	}
}

func TestOfflineSkipsRemote(t *testing.T) {
	e := newEnv(t)
	e.fake.Put("o", "r", remote.Issue{Number: 1, Title: "A", Body: "body"})
	path := e.fetch(t, 1)
	e.s.Editor = rewrite(t, "\tbody", "\toffline")

	got, err := e.s.Open(context.Background(), path, Options{Pull: true, Offline: true})
	if err != nil {
		t.Fatal(err)
	}
	if calls := e.fake.Calls(); len(calls) != 0 {
		t.Errorf("remote was called: %v", calls)
	}
	d, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(d), "offline") {
		t.Errorf("local edit lost:\n%s", d)
	}
}

func TestConflictDivergesAndBlocks(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	e := newEnv(t)
	e.fake.Put("o", "r", remote.Issue{Number: 1, Title: "A", Body: "body"})
	path := e.fetch(t, 1)
	if err := os.WriteFile(path, []byte(strings.Replace(readFile(t, path), "\tbody", "\tlocal", 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	e.fake.Put("o", "r", remote.Issue{Number: 1, Title: "A", Body: "remote"})
	e.s.Editor = fakeEditor(func(string) error {
		t.Error("editor opened despite a conflict")
		return nil
	})

	_, err := e.s.Open(context.Background(), path, Options{Pull: true})
	var ce *merge.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("Open = %v, want a ConflictError", err)
	}
	if !conflict.HasMarkers(readFile(t, path)) {
		t.Fatalf("no conflict markers in %s", path)
	}
	if _, err := e.s.Open(context.Background(), path, Options{Pull: true}); !errors.Is(err, conflict.ErrBlocked) {
		t.Errorf("second Open = %v, want blocked", err)
	}
	if calls := e.fake.Calls(); len(calls) != 0 {
		t.Errorf("remote was modified: %v", calls)
	}
}

func TestDivergeCleanMergeContinues(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	e := newEnv(t)
	lines := []string{"l1", "l2", "l3", "l4", "l5", "l6", "l7", "l8", "l9"}
	e.fake.Put("o", "r", remote.Issue{Number: 1, Title: "A", Body: strings.Join(lines, "\n")})
	path := e.fetch(t, 1)
	if err := os.WriteFile(path, []byte(strings.Replace(readFile(t, path), "\tl1\n", "\tL1\n", 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	lines[8] = "L9"
	e.fake.Put("o", "r", remote.Issue{Number: 1, Title: "A", Body: strings.Join(lines, "\n")})
	e.s.Editor = rewrite(t, "\tl5\n", "\tL5\n")

	got, err := e.s.Open(context.Background(), path, Options{Pull: true})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"UpdateIssueBody 1"}, e.fake.Calls()); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
	ri, _, _ := e.fake.Issue("o", "r", 1)
	for _, want := range []string{"L1", "L5", "L9"} {
		if !strings.Contains(ri.Body, want) {
			t.Errorf("remote body lacks %s:\n%s", want, ri.Body)
		}
	}
	if got != path {
		t.Errorf("path = %s, want %s", got, path)
	}
	if conflict.HasMarkers(readFile(t, got)) {
		t.Errorf("conflict markers in %s", got)
	}
}

func TestSyncPendingLeavesOnePlacement(t *testing.T) {
	e := newEnv(t)
	tree := &issue.Issue{Identity: issue.Identity{Owner: "o", Repo: "r"}, Title: "New", Body: "fresh"}
	old, err := e.s.Layout.Store(tree, codec.Markdown)
	if err != nil {
		t.Fatal(err)
	}

	got, err := e.s.Run(context.Background(), old, Options{}, Sync{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{`CreateIssue o/r#1 "New"`}, e.fake.Calls()); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
	if exists(old) {
		t.Errorf("pending placement %s left behind", old)
	}
	ents, err := os.ReadDir(filepath.Join(e.root, "o", "r"))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, ent := range ents {
		names = append(names, ent.Name())
	}
	if diff := cmp.Diff([]string{"1_-_New.md"}, names); diff != "" {
		t.Errorf("placements (-want +got):\n%s", diff)
	}

	e.fake.ResetCalls()
	if _, err := e.s.Run(context.Background(), got, Options{}, Sync{}); err != nil {
		t.Fatal(err)
	}
	for _, c := range e.fake.Calls() {
		if strings.HasPrefix(c, "CreateIssue") {
			t.Errorf("second sync created an issue again: %s", c)
		}
	}
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	d, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	return string(d)
}
