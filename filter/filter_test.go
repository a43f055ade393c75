package filter

import (
	"testing"

	"github.com/signadot/issue-sync/issue"
)

func TestMatch(t *testing.T) {
	is := &issue.Issue{
		Identity: issue.Identity{Owner: "o", Repo: "r", Number: 7},
		Title:    "Flaky Test in CI",
		Labels:   []string{"bug", "ci"},
		State:    issue.CloseState{Kind: issue.NotPlanned},
		Comments: []*issue.Comment{{ID: 1}, {ID: 2}},
		Blockers: &issue.Blockers{Lines: []issue.BlockerLine{{Header: 1, Text: "g"}, {Text: "a"}}},
	}
	env := EnvOf(is, "o/r/7_-_Flaky_Test_in_CI.md.bak", 1)
	tests := []struct {
		src  string
		want bool
	}{
		{"", true},
		{`closed`, true},
		{`state == "not_planned"`, true},
		{`"bug" in labels`, true},
		{`has_label(labels, "CI")`, true},
		{`has_label(labels, "docs")`, false},
		{`icontains(title, "flaky")`, true},
		{`comments >= 2 && blockers == 1`, true},
		{`number > 10 || depth == 0`, false},
		{`owner + "/" + repo == "o/r"`, true},
		{`path endsWith ".bak" && !pending`, true},
	}
	for _, tt := range tests {
		f, err := Compile(tt.src)
		if err != nil {
			t.Fatalf("Compile(%q): %v", tt.src, err)
		}
		got, err := f.Match(env)
		if err != nil {
			t.Fatalf("Match(%q): %v", tt.src, err)
		}
		if got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestCompileErrors(t *testing.T) {
	for _, src := range []string{`nosuchfield`, `number + 1`, `title ==`} {
		if _, err := Compile(src); err == nil {
			t.Errorf("Compile(%q) succeeded", src)
		}
	}
}
