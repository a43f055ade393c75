// Package filter evaluates list --where expressions over issues.
package filter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/signadot/issue-sync/issue"
)

// Env is what an expression sees for one issue.
type Env struct {
	Owner    string   `expr:"owner"`
	Repo     string   `expr:"repo"`
	Number   int      `expr:"number"`
	Title    string   `expr:"title"`
	Body     string   `expr:"body"`
	State    string   `expr:"state"`
	Closed   bool     `expr:"closed"`
	Pending  bool     `expr:"pending"`
	Labels   []string `expr:"labels"`
	Comments int      `expr:"comments"`
	Children int      `expr:"children"`
	Blockers int      `expr:"blockers"`
	Depth    int      `expr:"depth"`
	Path     string   `expr:"path"`
}

// EnvOf describes is, stored at path, depth levels below its root.
func EnvOf(is *issue.Issue, path string, depth int) Env {
	state := "open"
	switch is.State.Kind {
	case issue.Closed:
		state = "closed"
	case issue.NotPlanned:
		state = "not_planned"
	case issue.Duplicate:
		state = "duplicate"
	}
	return Env{
		Owner:    is.Owner,
		Repo:     is.Repo,
		Number:   int(is.Number),
		Title:    is.Title,
		Body:     is.Body,
		State:    state,
		Closed:   is.State.IsClosed(),
		Pending:  is.Pending(),
		Labels:   is.Labels,
		Comments: len(is.Comments),
		Children: len(is.Children),
		Blockers: len(is.Blockers.Items()),
		Depth:    depth,
		Path:     path,
	}
}

type Filter struct {
	src string
	prg *vm.Program
}

func opts() []expr.Option {
	return []expr.Option{
		expr.Env(Env{}),
		expr.AsBool(),
		expr.Function("has_label", func(params ...any) (any, error) {
			labels, _ := params[0].([]string)
			want := params[1].(string)
			for _, l := range labels {
				if strings.EqualFold(l, want) {
					return true, nil
				}
			}
			return false, nil
		},
			new(func([]string, string) bool)),
		expr.Function("icontains", func(params ...any) (any, error) {
			return strings.Contains(strings.ToLower(params[0].(string)), strings.ToLower(params[1].(string))), nil
		},
			new(func(string, string) bool)),
	}
}

// Compile checks src against Env. An empty src matches everything.
func Compile(src string) (*Filter, error) {
	if strings.TrimSpace(src) == "" {
		return &Filter{}, nil
	}
	prg, err := expr.Compile(src, opts()...)
	if err != nil {
		return nil, fmt.Errorf("bad filter %q: %w", src, err)
	}
	return &Filter{src: src, prg: prg}, nil
}

func (f *Filter) Match(env Env) (bool, error) {
	if f.prg == nil {
		return true, nil
	}
	res, err := expr.Run(f.prg, env)
	if err != nil {
		return false, fmt.Errorf("filter %q: %w", f.src, err)
	}
	b, _ := res.(bool)
	return b, nil
}

func (f *Filter) String() string {
	return f.src
}
