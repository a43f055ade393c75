package filter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/signadot/issue-sync/codec"
	"github.com/signadot/issue-sync/issue"
	"github.com/signadot/issue-sync/placement"
)

// Entry is a stored issue file matched by Scan.
type Entry struct {
	Path  string
	Issue *issue.Issue
	Env   Env
}

// Scan parses every issue file below l's root and keeps those f matches.
// Closed issues are skipped unless all is set. Files that fail to parse
// are logged and skipped.
func Scan(l placement.Layout, f *Filter, all bool) ([]Entry, error) {
	paths, err := l.Search("")
	if err != nil {
		return nil, err
	}
	var res []Entry
	for _, p := range paths {
		e, err := entry(l, p)
		if err != nil {
			log.Warn().Err(err).Str("path", p).Msg("skipping unreadable issue file")
			continue
		}
		if !all && e.Env.Closed {
			continue
		}
		ok, err := f.Match(e.Env)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, *e)
		}
	}
	return res, nil
}

func entry(l placement.Layout, p string) (*Entry, error) {
	d, err := codec.DialectOf(p)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	is, err := codec.Parse(codec.ParseContext{Source: string(src), Name: p}, d)
	if err != nil {
		return nil, err
	}
	id, err := l.Identify(p)
	if err != nil {
		return nil, err
	}
	is.Owner, is.Repo, is.Number = id.Owner, id.Repo, id.Number
	return &Entry{Path: p, Issue: is, Env: EnvOf(is, p, depthOf(l, p))}, nil
}

// depthOf counts the issue directories between the project and p.
func depthOf(l placement.Layout, p string) int {
	rel, err := filepath.Rel(l.Root, p)
	if err != nil {
		return 0
	}
	depth := len(strings.Split(rel, string(filepath.Separator))) - 3
	if strings.HasPrefix(filepath.Base(p), placement.MainName+".") {
		depth--
	}
	return max(depth, 0)
}

// OneLine formats e for listings.
func (e Entry) OneLine() string {
	is := e.Issue
	num := fmt.Sprintf("#%d", is.Number)
	if is.Pending() {
		num = "new"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s %-6s [%s] %s%s", is.Owner, is.Repo, num, is.State.Checkbox(), strings.Repeat("  ", e.Env.Depth), is.Title)
	if len(is.Labels) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(is.Labels, ", "))
	}
	return b.String()
}
