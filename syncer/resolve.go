package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/signadot/issue-sync/codec"
	"github.com/signadot/issue-sync/issue"
	"github.com/signadot/issue-sync/placement"
)

// AmbiguousError reports a search pattern matching several issue files.
type AmbiguousError struct {
	Pattern string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%q matches %d issues:\n  %s", e.Pattern, len(e.Matches), strings.Join(e.Matches, "\n  "))
}

type ResolveOptions struct {
	// Dialect is used for fetched issues and touch paths without an
	// extension.
	Dialect codec.Dialect
	Offline bool
	// Virtual creates missing touch paths in a local-only project.
	Virtual bool
}

// Resolve turns a command line reference into an issue file. References
// are tried as a file, an issue url or owner/repo#n, a touch path and
// finally a search pattern. Missing issues are fetched and missing touch
// paths created.
func (s *Session) Resolve(ctx context.Context, ref string, opts ResolveOptions) (string, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() && placement.IsIssueFile(ref) {
		return filepath.Abs(ref)
	}
	if id, ok := ParseRef(ref); ok {
		path, err := s.Layout.Find(id.Owner, id.Repo, id.Number)
		if err == nil || !errors.Is(err, placement.ErrNotFound) {
			return path, err
		}
		if opts.Offline || s.Client == nil || s.Layout.IsVirtual(id.Owner, id.Repo) {
			return "", err
		}
		return s.Fetch(ctx, id, opts.Dialect)
	}
	if strings.Count(strings.Trim(filepath.ToSlash(ref), "/"), "/") >= 2 {
		tp, err := placement.ParseTouchPath(ref)
		if err != nil {
			return "", err
		}
		if !tp.HasExt {
			tp.Dialect = opts.Dialect
		}
		path, err := s.Layout.Resolve(tp)
		if err != nil || path != "" {
			return path, err
		}
		if opts.Virtual || s.Layout.IsVirtual(tp.Owner, tp.Repo) {
			path, err = s.Layout.CreateVirtual(tp)
		} else {
			path, err = s.Layout.CreatePending(tp)
		}
		if err != nil {
			return "", err
		}
		fmt.Fprintf(s.out(), "Created %s\n", path)
		return path, nil
	}
	hits, err := s.Layout.Search(ref)
	if err != nil {
		return "", err
	}
	switch len(hits) {
	case 0:
		return "", fmt.Errorf("%w: no issue matches %q", placement.ErrNotFound, ref)
	case 1:
		return hits[0], nil
	}
	return "", &AmbiguousError{Pattern: ref, Matches: hits}
}

// ParseRef parses an issue url or the owner/repo#n shorthand.
func ParseRef(ref string) (issue.Identity, bool) {
	if id, err := issue.ParseURL(ref); err == nil {
		return id, true
	}
	slug, num, ok := strings.Cut(strings.TrimSpace(ref), "#")
	if !ok {
		return issue.Identity{}, false
	}
	owner, repo, ok := strings.Cut(slug, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return issue.Identity{}, false
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil || n == 0 {
		return issue.Identity{}, false
	}
	return issue.Identity{Owner: owner, Repo: repo, Number: n}, true
}

// Fetch stores the tree containing id and records it as the consensus. It
// returns the file of id.
func (s *Session) Fetch(ctx context.Context, id issue.Identity, d codec.Dialect) (string, error) {
	if err := s.Tracker.CheckAll(); err != nil {
		return "", err
	}
	path, err := s.fetcher(d).FetchAndStore(ctx, id.Owner, id.Repo, id.Number)
	if err != nil {
		return "", err
	}
	_, _, rootPath, err := s.Layout.LoadTree(path, d)
	if err != nil {
		return "", err
	}
	if err := s.Repo.Commit("fetch: "+id.String(), s.scope(rootPath)...); err != nil {
		return "", err
	}
	fmt.Fprintf(s.out(), "Fetched %s to %s\n", id, path)
	return path, nil
}
