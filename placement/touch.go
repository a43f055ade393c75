package placement

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/signadot/issue-sync/codec"
	"github.com/signadot/issue-sync/issue"
)

// TouchPath names an issue to create by titles: owner/repo/title[/child...].
type TouchPath struct {
	Owner, Repo string
	// Titles is the chain from the root issue down to the new one.
	Titles  []string
	Dialect codec.Dialect
	// HasExt is set when the path carried an explicit extension.
	HasExt bool
}

func ParseTouchPath(p string) (*TouchPath, error) {
	p = strings.Trim(filepath.ToSlash(p), "/")
	tp := &TouchPath{Dialect: codec.Markdown}
	if d, err := codec.DialectOf(p); err == nil {
		tp.Dialect = d
		tp.HasExt = true
		p = strings.TrimSuffix(p, "."+d.Ext())
	}
	parts := strings.Split(p, "/")
	if len(parts) < 3 {
		return nil, fmt.Errorf("touch path %q must be owner/repo/title[/child...]", p)
	}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return nil, fmt.Errorf("touch path %q has an empty component", p)
		}
	}
	tp.Owner, tp.Repo, tp.Titles = parts[0], parts[1], parts[2:]
	return tp, nil
}

// Title is the title of the issue to create.
func (tp *TouchPath) Title() string {
	return tp.Titles[len(tp.Titles)-1]
}

// Resolve returns the existing file for tp, or "" if there is none.
func (l Layout) Resolve(tp *TouchPath) (string, error) {
	dir := l.ProjectDir(tp.Owner, tp.Repo)
	for i, t := range tp.Titles {
		entry, err := findTitled(dir, t)
		if err != nil || entry == "" {
			return "", err
		}
		p := filepath.Join(dir, entry)
		info, err := os.Stat(p)
		if err != nil {
			return "", err
		}
		if !info.IsDir() {
			if i == len(tp.Titles)-1 {
				return p, nil
			}
			return "", nil
		}
		if i == len(tp.Titles)-1 {
			mains, err := filepath.Glob(filepath.Join(p, MainName+".*"))
			if err != nil || len(mains) == 0 {
				return "", err
			}
			return mains[0], nil
		}
		dir = p
	}
	return "", nil
}

// findTitled finds the issue entry of dir whose sanitized title is title's.
func findTitled(dir, title string) (string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", dir, err)
	}
	want := Sanitize(title)
	for _, e := range entries {
		name := e.Name()
		if !isIssueEntry(name) {
			continue
		}
		if !e.IsDir() {
			if _, err := codec.DialectOf(name); err != nil {
				continue
			}
		}
		stem := name
		if i := strings.IndexByte(stem, '.'); i >= 0 {
			stem = stem[:i]
		}
		if i := strings.Index(stem, sep); i >= 0 && stem[i+len(sep):] == want {
			return name, nil
		}
	}
	return "", nil
}

// CreateVirtual creates the issue named by tp in a local-only project,
// giving it the next virtual number. A parent chain must already exist.
func (l Layout) CreateVirtual(tp *TouchPath) (string, error) {
	n, err := l.AllocateVirtual(tp.Owner, tp.Repo)
	if err != nil {
		return "", err
	}
	return l.create(tp, n)
}

// CreatePending creates the issue named by tp without a number; it is
// created remotely on the next sync of its root.
func (l Layout) CreatePending(tp *TouchPath) (string, error) {
	return l.create(tp, 0)
}

func (l Layout) create(tp *TouchPath, n uint64) (string, error) {
	is := &issue.Issue{
		Identity: issue.Identity{Owner: tp.Owner, Repo: tp.Repo, Number: n},
		Title:    tp.Title(),
	}
	if len(tp.Titles) == 1 {
		return l.Store(is, tp.Dialect)
	}
	parentTP := *tp
	parentTP.Titles = tp.Titles[:len(tp.Titles)-1]
	parentPath, err := l.Resolve(&parentTP)
	if err != nil {
		return "", err
	}
	if parentPath == "" {
		return "", fmt.Errorf("%w: parent %q", ErrNotFound, strings.Join(parentTP.Titles, "/"))
	}
	root, chain, _, err := l.LoadTree(parentPath, tp.Dialect)
	if err != nil {
		return "", err
	}
	parent := issue.At(root, chain)
	if parent == nil {
		return "", fmt.Errorf("%w: parent of %q", ErrNotFound, tp.Title())
	}
	parent.Children = append(parent.Children, is)
	if _, err := l.Store(root, tp.Dialect); err != nil {
		return "", err
	}
	return l.Locate(root, append(chain, len(parent.Children)-1), tp.Dialect), nil
}

// LoadTree parses the root issue file above path. It returns the root, the
// index chain leading from it to the issue stored at path, and the root's
// path. Sub-issue files modified after the root file replace the root's
// copy of their subtree.
func (l Layout) LoadTree(path string, d codec.Dialect) (*issue.Issue, issue.Path, string, error) {
	id, err := l.Identify(path)
	if err != nil {
		return nil, nil, "", err
	}
	projDir := abs(l.ProjectDir(id.Owner, id.Repo))
	entry := abs(path)
	if isMain(entry) {
		entry = filepath.Dir(entry)
	}
	stems := []string{stemOf(filepath.Base(entry))}
	for dir := filepath.Dir(entry); dir != projDir; dir = filepath.Dir(dir) {
		if dir == filepath.Dir(dir) {
			return nil, nil, "", fmt.Errorf("%s is not below %s", path, projDir)
		}
		stems = append([]string{filepath.Base(dir)}, stems...)
	}
	rootPath := path
	if len(stems) > 1 {
		mains, err := filepath.Glob(filepath.Join(projDir, stems[0], MainName+".*"))
		if err != nil || len(mains) == 0 {
			return nil, nil, "", fmt.Errorf("%w: main file of %s", ErrNotFound, stems[0])
		}
		rootPath = mains[0]
	}
	src, err := os.ReadFile(rootPath)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to read %s: %w", rootPath, err)
	}
	root, err := codec.Parse(codec.ParseContext{Source: string(src), Name: rootPath}, d)
	if err != nil {
		return nil, nil, "", err
	}
	var chain issue.Path
	node := root
	for _, st := range stems[1:] {
		i := indexOfStem(node, st)
		if i < 0 {
			return nil, nil, "", fmt.Errorf("%w: %s below #%d", ErrNotFound, st, node.Number)
		}
		chain = append(chain, i)
		node = node.Children[i]
	}
	if isMain(rootPath) {
		info, err := os.Stat(rootPath)
		if err != nil {
			return nil, nil, "", fmt.Errorf("failed to stat %s: %w", rootPath, err)
		}
		if err := overlay(filepath.Dir(rootPath), root, d, info.ModTime()); err != nil {
			return nil, nil, "", err
		}
	}
	if issue.At(root, chain) == nil {
		return nil, nil, "", fmt.Errorf("%w: %s in %s", ErrNotFound, path, rootPath)
	}
	return root, chain, rootPath, nil
}

// overlay replaces the children of node with the content of their own
// files where those were modified after since, the time of the file node
// was read from. Folded children are kept as they are.
func overlay(dir string, node *issue.Issue, d codec.Dialect, since time.Time) error {
	for i, c := range node.Children {
		if c.Omitted {
			continue
		}
		path, ok := existing(dir, c, d)
		if !ok {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		from := since
		if info.ModTime().After(since) {
			src, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			n, err := codec.Parse(codec.ParseContext{Source: string(src), Name: path}, d)
			if err != nil {
				return err
			}
			if n.Owner == "" {
				n.Owner, n.Repo = c.Owner, c.Repo
			}
			node.Children[i] = n
			c, from = n, info.ModTime()
		}
		if isMain(path) {
			if err := overlay(filepath.Dir(path), c, d, from); err != nil {
				return err
			}
		}
	}
	return nil
}

func isMain(p string) bool {
	return strings.HasPrefix(filepath.Base(p), MainName+".")
}

// stemOf strips the extensions of an entry name.
func stemOf(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

func indexOfStem(is *issue.Issue, stem string) int {
	for i, c := range is.Children {
		if Stem(c) == stem {
			return i
		}
	}
	return -1
}

func abs(p string) string {
	a, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return a
}
