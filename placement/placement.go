// Package placement maps issue trees to files below the issues directory.
//
// An issue without sub-issues is a single file
//
//	{owner}/{repo}/{number}_-_{title}.{ext}[.bak]
//
// and an issue with sub-issues is a directory holding a main file and one
// entry per sub-issue, recursively
//
//	{owner}/{repo}/{number}_-_{title}/__main__.{ext}[.bak]
//
// The .bak suffix marks closed issues.
package placement

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/signadot/issue-sync/codec"
	"github.com/signadot/issue-sync/issue"
)

const (
	MainName  = "__main__"
	MetaName  = ".meta.json"
	sep       = "_-_"
	bakSuffix = ".bak"
	// pendingPrefix names issues that do not have a remote number yet.
	pendingPrefix = "new"
)

var ErrNotFound = errors.New("issue file not found")

// Layout is rooted at the issues directory.
type Layout struct {
	Root string
}

// Sanitize keeps alphanumerics, '-' and '_', maps spaces to '_' and drops
// everything else. Leading and trailing '_' are trimmed.
func Sanitize(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r == '-' || r == '_':
			b.WriteRune(r)
		case r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r >= 128 && isAlnum(r):
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "_")
}

// Stem is the file or directory name of an issue without extension.
func Stem(is *issue.Issue) string {
	prefix := pendingPrefix
	if !is.Pending() {
		prefix = strconv.FormatUint(is.Number, 10)
	}
	t := Sanitize(is.Title)
	if t == "" {
		return prefix
	}
	return prefix + sep + t
}

func fileExt(is *issue.Issue, d codec.Dialect) string {
	ext := "." + d.Ext()
	if is.State.IsClosed() {
		ext += bakSuffix
	}
	return ext
}

// FileName is the flat file name of an issue.
func FileName(is *issue.Issue, d codec.Dialect) string {
	return Stem(is) + fileExt(is, d)
}

// PathFor returns where is lives inside parentDir, depending on whether
// it has sub-issues.
func PathFor(parentDir string, is *issue.Issue, d codec.Dialect) string {
	if is.HasChildren() {
		return filepath.Join(parentDir, Stem(is), MainName+fileExt(is, d))
	}
	return filepath.Join(parentDir, FileName(is, d))
}

func (l Layout) ProjectDir(owner, repo string) string {
	return filepath.Join(l.Root, owner, repo)
}

// Locate returns the path of the node at p within the tree rooted at root,
// as Store would write it.
func (l Layout) Locate(root *issue.Issue, p issue.Path, d codec.Dialect) string {
	dir := l.ProjectDir(root.Owner, root.Repo)
	node := root
	for _, i := range p {
		dir = filepath.Join(dir, Stem(node))
		node = node.Children[i]
	}
	return PathFor(dir, node, d)
}

// Store writes the tree rooted at is below its project directory and
// returns the path of the root file. Files left over from a previous
// placement of the same issues are removed after the new ones are written.
func (l Layout) Store(is *issue.Issue, d codec.Dialect) (string, error) {
	dir := l.ProjectDir(is.Owner, is.Repo)
	path, err := l.storeAt(dir, is, d)
	if err != nil {
		return "", err
	}
	if err := removeOldPlacements(dir, is, path); err != nil {
		return "", err
	}
	return path, nil
}

func (l Layout) storeAt(parentDir string, is *issue.Issue, d codec.Dialect) (string, error) {
	if is.Omitted {
		// folded entries carry no content; keep what is on disk
		if p, ok := existing(parentDir, is, d); ok {
			return p, nil
		}
	}
	path := PathFor(parentDir, is, d)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := WriteFile(path, []byte(codec.Serialize(is, d))); err != nil {
		return "", err
	}
	if !is.HasChildren() {
		return path, nil
	}
	dir := filepath.Dir(path)
	keep := map[string]bool{filepath.Base(path): true}
	for _, c := range is.Children {
		cp, err := l.storeAt(dir, c, d)
		if err != nil {
			return "", err
		}
		rel, _ := filepath.Rel(dir, cp)
		keep[strings.Split(rel, string(filepath.Separator))[0]] = true
	}
	if err := prune(dir, keep); err != nil {
		return "", err
	}
	return path, nil
}

// existing returns the current placement of is in parentDir, flat or
// directory.
func existing(parentDir string, is *issue.Issue, d codec.Dialect) (string, bool) {
	for _, p := range []string{
		filepath.Join(parentDir, Stem(is), MainName+fileExt(is, d)),
		filepath.Join(parentDir, FileName(is, d)),
	} {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// prune removes issue entries of dir not named in keep.
func prune(dir string, keep map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if keep[name] || !isIssueEntry(name) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to remove stale %s: %w", name, err)
		}
	}
	return nil
}

// removeOldPlacements deletes other placements of is in dir: the flat file
// after a move to directory format, the directory after a move back, and
// names from before a title or state change. Pending issues are matched by
// name since they have no number.
func removeOldPlacements(dir string, is *issue.Issue, keep string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	rel, _ := filepath.Rel(dir, keep)
	keepTop := strings.Split(rel, string(filepath.Separator))[0]
	for _, e := range entries {
		if !samePlacement(e.Name(), is) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Name() != keepTop {
			if err := os.RemoveAll(p); err != nil {
				return fmt.Errorf("failed to remove old placement %s: %w", p, err)
			}
			continue
		}
		if !e.IsDir() {
			continue
		}
		// same directory: drop a main file with the other open/closed suffix
		mains, err := filepath.Glob(filepath.Join(p, MainName+".*"))
		if err != nil {
			return err
		}
		for _, m := range mains {
			if m != keep {
				if err := os.Remove(m); err != nil {
					return fmt.Errorf("failed to remove old main file: %w", err)
				}
			}
		}
	}
	return nil
}

func samePlacement(name string, is *issue.Issue) bool {
	if is.Pending() {
		stem, _, _ := strings.Cut(name, ".")
		return stem == Stem(is)
	}
	n, ok := NumberOf(name)
	return ok && n == is.Number
}

// NumberOf extracts the issue number from a file or directory name.
func NumberOf(name string) (uint64, bool) {
	stem := name
	if i := strings.Index(stem, sep); i >= 0 {
		stem = stem[:i]
	} else if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	n, err := strconv.ParseUint(stem, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

func isIssueEntry(name string) bool {
	if _, ok := NumberOf(name); ok {
		return true
	}
	return name == pendingPrefix || strings.HasPrefix(name, pendingPrefix+sep) ||
		strings.HasPrefix(name, pendingPrefix+".")
}

// IsIssueFile reports whether path names an issue file.
func IsIssueFile(path string) bool {
	if _, err := codec.DialectOf(path); err != nil {
		return false
	}
	base := filepath.Base(path)
	return strings.HasPrefix(base, MainName+".") || isIssueEntry(base)
}

// Find returns the file of issue number in the owner/repo project.
func (l Layout) Find(owner, repo string, number uint64) (string, error) {
	var found string
	err := filepath.WalkDir(l.ProjectDir(owner, repo), func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() || !IsIssueFile(p) {
			return nil
		}
		n, ok := fileNumber(p)
		if ok && n == number {
			found = p
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to search issues: %w", err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s/%s#%d", ErrNotFound, owner, repo, number)
	}
	return found, nil
}

func fileNumber(p string) (uint64, bool) {
	base := filepath.Base(p)
	if strings.HasPrefix(base, MainName+".") {
		base = filepath.Base(filepath.Dir(p))
	}
	return NumberOf(base)
}

// Identify recovers the identity of the issue stored at path.
func (l Layout) Identify(path string) (issue.Identity, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return issue.Identity{}, err
	}
	root, err := filepath.Abs(l.Root)
	if err != nil {
		return issue.Identity{}, err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return issue.Identity{}, fmt.Errorf("%s is not below %s", path, l.Root)
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 3 {
		return issue.Identity{}, fmt.Errorf("%s is not an issue path", path)
	}
	id := issue.Identity{Owner: parts[0], Repo: parts[1]}
	id.Number, _ = fileNumber(abs)
	return id, nil
}

// Search lists issue files whose path relative to the root contains
// pattern (case insensitive), most recently modified first.
func (l Layout) Search(pattern string) ([]string, error) {
	type hit struct {
		path string
		mod  int64
	}
	var hits []hit
	pat := strings.ToLower(pattern)
	err := filepath.WalkDir(l.Root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if p != l.Root && strings.HasPrefix(e.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsIssueFile(p) {
			return nil
		}
		rel, _ := filepath.Rel(l.Root, p)
		if !strings.Contains(strings.ToLower(rel), pat) {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		hits = append(hits, hit{p, info.ModTime().UnixNano()})
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to search issues: %w", err)
	}
	slices.SortStableFunc(hits, func(a, b hit) int {
		switch {
		case a.mod > b.mod:
			return -1
		case a.mod < b.mod:
			return 1
		}
		return strings.Compare(a.path, b.path)
	})
	res := make([]string, len(hits))
	for i, h := range hits {
		res[i] = h.path
	}
	return res, nil
}

// Remove deletes the placement of the issue stored at path: its file, and
// its directory when it is a main file.
func Remove(path string) error {
	target := path
	if strings.HasPrefix(filepath.Base(path), MainName+".") {
		target = filepath.Dir(path)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to remove %s: %w", target, err)
	}
	return nil
}

// WriteFile replaces path atomically.
func WriteFile(path string, data []byte) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	// atomic.WriteFile leaves new files at the temp file's 0600
	if err := os.Chmod(path, 0o644); err != nil {
		return fmt.Errorf("failed to set permissions of %s: %w", path, err)
	}
	return nil
}
