package issue

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseURL extracts owner, repo and number from an issue url such as
// https://github.com/owner/repo/issues/123. The scheme and host are
// optional.
func ParseURL(u string) (Identity, error) {
	s := strings.TrimSpace(u)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexAny(s, "#?"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 5 || parts[0] != "github.com" || parts[3] != "issues" {
		return Identity{}, fmt.Errorf("not an issue url: %q", u)
	}
	n, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil || n == 0 {
		return Identity{}, fmt.Errorf("bad issue number in %q", u)
	}
	return Identity{Owner: parts[1], Repo: parts[2], Number: n}, nil
}

// IsURL reports whether s looks like an issue url.
func IsURL(s string) bool {
	_, err := ParseURL(s)
	return err == nil
}

// NumberFromURL returns the trailing number of a url-ish reference, which
// may be abbreviated (".../12").
func NumberFromURL(u string) (uint64, bool) {
	s := strings.TrimSpace(u)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}
