package codec

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Dialect selects the concrete syntax of issue files.
type Dialect int

const (
	Markdown Dialect = iota
	Typst
)

// ParseDialect maps a file extension ("md", ".typ") to a Dialect.
func ParseDialect(ext string) (Dialect, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "md", "markdown":
		return Markdown, nil
	case "typ", "typst":
		return Typst, nil
	}
	return Markdown, fmt.Errorf("unknown extension %q", ext)
}

// DialectOf returns the dialect of an issue file path, ignoring a trailing
// .bak suffix.
func DialectOf(path string) (Dialect, error) {
	p := strings.TrimSuffix(path, ".bak")
	return ParseDialect(filepath.Ext(p))
}

func (d Dialect) Ext() string {
	if d == Typst {
		return "typ"
	}
	return "md"
}

func (d Dialect) String() string {
	return d.Ext()
}

// Set implements flag style parsing for config and cli options.
func (d *Dialect) Set(s string) error {
	v, err := ParseDialect(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// marker wraps marker content in the dialect's inline comment.
func (d Dialect) marker(content string) string {
	if d == Typst {
		return "// " + content
	}
	return "<!-- " + content + " -->"
}

func (d Dialect) subMarker(url string) string {
	if d == Typst {
		return "// sub " + url
	}
	return "<!--sub " + url + " -->"
}

// unmarker returns the content of a line that is entirely a marker.
func (d Dialect) unmarker(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if d == Typst {
		if strings.HasPrefix(s, "//") {
			return strings.TrimSpace(s[2:]), true
		}
		return "", false
	}
	if strings.HasPrefix(s, "<!--") && strings.HasSuffix(s, "-->") && len(s) >= 7 {
		return strings.TrimSpace(s[4 : len(s)-3]), true
	}
	return "", false
}

// splitTrailingMarker splits a title line remainder into text and the
// content of a trailing marker.
func (d Dialect) splitTrailingMarker(s string) (text, content string, ok bool) {
	if d == Typst {
		if strings.HasPrefix(s, "// ") {
			return "", strings.TrimSpace(s[3:]), true
		}
		i := strings.LastIndex(s, " // ")
		if i < 0 {
			return s, "", false
		}
		return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+4:]), true
	}
	if !strings.HasSuffix(s, "-->") {
		return s, "", false
	}
	i := strings.LastIndex(s, "<!--")
	if i < 0 {
		return s, "", false
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+4 : len(s)-3]), true
}

func (d Dialect) BlockersHeader() string {
	if d == Typst {
		return "// blockers"
	}
	return "# Blockers"
}

func (d Dialect) FoldMarker() string {
	return d.marker("omitted")
}

func (d Dialect) NewCommentMarker() string {
	return d.marker("new comment")
}

var (
	mdBlockersRe  = regexp.MustCompile(`(?i)^(#{1,6}\s+blockers?:?|\*\*blockers?:?\*\*:?|<!--\s*blockers?\s*-->)$`)
	typBlockersRe = regexp.MustCompile(`(?i)^(//\s*blockers?:?|={1,6}\s+blockers?:?)$`)
)

func (d Dialect) isBlockersHeader(s string) bool {
	s = strings.TrimSpace(s)
	if d == Typst {
		return typBlockersRe.MatchString(s)
	}
	return mdBlockersRe.MatchString(s)
}

func (d Dialect) headerChar() byte {
	if d == Typst {
		return '='
	}
	return '#'
}

// header decodes a grouping header line: a run of 1..6 header characters
// followed by a space.
func (d Dialect) header(s string) (int, string, bool) {
	c := d.headerChar()
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	if n == 0 || n > 6 || n >= len(s) || s[n] != ' ' {
		return 0, "", false
	}
	return n, strings.TrimSpace(s[n+1:]), true
}

func (d Dialect) encodeHeader(level int, text string) string {
	return strings.Repeat(string(d.headerChar()), level) + " " + text
}
