package codec

import "strings"

const (
	defaultIndentWidth = 4
	maxIndentWidth     = 8
)

// IndentWidth returns the width of one indentation level in a space
// indented document: the leading space count of the first line starting
// with at least two spaces. It returns 0 if no line is space indented.
func IndentWidth(text string) int {
	for l := range strings.SplitSeq(text, "\n") {
		n := leadingSpaces(l)
		if n < 2 || n == len(l) {
			continue
		}
		if n > maxIndentWidth {
			return defaultIndentWidth
		}
		return n
	}
	return 0
}

// Normalize rewrites leading space runs as tabs so that documents whose
// tabs were expanded by an editor parse like tab indented ones. Spaces
// left over after the last full level are kept.
func Normalize(text string) string {
	w := IndentWidth(text)
	if w == 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		n := leadingSpaces(l)
		if n < w {
			continue
		}
		lines[i] = strings.Repeat("\t", n/w) + strings.Repeat(" ", n%w) + l[n:]
	}
	return strings.Join(lines, "\n")
}

func leadingSpaces(s string) int {
	n := 0
	for n < len(s) && s[n] == ' ' {
		n++
	}
	return n
}

// Expand replaces lines consisting solely of a shorthand token with the
// line it stands for: !b for the blockers header, !c for a new comment.
func Expand(text string, d Dialect) string {
	if !strings.Contains(text, "!") {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		trimmed := strings.TrimSpace(l)
		if len(trimmed) != 2 || trimmed[0] != '!' {
			continue
		}
		indent := l[:len(l)-len(strings.TrimLeft(l, " \t"))]
		switch strings.ToLower(trimmed) {
		case "!b":
			lines[i] = indent + d.BlockersHeader()
		case "!c":
			lines[i] = indent + d.NewCommentMarker()
		}
	}
	return strings.Join(lines, "\n")
}
