package codec

import (
	"strings"

	"github.com/signadot/issue-sync/issue"
)

// RemoteBody renders an issue body together with its blockers section the
// way it is stored remotely: markdown, with the section appended after a
// blank line.
func RemoteBody(body string, b *issue.Blockers) string {
	body = strings.TrimRight(body, " \t\n")
	if b == nil {
		return body
	}
	var s strings.Builder
	s.WriteString(body)
	if body != "" {
		s.WriteString("\n\n")
	}
	s.WriteString(Markdown.BlockersHeader())
	for _, l := range b.Lines {
		s.WriteByte('\n')
		if l.Header > 0 {
			s.WriteString(Markdown.encodeHeader(l.Header, l.Text))
			continue
		}
		s.WriteString(strings.Repeat("  ", l.Depth) + "- " + l.Text)
	}
	return s.String()
}

// SplitRemoteBody is the inverse of RemoteBody. The last blockers header at
// column 0 starts the section.
func SplitRemoteBody(text string) (string, *issue.Blockers) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	at := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] == strings.TrimSpace(lines[i]) && Markdown.isBlockersHeader(lines[i]) {
			at = i
			break
		}
	}
	if at < 0 {
		return strings.TrimRight(text, " \t\n"), nil
	}
	b := &issue.Blockers{}
	for _, l := range lines[at+1:] {
		if strings.TrimSpace(l) == "" {
			continue
		}
		depth := 0
		for strings.HasPrefix(l, "\t") {
			depth++
			l = l[1:]
		}
		n := len(l) - len(strings.TrimLeft(l, " "))
		depth += n / 2
		s := strings.TrimSpace(l)
		if depth == 0 {
			if level, h, ok := Markdown.header(s); ok {
				b.Lines = append(b.Lines, issue.BlockerLine{Header: level, Text: h})
				continue
			}
		}
		if s == "-" {
			s = ""
		}
		b.Lines = append(b.Lines, issue.BlockerLine{Text: strings.TrimPrefix(s, "- "), Depth: depth})
	}
	body := strings.TrimRight(strings.Join(lines[:at], "\n"), " \t\n")
	return body, b
}
