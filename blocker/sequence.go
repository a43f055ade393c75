// Package blocker manipulates blocker lists, either standalone files or the
// blockers section embedded in an issue file.
package blocker

import (
	"strings"

	"github.com/signadot/issue-sync/issue"
)

// Sequence is an ordered list of blocker lines. Header lines group the
// items that follow them.
type Sequence struct {
	Lines []issue.BlockerLine
}

// classify decodes a standalone blocker line. Tab or deep space indentation
// nests an item below the previous one.
func classify(l string) (issue.BlockerLine, bool) {
	if strings.TrimSpace(l) == "" {
		return issue.BlockerLine{}, false
	}
	depth := 0
	for strings.HasPrefix(l, "\t") {
		depth++
		l = l[1:]
	}
	if n := len(l) - len(strings.TrimLeft(l, " ")); n >= 2 {
		depth += n / 2
		l = l[n:]
	}
	s := strings.TrimSpace(l)
	if depth == 0 && strings.HasPrefix(s, "#") {
		n := len(s) - len(strings.TrimLeft(s, "#"))
		if n <= 6 && len(s) > n && s[n] == ' ' {
			return issue.BlockerLine{Header: n, Text: strings.TrimSpace(s[n+1:])}, true
		}
	}
	if s == "-" {
		s = ""
	}
	return issue.BlockerLine{Text: strings.TrimPrefix(s, "- "), Depth: depth}, true
}

// Parse reads a standalone blockers document.
func Parse(text string) *Sequence {
	seq := &Sequence{}
	for l := range strings.SplitSeq(text, "\n") {
		if bl, ok := classify(l); ok {
			seq.Lines = append(seq.Lines, bl)
		}
	}
	return seq
}

func (s *Sequence) String() string {
	var b strings.Builder
	for _, l := range s.Lines {
		if l.Header > 0 {
			b.WriteString(strings.Repeat("#", l.Header) + " " + l.Text + "\n")
			continue
		}
		b.WriteString(strings.Repeat("\t", l.Depth) + "- " + l.Text + "\n")
	}
	return b.String()
}

// Current returns the last item, which is the one being worked on, along
// with the headers it is grouped under, outermost first.
func (s *Sequence) Current() (issue.BlockerLine, []string, bool) {
	i := s.lastItem()
	if i < 0 {
		return issue.BlockerLine{}, nil, false
	}
	var path []string
	level := 7
	for j := i - 1; j >= 0; j-- {
		h := s.Lines[j]
		if h.Header == 0 || h.Header >= level {
			continue
		}
		path = append([]string{h.Text}, path...)
		level = h.Header
	}
	return s.Lines[i], path, true
}

// Add appends an item at the end of the last group.
func (s *Sequence) Add(text string) {
	s.Lines = append(s.Lines, issue.BlockerLine{Text: text})
}

// Pop removes the current item, together with any header left without
// items.
func (s *Sequence) Pop() (issue.BlockerLine, bool) {
	i := s.lastItem()
	if i < 0 {
		return issue.BlockerLine{}, false
	}
	res := s.Lines[i]
	s.Lines = append(s.Lines[:i], s.Lines[i+1:]...)
	for len(s.Lines) > 0 && s.Lines[len(s.Lines)-1].Header > 0 {
		s.Lines = s.Lines[:len(s.Lines)-1]
	}
	return res, true
}

func (s *Sequence) lastItem() int {
	for i := len(s.Lines) - 1; i >= 0; i-- {
		if s.Lines[i].Header == 0 {
			return i
		}
	}
	return -1
}
