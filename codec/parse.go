package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/signadot/issue-sync/debug"
	"github.com/signadot/issue-sync/issue"
)

type line struct {
	no     int
	raw    string
	indent int
}

func (l *line) blank() bool {
	return strings.TrimSpace(l.raw) == ""
}

func splitLines(src string) []*line {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	src = strings.TrimSuffix(src, "\n")
	raw := strings.Split(src, "\n")
	res := make([]*line, len(raw))
	for i, r := range raw {
		n := 0
		for n < len(r) && r[n] == '\t' {
			n++
		}
		res[i] = &line{no: i + 1, raw: r, indent: n}
	}
	return res
}

type section int

const (
	secBody section = iota
	secComment
	secBlockers
	secChildren
	secFolded
)

type parser struct {
	ctx   *ParseContext
	d     Dialect
	lines []*line
	pos   int
}

// Parse decodes an issue document. Indentation is normalized and
// shorthands are expanded before the structure is read.
func Parse(ctx ParseContext, d Dialect) (*issue.Issue, error) {
	src := Expand(Normalize(ctx.Source), d)
	p := &parser{ctx: &ctx, d: d, lines: splitLines(src)}
	is, err := p.parse()
	if err != nil {
		return nil, err
	}
	if debug.Codec() {
		debug.Logf("parsed %s: #%d %q with %d comments, %d sub-issues\n",
			ctx.Name, is.Number, is.Title, len(is.Comments), len(is.Children))
	}
	return is, nil
}

func (p *parser) parse() (*issue.Issue, error) {
	p.skipBlank()
	if p.pos == len(p.lines) {
		return nil, newErr(p.ctx, nil, ErrEmpty, "no issue line found")
	}
	l := p.lines[p.pos]
	if l.indent != 0 {
		return nil, newErr(p.ctx, l, ErrIndent, "document must start with an unindented issue line")
	}
	if p.d.isBlockersHeader(l.raw) {
		return nil, newErr(p.ctx, l, ErrOrphanBlockers, "")
	}
	root, err := p.title(l, l.raw, nil)
	if err != nil {
		return nil, err
	}
	p.pos++
	if err := p.content(root, 0); err != nil {
		return nil, err
	}
	p.skipBlank()
	if p.pos < len(p.lines) {
		l := p.lines[p.pos]
		if p.d.isBlockersHeader(l.raw) {
			return nil, newErr(p.ctx, l, ErrOrphanBlockers, "")
		}
		return nil, newErr(p.ctx, l, ErrIndent, "content outside of the root issue")
	}
	return root, nil
}

func (p *parser) skipBlank() {
	for p.pos < len(p.lines) && p.lines[p.pos].blank() {
		p.pos++
	}
}

// content reads the lines belonging to node, which sits at depth.
func (p *parser) content(node *issue.Issue, depth int) error {
	want := depth + 1
	sec := secBody
	var (
		text []string
		cur  *issue.Comment
	)
	flush := func() {
		switch sec {
		case secBody:
			node.Body = joinText(text, node.Immutable && depth == 0)
		case secComment:
			cur.Body = joinText(text, cur.Immutable)
		}
		text = nil
	}
	for p.pos < len(p.lines) {
		l := p.lines[p.pos]
		if l.blank() {
			if sec == secBody || sec == secComment {
				text = append(text, "")
			}
			p.pos++
			continue
		}
		if l.indent < want {
			break
		}
		inner := l.raw[want:]
		if l.indent == want {
			if looksLikeCheckbox(inner) {
				flush()
				child, err := p.title(l, inner, node)
				if err != nil {
					return err
				}
				node.Children = append(node.Children, child)
				p.pos++
				if err := p.content(child, depth+1); err != nil {
					return err
				}
				sec = secChildren
				continue
			}
			if p.d.isBlockersHeader(inner) {
				flush()
				if node.Blockers == nil {
					node.Blockers = &issue.Blockers{}
				}
				sec = secBlockers
				p.pos++
				continue
			}
			if m, ok := p.d.unmarker(inner); ok {
				if isFold(m) {
					flush()
					node.Omitted = true
					sec = secFolded
					p.pos++
					continue
				}
				c, ok, err := commentMarker(m)
				if err != nil {
					return newErr(p.ctx, l, ErrMarker, "%v", err)
				}
				if ok {
					flush()
					node.Comments = append(node.Comments, c)
					cur = c
					sec = secComment
					p.pos++
					continue
				}
			}
		}
		switch sec {
		case secBlockers:
			node.Blockers.Lines = append(node.Blockers.Lines, p.blockerLine(inner))
		case secChildren:
			return newErr(p.ctx, l, ErrIndent, "text after sub-issues must be indented under one")
		case secFolded:
			return newErr(p.ctx, l, ErrIndent, "content below a fold marker; remove the marker to edit")
		default:
			text = append(text, inner)
		}
		p.pos++
	}
	flush()
	if depth > 0 && node.State.IsClosed() && !node.Omitted {
		node.Expanded = true
	}
	return nil
}

// unescape undoes the escaping of body lines that would otherwise read as
// issue lines.
func unescape(s string) string {
	if strings.HasPrefix(s, `\- [`) && looksLikeCheckbox(s[1:]) {
		return s[1:]
	}
	return s
}

func joinText(text []string, immutable bool) string {
	for i, t := range text {
		if immutable {
			t = strings.TrimPrefix(t, "\t")
		}
		text[i] = unescape(t)
	}
	for len(text) > 0 && text[len(text)-1] == "" {
		text = text[:len(text)-1]
	}
	return strings.Join(text, "\n")
}

func (p *parser) blockerLine(inner string) issue.BlockerLine {
	tabs := 0
	for tabs < len(inner) && inner[tabs] == '\t' {
		tabs++
	}
	s := strings.TrimSpace(inner[tabs:])
	if tabs == 0 {
		if level, text, ok := p.d.header(s); ok {
			return issue.BlockerLine{Header: level, Text: text}
		}
	}
	if s == "-" {
		s = ""
	}
	return issue.BlockerLine{Text: strings.TrimPrefix(s, "- "), Depth: tabs}
}

// title decodes an issue line (without its indentation).
func (p *parser) title(l *line, s string, parent *issue.Issue) (*issue.Issue, error) {
	state, rest, err := checkbox(s)
	if err != nil {
		return nil, newErr(p.ctx, l, ErrCheckbox, "%v", err)
	}
	is := &issue.Issue{State: state}
	if parent != nil {
		is.Owner, is.Repo = parent.Owner, parent.Repo
	}
	if strings.HasPrefix(rest, "[") {
		if k := strings.Index(rest, "] "); k > 0 {
			for lb := range strings.SplitSeq(rest[1:k], ",") {
				if lb = strings.TrimSpace(lb); lb != "" {
					is.Labels = append(is.Labels, lb)
				}
			}
			rest = rest[k+2:]
		}
	}
	text, m, ok := p.d.splitTrailingMarker(rest)
	is.Title = strings.TrimPrefix(strings.TrimSpace(text), `\`)
	if !ok || m == "" {
		return is, nil
	}
	fields := strings.Fields(m)
	switch fields[0] {
	case "sub":
		fields = fields[1:]
	case "immutable":
		is.Immutable = parent == nil
		fields = fields[1:]
	}
	if len(fields) != 1 {
		return nil, newErr(p.ctx, l, ErrMarker, "expected an issue url in %q", m)
	}
	is.URL = fields[0]
	n, ok := issue.NumberFromURL(is.URL)
	if !ok {
		return nil, newErr(p.ctx, l, ErrMarker, "no issue number in %q", is.URL)
	}
	is.Number = n
	if id, err := issue.ParseURL(is.URL); err == nil {
		is.Owner, is.Repo = id.Owner, id.Repo
	}
	return is, nil
}

// looksLikeCheckbox reports whether s is meant as an issue line. Bracketed
// words ("- [link] ...") are left to the body.
func looksLikeCheckbox(s string) bool {
	if !strings.HasPrefix(s, "- [") {
		return false
	}
	j := strings.IndexByte(s[3:], ']')
	if j < 0 {
		return false
	}
	box := s[3 : 3+j]
	after := s[3+j+1:]
	if after != "" && after[0] != ' ' {
		return false
	}
	return len(box) <= 1 || allDigits(box)
}

func checkbox(s string) (issue.CloseState, string, error) {
	if !strings.HasPrefix(s, "- [") {
		return issue.CloseState{}, "", fmt.Errorf("expected \"- [ ]\"")
	}
	j := strings.IndexByte(s[3:], ']')
	if j < 0 {
		return issue.CloseState{}, "", fmt.Errorf("missing closing bracket")
	}
	box := s[3 : 3+j]
	rest := s[3+j+1:]
	if rest != "" && rest[0] != ' ' {
		return issue.CloseState{}, "", fmt.Errorf("expected a space after the checkbox")
	}
	rest = strings.TrimPrefix(rest, " ")
	switch {
	case box == "" || box == " ":
		return issue.CloseState{Kind: issue.Open}, rest, nil
	case box == "x" || box == "X":
		return issue.CloseState{Kind: issue.Closed}, rest, nil
	case box == "-":
		return issue.CloseState{Kind: issue.NotPlanned}, rest, nil
	case allDigits(box):
		n, err := strconv.ParseUint(box, 10, 64)
		if err != nil || n == 0 {
			return issue.CloseState{}, "", fmt.Errorf("bad duplicate reference %q", box)
		}
		return issue.CloseState{Kind: issue.Duplicate, Duplicate: n}, rest, nil
	}
	return issue.CloseState{}, "", fmt.Errorf("unknown checkbox content %q", box)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isFold(m string) bool {
	return strings.HasPrefix(strings.ToLower(m), "omitted")
}

// commentMarker decodes "new comment" or "[immutable] [@author] url#issuecomment-ID".
func commentMarker(m string) (*issue.Comment, bool, error) {
	if strings.EqualFold(m, "new comment") {
		return &issue.Comment{}, true, nil
	}
	if !strings.Contains(m, "#issuecomment-") {
		return nil, false, nil
	}
	c := &issue.Comment{}
	fields := strings.Fields(m)
	if len(fields) > 0 && fields[0] == "immutable" {
		c.Immutable = true
		fields = fields[1:]
	}
	if len(fields) > 0 && strings.HasPrefix(fields[0], "@") {
		c.Author = fields[0][1:]
		fields = fields[1:]
	}
	if len(fields) != 1 {
		return nil, false, fmt.Errorf("bad comment marker %q", m)
	}
	_, idStr, _ := strings.Cut(fields[0], "#issuecomment-")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil || id == 0 {
		return nil, false, fmt.Errorf("bad comment id in %q", m)
	}
	c.ID = id
	return c, true, nil
}
