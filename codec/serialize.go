package codec

import (
	"strings"

	"github.com/signadot/issue-sync/issue"
)

type lineKind int

const (
	kindNone lineKind = iota
	kindTitle
	kindBlank
	kindText
)

type writer struct {
	d    Dialect
	b    strings.Builder
	last lineKind
}

func (w *writer) emit(s string, k lineKind) {
	w.b.WriteString(s)
	w.b.WriteByte('\n')
	w.last = k
}

func (w *writer) text(indent, s string) {
	if strings.TrimSpace(s) == "" {
		w.emit(indent, kindBlank)
		return
	}
	if looksLikeCheckbox(s) {
		s = `\` + s
	}
	w.emit(indent+s, kindText)
}

// sep separates a new comment, blockers section or sub-issue from text
// directly above it.
func (w *writer) sep(indent string) {
	if w.last == kindText {
		w.emit(indent, kindBlank)
	}
}

// Serialize encodes is in canonical form. Closed sub-issues are folded
// unless marked Expanded.
func Serialize(is *issue.Issue, d Dialect) string {
	w := &writer{d: d}
	w.node(is, 0)
	return w.b.String()
}

func (w *writer) node(is *issue.Issue, depth int) {
	w.title(is, depth)
	ind := strings.Repeat("\t", depth+1)
	if depth > 0 && (is.Omitted || (is.State.IsClosed() && !is.Expanded)) {
		w.emit(ind+w.d.FoldMarker(), kindText)
		return
	}
	if is.Body != "" {
		bodyInd := ind
		if is.Immutable && depth == 0 {
			bodyInd += "\t"
		}
		for l := range strings.SplitSeq(is.Body, "\n") {
			w.text(bodyInd, l)
		}
	}
	for _, c := range is.Comments {
		w.sep(ind)
		w.emit(ind+w.commentMarker(is, c), kindText)
		if c.Body == "" {
			continue
		}
		cInd := ind
		if c.Immutable {
			cInd += "\t"
		}
		for l := range strings.SplitSeq(c.Body, "\n") {
			w.text(cInd, l)
		}
	}
	if is.Blockers != nil {
		w.sep(ind)
		w.emit(ind+w.d.BlockersHeader(), kindText)
		for _, bl := range is.Blockers.Lines {
			if bl.Header > 0 {
				w.emit(ind+w.d.encodeHeader(bl.Header, bl.Text), kindText)
				continue
			}
			w.emit(ind+strings.Repeat("\t", bl.Depth)+"- "+bl.Text, kindText)
		}
	}
	for _, c := range is.Children {
		w.sep(ind)
		w.node(c, depth+1)
	}
}

func (w *writer) title(is *issue.Issue, depth int) {
	var b strings.Builder
	b.WriteString(strings.Repeat("\t", depth))
	b.WriteString("- [")
	b.WriteString(is.State.Checkbox())
	b.WriteString("] ")
	if len(is.Labels) > 0 {
		b.WriteString("[" + strings.Join(is.Labels, ", ") + "] ")
	}
	b.WriteString(escapeTitle(is.Title))
	if u := issueURL(is); u != "" {
		b.WriteByte(' ')
		switch {
		case depth > 0:
			b.WriteString(w.d.subMarker(u))
		case is.Immutable:
			b.WriteString(w.d.marker("immutable " + u))
		default:
			b.WriteString(w.d.marker(u))
		}
	}
	w.emit(b.String(), kindTitle)
}

func (w *writer) commentMarker(is *issue.Issue, c *issue.Comment) string {
	if c.ID == 0 {
		return w.d.NewCommentMarker()
	}
	var parts []string
	if c.Immutable {
		parts = append(parts, "immutable")
	}
	if c.Author != "" {
		parts = append(parts, "@"+c.Author)
	}
	parts = append(parts, issue.CommentURL(issueURL(is), c.ID))
	return w.d.marker(strings.Join(parts, " "))
}

func issueURL(is *issue.Issue) string {
	if is.URL != "" {
		return is.URL
	}
	if is.Number == 0 || is.Owner == "" || is.Repo == "" {
		return ""
	}
	return issue.IssueURL(is.Owner, is.Repo, is.Number)
}

// escapeTitle keeps a title starting with '[' from reading as labels. A
// leading backslash is escaped too so that unescaping is exact.
func escapeTitle(t string) string {
	if strings.HasPrefix(t, "[") || strings.HasPrefix(t, `\`) {
		return `\` + t
	}
	return t
}
