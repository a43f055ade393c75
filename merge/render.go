package merge

import (
	"errors"
	"fmt"
	"strings"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
	"github.com/signadot/issue-sync/term"
)

// Render shows a conflict as a line diff from the local to the remote
// value.
func Render(c Conflict, colors *term.Colors) string {
	if colors == nil {
		colors = term.Plain()
	}
	var b strings.Builder
	b.WriteString(colors.Header("%s: %s", c.Path, c.Unit))
	b.WriteByte('\n')
	b.WriteString(colors.Del("--- local"))
	b.WriteByte('\n')
	b.WriteString(colors.Add("+++ remote"))
	b.WriteByte('\n')

	dmp := diffpatch.New()
	a, r, lines := dmp.DiffLinesToChars(withNewline(c.Local), withNewline(c.Remote))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, r, false), lines)
	for _, d := range diffs {
		for _, l := range strings.SplitAfter(d.Text, "\n") {
			if l == "" {
				continue
			}
			l = strings.TrimSuffix(l, "\n")
			switch d.Type {
			case diffpatch.DiffDelete:
				b.WriteString(colors.Del("-%s", l))
			case diffpatch.DiffInsert:
				b.WriteString(colors.Add("+%s", l))
			default:
				b.WriteString(colors.Dim(" %s", l))
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// RenderAll renders every conflict of err, or err itself for other errors.
func RenderAll(err error, colors *term.Colors) string {
	var ce *ConflictError
	if !errors.As(err, &ce) {
		return fmt.Sprintln(err)
	}
	var b strings.Builder
	for _, c := range ce.Conflicts {
		b.WriteString(Render(c, colors))
	}
	return b.String()
}

func withNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
