package codec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmpty          = errors.New("empty document")
	ErrCheckbox       = errors.New("malformed checkbox")
	ErrOrphanBlockers = errors.New("blockers marker without an owning issue")
	ErrIndent         = errors.New("bad indentation")
	ErrMarker         = errors.New("malformed marker")
)

// ParseContext carries the text being parsed and where it came from.
type ParseContext struct {
	Source string
	Name   string
}

// ParseError reports a problem at a line (1-based) of the parsed document.
type ParseError struct {
	Name string
	Line int
	Col  int
	Text string
	Msg  string
	Err  error
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Error() string {
	name := e.Name
	if name == "" {
		name = "<input>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d:%d: %s", name, e.Line, e.Col, e.Err)
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Text != "" {
		fmt.Fprintf(&b, "\n\t%q", sample(e.Text))
	}
	return b.String()
}

func sample(s string) string {
	const max = 60
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func newErr(ctx *ParseContext, l *line, err error, format string, args ...any) *ParseError {
	e := &ParseError{Name: ctx.Name, Err: err, Msg: fmt.Sprintf(format, args...)}
	if l != nil {
		e.Line = l.no
		e.Col = l.indent + 1
		e.Text = l.raw
	}
	return e
}
