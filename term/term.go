// Package term decides whether and how to color terminal output.
package term

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type Colors struct {
	Add    func(string, ...any) string
	Del    func(string, ...any) string
	Header func(string, ...any) string
	Warn   func(string, ...any) string
	OK     func(string, ...any) string
	Dim    func(string, ...any) string
}

// Plain leaves text untouched.
func Plain() *Colors {
	return &Colors{
		Add:    fmt.Sprintf,
		Del:    fmt.Sprintf,
		Header: fmt.Sprintf,
		Warn:   fmt.Sprintf,
		OK:     fmt.Sprintf,
		Dim:    fmt.Sprintf,
	}
}

func NewColors() *Colors {
	add := color.New(color.FgGreen)
	del := color.New(color.FgRed)
	header := color.New(color.Bold)
	// fatih/color disables itself when stdout is not a terminal; the caller
	// already decided.
	for _, c := range []*color.Color{add, del, header} {
		c.EnableColor()
	}
	warn := color.RGB(230, 160, 20)
	warn.EnableColor()
	dim := color.RGB(128, 128, 128)
	dim.EnableColor()
	return &Colors{
		Add:    add.SprintfFunc(),
		Del:    del.SprintfFunc(),
		Header: header.SprintfFunc(),
		Warn:   warn.SprintfFunc(),
		OK:     add.SprintfFunc(),
		Dim:    dim.SprintfFunc(),
	}
}

// For returns colors when w is a terminal and NO_COLOR is unset.
func For(w io.Writer) *Colors {
	if os.Getenv("NO_COLOR") != "" || !IsTerminal(w) {
		return Plain()
	}
	return NewColors()
}
