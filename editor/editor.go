// Package editor runs the user's text editor on an issue file.
package editor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var ErrNoEditor = errors.New("no editor found")

// Editor opens path, optionally at a 1-based line, and waits for the user.
type Editor interface {
	Edit(ctx context.Context, path string, line int) error
}

// Command runs an editor command line such as "vim" or "code -w".
type Command struct {
	Name   string
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// New returns a Command for name, falling back to $VISUAL, $EDITOR and
// common editors when name is empty.
func New(name string) (*Command, error) {
	if name == "" {
		name = Default()
	}
	if name == "" {
		return nil, ErrNoEditor
	}
	return &Command{Name: name, Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}, nil
}

// Default returns the user's preferred editor
func Default() string {
	if editor := os.Getenv("VISUAL"); editor != "" {
		return editor
	}
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor
	}
	for _, editor := range []string{"vim", "vi", "nano"} {
		if _, err := exec.LookPath(editor); err == nil {
			return editor
		}
	}
	return ""
}

// Args returns the argv used to open path at line.
func (c *Command) Args(path string, line int) []string {
	argv := strings.Fields(c.Name)
	if line > 0 && takesLine(argv[0]) {
		argv = append(argv, fmt.Sprintf("+%d", line))
	}
	return append(argv, path)
}

// takesLine reports whether the editor understands "+N".
func takesLine(prog string) bool {
	switch filepath.Base(prog) {
	case "vi", "vim", "nvim", "nano", "emacs", "emacsclient", "kak", "micro", "hx", "helix":
		return true
	}
	return false
}

func (c *Command) Edit(ctx context.Context, path string, line int) error {
	argv := c.Args(path, line)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}
	return nil
}
