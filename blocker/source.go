package blocker

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/signadot/issue-sync/codec"
	"github.com/signadot/issue-sync/issue"
	"github.com/signadot/issue-sync/placement"
)

// Source loads and saves a blocker sequence.
type Source interface {
	Load() (*Sequence, error)
	Save(*Sequence) error
	DisplayName() string
}

// Standalone is a file containing only blockers.
type Standalone struct {
	Path string
}

func (s *Standalone) Load() (*Sequence, error) {
	d, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return &Sequence{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blockers: %w", err)
	}
	return Parse(string(d)), nil
}

func (s *Standalone) Save(seq *Sequence) error {
	if err := placement.WriteFile(s.Path, []byte(seq.String())); err != nil {
		return fmt.Errorf("failed to write blockers: %w", err)
	}
	return nil
}

func (s *Standalone) DisplayName() string {
	return s.Path
}

// Embedded is the blockers section of an issue file.
type Embedded struct {
	Path    string
	Dialect codec.Dialect
}

func (e *Embedded) load() (*issue.Issue, error) {
	d, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read issue: %w", err)
	}
	return codec.Parse(codec.ParseContext{Source: string(d), Name: e.Path}, e.Dialect)
}

func (e *Embedded) Load() (*Sequence, error) {
	is, err := e.load()
	if err != nil {
		return nil, err
	}
	if is.Blockers == nil {
		return &Sequence{}, nil
	}
	return &Sequence{Lines: is.Blockers.Lines}, nil
}

func (e *Embedded) Save(seq *Sequence) error {
	is, err := e.load()
	if err != nil {
		return err
	}
	if len(seq.Lines) == 0 && is.Blockers == nil {
		return nil
	}
	is.Blockers = &issue.Blockers{Lines: seq.Lines}
	if err := placement.WriteFile(e.Path, []byte(codec.Serialize(is, e.Dialect))); err != nil {
		return fmt.Errorf("failed to write issue: %w", err)
	}
	return nil
}

func (e *Embedded) DisplayName() string {
	is, err := e.load()
	if err != nil || is.Title == "" {
		return e.Path
	}
	return fmt.Sprintf("%s (%s)", is.Title, e.Path)
}

// SourceFor picks the source kind for path: issue files (by extension and
// a leading issue line) are Embedded, anything else Standalone.
func SourceFor(path string) Source {
	dialect, err := codec.DialectOf(path)
	if err != nil {
		return &Standalone{Path: path}
	}
	d, err := os.ReadFile(path)
	if err != nil {
		return &Standalone{Path: path}
	}
	first := strings.TrimSpace(string(d))
	if strings.HasPrefix(first, "- [") {
		return &Embedded{Path: path, Dialect: dialect}
	}
	return &Standalone{Path: path}
}

// Locate returns the 1-based line of the current blocker in an issue
// document, or 0.
func Locate(text string, d codec.Dialect) int {
	is, err := codec.Parse(codec.ParseContext{Source: text}, d)
	if err != nil || is.Blockers == nil {
		return 0
	}
	cur, _, ok := (&Sequence{Lines: is.Blockers.Lines}).Current()
	if !ok {
		return 0
	}
	want := "- " + cur.Text
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == want {
			return i + 1
		}
	}
	return 0
}
