package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/signadot/issue-sync/blocker"
	"github.com/signadot/issue-sync/codec"
	"github.com/signadot/issue-sync/issue"
	"github.com/signadot/issue-sync/placement"
)

var ErrNoBlockers = errors.New("no blockers")

// Modifier changes the file of an opened issue between the pull and the
// push.
type Modifier interface {
	Modify(ctx context.Context, s *Session, path string) error
}

// Edit runs the editor. An unmodified file aborts the sync.
type Edit struct {
	// AtBlocker opens the file at the current blocker.
	AtBlocker bool
}

func (m Edit) Modify(ctx context.Context, s *Session, path string) error {
	if s.Editor == nil {
		return fmt.Errorf("no editor configured")
	}
	before, err := os.Stat(path)
	if err != nil {
		return err
	}
	line := 0
	if m.AtBlocker {
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		d, _ := codec.DialectOf(path)
		line = blocker.Locate(string(src), d)
	}
	if err := s.Editor.Edit(ctx, path, line); err != nil {
		return err
	}
	after, err := os.Stat(path)
	if err != nil {
		return err
	}
	if after.ModTime().Equal(before.ModTime()) && after.Size() == before.Size() {
		return ErrAborted
	}
	return nil
}

// Sync changes nothing; the file is pushed as it is.
type Sync struct{}

func (Sync) Modify(context.Context, *Session, string) error { return nil }

// SetState sets the close state of the issue.
type SetState struct {
	State issue.CloseState
}

func (m SetState) Modify(_ context.Context, _ *Session, path string) error {
	d, err := codec.DialectOf(path)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	is, err := codec.Parse(codec.ParseContext{Source: string(src), Name: path}, d)
	if err != nil {
		return err
	}
	if is.State == m.State {
		return ErrAborted
	}
	is.State = m.State
	return placement.WriteFile(path, []byte(codec.Serialize(is, d)))
}

// AddBlocker appends a blocker to the issue's blockers section.
type AddBlocker struct {
	Text string
}

func (m AddBlocker) Modify(_ context.Context, _ *Session, path string) error {
	d, err := codec.DialectOf(path)
	if err != nil {
		return err
	}
	src := &blocker.Embedded{Path: path, Dialect: d}
	seq, err := src.Load()
	if err != nil {
		return err
	}
	seq.Add(m.Text)
	return src.Save(seq)
}

// PopBlocker removes the current blocker. Popped holds it afterwards.
type PopBlocker struct {
	Popped issue.BlockerLine
}

func (m *PopBlocker) Modify(_ context.Context, _ *Session, path string) error {
	d, err := codec.DialectOf(path)
	if err != nil {
		return err
	}
	src := &blocker.Embedded{Path: path, Dialect: d}
	seq, err := src.Load()
	if err != nil {
		return err
	}
	bl, ok := seq.Pop()
	if !ok {
		return ErrNoBlockers
	}
	m.Popped = bl
	return src.Save(seq)
}
