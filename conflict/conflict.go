// Package conflict records files left with merge conflict markers and blocks
// every operation until they are resolved.
package conflict

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const ext = ".conflict"

var ErrBlocked = errors.New("unresolved conflict blocks all operations")

// BlockedError names the file whose conflict is still unresolved.
type BlockedError struct {
	Path string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%v: resolve the markers (<<<<<<< ======= >>>>>>>) in %s, then commit", ErrBlocked, e.Path)
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

// State is a persisted conflict record.
type State struct {
	Path     string    `json:"path"`
	Detected time.Time `json:"detected"`
	Reason   string    `json:"reason,omitempty"`
}

// Tracker keeps one record per conflicting file in Dir.
type Tracker struct {
	Dir string
	// Now is the clock used for new records.
	Now func() time.Time
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func key(path string) string {
	h := fnv.New64a()
	h.Write([]byte(path))
	return fmt.Sprintf("%x", h.Sum64())
}

func absPath(path string) string {
	if a, err := filepath.Abs(path); err == nil {
		return a
	}
	return path
}

// Mark records a conflict in path.
func (t *Tracker) Mark(path, reason string) error {
	path = absPath(path)
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create conflict dir: %w", err)
	}
	k := key(path)
	if err := os.WriteFile(filepath.Join(t.Dir, k+ext), []byte(path), 0o644); err != nil {
		return fmt.Errorf("failed to record conflict: %w", err)
	}
	d, err := json.MarshalIndent(State{Path: path, Detected: t.now(), Reason: reason}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(t.Dir, k+".json"), d, 0o644); err != nil {
		return fmt.Errorf("failed to record conflict: %w", err)
	}
	log.Debug().Str("path", path).Str("reason", reason).Msg("marked conflict")
	return nil
}

// Clear drops the record for path.
func (t *Tracker) Clear(path string) error {
	k := key(absPath(path))
	for _, name := range []string{k + ext, k + ".json"} {
		if err := os.Remove(filepath.Join(t.Dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to clear conflict: %w", err)
		}
	}
	return nil
}

// HasMarkers reports whether text holds a complete set of git conflict
// markers: an opening, a divider and a closing line, in that order.
func HasMarkers(text string) bool {
	stage := 0
	for l := range strings.Lines(text) {
		l = strings.TrimRight(l, "\r\n")
		switch {
		case stage == 0 && strings.HasPrefix(l, "<<<<<<< "),
			stage == 1 && l == "=======":
			stage++
		case stage == 2 && strings.HasPrefix(l, ">>>>>>> "):
			return true
		}
	}
	return false
}

// List returns the recorded conflicts, oldest first, without checking
// them.
func (t *Tracker) List() ([]State, error) {
	records, err := filepath.Glob(filepath.Join(t.Dir, "*"+ext))
	if err != nil {
		return nil, err
	}
	var res []State
	for _, r := range records {
		path, err := os.ReadFile(r)
		if err != nil {
			continue
		}
		st := State{Path: string(path)}
		side := strings.TrimSuffix(r, ext) + ".json"
		if d, err := os.ReadFile(side); err == nil {
			_ = json.Unmarshal(d, &st)
			st.Path = string(path)
		}
		res = append(res, st)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if !res[i].Detected.Equal(res[j].Detected) {
			return res[i].Detected.Before(res[j].Detected)
		}
		return res[i].Path < res[j].Path
	})
	return res, nil
}

// CheckAll clears records whose file is gone or no longer has markers and
// returns a *BlockedError for the first one still unresolved.
func (t *Tracker) CheckAll() error {
	states, err := t.List()
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}
	for _, st := range states {
		d, err := os.ReadFile(st.Path)
		if err == nil && HasMarkers(string(d)) {
			return &BlockedError{Path: st.Path}
		}
		log.Debug().Str("path", st.Path).Msg("conflict resolved")
		if err := t.Clear(st.Path); err != nil {
			return err
		}
	}
	return nil
}
