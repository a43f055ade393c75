package placement

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	jsonpatch "github.com/evanphx/json-patch"
)

// ProjectMeta is the per-project .meta.json record.
type ProjectMeta struct {
	Owner                  string `json:"owner"`
	Repo                   string `json:"repo"`
	VirtualProject         bool   `json:"virtual_project"`
	NextVirtualIssueNumber uint64 `json:"next_virtual_issue_number"`
}

func (l Layout) metaPath(owner, repo string) string {
	return filepath.Join(l.ProjectDir(owner, repo), MetaName)
}

// LoadMeta reads the project record, returning defaults when it does not
// exist.
func (l Layout) LoadMeta(owner, repo string) (*ProjectMeta, error) {
	m := &ProjectMeta{Owner: owner, Repo: repo, NextVirtualIssueNumber: 1}
	d, err := os.ReadFile(l.metaPath(owner, repo))
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project meta: %w", err)
	}
	if err := json.Unmarshal(d, m); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", l.metaPath(owner, repo), err)
	}
	if m.NextVirtualIssueNumber == 0 {
		m.NextVirtualIssueNumber = 1
	}
	return m, nil
}

// SaveMeta writes m. An existing file is patched field by field so that
// keys this package does not know about are kept.
func (l Layout) SaveMeta(m *ProjectMeta) error {
	path := l.metaPath(m.Owner, m.Repo)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	doc, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		doc = []byte("{}")
	} else if err != nil {
		return fmt.Errorf("failed to read project meta: %w", err)
	}
	ops := []map[string]any{
		{"op": "add", "path": "/owner", "value": m.Owner},
		{"op": "add", "path": "/repo", "value": m.Repo},
		{"op": "add", "path": "/virtual_project", "value": m.VirtualProject},
		{"op": "add", "path": "/next_virtual_issue_number", "value": m.NextVirtualIssueNumber},
	}
	pd, err := json.Marshal(ops)
	if err != nil {
		return err
	}
	patch, err := jsonpatch.DecodePatch(pd)
	if err != nil {
		return fmt.Errorf("failed to build meta patch: %w", err)
	}
	out, err := patch.Apply(doc)
	if err != nil {
		return fmt.Errorf("failed to patch %s: %w", path, err)
	}
	var pretty map[string]any
	if err := json.Unmarshal(out, &pretty); err != nil {
		return err
	}
	out, err = json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	return WriteFile(path, append(out, '\n'))
}

// IsVirtual reports whether owner/repo is a local-only project.
func (l Layout) IsVirtual(owner, repo string) bool {
	m, err := l.LoadMeta(owner, repo)
	return err == nil && m.VirtualProject
}

// AllocateVirtual marks owner/repo virtual and hands out its next issue
// number.
func (l Layout) AllocateVirtual(owner, repo string) (uint64, error) {
	m, err := l.LoadMeta(owner, repo)
	if err != nil {
		return 0, err
	}
	n := m.NextVirtualIssueNumber
	m.VirtualProject = true
	m.NextVirtualIssueNumber = n + 1
	if err := l.SaveMeta(m); err != nil {
		return 0, err
	}
	return n, nil
}
