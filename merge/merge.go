// Package merge reconciles a local issue tree with the remote one, using the
// last state both sides agreed on (the consensus) as the base.
package merge

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/signadot/issue-sync/debug"
	"github.com/signadot/issue-sync/issue"
)

// Kind classifies a unit given its local, remote and consensus values.
type Kind int

const (
	Unchanged Kind = iota
	LocalOnly
	RemoteOnly
	BothChanged
	// Converged means both sides made the same change.
	Converged
)

func (k Kind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case LocalOnly:
		return "local-only"
	case RemoteOnly:
		return "remote-only"
	case BothChanged:
		return "both-changed"
	case Converged:
		return "converged"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func Classify[T any](local, remote, consensus T, eq func(a, b T) bool) Kind {
	lc := eq(local, consensus)
	rc := eq(remote, consensus)
	switch {
	case lc && rc:
		return Unchanged
	case rc:
		return LocalOnly
	case lc:
		return RemoteOnly
	case eq(local, remote):
		return Converged
	}
	return BothChanged
}

type ModeKind int

const (
	// Normal reports every unit changed on both sides as a conflict.
	Normal ModeKind = iota
	// Force takes the preferred side for units changed on both sides.
	Force
	// Reset takes the preferred side for the whole tree.
	Reset
)

type Side int

const (
	Local Side = iota
	Remote
)

func (s Side) String() string {
	if s == Local {
		return "local"
	}
	return "remote"
}

func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "local", "l":
		return Local, nil
	case "remote", "r":
		return Remote, nil
	}
	return Local, fmt.Errorf("unknown side %q, want local or remote", s)
}

type Mode struct {
	Kind   ModeKind
	Prefer Side
}

func (m Mode) String() string {
	switch m.Kind {
	case Force:
		return "force(" + m.Prefer.String() + ")"
	case Reset:
		return "reset(" + m.Prefer.String() + ")"
	}
	return "normal"
}

// Conflict is a unit that changed differently on both sides.
type Conflict struct {
	// Path names the node, e.g. o/r#1/#4.
	Path   string
	Unit   string
	Local  string
	Remote string
	Base   string
}

func (c Conflict) String() string {
	return c.Path + " " + c.Unit
}

type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	names := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		names[i] = c.String()
	}
	return fmt.Sprintf("%d conflicting change(s): %s", len(e.Conflicts), strings.Join(names, ", "))
}

type Result struct {
	Issue *issue.Issue
	// Conflicts lists the units decided by the mode instead of by the
	// rules. It is empty in Normal mode.
	Conflicts []Conflict
	// LocalChanged is set when the result differs from the local tree,
	// RemoteChanged when it differs from the remote one.
	LocalChanged  bool
	RemoteChanged bool
}

// Merge combines local and remote against consensus. A nil consensus means
// the two sides never agreed: remote wins, keeping only what exists solely
// locally. In Normal mode conflicting units fail the whole merge with a
// *ConflictError.
func Merge(local, remote, consensus *issue.Issue, mode Mode) (*Result, error) {
	switch {
	case local == nil && remote == nil:
		return nil, fmt.Errorf("nothing to merge")
	case remote == nil:
		res := local.Clone()
		return &Result{Issue: res, RemoteChanged: true}, nil
	case local == nil:
		return &Result{Issue: remote.Clone(), LocalChanged: true}, nil
	}
	if err := checkIdentity(local, remote); err != nil {
		return nil, err
	}
	m := &merger{mode: mode}
	var res *issue.Issue
	switch {
	case mode.Kind == Reset && mode.Prefer == Remote:
		res = remote.Clone()
	case mode.Kind == Reset:
		res = unfoldAll(local, remote)
	default:
		res = m.node(local, remote, consensus, remote.Identity.String())
	}
	if len(m.conflicts) > 0 && mode.Kind == Normal {
		return nil, &ConflictError{Conflicts: m.conflicts}
	}
	if debug.Merge() {
		debug.Logf("merged %s in %s mode with %d forced unit(s)", remote.Identity, mode, len(m.conflicts))
	}
	return &Result{
		Issue:         res,
		Conflicts:     m.conflicts,
		LocalChanged:  !foldedEqual(local, res),
		RemoteChanged: !issue.Equal(res, remote),
	}, nil
}

func checkIdentity(local, remote *issue.Issue) error {
	sameRepo := local.Owner == "" || (local.Owner == remote.Owner && local.Repo == remote.Repo)
	if sameRepo && (local.Pending() || local.Number == remote.Number) {
		return nil
	}
	return &ConflictError{Conflicts: []Conflict{{
		Path:   remote.Identity.String(),
		Unit:   "identity",
		Local:  local.Identity.String(),
		Remote: remote.Identity.String(),
	}}}
}

type merger struct {
	mode      Mode
	conflicts []Conflict
}

// resolve decides one unit.
func resolve[T any](m *merger, path, unit string, l, r, c T, eq func(a, b T) bool, show func(T) string) T {
	switch Classify(l, r, c, eq) {
	case LocalOnly:
		return l
	case BothChanged:
		m.conflicts = append(m.conflicts, Conflict{Path: path, Unit: unit, Local: show(l), Remote: show(r), Base: show(c)})
		if m.mode.Kind == Force && m.mode.Prefer == Local {
			return l
		}
	}
	return r
}

func bodyEq(a, b string) bool { return issue.TrimBody(a) == issue.TrimBody(b) }

func ident(s string) string { return s }

func stateEq(a, b issue.CloseState) bool { return a == b }

func labelsEq(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

func showLabels(l []string) string { return strings.Join(l, ", ") }

func showBlockers(b *issue.Blockers) string {
	if b == nil {
		return ""
	}
	var s strings.Builder
	for _, l := range b.Lines {
		if l.Header > 0 {
			s.WriteString(strings.Repeat("#", l.Header) + " " + l.Text + "\n")
			continue
		}
		s.WriteString(strings.Repeat("  ", l.Depth) + "- " + l.Text + "\n")
	}
	return s.String()
}

func cloneBlockers(b *issue.Blockers) *issue.Blockers {
	if b == nil {
		return nil
	}
	return &issue.Blockers{Lines: slices.Clone(b.Lines)}
}

// unfold replaces the unknown content of a node read from a folded entry
// with that of base, keeping what the title line carries.
func unfold(folded, base *issue.Issue) *issue.Issue {
	res := base.Clone()
	res.Title = folded.Title
	res.State = folded.State
	res.Labels = slices.Clone(folded.Labels)
	res.Omitted = false
	res.Expanded = folded.Expanded
	return res
}

// unfoldAll returns a copy of local where every folded node is filled from
// its counterpart in ref.
func unfoldAll(local, ref *issue.Issue) *issue.Issue {
	if local.Omitted && ref != nil {
		return unfold(local, ref)
	}
	res := local.Clone()
	res.Children = nil
	for _, c := range local.Children {
		var rc *issue.Issue
		if ref != nil {
			rc = ref.FindChild(c.Number)
		}
		res.Children = append(res.Children, unfoldAll(c, rc))
	}
	return res
}

// node merges one node and its subtree.
func (m *merger) node(l, r, c *issue.Issue, path string) *issue.Issue {
	if c != nil && c.Omitted {
		c = unfold(c, r)
	}
	if l.Omitted {
		base := r
		if c != nil {
			base = c
		}
		l = unfold(l, base)
	}
	if c == nil {
		return m.noConsensus(l, r)
	}
	res := r.Clone()
	res.Omitted = false
	res.Expanded = l.Expanded
	res.Title = resolve(m, path, "title", l.Title, r.Title, c.Title, func(a, b string) bool { return a == b }, ident)
	res.State = resolve(m, path, "state", l.State, r.State, c.State, stateEq, issue.CloseState.String)
	res.Labels = slices.Clone(resolve(m, path, "labels", l.Labels, r.Labels, c.Labels, labelsEq, showLabels))
	if r.Immutable {
		if !bodyEq(l.Body, c.Body) {
			log.Warn().Str("issue", path).Msg("ignoring local edits to a body authored by someone else")
		}
	} else {
		res.Body = resolve(m, path, "body", l.Body, r.Body, c.Body, bodyEq, ident)
	}
	res.Blockers = cloneBlockers(resolve(m, path, "blockers", l.Blockers, r.Blockers, c.Blockers, issue.BlockersEqual, showBlockers))
	res.Comments = m.comments(path, l, r, c)
	res.Children = m.children(path, l, r, c)
	return res
}

// noConsensus takes remote, keeping local content the remote cannot know
// about: pending comments and sub-issues, and numbered sub-issues missing
// remotely.
func (m *merger) noConsensus(l, r *issue.Issue) *issue.Issue {
	res := r.Clone()
	res.Expanded = l.Expanded
	res.Children = nil
	for _, rc := range r.Children {
		if lc := l.FindChild(rc.Number); lc != nil {
			if lc.Omitted {
				lc = unfold(lc, rc)
			}
			res.Children = append(res.Children, m.noConsensus(lc, rc))
			continue
		}
		res.Children = append(res.Children, rc.Clone())
	}
	for _, lc := range l.Children {
		if lc.Pending() || r.FindChild(lc.Number) == nil {
			res.Children = append(res.Children, lc.Clone())
		}
	}
	for _, lc := range l.Comments {
		if lc.ID == 0 {
			cc := *lc
			res.Comments = append(res.Comments, &cc)
		}
	}
	return res
}

func commentsByID(cs []*issue.Comment) map[uint64]*issue.Comment {
	res := make(map[uint64]*issue.Comment, len(cs))
	for _, c := range cs {
		if c.ID != 0 {
			res[c.ID] = c
		}
	}
	return res
}

// comments merges comments keyed by id. The result follows remote order,
// then comments only known locally, then pending ones.
func (m *merger) comments(path string, l, r, c *issue.Issue) []*issue.Comment {
	lm, rm, cm := commentsByID(l.Comments), commentsByID(r.Comments), commentsByID(c.Comments)
	var res []*issue.Comment
	keep := func(x *issue.Comment) {
		cc := *x
		res = append(res, &cc)
	}
	for _, rc := range r.Comments {
		lc, inL := lm[rc.ID]
		cc, inC := cm[rc.ID]
		unit := fmt.Sprintf("comment %d", rc.ID)
		switch {
		case rc.Immutable || !inC:
			keep(rc)
		case inL:
			body := resolve(m, path, unit, lc.Body, rc.Body, cc.Body, bodyEq, ident)
			keep(rc)
			res[len(res)-1].Body = body
		case bodyEq(rc.Body, cc.Body):
			// deleted locally
		default:
			m.conflicts = append(m.conflicts, Conflict{
				Path: path, Unit: unit + " (deleted locally)",
				Remote: rc.Body, Base: cc.Body,
			})
			if !(m.mode.Kind == Force && m.mode.Prefer == Local) {
				keep(rc)
			}
		}
	}
	for _, lc := range l.Comments {
		if lc.ID == 0 || rm[lc.ID] != nil {
			continue
		}
		cc, inC := cm[lc.ID]
		switch {
		case !inC:
			keep(lc)
		case bodyEq(lc.Body, cc.Body):
			// deleted remotely
		default:
			m.conflicts = append(m.conflicts, Conflict{
				Path: path, Unit: fmt.Sprintf("comment %d (deleted remotely)", lc.ID),
				Local: lc.Body, Base: cc.Body,
			})
			if m.mode.Kind == Force && m.mode.Prefer == Local {
				keep(lc)
			}
		}
	}
	for _, lc := range l.Comments {
		if lc.ID == 0 {
			keep(lc)
		}
	}
	return res
}

// children merges sub-issues keyed by number.
func (m *merger) children(path string, l, r, c *issue.Issue) []*issue.Issue {
	var res []*issue.Issue
	for _, rc := range r.Children {
		childPath := fmt.Sprintf("%s/#%d", path, rc.Number)
		lc, cc := l.FindChild(rc.Number), c.FindChild(rc.Number)
		switch {
		case lc != nil:
			res = append(res, m.node(lc, rc, cc, childPath))
		case cc != nil:
			// Dropping a sub-issue line locally does not unlink it
			// remotely.
			res = append(res, m.node(cc, rc, cc, childPath))
		default:
			res = append(res, rc.Clone())
		}
	}
	for _, lc := range l.Children {
		if lc.Pending() {
			res = append(res, lc.Clone())
			continue
		}
		if r.FindChild(lc.Number) != nil {
			continue
		}
		cc := c.FindChild(lc.Number)
		switch {
		case cc == nil:
			res = append(res, lc.Clone())
		case lc.Omitted || cc.Omitted || issue.Equal(lc, cc):
			// removed remotely
		default:
			m.conflicts = append(m.conflicts, Conflict{
				Path: path, Unit: fmt.Sprintf("sub-issue #%d (removed remotely)", lc.Number),
				Local: lc.Title, Base: cc.Title,
			})
			if m.mode.Kind == Force && m.mode.Prefer == Local {
				res = append(res, lc.Clone())
			}
		}
	}
	return res
}

// foldedEqual compares local with a merged tree, where folded local nodes
// only carry their title line.
func foldedEqual(local, res *issue.Issue) bool {
	if local.Omitted {
		return local.Number == res.Number && local.Title == res.Title &&
			local.State == res.State && slices.Equal(local.Labels, res.Labels)
	}
	if !issue.NodeEqual(local, res) {
		return false
	}
	for i := range local.Children {
		if !foldedEqual(local.Children[i], res.Children[i]) {
			return false
		}
	}
	return true
}
