// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package assoc implements the accounting association tree: a nested-set
// tree of (cluster, account, user, partition) tuples carrying hierarchical
// limits and fairshare weights.
package assoc

import (
	"sync"

	"github.com/google/uuid"

	cerrors "github.com/jontk/slurm-controller/pkg/errors"
	"github.com/jontk/slurm-controller/internal/types"
)

// Filter selects associations by any combination of fields; zero-value
// fields are wildcards.
type Filter struct {
	Cluster   string
	Account   string
	User      string
	Partition string
	ID        string
}

func (f Filter) matches(a *types.Association) bool {
	if f.ID != "" && a.ID != f.ID {
		return false
	}
	if f.Cluster != "" && a.Cluster != f.Cluster {
		return false
	}
	if f.Account != "" && a.Account != f.Account {
		return false
	}
	if f.User != "" && a.User != f.User {
		return false
	}
	if f.Partition != "" && a.Partition != f.Partition {
		return false
	}
	return true
}

// Delta carries the fields a modify() call may overwrite; nil fields are
// left untouched.
type Delta struct {
	FairshareWeight *int
	GroupJobs       *int
	GroupCPUs       *int
	GroupNodes      *int
	MaxCPUs         *int
	MaxNodes        *int
	MaxJobs         *int
	MaxSubmit       *int
	QoSList         []string
}

// HasRunningJobs reports whether any job in the given association subtree
// is still occupying the scheduler (used by remove to decide on soft-delete).
type HasRunningJobs func(ids []string) bool

// Tree is the association nested-set tree.
type Tree struct {
	mu   sync.RWMutex
	rows map[string]*types.Association // id -> row, includes soft-deleted rows
}

// New creates an empty association tree.
func New() *Tree {
	return &Tree{rows: make(map[string]*types.Association)}
}

// Add inserts a new association adjacent to its parent's right boundary.
// All ancestor and following-sibling left/right labels are shifted by 2.
func (t *Tree) Add(a *types.Association) (*types.Association, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, row := range t.rows {
		if row.Deleted {
			continue
		}
		if row.Cluster == a.Cluster && row.Account == a.Account && row.User == a.User && row.Partition == a.Partition {
			return nil, cerrors.New(cerrors.KindAlreadyExists, "association already exists for (cluster, account, user, partition)")
		}
	}

	var parentRgt int
	if a.Parent == "" {
		parentRgt = t.maxRgt() + 1
	} else {
		parent := t.findLiveAccountRow(a.Cluster, a.Parent)
		if parent == nil {
			return nil, cerrors.New(cerrors.KindInvalidAccount, "parent account not found: "+a.Parent)
		}
		parentRgt = parent.Rgt
	}

	// Shift every label >= parentRgt by 2 to open a gap for the new row.
	for _, row := range t.rows {
		if row.Lft >= parentRgt {
			row.Lft += 2
		}
		if row.Rgt >= parentRgt {
			row.Rgt += 2
		}
	}

	a.ID = uuid.NewString()
	a.Lft = parentRgt
	a.Rgt = parentRgt + 1
	t.rows[a.ID] = a

	return a, nil
}

// AddBatch inserts several associations under the same parent in one pass:
// it computes the insertion point once, shifts every existing row clear of
// the whole batch's width in a single sweep, then lays the new rows out
// side by side in the gap. This is O(rows + batch) total, against the
// O(rows*batch) cost of calling Add in a loop (each Add does its own
// full-tree relabel sweep).
func (t *Tree) AddBatch(rows []*types.Association) ([]*types.Association, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	parent := rows[0].Parent
	cluster := rows[0].Cluster
	for _, row := range rows {
		if row.Parent != parent || row.Cluster != cluster {
			return nil, cerrors.New(cerrors.KindInvalidAccount, "AddBatch requires every row to share the same cluster and parent")
		}
	}

	for _, row := range rows {
		for _, existing := range t.rows {
			if existing.Deleted {
				continue
			}
			if existing.Cluster == row.Cluster && existing.Account == row.Account &&
				existing.User == row.User && existing.Partition == row.Partition {
				return nil, cerrors.New(cerrors.KindAlreadyExists, "association already exists for (cluster, account, user, partition)")
			}
		}
	}

	var parentRgt int
	if parent == "" {
		parentRgt = t.maxRgt() + 1
	} else {
		p := t.findLiveAccountRow(cluster, parent)
		if p == nil {
			return nil, cerrors.New(cerrors.KindInvalidAccount, "parent account not found: "+parent)
		}
		parentRgt = p.Rgt
	}

	width := 2 * len(rows)
	for _, row := range t.rows {
		if row.Lft >= parentRgt {
			row.Lft += width
		}
		if row.Rgt >= parentRgt {
			row.Rgt += width
		}
	}

	added := make([]*types.Association, 0, len(rows))
	for i, row := range rows {
		row.ID = uuid.NewString()
		row.Lft = parentRgt + 2*i
		row.Rgt = parentRgt + 2*i + 1
		t.rows[row.ID] = row
		added = append(added, row)
	}

	return added, nil
}

// Modify applies delta to every live association matching filter.
func (t *Tree) Modify(filter Filter, delta Delta) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, row := range t.rows {
		if row.Deleted || !filter.matches(row) {
			continue
		}
		applyDelta(row, delta)
		n++
	}
	if n == 0 {
		return 0, cerrors.New(cerrors.KindNotFound, "no association matched filter")
	}
	return n, nil
}

func applyDelta(row *types.Association, d Delta) {
	if d.FairshareWeight != nil {
		row.FairshareWeight = *d.FairshareWeight
	}
	if d.GroupJobs != nil {
		row.GroupJobs = d.GroupJobs
	}
	if d.GroupCPUs != nil {
		row.GroupCPUs = d.GroupCPUs
	}
	if d.GroupNodes != nil {
		row.GroupNodes = d.GroupNodes
	}
	if d.MaxCPUs != nil {
		row.MaxCPUs = d.MaxCPUs
	}
	if d.MaxNodes != nil {
		row.MaxNodes = d.MaxNodes
	}
	if d.MaxJobs != nil {
		row.MaxJobs = d.MaxJobs
	}
	if d.MaxSubmit != nil {
		row.MaxSubmit = d.MaxSubmit
	}
	if d.QoSList != nil {
		row.QoSList = d.QoSList
	}
}

// Move relocates the subtree rooted at id so that it becomes a child of
// newParent. If newParent is a descendant of id, newParent is first
// promoted to id's original parent before id's subtree is relabeled to
// immediately follow newParent's left label.
func (t *Tree) Move(id, newParent string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.rows[id]
	if !ok || row.Deleted {
		return cerrors.New(cerrors.KindNotFound, "association not found: "+id)
	}
	target := t.findLiveAccountRow(row.Cluster, newParent)
	if target == nil {
		return cerrors.New(cerrors.KindInvalidAccount, "new parent account not found: "+newParent)
	}

	if t.isDescendant(target, row) {
		oldParentName := row.Parent
		oldParent := t.findLiveAccountRow(row.Cluster, oldParentName)
		if oldParent != nil {
			t.relabelSubtreeAfter(target, oldParent.Lft+1)
			target.Parent = oldParentName
		}
	}

	t.relabelSubtreeAfter(row, target.Lft+1)
	row.Parent = target.Account

	return nil
}

// relabelSubtreeAfter moves the subtree rooted at row so it starts at
// newLft, shifting every other row (soft-deleted rows included) out of the
// way. Deleted flags are left unchanged.
func (t *Tree) relabelSubtreeAfter(row *types.Association, newLft int) {
	width := row.Rgt - row.Lft + 1
	oldLft := row.Lft
	shift := newLft - oldLft

	subtreeIDs := t.subtreeIDs(row)
	subtree := make(map[string]bool, len(subtreeIDs))
	for _, id := range subtreeIDs {
		subtree[id] = true
	}

	for id, other := range t.rows {
		if subtree[id] {
			continue
		}
		if other.Lft >= newLft {
			other.Lft += width
		}
		if other.Rgt >= newLft {
			other.Rgt += width
		}
	}

	for _, id := range subtreeIDs {
		t.rows[id].Lft += shift
		t.rows[id].Rgt += shift
	}
}

func (t *Tree) subtreeIDs(root *types.Association) []string {
	ids := []string{root.ID}
	for id, other := range t.rows {
		if other.ID == root.ID {
			continue
		}
		if other.Lft > root.Lft && other.Rgt < root.Rgt {
			ids = append(ids, id)
		}
	}
	return ids
}

func (t *Tree) isDescendant(candidate, ancestor *types.Association) bool {
	return candidate.Lft > ancestor.Lft && candidate.Rgt < ancestor.Rgt
}

// Remove deletes associations matching filter. If hasJobs reports running
// jobs reference the subtree, the rows are soft-deleted (Deleted=true) and
// HAS_JOBS is returned instead.
func (t *Tree) Remove(filter Filter, hasJobs HasRunningJobs) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var matched []*types.Association
	for _, row := range t.rows {
		if !row.Deleted && filter.matches(row) {
			matched = append(matched, row)
		}
	}
	if len(matched) == 0 {
		return cerrors.New(cerrors.KindNotFound, "no association matched filter")
	}

	ids := make([]string, len(matched))
	for i, m := range matched {
		ids[i] = m.ID
	}

	if hasJobs != nil && hasJobs(ids) {
		for _, m := range matched {
			m.Deleted = true
		}
		return cerrors.New(cerrors.KindHasJobs, "association subtree has running jobs; soft-deleted")
	}

	for _, m := range matched {
		delete(t.rows, m.ID)
	}
	return nil
}

// Get returns every live association matching filter.
func (t *Tree) Get(filter Filter) []*types.Association {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*types.Association
	for _, row := range t.rows {
		if !row.Deleted && filter.matches(row) {
			out = append(out, row)
		}
	}
	return out
}

// ResolveEffectiveLimits walks upward from id, inheriting any of
// {max-jobs, max-submit, max-cpus, max-nodes, max-wall, max-cpu-mins,
// qos-list} left unset on the current row from the nearest defined
// ancestor.
func (t *Tree) ResolveEffectiveLimits(id string) (types.EffectiveLimits, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	row, ok := t.rows[id]
	if !ok {
		return types.EffectiveLimits{}, cerrors.New(cerrors.KindNotFound, "association not found: "+id)
	}

	var limits types.EffectiveLimits
	cur := row
	for {
		if limits.MaxCPUMins == 0 && cur.MaxCPUMins != nil {
			limits.MaxCPUMins = *cur.MaxCPUMins
		}
		if limits.MaxCPUs == 0 && cur.MaxCPUs != nil {
			limits.MaxCPUs = *cur.MaxCPUs
		}
		if limits.MaxNodes == 0 && cur.MaxNodes != nil {
			limits.MaxNodes = *cur.MaxNodes
		}
		if limits.MaxWall == 0 && cur.MaxWall != nil {
			limits.MaxWall = *cur.MaxWall
		}
		if limits.MaxSubmit == 0 && cur.MaxSubmit != nil {
			limits.MaxSubmit = *cur.MaxSubmit
		}
		if limits.MaxJobs == 0 && cur.MaxJobs != nil {
			limits.MaxJobs = *cur.MaxJobs
		}
		if limits.QoSList == nil && cur.QoSList != nil {
			limits.QoSList = cur.QoSList
		}

		allSet := limits.MaxCPUMins != 0 && limits.MaxCPUs != 0 && limits.MaxNodes != 0 &&
			limits.MaxWall != 0 && limits.MaxSubmit != 0 && limits.MaxJobs != 0 && limits.QoSList != nil
		if allSet {
			break
		}
		if cur.Parent == "" {
			break
		}
		parent := t.findLiveAccountRow(cur.Cluster, cur.Parent)
		if parent == nil {
			break
		}
		cur = parent
	}

	return limits, nil
}

func (t *Tree) findLiveAccountRow(cluster, account string) *types.Association {
	for _, row := range t.rows {
		if row.Deleted {
			continue
		}
		if row.Cluster == cluster && row.Account == account && row.User == "" {
			return row
		}
	}
	return nil
}

func (t *Tree) maxRgt() int {
	max := 0
	for _, row := range t.rows {
		if row.Rgt > max {
			max = row.Rgt
		}
	}
	return max
}
