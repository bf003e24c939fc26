// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package assoc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/jontk/slurm-controller/pkg/errors"
	"github.com/jontk/slurm-controller/internal/types"
)

func intp(i int) *int { return &i }

func TestAddRootAssociation(t *testing.T) {
	tree := New()
	root, err := tree.Add(&types.Association{Cluster: "c1", Account: "root"})
	require.NoError(t, err)
	assert.Equal(t, 1, root.Lft)
	assert.Equal(t, 2, root.Rgt)
}

func TestAddDuplicateReturnsAlreadyExists(t *testing.T) {
	tree := New()
	_, err := tree.Add(&types.Association{Cluster: "c1", Account: "root"})
	require.NoError(t, err)

	_, err = tree.Add(&types.Association{Cluster: "c1", Account: "root"})
	require.Error(t, err)
	var ce *cerrors.ControllerError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, cerrors.KindAlreadyExists, ce.Kind)
}

func TestNestedSetInvariantHoldsAfterInserts(t *testing.T) {
	tree := New()
	root, err := tree.Add(&types.Association{Cluster: "c1", Account: "root"})
	require.NoError(t, err)

	childA, err := tree.Add(&types.Association{Cluster: "c1", Account: "a", Parent: root.Account})
	require.NoError(t, err)

	childB, err := tree.Add(&types.Association{Cluster: "c1", Account: "b", Parent: root.Account})
	require.NoError(t, err)

	assertValidNestedSet(t, tree)

	// Parent strictly contains every child's interval.
	assert.Less(t, root.Lft, childA.Lft)
	assert.Greater(t, root.Rgt, childA.Rgt)
	assert.Less(t, root.Lft, childB.Lft)
	assert.Greater(t, root.Rgt, childB.Rgt)

	// Siblings do not overlap.
	assert.True(t, childA.Rgt < childB.Lft || childB.Rgt < childA.Lft)
}

func TestAddBatchAccumulatesShift(t *testing.T) {
	tree := New()
	root, err := tree.Add(&types.Association{Cluster: "c1", Account: "root"})
	require.NoError(t, err)

	rows := []*types.Association{
		{Cluster: "c1", Account: "a", Parent: root.Account},
		{Cluster: "c1", Account: "b", Parent: root.Account},
		{Cluster: "c1", Account: "c", Parent: root.Account},
	}
	added, err := tree.AddBatch(rows)
	require.NoError(t, err)
	assert.Len(t, added, 3)
	assertValidNestedSet(t, tree)
}

func TestRemoveSoftDeletesWhenJobsRunning(t *testing.T) {
	tree := New()
	root, err := tree.Add(&types.Association{Cluster: "c1", Account: "root"})
	require.NoError(t, err)

	err = tree.Remove(Filter{ID: root.ID}, func(ids []string) bool { return true })
	require.Error(t, err)
	var ce *cerrors.ControllerError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, cerrors.KindHasJobs, ce.Kind)

	// Still present but marked deleted; Get excludes it.
	assert.Empty(t, tree.Get(Filter{ID: root.ID}))
}

func TestRemoveDeletesWhenNoJobsRunning(t *testing.T) {
	tree := New()
	root, err := tree.Add(&types.Association{Cluster: "c1", Account: "root"})
	require.NoError(t, err)

	err = tree.Remove(Filter{ID: root.ID}, func(ids []string) bool { return false })
	require.NoError(t, err)
	assert.Empty(t, tree.Get(Filter{ID: root.ID}))
}

func TestMoveRelocatesSubtreeAndPreservesInvariant(t *testing.T) {
	tree := New()
	root, _ := tree.Add(&types.Association{Cluster: "c1", Account: "root"})
	a, _ := tree.Add(&types.Association{Cluster: "c1", Account: "a", Parent: root.Account})
	b, _ := tree.Add(&types.Association{Cluster: "c1", Account: "b", Parent: root.Account})
	_ = b

	err := tree.Move(a.ID, "b")
	require.NoError(t, err)
	assertValidNestedSet(t, tree)

	moved := tree.Get(Filter{ID: a.ID})
	require.Len(t, moved, 1)
	assert.Equal(t, "b", moved[0].Parent)
}

func TestResolveEffectiveLimitsInheritsFromAncestor(t *testing.T) {
	tree := New()
	root, _ := tree.Add(&types.Association{
		Cluster: "c1", Account: "root",
		MaxJobs: intp(100), MaxCPUs: intp(500), MaxNodes: intp(50),
		MaxSubmit: intp(200), QoSList: []string{"normal"},
	})
	child, err := tree.Add(&types.Association{
		Cluster: "c1", Account: "child", Parent: root.Account,
		MaxJobs: intp(10), // only max-jobs set locally
	})
	require.NoError(t, err)

	limits, err := tree.ResolveEffectiveLimits(child.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, limits.MaxJobs, "locally set value wins over inherited")
	assert.Equal(t, 500, limits.MaxCPUs, "unset field inherits from nearest ancestor")
	assert.Equal(t, 50, limits.MaxNodes)
	assert.Equal(t, []string{"normal"}, limits.QoSList)
}

func TestModifyAppliesDeltaToMatchingRows(t *testing.T) {
	tree := New()
	root, _ := tree.Add(&types.Association{Cluster: "c1", Account: "root"})

	n, err := tree.Modify(Filter{ID: root.ID}, Delta{FairshareWeight: intp(42)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := tree.Get(Filter{ID: root.ID})
	require.Len(t, got, 1)
	assert.Equal(t, 42, got[0].FairshareWeight)
}

func TestModifyNoMatchReturnsNotFound(t *testing.T) {
	tree := New()
	_, err := tree.Modify(Filter{ID: "nonexistent"}, Delta{FairshareWeight: intp(1)})
	require.Error(t, err)
	var ce *cerrors.ControllerError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, cerrors.KindNotFound, ce.Kind)
}

// assertValidNestedSet checks property P4: no two siblings overlap and a
// parent strictly contains every descendant's interval.
func assertValidNestedSet(t *testing.T, tree *Tree) {
	t.Helper()
	tree.mu.RLock()
	defer tree.mu.RUnlock()

	rows := make([]*types.Association, 0, len(tree.rows))
	for _, r := range tree.rows {
		if !r.Deleted {
			rows = append(rows, r)
		}
	}

	for _, a := range rows {
		assert.Less(t, a.Lft, a.Rgt)
		for _, b := range rows {
			if a.ID == b.ID {
				continue
			}
			nested := (a.Lft < b.Lft && b.Rgt < a.Rgt) || (b.Lft < a.Lft && a.Rgt < b.Rgt)
			disjoint := a.Rgt < b.Lft || b.Rgt < a.Lft
			assert.True(t, nested || disjoint, "rows %s [%d,%d] and %s [%d,%d] overlap improperly", a.Account, a.Lft, a.Rgt, b.Account, b.Lft, b.Rgt)
		}
	}
}
