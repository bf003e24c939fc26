// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jontk/slurm-controller/internal/accounting"
	"github.com/jontk/slurm-controller/internal/node"
	"github.com/jontk/slurm-controller/internal/types"
)

func linearNodes(n int) *node.Model {
	nodes := make([]*types.Node, n)
	for i := 0; i < n; i++ {
		nodes[i] = &types.Node{Name: idxName(i), Sockets: 1, CoresPer: 4, ThreadsPer: 1, RealMemMB: 8192, State: types.NodeUp}
	}
	parts := []*types.Partition{{Name: "batch", NodeNames: namesOf(nodes), MaxShare: 1}}
	return node.NewModel(nodes, parts)
}

func idxName(i int) string { return "n" + string(rune('0'+i)) }
func namesOf(nodes []*types.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func fullBitmap(n int) *types.NodeBitmap {
	bm := types.NewNodeBitmap(n)
	for i := 0; i < n; i++ {
		bm.Set(i)
	}
	return bm
}

func TestLinearJobTestPicksLargestSufficientSet(t *testing.T) {
	nodes := linearNodes(5)
	acct := accounting.New(5, nil)
	l := NewLinear(nodes, acct)

	job := &types.Job{ID: 1, Partition: "batch", CPUs: 8, MinNodes: 2}
	res := l.JobTest(job, ModeRunNow, fullBitmap(5), 2, 0)
	require.True(t, res.Success)
	assert.Len(t, res.Placement, 2)
}

func TestLinearJobTestFailsWhenNoResources(t *testing.T) {
	nodes := linearNodes(2)
	acct := accounting.New(2, nil)
	l := NewLinear(nodes, acct)

	job := &types.Job{ID: 1, Partition: "batch", CPUs: 1000, MinNodes: 1}
	res := l.JobTest(job, ModeRunNow, fullBitmap(2), 1, 0)
	assert.False(t, res.Success)
}

func TestLinearJobTestPrefersRequiredNodeSet(t *testing.T) {
	nodes := linearNodes(6)
	acct := accounting.New(6, nil)
	l := NewLinear(nodes, acct)

	job := &types.Job{ID: 1, Partition: "batch", CPUs: 4, MinNodes: 1, RequiredNode: []string{"n4"}}
	res := l.JobTest(job, ModeRunNow, fullBitmap(6), 1, 0)
	require.True(t, res.Success)
	_, ok := res.Placement[4]
	assert.True(t, ok, "placement must include the required node")
}

func TestLinearBeginSuspendResumeFini(t *testing.T) {
	nodes := linearNodes(2)
	acct := accounting.New(2, nil)
	l := NewLinear(nodes, acct)
	l.Now = func() time.Time { return time.Unix(1000, 0) }

	job := &types.Job{ID: 1, Partition: "batch", NodeBitmap: bitmap(2, 0), MemAlloc: map[int]uint64{}}
	l.JobBegin(job)
	assert.Equal(t, types.JobRunning, job.State)
	assert.Equal(t, int64(1000), job.StartTime.Unix())

	l.JobSuspend(job)
	assert.Equal(t, types.JobSuspended, job.State)

	require.NoError(t, l.JobResume(job))
	assert.Equal(t, types.JobRunning, job.State)

	l.JobFini(job)
	assert.Equal(t, int64(1000), job.EndTime.Unix())
}

func TestLinearResumeRefusesWhenOverMaxShare(t *testing.T) {
	nodes := linearNodes(1)
	acct := accounting.New(1, nil)
	l := NewLinear(nodes, acct)

	occupying := &types.Job{ID: 9, Partition: "batch", NodeBitmap: bitmap(1, 0), MemAlloc: map[int]uint64{}}
	acct.TryAddJob(occupying)

	suspended := &types.Job{ID: 1, Partition: "batch", NodeBitmap: bitmap(1, 0), MemAlloc: map[int]uint64{}}
	err := l.JobResume(suspended)
	require.Error(t, err)
}

func bitmap(n int, indices ...int) *types.NodeBitmap {
	bm := types.NewNodeBitmap(n)
	for _, i := range indices {
		bm.Set(i)
	}
	return bm
}

func torusNodes(coords []types.Coord) *node.Model {
	nodes := make([]*types.Node, len(coords))
	for i, c := range coords {
		nodes[i] = &types.Node{Name: idxName(i), Sockets: 1, CoresPer: 4, ThreadsPer: 1, RealMemMB: 8192, State: types.NodeUp, Coord: c}
	}
	parts := []*types.Partition{{Name: "batch", NodeNames: namesOf(nodes), MaxShare: 1}}
	return node.NewModel(nodes, parts)
}

func TestTorus3DPicksNearestByManhattanDistance(t *testing.T) {
	coords := []types.Coord{{0, 0, 0}, {0, 0, 1}, {5, 5, 5}, {0, 1, 0}}
	nodes := torusNodes(coords)
	acct := accounting.New(4, nil)
	tor := NewTorus3D(nodes, acct)

	job := &types.Job{ID: 1, Partition: "batch", CPUs: 8, MinNodes: 2, RequiredNode: []string{"n0"}}
	res := tor.JobTest(job, ModeRunNow, fullBitmap(4), 2, 0)
	require.True(t, res.Success)
	_, hasFar := res.Placement[2]
	assert.False(t, hasFar, "the far node (5,5,5) should not be chosen over closer candidates")
}

func TestTorus3DRequiredNodeAlwaysIncluded(t *testing.T) {
	coords := []types.Coord{{0, 0, 0}, {9, 9, 9}}
	nodes := torusNodes(coords)
	acct := accounting.New(2, nil)
	tor := NewTorus3D(nodes, acct)

	job := &types.Job{ID: 1, Partition: "batch", CPUs: 4, MinNodes: 2, RequiredNode: []string{"n1"}}
	res := tor.JobTest(job, ModeRunNow, fullBitmap(2), 2, 0)
	require.True(t, res.Success)
	_, ok := res.Placement[1]
	assert.True(t, ok)
}

func TestWillRunAtFindsFirstFeasibleEndTime(t *testing.T) {
	nodes := linearNodes(1)
	acct := accounting.New(1, nil)

	occupying := &types.Job{ID: 9, Partition: "batch", CPUs: 4, NodeBitmap: bitmap(1, 0), MemAlloc: map[int]uint64{}}
	acct.TryAddJob(occupying)

	pending := &types.Job{ID: 1, Partition: "batch", CPUs: 4, MinNodes: 1}
	endTime := time.Unix(5000, 0)
	now := time.Unix(1000, 0)

	res := WillRunAt(acct, []RunningJob{{Job: occupying, EndTime: endTime}},
		func(a *accounting.Map) Tester { return NewLinear(nodes, a) },
		pending, fullBitmap(1), 1, 0, now)

	assert.False(t, res.Success)
	assert.Equal(t, endTime.Unix(), res.WillRunAt.Unix())
}

func TestWillRunAtClampsPastEndTimeToNowPlusOne(t *testing.T) {
	nodes := linearNodes(1)
	acct := accounting.New(1, nil)

	occupying := &types.Job{ID: 9, Partition: "batch", CPUs: 4, NodeBitmap: bitmap(1, 0), MemAlloc: map[int]uint64{}}
	acct.TryAddJob(occupying)

	pending := &types.Job{ID: 1, Partition: "batch", CPUs: 4, MinNodes: 1}
	now := time.Unix(1000, 0)
	pastEnd := time.Unix(500, 0)

	res := WillRunAt(acct, []RunningJob{{Job: occupying, EndTime: pastEnd}},
		func(a *accounting.Map) Tester { return NewLinear(nodes, a) },
		pending, fullBitmap(1), 1, 0, now)

	assert.False(t, res.Success)
	assert.Equal(t, now.Add(time.Second).Unix(), res.WillRunAt.Unix())
}

func TestStepMemoryDebitedThroughSelector(t *testing.T) {
	nodes := linearNodes(1)
	acct := accounting.New(1, nil)
	l := NewLinear(nodes, acct)

	step := &types.Step{JobID: 1, NodeBitmap: bitmap(1, 0), TasksPerNode: map[int]int{0: 2}, MemPerTaskMB: 512}
	l.StepBegin(step)
	assert.Equal(t, uint64(1024), acct.NodeAccounting(0).AllocatedMemMB)

	l.StepFini(step)
	assert.Equal(t, uint64(0), acct.NodeAccounting(0).AllocatedMemMB)
}
