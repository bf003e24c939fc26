// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"time"

	"github.com/jontk/slurm-controller/internal/accounting"
	"github.com/jontk/slurm-controller/internal/node"
	"github.com/jontk/slurm-controller/internal/types"
)

// Torus3D is the topology-aware selector (§4.5.3): candidates are ranked
// by Manhattan distance to a focus node, axis wrap is not considered.
type Torus3D struct {
	base
	Now func() time.Time
}

var _ Selector = (*Torus3D)(nil)

// NewTorus3D builds a Torus3D selector over the given inventory and map.
func NewTorus3D(nodes *node.Model, acct *accounting.Map) *Torus3D {
	return &Torus3D{base: newBase(nodes, acct), Now: time.Now}
}

func manhattan(a, b types.Coord) int {
	dist := 0
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		dist += d
	}
	return dist
}

// JobTest implements §4.5.3: required nodes are accepted unconditionally
// (up to max), remaining candidates are consumed in increasing distance
// from the focus node, ties broken by node index.
func (t *Torus3D) JobTest(job *types.Job, mode Mode, candidates *types.NodeBitmap, minNodes, maxNodes int) Result {
	filtered := t.preFilter(job, mode, candidates)
	indices := filtered.Indices()
	if len(indices) == 0 {
		return Result{Success: false}
	}

	required := make(map[int]bool, len(job.RequiredNode))
	var focusIdx int
	haveFocus := false
	for _, name := range job.RequiredNode {
		if n, err := t.nodes.NodeByName(name); err == nil {
			required[n.Index] = true
			if !haveFocus {
				focusIdx = n.Index
				haveFocus = true
			}
		}
	}
	if !haveFocus {
		focusIdx = indices[0]
	}
	focus, err := t.nodes.NodeByIndex(focusIdx)
	if err != nil {
		return Result{Success: false}
	}

	var reqOrdered, rest []int
	for _, idx := range indices {
		if required[idx] {
			reqOrdered = append(reqOrdered, idx)
		} else {
			rest = append(rest, idx)
		}
	}
	sortIndicesByValue(rest, func(idx int) int {
		n, err := t.nodes.NodeByIndex(idx)
		if err != nil {
			return 1 << 30
		}
		return manhattan(n.Coord, focus.Coord)
	})

	nodesNeeded := minNodes
	if nodesNeeded <= 0 {
		nodesNeeded = 1
	}
	cpusNeeded := job.CPUs

	selected := make([]int, 0, nodesNeeded)
	cpus := 0
	consume := func(idx int) bool {
		if maxNodes > 0 && len(selected) >= maxNodes {
			return false
		}
		selected = append(selected, idx)
		if n, err := t.nodes.NodeByIndex(idx); err == nil {
			cpus += n.CPUs()
		}
		return true
	}
	for _, idx := range reqOrdered {
		if !consume(idx) {
			break
		}
	}
	for _, idx := range rest {
		if len(selected) >= nodesNeeded && cpus >= cpusNeeded {
			break
		}
		if !consume(idx) {
			break
		}
	}

	if len(selected) < nodesNeeded || cpus < cpusNeeded {
		return Result{Success: false}
	}

	placement := make(map[int]int, len(selected))
	for _, idx := range selected {
		if n, err := t.nodes.NodeByIndex(idx); err == nil {
			placement[idx] = n.CPUs()
		}
	}
	return Result{Success: true, Placement: placement}
}

func (t *Torus3D) JobBegin(job *types.Job)    { t.base.JobBegin(job, t.Now()) }
func (t *Torus3D) JobFini(job *types.Job)     { t.base.JobFini(job, t.Now()) }
func (t *Torus3D) JobSuspend(job *types.Job)     { t.base.JobSuspend(job) }
func (t *Torus3D) JobResume(job *types.Job) error { return t.base.JobResume(job) }
func (t *Torus3D) StepBegin(step *types.Step) { t.base.StepBegin(step) }
func (t *Torus3D) StepFini(step *types.Step)  { t.base.StepFini(step) }
