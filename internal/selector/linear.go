// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"time"

	"github.com/jontk/slurm-controller/internal/accounting"
	"github.com/jontk/slurm-controller/internal/node"
	"github.com/jontk/slurm-controller/internal/types"
)

// Linear is the consecutive-run best-fit selector (§4.5.2).
type Linear struct {
	base
	Now func() time.Time
}

var _ Selector = (*Linear)(nil)

// NewLinear builds a Linear selector over the given inventory and map.
func NewLinear(nodes *node.Model, acct *accounting.Map) *Linear {
	return &Linear{base: newBase(nodes, acct), Now: time.Now}
}

// consecSet is a maximal run of consecutive candidate node indices.
type consecSet struct {
	start, end int // inclusive node-index bounds
	nodeCount  int
	cpuTotal   int
	hasReq     bool
}

func (c consecSet) indices() []int {
	out := make([]int, 0, c.nodeCount)
	for i := c.start; i <= c.end; i++ {
		out = append(out, i)
	}
	return out
}

func consecSets(filtered *types.NodeBitmap, required map[int]bool, nodes *node.Model) []consecSet {
	indices := filtered.Indices()
	var sets []consecSet
	i := 0
	for i < len(indices) {
		j := i
		for j+1 < len(indices) && indices[j+1] == indices[j]+1 {
			j++
		}
		set := consecSet{start: indices[i], end: indices[j], nodeCount: j - i + 1}
		for k := i; k <= j; k++ {
			idx := indices[k]
			if n, err := nodes.NodeByIndex(idx); err == nil {
				set.cpuTotal += n.CPUs()
			}
			if required[idx] {
				set.hasReq = true
			}
		}
		sets = append(sets, set)
		i = j + 1
	}
	return sets
}

// JobTest implements the Linear §4.5.2 algorithm over the common
// pre-filtered candidate bitmap.
func (l *Linear) JobTest(job *types.Job, mode Mode, candidates *types.NodeBitmap, minNodes, maxNodes int) Result {
	filtered := l.preFilter(job, mode, candidates)
	required := make(map[int]bool, len(job.RequiredNode))
	for _, name := range job.RequiredNode {
		if n, err := l.nodes.NodeByName(name); err == nil {
			required[n.Index] = true
		}
	}

	sets := consecSets(filtered, required, l.nodes)
	if len(sets) == 0 {
		return Result{Success: false}
	}

	cpusNeeded := job.CPUs
	nodesNeeded := minNodes
	if nodesNeeded <= 0 {
		nodesNeeded = 1
	}

	sufficient := func(s consecSet) bool {
		return s.nodeCount >= nodesNeeded && s.cpuTotal >= cpusNeeded
	}

	var chosen *consecSet
	if len(required) > 0 {
		// Pick smallest sufficient set containing required nodes.
		for i := range sets {
			s := sets[i]
			if !s.hasReq || !sufficient(s) {
				continue
			}
			if chosen == nil || s.nodeCount < chosen.nodeCount {
				chosen = &sets[i]
			}
		}
	}
	if chosen == nil {
		// No required-node set sufficient: pick the largest set overall.
		for i := range sets {
			s := sets[i]
			if chosen == nil || s.nodeCount > chosen.nodeCount {
				chosen = &sets[i]
			}
		}
	}
	if chosen == nil || !sufficient(*chosen) {
		return Result{Success: false}
	}
	if job.Contiguous && len(sets) > 1 && chosen.nodeCount < nodesNeeded {
		return Result{Success: false}
	}

	selected := l.expandFromSet(*chosen, required, nodesNeeded, cpusNeeded, maxNodes)
	if selected == nil {
		return Result{Success: false}
	}

	placement := make(map[int]int, len(selected))
	for _, idx := range selected {
		if n, err := l.nodes.NodeByIndex(idx); err == nil {
			placement[idx] = n.CPUs()
		}
	}
	return Result{Success: true, Placement: placement}
}

// expandFromSet walks the chosen consec set outward: if it has required
// nodes, expand upward from the required region first then downward;
// otherwise fill left to right. Stops once node/CPU needs are met or
// max-nodes is hit.
func (l *Linear) expandFromSet(set consecSet, required map[int]bool, nodesNeeded, cpusNeeded, maxNodes int) []int {
	var order []int
	if set.hasReq {
		var reqIdx []int
		for i := set.start; i <= set.end; i++ {
			if required[i] {
				reqIdx = append(reqIdx, i)
			}
		}
		order = append(order, reqIdx...)
		last := reqIdx[len(reqIdx)-1]
		first := reqIdx[0]
		for i := last + 1; i <= set.end; i++ {
			order = append(order, i)
		}
		for i := first - 1; i >= set.start; i-- {
			order = append(order, i)
		}
	} else {
		for i := set.start; i <= set.end; i++ {
			order = append(order, i)
		}
	}

	var selected []int
	cpus, nodeCnt := 0, 0
	for _, idx := range order {
		if maxNodes > 0 && nodeCnt >= maxNodes {
			break
		}
		selected = append(selected, idx)
		nodeCnt++
		if n, err := l.nodes.NodeByIndex(idx); err == nil {
			cpus += n.CPUs()
		}
		if nodeCnt >= nodesNeeded && cpus >= cpusNeeded {
			return selected
		}
	}
	if nodeCnt >= nodesNeeded && cpus >= cpusNeeded {
		return selected
	}
	return nil
}

func (l *Linear) JobBegin(job *types.Job)   { l.base.JobBegin(job, l.Now()) }
func (l *Linear) JobFini(job *types.Job)    { l.base.JobFini(job, l.Now()) }
func (l *Linear) JobSuspend(job *types.Job)  { l.base.JobSuspend(job) }
func (l *Linear) JobResume(job *types.Job) error { return l.base.JobResume(job) }
func (l *Linear) StepBegin(step *types.Step) { l.base.StepBegin(step) }
func (l *Linear) StepFini(step *types.Step)  { l.base.StepFini(step) }
