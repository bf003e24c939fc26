// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package selector implements node placement: the common pre-filter every
// selector shares, the Linear (consecutive-run) and 3D-torus
// (Manhattan-distance) selector variants, and will-run prediction.
package selector

import (
	"sort"
	"time"

	"github.com/jontk/slurm-controller/internal/accounting"
	"github.com/jontk/slurm-controller/internal/node"
	"github.com/jontk/slurm-controller/internal/types"
	cerrors "github.com/jontk/slurm-controller/pkg/errors"
)

// Mode is the placement intent job_test is called with.
type Mode string

const (
	ModeRunNow   Mode = "RUN_NOW"
	ModeTestOnly Mode = "TEST_ONLY"
	ModeWillRun  Mode = "WILL_RUN"
)

// Result is the outcome of job_test.
type Result struct {
	Success    bool
	WillRunAt  time.Time // set only when Success is false but a future start was predicted
	Placement  map[int]int // node index -> CPUs allocated, set when Success
}

// Selector is the dispatch interface every placement strategy implements.
type Selector interface {
	JobTest(job *types.Job, mode Mode, candidates *types.NodeBitmap, minNodes, maxNodes int) Result
	JobBegin(job *types.Job)
	JobFini(job *types.Job)
	JobSuspend(job *types.Job)
	JobResume(job *types.Job) error
	StepBegin(step *types.Step)
	StepFini(step *types.Step)
}

// base holds the state every selector variant shares: the node inventory
// and the live accounting map it reads and mutates on begin/fini.
type base struct {
	nodes *node.Model
	acct  *accounting.Map
}

func newBase(nodes *node.Model, acct *accounting.Map) base {
	return base{nodes: nodes, acct: acct}
}

// preFilter narrows candidates to nodes that (a) have room for the job's
// requested memory, (b) carry no incompatible exclusive holder, and (c)
// respect the partition's (or, under FORCE, the cluster-wide) running-job
// cap. In TEST_ONLY mode the memory and exclusivity checks are suppressed,
// per §4.5.1 -- the question there is only "could this ever run".
func (b base) preFilter(job *types.Job, mode Mode, candidates *types.NodeBitmap) *types.NodeBitmap {
	part, _ := b.nodes.Partition(job.Partition)
	out := types.NewNodeBitmap(candidates.Len())

	for _, idx := range candidates.Indices() {
		n, err := b.nodes.NodeByIndex(idx)
		if err != nil || n.State != types.NodeUp {
			continue
		}
		rec := b.acct.NodeAccounting(idx)

		if mode != ModeTestOnly {
			needed := memRequirement(job)
			if needed > 0 && rec.AllocatedMemMB+needed > n.RealMemMB {
				continue
			}
			if rec.ExclusiveHolder != 0 {
				continue // already exclusively held by another job
			}
			if job.ExclusiveNode && hasAnyRunning(rec) {
				continue // job wants exclusive use but the node is already occupied
			}
		}

		if part != nil {
			cap := maxShareCap(part)
			running := runningCountForCap(rec, part)
			if cap > 0 && running >= cap {
				continue
			}
		}

		out.Set(idx)
	}
	return out
}

func memRequirement(job *types.Job) uint64 {
	if job.MemPerNodeMB > 0 {
		return job.MemPerNodeMB
	}
	return job.MemPerCPUMB * uint64(job.CPUs)
}

func hasAnyRunning(rec types.NodeAccounting) bool {
	for _, pc := range rec.Partitions {
		if pc.RunningCount > 0 {
			return true
		}
	}
	return false
}

func maxShareCap(part *types.Partition) int {
	if part.MaxShare <= 0 {
		return 1
	}
	return part.MaxShare
}

// runningCountForCap sums the running count across partitions sharing the
// cap: a single partition's count normally, or every partition's combined
// count when the partition is FORCE (a common cap across partitions).
func runningCountForCap(rec types.NodeAccounting, part *types.Partition) int {
	if !part.Force {
		for _, pc := range rec.Partitions {
			if pc.Partition == part.Name {
				return pc.RunningCount
			}
		}
		return 0
	}
	total := 0
	for _, pc := range rec.Partitions {
		total += pc.RunningCount
	}
	return total
}

// JobBegin debits the accounting map with full (remove_all) semantics,
// stamps the start time, and marks the job RUNNING. Steps are not
// affected here; they debit independently via StepBegin.
func (b base) JobBegin(job *types.Job, now time.Time) {
	b.acct.TryAddJob(job)
	job.StartTime = now
	job.State = types.JobRunning
}

// JobFini credits the map fully; callers are expected to have already
// completed the job's steps.
func (b base) JobFini(job *types.Job, now time.Time) {
	b.acct.RmJob(job, true)
	job.EndTime = now
}

// JobSuspend decrements running count only, leaving memory and total
// intact (remove_all=false).
func (b base) JobSuspend(job *types.Job) {
	b.acct.RmJob(job, false)
	job.State = types.JobSuspended
}

// JobResume re-adds running count only, refusing if the node's running
// count would exceed its partition's max-share. Total-count and memory
// were never released by JobSuspend, so resume must not re-add them
// either -- see accounting.Map.ResumeJob.
func (b base) JobResume(job *types.Job) error {
	part, _ := b.nodes.Partition(job.Partition)
	if part != nil && job.NodeBitmap != nil {
		cap := maxShareCap(part)
		for _, idx := range job.NodeBitmap.Indices() {
			rec := b.acct.NodeAccounting(idx)
			if cap > 0 && runningCountForCap(rec, part)+1 > cap {
				return cerrors.New(cerrors.KindNoResources, "resuming job would exceed partition max-share")
			}
		}
	}
	b.acct.ResumeJob(job)
	job.State = types.JobRunning
	return nil
}

func (b base) StepBegin(step *types.Step) { b.acct.AddStep(step) }
func (b base) StepFini(step *types.Step)  { b.acct.RmStep(step) }

// sortIndicesByValue is a small helper used by the Torus3D variant to
// build stable, tie-broken orderings.
func sortIndicesByValue(indices []int, value func(int) int) {
	sort.Slice(indices, func(i, j int) bool {
		vi, vj := value(indices[i]), value(indices[j])
		if vi != vj {
			return vi < vj
		}
		return indices[i] < indices[j]
	})
}
