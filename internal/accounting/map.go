// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package accounting implements the Resource Accounting Map: per-node
// running/total job counts per partition, allocated memory, and the
// exclusive-holder job id. It is synchronous and single-threaded from the
// scheduler's perspective -- all mutation happens under the controller's
// one scheduler lock.
package accounting

import (
	"github.com/jontk/slurm-controller/pkg/logging"
	"github.com/jontk/slurm-controller/internal/types"
)

// Map is the Resource Accounting Map, one record per node.
type Map struct {
	nodes  []types.NodeAccounting
	logger logging.Logger
}

// New creates a Map sized for numNodes.
func New(numNodes int, logger logging.Logger) *Map {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Map{
		nodes:  make([]types.NodeAccounting, numNodes),
		logger: logger,
	}
}

func (m *Map) partitionCount(nodeIdx int, partition string) *types.PartitionCount {
	rec := &m.nodes[nodeIdx]
	for i := range rec.Partitions {
		if rec.Partitions[i].Partition == partition {
			return &rec.Partitions[i]
		}
	}
	rec.Partitions = append(rec.Partitions, types.PartitionCount{Partition: partition})
	return &rec.Partitions[len(rec.Partitions)-1]
}

// TryAddJob debits a job's placement onto its selected nodes: increments
// running and total count for the job's partition on each node, reserves
// memory, and sets the exclusive holder if the job is exclusive.
func (m *Map) TryAddJob(job *types.Job) {
	if job.NodeBitmap == nil {
		return
	}
	for _, idx := range job.NodeBitmap.Indices() {
		rec := &m.nodes[idx]
		pc := m.partitionCount(idx, job.Partition)
		pc.RunningCount++
		pc.TotalCount++

		if mem, ok := job.MemAlloc[idx]; ok {
			rec.AllocatedMemMB += mem
		}
		if job.ExclusiveNode {
			rec.ExclusiveHolder = job.ID
		}
	}
}

// ResumeJob re-adds a job's running-count debit after a suspension,
// mirroring RmJob(job, false)'s retention of total-count and memory: those
// were never released by suspend, so resume must not re-add them. Only
// running count and the exclusive holder are restored here.
func (m *Map) ResumeJob(job *types.Job) {
	if job.NodeBitmap == nil {
		return
	}
	for _, idx := range job.NodeBitmap.Indices() {
		rec := &m.nodes[idx]
		pc := m.partitionCount(idx, job.Partition)
		pc.RunningCount++

		if job.ExclusiveNode {
			rec.ExclusiveHolder = job.ID
		}
	}
}

// RmJob credits a job's debit back. remove_all=false is suspension
// (running-count decremented only, memory and total retained);
// remove_all=true is termination (memory released, total-count
// decremented, exclusive-holder cleared if it is this job). Underflow is
// clamped to zero and logged.
func (m *Map) RmJob(job *types.Job, removeAll bool) {
	if job.NodeBitmap == nil {
		return
	}
	for _, idx := range job.NodeBitmap.Indices() {
		rec := &m.nodes[idx]
		pc := m.partitionCount(idx, job.Partition)

		m.decrement(&pc.RunningCount, 1, "running-count", idx, job.ID)

		if removeAll {
			m.decrement(&pc.TotalCount, 1, "total-count", idx, job.ID)
			if mem, ok := job.MemAlloc[idx]; ok {
				m.decrementMem(&rec.AllocatedMemMB, mem, idx, job.ID)
			}
			if rec.ExclusiveHolder == job.ID {
				rec.ExclusiveHolder = 0
			}
		}
	}
}

// AddStep debits a step's per-task memory against each node it occupies.
// It skips steps with ExplicitMem set (the owning job reserved explicit
// per-node memory) and steps with no node bitmap; the owning job's
// exclusive-node policy and whether memory is tracked are not checked.
func (m *Map) AddStep(step *types.Step) {
	if step.ExplicitMem || step.NodeBitmap == nil {
		return
	}
	for _, idx := range step.NodeBitmap.Indices() {
		tasks := step.TasksPerNode[idx]
		m.nodes[idx].AllocatedMemMB += uint64(tasks) * step.MemPerTaskMB
	}
}

// RmStep credits back a step's memory debit; under-credit is clamped to
// zero and logged.
func (m *Map) RmStep(step *types.Step) {
	if step.ExplicitMem || step.NodeBitmap == nil {
		return
	}
	for _, idx := range step.NodeBitmap.Indices() {
		tasks := step.TasksPerNode[idx]
		amount := uint64(tasks) * step.MemPerTaskMB
		m.decrementMem(&m.nodes[idx].AllocatedMemMB, amount, idx, step.JobID)
	}
}

func (m *Map) decrement(counter *int, amount, nodeIdx int, jobID int32) {
	if *counter < amount {
		m.logger.Error("accounting counter underflow, clamping to zero",
			"node_index", nodeIdx, "job_id", jobID, "counter_value", *counter, "decrement", amount)
		*counter = 0
		return
	}
	*counter -= amount
}

func (m *Map) decrementMem(mem *uint64, amount uint64, nodeIdx int, jobID int32) {
	if *mem < amount {
		m.logger.Error("accounting memory underflow, clamping to zero",
			"node_index", nodeIdx, "job_id", jobID, "mem_value", *mem, "decrement", amount)
		*mem = 0
		return
	}
	*mem -= amount
}

// NodeAccounting returns a copy of the accounting record for the given
// node index.
func (m *Map) NodeAccounting(nodeIdx int) types.NodeAccounting {
	return m.nodes[nodeIdx]
}

// Duplicate returns a detached, deep copy used by the selector's will-run
// prediction mode; mutating the copy never touches live state.
func (m *Map) Duplicate() *Map {
	dup := &Map{
		nodes:  make([]types.NodeAccounting, len(m.nodes)),
		logger: m.logger,
	}
	for i, rec := range m.nodes {
		dup.nodes[i] = types.NodeAccounting{
			AllocatedMemMB:  rec.AllocatedMemMB,
			ExclusiveHolder: rec.ExclusiveHolder,
			Partitions:      append([]types.PartitionCount(nil), rec.Partitions...),
		}
	}
	return dup
}

// Dump returns a copy of every node accounting record, indexed by node.
func (m *Map) Dump() []types.NodeAccounting {
	out := make([]types.NodeAccounting, len(m.nodes))
	copy(out, m.nodes)
	return out
}
