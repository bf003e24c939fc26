// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle drives the job/step state machine (§4.6): the
// PENDING -> RUNNING -> SUSPENDED/COMPLETING -> terminal transitions, and
// the rollback-to-PENDING behaviour when a placement is lost to a race
// between job_test and begin.
package lifecycle

import (
	"time"

	"github.com/jontk/slurm-controller/internal/selector"
	"github.com/jontk/slurm-controller/internal/types"
	cerrors "github.com/jontk/slurm-controller/pkg/errors"
)

// Manager drives job and step transitions against a selector.
type Manager struct {
	sel selector.Selector
	now func() time.Time
}

// New creates a lifecycle manager driving the given selector.
func New(sel selector.Selector) *Manager {
	return &Manager{sel: sel, now: time.Now}
}

var transitions = map[types.JobState]map[types.JobState]bool{
	types.JobPending: {
		types.JobRunning:   true,
		types.JobCancelled: true,
	},
	types.JobRunning: {
		types.JobSuspended:  true,
		types.JobCompleting: true,
		types.JobCancelled:  true,
		types.JobTimeout:    true,
	},
	types.JobSuspended: {
		types.JobRunning:   true,
		types.JobCancelled: true,
	},
	types.JobCompleting: {
		types.JobComplete:  true,
		types.JobFailed:    true,
		types.JobCancelled: true,
		types.JobTimeout:   true,
	},
}

func canTransition(from, to types.JobState) bool {
	return transitions[from][to]
}

func perNodeMem(job *types.Job, cpusOnNode int) uint64 {
	if job.MemPerNodeMB > 0 {
		return job.MemPerNodeMB
	}
	return job.MemPerCPUMB * uint64(cpusOnNode)
}

// Begin runs job_test in RUN_NOW mode over candidates, places job on the
// nodes it chooses, and moves it PENDING -> RUNNING. If no placement is
// found (for example the node state or a reservation changed since an
// earlier job_test), the job is returned cleanly to PENDING without
// partial debits (I6).
func (m *Manager) Begin(job *types.Job, candidates *types.NodeBitmap, minNodes, maxNodes int) error {
	if job.State != types.JobPending {
		return cerrors.New(cerrors.KindAlreadyRunning, "job is not pending")
	}

	result := m.sel.JobTest(job, selector.ModeRunNow, candidates, minNodes, maxNodes)
	if !result.Success {
		job.State = types.JobPending
		job.NodeBitmap = nil
		job.CPUAlloc = nil
		return cerrors.New(cerrors.KindNoResources, "placement lost before begin, job returned to pending")
	}

	bm := types.NewNodeBitmap(candidates.Len())
	cpuAlloc := make(map[int]int, len(result.Placement))
	memAlloc := make(map[int]uint64, len(result.Placement))
	for idx, cpus := range result.Placement {
		bm.Set(idx)
		cpuAlloc[idx] = cpus
		memAlloc[idx] = perNodeMem(job, cpus)
	}
	job.NodeBitmap = bm
	job.CPUAlloc = cpuAlloc
	job.MemAlloc = memAlloc

	m.sel.JobBegin(job)
	return nil
}

// Suspend moves RUNNING -> SUSPENDED.
func (m *Manager) Suspend(job *types.Job) error {
	if !canTransition(job.State, types.JobSuspended) {
		return cerrors.New(cerrors.KindUnexpectedMessage, "job cannot be suspended from its current state")
	}
	m.sel.JobSuspend(job)
	return nil
}

// Resume moves SUSPENDED -> RUNNING, refusing if the partition's
// max-share would be exceeded.
func (m *Manager) Resume(job *types.Job) error {
	if !canTransition(job.State, types.JobRunning) {
		return cerrors.New(cerrors.KindUnexpectedMessage, "job cannot be resumed from its current state")
	}
	return m.sel.JobResume(job)
}

// BeginCompleting moves RUNNING -> COMPLETING: steps must be finished
// before Finish is called.
func (m *Manager) BeginCompleting(job *types.Job, steps []*types.Step) error {
	if !canTransition(job.State, types.JobCompleting) {
		return cerrors.New(cerrors.KindUnexpectedMessage, "job cannot complete from its current state")
	}
	for _, s := range steps {
		m.sel.StepFini(s)
	}
	job.State = types.JobCompleting
	return nil
}

// Finish credits the job's full debit and moves COMPLETING to the given
// terminal state.
func (m *Manager) Finish(job *types.Job, terminal types.JobState) error {
	if !terminal.Terminal() {
		return cerrors.New(cerrors.KindUnexpectedMessage, "finish requires a terminal state")
	}
	if !canTransition(job.State, terminal) {
		return cerrors.New(cerrors.KindUnexpectedMessage, "invalid terminal transition from current state")
	}
	m.sel.JobFini(job)
	job.State = terminal
	return nil
}

// Cancel moves any non-terminal state directly to CANCELLED, crediting
// the map if the job had been placed.
func (m *Manager) Cancel(job *types.Job) error {
	if job.State.Terminal() {
		return cerrors.New(cerrors.KindUnexpectedMessage, "job is already terminal")
	}
	if job.State == types.JobRunning || job.State == types.JobSuspended || job.State == types.JobCompleting {
		m.sel.JobFini(job)
	}
	job.State = types.JobCancelled
	return nil
}

// BeginStep places a step on its job's already-allocated nodes.
func (m *Manager) BeginStep(step *types.Step) {
	step.StartTime = m.now()
	m.sel.StepBegin(step)
}

// FinishStep credits a step's debit and records its exit status.
func (m *Manager) FinishStep(step *types.Step, exitStatus int) {
	m.sel.StepFini(step)
	step.EndTime = m.now()
	step.ExitStatus = exitStatus
}
