// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"sort"
	"time"

	"github.com/jontk/slurm-controller/internal/accounting"
	"github.com/jontk/slurm-controller/internal/types"
)

// Tester is the subset of Selector that WillRunAt needs: a job_test call
// operating against a caller-supplied accounting map rather than the
// selector's own live one. Linear and Torus3D satisfy this when
// constructed over a cloned map.
type Tester interface {
	JobTest(job *types.Job, mode Mode, candidates *types.NodeBitmap, minNodes, maxNodes int) Result
}

// RebuildFunc constructs a Tester bound to a given (possibly cloned)
// accounting map, so WillRunAt can retry job_test against a succession of
// simulated states without mutating the live selector.
type RebuildFunc func(acct *accounting.Map) Tester

// RunningJob pairs a running job with its expected end time, for will-run
// simulation purposes.
type RunningJob struct {
	Job     *types.Job
	EndTime time.Time
}

// WillRunAt implements §4.5.4: clone the accounting map, then for every
// running job in ascending end-time order simulate its termination and
// retry job_test(mode=RUN_NOW) against the clone. The first retry that
// succeeds reports a predicted start at that job's end time, clamped to
// now+1 if already in the past.
func WillRunAt(live *accounting.Map, running []RunningJob, rebuild RebuildFunc, job *types.Job, candidates *types.NodeBitmap, minNodes, maxNodes int, now time.Time) Result {
	clone := live.Duplicate()

	ordered := make([]RunningJob, len(running))
	copy(ordered, running)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].EndTime.Before(ordered[j].EndTime) })

	for _, rj := range ordered {
		clone.RmJob(rj.Job, true)
		tester := rebuild(clone)
		result := tester.JobTest(job, ModeRunNow, candidates, minNodes, maxNodes)
		if result.Success {
			at := rj.EndTime
			if !at.After(now) {
				at = now.Add(time.Second)
			}
			return Result{Success: false, WillRunAt: at}
		}
	}
	return Result{Success: false}
}
