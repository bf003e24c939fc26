// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package requestbuilders provides fluent builders for the requests the
// controller's job, reservation, and association create operations take.
package requestbuilders

import (
	"fmt"
	"time"

	"github.com/jontk/slurm-controller/internal/types"
)

// JobBuilder provides a fluent interface for building Job submission
// requests, accumulating validation errors until Build is called.
type JobBuilder struct {
	job    *types.Job
	errors []error
}

// NewJobBuilder creates a builder with the given partition, the one
// field every job submission must carry.
func NewJobBuilder(partition string) *JobBuilder {
	b := &JobBuilder{job: &types.Job{
		Partition: partition,
		MinNodes:  1,
		CPUs:      1,
		State:     types.JobPending,
	}}
	if partition == "" {
		b.addError(fmt.Errorf("partition cannot be empty"))
	}
	return b
}

// WithName sets the job name.
func (b *JobBuilder) WithName(name string) *JobBuilder {
	b.job.Name = name
	return b
}

// WithIdentity sets the submitting user and group.
func (b *JobBuilder) WithIdentity(uid, gid int) *JobBuilder {
	b.job.UID = uid
	b.job.GID = gid
	return b
}

// WithNodes sets the node range, min required, max 0 for unlimited.
func (b *JobBuilder) WithNodes(min, max int) *JobBuilder {
	if min <= 0 {
		b.addError(fmt.Errorf("min nodes must be positive, got %d", min))
		return b
	}
	if max > 0 && max < min {
		b.addError(fmt.Errorf("max nodes (%d) cannot be less than min nodes (%d)", max, min))
		return b
	}
	b.job.MinNodes = min
	b.job.MaxNodes = max
	return b
}

// WithCPUs sets the total CPU request.
func (b *JobBuilder) WithCPUs(cpus int) *JobBuilder {
	if cpus <= 0 {
		b.addError(fmt.Errorf("CPUs must be positive, got %d", cpus))
		return b
	}
	b.job.CPUs = cpus
	return b
}

// WithMemPerCPU sets memory in MB charged per requested CPU.
func (b *JobBuilder) WithMemPerCPU(mb uint64) *JobBuilder {
	b.job.MemPerCPUMB = mb
	b.job.MemPerNodeMB = 0
	return b
}

// WithMemPerNode sets memory in MB charged per node, overriding
// per-CPU memory accounting.
func (b *JobBuilder) WithMemPerNode(mb uint64) *JobBuilder {
	b.job.MemPerNodeMB = mb
	b.job.MemPerCPUMB = 0
	return b
}

// WithTimeLimit sets the wall-clock time limit.
func (b *JobBuilder) WithTimeLimit(d time.Duration) *JobBuilder {
	if d <= 0 {
		b.addError(fmt.Errorf("time limit must be positive, got %v", d))
		return b
	}
	b.job.TimeLimit = d
	return b
}

// WithFeatures sets the required node feature list.
func (b *JobBuilder) WithFeatures(features ...string) *JobBuilder {
	b.job.Features = features
	return b
}

// WithRequiredNodes names nodes the placement must include.
func (b *JobBuilder) WithRequiredNodes(names ...string) *JobBuilder {
	b.job.RequiredNode = names
	return b
}

// WithContiguous requires a single-set placement answer.
func (b *JobBuilder) WithContiguous(contiguous bool) *JobBuilder {
	b.job.Contiguous = contiguous
	return b
}

// WithExclusive marks the job as requiring exclusive node occupancy.
func (b *JobBuilder) WithExclusive(exclusive bool) *JobBuilder {
	b.job.ExclusiveNode = exclusive
	b.job.Shared = !exclusive
	return b
}

// WithAssociation sets the resolved association id charged for this job.
func (b *JobBuilder) WithAssociation(assocID string) *JobBuilder {
	b.job.AssocID = assocID
	return b
}

// WithContact registers a (host, port) for notifier push.
func (b *JobBuilder) WithContact(host string, port int) *JobBuilder {
	b.job.Contact = &types.Contact{Host: host, Port: port}
	return b
}

func (b *JobBuilder) addError(err error) {
	b.errors = append(b.errors, err)
}

// Errors returns any accumulated validation errors.
func (b *JobBuilder) Errors() []error { return b.errors }

// HasErrors reports whether any validation error has been accumulated.
func (b *JobBuilder) HasErrors() bool { return len(b.errors) > 0 }

// Build returns the assembled job, or the accumulated validation errors.
func (b *JobBuilder) Build() (*types.Job, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("job request validation errors: %v", b.errors)
	}
	return b.job, nil
}

// MustBuild builds the job, panicking if validation failed. Reserved for
// call sites (tests, fixtures) that construct from known-good literals.
func (b *JobBuilder) MustBuild() *types.Job {
	job, err := b.Build()
	if err != nil {
		panic(err)
	}
	return job
}
