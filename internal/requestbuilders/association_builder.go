// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package requestbuilders

import (
	"fmt"
	"time"

	"github.com/jontk/slurm-controller/internal/types"
)

// AssociationBuilder provides a fluent interface for building association
// tree rows submitted to internal/assoc's Add/AddBatch.
type AssociationBuilder struct {
	assoc  *types.Association
	errors []error
}

// NewAssociationBuilder creates a builder for an account-level row (or a
// user row, once WithUser is called) under the given cluster and account.
func NewAssociationBuilder(cluster, account string) *AssociationBuilder {
	b := &AssociationBuilder{assoc: &types.Association{
		Cluster:         cluster,
		Account:         account,
		FairshareWeight: 1,
	}}
	if cluster == "" {
		b.addError(fmt.Errorf("cluster cannot be empty"))
	}
	if account == "" {
		b.addError(fmt.Errorf("account cannot be empty"))
	}
	return b
}

// WithParent names the parent account; empty means a root row.
func (b *AssociationBuilder) WithParent(parent string) *AssociationBuilder {
	b.assoc.Parent = parent
	return b
}

// WithUser turns this into a user-level row under the account.
func (b *AssociationBuilder) WithUser(user string) *AssociationBuilder {
	b.assoc.User = user
	return b
}

// WithPartition scopes the row to a single partition.
func (b *AssociationBuilder) WithPartition(partition string) *AssociationBuilder {
	b.assoc.Partition = partition
	return b
}

// WithFairshareWeight sets the fairshare weight used in priority
// calculation.
func (b *AssociationBuilder) WithFairshareWeight(weight int) *AssociationBuilder {
	if weight <= 0 {
		b.addError(fmt.Errorf("fairshare weight must be positive, got %d", weight))
		return b
	}
	b.assoc.FairshareWeight = weight
	return b
}

// WithMaxJobs sets the per-job-count ceiling for this association.
func (b *AssociationBuilder) WithMaxJobs(n int) *AssociationBuilder {
	b.assoc.MaxJobs = &n
	return b
}

// WithMaxSubmit sets the maximum submitted (pending+running) job count.
func (b *AssociationBuilder) WithMaxSubmit(n int) *AssociationBuilder {
	b.assoc.MaxSubmit = &n
	return b
}

// WithMaxCPUs sets the maximum CPUs a single job may request.
func (b *AssociationBuilder) WithMaxCPUs(n int) *AssociationBuilder {
	b.assoc.MaxCPUs = &n
	return b
}

// WithMaxNodes sets the maximum nodes a single job may request.
func (b *AssociationBuilder) WithMaxNodes(n int) *AssociationBuilder {
	b.assoc.MaxNodes = &n
	return b
}

// WithMaxWall sets the maximum wall time a single job may request.
func (b *AssociationBuilder) WithMaxWall(d time.Duration) *AssociationBuilder {
	b.assoc.MaxWall = &d
	return b
}

// WithMaxCPUMins sets the maximum CPU-minutes a single job may consume.
func (b *AssociationBuilder) WithMaxCPUMins(n int64) *AssociationBuilder {
	b.assoc.MaxCPUMins = &n
	return b
}

// WithQoSList sets the quality-of-service names available to this row.
func (b *AssociationBuilder) WithQoSList(qos ...string) *AssociationBuilder {
	b.assoc.QoSList = qos
	return b
}

func (b *AssociationBuilder) addError(err error) {
	b.errors = append(b.errors, err)
}

// Errors returns any accumulated validation errors.
func (b *AssociationBuilder) Errors() []error { return b.errors }

// Build returns the assembled association row, or the accumulated
// builder-level errors. The tree itself still enforces uniqueness and
// resolves lft/rgt placement on Add.
func (b *AssociationBuilder) Build() (*types.Association, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("association request validation errors: %v", b.errors)
	}
	return b.assoc, nil
}
