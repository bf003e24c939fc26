// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package requestbuilders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobBuilderBuildsValidRequest(t *testing.T) {
	job, err := NewJobBuilder("batch").
		WithName("myjob").
		WithNodes(1, 4).
		WithCPUs(8).
		WithMemPerCPU(1024).
		WithTimeLimit(time.Hour).
		WithRequiredNodes("n0").
		Build()

	require.NoError(t, err)
	assert.Equal(t, "batch", job.Partition)
	assert.Equal(t, 8, job.CPUs)
	assert.Equal(t, uint64(1024), job.MemPerCPUMB)
	assert.Equal(t, []string{"n0"}, job.RequiredNode)
}

func TestJobBuilderAccumulatesValidationErrors(t *testing.T) {
	b := NewJobBuilder("")
	b.WithCPUs(-1)
	b.WithNodes(4, 2)

	assert.True(t, b.HasErrors())
	assert.Len(t, b.Errors(), 3)
	_, err := b.Build()
	require.Error(t, err)
}

func TestJobBuilderMustBuildPanicsOnInvalidRequest(t *testing.T) {
	assert.Panics(t, func() {
		NewJobBuilder("").MustBuild()
	})
}

func TestJobBuilderExclusiveClearsSharedFlag(t *testing.T) {
	job, err := NewJobBuilder("batch").WithExclusive(true).Build()
	require.NoError(t, err)
	assert.True(t, job.ExclusiveNode)
	assert.False(t, job.Shared)
}

func TestReservationBuilderBuildsValidRequest(t *testing.T) {
	start := time.Now()
	req, err := NewReservationBuilder(start).
		WithDuration(time.Hour).
		WithAccounts("alice").
		WithNodeNames("n0", "n1").
		Build()

	require.NoError(t, err)
	assert.Equal(t, time.Hour, req.Duration)
	assert.Equal(t, []string{"alice"}, req.Accounts)
}

func TestReservationBuilderRejectsNonPositiveDuration(t *testing.T) {
	_, err := NewReservationBuilder(time.Now()).WithDuration(-time.Hour).Build()
	require.Error(t, err)
}

func TestAssociationBuilderBuildsValidRow(t *testing.T) {
	assoc, err := NewAssociationBuilder("cluster1", "alice").
		WithParent("root").
		WithMaxJobs(10).
		WithMaxWall(2 * time.Hour).
		Build()

	require.NoError(t, err)
	assert.Equal(t, "alice", assoc.Account)
	assert.Equal(t, "root", assoc.Parent)
	require.NotNil(t, assoc.MaxJobs)
	assert.Equal(t, 10, *assoc.MaxJobs)
}

func TestAssociationBuilderRejectsEmptyAccount(t *testing.T) {
	_, err := NewAssociationBuilder("cluster1", "").Build()
	require.Error(t, err)
}
