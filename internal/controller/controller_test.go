// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jontk/slurm-controller/internal/node"
	"github.com/jontk/slurm-controller/internal/requestbuilders"
	"github.com/jontk/slurm-controller/internal/reservation"
	"github.com/jontk/slurm-controller/internal/types"
	"github.com/jontk/slurm-controller/pkg/config"
)

// reservationRequestFixture returns a request that passes Create's start-time
// validation (start within 60s of now) but whose computed end time already
// lies in the past, so ExpireStale immediately reclaims it.
func reservationRequestFixture() reservation.CreateRequest {
	return reservation.CreateRequest{
		Start:     time.Now().Add(-30 * time.Second),
		Duration:  time.Millisecond,
		Accounts:  []string{"alice"},
		NodeNames: []string{"n0"},
	}
}

func testController(t *testing.T) *Controller {
	t.Helper()
	nodes := []*types.Node{
		{Name: "n0", Sockets: 1, CoresPer: 4, ThreadsPer: 1, RealMemMB: 8192, State: types.NodeUp},
		{Name: "n1", Sockets: 1, CoresPer: 4, ThreadsPer: 1, RealMemMB: 8192, State: types.NodeUp},
	}
	parts := []*types.Partition{{Name: "batch", NodeNames: []string{"n0", "n1"}, MaxShare: 1}}
	model := node.NewModel(nodes, parts)

	cfg := config.NewDefault()
	cfg.SchedulerTick = time.Hour
	cfg.ReservationSweep = time.Hour

	return New(cfg, nil, model)
}

func TestSubmitJobAssignsIncrementingIDs(t *testing.T) {
	c := testController(t)
	job1 := &types.Job{Partition: "batch", CPUs: 4, MinNodes: 1}
	job2 := &types.Job{Partition: "batch", CPUs: 4, MinNodes: 1}

	id1, err := c.SubmitJob(job1)
	require.NoError(t, err)
	id2, err := c.SubmitJob(job2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), id1)
	assert.Equal(t, int32(2), id2)
}

func TestSchedulePassPlacesPendingJobsInFIFOOrder(t *testing.T) {
	c := testController(t)
	job1 := &types.Job{Partition: "batch", CPUs: 4, MinNodes: 1}
	job2 := &types.Job{Partition: "batch", CPUs: 4, MinNodes: 1}
	c.SubmitJob(job1)
	c.SubmitJob(job2)

	c.SchedulePass()

	assert.Equal(t, types.JobRunning, job1.State)
	assert.Equal(t, types.JobRunning, job2.State)
	assert.NotEqual(t, job1.NodeBitmap.Indices(), job2.NodeBitmap.Indices(), "cumulative debits within a pass must route later jobs to different nodes")
}

func TestSchedulePassLeavesJobPendingWhenNoResources(t *testing.T) {
	c := testController(t)
	job := &types.Job{Partition: "batch", CPUs: 1000, MinNodes: 1}
	c.SubmitJob(job)

	c.SchedulePass()
	assert.Equal(t, types.JobPending, job.State)
}

func TestCheckTimeoutsForcesCompletionAfterDeadline(t *testing.T) {
	c := testController(t)
	job := &types.Job{Partition: "batch", CPUs: 4, MinNodes: 1, TimeLimit: time.Minute}
	c.SubmitJob(job)
	c.SchedulePass()
	require.Equal(t, types.JobRunning, job.State)

	c.CheckTimeouts(job.StartTime.Add(2 * time.Minute))
	assert.Equal(t, types.JobTimeout, job.State)
	assert.True(t, job.State.Terminal())
}

func TestSubmitJobResolvesAssociationAndEnforcesMaxJobs(t *testing.T) {
	c := testController(t)
	row, err := requestbuilders.NewAssociationBuilder("default", "phys").WithMaxJobs(1).Build()
	require.NoError(t, err)
	_, err = c.assocTree.Add(row)
	require.NoError(t, err)

	job1 := &types.Job{Partition: "batch", CPUs: 4, MinNodes: 1, Account: "phys"}
	id1, err := c.SubmitJob(job1)
	require.NoError(t, err)
	assert.NotEmpty(t, job1.AssocID)

	job2 := &types.Job{Partition: "batch", CPUs: 4, MinNodes: 1, Account: "phys"}
	_, err = c.SubmitJob(job2)
	require.Error(t, err)

	c.KillJob(id1)
	job3 := &types.Job{Partition: "batch", CPUs: 4, MinNodes: 1, Account: "phys"}
	_, err = c.SubmitJob(job3)
	assert.NoError(t, err, "killing job1 frees a slot under the association's max-jobs limit")
}

func TestSubmitJobRejectsUnknownAccount(t *testing.T) {
	c := testController(t)
	job := &types.Job{Partition: "batch", CPUs: 4, MinNodes: 1, Account: "ghost"}
	_, err := c.SubmitJob(job)
	require.Error(t, err)
}

func TestExpireReservationsRemovesStaleEntries(t *testing.T) {
	c := testController(t)
	_, err := c.resv.Create(reservationRequestFixture())
	require.NoError(t, err)

	c.ExpireReservations()
	assert.Empty(t, c.resv.List())
}
