// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jontk/slurm-controller/internal/controller"
	"github.com/jontk/slurm-controller/internal/node"
	"github.com/jontk/slurm-controller/internal/types"
	"github.com/jontk/slurm-controller/pkg/config"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	nodes := []*types.Node{
		{Name: "n0", Sockets: 1, CoresPer: 4, ThreadsPer: 1, RealMemMB: 8192, State: types.NodeUp},
		{Name: "n1", Sockets: 1, CoresPer: 4, ThreadsPer: 1, RealMemMB: 8192, State: types.NodeUp},
	}
	parts := []*types.Partition{{Name: "batch", NodeNames: []string{"n0", "n1"}, MaxShare: 1}}
	model := node.NewModel(nodes, parts)

	cfg := config.NewDefault()
	ctrl := controller.New(cfg, nil, model)
	return New(ctrl, nil)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestJobSubmitAndShow(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodPost, "/jobs/submit", jobSubmitRequest{
		Partition: "batch",
		CPUs:      4,
		MinNodes:  1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var submitResp jobSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitResp))
	assert.Equal(t, int32(1), submitResp.JobID)

	showRec := doRequest(t, s, http.MethodGet, "/jobs/1", nil)
	assert.Equal(t, http.StatusOK, showRec.Code)
}

func TestJobShowUnknownIDReturnsNotFound(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodGet, "/jobs/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobAllocGrantsImmediatelyWhenResourcesFree(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodPost, "/jobs/alloc", jobSubmitRequest{
		Partition: "batch",
		CPUs:      4,
		MinNodes:  1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		JobID   int32          `json:"job_id"`
		State   types.JobState `json:"state"`
		Granted bool           `json:"granted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Granted)
	assert.Equal(t, types.JobRunning, resp.State)
}

func TestJobKillReturnsJobToCancelled(t *testing.T) {
	s := testServer(t)
	doRequest(t, s, http.MethodPost, "/jobs/submit", jobSubmitRequest{Partition: "batch", CPUs: 4, MinNodes: 1})

	rec := doRequest(t, s, http.MethodPost, "/jobs/1/kill", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	job, ok := s.ctrl.Job(1)
	require.True(t, ok)
	assert.Equal(t, types.JobCancelled, job.State)
}

func TestStepCheckpointLifecycle(t *testing.T) {
	s := testServer(t)
	doRequest(t, s, http.MethodPost, "/jobs/alloc", jobSubmitRequest{Partition: "batch", CPUs: 4, MinNodes: 1})

	stepRec := doRequest(t, s, http.MethodPost, "/jobs/1/steps", stepSubmitRequest{MemPerTaskMB: 512})
	require.Equal(t, http.StatusOK, stepRec.Code)
	var stepResp struct {
		StepID int32 `json:"step_id"`
	}
	require.NoError(t, json.Unmarshal(stepRec.Body.Bytes(), &stepResp))

	ableRec := doRequest(t, s, http.MethodGet, "/steps/1/checkpoint/able", nil)
	require.Equal(t, http.StatusOK, ableRec.Code)
	var ableResp struct {
		Able bool `json:"able"`
	}
	require.NoError(t, json.Unmarshal(ableRec.Body.Bytes(), &ableResp))
	assert.False(t, ableResp.Able, "checkpointing is disabled by default")

	createBeforeEnable := doRequest(t, s, http.MethodPost, "/steps/1/checkpoint/create", nil)
	assert.Equal(t, http.StatusBadRequest, createBeforeEnable.Code)

	enableRec := doRequest(t, s, http.MethodPost, "/steps/1/checkpoint/enable", nil)
	assert.Equal(t, http.StatusOK, enableRec.Code)

	createRec := doRequest(t, s, http.MethodPost, "/steps/1/checkpoint/create", nil)
	assert.Equal(t, http.StatusOK, createRec.Code)
	var eventResp checkpointEventResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &eventResp))
	assert.Greater(t, eventResp.EventTimeUnix, int64(0))
}

func TestReservationCreateShowAndDelete(t *testing.T) {
	s := testServer(t)
	createRec := doRequest(t, s, http.MethodPost, "/reservations", reservationRequest{
		StartUnix:   time.Now().Unix(),
		Accounts:    []string{"alice"},
		NodeNames:   []string{"n0"},
		DurationSec: 3600,
	})
	require.Equal(t, http.StatusOK, createRec.Code)

	var resv types.Reservation
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &resv))
	assert.Equal(t, "alice_0", resv.Name)

	showRec := doRequest(t, s, http.MethodGet, "/reservations/"+resv.Name, nil)
	assert.Equal(t, http.StatusOK, showRec.Code)

	deleteRec := doRequest(t, s, http.MethodDelete, "/reservations/"+resv.Name, nil)
	assert.Equal(t, http.StatusOK, deleteRec.Code)

	showAfterDelete := doRequest(t, s, http.MethodGet, "/reservations/"+resv.Name, nil)
	assert.Equal(t, http.StatusNotFound, showAfterDelete.Code)
}

func TestPingAndTakeover(t *testing.T) {
	s := testServer(t)
	pingRec := doRequest(t, s, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, pingRec.Code)

	takeoverRec := doRequest(t, s, http.MethodPost, "/takeover", nil)
	assert.Equal(t, http.StatusOK, takeoverRec.Code)
}

func TestNodeAndPartitionUpdate(t *testing.T) {
	s := testServer(t)
	nodeRec := doRequest(t, s, http.MethodPatch, "/nodes/n0", struct {
		State types.NodeState `json:"state"`
	}{State: types.NodeDrained})
	assert.Equal(t, http.StatusOK, nodeRec.Code)

	maxShare := 4
	partRec := doRequest(t, s, http.MethodPatch, "/partitions/batch", struct {
		MaxShare *int `json:"max_share"`
	}{MaxShare: &maxShare})
	assert.Equal(t, http.StatusOK, partRec.Code)
}
