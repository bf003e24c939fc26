// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryRegistersAllCollectors(t *testing.T) {
	r := NewRegistry("test-cluster")
	require.NotNil(t, r)

	r.NodesTotal.Set(10)
	r.JobsRunning.Set(3)
	r.SchedulePasses.Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "slurmctl_nodes_total")
	assert.Contains(t, body, "slurmctl_jobs_running")
	assert.Contains(t, body, "slurmctl_schedule_passes_total")
	assert.Contains(t, body, `cluster="test-cluster"`)
}

func TestTwoRegistriesDoNotCollide(t *testing.T) {
	a := NewRegistry("cluster-a")
	b := NewRegistry("cluster-b")

	a.JobsRunning.Set(1)
	b.JobsRunning.Set(2)

	recA := httptest.NewRecorder()
	a.Handler().ServeHTTP(recA, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, recA.Body.String(), `cluster="cluster-a"`)
	assert.NotContains(t, recA.Body.String(), `cluster="cluster-b"`)
}
