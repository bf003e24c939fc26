// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, dir, jobID, stepID, procID string) {
	t.Helper()
	t.Setenv("CHECKPOINT_PATH", dir)
	t.Setenv("JOBID", jobID)
	t.Setenv("STEPID", stepID)
	t.Setenv("PROCID", procID)
}

func TestPathAssemblesExpectedLayout(t *testing.T) {
	dir := t.TempDir()
	setEnv(t, dir, "100", "0", "2")

	p, err := Path("myapp")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "100.0", "myapp.2.ckpt"), p)

	info, err := os.Stat(filepath.Join(dir, "100.0"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMissingJobIDReturnsNoData(t *testing.T) {
	dir := t.TempDir()
	setEnv(t, dir, "", "0", "2")

	_, err := Path("myapp")
	require.Error(t, err)
}

func TestMissingCheckpointPathReturnsNoData(t *testing.T) {
	setEnv(t, "", "100", "0", "2")
	_, err := Path("myapp")
	require.Error(t, err)
}

func TestMissingProcIDReturnsNoData(t *testing.T) {
	dir := t.TempDir()
	setEnv(t, dir, "100", "0", "")
	_, err := Path("myapp")
	require.Error(t, err)
}
