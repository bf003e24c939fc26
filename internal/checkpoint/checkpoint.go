// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package checkpoint resolves the checkpoint file path a task client
// writes to, from the environment variables Slurm's task plugin sets
// before exec: CHECKPOINT_PATH, JOBID, STEPID, PROCID.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	cerrors "github.com/jontk/slurm-controller/pkg/errors"
)

// dirMode is the permission mode used when creating checkpoint directories.
const dirMode = 0750

// Path assembles <ckpt-dir>/<jobid>.<stepid>/<prog>.<procid>.ckpt from the
// environment, creating the directory if needed. Any of CHECKPOINT_PATH,
// JOBID, STEPID, or PROCID being unset is reported as NO_CHANGE_IN_DATA
// (NO-DATA): there is nothing to checkpoint without a complete identity.
func Path(prog string) (string, error) {
	ckptDir := os.Getenv("CHECKPOINT_PATH")
	jobID := os.Getenv("JOBID")
	stepID := os.Getenv("STEPID")
	procID := os.Getenv("PROCID")

	if ckptDir == "" || jobID == "" || stepID == "" || procID == "" {
		return "", cerrors.New(cerrors.KindNoChangeInData, "checkpoint environment incomplete, no data")
	}

	dir := filepath.Join(ckptDir, fmt.Sprintf("%s.%s", jobID, stepID))
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", cerrors.Wrap(cerrors.KindUnexpectedMessage, "creating checkpoint directory", err)
	}

	return filepath.Join(dir, fmt.Sprintf("%s.%s.ckpt", prog, procID)), nil
}
