// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import "errors"

var (
	// ErrMissingClusterName is returned when the cluster name is not set
	ErrMissingClusterName = errors.New("cluster name is required")

	// ErrMissingListenAddress is returned when the listen address is not set
	ErrMissingListenAddress = errors.New("listen address is required")

	// ErrInvalidSchedulerTick is returned when the scheduler tick interval is invalid
	ErrInvalidSchedulerTick = errors.New("scheduler tick interval must be greater than 0")

	// ErrInvalidReservationSweep is returned when the reservation sweep interval is invalid
	ErrInvalidReservationSweep = errors.New("reservation sweep interval must be greater than 0")

	// ErrInvalidDBReconnectAttempts is returned when the DB reconnect attempt count is invalid
	ErrInvalidDBReconnectAttempts = errors.New("max DB reconnect attempts must be greater than or equal to 0")

	// ErrInvalidSelector is returned when the selector kind is not recognized
	ErrInvalidSelector = errors.New("selector must be \"linear\" or \"3d_torus\"")
)
