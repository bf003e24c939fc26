// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"strconv"
	"time"
)

// SelectorKind names the in-tree node-selection plugin to dispatch to.
type SelectorKind string

const (
	SelectorLinear SelectorKind = "linear"
	SelectorTorus  SelectorKind = "3d_torus"
)

// Config holds configuration for the controller.
type Config struct {
	// ClusterName identifies this cluster in association lookups and
	// reservation records.
	ClusterName string

	// ListenAddress is the address the RPC surface binds to.
	ListenAddress string

	// PersistenceDir is where reservation state snapshots are written.
	PersistenceDir string

	// Selector picks the node-selection plugin.
	Selector SelectorKind

	// SchedulerTick is the interval between scheduling passes.
	SchedulerTick time.Duration

	// ReservationSweep is the interval between reservation expiry sweeps.
	ReservationSweep time.Duration

	// MaxDBReconnectAttempts is validated (must be >= 0) but not read by
	// any component; there is no database connection to reconnect.
	MaxDBReconnectAttempts int

	// Debug enables debug logging.
	Debug bool
}

// NewDefault creates a new configuration with default values.
func NewDefault() *Config {
	return &Config{
		ClusterName:            getEnvOrDefault("SLURMCTL_CLUSTER", "default"),
		ListenAddress:          getEnvOrDefault("SLURMCTL_LISTEN", ":6817"),
		PersistenceDir:         getEnvOrDefault("SLURMCTL_STATE_DIR", "/var/spool/slurmctld"),
		Selector:               SelectorKind(getEnvOrDefault("SLURMCTL_SELECTOR", string(SelectorLinear))),
		SchedulerTick:          2 * time.Second,
		ReservationSweep:       30 * time.Second,
		MaxDBReconnectAttempts: 1,
		Debug:                  getEnvBoolOrDefault("SLURMCTL_DEBUG", false),
	}
}

// Load loads configuration from environment variables.
func (c *Config) Load() {
	if v := os.Getenv("SLURMCTL_CLUSTER"); v != "" {
		c.ClusterName = v
	}

	if v := os.Getenv("SLURMCTL_LISTEN"); v != "" {
		c.ListenAddress = v
	}

	if v := os.Getenv("SLURMCTL_STATE_DIR"); v != "" {
		c.PersistenceDir = v
	}

	if v := os.Getenv("SLURMCTL_SELECTOR"); v != "" {
		c.Selector = SelectorKind(v)
	}

	if v := os.Getenv("SLURMCTL_SCHED_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SchedulerTick = d
		}
	}

	if v := os.Getenv("SLURMCTL_RESV_SWEEP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ReservationSweep = d
		}
	}

	if v := os.Getenv("SLURMCTL_DB_RECONNECT_ATTEMPTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.MaxDBReconnectAttempts = i
		}
	}

	c.Debug = getEnvBoolOrDefault("SLURMCTL_DEBUG", c.Debug)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ClusterName == "" {
		return ErrMissingClusterName
	}

	if c.ListenAddress == "" {
		return ErrMissingListenAddress
	}

	if c.SchedulerTick <= 0 {
		return ErrInvalidSchedulerTick
	}

	if c.ReservationSweep <= 0 {
		return ErrInvalidReservationSweep
	}

	if c.MaxDBReconnectAttempts < 0 {
		return ErrInvalidDBReconnectAttempts
	}

	if c.Selector != SelectorLinear && c.Selector != SelectorTorus {
		return ErrInvalidSelector
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable value as a boolean or a default value
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
