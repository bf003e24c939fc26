// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command slurmcontrollerd runs the controller's scheduler loop and RPC
// surface as a single long-lived process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jontk/slurm-controller/internal/controller"
	"github.com/jontk/slurm-controller/internal/node"
	"github.com/jontk/slurm-controller/internal/rpc"
	"github.com/jontk/slurm-controller/internal/types"
	"github.com/jontk/slurm-controller/pkg/config"
	"github.com/jontk/slurm-controller/pkg/logging"
)

// clusterInventory is the on-disk shape of the -nodes-file flag: the node
// and partition tables the controller loads at startup. There is no
// persistent node database here (§1, nodes/partitions are supplied at
// boot by an external collaborator such as a config-management run).
type clusterInventory struct {
	Nodes      []*types.Node      `json:"nodes"`
	Partitions []*types.Partition `json:"partitions"`
}

func loadInventory(path string) (*clusterInventory, error) {
	if path == "" {
		return defaultInventory(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open nodes file: %w", err)
	}
	defer f.Close()

	var inv clusterInventory
	if err := json.NewDecoder(f).Decode(&inv); err != nil {
		return nil, fmt.Errorf("decode nodes file: %w", err)
	}
	return &inv, nil
}

// defaultInventory gives a fresh controller something to schedule against
// when no -nodes-file is supplied, useful for a smoke-test boot.
func defaultInventory() *clusterInventory {
	return &clusterInventory{
		Nodes: []*types.Node{
			{Name: "node001", Sockets: 2, CoresPer: 16, ThreadsPer: 1, RealMemMB: 131072, State: types.NodeUp},
			{Name: "node002", Sockets: 2, CoresPer: 16, ThreadsPer: 1, RealMemMB: 131072, State: types.NodeUp},
		},
		Partitions: []*types.Partition{
			{Name: "batch", NodeNames: []string{"node001", "node002"}, MaxShare: 1, DefaultTime: time.Hour},
		},
	}
}

func main() {
	var (
		nodesFile = flag.String("nodes-file", "", "path to a JSON node/partition inventory (defaults to a built-in two-node cluster)")
		pidFile   = flag.String("pidfile", "", "path to write the process pid; pidfile locking itself is handled by the process supervisor, not this binary")
	)
	flag.Parse()

	cfg := config.NewDefault()
	cfg.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{
		Level:   logLevel,
		Format:  logging.FormatJSON,
		Output:  os.Stdout,
		Version: cfg.ClusterName,
	})

	if *pidFile != "" {
		// Pidfile content only; acquiring/removing the lock is the
		// supervisor's job (§1, daemonization is out of scope here).
		if err := os.WriteFile(*pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
			logger.Error("failed to write pidfile", "path", *pidFile, "error", err)
		}
	}

	inv, err := loadInventory(*nodesFile)
	if err != nil {
		logger.Error("failed to load node inventory", "error", err)
		os.Exit(1)
	}
	model := node.NewModel(inv.Nodes, inv.Partitions)

	ctrl := controller.New(cfg, logger, model)
	if err := ctrl.LoadReservationState(); err != nil {
		logger.Error("failed to load persisted reservation state", "error", err)
	}
	server := rpc.New(ctrl, logger)

	mux := http.NewServeMux()
	mux.Handle("/", server)
	mux.Handle("/metrics", ctrl.Metrics().Handler())

	httpServer := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go ctrl.Run(ctx)

	serveErrs := make(chan error, 1)
	go func() {
		logger.Info("rpc surface listening", "address", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrs <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErrs:
		logger.Error("rpc surface stopped unexpectedly", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	if *pidFile != "" {
		if err := os.Remove(*pidFile); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to remove pidfile", "path", *pidFile, "error", err)
		}
	}
}
