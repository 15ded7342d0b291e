// Package main is the entry point for the VersionDB server application.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ASHISH26940/versiondb/internal/catalog"
	"github.com/ASHISH26940/versiondb/internal/config"
	internal_raft "github.com/ASHISH26940/versiondb/internal/raft"
	"github.com/ASHISH26940/versiondb/internal/server"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/raft"
	"github.com/hashicorp/raft-boltdb"
)

func main() {
	// --- Configuration and Flags ---
	configFile := flag.String("config", "config.toml", "Path to config file")
	bootstrap := flag.Bool("bootstrap", false, "Bootstrap the cluster (run on the first node only)")
	flag.Parse()

	cfg := config.New()
	if err := cfg.Load(*configFile); err != nil {
		fatal(hclog.Default(), "failed to load config", err)
	}
	// A bootstrapping node without node_id gets a generated one, kept in
	// data_dir so it stays a voter in its own cluster across restarts.
	if err := cfg.EnsureNodeID(*bootstrap); err != nil {
		fatal(hclog.Default(), "failed to resolve node ID", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal(hclog.Default(), "invalid config", err)
	}
	applyTimeout, _ := cfg.ApplyTimeoutDuration()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "versiondb",
		Level: hclog.LevelFromString(cfg.LogLevel),
	}).With("node_id", cfg.NodeID)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		fatal(logger, "failed to create data directory", err)
	}

	// --- Metrics ---
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	metricsConfig := metrics.DefaultConfig("versiondb")
	metricsConfig.EnableHostname = false
	if _, err := metrics.NewGlobal(metricsConfig, sink); err != nil {
		fatal(logger, "failed to initialize metrics", err)
	}

	// --- Initialize Store and FSM ---
	// The store starts empty; all state, the seed included, comes from the log.
	st := catalog.New()
	fsm := internal_raft.NewFSM(st, logger.Named("fsm"))

	// --- Raft Setup ---
	node, err := newRaft(cfg, fsm, logger.Named("raft"))
	if err != nil {
		fatal(logger, "failed to start raft", err)
	}
	r := node.raft

	// --- Conditionally Bootstrap the Cluster ---
	freshCluster := *bootstrap && !node.hasState
	if *bootstrap && node.hasState {
		logger.Info("existing raft state found, skipping bootstrap and seed")
	}
	if !*bootstrap && len(cfg.Seed) > 0 {
		logger.Warn("ignoring seed on a node that does not bootstrap the cluster", "keys", len(cfg.Seed))
	}
	if freshCluster {
		logger.Info("bootstrapping cluster")
		bootstrapConfig := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raft.ServerID(cfg.NodeID),
					Address: node.transport.LocalAddr(),
				},
			},
		}
		if err := r.BootstrapCluster(bootstrapConfig).Error(); err != nil {
			fatal(logger, "failed to bootstrap cluster", err)
		}

		// The seed is replicated as ordinary SET commands so every replica,
		// and every later restart, derives it from the same log.
		if len(cfg.Seed) > 0 {
			leaderCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := internal_raft.WaitForLeader(leaderCtx, r)
			cancel()
			if err != nil {
				fatal(logger, "failed to become leader for seeding", err)
			}
			if err := internal_raft.Seed(r, cfg.Seed, applyTimeout); err != nil {
				fatal(logger, "failed to replicate seed", err)
			}
			logger.Info("replicated seed", "keys", len(cfg.Seed))
		}
	}

	// --- Start the HTTP Server ---
	httpServer := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: server.New(st, r, server.Options{
			Logger:       logger.Named("http"),
			Metrics:      sink,
			ApplyTimeout: applyTimeout,
		}),
	}
	go func() {
		logger.Info("starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "HTTP server failed", err)
		}
	}()

	logger.Info("VersionDB node started successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	if err := r.Shutdown().Error(); err != nil {
		logger.Error("raft shutdown failed", "error", err)
	}
	if err := node.logStore.Close(); err != nil {
		logger.Error("log store close failed", "error", err)
	}
}

// raftNode bundles a running Raft instance with the resources it owns.
type raftNode struct {
	raft      *raft.Raft
	transport raft.Transport
	logStore  *raftboltdb.BoltStore
	// hasState reports whether data_dir held a log or snapshot before start.
	hasState bool
}

// newRaft wires the FSM to a TCP transport, a file snapshot store and a
// bolt-backed log store under cfg.DataDir.
func newRaft(cfg *config.Config, fsm raft.FSM, logger hclog.Logger) (*raftNode, error) {
	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.Logger = logger

	raftAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.RaftPort)
	addr, err := net.ResolveTCPAddr("tcp", raftAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve raft address: %w", err)
	}
	transport, err := raft.NewTCPTransportWithLogger(raftAddr, addr, 3, 10*time.Second, logger)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStoreWithLogger(cfg.DataDir, 2, logger)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft.db"))
	if err != nil {
		return nil, fmt.Errorf("create bolt store: %w", err)
	}

	hasState, err := raft.HasExistingState(logStore, logStore, snapshots)
	if err != nil {
		logStore.Close()
		return nil, fmt.Errorf("inspect raft state: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, logStore, snapshots, transport)
	if err != nil {
		logStore.Close()
		return nil, fmt.Errorf("create raft node: %w", err)
	}
	return &raftNode{raft: r, transport: transport, logStore: logStore, hasState: hasState}, nil
}

func fatal(logger hclog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
