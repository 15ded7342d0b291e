package raft

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/raft"
)

// leaderPollInterval is how often WaitForLeader checks the node state.
const leaderPollInterval = 50 * time.Millisecond

// Applier is the subset of *raft.Raft needed to replicate commands.
type Applier interface {
	State() raft.RaftState
	Apply(cmd []byte, timeout time.Duration) raft.ApplyFuture
}

// WaitForLeader blocks until node is the cluster leader or ctx is done.
func WaitForLeader(ctx context.Context, node Applier) error {
	ticker := time.NewTicker(leaderPollInterval)
	defer ticker.Stop()
	for node.State() != raft.Leader {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for leadership: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Seed replicates one SET per entry of seed, in ascending key order, so
// every replica derives the initial versions from the log.
func Seed(node Applier, seed map[string]string, timeout time.Duration) error {
	keys := make([]string, 0, len(seed))
	for k := range seed {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		data, err := json.Marshal(Command{Op: OpSet, Key: key, Value: seed[key]})
		if err != nil {
			return fmt.Errorf("seed %s: %w", key, err)
		}
		future := node.Apply(data, timeout)
		if err := future.Error(); err != nil {
			return fmt.Errorf("seed %s: %w", key, err)
		}
		if res, ok := future.Response().(*ApplyResult); ok && res.Err != nil {
			return fmt.Errorf("seed %s: %w", key, res.Err)
		}
	}
	return nil
}
