// Package raft contains the implementation of the Raft consensus layer.
package raft

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ASHISH26940/versiondb/internal/persistence"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
)

// Ops carried by replicated commands.
const (
	OpSet           = "SET"
	OpDelete        = "DELETE"
	OpDeleteVersion = "DELETE_VERSION"
)

// ErrUnknownOp is returned for commands with an unrecognized op.
var ErrUnknownOp = errors.New("unknown command op")

// DataStore is the interface our FSM needs to interact with the storage layer.
type DataStore interface {
	Set(key, value string) int
	Delete(key string) error
	DeleteVersion(key string, version int) error
	Snapshot() map[string][]string
	Restore(snap map[string][]string)
}

// Command is a single mutation committed to the Raft log.
type Command struct {
	Op      string `json:"op"`
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Version int    `json:"version,omitempty"`
}

// ApplyResult is the response of FSM.Apply, surfaced through raft.ApplyFuture.
type ApplyResult struct {
	// Version is the version number written by a SET.
	Version int
	Err     error
}

// FSM is a Finite State Machine that applies Raft logs to the versioned store.
type FSM struct {
	store  DataStore
	logger hclog.Logger
}

// NewFSM creates a new FSM over store.
func NewFSM(store DataStore, logger hclog.Logger) *FSM {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &FSM{
		store:  store,
		logger: logger,
	}
}

// Apply applies a Raft log entry to the store and returns an *ApplyResult.
func (f *FSM) Apply(logEntry *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(logEntry.Data, &cmd); err != nil {
		f.logger.Error("failed to unmarshal command", "index", logEntry.Index, "error", err)
		panic(fmt.Sprintf("failed to unmarshal command at index %d: %v", logEntry.Index, err))
	}

	f.logger.Debug("applying command", "index", logEntry.Index, "op", cmd.Op, "key", cmd.Key, "version", cmd.Version)
	return f.apply(cmd)
}

func (f *FSM) apply(cmd Command) *ApplyResult {
	switch cmd.Op {
	case OpSet:
		return &ApplyResult{Version: f.store.Set(cmd.Key, cmd.Value)}
	case OpDelete:
		return &ApplyResult{Err: f.store.Delete(cmd.Key)}
	case OpDeleteVersion:
		return &ApplyResult{Err: f.store.DeleteVersion(cmd.Key, cmd.Version)}
	default:
		f.logger.Warn("unrecognized command op", "op", cmd.Op)
		return &ApplyResult{Err: fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)}
	}
}

// Snapshot captures the current store contents for log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{entries: f.store.Snapshot()}, nil
}

// Restore replaces the store contents with a previously persisted snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	snap := make(map[string][]string)
	err := persistence.Replay(rc, func(rec persistence.Record) error {
		snap[rec.Key] = rec.Versions
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}

	f.store.Restore(snap)
	f.logger.Info("restored snapshot", "keys", len(snap))
	return nil
}

// fsmSnapshot is a point-in-time copy of the store.
type fsmSnapshot struct {
	entries map[string][]string
}

// Persist writes the snapshot to sink, cancelling it on failure.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := s.write(sink); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) write(w io.Writer) error {
	enc := persistence.NewEncoder(w)
	for key, versions := range s.entries {
		if err := enc.WriteRecord(persistence.Record{Key: key, Versions: versions}); err != nil {
			return err
		}
	}
	return enc.Flush()
}

// Release is a no-op; the snapshot holds no external resources.
func (s *fsmSnapshot) Release() {}
