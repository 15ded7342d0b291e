// Package server handles the HTTP API for the versioned key-value store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	v1 "github.com/ASHISH26940/versiondb/api/v1"
	internal_raft "github.com/ASHISH26940/versiondb/internal/raft"
	"github.com/ASHISH26940/versiondb/internal/store"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/raft"
)

// DataStore is the interface our server needs to read from the storage layer.
// Writes never touch it directly; they go through Raft.
type DataStore interface {
	Latest(key string) (string, error)
	Get(key string, version int) (string, error)
	History(key string) ([]string, error)
	Scan(prefix string, limit int) []string
}

// RaftNode is the subset of *raft.Raft the server uses.
// By depending on an interface, we can easily mock Raft in our tests.
type RaftNode interface {
	State() raft.RaftState
	Leader() raft.ServerAddress
	Apply(cmd []byte, timeout time.Duration) raft.ApplyFuture
	AddVoter(id raft.ServerID, address raft.ServerAddress, prevIndex uint64, timeout time.Duration) raft.IndexFuture
}

// Options tune a Server. Zero values are replaced with defaults.
type Options struct {
	Logger       hclog.Logger
	Metrics      *metrics.InmemSink
	ApplyTimeout time.Duration
}

// Server is the HTTP server for our key-value store.
// It holds a reference to the Raft node to manage leadership and data replication.
type Server struct {
	store        DataStore
	raft         RaftNode
	logger       hclog.Logger
	sink         *metrics.InmemSink
	applyTimeout time.Duration
	router       *http.ServeMux
}

type requestIDKey struct{}

// New creates a new Server instance.
func New(store DataStore, r RaftNode, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = 5 * time.Second
	}
	s := &Server{
		store:        store,
		raft:         r,
		logger:       opts.Logger,
		sink:         opts.Metrics,
		applyTimeout: opts.ApplyTimeout,
		router:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP makes our Server a standard http.Handler.
// Every request is tagged with an ID echoed in the X-Request-ID header.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", id)
	s.router.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
}

// registerRoutes sets up the HTTP routing for the server.
func (s *Server) registerRoutes() {
	s.router.HandleFunc("/kv/", s.handleKV)
	s.router.HandleFunc("/history/", s.handleHistory)
	s.router.HandleFunc("/keys", s.handleKeys)
	s.router.HandleFunc("/join", s.handleJoin)
	s.router.HandleFunc("/metrics", s.handleMetrics)
}

// requestLogger returns the server logger annotated with the request ID.
func (s *Server) requestLogger(r *http.Request) hclog.Logger {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return s.logger.With("request_id", id)
	}
	return s.logger
}

// handleKV is the main dispatcher for all /kv/ requests.
func (s *Server) handleKV(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/kv/")
	if key == "" {
		http.Error(w, "Key is missing", http.StatusBadRequest)
		return
	}

	version, hasVersion, err := parseVersion(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// For write operations, we must check for leadership first.
	// Reads can be served by any node (eventual consistency).
	if r.Method == http.MethodPost || r.Method == http.MethodDelete {
		if s.raft.State() != raft.Leader {
			leaderAddr := string(s.raft.Leader())
			http.Error(w, "Writes must be sent to the leader at: "+leaderAddr, http.StatusForbidden)
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r, key, version, hasVersion)
	case http.MethodPost:
		s.handleSet(w, r, key)
	case http.MethodDelete:
		s.handleDelete(w, r, key, version, hasVersion)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleGet serves read requests from the local store, so followers might
// return slightly stale data.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, key string, version int, hasVersion bool) {
	defer metrics.MeasureSince([]string{"http", "get"}, time.Now())

	var (
		value string
		err   error
	)
	if hasVersion {
		value, err = s.store.Get(key, version)
	} else {
		value, err = s.store.Latest(key)
	}
	if err != nil {
		s.fail(w, r, "get", err)
		return
	}
	metrics.IncrCounter([]string{"http", "get"}, 1)
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(value + "\n"))
}

// handleSet appends a value by submitting a SET command to the Raft log.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request, key string) {
	defer metrics.MeasureSince([]string{"http", "set"}, time.Now())

	var req v1.SetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.apply(internal_raft.Command{Op: internal_raft.OpSet, Key: key, Value: req.Value})
	if err != nil {
		s.fail(w, r, "set", err)
		return
	}

	metrics.IncrCounter([]string{"http", "set"}, 1)
	s.requestLogger(r).Info("applied write", "key", key, "version", res.Version)
	s.writeJSON(w, r, http.StatusCreated, v1.SetResponse{Key: key, Version: res.Version})
}

// handleDelete removes a whole key, or a single version when one is given.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, key string, version int, hasVersion bool) {
	defer metrics.MeasureSince([]string{"http", "delete"}, time.Now())

	cmd := internal_raft.Command{Op: internal_raft.OpDelete, Key: key}
	if hasVersion {
		cmd.Op = internal_raft.OpDeleteVersion
		cmd.Version = version
	}
	if _, err := s.apply(cmd); err != nil {
		s.fail(w, r, "delete", err)
		return
	}

	metrics.IncrCounter([]string{"http", "delete"}, 1)
	s.requestLogger(r).Info("applied delete", "key", key, "op", cmd.Op, "version", cmd.Version)
	w.WriteHeader(http.StatusOK)
}

// handleHistory returns every version of a key, oldest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/history/")
	if key == "" {
		http.Error(w, "Key is missing", http.StatusBadRequest)
		return
	}

	versions, err := s.store.History(key)
	if err != nil {
		s.fail(w, r, "history", err)
		return
	}
	metrics.IncrCounter([]string{"http", "history"}, 1)
	s.writeJSON(w, r, http.StatusOK, v1.HistoryResponse{Key: key, Versions: versions})
}

// handleKeys lists live keys in ascending order, optionally by prefix.
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	keys := s.store.Scan(r.URL.Query().Get("prefix"), limit)
	metrics.IncrCounter([]string{"http", "keys"}, 1)
	s.writeJSON(w, r, http.StatusOK, v1.KeysResponse{Keys: keys})
}

// handleJoin adds a new node to the Raft cluster.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.raft.State() != raft.Leader {
		http.Error(w, "Can only join a cluster via the leader node", http.StatusForbidden)
		return
	}

	var joinReq v1.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&joinReq); err != nil {
		http.Error(w, "Invalid join request body", http.StatusBadRequest)
		return
	}
	if joinReq.NodeID == "" || joinReq.Addr == "" {
		http.Error(w, "Missing node_id or addr in join request", http.StatusBadRequest)
		return
	}

	logger := s.requestLogger(r).With("node_id", joinReq.NodeID, "addr", joinReq.Addr)
	logger.Info("received join request")

	future := s.raft.AddVoter(raft.ServerID(joinReq.NodeID), raft.ServerAddress(joinReq.Addr), 0, 0)
	if err := future.Error(); err != nil {
		logger.Error("failed to add voter", "error", err)
		http.Error(w, "Failed to add node to cluster: "+err.Error(), http.StatusInternalServerError)
		return
	}

	logger.Info("added node to the cluster")
	w.WriteHeader(http.StatusOK)
}

// handleMetrics dumps the in-memory metrics sink as JSON.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		http.Error(w, "Metrics are disabled", http.StatusNotFound)
		return
	}
	summary, err := s.sink.DisplayMetrics(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, r, http.StatusOK, summary)
}

// apply submits cmd to the Raft log and waits until it is committed by a
// majority of the cluster and applied to the FSM.
func (s *Server) apply(cmd internal_raft.Command) (*internal_raft.ApplyResult, error) {
	cmdBytes, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	future := s.raft.Apply(cmdBytes, s.applyTimeout)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("apply command: %w", err)
	}
	res, ok := future.Response().(*internal_raft.ApplyResult)
	if !ok {
		return nil, fmt.Errorf("apply command: unexpected response %T", future.Response())
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res, nil
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	metrics.IncrCounter([]string{"http", op, "error"}, 1)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidVersion):
		status = http.StatusBadRequest
	default:
		s.requestLogger(r).Error("request failed", "op", op, "error", err)
	}
	http.Error(w, err.Error(), status)
}

// parseVersion reads the optional version query parameter.
// Range checks are left to the store.
func parseVersion(r *http.Request) (int, bool, error) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return 0, false, nil
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid version %q", raw)
	}
	return version, true, nil
}

// writeJSON encodes v as the response body. The status is already sent when
// encoding fails, so the failure can only be logged.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		metrics.IncrCounter([]string{"http", "encode", "error"}, 1)
		s.requestLogger(r).Error("failed to encode response", "error", err)
	}
}
