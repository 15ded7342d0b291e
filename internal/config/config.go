// Package config handles loading and parsing the application's configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// nodeIDFile holds a generated node ID under DataDir.
const nodeIDFile = "node-id"

// Config holds all configuration for the application.
// We use struct tags to explicitly map TOML keys to struct fields.
type Config struct {
	NodeID       string            `toml:"node_id"` // Unique ID for the node in the cluster
	Host         string            `toml:"host"`
	Port         int               `toml:"port"`
	RaftPort     int               `toml:"raft_port"` // Port for Raft's internal communication
	DataDir      string            `toml:"data_dir"`  // Directory to store Raft's data
	Peers        []string          `toml:"peers"`     // List of other node IDs in the cluster
	LogLevel     string            `toml:"log_level"`
	ApplyTimeout string            `toml:"apply_timeout"` // How long a write waits for Raft commit
	Seed         map[string]string `toml:"seed"`          // Initial key/value pairs, one version each
}

// New returns a new Config with default values.
func New() *Config {
	return &Config{
		NodeID:       "",
		Host:         "localhost",
		Port:         8080,
		RaftPort:     9080,
		DataDir:      ".",
		Peers:        []string{},
		LogLevel:     "info",
		ApplyTimeout: "5s",
		Seed:         map[string]string{},
	}
}

// Load reads a configuration file from the given path and populates the Config struct.
func (c *Config) Load(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// EnsureNodeID fills an empty NodeID from DataDir, where a previously
// generated ID is kept. When none is stored and generate is set, a new UUID
// is written there so later starts reuse it.
func (c *Config) EnsureNodeID(generate bool) error {
	if c.NodeID != "" {
		return nil
	}
	path := filepath.Join(c.DataDir, nodeIDFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		c.NodeID = strings.TrimSpace(string(data))
		if c.NodeID == "" {
			return fmt.Errorf("node ID file %s is empty", path)
		}
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read node ID: %w", err)
	case !generate:
		return nil
	}

	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return fmt.Errorf("write node ID: %w", err)
	}
	c.NodeID = id
	return nil
}

// Validate reports the first problem that would prevent the node from starting.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("node_id must be set")
	}
	if err := checkPort("port", c.Port); err != nil {
		return err
	}
	if err := checkPort("raft_port", c.RaftPort); err != nil {
		return err
	}
	if c.Port == c.RaftPort {
		return fmt.Errorf("port and raft_port must differ, both are %d", c.Port)
	}
	if _, err := c.ApplyTimeoutDuration(); err != nil {
		return err
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// ApplyTimeoutDuration parses ApplyTimeout.
func (c *Config) ApplyTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.ApplyTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid apply_timeout %q: %w", c.ApplyTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("apply_timeout must be positive, got %s", d)
	}
	return d, nil
}

func checkPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s %d is out of range", name, port)
	}
	return nil
}
