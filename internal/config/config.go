// Package config loads the daemon's YAML configuration and per-repo gate
// declaration files. Gate files can be hot-reloaded on change via
// WatchGateFile; the daemon configuration is read once. Grounded on the
// pack's fsnotify watch-and-reload loop (gateway/cmd/gateway/main.go's
// watchRoutesFile).
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Daemon is overseerd.yaml's shape.
type Daemon struct {
	DataDir         string       `yaml:"data_dir"`
	BrokerPort      int          `yaml:"broker_port"`
	HTTPAddr        string       `yaml:"http_addr"`
	MetricsAddr     string       `yaml:"metrics_addr"`
	BrokerAuthToken string       `yaml:"broker_auth_token"`
	Repos           []RepoConfig `yaml:"repos"`
}

// RepoConfig registers a working copy with the daemon at startup.
type RepoConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// GateDecl is one entry of a repo or task's gate-declaration file
// (spec §3 Gate fields).
type GateDecl struct {
	Name             string   `yaml:"name"`
	Command          []string `yaml:"command"`
	Scope            string   `yaml:"scope"`
	MaxRetries       int      `yaml:"max_retries"`
	MaxPendingSecs   int      `yaml:"max_pending_secs"`
	PollIntervalSecs int      `yaml:"poll_interval_secs"`
	TimeoutSecs      int      `yaml:"timeout_secs"`
}

// GateFile is a gate-declaration file's top-level shape.
type GateFile struct {
	Gates []GateDecl `yaml:"gates"`
}

func LoadDaemon(path string) (*Daemon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read daemon config %s: %w", path, err)
	}
	var d Daemon
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse daemon config %s: %w", path, err)
	}
	if d.DataDir == "" {
		d.DataDir = "./overseer-data"
	}
	if d.BrokerPort == 0 {
		d.BrokerPort = 4222
	}
	if d.HTTPAddr == "" {
		d.HTTPAddr = ":7465"
	}
	if d.MetricsAddr == "" {
		d.MetricsAddr = ":9090"
	}
	return &d, nil
}

func LoadGates(path string) (*GateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gate file %s: %w", path, err)
	}
	var f GateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse gate file %s: %w", path, err)
	}
	return &f, nil
}

// GateRegistry holds the currently loaded gate declarations, swapped
// atomically on reload so concurrent readers never see a half-applied
// set.
type GateRegistry struct {
	mu    sync.RWMutex
	gates []GateDecl
}

func NewGateRegistry() *GateRegistry {
	return &GateRegistry{}
}

func (r *GateRegistry) Set(gates []GateDecl) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates = gates
}

func (r *GateRegistry) Gates() []GateDecl {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]GateDecl, len(r.gates))
	copy(out, r.gates)
	return out
}
