// Package config loads a YAML replication configuration: push/pull
// mode, document filters, heartbeat, and the ambient knobs (data
// directory, logging, metrics) also exposed as CLI flags.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mode is one of the three replication modes a direction can run in.
type Mode string

const (
	ModeNone       Mode = "none"
	ModeOneShot    Mode = "oneShot"
	ModeContinuous Mode = "continuous"
)

// defaultHeartbeatSeconds is applied to a continuous remote that doesn't
// set heartbeat explicitly, so a continuous channel always exercises a
// keep-alive rather than requiring every config file to opt in.
const defaultHeartbeatSeconds = 30

func (m Mode) valid() bool {
	switch m {
	case ModeNone, ModeOneShot, ModeContinuous:
		return true
	default:
		return false
	}
}

// Remote describes one replication channel against a single peer.
type Remote struct {
	ID               string            `yaml:"id"`
	URL              string            `yaml:"url"`
	Push             Mode              `yaml:"push"`
	Pull             Mode              `yaml:"pull"`
	DocIDs           []string          `yaml:"docIDs,omitempty"`
	Filter           string            `yaml:"filter,omitempty"`
	FilterParameters map[string]string `yaml:"filterParameters,omitempty"`
	HeartbeatSeconds int               `yaml:"heartbeat,omitempty"`
	BatchSize        int               `yaml:"batchSize,omitempty"`
	SendWindow       int               `yaml:"sendWindow,omitempty"`
}

// Config is the top-level document a replicore process loads.
type Config struct {
	DataDir     string   `yaml:"dataDir"`
	LogLevel    string   `yaml:"logLevel"`
	LogJSON     bool     `yaml:"logJSON"`
	MetricsAddr string   `yaml:"metricsAddr"`
	Remotes     []Remote `yaml:"remotes"`
}

// defaults hardcodes sane fallbacks in one place rather than scattering
// zero-value checks through the rest of the program.
func defaults() Config {
	return Config{
		DataDir:     "./data",
		LogLevel:    "info",
		LogJSON:     false,
		MetricsAddr: "127.0.0.1:9090",
	}
}

// Load reads and validates a YAML config file, applying defaults for any
// field the file omits.
func Load(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("dataDir must not be empty")
	}
	seen := make(map[string]bool, len(c.Remotes))
	for i := range c.Remotes {
		r := &c.Remotes[i]
		if r.ID == "" {
			return fmt.Errorf("remote: id must not be empty")
		}
		if seen[r.ID] {
			return fmt.Errorf("remote %q: duplicate id", r.ID)
		}
		seen[r.ID] = true
		if r.URL == "" {
			return fmt.Errorf("remote %q: url must not be empty", r.ID)
		}
		if r.Push == "" {
			r.Push = ModeNone
		}
		if r.Pull == "" {
			r.Pull = ModeNone
		}
		if !r.Push.valid() {
			return fmt.Errorf("remote %q: invalid push mode %q", r.ID, r.Push)
		}
		if !r.Pull.valid() {
			return fmt.Errorf("remote %q: invalid pull mode %q", r.ID, r.Pull)
		}
		if r.Push == ModeNone && r.Pull == ModeNone {
			return fmt.Errorf("remote %q: push and pull cannot both be none", r.ID)
		}
		continuous := r.Push == ModeContinuous || r.Pull == ModeContinuous
		if continuous && r.HeartbeatSeconds == 0 {
			r.HeartbeatSeconds = defaultHeartbeatSeconds
		}
	}
	return nil
}

// DocIDSet converts a remote's DocIDs list into the set shape the
// replicator and its sub-actors expect.
func (r Remote) DocIDSet() map[string]bool {
	if len(r.DocIDs) == 0 {
		return nil
	}
	set := make(map[string]bool, len(r.DocIDs))
	for _, id := range r.DocIDs {
		set[id] = true
	}
	return set
}
