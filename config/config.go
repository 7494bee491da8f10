// Package config handles configuration persistence for a goenip-based host:
// the controller address, session/batch/subscription tuning, and a
// declarative list of tags to subscribe to at startup.
//
// Trimmed from the donor driver's multi-protocol, multi-sink Config (PLCs of
// five families, MQTT/Kafka/Valkey fan-out, a REST/TUI front end) down to
// the slice an EtherNet/IP-only engine host actually needs; the persistence
// style — YAML via gopkg.in/yaml.v3, a data mutex, atomic-ish save-to-file —
// is carried over unchanged.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// BatchConfig mirrors goenip/batch.Config for YAML persistence; pointer
// fields distinguish "unset" (use the engine default) from an explicit
// false, matching the donor driver's *bool convention for optional
// booleans that default to true.
type BatchConfig struct {
	MaxOpsPerPacket int   `yaml:"max_ops_per_packet,omitempty"`
	MaxPacketBytes  int   `yaml:"max_packet_bytes,omitempty"`
	ContinueOnError *bool `yaml:"continue_on_error,omitempty"`
	OptimizePacking *bool `yaml:"optimize_packing,omitempty"`
}

// SubscriptionConfig declares one tag the host wants subscribed to at
// startup, rather than wired up in code.
type SubscriptionConfig struct {
	Tag          string        `yaml:"tag"`
	Period       time.Duration `yaml:"period"`
	ElementCount uint16        `yaml:"element_count,omitempty"`
}

// Config holds one controller connection's configuration.
type Config struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Port    uint16 `yaml:"port,omitempty"`

	DialTimeout    time.Duration `yaml:"dial_timeout,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	HealthPeriod   time.Duration `yaml:"health_period,omitempty"`
	CoalesceWindow time.Duration `yaml:"coalesce_window,omitempty"`

	Batch         BatchConfig           `yaml:"batch,omitempty"`
	Subscriptions []SubscriptionConfig  `yaml:"subscriptions,omitempty"`

	// dataMu protects the struct against concurrent Lock/Save access; it is
	// not marshaled.
	dataMu sync.Mutex `yaml:"-"`
}

// DefaultConfig returns a Config with the engine's documented defaults
// (port 44818, 5s dial/request timeouts, 30s health period, 5ms coalescing
// window), no address, and no subscriptions.
func DefaultConfig() *Config {
	return &Config{
		Port:           44818,
		DialTimeout:    5 * time.Second,
		RequestTimeout: 5 * time.Second,
		HealthPeriod:   30 * time.Second,
		CoalesceWindow: 5 * time.Millisecond,
	}
}

// DefaultPath returns the default configuration file path
// (~/.goenip/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".goenip", "config.yaml")
}

// Load reads configuration from a YAML file, falling back to
// DefaultConfig's values for any field the file doesn't set. A missing file
// is not an error: Load returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Lock acquires the config's data mutex for exclusive access. Use before
// modifying fields directly, then call UnlockAndSave.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the data mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, and writes to path.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals and writes to path; the caller must already hold
// the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// continueOnErrorOrDefault and optimizePackingOrDefault resolve the
// pointer-typed optional booleans against the engine's own defaults (both
// true), matching the donor driver's *bool "unset means true" convention.
func (b BatchConfig) continueOnErrorOrDefault() bool {
	if b.ContinueOnError == nil {
		return true
	}
	return *b.ContinueOnError
}

func (b BatchConfig) optimizePackingOrDefault() bool {
	if b.OptimizePacking == nil {
		return true
	}
	return *b.OptimizePacking
}
