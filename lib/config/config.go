// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Warden components.
//
// Configuration is loaded from a single YAML file specified by:
//   - the WARDEN_CONFIG environment variable, or
//   - the --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This keeps
// configuration deterministic and auditable with no hidden overrides.
//
// The loaded configuration is the frozen contract: Load returns a
// value, callers keep value copies, and there is no mutation API.
// Timing bounds, the cursor tolerance, and the authority attribution
// window are fixed for the life of the process — a runtime that could
// quietly widen its own tolerances would be unverifiable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment type.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for Warden.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Authority configures arbitration timing.
	Authority AuthorityConfig `yaml:"authority"`

	// Perception configures freshness limits.
	Perception PerceptionConfig `yaml:"perception"`

	// Restore configures the restoration engine.
	Restore RestoreConfig `yaml:"restore"`

	// Verify configures post-restoration verification.
	Verify VerifyConfig `yaml:"verify"`

	// Snapshot configures the snapshot archive store.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Per-environment overrides, applied after the base config.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the fields that can be overridden per environment.
type Overrides struct {
	Paths      *PathsConfig      `yaml:"paths,omitempty"`
	Authority  *AuthorityConfig  `yaml:"authority,omitempty"`
	Perception *PerceptionConfig `yaml:"perception,omitempty"`
	Restore    *RestoreConfig    `yaml:"restore,omitempty"`
	Verify     *VerifyConfig     `yaml:"verify,omitempty"`
	Snapshot   *SnapshotConfig   `yaml:"snapshot,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// State is where runtime state lives: the session marker, the
	// snapshot archives, the audit journal database, and failure
	// artifacts.
	State string `yaml:"state"`

	// Socket is the Unix socket path for the daemon's control
	// surface (CLI and watchdog).
	Socket string `yaml:"socket"`

	// AdapterSocket is the Unix socket of the display adapter, the
	// external process owning all OS-level workspace access.
	AdapterSocket string `yaml:"adapter_socket"`

	// SOCSocket is the Unix socket of the execution service that
	// drives admitted sessions.
	SOCSocket string `yaml:"soc_socket"`

	// PolicyFile is the JSONC action-policy rules file. Empty
	// selects the built-in default rules.
	PolicyFile string `yaml:"policy_file"`
}

// AuthorityConfig configures arbitration timing.
type AuthorityConfig struct {
	// PollInterval bounds human-input detection latency.
	// Default: 50ms.
	PollInterval time.Duration `yaml:"poll_interval"`

	// AttributionWindow is how long after an automated action a raw
	// input event is still attributed to the execution system.
	// Default: 200ms.
	AttributionWindow time.Duration `yaml:"attribution_window"`
}

// PerceptionConfig configures freshness limits.
type PerceptionConfig struct {
	// StaleLimit is how old a perception frame may be before it
	// counts as unstable. Default: 5s.
	StaleLimit time.Duration `yaml:"stale_limit"`

	// UnstableLimit is how many consecutive unstable readings mark
	// perception as degraded. Default: 3.
	UnstableLimit int `yaml:"unstable_limit"`
}

// RestoreConfig configures the restoration engine.
type RestoreConfig struct {
	// StepTimeout bounds each OS-level query or write during
	// restoration. A step that exceeds it reports unverifiable,
	// never silent success. Default: 2s.
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// VerifyConfig configures post-restoration verification.
type VerifyConfig struct {
	// CursorTolerancePx is the allowed per-axis pixel deviation
	// when comparing the final cursor position against the
	// snapshot. Default: 2.
	CursorTolerancePx int `yaml:"cursor_tolerance_px"`

	// SettleDelay is how long to wait after restoration before
	// reading back state for verification, letting the display
	// server apply pending changes. Default: 50ms.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// SnapshotConfig configures the snapshot archive store.
type SnapshotConfig struct {
	// Compression selects the archive compression: "none", "zstd",
	// or "lz4". Default: "zstd" — snapshot archives are small
	// CBOR documents that compress well.
	Compression string `yaml:"compression"`
}

// Default returns the default configuration. Defaults exist so every
// field has a sensible value before the file is merged in; the config
// file remains the source of truth.
func Default() Config {
	homeDir, _ := os.UserHomeDir()
	defaultState := filepath.Join(homeDir, ".local", "state", "warden")

	return Config{
		Environment: Development,
		Paths: PathsConfig{
			State:         defaultState,
			Socket:        "/run/warden/control.sock",
			AdapterSocket: "/run/warden/adapter.sock",
			SOCSocket:     "/run/warden/soc.sock",
		},
		Authority: AuthorityConfig{
			PollInterval:      50 * time.Millisecond,
			AttributionWindow: 200 * time.Millisecond,
		},
		Perception: PerceptionConfig{
			StaleLimit:    5 * time.Second,
			UnstableLimit: 3,
		},
		Restore: RestoreConfig{
			StepTimeout: 2 * time.Second,
		},
		Verify: VerifyConfig{
			CursorTolerancePx: 2,
			SettleDelay:       50 * time.Millisecond,
		},
		Snapshot: SnapshotConfig{
			Compression: "zstd",
		},
	}
}

// Load loads configuration from the WARDEN_CONFIG environment
// variable. There is no fallback: if WARDEN_CONFIG is not set, this
// fails.
func Load() (Config, error) {
	configPath := os.Getenv("WARDEN_CONFIG")
	if configPath == "" {
		return Config{}, fmt.Errorf("WARDEN_CONFIG environment variable not set; " +
			"set it to the path of your warden.yaml config file, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Environment
// variables never override file values.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides merges the section matching
// cfg.Environment over the base values.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}
	if overrides.Paths != nil {
		c.Paths = *overrides.Paths
	}
	if overrides.Authority != nil {
		c.Authority = *overrides.Authority
	}
	if overrides.Perception != nil {
		c.Perception = *overrides.Perception
	}
	if overrides.Restore != nil {
		c.Restore = *overrides.Restore
	}
	if overrides.Verify != nil {
		c.Verify = *overrides.Verify
	}
	if overrides.Snapshot != nil {
		c.Snapshot = *overrides.Snapshot
	}
}

// Validate rejects configurations that would void the core's latency
// and verification guarantees.
func (c *Config) Validate() error {
	if c.Paths.State == "" {
		return fmt.Errorf("paths.state is required")
	}
	if c.Authority.PollInterval <= 0 {
		return fmt.Errorf("authority.poll_interval must be positive")
	}
	if c.Authority.AttributionWindow <= 0 {
		return fmt.Errorf("authority.attribution_window must be positive")
	}
	if c.Restore.StepTimeout <= 0 {
		return fmt.Errorf("restore.step_timeout must be positive")
	}
	if c.Verify.CursorTolerancePx < 0 {
		return fmt.Errorf("verify.cursor_tolerance_px must be non-negative")
	}
	switch c.Snapshot.Compression {
	case "none", "zstd", "lz4":
	default:
		return fmt.Errorf("snapshot.compression must be none, zstd, or lz4, got %q", c.Snapshot.Compression)
	}
	return nil
}
