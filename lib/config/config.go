// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Chat configures the display sink.
	Chat ChatConfig `yaml:"chat"`

	// Backends configures the agent backend families.
	Backends BackendsConfig `yaml:"backends"`

	// Render configures the display update pipeline.
	Render RenderConfig `yaml:"render"`

	// LogLevel is the slog level: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// State is where runtime state is stored: turn logs, channel
	// settings, the authorization registry.
	State string `yaml:"state"`

	// WorkDir is the working directory given to process-based
	// backends. Empty means the daemon's working directory.
	WorkDir string `yaml:"work_dir"`
}

// ChatConfig configures the display sink connection.
type ChatConfig struct {
	// Endpoint is the chat surface's REST base URL.
	Endpoint string `yaml:"endpoint"`

	// Token authenticates display writes.
	Token string `yaml:"token"`

	// MaxBodyLength overrides the surface's per-message size limit.
	// Zero means the sink default.
	MaxBodyLength int `yaml:"max_body_length"`
}

// BackendsConfig configures the agent backend families.
type BackendsConfig struct {
	// Default is the backend tag used by channels with no explicit
	// selection.
	Default string `yaml:"default"`

	// ToolGrace is how long after the last tool progress a missing
	// tool-finished is synthesized. Duration string, e.g. "20s".
	ToolGrace string `yaml:"tool_grace"`

	// PiBinary overrides pi binary discovery.
	PiBinary string `yaml:"pi_binary"`

	// OpencodeEndpoint and KiloEndpoint are the HTTP base URLs of
	// the two opencode-protocol servers.
	OpencodeEndpoint string `yaml:"opencode_endpoint"`
	KiloEndpoint     string `yaml:"kilo_endpoint"`

	// AcpCommand launches the shared ACP agent process, binary plus
	// arguments.
	AcpCommand string `yaml:"acp_command"`
}

// RenderConfig configures the display update pipeline.
type RenderConfig struct {
	// MinInterval is the throttle floor between display edits per
	// channel. Duration string, e.g. "1500ms".
	MinInterval string `yaml:"min_interval"`
}

// Default returns the default configuration. Defaults give every
// field a sensible zero-state; the config file is still the source of
// truth.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Paths: PathsConfig{
			State: filepath.Join(homeDir, ".local", "state", "parley"),
		},
		Backends: BackendsConfig{
			Default:          "pi",
			ToolGrace:        "20s",
			OpencodeEndpoint: "http://127.0.0.1:4096",
		},
		Render: RenderConfig{
			MinInterval: "1500ms",
		},
		LogLevel: "info",
	}
}

// Load loads configuration from the PARLEY_CONFIG environment
// variable. There are no fallbacks: if PARLEY_CONFIG is not set, this
// fails.
func Load() (*Config, error) {
	path := os.Getenv("PARLEY_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("PARLEY_CONFIG environment variable not set; " +
			"set it to the path of your parley.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over
// defaults. Environment variables never override config values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field formats that would otherwise fail deep inside
// the daemon.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Backends.ToolGrace); c.Backends.ToolGrace != "" && err != nil {
		return fmt.Errorf("backends.tool_grace: %w", err)
	}
	if _, err := time.ParseDuration(c.Render.MinInterval); c.Render.MinInterval != "" && err != nil {
		return fmt.Errorf("render.min_interval: %w", err)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	return nil
}

// ToolGrace returns the parsed tool grace timeout.
func (c *Config) ToolGrace() time.Duration {
	return parseDuration(c.Backends.ToolGrace, 20*time.Second)
}

// MinInterval returns the parsed render throttle interval.
func (c *Config) MinInterval() time.Duration {
	return parseDuration(c.Render.MinInterval, 1500*time.Millisecond)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ChannelsPath returns the per-channel settings file path under the
// state directory.
func (c *Config) ChannelsPath() string {
	return filepath.Join(c.Paths.State, "channels.jsonc")
}

// AuthPath returns the authorization registry path under the state
// directory. Pending tokens live next to it.
func (c *Config) AuthPath() string {
	return filepath.Join(c.Paths.State, "auth.json")
}

// CronPath returns the scheduled-prompt store path under the state
// directory.
func (c *Config) CronPath() string {
	return filepath.Join(c.Paths.State, "cron.json")
}
