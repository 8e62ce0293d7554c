// Package model defines workflowo's runner configuration and error taxonomy.
package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigEnvVar overrides the default configuration file location.
const ConfigEnvVar = "WORKFLOWO_CONFIG"

type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Shell   ShellConfig   `yaml:"shell"`
	SSH     SSHConfig     `yaml:"ssh"`
	Audit   AuditConfig   `yaml:"audit"`
	Watcher WatcherConfig `yaml:"watcher"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ShellConfig struct {
	Bash string `yaml:"bash"` // bash interpreter binary
	Cmd  string `yaml:"cmd"`  // cmd interpreter binary
}

type SSHConfig struct {
	Port              int    `yaml:"port"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
	KnownHosts        string `yaml:"known_hosts"` // empty disables host key verification
}

// ConnectTimeout returns the dial timeout for remote sessions.
func (c SSHConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

type AuditConfig struct {
	Path         string `yaml:"path"` // empty disables the audit log
	MaxSizeBytes int64  `yaml:"max_size_bytes"`
	Checksum     bool   `yaml:"checksum"` // add a checksum to every entry
}

type WatcherConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
}

// Debounce returns the quiet period the watcher waits for before re-running.
func (c WatcherConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// DefaultConfig returns the settings used for every field a config file
// leaves unset.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "warn"},
		Shell:   ShellConfig{Bash: "bash", Cmd: "cmd"},
		SSH:     SSHConfig{Port: 22, ConnectTimeoutSec: 15},
		Audit:   AuditConfig{MaxSizeBytes: 10 * 1024 * 1024},
		Watcher: WatcherConfig{DebounceMs: 300},
	}
}

// DefaultConfigPath returns $WORKFLOWO_CONFIG, or the per-user config file.
func DefaultConfigPath() string {
	if p := os.Getenv(ConfigEnvVar); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "workflowo", "config.yaml")
}

// LoadConfig reads the config file at path and fills unset fields from
// DefaultConfig. A missing file at the default location is not an error.
func LoadConfig(path string, required bool) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := mergo.Merge(&cfg, DefaultConfig()); err != nil {
		return Config{}, fmt.Errorf("merge config defaults: %w", err)
	}
	return cfg, nil
}
