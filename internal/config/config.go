// Copyright 2026 The Odd Jobs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the daemon's configuration: state directory, socket
// path, WAL group-commit tuning, snapshot cadence, agent timers, and
// reconciliation staleness window. Values come from a YAML file with
// environment-variable overrides, mirroring the teacher's config layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	oderrors "github.com/oddjobs/oddjobs/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the daemon's complete runtime configuration.
type Config struct {
	Log LogConfig `yaml:"log"`

	// StateDir holds the WAL, snapshots, and the sqlite index.
	StateDir string `yaml:"state_dir,omitempty"`

	// SocketPath names a unix socket path. It is validated and can be
	// overridden, but the daemon opens no listener on it.
	SocketPath string `yaml:"socket_path,omitempty"`

	// RunbookDir is watched for compiled runbook JSON files; each one
	// that appears or changes is hot-loaded into the runbook cache and
	// durably recorded as a RunbookLoaded event.
	RunbookDir string `yaml:"runbook_dir,omitempty"`

	WAL       WALConfig       `yaml:"wal"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Timers    TimersConfig    `yaml:"timers"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Runtimes  RuntimesConfig  `yaml:"runtimes"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// TracingConfig controls the in-process span provider the executor uses
// to tag each effect dispatch with a trace/span id.
type TracingConfig struct {
	// SampleRatio is the fraction of root spans recorded, in [0,1].
	// Defaults to 1 (record everything) — a single-host daemon doesn't
	// have the span volume that ratio sampling exists to control.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LogConfig configures the daemon's structured logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// WALConfig tunes the append-only event log's group-commit behavior.
type WALConfig struct {
	// FlushInterval is the maximum time an appended record waits before an
	// fsync, when FlushBatchSize hasn't already been reached.
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`

	// FlushBatchSize sets the size threshold for an immediate flush: the
	// WAL flushes once the bytes buffered since the last flush reach
	// FlushBatchSize*128.
	FlushBatchSize int `yaml:"flush_batch_size,omitempty"`

	// KeepRotations is validated but not passed to the WAL; rotateCorrupt()
	// always retains 3 `.bak` generations.
	KeepRotations int `yaml:"keep_rotations,omitempty"`
}

// SnapshotConfig tunes periodic MaterializedState snapshotting.
type SnapshotConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"`
}

// TimersConfig holds timer durations. They are loaded and validated here,
// but the engine does not read them: it uses its own fixed constants
// (livenessInterval, exitDeferredGrace, defaultIdleCooldown).
type TimersConfig struct {
	LivenessInterval time.Duration `yaml:"liveness_interval,omitempty"`
	ExitDeferred     time.Duration `yaml:"exit_deferred,omitempty"`
	IdleCooldown     time.Duration `yaml:"idle_cooldown,omitempty"`
}

// ReconcileConfig tunes startup reconciliation.
type ReconcileConfig struct {
	// BreadcrumbStaleAfter is carried in configuration only: reconciliation
	// does not read it, and no staleness check runs against breadcrumbs.
	BreadcrumbStaleAfter time.Duration `yaml:"breadcrumb_stale_after,omitempty"`
}

// RuntimesConfig holds per-runtime agent defaults.
type RuntimesConfig struct {
	Local  LocalRuntimeConfig  `yaml:"local"`
	Docker DockerRuntimeConfig `yaml:"docker"`
}

// LocalRuntimeConfig configures the local subprocess adapter.
type LocalRuntimeConfig struct {
	// Shell is the shell used to run shell-kind steps.
	Shell string `yaml:"shell,omitempty"`
}

// DockerRuntimeConfig configures the Docker-routed agent transport.
type DockerRuntimeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Image   string `yaml:"image,omitempty"`
	Network string `yaml:"network,omitempty"`
}

// Default returns a Config with sensible defaults; every field a caller
// doesn't override in YAML or the environment keeps these values.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		StateDir:   defaultStateDir(),
		SocketPath: defaultSocketPath(),
		RunbookDir: defaultRunbookDir(),
		WAL: WALConfig{
			FlushInterval:  100 * time.Millisecond,
			FlushBatchSize: 64,
			KeepRotations:  3,
		},
		Snapshot: SnapshotConfig{Interval: 5 * time.Minute},
		Timers: TimersConfig{
			LivenessInterval: 20 * time.Second,
			ExitDeferred:     5 * time.Second,
			IdleCooldown:     30 * time.Second,
		},
		Reconcile: ReconcileConfig{BreadcrumbStaleAfter: 7 * 24 * time.Hour},
		Runtimes: RuntimesConfig{
			Local: LocalRuntimeConfig{Shell: "/bin/sh"},
		},
		Tracing: TracingConfig{SampleRatio: 1},
	}
}

// Load reads configPath (if non-empty and it exists) over the defaults, then
// applies environment overrides, then validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &oderrors.ConfigError{Key: "config_file", Reason: fmt.Sprintf("failed to load %s", configPath), Cause: err}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &oderrors.ConfigError{Key: "validation", Reason: "configuration validation failed", Cause: err}
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}
	return nil
}

// loadFromEnv overrides fields from ODDJOBS_* environment variables.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("ODDJOBS_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("ODDJOBS_LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("ODDJOBS_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("ODDJOBS_SOCKET"); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv("ODDJOBS_RUNBOOK_DIR"); v != "" {
		c.RunbookDir = v
	}
	if v := os.Getenv("ODDJOBS_TRACING_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tracing.SampleRatio = f
		}
	}
	if v := os.Getenv("ODDJOBS_WAL_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.WAL.FlushInterval = d
		}
	}
	if v := os.Getenv("ODDJOBS_WAL_FLUSH_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WAL.FlushBatchSize = n
		}
	}
	if v := os.Getenv("ODDJOBS_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Snapshot.Interval = d
		}
	}
}

// Validate checks the configuration for obviously broken values.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}
	if c.StateDir == "" {
		errs = append(errs, "state_dir must not be empty")
	}
	if c.SocketPath == "" {
		errs = append(errs, "socket_path must not be empty")
	}
	if c.RunbookDir == "" {
		errs = append(errs, "runbook_dir must not be empty")
	}
	if c.Tracing.SampleRatio < 0 {
		errs = append(errs, "tracing.sample_ratio must not be negative")
	}
	if c.WAL.FlushBatchSize <= 0 {
		errs = append(errs, "wal.flush_batch_size must be positive")
	}
	if c.WAL.KeepRotations <= 0 {
		errs = append(errs, "wal.keep_rotations must be positive")
	}
	if c.Snapshot.Interval <= 0 {
		errs = append(errs, "snapshot.interval must be positive")
	}
	if c.Timers.LivenessInterval <= 0 {
		errs = append(errs, "timers.liveness_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// WALPath returns StateDir/wal.log. The write-ahead log itself is not kept
// there: wal.Open names its file events.wal inside the directory it is
// given, and cmd/oddjobsd passes StateDir.
func (c *Config) WALPath() string { return filepath.Join(c.StateDir, "wal.log") }

// SnapshotPath returns the compressed snapshot's path under StateDir.
func (c *Config) SnapshotPath() string { return filepath.Join(c.StateDir, "snapshot.json.gz") }

// SQLiteIndexPath returns the queryable mirror database's path under StateDir.
func (c *Config) SQLiteIndexPath() string { return filepath.Join(c.StateDir, "index.db") }

// PIDPath returns the daemon's process-lock file path under StateDir.
func (c *Config) PIDPath() string { return filepath.Join(c.StateDir, "oddjobsd.pid") }

func defaultStateDir() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "oddjobs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/oddjobs"
	}
	return filepath.Join(home, ".oddjobs")
}

func defaultRunbookDir() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "oddjobs", "runbooks")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/oddjobs/runbooks"
	}
	return filepath.Join(home, ".oddjobs", "runbooks")
}

func defaultSocketPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "oddjobs", "oddjobs.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/oddjobs.sock"
	}
	return filepath.Join(home, ".oddjobs", "oddjobs.sock")
}
