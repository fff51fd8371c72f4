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

// Package log provides the daemon's structured logger: an env-driven
// bootstrap over log/slog with a fixed set of field-key constants so every
// component logs job/agent/owner context under the same names.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// LevelTrace is more verbose than Debug. None of the daemon's own
// packages log at it.
const LevelTrace = slog.Level(-8)

// Standard field keys, used consistently across the engine, executor,
// agent adapter, and reconciler.
const (
	JobIDKey       = "job_id"
	CrewIDKey      = "crew_id"
	OwnerIDKey     = "owner_id"
	AgentIDKey     = "agent_id"
	WorkspaceIDKey = "workspace_id"
	StepKey        = "step"
	WorkerKey      = "worker"
	CronKey        = "cron"
	QueueKey       = "queue"
	DurationKey    = "duration_ms"
	EventKey       = "event"
	SeqKey         = "seq"
)

// Config holds the logging configuration.
type Config struct {
	Level     string
	Format    Format
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:     "info",
		Format:    FormatJSON,
		Output:    os.Stderr,
		AddSource: false,
	}
}

// FromEnv builds a Config from environment variables:
//   - ODDJOBS_DEBUG: true/1 enables debug level and source logging
//   - ODDJOBS_LOG_LEVEL: debug, info, warn, error (takes precedence over LOG_LEVEL)
//   - LOG_LEVEL, LOG_FORMAT, LOG_SOURCE: generic fallbacks
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("ODDJOBS_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	}

	if debug == "" {
		if level := os.Getenv("ODDJOBS_LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		} else if level := os.Getenv("LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		}
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	if os.Getenv("LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}

	return cfg
}

// New creates a structured logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(cfg.Output, opts)
	case FormatJSON:
		fallthrough
	default:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithJob returns a logger scoped to a job.
func WithJob(logger *slog.Logger, jobID string) *slog.Logger {
	return logger.With(slog.String(JobIDKey, jobID))
}

// WithOwner returns a logger scoped to an owner (job or crew).
func WithOwner(logger *slog.Logger, ownerID string) *slog.Logger {
	return logger.With(slog.String(OwnerIDKey, ownerID))
}

// WithAgent returns a logger scoped to an agent session.
func WithAgent(logger *slog.Logger, agentID string) *slog.Logger {
	return logger.With(slog.String(AgentIDKey, agentID))
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, ms int64) slog.Attr {
	return slog.Int64(key+"_ms", ms)
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// Trace logs at LevelTrace.
func Trace(logger *slog.Logger, msg string, attrs ...slog.Attr) {
	if !logger.Enabled(nil, LevelTrace) {
		return
	}
	logger.LogAttrs(nil, LevelTrace, msg, attrs...)
}
