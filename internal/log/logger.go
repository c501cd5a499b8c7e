// Copyright 2025 Tom Barlow
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

// Package log configures structured logging for the fetch core and its
// tools. The library itself logs through log/slog's default logger;
// binaries call Setup early to install level, format and output.
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
	// FormatJSON outputs logs in JSON format for machine parsing.
	FormatJSON Format = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
)

// Custom log levels extending slog's standard levels.
const (
	// LevelTrace is more verbose than Debug, used for wire-level
	// tracing (request/response headers and payload dumps).
	LevelTrace = slog.Level(-8)
)

// Standard field keys for structured logging. These constants keep
// field naming consistent across the codebase.
const (
	// HandleKey is the field key for operation handles.
	HandleKey = "handle"
	// PolicyClassKey is the field key for policy class ids.
	PolicyClassKey = "policy_class"
	// StatusKey is the field key for terse status codes.
	StatusKey = "status"
	// DurationKey is the field key for duration in milliseconds.
	DurationKey = "duration_ms"
	// EventKey is the field key for event types.
	EventKey = "event"
)

// Config holds the logging configuration.
type Config struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Default: info
	Level string

	// Format sets the output format (json, text).
	// Default: json
	Format Format

	// Output is the writer for log output.
	// Default: os.Stderr
	Output io.Writer

	// AddSource adds source file and line information to logs.
	// Default: false
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

// FromEnv creates a Config from environment variables.
// Supported environment variables:
//   - FETCHCORE_DEBUG: true/1 to enable debug level and source logging
//   - FETCHCORE_LOG_LEVEL: trace, debug, info, warn, error (takes
//     precedence over LOG_LEVEL)
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, text (default: json)
//   - LOG_SOURCE: 1 to enable source file/line (default: 0)
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("FETCHCORE_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	}

	if debug == "" {
		if level := os.Getenv("FETCHCORE_LOG_LEVEL"); level != "" {
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

// New creates a new structured logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(output, opts)
	case FormatJSON:
		fallthrough
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}

// Setup builds a logger from cfg and installs it as the process
// default, so library packages logging through slog pick it up.
func Setup(cfg *Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

// parseLevel converts a string level to slog.Level.
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

// WithComponent returns a new logger with a component name field.
// Component names identify which part of the system produced the log.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}
