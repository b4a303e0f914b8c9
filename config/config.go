//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of CallStream.
//
// CallStream is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// CallStream is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with CallStream. If not, see https://www.gnu.org/licenses/.

// Package config loads runtime settings for the logtrident command.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Snapshot formats accepted by CALLSTREAM_SNAPSHOT_FORMAT.
const (
	SnapshotNone     = "none"
	SnapshotJSON     = "json"
	SnapshotCSV      = "csv"
	SnapshotParquet  = "parquet"
	SnapshotSQLite   = "sqlite"
	SnapshotPostgres = "postgres"
)

// Input kinds accepted by CALLSTREAM_INPUT.
const (
	InputRandom  = "random"
	InputCSV     = "csv"
	InputJSON    = "json"
	InputParquet = "parquet"
	InputS3      = "s3"
	InputMongo   = "mongo"
	InputSQLite  = "sqlite"
	InputPG      = "postgres"
)

// Default values
const (
	defaultBatchSize      = 4
	defaultFeedRounds     = 10
	defaultQueryTimeout   = 5 * time.Second
	defaultLogLevel       = "info"
	defaultSnapshotFormat = SnapshotNone
)

// Config holds the application configuration.
type Config struct {
	BatchSize      int
	FeedRounds     int
	QueryTimeout   time.Duration
	LogLevel       slog.Level
	MetricsAddr    string
	SnapshotFormat string
	SnapshotPath   string
	PostgresDSN    string
	Input          Input
}

// Input describes where call records come from.
type Input struct {
	Kind     string
	Location string
	Table    string // call_records table for sqlite and postgres inputs
}

// Load reads configuration from the first existing .env file and the environment.
// Variables already set in the environment take precedence over the file.
func Load(envPaths ...string) (*Config, error) {
	if len(envPaths) == 0 {
		envPaths = defaultEnvPaths()
	}
	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
			break
		}
	}

	level, err := parseLevel(getEnvString("CALLSTREAM_LOG_LEVEL", defaultLogLevel))
	if err != nil {
		return nil, err
	}
	input, err := ParseInput(getEnvString("CALLSTREAM_INPUT", ""))
	if err != nil {
		return nil, err
	}
	input.Table = getEnvString("CALLSTREAM_INPUT_TABLE", "")

	cfg := &Config{
		BatchSize:      getEnvInt("CALLSTREAM_BATCH_SIZE", defaultBatchSize),
		FeedRounds:     getEnvInt("CALLSTREAM_FEED_ROUNDS", defaultFeedRounds),
		QueryTimeout:   getEnvDuration("CALLSTREAM_QUERY_TIMEOUT", defaultQueryTimeout),
		LogLevel:       level,
		MetricsAddr:    getEnvString("CALLSTREAM_METRICS_ADDR", ""),
		SnapshotFormat: strings.ToLower(getEnvString("CALLSTREAM_SNAPSHOT_FORMAT", defaultSnapshotFormat)),
		SnapshotPath:   getEnvString("CALLSTREAM_SNAPSHOT_PATH", ""),
		PostgresDSN:    getEnvString("CALLSTREAM_POSTGRES_DSN", ""),
		Input:          input,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.SnapshotPath != "" && !strings.HasPrefix(cfg.SnapshotPath, "s3://") {
		if err := ensureDir(filepath.Dir(cfg.SnapshotPath)); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks the configuration for values the command cannot run with.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("CALLSTREAM_BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.FeedRounds < 0 {
		return fmt.Errorf("CALLSTREAM_FEED_ROUNDS must not be negative, got %d", c.FeedRounds)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("CALLSTREAM_QUERY_TIMEOUT must be positive, got %s", c.QueryTimeout)
	}

	switch c.SnapshotFormat {
	case SnapshotNone:
	case SnapshotJSON, SnapshotCSV, SnapshotParquet, SnapshotSQLite:
		if c.SnapshotPath == "" {
			return fmt.Errorf("CALLSTREAM_SNAPSHOT_PATH is required for %s snapshots", c.SnapshotFormat)
		}
	case SnapshotPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("CALLSTREAM_POSTGRES_DSN is required for postgres snapshots")
		}
	default:
		return fmt.Errorf("unknown snapshot format %q", c.SnapshotFormat)
	}
	return nil
}

// ParseInput parses "<kind>:<location>". An empty value selects the random feeder.
func ParseInput(value string) (Input, error) {
	if value == "" {
		return Input{Kind: InputRandom}, nil
	}
	kind, location, ok := strings.Cut(value, ":")
	if !ok || location == "" {
		return Input{}, fmt.Errorf("CALLSTREAM_INPUT must look like <kind>:<location>, got %q", value)
	}
	kind = strings.ToLower(kind)
	switch kind {
	case InputCSV, InputJSON, InputParquet, InputS3, InputMongo, InputSQLite, InputPG:
		return Input{Kind: kind, Location: location}, nil
	default:
		return Input{}, fmt.Errorf("unknown input kind %q", kind)
	}
}

// defaultEnvPaths returns a list of paths to check for .env files.
func defaultEnvPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "callstream", ".env"))
	}
	return paths
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return 0, fmt.Errorf("CALLSTREAM_LOG_LEVEL: %w", err)
	}
	return level, nil
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "1m", "500ms".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		// Try parsing as seconds if no unit specified
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}
