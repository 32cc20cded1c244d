//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of ServiceDW.
//
// ServiceDW is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// ServiceDW is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with ServiceDW. If not, see https://www.gnu.org/licenses/.

// config.go - Environment and manifest driven configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aaronlmathis/servicedw/storage"
)

// ErrInvalidLoadMode is returned when LOAD_MODE is neither full_refresh nor incremental.
var ErrInvalidLoadMode = errors.New("invalid load mode")

// LoadMode selects how the warehouse is refreshed.
type LoadMode string

const (
	// FullRefresh drops and recreates both schemas on every load.
	FullRefresh LoadMode = "full_refresh"
	// Incremental keeps existing tables and territory ids and appends new rows.
	Incremental LoadMode = "incremental"
)

// ParseLoadMode validates a load mode name.
func ParseLoadMode(s string) (LoadMode, error) {
	switch LoadMode(strings.ToLower(strings.TrimSpace(s))) {
	case FullRefresh, "":
		return FullRefresh, nil
	case Incremental:
		return Incremental, nil
	}
	return "", fmt.Errorf("%w: %q (want %s or %s)", ErrInvalidLoadMode, s, FullRefresh, Incremental)
}

// Config represents the application configuration
type Config struct {
	Postgres PostgresConfig

	LoadMode   LoadMode
	RawDir     string // Directory or s3:// prefix holding raw extracts
	CleanDir   string // Local directory receiving cleaned files and audit trails
	ScriptsDir string // Overrides the embedded SQL scripts when set
	Parquet    bool   // Also write cleaned datasets as Parquet

	S3          storage.S3Options
	UploadURI   string // s3://bucket/prefix receiving cleaned outputs
	InputFormat string

	LogLevel       string
	LogDevelopment bool

	HTTPAddr     string
	CacheTTL     time.Duration
	CacheShards  int
	QueryTimeout time.Duration

	Sources []Source
}

// Load reads envFile (optional) and manifestFile (optional) then builds the
// configuration from the environment.
func Load(envFile, manifestFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	mode, err := ParseLoadMode(getEnv("LOAD_MODE", string(FullRefresh)))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Postgres:   LoadPostgresConfig(),
		LoadMode:   mode,
		RawDir:     getEnv("DATA_RAW_DIR", "data_raw"),
		CleanDir:   getEnv("DATA_CLEANED_DIR", "data_cleaned"),
		ScriptsDir: getEnv("SQL_SCRIPTS_DIR", ""),
		Parquet:    getEnvAsBool("CLEAN_PARQUET", false),
		S3: storage.S3Options{
			Region:          getEnv("AWS_REGION", ""),
			Profile:         getEnv("AWS_PROFILE", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			SessionToken:    getEnv("AWS_SESSION_TOKEN", ""),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			ForcePathStyle:  getEnvAsBool("S3_FORCE_PATH_STYLE", false),
		},
		UploadURI:      getEnv("CLEAN_UPLOAD_URI", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogDevelopment: getEnvAsBool("LOG_DEVELOPMENT", false),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		CacheTTL:       getEnvAsDuration("KPI_CACHE_TTL", time.Hour),
		CacheShards:    getEnvAsInt("KPI_CACHE_SHARDS", 16),
		QueryTimeout:   getEnvAsDuration("KPI_QUERY_TIMEOUT", 30*time.Second),
		Sources:        DefaultSources(),
	}

	if manifestFile != "" {
		m, err := LoadManifest(manifestFile)
		if err != nil {
			return nil, err
		}
		cfg.Sources = m.Sources
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if _, err := ParseLoadMode(string(c.LoadMode)); err != nil {
		return err
	}
	if err := c.Postgres.Validate(); err != nil {
		return err
	}
	if c.CleanDir == "" {
		return errors.New("cleaned data directory is required")
	}
	if c.CacheShards <= 0 || c.CacheShards&(c.CacheShards-1) != 0 {
		return fmt.Errorf("cache shards must be a power of 2, got %d", c.CacheShards)
	}
	if c.UploadURI != "" {
		if bucket, _ := c.UploadTarget(); bucket == "" {
			return fmt.Errorf("upload URI %q is not an s3:// URI", c.UploadURI)
		}
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.Entity] {
			return fmt.Errorf("duplicate source entity %q", s.Entity)
		}
		seen[s.Entity] = true
	}
	return nil
}

// RawPath returns the location of a source's raw extract.
func (c *Config) RawPath(s Source) string {
	return storage.Join(c.RawDir, s.RawFile)
}

// CleanedPath returns the local path of a source's cleaned CSV.
func (c *Config) CleanedPath(s Source) string {
	return filepath.Join(c.CleanDir, s.CleanedFile)
}

// UploadTarget splits UploadURI into bucket and key prefix. The prefix may be empty.
func (c *Config) UploadTarget() (bucket, prefix string) {
	rest, ok := strings.CutPrefix(c.UploadURI, "s3://")
	if !ok {
		return "", ""
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(prefix, "/")
}

// Source returns the configured source for entity.
func (c *Config) Source(entity string) (Source, bool) {
	for _, s := range c.Sources {
		if s.Entity == entity {
			return s, true
		}
	}
	return Source{}, false
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
