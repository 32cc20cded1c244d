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

// database.go - PostgreSQL connection settings
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Supported database/sql driver names.
const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

// PostgresConfig holds PostgreSQL connection parameters
type PostgresConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

// LoadPostgresConfig loads PostgreSQL configuration from environment variables
func LoadPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Driver:          getEnv("DB_DRIVER", DriverPQ),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5434),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", "postgres"),
		Database:        getEnv("DB_NAME", "service_public_db"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		PingTimeout:     getEnvAsDuration("DB_PING_TIMEOUT", 5*time.Second),
	}
}

// Validate checks the driver name and required fields.
func (c PostgresConfig) Validate() error {
	if c.Driver != DriverPQ && c.Driver != DriverPGX {
		return fmt.Errorf("unsupported database driver %q (want %s or %s)", c.Driver, DriverPQ, DriverPGX)
	}
	if c.Host == "" || c.Database == "" || c.User == "" {
		return errors.New("database host, name and user are required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("invalid database port %d", c.Port)
	}
	return nil
}

// ConnectionString returns a formatted PostgreSQL connection string
func (c PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}

// Redacted returns the connection string with the password masked, for logs.
func (c PostgresConfig) Redacted() string {
	masked := c
	if masked.Password != "" {
		masked.Password = "****"
	}
	return masked.ConnectionString()
}

// ApplyConnectionSettings configures the pool of db.
func (c PostgresConfig) ApplyConnectionSettings(db *sql.DB) {
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
}
