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

package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aaronlmathis/servicedw/config"

	// database/sql drivers selectable through DB_DRIVER.
	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/lib/pq"
)

// Open connects to PostgreSQL with the configured driver, applies the pool
// settings and checks the connection. Any failure is fatal for a run.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &LoaderError{Op: "connect", Err: err}
	}
	db, err := sql.Open(cfg.Driver, cfg.ConnectionString())
	if err != nil {
		return nil, &LoaderError{Op: "connect", Err: fmt.Errorf("open %s: %w", cfg.Redacted(), err)}
	}
	cfg.ApplyConnectionSettings(db)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &LoaderError{Op: "connect", Err: fmt.Errorf("ping %s: %w", cfg.Redacted(), err)}
	}
	return db, nil
}
