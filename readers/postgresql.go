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

package readers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/aaronlmathis/servicedw/core"
)

// PostgresReader streams the rows of one query on a shared *sql.DB as records.
// The pool belongs to the caller and is not closed by Close.

// PostgresReaderError provides structured error information for Postgres reader operations.
type PostgresReaderError struct {
	Op  string
	Err error
}

func (e *PostgresReaderError) Error() string {
	return fmt.Sprintf("postgres reader %s: %v", e.Op, e.Err)
}

func (e *PostgresReaderError) Unwrap() error {
	return e.Err
}

// PostgresReaderStats holds statistics about the Postgres reader's performance.
type PostgresReaderStats struct {
	RecordsRead     int64
	QueryDuration   time.Duration
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
}

// PostgresReaderOptions configures the Postgres reader.
type PostgresReaderOptions struct {
	Query        string
	Params       []interface{}
	QueryTimeout time.Duration
}

// PostgresReaderOption represents a configuration function for PostgresReaderOptions.
type PostgresReaderOption func(*PostgresReaderOptions)

// WithPostgresQuery sets the SQL query and optional parameters.
func WithPostgresQuery(query string, params ...interface{}) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.Query = query
		opts.Params = append([]interface{}(nil), params...)
	}
}

// WithPostgresQueryTimeout bounds the whole read, from query to last row.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.QueryTimeout = timeout
	}
}

// PostgresReader implements core.DataSource for a PostgreSQL query.
type PostgresReader struct {
	mu          sync.Mutex
	rows        *sql.Rows
	cancel      context.CancelFunc
	columnNames []string
	columnTypes []*sql.ColumnType
	values      []interface{}
	scanBuffer  []interface{}
	stats       PostgresReaderStats
	finished    bool
}

// NewPostgresReader runs the configured query on db and prepares to stream its rows.
func NewPostgresReader(ctx context.Context, db *sql.DB, options ...PostgresReaderOption) (*PostgresReader, error) {
	if db == nil {
		return nil, &PostgresReaderError{Op: "validate_options", Err: errors.New("database handle is required")}
	}
	opts := (&PostgresReaderOptions{}).withDefaults()
	for _, option := range options {
		option(opts)
	}
	if opts.Query == "" {
		return nil, &PostgresReaderError{Op: "validate_options", Err: errors.New("query is required")}
	}

	queryCtx, cancel := context.WithTimeout(ctx, opts.QueryTimeout)
	start := time.Now()
	rows, err := db.QueryContext(queryCtx, opts.Query, opts.Params...)
	if err != nil {
		cancel()
		return nil, &PostgresReaderError{Op: "query", Err: err}
	}

	r := &PostgresReader{
		rows:   rows,
		cancel: cancel,
		stats: PostgresReaderStats{
			QueryDuration:   time.Since(start),
			NullValueCounts: make(map[string]int64),
		},
	}
	if r.columnNames, err = rows.Columns(); err != nil {
		r.Close()
		return nil, &PostgresReaderError{Op: "columns", Err: err}
	}
	if r.columnTypes, err = rows.ColumnTypes(); err != nil {
		r.Close()
		return nil, &PostgresReaderError{Op: "column_types", Err: err}
	}
	r.values = make([]interface{}, len(r.columnNames))
	r.scanBuffer = make([]interface{}, len(r.columnNames))
	for i := range r.scanBuffer {
		r.scanBuffer[i] = &r.values[i]
	}
	return r, nil
}

func (opts *PostgresReaderOptions) withDefaults() *PostgresReaderOptions {
	result := &PostgresReaderOptions{}
	if opts != nil {
		*result = *opts
	}
	if result.QueryTimeout <= 0 {
		result.QueryTimeout = 30 * time.Second
	}
	return result
}

// Read implements the core.DataSource interface.
func (p *PostgresReader) Read(ctx context.Context) (core.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	defer func() {
		p.stats.ReadDuration += time.Since(start)
		p.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return nil, &PostgresReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if p.finished || p.rows == nil {
		return nil, io.EOF
	}
	if !p.rows.Next() {
		if err := p.rows.Err(); err != nil {
			return nil, &PostgresReaderError{Op: "read", Err: err}
		}
		p.finished = true
		return nil, io.EOF
	}
	if err := p.rows.Scan(p.scanBuffer...); err != nil {
		return nil, &PostgresReaderError{Op: "scan", Err: err}
	}

	record := make(core.Record, len(p.columnNames))
	for i, name := range p.columnNames {
		if p.values[i] == nil {
			p.stats.NullValueCounts[name]++
			record[name] = nil
			continue
		}
		record[name] = convertSQLValue(p.values[i], p.columnTypes[i])
	}
	p.stats.RecordsRead++
	return record, nil
}

// Close releases the result set. The database handle stays open.
func (p *PostgresReader) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.rows != nil {
		err = p.rows.Close()
		p.rows = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if err != nil {
		return &PostgresReaderError{Op: "close", Err: err}
	}
	return nil
}

// Stats returns a copy of the reader statistics.
func (p *PostgresReader) Stats() PostgresReaderStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stats
	out.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		out.NullValueCounts[k] = v
	}
	return out
}

// Schema maps each result column to its database type name.
func (p *PostgresReader) Schema() map[string]string {
	schema := make(map[string]string, len(p.columnNames))
	for i, name := range p.columnNames {
		if i < len(p.columnTypes) {
			schema[name] = p.columnTypes[i].DatabaseTypeName()
		}
	}
	return schema
}

// ReadAll drains a DataSource into memory and closes it.
func ReadAll(ctx context.Context, src core.DataSource) ([]core.Record, error) {
	defer src.Close()
	var out []core.Record
	for {
		rec, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func convertSQLValue(value interface{}, colType *sql.ColumnType) interface{} {
	if b, ok := value.([]byte); ok {
		switch colType.DatabaseTypeName() {
		case "BYTEA":
			return b
		default:
			return string(b)
		}
	}

	switch v := value.(type) {
	case time.Time, bool, int64, float64, string:
		return v
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
			return rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(rv.Uint())
		case reflect.Float32:
			return rv.Float()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
}
